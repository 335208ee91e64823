// Package breakpoint plants, removes and re-arms software breakpoints in a
// debuggee's address space. A Manager is owned exclusively by a single
// session's debug-event loop worker, the only goroutine permitted to call
// the process controller; it carries no locking of its own.
package breakpoint

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/module"
	"github.com/jetsetilly/watdbg/winproc"
)

// State is a breakpoint's resolution state.
type State int

const (
	Pending State = iota
	Active
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Location is the location a breakpoint was requested at: either an
// absolute address, or a (path, line) pair to be resolved against a
// module's line index as modules load.
type Location struct {
	// Address is used when Path is empty.
	Address uint64

	Path string
	Line int
}

func (l Location) String() string {
	if l.Path != "" {
		return fmt.Sprintf("%s:%d", l.Path, l.Line)
	}
	return fmt.Sprintf("0x%x", l.Address)
}

func (l Location) byAddress() bool {
	return l.Path == ""
}

// Breakpoint is one requested breakpoint and its current state.
type Breakpoint struct {
	ID       int
	Location Location
	State    State
	Enabled  bool

	// ModuleID and PlantedAddr are set once the breakpoint is Active.
	ModuleID    string
	PlantedAddr uint64

	// OriginalByte is the instruction byte the planted 0xCC replaced.
	OriginalByte byte

	HitCount int

	// FailReason records why planting failed, for diagnostics.
	FailReason string
}

// breakInt3 is the x86 INT3 opcode used to trap execution at a breakpoint.
const breakInt3 = 0xCC

var nextID int64

// Manager tracks every breakpoint in a session and plants/removes them via a
// process controller as modules load and unload.
type Manager struct {
	proc    winproc.Controller
	pid     uint32
	records map[int]*Breakpoint
}

// NewManager creates an empty breakpoint manager bound to a running
// debuggee. pid is the OS process id the controller operates on.
func NewManager(proc winproc.Controller, pid uint32) *Manager {
	return &Manager{
		proc:    proc,
		pid:     pid,
		records: make(map[int]*Breakpoint),
	}
}

func allocID() int {
	return int(atomic.AddInt64(&nextID, 1))
}

// SetByAddress requests a breakpoint at an absolute address. If the address
// falls inside a known module it is planted immediately.
func (m *Manager) SetByAddress(reg *module.Registry, abs uint64) *Breakpoint {
	bp := &Breakpoint{
		ID:       allocID(),
		Location: Location{Address: abs},
		Enabled:  true,
	}
	m.records[bp.ID] = bp

	if mod, ok := reg.LookupByAddress(abs); ok {
		m.plant(bp, mod)
	} else {
		bp.State = Failed
		bp.FailReason = "address does not fall within any loaded module"
	}

	return bp
}

// SetByLine requests a breakpoint at a source location. If the location
// resolves against a loaded module's line index it is planted immediately;
// otherwise the breakpoint is left Pending until a matching module loads.
func (m *Manager) SetByLine(reg *module.Registry, path string, line int) *Breakpoint {
	bp := &Breakpoint{
		ID:       allocID(),
		Location: Location{Path: path, Line: line},
		Enabled:  true,
		State:    Pending,
	}
	m.records[bp.ID] = bp

	if abs, mod, ok := reg.ResolveLineToAddress(path, line); ok {
		bp.Location.Address = abs
		m.plant(bp, mod)
	}

	return bp
}

// plant writes 0xCC at bp's resolved address and marks it Active, or Failed
// if the write does not succeed. Planting is atomic per breakpoint: either
// the original byte is saved and the trap byte written, or the record is
// marked Failed with no partial state.
func (m *Manager) plant(bp *Breakpoint, mod *module.Module) {
	abs := bp.Location.Address

	orig, err := m.proc.ReadMemory(m.pid, abs, 1)
	if err != nil {
		bp.State = Failed
		bp.FailReason = err.Error()
		logger.Logf(logger.Allow, "breakpoint", "plant at 0x%x failed: %v", abs, err)
		return
	}

	if err := m.proc.WriteMemory(m.pid, abs, []byte{breakInt3}); err != nil {
		bp.State = Failed
		bp.FailReason = err.Error()
		logger.Logf(logger.Allow, "breakpoint", "plant at 0x%x failed: %v", abs, err)
		return
	}

	bp.ModuleID = mod.ID
	bp.PlantedAddr = abs
	bp.OriginalByte = orig[0]
	bp.State = Active
	bp.FailReason = ""
}

// restore writes bp's saved original byte back over the planted trap byte.
// Only valid while bp is Active.
func (m *Manager) restore(bp *Breakpoint) error {
	if bp.State != Active {
		return nil
	}
	return m.proc.WriteMemory(m.pid, bp.PlantedAddr, []byte{bp.OriginalByte})
}

// Remove restores the original byte, if the breakpoint is active, and
// deletes the record. It is idempotent: removing an unknown or
// already-removed id is not an error.
func (m *Manager) Remove(id int) error {
	bp, ok := m.records[id]
	if !ok {
		return nil
	}

	if err := m.restore(bp); err != nil {
		return errkind.Wrap(errkind.BreakpointPlantFailed, err)
	}

	delete(m.records, id)
	return nil
}

// RemoveAll restores every active breakpoint's original byte and clears the
// manager's records, best-effort: a restore failure on one breakpoint does
// not stop the rest from being attempted. Used by session close, where the
// debuggee's memory is about to go away regardless.
func (m *Manager) RemoveAll() error {
	var firstErr error
	for id := range m.records {
		if err := m.Remove(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetEnabled flips a breakpoint's enabled flag. A disabled breakpoint that
// is Active is restored to its original byte without losing its record;
// re-enabling replants it if it is still resolvable.
func (m *Manager) SetEnabled(reg *module.Registry, id int, enabled bool) error {
	bp, ok := m.records[id]
	if !ok {
		return errkind.New(errkind.InvalidBreakpointId, "no breakpoint with id %d", id)
	}
	if bp.Enabled == enabled {
		return nil
	}

	if !enabled {
		if err := m.restore(bp); err != nil {
			return errkind.Wrap(errkind.BreakpointPlantFailed, err)
		}
		bp.Enabled = false
		bp.State = Pending
		return nil
	}

	bp.Enabled = true
	if bp.Location.byAddress() {
		if mod, ok := reg.LookupByAddress(bp.Location.Address); ok {
			m.plant(bp, mod)
		} else {
			bp.State = Failed
			bp.FailReason = "address does not fall within any loaded module"
		}
	} else if abs, mod, ok := reg.ResolveLineToAddress(bp.Location.Path, bp.Location.Line); ok {
		bp.Location.Address = abs
		m.plant(bp, mod)
	}
	return nil
}

// List returns a snapshot of every breakpoint, ordered by id.
func (m *Manager) List() []Breakpoint {
	out := make([]Breakpoint, 0, len(m.records))
	for _, bp := range m.records {
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a single breakpoint by id.
func (m *Manager) Get(id int) (*Breakpoint, bool) {
	bp, ok := m.records[id]
	return bp, ok
}

// OnModuleLoaded attempts to resolve every Pending breakpoint against a
// newly loaded module, planting those that now resolve.
func (m *Manager) OnModuleLoaded(reg *module.Registry, mod *module.Module) {
	for _, bp := range m.records {
		if bp.State != Pending || !bp.Enabled {
			continue
		}

		if bp.Location.byAddress() {
			if mod.Contains(bp.Location.Address) {
				m.plant(bp, mod)
			}
			continue
		}

		if abs, resolved, ok := reg.ResolveLineToAddress(bp.Location.Path, bp.Location.Line); ok && resolved.ID == mod.ID {
			bp.Location.Address = abs
			m.plant(bp, mod)
		}
	}
}

// OnModuleUnloaded reverts every Active breakpoint owned by mod to Pending.
// Their planted state is irrelevant once the address range backing them no
// longer exists.
func (m *Manager) OnModuleUnloaded(moduleID string) {
	for _, bp := range m.records {
		if bp.State == Active && bp.ModuleID == moduleID {
			bp.State = Pending
			bp.ModuleID = ""
			bp.PlantedAddr = 0
			bp.OriginalByte = 0
		}
	}
}

// HitResult describes the outcome of OnBreakpointHit.
type HitResult struct {
	// Matched is false when addr does not correspond to any planted
	// breakpoint -- a spurious or externally raised INT3 the caller's
	// exception policy must handle.
	Matched bool

	Breakpoint *Breakpoint
}

// OnBreakpointHit looks up the breakpoint planted at addr, restores its
// original byte, and reports it so the event loop can decrement the
// faulting thread's instruction pointer and stop. The caller is responsible
// for driving the re-arm sequence: single-step past the restored
// instruction, then call Rearm.
func (m *Manager) OnBreakpointHit(addr uint64) HitResult {
	for _, bp := range m.records {
		if bp.State == Active && bp.PlantedAddr == addr {
			if err := m.restore(bp); err != nil {
				logger.Logf(logger.Allow, "breakpoint", "failed to restore original byte at 0x%x: %v", addr, err)
			}
			bp.HitCount++
			return HitResult{Matched: true, Breakpoint: bp}
		}
	}
	return HitResult{Matched: false}
}

// Rearm re-plants 0xCC at bp's address after the caller has single-stepped
// past the restored original instruction. It is a no-op if the breakpoint
// has since been disabled or removed.
func (m *Manager) Rearm(bp *Breakpoint) error {
	if _, ok := m.records[bp.ID]; !ok {
		return nil
	}
	if !bp.Enabled {
		return nil
	}

	if err := m.proc.WriteMemory(m.pid, bp.PlantedAddr, []byte{breakInt3}); err != nil {
		bp.State = Failed
		bp.FailReason = err.Error()
		return errkind.Wrap(errkind.BreakpointPlantFailed, err)
	}
	return nil
}
