package eventloop

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jetsetilly/watdbg/breakpoint"
	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/module"
	"github.com/jetsetilly/watdbg/pescan"
	"github.com/jetsetilly/watdbg/watdwarf"
	"github.com/jetsetilly/watdbg/winproc"
)

// pollInterval bounds how long WaitEvent blocks per iteration while a
// worker is Running. Polling is not an error (§4.F); it exists only so the
// worker notices a pending Close without depending on the debuggee
// producing another event.
const pollInterval = 50 * time.Millisecond

// Worker is the debug-event loop of one session: the single goroutine that
// owns a debuggee's process controller, module registry and breakpoint
// manager from creation until termination. Every field below is touched
// only by the goroutine running Run -- the single-writer invariant of §3 is
// enforced by construction, not by locking.
type Worker struct {
	proc winproc.Controller
	pid  uint32

	registry *module.Registry
	bpmgr    *breakpoint.Manager

	cmdCh   chan *Command
	closeCh chan struct{}
	doneCh  chan struct{}

	snapshot atomic.Value // Snapshot

	entryCh       chan struct{}
	entryReported bool

	// mainThreadID is the last thread to produce a debug event; registers
	// and single-step operate on it, mirroring the Windows debug API's own
	// single-threaded-event-at-a-time model.
	mainThreadID uint32
	entryAddr    uint64

	// pendingContinue is set once after Start/WaitEvent has already
	// consumed the initial CREATE_PROCESS event but before CmdRun has told
	// the worker it may resume the debuggee. Per §4.H, create() must not
	// run anything; run() is what lets the first Continue happen.
	pendingContinue bool
	pendingDisp     winproc.Disposition

	// pendingRearm is the breakpoint a single-step was issued to re-arm,
	// as opposed to one the user explicitly requested with CmdStep. Only
	// one of pendingRearm / userStepRequested is ever set at a time.
	pendingRearm      *breakpoint.Breakpoint
	userStepRequested bool

	// lastHitID is the id of the breakpoint last reported Stopped with
	// ReasonBreakpoint, so a following CmdContinue knows which record to
	// re-arm.
	lastHitID int

	exited   bool
	tornDown bool

	// writerGoroutine records the id of the goroutine first observed
	// mutating this worker's published state, for the statecheck build
	// tag's single-writer guard (SPEC_FULL.md §2.4). Zero until first use.
	writerGoroutine uint64
}

// New spawns exePath under the process controller and processes its initial
// CREATE_PROCESS debug event synchronously, registering the main image in
// the module registry. It returns before the debuggee has executed any
// instruction: the returned Worker is Created, and nothing continues past
// the pending event until a CmdRun command arrives on its command channel.
func New(proc winproc.Controller, exePath string) (*Worker, error) {
	pid, err := proc.Start(exePath)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		proc:     proc,
		pid:      pid,
		registry: module.NewRegistry(),
		bpmgr:    breakpoint.NewManager(proc, pid),
		cmdCh:    make(chan *Command, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		entryCh:  make(chan struct{}),
	}
	w.publish(Snapshot{State: Created})

	ev, ok, err := proc.WaitEvent(5 * time.Second)
	if err != nil {
		return nil, errkind.Wrap(errkind.ProcessLost, err)
	}
	if !ok || ev.Kind != winproc.EventProcessCreated {
		return nil, errkind.New(errkind.ProcessLost, "expected an initial process-created event from %q, got none", exePath)
	}

	w.mainThreadID = ev.ThreadID
	mod := loadModuleInfo(fmt.Sprintf("%s@0x%x", filepath.Base(exePath), ev.ModuleBase), ev.ModulePath, ev.ModuleBase)
	if mod.Path == "" {
		mod.Path = exePath
	}
	if mod.Size == 0 && ev.ModuleSize != 0 {
		mod.Size = ev.ModuleSize
	}
	w.registry.Add(mod)

	w.pendingContinue = true
	w.pendingDisp = winproc.Handled

	logger.Logf(logger.Allow, "eventloop", "session for %s created, pid %d, main module at 0x%x", exePath, pid, ev.ModuleBase)

	return w, nil
}

// Submit enqueues a command and blocks for its reply. It is the only way
// any other goroutine touches a Worker.
func (w *Worker) Submit(cmd *Command) Result {
	cmd.Reply = make(chan Result, 1)
	select {
	case w.cmdCh <- cmd:
	case <-w.doneCh:
		return Result{Snapshot: w.Snapshot(), Err: errkind.New(errkind.InvalidSession, "session is closed")}
	}
	return <-cmd.Reply
}

// Snapshot returns the most recently published DebuggerState. Safe to call
// from any goroutine.
func (w *Worker) Snapshot() Snapshot {
	if s, ok := w.snapshot.Load().(Snapshot); ok {
		return s
	}
	return Snapshot{}
}

// EntryReached returns a channel that is closed exactly once, the first
// time the session stops with ReasonEntry. Conductor.Run selects on it
// against a timeout.
func (w *Worker) EntryReached() <-chan struct{} {
	return w.entryCh
}

// RequestClose asks the worker to exit at its next event-wait return or
// command dequeue (§5). It is safe to call more than once.
func (w *Worker) RequestClose() {
	select {
	case <-w.closeCh:
	default:
		close(w.closeCh)
	}
}

// Done is closed once the worker's Run loop has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

func (w *Worker) publish(s Snapshot) {
	w.snapshot.Store(s)
}

// Run drives the debug-event loop until RequestClose. Once the debuggee has
// exited or been lost it keeps answering commands until that request
// arrives. It must be called exactly once, from the goroutine that owns this
// Worker for its lifetime.
func (w *Worker) Run() {
	defer close(w.doneCh)
	defer w.proc.Close()

	state := Created

	for {
		select {
		case <-w.closeCh:
			w.teardown()
			return
		default:
		}

		if w.exited {
			select {
			case <-w.closeCh:
				w.teardown()
				return
			case cmd := <-w.cmdCh:
				w.handleCommand(cmd)
			}
			continue
		}

		switch state {
		case Running:
			ev, ok, err := w.proc.WaitEvent(pollInterval)
			if err != nil {
				w.crash(err)
				state = Crashed
				continue
			}
			if !ok {
				continue
			}
			state = w.handleEvent(ev)

		default:
			select {
			case <-w.closeCh:
				w.teardown()
				return
			case cmd := <-w.cmdCh:
				state = w.handleCommand(cmd)
			}
		}
	}
}

func (w *Worker) teardown() {
	if w.tornDown {
		return
	}
	w.tornDown = true

	_ = w.bpmgr.RemoveAll()
	if !w.exited {
		_ = w.proc.Terminate(w.pid)
	}
}

func (w *Worker) crash(err error) {
	logger.Logf(logger.Allow, "eventloop", "session lost: %v", err)
	w.publish(Snapshot{State: Crashed, Err: err})
}

// handleCommand processes one external command and returns the state the
// run loop should continue in.
func (w *Worker) handleCommand(cmd *Command) State {
	w.checkSingleWriter()
	cur := w.Snapshot()

	if cur.State == Crashed {
		reply(cmd.Reply, Result{Snapshot: cur, Err: errkind.New(errkind.InvalidSession, "session has crashed")})
		return Crashed
	}

	switch cmd.Kind {
	case CmdRun:
		if cur.State != Created {
			reply(cmd.Reply, Result{Snapshot: cur})
			return cur.State
		}
		if w.pendingContinue {
			if err := w.proc.Continue(w.pid, w.mainThreadID, w.pendingDisp); err != nil {
				w.crash(err)
				reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Err: err})
				return Crashed
			}
			w.pendingContinue = false
		}
		snap := Snapshot{State: Running}
		w.publish(snap)
		reply(cmd.Reply, Result{Snapshot: snap})
		return Running

	case CmdContinue:
		if cur.State != Stopped {
			reply(cmd.Reply, Result{Snapshot: cur, Err: errkind.New(errkind.InvalidSession, "continue requires a stopped session")})
			return cur.State
		}
		return w.doContinue(cur, cmd)

	case CmdStep:
		if cur.State != Stopped {
			reply(cmd.Reply, Result{Snapshot: cur, Err: errkind.New(errkind.InvalidSession, "step requires a stopped session")})
			return cur.State
		}
		return w.doStep(cmd)

	case CmdSetBreakpointAddress:
		bp := w.bpmgr.SetByAddress(w.registry, cmd.Address)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Breakpoint: bp})
		return cur.State

	case CmdSetBreakpointLine:
		bp := w.bpmgr.SetByLine(w.registry, cmd.Path, cmd.Line)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Breakpoint: bp})
		return cur.State

	case CmdRemoveBreakpoint:
		err := w.bpmgr.Remove(cmd.ID)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Err: err})
		return cur.State

	case CmdSetBreakpointEnabled:
		err := w.bpmgr.SetEnabled(w.registry, cmd.ID, cmd.Enabled)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Err: err})
		return cur.State

	case CmdListBreakpoints:
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Breakpoints: w.bpmgr.List()})
		return cur.State

	case CmdListModules:
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Modules: w.moduleInfos()})
		return cur.State

	case CmdGetRegisters:
		regs, err := w.proc.GetThreadContext(w.mainThreadID)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Registers: regs, Err: err})
		return cur.State

	default:
		reply(cmd.Reply, Result{Snapshot: cur, Err: errkind.New(errkind.InvalidSession, "unknown command")})
		return cur.State
	}
}

// doContinue implements the §4.E re-arm discipline: resuming past a
// breakpoint hit requires a single-step over the restored original
// instruction before the trap byte can go back in, so a plain continue
// first issues that step and only the *next* single-step event actually
// resumes free execution (see handleSingleStep).
func (w *Worker) doContinue(cur Snapshot, cmd *Command) State {
	if cur.StopReason == ReasonBreakpoint && w.pendingRearm == nil {
		if bp, ok := w.bpmgr.Get(w.lastHitID); ok && bp.Enabled {
			w.pendingRearm = bp
			if err := w.proc.SetSingleStep(w.mainThreadID, true); err != nil {
				w.crash(err)
				reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Err: err})
				return Crashed
			}
		}
	}

	disp := winproc.Handled
	if cur.StopReason == ReasonException {
		disp = cmd.Disposition
	}

	if err := w.proc.Continue(w.pid, cur.StopThreadID, disp); err != nil {
		w.crash(err)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Err: err})
		return Crashed
	}

	snap := Snapshot{State: Running}
	w.publish(snap)
	reply(cmd.Reply, Result{Snapshot: snap})
	return Running
}

func (w *Worker) doStep(cmd *Command) State {
	w.userStepRequested = true
	if err := w.proc.SetSingleStep(w.mainThreadID, true); err != nil {
		w.crash(err)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Err: err})
		return Crashed
	}
	if err := w.proc.Continue(w.pid, w.mainThreadID, winproc.Handled); err != nil {
		w.crash(err)
		reply(cmd.Reply, Result{Snapshot: w.Snapshot(), Err: err})
		return Crashed
	}

	snap := Snapshot{State: Running}
	w.publish(snap)
	reply(cmd.Reply, Result{Snapshot: snap})
	return Running
}

func (w *Worker) moduleInfos() []ModuleInfo {
	mods := w.registry.Iterate()
	out := make([]ModuleInfo, 0, len(mods))
	for _, m := range mods {
		out = append(out, ModuleInfo{
			ID:      m.ID,
			Path:    m.Path,
			Base:    m.Base,
			Size:    m.Size,
			HasInfo: m.Index != nil,
			Exports: m.Exports,
		})
	}
	return out
}

// loadModuleInfo builds a module.Module for a freshly loaded image: its PE
// size and export directory via pescan, and -- best effort, per the
// NoDebugInfo recovery policy -- its watdwarf line index.
func loadModuleInfo(id, path string, base uint64) *module.Module {
	mod := &module.Module{ID: id, Path: path, Base: base}
	if path == "" {
		return mod
	}

	if size, err := pescan.ImageSize(path); err == nil {
		mod.Size = uint64(size)
	} else {
		logger.Logf(logger.Allow, "eventloop", "%s: could not read image size: %v", path, err)
	}

	for _, e := range pescan.Exports(path) {
		mod.Exports = append(mod.Exports, module.Export{Name: e.Name, RVA: e.RVA})
	}

	container, err := pescan.Scan(path)
	if err != nil {
		logger.Logf(logger.Allow, "eventloop", "%s: no debug container: %v", path, err)
		return mod
	}

	dc, err := watdwarf.OpenContainer(container.Data)
	if err != nil {
		logger.Logf(logger.Allow, "eventloop", "%s: debug container did not parse: %v", path, err)
		return mod
	}

	idx, err := watdwarf.Build(dc)
	if err != nil {
		logger.Logf(logger.Allow, "eventloop", "%s: line index build failed: %v", path, err)
		return mod
	}

	mod.Index = idx
	return mod
}
