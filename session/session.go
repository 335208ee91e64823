// Package session is the conductor of component H: it bridges the
// asynchronous request surface (rpcserver, replconsole) to the synchronous
// debug-event loop worker of component G, and owns the registry of
// concurrently running sessions (§8 S6).
package session

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jetsetilly/watdbg/breakpoint"
	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/eventloop"
	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/winproc"
)

// defaultRunTimeout bounds how long run() waits for the initial-breakpoint
// latch before returning the current state anyway, per §4.H.
const defaultRunTimeout = 5 * time.Second

// Info is the external, read-only view of one session: what list_sessions
// (SPEC_FULL.md §4) and every per-call state report are built from.
type Info struct {
	ID       string
	ExePath  string
	Snapshot eventloop.Snapshot
}

var nextID int64

func allocID() string {
	return fmt.Sprintf("s%d", atomic.AddInt64(&nextID, 1))
}

// entry is one conductor-managed session: its worker plus the bookkeeping
// needed to answer list_sessions without asking the worker.
type entry struct {
	id         string
	exePath    string
	sourceDirs []string
	worker     *eventloop.Worker
}

// Conductor owns every live session in the process. Its own map is guarded
// by a mutex since sessions are created and closed from request-handling
// goroutines that are not otherwise serialized; everything past creation is
// delegated to each session's single worker goroutine, per §5.
type Conductor struct {
	newController func() winproc.Controller

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewConductor creates an empty conductor. Each session it creates gets its
// own process controller via winproc.NewController.
func NewConductor() *Conductor {
	return &Conductor{
		newController: winproc.NewController,
		sessions:      make(map[string]*entry),
	}
}

// Create spawns a new session's worker and debuggee and registers the main
// image. It returns as soon as the worker has done that -- it does not wait
// for entry, per §4.H's create contract. sourceDirs is accepted for the
// JSON-RPC surface's benefit (a client-supplied search list for
// get_source) but is not otherwise consulted by the core, which always
// resolves source paths straight from the line index.
func (c *Conductor) Create(exePath string, sourceDirs []string) (string, error) {
	w, err := eventloop.New(c.newController(), exePath)
	if err != nil {
		return "", err
	}

	go w.Run()

	id := allocID()
	c.mu.Lock()
	c.sessions[id] = &entry{id: id, exePath: exePath, sourceDirs: sourceDirs, worker: w}
	c.mu.Unlock()

	logger.Logf(logger.Allow, "session", "created %s for %s", id, exePath)

	return id, nil
}

func (c *Conductor) get(id string) (*entry, error) {
	c.mu.RLock()
	e, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return nil, errkind.New(errkind.InvalidSession, "no such session %q", id)
	}
	return e, nil
}

// Run instructs the worker to start the debuggee and waits, up to timeout,
// for the initial-breakpoint latch. A zero timeout uses defaultRunTimeout.
// It never auto-continues past entry: on expiry it simply returns whatever
// state the worker has reached.
func (c *Conductor) Run(id string, timeout time.Duration) (eventloop.Snapshot, error) {
	e, err := c.get(id)
	if err != nil {
		return eventloop.Snapshot{}, err
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdRun})
	if res.Err != nil {
		return res.Snapshot, res.Err
	}

	select {
	case <-e.worker.EntryReached():
	case <-time.After(timeout):
	}

	return e.worker.Snapshot(), nil
}

// Continue resumes a stopped session.
func (c *Conductor) Continue(id string, disp winproc.Disposition) (eventloop.Snapshot, error) {
	e, err := c.get(id)
	if err != nil {
		return eventloop.Snapshot{}, err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdContinue, Disposition: disp})
	return res.Snapshot, res.Err
}

// Step single-steps a stopped session.
func (c *Conductor) Step(id string) (eventloop.Snapshot, error) {
	e, err := c.get(id)
	if err != nil {
		return eventloop.Snapshot{}, err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdStep})
	return res.Snapshot, res.Err
}

// SetBreakpointAddress plants (or queues) a breakpoint at an absolute
// address.
func (c *Conductor) SetBreakpointAddress(id string, addr uint64) (*breakpoint.Breakpoint, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdSetBreakpointAddress, Address: addr})
	return res.Breakpoint, res.Err
}

// SetBreakpointLine plants (or queues) a breakpoint at path:line.
func (c *Conductor) SetBreakpointLine(id, path string, line int) (*breakpoint.Breakpoint, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdSetBreakpointLine, Path: path, Line: line})
	return res.Breakpoint, res.Err
}

// RemoveBreakpoint removes a breakpoint by id, restoring its original byte
// if it was active.
func (c *Conductor) RemoveBreakpoint(id string, bpID int) error {
	e, err := c.get(id)
	if err != nil {
		return err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdRemoveBreakpoint, ID: bpID})
	return res.Err
}

// SetBreakpointEnabled flips a breakpoint's enabled flag (SPEC_FULL.md §4's
// enable_breakpoint/disable_breakpoint supplement).
func (c *Conductor) SetBreakpointEnabled(id string, bpID int, enabled bool) error {
	e, err := c.get(id)
	if err != nil {
		return err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdSetBreakpointEnabled, ID: bpID, Enabled: enabled})
	return res.Err
}

// ListBreakpoints returns every breakpoint registered in a session, ordered
// by id.
func (c *Conductor) ListBreakpoints(id string) ([]breakpoint.Breakpoint, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdListBreakpoints})
	return res.Breakpoints, res.Err
}

// ListModules returns every module currently loaded in a session's
// debuggee, executable first, in load order.
func (c *Conductor) ListModules(id string) ([]eventloop.ModuleInfo, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdListModules})
	return res.Modules, res.Err
}

// GetRegisters returns the stopped thread's register file.
func (c *Conductor) GetRegisters(id string) (winproc.Registers, error) {
	e, err := c.get(id)
	if err != nil {
		return winproc.Registers{}, err
	}
	res := e.worker.Submit(&eventloop.Command{Kind: eventloop.CmdGetRegisters})
	return res.Registers, res.Err
}

// SourceDirs returns the source-directory search list a session was created
// with, for get_source's fallback resolution when a path does not exist as
// given.
func (c *Conductor) SourceDirs(id string) ([]string, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}
	return e.sourceDirs, nil
}

// Snapshot returns a session's current state without going through the
// command channel -- safe even while the worker is mid-wait.
func (c *Conductor) Snapshot(id string) (eventloop.Snapshot, error) {
	e, err := c.get(id)
	if err != nil {
		return eventloop.Snapshot{}, err
	}
	return e.worker.Snapshot(), nil
}

// Close asks a session's worker to remove its breakpoints, terminate its
// debuggee and exit, then forgets the session. It is idempotent: closing an
// unknown or already-closed id is not an error.
//
// RequestClose, not a CmdClose sent through Submit, is what actually reaches
// a worker here: per §5, close is a cancellation signal the worker honors at
// its next event-wait return or command dequeue, and while the debuggee is
// freely Running the worker is blocked in WaitEvent, not reading cmdCh --
// routing through the command channel would leave Submit waiting on a reply
// that never comes.
func (c *Conductor) Close(id string) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	e.worker.RequestClose()
	<-e.worker.Done()
	logger.Logf(logger.Allow, "session", "closed %s", id)
	return nil
}

// List returns every live session, ordered by id, for the list_sessions
// supplement (SPEC_FULL.md §4).
func (c *Conductor) List() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Info, 0, len(c.sessions))
	for _, e := range c.sessions {
		out = append(out, Info{ID: e.id, ExePath: e.exePath, Snapshot: e.worker.Snapshot()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
