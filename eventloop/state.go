// Package eventloop is the debug-event loop of component G: a single
// worker, one per session, that owns a debuggee from creation to
// termination. It is the only goroutine that calls into winproc, and the
// only writer of the session's DebuggerState; every other package reaches
// the debuggee only by sending it a Command and reading back a Result.
package eventloop

import "fmt"

// State is the coarse lifecycle state of a debug session.
type State int

const (
	Created State = iota
	Running
	Stopped
	Exited
	Crashed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// StopReason records why the session is (or most recently was) Stopped.
type StopReason int

const (
	ReasonNone StopReason = iota
	ReasonEntry
	ReasonBreakpoint
	ReasonSingleStep
	ReasonException
	ReasonExited
)

func (r StopReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonEntry:
		return "entry"
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonSingleStep:
		return "single_step"
	case ReasonException:
		return "exception"
	case ReasonExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Snapshot is the published, atomically-replaced view of a session's
// DebuggerState (§3). External observers -- the session conductor, the
// JSON-RPC surface -- only ever see one of these; they never touch the
// worker's own fields directly.
type Snapshot struct {
	State State

	StopReason   StopReason
	StopThreadID uint32
	StopAddress  uint64

	// LastEventKind names the most recent OS debug event the worker
	// processed, including ones that did not cause a stop (module loads and
	// unloads auto-continue per §4.G's event table). It is diagnostic only
	// and is not part of the §3 DebuggerState the invariants are written
	// against.
	LastEventKind string

	ExitCode uint32

	// Err carries the reason a session moved to Crashed.
	Err error
}

func (s Snapshot) String() string {
	if s.StopReason == ReasonNone {
		return s.State.String()
	}
	return fmt.Sprintf("%s(%s @ 0x%x, thread %d)", s.State, s.StopReason, s.StopAddress, s.StopThreadID)
}
