// Package errkind gives the debugger's curated errors a first-class,
// switchable identity so that the JSON-RPC front end can report a machine
// readable error kind instead of leaking a raw OS error code to a client.
package errkind

import (
	"github.com/jetsetilly/watdbg/curated"
)

// Kind identifies the broad category of a debugger error. Clients branch on
// Kind rather than parsing the message text.
type Kind int

// The error kinds a debug session can report.
const (
	NoDebugInfo Kind = iota
	MalformedDwarf
	BreakpointPlantFailed
	UnresolvedLocation
	InvalidSession
	InvalidBreakpointId
	ProcessLost
	Timeout
)

func (k Kind) String() string {
	switch k {
	case NoDebugInfo:
		return "no_debug_info"
	case MalformedDwarf:
		return "malformed_dwarf"
	case BreakpointPlantFailed:
		return "breakpoint_plant_failed"
	case UnresolvedLocation:
		return "unresolved_location"
	case InvalidSession:
		return "invalid_session"
	case InvalidBreakpointId:
		return "invalid_breakpoint_id"
	case ProcessLost:
		return "process_lost"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// kinded wraps a curated error with a Kind. It is deliberately unexported:
// callers interact with it through New and As only.
type kinded struct {
	kind Kind
	err  error
}

func (k kinded) Error() string {
	return k.err.Error()
}

func (k kinded) Unwrap() error {
	return k.err
}

// New creates an error of the given kind. The pattern and values are passed
// to curated.Errorf to build the underlying message, so Is/Has continue to
// work against the pattern as usual.
func New(kind Kind, pattern string, values ...interface{}) error {
	return kinded{
		kind: kind,
		err:  curated.Errorf(pattern, values...),
	}
}

// Wrap attaches kind to an existing error without altering its message.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return kinded{kind: kind, err: err}
}

// As recovers the Kind attached to err, if any. It reports false for any
// error that was not produced by New or Wrap, including plain curated errors
// and stdlib errors.
func As(err error) (Kind, bool) {
	for err != nil {
		if k, ok := err.(kinded); ok {
			return k.kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}
