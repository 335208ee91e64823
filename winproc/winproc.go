// Package winproc is the platform layer of the debugger: OS-level primitives
// for spawning a debuggee under the Windows debug API, reading and writing
// its memory, inspecting and mutating thread register context, and pumping
// debug events. Everything in this package is called exclusively from a
// session's debug-event loop worker.
package winproc

import (
	"time"

	"github.com/jetsetilly/watdbg/errkind"
)

// Disposition tells ContinueDebugEvent how to treat an exception: let the
// debuggee's own handler run ("unhandled"/pass-through) or suppress it
// ("handled").
type Disposition int

const (
	Handled Disposition = iota
	Unhandled
)

// EventKind classifies a debug event reported by the OS.
type EventKind int

const (
	EventProcessCreated EventKind = iota
	EventModuleLoaded
	EventModuleUnloaded
	EventThreadCreated
	EventThreadExited
	EventException
	EventBreakpoint
	EventSingleStep
	EventProcessExited
)

func (k EventKind) String() string {
	switch k {
	case EventProcessCreated:
		return "process_created"
	case EventModuleLoaded:
		return "module_loaded"
	case EventModuleUnloaded:
		return "module_unloaded"
	case EventThreadCreated:
		return "thread_created"
	case EventThreadExited:
		return "thread_exited"
	case EventException:
		return "exception"
	case EventBreakpoint:
		return "breakpoint"
	case EventSingleStep:
		return "single_step"
	case EventProcessExited:
		return "process_exited"
	default:
		return "unknown"
	}
}

// DebugEvent is a single OS debug event, normalized to the fields the
// event loop and its callers need. Fields not relevant to Kind are zero.
type DebugEvent struct {
	Kind EventKind

	ProcessID uint32
	ThreadID  uint32

	// Address is the OS-reported exception address for exception, breakpoint
	// and single-step events. For EventBreakpoint this is the planted INT3
	// byte's own address (Win32's EXCEPTION_RECORD.ExceptionAddress for
	// EXCEPTION_BREAKPOINT), not the thread's post-trap instruction pointer.
	Address uint64

	// ModulePath and ModuleBase describe a module-loaded event.
	ModulePath string
	ModuleBase uint64
	ModuleSize uint64

	// ExceptionFirstChance distinguishes a first-chance exception (the
	// debuggee hasn't seen it yet) from a second-chance one.
	ExceptionFirstChance bool

	// ExitCode is set for EventProcessExited.
	ExitCode uint32
}

// Registers is the x86 thread context the controller exposes. Only the
// general-purpose registers, instruction pointer, stack/frame pointers and
// flags are modeled; this is a 32bit-only debugger.
type Registers struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI           uint32
	EBP, ESP           uint32
	EIP                uint32
	EFlags             uint32
}

// trapFlag is bit 8 of EFLAGS, which the CPU checks after every instruction
// to raise a single-step exception.
const trapFlag = 1 << 8

// WithSingleStep returns a copy of r with the trap flag set or cleared.
func (r Registers) WithSingleStep(on bool) Registers {
	if on {
		r.EFlags |= trapFlag
	} else {
		r.EFlags &^= trapFlag
	}
	return r
}

// SingleStepping reports whether the trap flag is currently set.
func (r Registers) SingleStepping() bool {
	return r.EFlags&trapFlag != 0
}

// Controller is the platform-abstract interface the rest of the debugger
// programs against. The windows build provides a real implementation
// backed by golang.org/x/sys/windows; other platforms get a stub that fails
// every call except Close with errkind.ProcessLost, since there is nothing
// to debug.
type Controller interface {
	// Start spawns exePath with the debugger attached at creation and
	// returns its process id. The child is created suspended at its
	// initial system breakpoint, per the Windows debug API's own
	// contract -- no explicit suspend flag is needed.
	Start(exePath string) (pid uint32, err error)

	// WaitEvent blocks for the next debug event, up to timeout. ok is
	// false on a timeout, which is not an error.
	WaitEvent(timeout time.Duration) (ev DebugEvent, ok bool, err error)

	// Continue resumes the thread that produced the most recent event,
	// with the given exception disposition.
	Continue(pid, tid uint32, disp Disposition) error

	// ReadMemory and WriteMemory access the debuggee's address space.
	ReadMemory(pid uint32, addr uint64, size int) ([]byte, error)
	WriteMemory(pid uint32, addr uint64, data []byte) error

	// GetThreadContext and SetThreadContext inspect and mutate a thread's
	// register file.
	GetThreadContext(tid uint32) (Registers, error)
	SetThreadContext(tid uint32, regs Registers) error

	// SetSingleStep arms or disarms the trap flag on tid ahead of the next
	// Continue call.
	SetSingleStep(tid uint32, on bool) error

	// Terminate kills the debuggee outright, used by session close.
	Terminate(pid uint32) error

	// Close releases any OS handles the controller holds.
	Close() error
}

// errUnsupportedPlatform is returned by the non-windows stub controller; it
// carries errkind.ProcessLost so callers can branch on the kind without
// depending on build tags.
var errUnsupportedPlatform = errkind.New(errkind.ProcessLost, "winproc: the Windows debug API is not available on this platform")
