//go:build windows

package winproc

import (
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/logger"
)

// The functions below are not exposed by golang.org/x/sys/windows, which
// covers the general Win32 surface but not the debug API specifically.
// They are resolved by name against kernel32.dll the same way the rest of
// x/sys/windows resolves its own procs.
var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procWaitForDebugEvent         = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent        = modkernel32.NewProc("ContinueDebugEvent")
	procReadProcessMemory         = modkernel32.NewProc("ReadProcessMemory")
	procWriteProcessMemory        = modkernel32.NewProc("WriteProcessMemory")
	procGetThreadContext          = modkernel32.NewProc("GetThreadContext")
	procSetThreadContext          = modkernel32.NewProc("SetThreadContext")
	procOpenThread                = modkernel32.NewProc("OpenThread")
	procFlushInstructionCache     = modkernel32.NewProc("FlushInstructionCache")
	procGetFinalPathNameByHandleW = modkernel32.NewProc("GetFinalPathNameByHandleW")
)

const (
	debugOnlyThisProcess = 0x00000002

	infinite = 0xFFFFFFFF

	// debug event codes, as reported in DEBUG_EVENT.dwDebugEventCode
	exceptionDebugEvent     = 1
	createThreadDebugEvent  = 2
	createProcessDebugEvent = 3
	exitThreadDebugEvent    = 4
	exitProcessDebugEvent   = 5
	loadDllDebugEvent       = 6
	unloadDllDebugEvent     = 7

	exceptionBreakpoint    = 0x80000003
	exceptionSingleStep    = 0x80000004
	dbgContinue            = 0x00010002
	dbgExceptionNotHandled = 0x80010001

	// CONTEXT flags for a 32bit thread context: full register set.
	contextI386        = 0x00010000
	contextControl     = contextI386 | 0x00000001
	contextInteger     = contextI386 | 0x00000002
	contextSegments    = contextI386 | 0x00000004
	contextFullContext = contextControl | contextInteger | contextSegments

	threadAllAccess = 0x001F03FF
)

// context32 mirrors the x86 CONTEXT structure (WinNT.h), trimmed to the
// fields this debugger cares about but kept at the correct offsets so that
// GetThreadContext/SetThreadContext see a layout they recognise.
type context32 struct {
	ContextFlags uint32

	// debug registers, unused by this debugger but present in the real
	// struct layout
	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7 uint32

	FloatSave [112]byte

	SegGs, SegFs, SegEs, SegDs uint32

	Edi, Esi, Ebx, Edx, Ecx, Eax uint32

	Ebp uint32
	Eip uint32
	SegCs uint32
	EFlags uint32
	Esp uint32
	SegSs uint32

	ExtendedRegisters [512]byte
}

// debugEvent mirrors DEBUG_EVENT: a fixed header followed by the largest
// member of the union (LOAD_DLL_DEBUG_INFO / EXCEPTION_DEBUG_INFO / etc),
// read out field by field according to dwDebugEventCode.
type debugEvent struct {
	DebugEventCode uint32
	ProcessID      uint32
	ThreadID       uint32
	union          [160]byte
}

type windowsController struct {
	mainThreadID uint32
	lastEvent    debugEvent
	threads      map[uint32]windows.Handle
}

// NewController returns the Windows debug API backed Controller.
func NewController() Controller {
	return &windowsController{threads: make(map[uint32]windows.Handle)}
}

func (c *windowsController) Start(exePath string) (uint32, error) {
	var si windows.StartupInfo
	var pi windows.ProcessInformation

	pathPtr, err := windows.UTF16PtrFromString(exePath)
	if err != nil {
		return 0, errkind.New(errkind.InvalidSession, "invalid executable path %q: %v", exePath, err)
	}

	err = windows.CreateProcess(
		pathPtr,
		nil,
		nil,
		nil,
		false,
		debugOnlyThisProcess,
		nil,
		nil,
		&si,
		&pi,
	)
	if err != nil {
		return 0, errkind.New(errkind.ProcessLost, "failed to start %q under the debugger: %v", exePath, err)
	}

	c.mainThreadID = pi.ThreadId
	c.threads[pi.ThreadId] = pi.Thread

	logger.Logf(logger.Allow, "winproc", "started %s as pid %d, main thread %d", exePath, pi.ProcessId, pi.ThreadId)

	return pi.ProcessId, nil
}

func (c *windowsController) WaitEvent(timeout time.Duration) (DebugEvent, bool, error) {
	ms := uint32(timeout.Milliseconds())
	if ms == 0 {
		ms = infinite
	}

	r1, _, _ := procWaitForDebugEvent.Call(
		uintptr(unsafe.Pointer(&c.lastEvent)),
		uintptr(ms),
	)
	if r1 == 0 {
		// timing out is not an error; WAIT_TIMEOUT is the expected reason
		// WaitForDebugEvent returns FALSE on an idle wait
		return DebugEvent{}, false, nil
	}

	ev := DebugEvent{
		ProcessID: c.lastEvent.ProcessID,
		ThreadID:  c.lastEvent.ThreadID,
	}

	switch c.lastEvent.DebugEventCode {
	case createProcessDebugEvent:
		// CREATE_PROCESS_DEBUG_INFO: hFile, hProcess, hThread, lpBaseOfImage, ...
		ev.Kind = EventProcessCreated
		hFile := *(*uintptr)(unsafe.Pointer(&c.lastEvent.union[0]))
		base := *(*uint32)(unsafe.Pointer(&c.lastEvent.union[12]))
		ev.ModuleBase = uint64(base)
		ev.ModulePath = pathFromFileHandle(hFile)
	case loadDllDebugEvent:
		// LOAD_DLL_DEBUG_INFO: hFile, lpBaseOfDll, dwDebugInfoFileOffset, ...
		ev.Kind = EventModuleLoaded
		hFile := *(*uintptr)(unsafe.Pointer(&c.lastEvent.union[0]))
		base := *(*uint32)(unsafe.Pointer(&c.lastEvent.union[4]))
		ev.ModuleBase = uint64(base)
		ev.ModulePath = pathFromFileHandle(hFile)
	case unloadDllDebugEvent:
		// UNLOAD_DLL_DEBUG_INFO: lpBaseOfDll only.
		ev.Kind = EventModuleUnloaded
		base := *(*uint32)(unsafe.Pointer(&c.lastEvent.union[0]))
		ev.ModuleBase = uint64(base)
	case createThreadDebugEvent:
		ev.Kind = EventThreadCreated
	case exitThreadDebugEvent:
		ev.Kind = EventThreadExited
	case exitProcessDebugEvent:
		ev.Kind = EventProcessExited
		ev.ExitCode = *(*uint32)(unsafe.Pointer(&c.lastEvent.union[0]))
	case exceptionDebugEvent:
		// EXCEPTION_DEBUG_INFO: an 80 byte EXCEPTION_RECORD (ExceptionCode,
		// ExceptionFlags, ExceptionRecord, ExceptionAddress, ...) followed by
		// dwFirstChance.
		code := *(*uint32)(unsafe.Pointer(&c.lastEvent.union[0]))
		firstChance := *(*uint32)(unsafe.Pointer(&c.lastEvent.union[80])) != 0
		addr := *(*uint32)(unsafe.Pointer(&c.lastEvent.union[12]))
		ev.ExceptionFirstChance = firstChance
		ev.Address = uint64(addr)
		switch code {
		case exceptionBreakpoint:
			ev.Kind = EventBreakpoint
		case exceptionSingleStep:
			ev.Kind = EventSingleStep
		default:
			ev.Kind = EventException
		}
	default:
		ev.Kind = EventException
	}

	return ev, true, nil
}

// pathFromFileHandle resolves a module's full path from the file handle the
// OS hands back in CREATE_PROCESS_DEBUG_INFO/LOAD_DLL_DEBUG_INFO, rather than
// chasing the lpImageName pointer -- which lives in the debuggee's address
// space and is frequently null anyway. A handle this cannot resolve leaves
// the module without a path, and therefore without a line index; that is
// recovered the same way any other NoDebugInfo condition is.
func pathFromFileHandle(h uintptr) string {
	if h == 0 {
		return ""
	}

	buf := make([]uint16, windows.MAX_PATH)
	r1, _, _ := procGetFinalPathNameByHandleW.Call(
		h,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0,
	)
	if r1 == 0 || int(r1) >= len(buf) {
		return ""
	}

	path := windows.UTF16ToString(buf[:r1])
	// GetFinalPathNameByHandleW returns an extended-length \\?\ prefixed
	// path; strip it so callers (pescan, the module registry) see an
	// ordinary path they can pass straight to os.ReadFile.
	const extendedPrefix = `\\?\`
	if len(path) > len(extendedPrefix) && path[:len(extendedPrefix)] == extendedPrefix {
		path = path[len(extendedPrefix):]
	}
	return path
}

func (c *windowsController) Continue(pid, tid uint32, disp Disposition) error {
	status := uint32(dbgContinue)
	if disp == Unhandled {
		status = dbgExceptionNotHandled
	}

	r1, _, err := procContinueDebugEvent.Call(uintptr(pid), uintptr(tid), uintptr(status))
	if r1 == 0 {
		return errkind.New(errkind.ProcessLost, "ContinueDebugEvent failed: %v", err)
	}
	return nil
}

func (c *windowsController) ReadMemory(pid uint32, addr uint64, size int) ([]byte, error) {
	h, err := c.processHandle(pid)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(h)

	buf := make([]byte, size)
	var read uintptr

	r1, _, lerr := procReadProcessMemory.Call(
		uintptr(h),
		uintptr(addr),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(size),
		uintptr(unsafe.Pointer(&read)),
	)
	if r1 == 0 {
		return nil, errkind.New(errkind.ProcessLost, "ReadProcessMemory at 0x%x failed: %v", addr, lerr)
	}

	return buf[:read], nil
}

func (c *windowsController) WriteMemory(pid uint32, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	h, err := c.processHandle(pid)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	var written uintptr
	r1, _, lerr := procWriteProcessMemory.Call(
		uintptr(h),
		uintptr(addr),
		uintptr(unsafe.Pointer(&data[0])),
		uintptr(len(data)),
		uintptr(unsafe.Pointer(&written)),
	)
	if r1 == 0 || int(written) != len(data) {
		return errkind.New(errkind.BreakpointPlantFailed, "WriteProcessMemory at 0x%x failed: %v", addr, lerr)
	}

	procFlushInstructionCache.Call(uintptr(h), uintptr(addr), uintptr(len(data)))

	return nil
}

func (c *windowsController) threadHandle(tid uint32) (windows.Handle, error) {
	if h, ok := c.threads[tid]; ok {
		return h, nil
	}

	r1, _, lerr := procOpenThread.Call(uintptr(threadAllAccess), 0, uintptr(tid))
	if r1 == 0 {
		return 0, errkind.New(errkind.ProcessLost, "OpenThread(%d) failed: %v", tid, lerr)
	}

	h := windows.Handle(r1)
	c.threads[tid] = h
	return h, nil
}

func (c *windowsController) processHandle(pid uint32) (windows.Handle, error) {
	h, err := windows.OpenProcess(windows.PROCESS_VM_READ|windows.PROCESS_VM_WRITE|windows.PROCESS_VM_OPERATION, false, pid)
	if err != nil {
		return 0, errkind.New(errkind.ProcessLost, "OpenProcess(%d) failed: %v", pid, err)
	}
	return h, nil
}

func (c *windowsController) GetThreadContext(tid uint32) (Registers, error) {
	h, err := c.threadHandle(tid)
	if err != nil {
		return Registers{}, err
	}

	var ctx context32
	ctx.ContextFlags = contextFullContext

	r1, _, lerr := procGetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&ctx)))
	if r1 == 0 {
		return Registers{}, errkind.New(errkind.ProcessLost, "GetThreadContext(%d) failed: %v", tid, lerr)
	}

	return Registers{
		EAX: ctx.Eax, EBX: ctx.Ebx, ECX: ctx.Ecx, EDX: ctx.Edx,
		ESI: ctx.Esi, EDI: ctx.Edi,
		EBP: ctx.Ebp, ESP: ctx.Esp,
		EIP:    ctx.Eip,
		EFlags: ctx.EFlags,
	}, nil
}

func (c *windowsController) SetThreadContext(tid uint32, regs Registers) error {
	h, err := c.threadHandle(tid)
	if err != nil {
		return err
	}

	var ctx context32
	ctx.ContextFlags = contextFullContext

	if r1, _, lerr := procGetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&ctx))); r1 == 0 {
		return errkind.New(errkind.ProcessLost, "GetThreadContext(%d) failed: %v", tid, lerr)
	}

	ctx.Eax, ctx.Ebx, ctx.Ecx, ctx.Edx = regs.EAX, regs.EBX, regs.ECX, regs.EDX
	ctx.Esi, ctx.Edi = regs.ESI, regs.EDI
	ctx.Ebp, ctx.Esp = regs.EBP, regs.ESP
	ctx.Eip = regs.EIP
	ctx.EFlags = regs.EFlags

	r1, _, lerr := procSetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&ctx)))
	if r1 == 0 {
		return errkind.New(errkind.ProcessLost, "SetThreadContext(%d) failed: %v", tid, lerr)
	}
	return nil
}

func (c *windowsController) SetSingleStep(tid uint32, on bool) error {
	regs, err := c.GetThreadContext(tid)
	if err != nil {
		return err
	}
	return c.SetThreadContext(tid, regs.WithSingleStep(on))
}

func (c *windowsController) Terminate(pid uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, pid)
	if err != nil {
		return errkind.New(errkind.ProcessLost, "OpenProcess(%d) for termination failed: %v", pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.TerminateProcess(h, 1); err != nil {
		return errkind.New(errkind.ProcessLost, "TerminateProcess(%d) failed: %v", pid, err)
	}
	return nil
}

func (c *windowsController) Close() error {
	for _, h := range c.threads {
		windows.CloseHandle(h)
	}
	return nil
}
