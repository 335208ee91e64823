package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/jetsetilly/watdbg/test"
	"github.com/jetsetilly/watdbg/winproc"
)

// fakeController is a scripted winproc.Controller double: WaitEvent replays
// a fixed sequence of events, and every mutating call is recorded so tests
// can assert on the exact re-arm sequence §4.E and §4.G specify. The worker
// goroutine and the test goroutine both touch it, so every access goes
// through crit.
type fakeController struct {
	crit sync.Mutex

	queue []winproc.DebugEvent

	mem  map[uint64]byte
	regs map[uint32]winproc.Registers

	continues    []winproc.Disposition
	singleSteps  []bool
	terminated   bool
	closedCalled bool
}

func newFakeController() *fakeController {
	return &fakeController{
		mem:  make(map[uint64]byte),
		regs: make(map[uint32]winproc.Registers),
	}
}

func (f *fakeController) pushEvent(ev winproc.DebugEvent) {
	f.crit.Lock()
	defer f.crit.Unlock()
	f.queue = append(f.queue, ev)
}

func (f *fakeController) memByte(addr uint64) byte {
	f.crit.Lock()
	defer f.crit.Unlock()
	return f.mem[addr]
}

func (f *fakeController) setMemByte(addr uint64, b byte) {
	f.crit.Lock()
	defer f.crit.Unlock()
	f.mem[addr] = b
}

func (f *fakeController) stepCount() int {
	f.crit.Lock()
	defer f.crit.Unlock()
	return len(f.singleSteps)
}

func (f *fakeController) firstStep() bool {
	f.crit.Lock()
	defer f.crit.Unlock()
	return f.singleSteps[0]
}

func (f *fakeController) Start(exePath string) (uint32, error) { return 1, nil }

func (f *fakeController) WaitEvent(timeout time.Duration) (winproc.DebugEvent, bool, error) {
	f.crit.Lock()
	defer f.crit.Unlock()
	if len(f.queue) == 0 {
		return winproc.DebugEvent{}, false, nil
	}
	ev := f.queue[0]
	f.queue = f.queue[1:]
	return ev, true, nil
}

func (f *fakeController) Continue(pid, tid uint32, disp winproc.Disposition) error {
	f.crit.Lock()
	defer f.crit.Unlock()
	f.continues = append(f.continues, disp)
	return nil
}

func (f *fakeController) ReadMemory(pid uint32, addr uint64, size int) ([]byte, error) {
	f.crit.Lock()
	defer f.crit.Unlock()
	buf := make([]byte, size)
	for i := 0; i < size; i++ {
		buf[i] = f.mem[addr+uint64(i)]
	}
	return buf, nil
}

func (f *fakeController) WriteMemory(pid uint32, addr uint64, data []byte) error {
	f.crit.Lock()
	defer f.crit.Unlock()
	for i, b := range data {
		f.mem[addr+uint64(i)] = b
	}
	return nil
}

func (f *fakeController) GetThreadContext(tid uint32) (winproc.Registers, error) {
	f.crit.Lock()
	defer f.crit.Unlock()
	return f.regs[tid], nil
}

func (f *fakeController) SetThreadContext(tid uint32, regs winproc.Registers) error {
	f.crit.Lock()
	defer f.crit.Unlock()
	f.regs[tid] = regs
	return nil
}

func (f *fakeController) SetSingleStep(tid uint32, on bool) error {
	f.crit.Lock()
	defer f.crit.Unlock()
	f.singleSteps = append(f.singleSteps, on)
	r := f.regs[tid]
	f.regs[tid] = r.WithSingleStep(on)
	return nil
}

func (f *fakeController) Terminate(pid uint32) error {
	f.crit.Lock()
	defer f.crit.Unlock()
	f.terminated = true
	return nil
}

func (f *fakeController) Close() error {
	f.crit.Lock()
	defer f.crit.Unlock()
	f.closedCalled = true
	return nil
}

const (
	moduleBase = 0x400000
	moduleSize = 0x10000
	entryAddr  = 0x401000
	bpAddr     = 0x401010
)

func newScriptedWorker(t *testing.T) (*Worker, *fakeController) {
	t.Helper()

	f := newFakeController()
	f.queue = []winproc.DebugEvent{
		{Kind: winproc.EventProcessCreated, ThreadID: 1, ModuleBase: moduleBase, ModuleSize: moduleSize},
	}

	w, err := New(f, "fake.exe")
	test.ExpectSuccess(t, err)

	go w.Run()
	t.Cleanup(func() {
		w.RequestClose()
		<-w.Done()
	})

	return w, f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(time.Millisecond):
		}
	}
}

// TestStopAtEntry mirrors S1's opening beats: run() stops at the initial
// system breakpoint and never auto-continues past it.
func TestStopAtEntry(t *testing.T) {
	w, f := newScriptedWorker(t)

	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventBreakpoint, ThreadID: 1, Address: entryAddr})

	res := w.Submit(&Command{Kind: CmdRun})
	test.ExpectEquality(t, res.Snapshot.State, Running)

	select {
	case <-w.EntryReached():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}

	snap := w.Snapshot()
	test.ExpectEquality(t, snap.State, Stopped)
	test.ExpectEquality(t, snap.StopReason, ReasonEntry)
	test.ExpectEquality(t, snap.StopAddress, uint64(entryAddr))
}

// TestBreakpointHitAndRearm drives a full set/hit/continue/re-arm cycle and
// checks the original byte is restored on the hit, and that the trap byte is
// re-planted after the single-step so the breakpoint stays armed (§8
// property 4).
func TestBreakpointHitAndRearm(t *testing.T) {
	w, f := newScriptedWorker(t)
	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventBreakpoint, ThreadID: 1, Address: entryAddr})

	w.Submit(&Command{Kind: CmdRun})
	<-w.EntryReached()

	f.setMemByte(bpAddr, 0x55) // some arbitrary original instruction byte

	res := w.Submit(&Command{Kind: CmdSetBreakpointAddress, Address: bpAddr})
	test.ExpectSuccess(t, res.Err)
	test.ExpectEquality(t, f.memByte(bpAddr), byte(0xCC))

	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventBreakpoint, ThreadID: 1, Address: bpAddr})
	res = w.Submit(&Command{Kind: CmdContinue})
	test.ExpectSuccess(t, res.Err)

	waitFor(t, func() bool { return w.Snapshot().StopReason == ReasonBreakpoint }, "timed out waiting for breakpoint stop")

	snap := w.Snapshot()
	test.ExpectEquality(t, snap.StopAddress, uint64(bpAddr))
	test.ExpectEquality(t, f.memByte(bpAddr), byte(0x55)) // original byte restored on hit

	// continuing from the hit must single-step before re-arming
	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventSingleStep, ThreadID: 1, Address: bpAddr + 1})
	res = w.Submit(&Command{Kind: CmdContinue})
	test.ExpectSuccess(t, res.Err)

	waitFor(t, func() bool { return f.memByte(bpAddr) == 0xCC && f.stepCount() > 0 }, "timed out waiting for breakpoint re-arm")

	test.ExpectEquality(t, f.firstStep(), true)
	test.ExpectEquality(t, f.memByte(bpAddr), byte(0xCC))
}

// TestDisabledBreakpointDoesNotRearm resolves §9 open question 2: disabling
// a breakpoint between its hit and the re-arm step must leave it lifted.
func TestDisabledBreakpointDoesNotRearm(t *testing.T) {
	w, f := newScriptedWorker(t)
	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventBreakpoint, ThreadID: 1, Address: entryAddr})
	w.Submit(&Command{Kind: CmdRun})
	<-w.EntryReached()

	f.setMemByte(bpAddr, 0x55)
	res := w.Submit(&Command{Kind: CmdSetBreakpointAddress, Address: bpAddr})
	bp := res.Breakpoint

	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventBreakpoint, ThreadID: 1, Address: bpAddr})
	w.Submit(&Command{Kind: CmdContinue})

	waitFor(t, func() bool { return w.Snapshot().StopReason == ReasonBreakpoint }, "timed out waiting for breakpoint stop")

	res = w.Submit(&Command{Kind: CmdSetBreakpointEnabled, ID: bp.ID, Enabled: false})
	test.ExpectSuccess(t, res.Err)

	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventSingleStep, ThreadID: 1, Address: bpAddr + 1})
	f.pushEvent(winproc.DebugEvent{Kind: winproc.EventProcessExited, ExitCode: 0})
	w.Submit(&Command{Kind: CmdContinue})

	waitFor(t, func() bool { return w.Snapshot().State == Exited }, "timed out waiting for process exit")

	test.ExpectInequality(t, f.memByte(bpAddr), byte(0xCC))
}
