//go:build !windows

package winproc

import "time"

// stubController implements Controller on platforms other than Windows,
// where the Windows debug API obviously does not exist. Every call fails
// with errUnsupportedPlatform; it exists so the rest of the module -- the
// event loop, the breakpoint manager, the session conductor -- can be built
// and unit tested on any platform against a Controller interface, even
// though only the windows build can actually debug anything.
type stubController struct{}

// NewController returns the platform's Controller implementation.
func NewController() Controller {
	return stubController{}
}

func (stubController) Start(exePath string) (uint32, error) {
	return 0, errUnsupportedPlatform
}

func (stubController) WaitEvent(timeout time.Duration) (DebugEvent, bool, error) {
	return DebugEvent{}, false, errUnsupportedPlatform
}

func (stubController) Continue(pid, tid uint32, disp Disposition) error {
	return errUnsupportedPlatform
}

func (stubController) ReadMemory(pid uint32, addr uint64, size int) ([]byte, error) {
	return nil, errUnsupportedPlatform
}

func (stubController) WriteMemory(pid uint32, addr uint64, data []byte) error {
	return errUnsupportedPlatform
}

func (stubController) GetThreadContext(tid uint32) (Registers, error) {
	return Registers{}, errUnsupportedPlatform
}

func (stubController) SetThreadContext(tid uint32, regs Registers) error {
	return errUnsupportedPlatform
}

func (stubController) SetSingleStep(tid uint32, on bool) error {
	return errUnsupportedPlatform
}

func (stubController) Terminate(pid uint32) error {
	return errUnsupportedPlatform
}

func (stubController) Close() error {
	return nil
}
