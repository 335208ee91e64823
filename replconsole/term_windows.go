//go:build windows

// replconsole's raw-mode switching is built on github.com/pkg/term/termios,
// which only supports unix terminal semantics (see term_unix.go); there is
// no termios on Windows for it to wrap. watdbgd and its real winproc
// Controller are windows-only (winproc/controller_windows.go), so this stub
// exists purely so the module as a whole still builds there -- the operator
// console itself is unavailable on this platform, the same way the
// teacher's own colorterm is unavailable under windows.
package replconsole

import (
	"fmt"
	"os"
)

type term struct{}

func newTerm(input *os.File) (*term, error) {
	return nil, fmt.Errorf("replconsole: operator console is not available on windows")
}

func (t *term) cbreakMode() {}

func (t *term) canonicalMode() {}
