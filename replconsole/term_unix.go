//go:build !windows

// termios-based raw mode, for the unix platforms github.com/pkg/term/termios
// supports. See term_windows.go for the build this is excluded from.
package replconsole

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/pkg/term/termios"
)

// term wraps the raw terminal mode switching the console needs: canonical
// mode for normal shell use, cbreak mode while the REPL is reading a line
// so backspace and ctrl-c can be handled a key at a time instead of waiting
// for a newline.
type term struct {
	mu sync.Mutex

	input *os.File

	canAttr    syscall.Termios
	cbreakAttr syscall.Termios
}

func newTerm(input *os.File) (*term, error) {
	if input == nil {
		return nil, fmt.Errorf("replconsole: a terminal requires an input file")
	}

	t := &term{input: input}
	if err := termios.Tcgetattr(t.input.Fd(), &t.canAttr); err != nil {
		return nil, fmt.Errorf("replconsole: could not read terminal attributes: %w", err)
	}
	t.cbreakAttr = t.canAttr
	termios.Cfmakecbreak(&t.cbreakAttr)

	return t, nil
}

// cbreakMode puts the terminal into cbreak mode: input is available a
// character at a time, without local echo duplicating the REPL's own
// prompt redraw.
func (t *term) cbreakMode() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = termios.Tcsetattr(t.input.Fd(), termios.TCIFLUSH, &t.cbreakAttr)
}

// canonicalMode restores the terminal to normal line-buffered mode, for
// when the console exits back to the shell.
func (t *term) canonicalMode() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = termios.Tcsetattr(t.input.Fd(), termios.TCIFLUSH, &t.canAttr)
}
