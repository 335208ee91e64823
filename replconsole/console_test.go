package replconsole

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jetsetilly/watdbg/session"
	"github.com/jetsetilly/watdbg/test"
)

func newTestConsole() (*Console, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Console{conductor: session.NewConductor(), out: &buf}, &buf
}

func TestDispatchWithoutSessionPromptsToCreate(t *testing.T) {
	c, buf := newTestConsole()
	c.dispatch("run")
	test.ExpectEquality(t, strings.Contains(buf.String(), "no session attached"), true)
}

func TestDispatchUnknownCommand(t *testing.T) {
	c, buf := newTestConsole()
	c.dispatch("frobnicate")
	test.ExpectEquality(t, strings.Contains(buf.String(), `unknown command "frobnicate"`), true)
}

func TestDispatchBreakUsage(t *testing.T) {
	c, buf := newTestConsole()
	c.currentID = "s1" // bypass requireSession without a live worker behind it
	c.dispatch("break")
	test.ExpectEquality(t, strings.Contains(buf.String(), "usage: break"), true)
}

func TestPromptReflectsAttachedSession(t *testing.T) {
	c, _ := newTestConsole()
	test.ExpectEquality(t, c.prompt(), "watdbg> ")
	c.currentID = "s7"
	test.ExpectEquality(t, c.prompt(), "watdbg[s7]> ")
}
