package errkind_test

import (
	"fmt"
	"testing"

	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/test"
)

func TestAs(t *testing.T) {
	err := errkind.New(errkind.NoDebugInfo, "no debug info in %s", "foo.exe")

	k, ok := errkind.As(err)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, k, errkind.NoDebugInfo)
	test.ExpectEquality(t, err.Error(), "no debug info in foo.exe")
}

func TestAsOnPlainError(t *testing.T) {
	err := fmt.Errorf("plain error")
	_, ok := errkind.As(err)
	test.ExpectFailure(t, ok)
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := errkind.Wrap(errkind.ProcessLost, inner)

	k, ok := errkind.As(err)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, k, errkind.ProcessLost)
	test.ExpectEquality(t, err.Error(), "boom")
}

func TestKindString(t *testing.T) {
	test.ExpectEquality(t, errkind.InvalidBreakpointId.String(), "invalid_breakpoint_id")
	test.ExpectEquality(t, errkind.Kind(999).String(), "unknown")
}
