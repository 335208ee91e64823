package watdwarf

import (
	"testing"

	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/test"
)

func TestOpenContainerRejectsGarbage(t *testing.T) {
	_, err := OpenContainer([]byte("not an elf file at all"))
	test.ExpectFailure(t, err)

	k, ok := errkind.As(err)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, k, errkind.NoDebugInfo)
}

func TestOpenContainerRejectsEmpty(t *testing.T) {
	_, err := OpenContainer(nil)
	test.ExpectFailure(t, err)
}
