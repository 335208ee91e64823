package rpcserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jetsetilly/watdbg/session"
	"github.com/jetsetilly/watdbg/test"
)

func TestReadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simple.c")
	content := "int add(int a, int b) {\n    return a + b; // sum\n}\n"
	test.ExpectSuccess(t, os.WriteFile(path, []byte(content), 0644))

	lines, err := readLines(path)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, len(lines), 3)
	test.ExpectEquality(t, lines[1], "    return a + b; // sum")
}

func TestGetSourceUnknownSessionFailsFast(t *testing.T) {
	s := &Server{conductor: session.NewConductor()}
	_, err := s.resolveSourcePath("nosuch", filepath.Join(t.TempDir(), "missing.c"))
	test.ExpectFailure(t, err)
}
