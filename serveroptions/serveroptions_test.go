package serveroptions

import (
	"flag"
	"testing"

	"github.com/jetsetilly/watdbg/test"
)

func TestDefaults(t *testing.T) {
	fs := flag.NewFlagSet("watdbgd", flag.ContinueOnError)
	o, err := Parse(fs, nil)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, o.ListenAddr, "localhost:6060")
	test.ExpectEquality(t, o.Echo, false)
	test.ExpectEquality(t, len(o.CORSOrigins), 1)
	test.ExpectEquality(t, o.CORSOrigins[0], "*")
}

func TestRepeatedSourceDirs(t *testing.T) {
	fs := flag.NewFlagSet("watdbgd", flag.ContinueOnError)
	o, err := Parse(fs, []string{"-source-dir", "/src/a", "-source-dir", "/src/b", "-log"})
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, len(o.SourceDirs), 2)
	test.ExpectEquality(t, o.SourceDirs[0], "/src/a")
	test.ExpectEquality(t, o.SourceDirs[1], "/src/b")
	test.ExpectEquality(t, o.Echo, true)
}
