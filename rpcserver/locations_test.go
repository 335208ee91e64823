package rpcserver

import (
	"testing"

	"github.com/jetsetilly/watdbg/test"
)

func TestParseLocationAddress(t *testing.T) {
	loc, err := parseLocation("0x401010")
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, loc.byAddress, true)
	test.ExpectEquality(t, loc.address, uint64(0x401010))
}

func TestParseLocationFileLine(t *testing.T) {
	loc, err := parseLocation("simple.c:4")
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, loc.byAddress, false)
	test.ExpectEquality(t, loc.path, "simple.c")
	test.ExpectEquality(t, loc.line, 4)
}

func TestParseLocationWindowsDriveLetterPath(t *testing.T) {
	loc, err := parseLocation(`C:\src\simple.c:4`)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, loc.byAddress, false)
	test.ExpectEquality(t, loc.path, `C:\src\simple.c`)
	test.ExpectEquality(t, loc.line, 4)
}

func TestParseLocationMalformed(t *testing.T) {
	_, err := parseLocation("not-a-location")
	test.ExpectFailure(t, err)

	_, err = parseLocation("0xzzzz")
	test.ExpectFailure(t, err)
}

func TestClassifyErrorInvalidParams(t *testing.T) {
	code, data := classifyError(invalidParams{"bad"})
	test.ExpectEquality(t, code, codeInvalidParams)
	test.ExpectEquality(t, data, nil)
}
