package watdwarf

import (
	"testing"

	"github.com/jetsetilly/watdbg/test"
)

func newTestIndex(rows []LineRow) *LineIndex {
	li := &LineIndex{
		files:   make(map[string]bool),
		inverse: make(map[inverseKey]inverseEntry),
	}
	li.rows = rows
	for _, r := range rows {
		if r.Path != "" {
			li.files[r.Path] = true
		}
	}
	li.buildInverse()
	return li
}

func TestAddressToLine(t *testing.T) {
	li := newTestIndex([]LineRow{
		{Address: 0x1000, Path: `c:\src\simple.c`, Line: 3, IsStmt: true},
		{Address: 0x1004, Path: `c:\src\simple.c`, Line: 4, IsStmt: true},
		{Address: 0x1008, Path: `c:\src\simple.c`, Line: 5, IsStmt: true},
		{Address: 0x100c, EndSequence: true},
	})

	row, ok := li.AddressToLine(0x1006)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, row.Line, 4)

	row, ok = li.AddressToLine(0x1004)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, row.Line, 4)

	// exactly on the end_sequence row yields no resolution
	_, ok = li.AddressToLine(0x100c)
	test.ExpectFailure(t, ok)

	// before the first row yields no resolution
	_, ok = li.AddressToLine(0x0fff)
	test.ExpectFailure(t, ok)
}

func TestLineToAddressPicksLowestAddress(t *testing.T) {
	li := newTestIndex([]LineRow{
		{Address: 0x2000, Path: `c:\src\simple.c`, Line: 4, IsStmt: true},
		{Address: 0x1000, Path: `c:\src\simple.c`, Line: 4, IsStmt: true},
		{Address: 0x1500, Path: `c:\src\simple.c`, Line: 4, IsStmt: false},
	})

	addr, ok := li.LineToAddress(`C:\SRC\SIMPLE.C`, 4)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, addr, uint64(0x1000))
}

func TestLineToAddressNormalization(t *testing.T) {
	li := newTestIndex([]LineRow{
		{Address: 0x1000, Path: `C:\Project\Src\main.c`, Line: 10, IsStmt: true},
	})

	addr, ok := li.LineToAddress(`c:/project/src/main.c`, 10)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, addr, uint64(0x1000))
}

func TestLineToAddressNoMatch(t *testing.T) {
	li := newTestIndex([]LineRow{
		{Address: 0x1000, Path: `c:\src\simple.c`, Line: 4, IsStmt: true},
	})

	_, ok := li.LineToAddress(`c:\src\simple.c`, 99)
	test.ExpectFailure(t, ok)
}

func TestRoundTripResolution(t *testing.T) {
	li := newTestIndex([]LineRow{
		{Address: 0x1000, Path: `c:\src\simple.c`, Line: 3, IsStmt: true},
		{Address: 0x1004, Path: `c:\src\simple.c`, Line: 4, IsStmt: true},
		{Address: 0x1008, Path: `c:\src\simple.c`, Line: 5, IsStmt: true},
		{Address: 0x100c, EndSequence: true},
	})

	for addr := uint64(0x1000); addr < 0x100c; addr++ {
		row, ok := li.AddressToLine(addr)
		test.ExpectSuccess(t, ok)

		resolved, ok := li.LineToAddress(row.Path, row.Line)
		test.ExpectSuccess(t, ok)
		test.ExpectSuccess(t, resolved <= addr)
	}
}

func TestNormalizePath(t *testing.T) {
	test.ExpectEquality(t, normalizePath(`C:\Src\Main.C`), "c:/src/main.c")
	test.ExpectEquality(t, normalizePath(`/already/forward/slash`), "/already/forward/slash")
}
