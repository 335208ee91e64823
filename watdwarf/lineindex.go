package watdwarf

import (
	"debug/dwarf"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/logger"
)

// LineRow is a single row produced by a compilation unit's line-number
// program, translated to a module-relative address and an absolute source
// path.
type LineRow struct {
	Address     uint64
	Path        string
	Line        int
	Column      int
	IsStmt      bool
	EndSequence bool
}

type inverseKey struct {
	path string
	line int
}

// LineIndex is the per-module bidirectional address/source-line map of
// component C. Build it once per module with Build; it is immutable
// thereafter.
type LineIndex struct {
	rows    []LineRow
	files   map[string]bool
	inverse map[inverseKey]inverseEntry
}

type inverseEntry struct {
	address uint64
	isStmt  bool
}

// NewLineIndexFromRows constructs a LineIndex directly from a caller-
// supplied set of rows, bypassing Build's DWARF parsing. Used wherever an
// index needs to be produced without a debug container to parse it from, for
// instance a module whose breakpoint locations are already known.
func NewLineIndexFromRows(rows []LineRow) *LineIndex {
	li := &LineIndex{
		files:   make(map[string]bool),
		inverse: make(map[inverseKey]inverseEntry),
	}

	li.rows = append(li.rows, rows...)
	for _, r := range li.rows {
		if r.Path != "" {
			li.files[r.Path] = true
		}
	}

	sort.SliceStable(li.rows, func(i, j int) bool {
		return li.rows[i].Address < li.rows[j].Address
	})

	li.buildInverse()

	return li
}

// Build constructs a LineIndex from every compilation unit in c. A
// compilation unit whose line program cannot be read is skipped (and
// logged); the rest of the container is still indexed, per the "recover per
// compilation unit" policy.
func Build(c *Container) (*LineIndex, error) {
	li := &LineIndex{
		files:   make(map[string]bool),
		inverse: make(map[inverseKey]inverseEntry),
	}

	units := c.CompilationUnits()
	if len(units) == 0 {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container has no compilation units")
	}

	for _, u := range units {
		if err := li.appendUnit(c, u); err != nil {
			logger.Logf(logger.Allow, "watdwarf", "skipping compilation unit %q: %v", u.Name, err)
			continue
		}
	}

	sort.SliceStable(li.rows, func(i, j int) bool {
		return li.rows[i].Address < li.rows[j].Address
	})

	li.buildInverse()

	return li, nil
}

func (li *LineIndex) appendUnit(c *Container, u *CompilationUnit) error {
	r, err := c.LineReader(u)
	if err != nil {
		return err
	}

	// per-unit cache of resolved paths, keyed by the file table's identity
	// at the moment of resolution (the pointer into the line reader's file
	// table). discarded when the unit ends by simply going out of scope.
	cache := make(map[*dwarf.LineFile]string)

	fallback := u.Name
	if fallback != "" && !filepath.IsAbs(fallback) && u.CompDir != "" {
		fallback = filepath.Join(u.CompDir, fallback)
	}

	var le dwarf.LineEntry
	for {
		err := r.Next(&le)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		// resolve the file for *this* row using the file table as it
		// stands right now. le.File already reflects the line reader's
		// table at this point in the stream (including any
		// DW_LNE_define_file rows executed so far) -- it must never be
		// resolved from a table snapshot taken before iteration began.
		path := fallback
		if le.File != nil {
			if cached, ok := cache[le.File]; ok {
				path = cached
			} else {
				path = le.File.Name
				if path != "" && !filepath.IsAbs(path) && u.CompDir != "" {
					path = filepath.Join(u.CompDir, path)
				}
				if path == "" {
					path = fallback
				}
				cache[le.File] = path
			}
		}

		if path != "" {
			li.files[path] = true
		}

		li.rows = append(li.rows, LineRow{
			Address:     le.Address,
			Path:        path,
			Line:        le.Line,
			Column:      le.Column,
			IsStmt:      le.IsStmt,
			EndSequence: le.EndSequence,
		})
	}
}

func (li *LineIndex) buildInverse() {
	for _, row := range li.rows {
		if row.EndSequence || row.Path == "" || row.Line == 0 {
			continue
		}

		key := inverseKey{path: normalizePath(row.Path), line: row.Line}
		existing, ok := li.inverse[key]
		if !ok {
			li.inverse[key] = inverseEntry{address: row.Address, isStmt: row.IsStmt}
			continue
		}

		// lowest address wins; ties broken in favour of is_stmt
		if row.Address < existing.address || (row.Address == existing.address && row.IsStmt && !existing.isStmt) {
			li.inverse[key] = inverseEntry{address: row.Address, isStmt: row.IsStmt}
		}
	}
}

// AddressToLine finds the source location implementing the module-relative
// address addrRel: the row with the greatest address <= addrRel whose
// sequence has not ended. It returns ok=false if no such row exists, or if
// the matching row is itself an end_sequence marker.
func (li *LineIndex) AddressToLine(addrRel uint64) (row LineRow, ok bool) {
	// binary search for the first row with Address > addrRel
	idx := sort.Search(len(li.rows), func(i int) bool {
		return li.rows[i].Address > addrRel
	})
	if idx == 0 {
		return LineRow{}, false
	}

	candidate := li.rows[idx-1]
	if candidate.EndSequence {
		return LineRow{}, false
	}

	return candidate, true
}

// LineToAddress resolves a normalized source path and line to the lowest
// module-relative address implementing it.
func (li *LineIndex) LineToAddress(path string, line int) (uint64, bool) {
	entry, ok := li.inverse[inverseKey{path: normalizePath(path), line: line}]
	if !ok {
		return 0, false
	}
	return entry.address, true
}

// Files returns the set of absolute source paths resolved while building the
// index.
func (li *LineIndex) Files() []string {
	out := make([]string, 0, len(li.files))
	for f := range li.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Rows returns every row in address order. Intended for tests and
// diagnostics; callers must not mutate the returned slice.
func (li *LineIndex) Rows() []LineRow {
	return li.rows
}

// normalizePath applies the §4.C normalization rule: lowercase drive letter,
// forward-slash separators, case-insensitive comparison handled by lowering
// the whole string (Windows source paths are not case sensitive in
// practice).
func normalizePath(path string) string {
	p := strings.ReplaceAll(path, `\`, `/`)
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return strings.ToLower(p)
}
