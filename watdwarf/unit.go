package watdwarf

import "debug/dwarf"

// CompilationUnit holds the attributes of a DWARF 2 compilation unit that
// the line index needs: its fallback source name, its directory for
// absolutizing relative paths, and a handle back to its top-level DIE for
// opening a fresh line-program reader.
type CompilationUnit struct {
	entry *dwarf.Entry

	// Name is DW_AT_name: the source file name the compiler recorded for
	// this unit. Used as a fallback when the line program's own file table
	// has no usable entry for a row's file index.
	Name string

	// CompDir is DW_AT_comp_dir: the directory the compiler ran in, used to
	// absolutize Name and any relative file-table entries.
	CompDir string
}
