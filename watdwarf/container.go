// Package watdwarf parses the DWARF 2 debug information that the Watcom
// toolchain appends to a PE image as a raw ELF container (see the pescan
// package for how that container is located), and builds the bidirectional
// address/source-line index each loaded module needs.
package watdwarf

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"fmt"

	"github.com/jetsetilly/watdbg/errkind"
)

// Container wraps the ELF-shaped debug blob appended to a PE image and the
// DWARF data parsed out of it.
type Container struct {
	ef   *elf.File
	dwrf *dwarf.Data
}

// OpenContainer parses raw as an ELF file and extracts its DWARF 2 data. raw
// is expected to be the byte region returned by the PE scanner, not the
// whole PE file.
func OpenContainer(raw []byte) (*Container, error) {
	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container is not a valid ELF blob: %v", err)
	}

	if ef.Class != elf.ELFCLASS32 {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container is not 32bit")
	}
	if ef.Machine != elf.EM_386 {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container is not x86")
	}
	if ef.ByteOrder != nil && fmt.Sprintf("%v", ef.ByteOrder) != "LittleEndian" {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container is not little-endian")
	}

	infoSection := ef.Section(".debug_info")
	if infoSection == nil {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container has no .debug_info section")
	}
	info, err := infoSection.Data()
	if err != nil || len(info) < 6 {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container .debug_info section is unreadable")
	}

	// the compilation unit header begins with a 4 byte length followed by a
	// 2 byte version number; Watcom is only ever expected to emit version 2
	version := ef.ByteOrder.Uint16(info[4:6])
	if version != 2 {
		return nil, errkind.New(errkind.MalformedDwarf, "unsupported DWARF version %d, only version 2 is supported", version)
	}

	dwrf, err := ef.DWARF()
	if err != nil {
		return nil, errkind.New(errkind.NoDebugInfo, "debug container has no usable DWARF data: %v", err)
	}

	return &Container{ef: ef, dwrf: dwrf}, nil
}

// CompilationUnits returns the compilation units described by the container.
// Iteration stops at the first entry that cannot be read: the units read
// before it are returned, and any units after it are not.
func (c *Container) CompilationUnits() []*CompilationUnit {
	var units []*CompilationUnit

	r := c.dwrf.Reader()
	for {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		u := &CompilationUnit{entry: e}
		if name, ok := e.Val(dwarf.AttrName).(string); ok {
			u.Name = name
		}
		if dir, ok := e.Val(dwarf.AttrCompDir).(string); ok {
			u.CompDir = dir
		}

		units = append(units, u)
		r.SkipChildren()
	}

	return units
}

// LineReader returns a restartable iterator over u's line program rows.
func (c *Container) LineReader(u *CompilationUnit) (*dwarf.LineReader, error) {
	r, err := c.dwrf.LineReader(u.entry)
	if err != nil {
		return nil, errkind.New(errkind.MalformedDwarf, "compilation unit %q has no usable line program: %v", u.Name, err)
	}
	return r, nil
}
