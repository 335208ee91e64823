// Package pescan locates the DWARF 2 debug container that the Watcom
// toolchain appends to a 32bit Windows PE image. The container is an ELF
// blob concatenated after the normal PE content; it is not referenced by any
// standard PE section, so it has to be found by scanning the raw file bytes.
package pescan

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"os"

	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/logger"
)

// elfMagic is the four byte signature ("\x7fELF") that opens any ELF file.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Container is the result of a successful scan: the file this container was
// found in, and the byte region from the container's start to the end of
// the file.
type Container struct {
	Path string
	Data []byte
}

// Scan opens path and locates its appended debug container, searching the
// PE sections first when the PE headers parse and the raw file bytes
// otherwise. It fails with errkind.NoDebugInfo if path cannot be read, or if
// no candidate region validates as an ELF container; headers that do not
// parse as PE are not by themselves a failure.
func Scan(path string) (*Container, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.NoDebugInfo, "cannot read %s: %v", path, err)
	}
	return ScanBytes(path, raw)
}

// ScanBytes runs the same algorithm as Scan against an already-loaded image,
// for callers that have the file in memory already (or in tests). path is
// used only for error messages and the returned Container.
func ScanBytes(path string, raw []byte) (*Container, error) {
	pf, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		// not a valid PE image by the strict header check; Watcom's
		// appended container lives outside any section pe.NewFile parses
		// anyway, so fall through to the raw scan rather than failing here
		logger.Logf(logger.Allow, "pescan", "%s: PE header did not validate, falling back to raw scan: %v", path, err)
	} else {
		defer pf.Close()
		if data := findInSections(pf); data != nil {
			return &Container{Path: path, Data: data}, nil
		}
	}

	if offset, ok := findTailmostValidContainer(raw); ok {
		return &Container{Path: path, Data: raw[offset:]}, nil
	}

	return nil, errkind.New(errkind.NoDebugInfo, "no DWARF debug container found in %s", path)
}

// findInSections looks for a standard PE section that is itself a valid ELF
// container carrying DWARF data. Watcom does not normally use this path --
// it appends the container after the image instead -- but a section-based
// container is preferred when present since it is unambiguous.
func findInSections(pf *pe.File) []byte {
	for _, sec := range pf.Sections {
		data, err := sec.Data()
		if err != nil || len(data) < 4 {
			continue
		}
		if !bytes.Equal(data[:4], elfMagic) {
			continue
		}
		if validContainer(data) {
			return data
		}
	}
	return nil
}

// findTailmostValidContainer scans raw for every occurrence of the ELF
// magic number and returns the offset of the last one that validates as a
// well-formed container. Watcom appends its container after all normal PE
// content, so the tail-most valid candidate is preferred over an earlier,
// possibly coincidental, magic-number match embedded in ordinary data.
func findTailmostValidContainer(raw []byte) (int, bool) {
	var candidates []int

	for offset := 0; offset < len(raw); {
		idx := bytes.Index(raw[offset:], elfMagic)
		if idx < 0 {
			break
		}
		candidates = append(candidates, offset+idx)
		offset += idx + 1
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if validContainer(raw[c:]) {
			logger.Logf(logger.Allow, "pescan", "found valid debug container at offset 0x%x", c)
			return c, true
		}
	}

	return 0, false
}

// validContainer reports whether data parses as an ELF file with usable
// DWARF data.
func validContainer(data []byte) bool {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return false
	}
	defer ef.Close()

	if ef.Section(".debug_info") == nil {
		return false
	}

	_, err = ef.DWARF()
	return err == nil
}

// ImageSize returns a PE image's SizeOfImage field -- the span of address
// space the OS loader reserves for it once it is mapped in, which a loaded
// DLL's own debug event never reports directly.
func ImageSize(path string) (uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errkind.New(errkind.NoDebugInfo, "cannot read %s: %v", path, err)
	}

	pf, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return 0, errkind.New(errkind.NoDebugInfo, "%s: PE header did not validate: %v", path, err)
	}
	defer pf.Close()

	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return oh.SizeOfImage, nil
	case *pe.OptionalHeader64:
		return oh.SizeOfImage, nil
	default:
		return 0, errkind.New(errkind.NoDebugInfo, "%s: no optional header", path)
	}
}

// Export is a single entry from a PE image's export directory: a function
// name and its address relative to the image's base.
type Export struct {
	Name string
	RVA  uint32
}

// exportDataDirectoryIndex is the index of the export table entry within
// IMAGE_OPTIONAL_HEADER.DataDirectory -- the same for 32 and 64bit images.
const exportDataDirectoryIndex = 0

// Exports reads path's PE export directory, if it has one. debug/pe exposes
// the import table directly but not the export table, so this walks the
// IMAGE_EXPORT_DIRECTORY structure by hand, the same way a reader of the PE
// spec would: resolve the data directory entry to a section, then to a file
// offset, then read the three parallel arrays (names, ordinals, addresses)
// named functions are indexed through. A module without an export directory
// (or one debug/pe cannot parse the headers of) simply has no exports; it is
// not an error toward the caller.
func Exports(path string) []Export {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return ExportsBytes(path, raw)
}

// ExportsBytes runs the same algorithm as Exports against an in-memory image.
func ExportsBytes(path string, raw []byte) []Export {
	pf, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		logger.Logf(logger.Allow, "pescan", "%s: cannot read export directory, PE header did not validate: %v", path, err)
		return nil
	}
	defer pf.Close()

	oh32, ok := pf.OptionalHeader.(*pe.OptionalHeader32)
	if !ok {
		// 64bit images are out of scope for this 32bit-only debugger.
		return nil
	}
	if exportDataDirectoryIndex >= len(oh32.DataDirectory) {
		return nil
	}

	dir := oh32.DataDirectory[exportDataDirectoryIndex]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}

	rvaToOffset := func(rva uint32) (uint32, bool) {
		for _, sec := range pf.Sections {
			if rva >= sec.VirtualAddress && rva < sec.VirtualAddress+sec.Size {
				return sec.Offset + (rva - sec.VirtualAddress), true
			}
		}
		return 0, false
	}

	dirOff, ok := rvaToOffset(dir.VirtualAddress)
	if !ok || int(dirOff)+40 > len(raw) {
		return nil
	}

	u32 := func(off uint32) uint32 {
		return binary.LittleEndian.Uint32(raw[off : off+4])
	}

	numberOfNames := u32(dirOff + 24)
	addressOfFunctions := u32(dirOff + 28)
	addressOfNames := u32(dirOff + 32)
	addressOfNameOrdinals := u32(dirOff + 36)

	namesOff, ok := rvaToOffset(addressOfNames)
	if !ok {
		return nil
	}
	ordinalsOff, ok := rvaToOffset(addressOfNameOrdinals)
	if !ok {
		return nil
	}
	functionsOff, ok := rvaToOffset(addressOfFunctions)
	if !ok {
		return nil
	}

	var out []Export
	for i := uint32(0); i < numberOfNames; i++ {
		nameRVAOff := namesOff + i*4
		if int(nameRVAOff)+4 > len(raw) {
			break
		}
		nameRVA := u32(nameRVAOff)
		nameOff, ok := rvaToOffset(nameRVA)
		if !ok {
			continue
		}
		end := bytes.IndexByte(raw[nameOff:], 0)
		if end < 0 {
			continue
		}
		name := string(raw[nameOff : nameOff+uint32(end)])

		ordOff := ordinalsOff + i*2
		if int(ordOff)+2 > len(raw) {
			break
		}
		ordinal := binary.LittleEndian.Uint16(raw[ordOff : ordOff+2])

		fnOff := functionsOff + uint32(ordinal)*4
		if int(fnOff)+4 > len(raw) {
			continue
		}
		rva := u32(fnOff)

		out = append(out, Export{Name: name, RVA: rva})
	}

	return out
}
