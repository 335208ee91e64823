package pescan

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/jetsetilly/watdbg/errkind"
	"github.com/jetsetilly/watdbg/test"
)

// buildMiniELF constructs the smallest ELF32/x86 file that debug/elf and
// debug/dwarf will accept: a null section, a one compilation-unit
// .debug_info section, a one byte (terminator only) .debug_abbrev section,
// and the .shstrtab section naming them all.
func buildMiniELF() []byte {
	const ehdrSize = 52
	const shdrSize = 40

	debugInfo := []byte{
		0x07, 0x00, 0x00, 0x00, // unit_length = 7 (bytes following this field)
		0x02, 0x00, // version = 2
		0x00, 0x00, 0x00, 0x00, // debug_abbrev_offset = 0
		0x04, // address_size = 4
	}
	debugAbbrev := []byte{0x00} // empty table: single terminating ULEB128 zero

	shstrtab := new(bytes.Buffer)
	shstrtab.WriteByte(0)
	nameInfo := shstrtab.Len()
	shstrtab.WriteString(".debug_info\x00")
	nameAbbrev := shstrtab.Len()
	shstrtab.WriteString(".debug_abbrev\x00")
	nameShstrtab := shstrtab.Len()
	shstrtab.WriteString(".shstrtab\x00")

	infoOff := ehdrSize
	abbrevOff := infoOff + len(debugInfo)
	shstrtabOff := abbrevOff + len(debugAbbrev)
	shoff := shstrtabOff + shstrtab.Len()

	buf := new(bytes.Buffer)

	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(buf, binary.LittleEndian, uint16(2))  // e_type = ET_EXEC
	binary.Write(buf, binary.LittleEndian, uint16(3))  // e_machine = EM_386
	binary.Write(buf, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(buf, binary.LittleEndian, uint32(0))  // e_entry
	binary.Write(buf, binary.LittleEndian, uint32(0))  // e_phoff
	binary.Write(buf, binary.LittleEndian, uint32(shoff))
	binary.Write(buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_phentsize
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_phnum
	binary.Write(buf, binary.LittleEndian, uint16(shdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(4)) // e_shnum
	binary.Write(buf, binary.LittleEndian, uint16(3)) // e_shstrndx

	if buf.Len() != ehdrSize {
		panic("ehdr size mismatch")
	}

	buf.Write(debugInfo)
	buf.Write(debugAbbrev)
	buf.Write(shstrtab.Bytes())

	writeShdr := func(name, typ, flags, addr, offset, size, link, info, align, entsize uint32) {
		binary.Write(buf, binary.LittleEndian, name)
		binary.Write(buf, binary.LittleEndian, typ)
		binary.Write(buf, binary.LittleEndian, flags)
		binary.Write(buf, binary.LittleEndian, addr)
		binary.Write(buf, binary.LittleEndian, offset)
		binary.Write(buf, binary.LittleEndian, size)
		binary.Write(buf, binary.LittleEndian, link)
		binary.Write(buf, binary.LittleEndian, info)
		binary.Write(buf, binary.LittleEndian, align)
		binary.Write(buf, binary.LittleEndian, entsize)
	}

	writeShdr(0, 0, 0, 0, 0, 0, 0, 0, 0, 0) // null section
	writeShdr(uint32(nameInfo), 1, 0, 0, uint32(infoOff), uint32(len(debugInfo)), 0, 0, 1, 0)
	writeShdr(uint32(nameAbbrev), 1, 0, 0, uint32(abbrevOff), uint32(len(debugAbbrev)), 0, 0, 1, 0)
	writeShdr(uint32(nameShstrtab), 3, 0, 0, uint32(shstrtabOff), uint32(shstrtab.Len()), 0, 0, 1, 0)

	return buf.Bytes()
}

func TestScanBytesFindsTailmostContainer(t *testing.T) {
	elfData := buildMiniELF()

	// pad the front with junk that happens to contain a decoy ELF magic
	// sequence embedded in otherwise ordinary bytes, to prove the scanner
	// prefers the tail-most valid candidate over an earlier coincidental
	// match
	junk := bytes.Repeat([]byte{0x90}, 64)
	decoy := append([]byte{0x7f, 'E', 'L', 'F'}, bytes.Repeat([]byte{0x00}, 16)...)

	raw := append(append(junk, decoy...), elfData...)

	c, err := ScanBytes("fake.exe", raw)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, len(c.Data), len(elfData))
	test.ExpectEquality(t, bytes.Equal(c.Data, elfData), true)
}

func TestScanBytesNoContainer(t *testing.T) {
	_, err := ScanBytes("fake.exe", bytes.Repeat([]byte{0x00}, 128))
	test.ExpectFailure(t, err)

	k, ok := errkind.As(err)
	test.ExpectSuccess(t, ok)
	test.ExpectEquality(t, k, errkind.NoDebugInfo)
}
