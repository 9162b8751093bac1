// Package elftest writes minimal ELF32 executables for tests: a single
// PT_LOAD segment holding .text, a symbol table and the section name table.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	// Base is the load address of the image.
	Base = 0x8048000
	// TextOff is the file offset of .text.
	TextOff = 0x60
	// TextVA is the virtual address of the first .text byte.
	TextVA = Base + TextOff
)

// Func describes a function symbol at Off bytes into .text.
type Func struct {
	Name string
	Off  uint32
	Size uint32
}

// Build returns an ELF32 little-endian executable for machine whose .text
// holds code and whose .symtab lists funcs.
func Build(machine elf.Machine, code []byte, funcs []Func) []byte {
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	var symtab bytes.Buffer
	symtab.Write(make([]byte, 16))
	for _, fn := range funcs {
		name := uint32(strtab.Len())
		strtab.WriteString(fn.Name)
		strtab.WriteByte(0)
		binary.Write(&symtab, binary.LittleEndian, elf.Sym32{
			Name:  name,
			Value: TextVA + fn.Off,
			Size:  fn.Size,
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
		})
	}
	shstr := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")

	align := func(n int) int { return (n + 3) &^ 3 }
	symOff := align(TextOff + len(code))
	strOff := symOff + symtab.Len()
	shstrOff := strOff + strtab.Len()
	shOff := align(shstrOff + len(shstr))
	size := shOff + 5*40

	out := make([]byte, size)
	copy(out[TextOff:], code)
	copy(out[symOff:], symtab.Bytes())
	copy(out[strOff:], strtab.Bytes())
	copy(out[shstrOff:], shstr)

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     TextVA,
		Phoff:     52,
		Shoff:     uint32(shOff),
		Ehsize:    52,
		Phentsize: 32,
		Phnum:     1,
		Shentsize: 40,
		Shnum:     5,
		Shstrndx:  4,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})

	ph := elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Vaddr:  Base,
		Paddr:  Base,
		Filesz: uint32(size),
		Memsz:  uint32(size),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Align:  0x1000,
	}

	sections := []elf.Section32{
		{},
		{Name: 1, Type: uint32(elf.SHT_PROGBITS), Flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr: TextVA, Off: TextOff, Size: uint32(len(code)), Addralign: 16},
		{Name: 7, Type: uint32(elf.SHT_SYMTAB), Off: uint32(symOff), Size: uint32(symtab.Len()),
			Link: 3, Info: 1, Addralign: 4, Entsize: 16},
		{Name: 15, Type: uint32(elf.SHT_STRTAB), Off: uint32(strOff), Size: uint32(strtab.Len()), Addralign: 1},
		{Name: 23, Type: uint32(elf.SHT_STRTAB), Off: uint32(shstrOff), Size: uint32(len(shstr)), Addralign: 1},
	}

	var head bytes.Buffer
	binary.Write(&head, binary.LittleEndian, hdr)
	binary.Write(&head, binary.LittleEndian, ph)
	copy(out, head.Bytes())

	var sh bytes.Buffer
	for _, s := range sections {
		binary.Write(&sh, binary.LittleEndian, s)
	}
	copy(out[shOff:], sh.Bytes())
	return out
}

// Write stores an EM_386 image in a temporary directory and returns its path.
func Write(t testing.TB, code []byte, funcs []Func) string {
	t.Helper()
	return WriteMachine(t, elf.EM_386, code, funcs)
}

// WriteMachine is Write for an arbitrary machine.
func WriteMachine(t testing.TB, machine elf.Machine, code []byte, funcs []Func) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.elf")
	if err := os.WriteFile(path, Build(machine, code, funcs), 0o755); err != nil {
		t.Fatalf("write elf: %v", err)
	}
	return path
}
