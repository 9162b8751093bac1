// Package elfx opens x86 ELF binaries, maps virtual addresses to file
// offsets and derives ground-truth instruction addresses from function
// symbols.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"

	"github.com/ianlancetaylor/demangle"

	"identify/internal/disasm"
)

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Mode  int // 32 or 64
	Loads []Seg
	Text  Section
	Exec  []Section
	Funcs []Func // sorted by address
	f     *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// End is the address one past the section.
func (s Section) End() uint64 { return s.VA + s.Size }

// Contains reports whether va lies in the section.
func (s Section) Contains(va uint64) bool { return s.Size != 0 && va >= s.VA && va < s.End() }

// Func is a function symbol. Size is zero when the symbol table does not
// record one.
type Func struct {
	Name string
	Addr uint64
	Size uint64
}

// Open maps the binary at path and indexes its segments, executable
// sections and function symbols. Only EM_386 and EM_X86_64 are accepted.
func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	var mode int
	switch f.Machine {
	case elf.EM_386:
		mode = 32
	case elf.EM_X86_64:
		mode = 64
	default:
		f.Close()
		return nil, fmt.Errorf("open elf: unsupported machine %v", f.Machine)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	var all []byte
	if fi.Size() > 0 {
		all, err = syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
		if err != nil {
			of.Close()
			f.Close()
			return nil, fmt.Errorf("mmap file: %w", err)
		}
	}

	im := &Image{Path: path, File: f, All: all, Mode: mode, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 || s.Size == 0 {
			continue
		}
		sec := Section{s.Name, s.Addr, s.Offset, s.Size}
		im.Exec = append(im.Exec, sec)
		if s.Name == ".text" {
			im.Text = sec
		}
	}

	// Stripped or section-less binaries: fall back to executable segments.
	if len(im.Exec) == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Exec = append(im.Exec, Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz})
			}
		}
	}
	if im.Text.Size == 0 && len(im.Exec) > 0 {
		im.Text = im.Exec[0]
	}

	im.loadFuncs()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// SectionBytes returns the file contents of an executable section.
func (im *Image) SectionBytes(s Section) ([]byte, bool) {
	if s.Off+s.Size > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[s.Off : s.Off+s.Size], true
}

// IsExec reports whether va lies in an executable section.
func (im *Image) IsExec(va uint64) bool {
	for _, s := range im.Exec {
		if s.Contains(va) {
			return true
		}
	}
	return false
}

// loadFuncs collects STT_FUNC symbols from .symtab and .dynsym. When both
// tables name the same address the sized entry wins.
func (im *Image) loadFuncs() {
	byAddr := make(map[uint64]Func)
	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 || sym.Section == elf.SHN_UNDEF {
				continue
			}
			fn := Func{Name: sym.Name, Addr: sym.Value, Size: sym.Size}
			if old, ok := byAddr[fn.Addr]; ok && old.Size >= fn.Size {
				continue
			}
			byAddr[fn.Addr] = fn
		}
	}
	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms)
	}

	im.Funcs = make([]Func, 0, len(byAddr))
	for _, fn := range byAddr {
		im.Funcs = append(im.Funcs, fn)
	}
	slices.SortFunc(im.Funcs, func(a, b Func) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// TrueInstructions linearly sweeps every sized function symbol that lies in
// an executable section and returns the addresses of the instructions it
// decodes. Those addresses label superset candidates as true instructions.
func (im *Image) TrueInstructions() map[uint64]bool {
	truth := make(map[uint64]bool)
	for _, fn := range im.Funcs {
		if fn.Size == 0 || !im.IsExec(fn.Addr) {
			continue
		}
		code, ok := im.SliceVA(fn.Addr, fn.Size)
		if !ok {
			continue
		}
		for _, inst := range disasm.LinearSweep(code, fn.Addr, im.Mode) {
			truth[inst.VA] = true
		}
	}
	return truth
}

// Superset decodes every byte offset of every executable section.
// Candidates are returned in ascending address order.
func (im *Image) Superset() []disasm.Candidate {
	secs := slices.Clone(im.Exec)
	slices.SortFunc(secs, func(a, b Section) int {
		switch {
		case a.VA < b.VA:
			return -1
		case a.VA > b.VA:
			return 1
		}
		return 0
	})

	var out []disasm.Candidate
	var last uint64
	for _, s := range secs {
		code, ok := im.SectionBytes(s)
		if !ok {
			continue
		}
		for _, c := range disasm.Superset(code, s.VA, im.Mode) {
			// overlapping section headers must not break address order
			if len(out) > 0 && c.Addr <= last {
				continue
			}
			out = append(out, c)
			last = c.Addr
		}
	}
	return out
}

// SymbolAt returns the demangled name of the function containing va, or of
// the nearest preceding one when sizes are unknown, plus the offset of va
// into it.
func (im *Image) SymbolAt(va uint64) (string, uint64, bool) {
	i, found := slices.BinarySearchFunc(im.Funcs, va, func(fn Func, target uint64) int {
		switch {
		case fn.Addr < target:
			return -1
		case fn.Addr > target:
			return 1
		}
		return 0
	})
	if !found {
		if i == 0 {
			return "", 0, false
		}
		i--
	}
	fn := im.Funcs[i]
	if fn.Size != 0 && va >= fn.Addr+fn.Size {
		return "", 0, false
	}
	return demangle.Filter(fn.Name), va - fn.Addr, true
}
