package elfx_test

import (
	"debug/elf"
	"testing"

	"identify/internal/elfx"
	"identify/internal/elfx/elftest"
)

// push ebp; mov ebp, esp; pop ebp; ret | padding | xor eax, eax; ret
var sample = []byte{0x55, 0x89, 0xe5, 0x5d, 0xc3, 0xcc, 0xcc, 0x31, 0xc0, 0xc3}

var sampleFuncs = []elftest.Func{
	{Name: "_ZN3foo3barEv", Off: 0, Size: 5},
	{Name: "zero", Off: 7, Size: 3},
}

func TestOpen(t *testing.T) {
	im, err := elfx.Open(elftest.Write(t, sample, sampleFuncs))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	if im.Mode != 32 {
		t.Errorf("Mode = %d, want 32", im.Mode)
	}
	if im.Text.VA != elftest.TextVA || im.Text.Size != uint64(len(sample)) {
		t.Errorf("Text = %+v", im.Text)
	}
	if len(im.Funcs) != 2 {
		t.Fatalf("Funcs = %+v, want 2 entries", im.Funcs)
	}
	code, ok := im.SliceVA(elftest.TextVA, uint64(len(sample)))
	if !ok || string(code) != string(sample) {
		t.Errorf("SliceVA(.text) = %x, %v", code, ok)
	}
	if _, ok := im.VA2Off(0x10); ok {
		t.Errorf("VA2Off accepted an unmapped address")
	}
}

func TestOpenRejectsNonX86(t *testing.T) {
	path := elftest.WriteMachine(t, elf.EM_ARM, sample, nil)
	if im, err := elfx.Open(path); err == nil {
		im.Close()
		t.Fatalf("Open accepted an ARM binary")
	}
}

func TestTrueInstructions(t *testing.T) {
	im, err := elfx.Open(elftest.Write(t, sample, sampleFuncs))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	truth := im.TrueInstructions()
	want := []uint64{0, 1, 3, 4, 7, 9}
	if len(truth) != len(want) {
		t.Errorf("got %d true instructions, want %d: %v", len(truth), len(want), truth)
	}
	for _, off := range want {
		if !truth[elftest.TextVA+off] {
			t.Errorf("0x%x not labelled", elftest.TextVA+off)
		}
	}
	if truth[elftest.TextVA+5] {
		t.Errorf("padding labelled as an instruction")
	}
}

func TestSuperset(t *testing.T) {
	im, err := elfx.Open(elftest.Write(t, sample, sampleFuncs))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	cands := im.Superset()
	if len(cands) == 0 || cands[0].Addr != elftest.TextVA {
		t.Fatalf("Superset = %+v", cands)
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Addr <= cands[i-1].Addr {
			t.Fatalf("candidates out of order at %d", i)
		}
	}
}

func TestSymbolAt(t *testing.T) {
	im, err := elfx.Open(elftest.Write(t, sample, sampleFuncs))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	tests := []struct {
		va     uint64
		name   string
		offset uint64
		ok     bool
	}{
		{elftest.TextVA, "foo::bar()", 0, true},
		{elftest.TextVA + 3, "foo::bar()", 3, true},
		{elftest.TextVA + 5, "", 0, false},
		{elftest.TextVA + 9, "zero", 2, true},
		{elftest.TextVA - 1, "", 0, false},
	}
	for _, tt := range tests {
		name, off, ok := im.SymbolAt(tt.va)
		if name != tt.name || off != tt.offset || ok != tt.ok {
			t.Errorf("SymbolAt(0x%x) = (%q, %d, %v), want (%q, %d, %v)",
				tt.va, name, off, ok, tt.name, tt.offset, tt.ok)
		}
	}
}
