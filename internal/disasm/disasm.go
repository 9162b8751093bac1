// Package disasm decodes x86 machine code at every byte offset and defines
// the candidate representation the graph builder consumes.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Candidate is one successful decode attempt at a byte offset.
type Candidate struct {
	Addr  uint64 // virtual address of the first byte
	Len   int    // encoded length, 1..15
	Class string // opcode class, see Class
}

// End is the address one past the last byte of the candidate.
func (c Candidate) End() uint64 { return c.Addr + uint64(c.Len) }

// Inst is a decoded instruction prepared for display.
type Inst struct {
	VA   uint64 // virtual address of instruction
	Text string // formatted disassembly string
	Op   string // mnemonic in lowercase
	Len  int
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// decode reports whether code starts with a complete instruction. A lone
// prefix or a truncated opcode decodes without error but with Op == 0.
func decode(code []byte, mode int) (x86asm.Inst, bool) {
	inst, err := x86asm.Decode(code, mode)
	if err != nil || inst.Len == 0 || inst.Op == 0 {
		return inst, false
	}
	return inst, true
}

// Superset decodes at every offset of code and returns the candidates that
// decode, sorted ascending by address. Offsets that fail to decode, including
// instructions truncated by the end of the buffer, are skipped.
func Superset(code []byte, base uint64, mode int) []Candidate {
	result := make([]Candidate, 0, len(code))
	for off := range code {
		inst, ok := decode(code[off:], mode)
		if !ok {
			continue
		}
		result = append(result, Candidate{
			Addr:  base + uint64(off),
			Len:   inst.Len,
			Class: Class(inst),
		})
	}
	return result
}

// LinearSweep decodes code sequentially from its first byte, skipping a
// single byte whenever decoding fails.
func LinearSweep(code []byte, base uint64, mode int) Stream {
	var out Stream
	for off := 0; off < len(code); {
		inst, ok := decode(code[off:], mode)
		if !ok {
			off++
			continue
		}
		va := base + uint64(off)
		out = append(out, Inst{
			VA:   va,
			Text: x86asm.IntelSyntax(inst, va, nil),
			Op:   strings.ToLower(inst.Op.String()),
			Len:  inst.Len,
		})
		off += inst.Len
	}
	return out
}

// Format renders the instruction at the start of code, or "(bad)" if it
// does not decode.
func Format(code []byte, va uint64, mode int) Inst {
	inst, ok := decode(code, mode)
	if !ok {
		return Inst{VA: va, Text: "(bad)", Op: "(bad)", Len: 1}
	}
	return Inst{
		VA:   va,
		Text: x86asm.IntelSyntax(inst, va, nil),
		Op:   strings.ToLower(inst.Op.String()),
		Len:  inst.Len,
	}
}

// Class names the opcode class of inst: the mnemonic followed by the form of
// each operand, e.g. "MOV_r32_m32" or "JMP_rel". Two encodings of the same
// mnemonic with different operand forms are distinct classes.
func Class(inst x86asm.Inst) string {
	var b strings.Builder
	b.WriteString(inst.Op.String())
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		b.WriteByte('_')
		b.WriteString(argForm(arg, inst.MemBytes))
	}
	return b.String()
}

func argForm(arg x86asm.Arg, memBytes int) string {
	switch a := arg.(type) {
	case x86asm.Reg:
		return regClass(a)
	case x86asm.Mem:
		if memBytes > 0 {
			return fmt.Sprintf("m%d", memBytes*8)
		}
		return "m"
	case x86asm.Imm:
		return "imm"
	case x86asm.Rel:
		return "rel"
	default:
		return "x"
	}
}

func regClass(r x86asm.Reg) string {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return "r8"
	case r >= x86asm.AX && r <= x86asm.R15W:
		return "r16"
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return "r32"
	case r >= x86asm.RAX && r <= x86asm.R15:
		return "r64"
	case r >= x86asm.IP && r <= x86asm.RIP:
		return "ip"
	case r >= x86asm.F0 && r <= x86asm.F7:
		return "st"
	case r >= x86asm.M0 && r <= x86asm.M7:
		return "mm"
	case r >= x86asm.X0 && r <= x86asm.X15:
		return "xmm"
	case r >= x86asm.ES && r <= x86asm.GS:
		return "seg"
	default:
		return "sys"
	}
}
