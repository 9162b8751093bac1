// Package vocab maps opcode-class identifiers and instruction sizes to the
// bounded integer codes the classifier embeds.
//
// A Vocab is built once from a ranked list of classes and never grows
// afterwards. Ids 0 and 1 are reserved for the INVALID and UNKNOWN
// sentinels; any class outside the ranked list encodes as UNKNOWN.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	// Invalid is the id of the INVALID sentinel (failed decodes).
	Invalid = 0
	// Unknown is the id assigned to classes outside the ranked list.
	Unknown = 1

	// InvalidName and UnknownName are the sentinel spellings in vocab files.
	InvalidName = "INVALID"
	UnknownName = "UNKNOWN"

	// DefaultSize is the embedding table height the stock model is trained with:
	// 500 ranked classes plus the two sentinels.
	DefaultSize = 502

	// MaxInsnSize bounds x86 instruction lengths and the size embedding table.
	MaxInsnSize = 15

	reserved = 2
)

// Vocab is an immutable class → id table.
type Vocab struct {
	size    int
	classes []string
	index   map[string]int32
}

// New builds a vocabulary of the given table size from classes in rank order.
// Sentinel names and duplicates are skipped; classes that do not fit in
// size-2 slots are dropped.
func New(ranked []string, size int) (*Vocab, error) {
	if size <= reserved {
		return nil, fmt.Errorf("vocab size %d leaves no room past the %d sentinels", size, reserved)
	}

	v := &Vocab{
		size:  size,
		index: make(map[string]int32, min(len(ranked), size)),
	}
	for _, c := range ranked {
		if len(v.classes) == size-reserved {
			break
		}
		if c == "" || c == InvalidName || c == UnknownName {
			continue
		}
		if _, dup := v.index[c]; dup {
			continue
		}
		v.index[c] = int32(len(v.classes) + reserved)
		v.classes = append(v.classes, c)
	}
	return v, nil
}

// Size is the fixed embedding table height. Every id Encode returns is below it.
func (v *Vocab) Size() int { return v.size }

// Len is the number of ranked classes, sentinels excluded.
func (v *Vocab) Len() int { return len(v.classes) }

// Encode returns the id for an opcode class. INVALID maps to the INVALID
// sentinel and anything outside the table to UNKNOWN.
func (v *Vocab) Encode(class string) int32 {
	if class == InvalidName {
		return Invalid
	}
	if id, ok := v.index[class]; ok {
		return id
	}
	return Unknown
}

// Known reports whether class has its own slot in the table.
func (v *Vocab) Known(class string) bool {
	_, ok := v.index[class]
	return ok
}

// Class returns the class name of an id.
func (v *Vocab) Class(id int32) (string, bool) {
	switch {
	case id == Invalid:
		return InvalidName, true
	case id == Unknown:
		return UnknownName, true
	case id >= reserved && int(id)-reserved < len(v.classes):
		return v.classes[id-reserved], true
	}
	return "", false
}

// SizeCode converts an instruction length in [1, MaxInsnSize] to its
// zero-based size code.
func SizeCode(length int) (int32, bool) {
	if length < 1 || length > MaxInsnSize {
		return 0, false
	}
	return int32(length - 1), true
}

// Load reads a vocabulary file: the two sentinel lines followed by one class
// per line in rank order.
func Load(r io.Reader, size int) (*Vocab, error) {
	sc := bufio.NewScanner(r)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	if len(lines) < reserved || lines[0] != InvalidName || lines[1] != UnknownName {
		return nil, fmt.Errorf("vocab header must start with %s and %s lines", InvalidName, UnknownName)
	}

	var ranked []string
	for _, l := range lines[reserved:] {
		if l == "" {
			continue
		}
		ranked = append(ranked, l)
	}
	return New(ranked, size)
}

// Save writes the vocabulary in the format Load reads.
func (v *Vocab) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, InvalidName)
	fmt.Fprintln(bw, UnknownName)
	for _, c := range v.classes {
		fmt.Fprintln(bw, c)
	}
	return bw.Flush()
}
