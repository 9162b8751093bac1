package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"identify/internal/disasm"
	"identify/internal/elfx"
	"identify/internal/graph"
	"identify/internal/identify/config"
	"identify/internal/vocab"
)

type inputKind int

const (
	kindRaw inputKind = iota
	kindELF
	kindGraph
)

func (k inputKind) String() string {
	switch k {
	case kindELF:
		return "elf"
	case kindGraph:
		return "graph"
	}
	return "raw"
}

// input is a classified code region: the graph plus, for binaries, the
// candidates it was built from and access to their bytes.
type input struct {
	name  string
	kind  inputKind
	mode  int
	graph *graph.Graph
	cands []disasm.Candidate
	vocab *vocab.Vocab

	bytes  func(va, n uint64) ([]byte, bool)
	symbol func(va uint64) (string, uint64, bool)
	closer io.Closer
}

func (in *input) Close() error {
	if in.closer != nil {
		return in.closer.Close()
	}
	return nil
}

// Instruction renders candidate i, or "" for graph archives.
func (in *input) Instruction(i int) string {
	if in.bytes == nil || i >= len(in.cands) {
		return ""
	}
	c := in.cands[i]
	code, ok := in.bytes(c.Addr, uint64(c.Len))
	if !ok {
		return ""
	}
	return disasm.Format(code, c.Addr, in.mode).Text
}

// ClassName names the opcode class node i was encoded as.
func (in *input) ClassName(i int) string {
	code := in.graph.Codes[i]
	if in.vocab != nil {
		if name, ok := in.vocab.Class(code); ok {
			return name
		}
	}
	return fmt.Sprintf("code %d", code)
}

// Address returns the address of node i when known.
func (in *input) Address(i int) (uint64, bool) {
	if in.graph.Addrs == nil || i >= len(in.graph.Addrs) {
		return 0, false
	}
	return in.graph.Addrs[i], true
}

var (
	elfMagic = []byte("\x7fELF")
	zipMagic = []byte("PK\x03\x04")
)

func sniff(path string) (inputKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return kindRaw, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	n, err := io.ReadFull(f, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return kindRaw, err
	}
	switch {
	case n == 4 && bytes.Equal(magic, elfMagic):
		return kindELF, nil
	case n == 4 && bytes.Equal(magic, zipMagic):
		return kindGraph, nil
	}
	return kindRaw, nil
}

// loadVocab opens the configured vocabulary. Without one every class
// encodes as UNKNOWN.
func loadVocab(c *config.Config) (*vocab.Vocab, error) {
	if c.Vocab == "" {
		slog.Debug("No vocabulary configured, classes encode as UNKNOWN")
		return vocab.New(nil, c.VocabSize)
	}
	f, err := os.Open(c.Vocab)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()
	v, err := vocab.Load(f, c.VocabSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Vocab, err)
	}
	return v, nil
}

func buildOptions(c *config.Config) []graph.BuildOption {
	return []graph.BuildOption{
		graph.WithSegmentCapacity(c.SegmentCapacity),
		graph.WithLogger(libLogger()),
	}
}

// openInput loads path as an ELF binary, a graph archive or raw code in
// c.Mode based at address 0. ELF inputs are labelled from their function
// symbols when they have any.
func openInput(path string, c *config.Config, v *vocab.Vocab) (*input, error) {
	kind, err := sniff(path)
	if err != nil {
		return nil, err
	}
	in := &input{name: filepath.Base(path), kind: kind, mode: c.Mode, vocab: v}

	switch kind {
	case kindGraph:
		g, err := graph.Load(path, c.VocabSize)
		if err != nil {
			return nil, err
		}
		in.graph = g

	case kindELF:
		im, err := elfx.Open(path)
		if err != nil {
			return nil, err
		}
		in.mode = im.Mode
		in.cands = im.Superset()
		truth := im.TrueInstructions()
		if len(truth) == 0 {
			slog.Debug("No sized function symbols, graph is unlabelled", "file", path)
			truth = nil
		}
		g, err := graph.BuildCandidates(in.cands, truth, v, buildOptions(c)...)
		if err != nil {
			im.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		in.graph = g
		in.bytes = im.SliceVA
		in.symbol = im.SymbolAt
		in.closer = im

	default:
		code, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		in.cands = disasm.Superset(code, 0, c.Mode)
		g, err := graph.BuildCandidates(in.cands, nil, v, buildOptions(c)...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		in.graph = g
		in.bytes = func(va, n uint64) ([]byte, bool) {
			if va > uint64(len(code)) || n > uint64(len(code))-va {
				return nil, false
			}
			return code[va : va+n], true
		}
	}

	slog.Debug("Loaded input", "file", path, "kind", kind, "stats", in.graph.Stats().String(),
		"unknown_classes", unknownClasses(in.cands, v))
	return in, nil
}

// unknownClasses counts candidates whose class falls outside v and so
// encodes as UNKNOWN.
func unknownClasses(cands []disasm.Candidate, v *vocab.Vocab) int {
	n := 0
	for _, c := range cands {
		if c.Class != vocab.InvalidName && !v.Known(c.Class) {
			n++
		}
	}
	return n
}
