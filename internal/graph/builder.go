package graph

import (
	"slices"

	"github.com/charmbracelet/log"

	"identify/internal/disasm"
	"identify/internal/logging"
	"identify/internal/vocab"
)

// Node is one candidate handed to Build.
type Node struct {
	Addr  uint64
	Len   int
	Class string
	Label *bool
}

// Encoder maps an opcode class to its table id.
type Encoder interface {
	Encode(class string) int32
}

// FromCandidates wraps decoder output as builder input. When truth is
// non-nil every node is labelled by membership in it.
func FromCandidates(cands []disasm.Candidate, truth map[uint64]bool) []Node {
	nodes := make([]Node, len(cands))
	for i, c := range cands {
		nodes[i] = Node{Addr: c.Addr, Len: c.Len, Class: c.Class}
		if truth != nil {
			l := truth[c.Addr]
			nodes[i].Label = &l
		}
	}
	return nodes
}

type buildConfig struct {
	segmentCapacity int
	logger          *log.Logger
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithSegmentCapacity sets the number of edges per arena segment. It has no
// effect on the result.
func WithSegmentCapacity(n int) BuildOption {
	return func(c *buildConfig) { c.segmentCapacity = n }
}

// WithLogger routes build statistics to l at debug level.
func WithLogger(l *log.Logger) BuildOption {
	return func(c *buildConfig) { c.logger = l }
}

// Build assigns node indices in input order and derives every edge. nodes
// must be strictly ascending by address and every length must lie in
// [1, 15]; labels must be set on all nodes or on none.
//
// For node i at address a with length L, edges are emitted in this order:
// a NEXT/PREV pair with the node at a+L, then an OVERLAP pair with each node
// at o, a < o < a+L, in ascending o. Offsets without a node are skipped.
func Build(nodes []Node, enc Encoder, opts ...BuildOption) (*Graph, error) {
	cfg := buildConfig{segmentCapacity: DefaultSegmentCapacity}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.Discard()
	}

	n := len(nodes)
	g := &Graph{
		Codes: make([]int32, n),
		Sizes: make([]int32, n),
		Addrs: make([]uint64, n),
	}
	labelled := n > 0 && nodes[0].Label != nil
	if labelled {
		g.Labels = make([]bool, n)
	}

	for i, nd := range nodes {
		if i > 0 && nd.Addr <= nodes[i-1].Addr {
			return nil, shapeErrorf("node %d at 0x%x does not follow 0x%x", i, nd.Addr, nodes[i-1].Addr)
		}
		sz, ok := vocab.SizeCode(nd.Len)
		if !ok {
			return nil, shapeErrorf("node %d at 0x%x: length %d outside [1, %d]", i, nd.Addr, nd.Len, vocab.MaxInsnSize)
		}
		if (nd.Label != nil) != labelled {
			return nil, shapeErrorf("node %d at 0x%x: labels must be set on all nodes or none", i, nd.Addr)
		}
		g.Codes[i] = enc.Encode(nd.Class)
		g.Sizes[i] = sz
		g.Addrs[i] = nd.Addr
		if labelled {
			g.Labels[i] = *nd.Label
		}
	}

	arena := newEdgeArena(cfg.segmentCapacity)
	misses := 0
	for i, nd := range nodes {
		src := int32(i)
		// a candidate running past the top of the address space has no
		// successor and overlaps only the addresses below the wrap
		end := nd.Addr + uint64(nd.Len)
		if end < nd.Addr {
			misses++
		} else if j, ok := slices.BinarySearch(g.Addrs, end); ok {
			arena.pair(src, int32(j), Next, Prev)
		} else {
			misses++
		}
		for k := 1; k < nd.Len; k++ {
			o := nd.Addr + uint64(k)
			if o < nd.Addr {
				break
			}
			j, ok := slices.BinarySearch(g.Addrs, o)
			if !ok {
				misses++
				continue
			}
			arena.pair(src, int32(j), Overlap, Overlap)
		}
	}
	g.Edges, g.Types = arena.finalize()

	cfg.logger.Debug("graph built", "stats", g.Stats().String(), "lookup_misses", misses)
	return g, nil
}

// BuildCandidates encodes decoder output with v and builds its graph,
// labelling nodes from truth when it is non-nil.
func BuildCandidates(cands []disasm.Candidate, truth map[uint64]bool, v *vocab.Vocab, opts ...BuildOption) (*Graph, error) {
	return Build(FromCandidates(cands, truth), v, opts...)
}
