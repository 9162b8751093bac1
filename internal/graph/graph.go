// Package graph builds the relational graph over superset-disassembly
// candidates: one node per candidate, NEXT/PREV edges between candidates
// that follow each other and OVERLAP edges between candidates that share
// bytes.
package graph

import (
	"fmt"
	"strings"

	"identify/internal/vocab"
)

// Edge is a directed edge between two node indices.
type Edge struct {
	Src int32
	Dst int32
}

// Graph is the immutable input of the classifier. Node arrays are indexed by
// node index (ascending candidate address); Edges and Types are parallel.
type Graph struct {
	Codes  []int32  // opcode class ids
	Sizes  []int32  // size codes, instruction length minus one
	Labels []bool   // ground truth, nil when unknown
	Addrs  []uint64 // candidate addresses, nil when unknown
	Edges  []Edge
	Types  []Relation
}

// N is the number of nodes.
func (g *Graph) N() int { return len(g.Codes) }

// E is the number of edges.
func (g *Graph) E() int { return len(g.Edges) }

// HasLabels reports whether the graph carries ground truth.
func (g *Graph) HasLabels() bool { return g.Labels != nil }

// Validate checks every array-length and bound invariant. All failures wrap
// ErrShapeMismatch.
func (g *Graph) Validate() error {
	n := len(g.Codes)
	if len(g.Sizes) != n {
		return shapeErrorf("%d sizes for %d nodes", len(g.Sizes), n)
	}
	if g.Labels != nil && len(g.Labels) != n {
		return shapeErrorf("%d labels for %d nodes", len(g.Labels), n)
	}
	if g.Addrs != nil && len(g.Addrs) != n {
		return shapeErrorf("%d addresses for %d nodes", len(g.Addrs), n)
	}
	if len(g.Edges) != len(g.Types) {
		return shapeErrorf("%d edges but %d relation types", len(g.Edges), len(g.Types))
	}
	for i, c := range g.Codes {
		if c < 0 {
			return shapeErrorf("node %d: negative code %d", i, c)
		}
	}
	for i, s := range g.Sizes {
		if s < 0 || s >= vocab.MaxInsnSize {
			return shapeErrorf("node %d: size code %d outside [0, %d)", i, s, vocab.MaxInsnSize)
		}
	}
	for k, e := range g.Edges {
		if e.Src < 0 || int(e.Src) >= n || e.Dst < 0 || int(e.Dst) >= n {
			return shapeErrorf("edge %d: endpoint (%d, %d) outside [0, %d)", k, e.Src, e.Dst, n)
		}
		if !g.Types[k].Valid() {
			return shapeErrorf("edge %d: relation type %d outside [0, %d)", k, g.Types[k], RelationCount)
		}
	}
	return nil
}

// Stats summarises a graph.
type Stats struct {
	Nodes       int
	Edges       int
	Positive    int // labelled true, 0 without labels
	PerRelation [RelationCount]int
}

// Stats counts nodes, labels and edges per relation type.
func (g *Graph) Stats() Stats {
	s := Stats{Nodes: g.N(), Edges: g.E()}
	for _, l := range g.Labels {
		if l {
			s.Positive++
		}
	}
	for _, t := range g.Types {
		if t.Valid() {
			s.PerRelation[t]++
		}
	}
	return s
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d nodes, %d edges", s.Nodes, s.Edges)
	for _, r := range Relations {
		fmt.Fprintf(&b, ", %s=%d", r, s.PerRelation[r])
	}
	return b.String()
}
