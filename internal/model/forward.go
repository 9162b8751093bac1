package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"identify/internal/graph"
)

// Logits runs the classifier over g and returns an N×2 matrix, one row per
// node in index order. A graph with no nodes yields an empty matrix.
//
// Each relational layer computes, for node d,
//
//	h'_d = h_d·Root + bias + Σ_r Σ_{(s→d, r)} h_s·W_r
//
// with the inner sum replaced by a mean under mean aggregation.
func (m *Model) Logits(g *graph.Graph) (*mat.Dense, error) {
	if err := m.check(g); err != nil {
		return nil, err
	}
	n := g.N()
	if n == 0 {
		return &mat.Dense{}, nil
	}

	h := m.embed(g)
	var inv [][]float64
	if m.Arch.Aggregation == AggregateMean {
		inv = inverseDegrees(g, m.Arch.Relations)
	}
	for k, l := range m.Layers {
		h = m.propagate(h, l, g, inv)
		if k < len(m.Layers)-1 || m.Arch.ReLUAfterLastLayer {
			relu(h)
		}
	}

	var out mat.Dense
	out.Mul(h, m.HeadW.T())
	addBias(&out, m.HeadB)
	return &out, nil
}

// Probabilities returns the class-1 softmax probability of every node.
func (m *Model) Probabilities(g *graph.Graph) ([]float64, error) {
	logits, err := m.Logits(g)
	if err != nil {
		return nil, err
	}
	if logits.IsEmpty() {
		return []float64{}, nil
	}
	n, _ := logits.Dims()
	p := make([]float64, n)
	for i := range n {
		// softmax over two classes, written to stay finite for large logits
		p[i] = 1 / (1 + math.Exp(logits.At(i, 0)-logits.At(i, 1)))
	}
	return p, nil
}

func (m *Model) check(g *graph.Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	for i, c := range g.Codes {
		if int(c) >= m.Arch.VocabSize {
			return fmt.Errorf("%w: node %d code %d outside [0, %d)", graph.ErrShapeMismatch, i, c, m.Arch.VocabSize)
		}
	}
	for i, s := range g.Sizes {
		if int(s) >= m.Arch.SizeVocab {
			return fmt.Errorf("%w: node %d size code %d outside [0, %d)", graph.ErrShapeMismatch, i, s, m.Arch.SizeVocab)
		}
	}
	return nil
}

// embed concatenates the size and code embeddings of every node, size first.
func (m *Model) embed(g *graph.Graph) *mat.Dense {
	sd, cd := m.Arch.SizeDim, m.Arch.CodeDim
	x := mat.NewDense(g.N(), sd+cd, nil)
	for i := range g.N() {
		row := x.RawRowView(i)
		copy(row[:sd], m.SizeEmb.RawRowView(int(g.Sizes[i])))
		copy(row[sd:], m.CodeEmb.RawRowView(int(g.Codes[i])))
	}
	return x
}

func (m *Model) propagate(h *mat.Dense, l Layer, g *graph.Graph, inv [][]float64) *mat.Dense {
	var out mat.Dense
	out.Mul(h, l.Root)
	addBias(&out, l.Bias)

	var present [graph.RelationCount]bool
	for _, t := range g.Types {
		present[t] = true
	}
	for r, w := range l.Relation {
		if !present[r] {
			continue
		}
		var msg mat.Dense
		msg.Mul(h, w)
		for k, e := range g.Edges {
			if int(g.Types[k]) != r {
				continue
			}
			dst := out.RawRowView(int(e.Dst))
			src := msg.RawRowView(int(e.Src))
			scale := 1.0
			if inv != nil {
				scale = inv[r][e.Dst]
			}
			for j, v := range src {
				dst[j] += scale * v
			}
		}
	}
	return &out
}

// inverseDegrees returns 1/deg_r(d) for every relation and destination.
func inverseDegrees(g *graph.Graph, relations int) [][]float64 {
	inv := make([][]float64, relations)
	for r := range inv {
		inv[r] = make([]float64, g.N())
	}
	for k, e := range g.Edges {
		inv[g.Types[k]][e.Dst]++
	}
	for r := range inv {
		for d, c := range inv[r] {
			if c > 0 {
				inv[r][d] = 1 / c
			}
		}
	}
	return inv
}

func addBias(d *mat.Dense, bias []float64) {
	r, _ := d.Dims()
	for i := range r {
		row := d.RawRowView(i)
		for j, b := range bias {
			row[j] += b
		}
	}
}

func relu(d *mat.Dense) {
	d.Apply(func(_, _ int, v float64) float64 { return max(v, 0) }, d)
}
