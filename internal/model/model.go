package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"identify/internal/graph"
)

// Layer is one relational layer. Relation[r] and Root are in×out matrices
// applied as x·W; Bias has out entries.
type Layer struct {
	Relation []*mat.Dense
	Root     *mat.Dense
	Bias     []float64
}

// Model is a complete weight set. It is read-only once built and safe for
// concurrent use.
type Model struct {
	Arch    Architecture
	SizeEmb *mat.Dense // SizeVocab×SizeDim
	CodeEmb *mat.Dense // VocabSize×CodeDim
	Layers  []Layer
	HeadW   *mat.Dense // Classes×OutputDim
	HeadB   []float64
}

// New returns a zero weight set shaped by arch.
func New(arch Architecture) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		Arch:    arch,
		SizeEmb: mat.NewDense(arch.SizeVocab, arch.SizeDim, nil),
		CodeEmb: mat.NewDense(arch.VocabSize, arch.CodeDim, nil),
		HeadW:   mat.NewDense(arch.Classes, arch.OutputDim(), nil),
		HeadB:   make([]float64, arch.Classes),
	}
	for k := range arch.Hidden {
		in, out := arch.LayerDims(k)
		l := Layer{
			Relation: make([]*mat.Dense, arch.Relations),
			Root:     mat.NewDense(in, out, nil),
			Bias:     make([]float64, out),
		}
		for r := range l.Relation {
			l.Relation[r] = mat.NewDense(in, out, nil)
		}
		m.Layers = append(m.Layers, l)
	}
	return m, nil
}

// Random returns a weight set drawn from a seeded source: embeddings from a
// standard normal, layer and head weights Glorot-uniform, biases zero.
func Random(arch Architecture, seed uint64) (*Model, error) {
	m, err := New(arch)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	fillNormal := func(d *mat.Dense) {
		raw := d.RawMatrix().Data
		for i := range raw {
			raw[i] = rng.NormFloat64()
		}
	}
	fillGlorot := func(d *mat.Dense) {
		r, c := d.Dims()
		bound := math.Sqrt(6 / float64(r+c))
		raw := d.RawMatrix().Data
		for i := range raw {
			raw[i] = (2*rng.Float64() - 1) * bound
		}
	}

	fillNormal(m.SizeEmb)
	fillNormal(m.CodeEmb)
	for _, l := range m.Layers {
		for _, w := range l.Relation {
			fillGlorot(w)
		}
		fillGlorot(l.Root)
	}
	fillGlorot(m.HeadW)
	return m, nil
}

// WithArchitecture returns a model sharing m's weights under arch. Only the
// settings that leave tensor shapes unchanged may differ.
func (m *Model) WithArchitecture(arch Architecture) (*Model, error) {
	cp := *m
	cp.Arch = arch
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Validate checks every weight against the architecture.
func (m *Model) Validate() error {
	a := m.Arch
	if err := a.Validate(); err != nil {
		return err
	}
	if err := checkDims("size_embedding", m.SizeEmb, a.SizeVocab, a.SizeDim); err != nil {
		return err
	}
	if err := checkDims("code_embedding", m.CodeEmb, a.VocabSize, a.CodeDim); err != nil {
		return err
	}
	if len(m.Layers) != len(a.Hidden) {
		return fmt.Errorf("%w: %d layers, architecture has %d", graph.ErrShapeMismatch, len(m.Layers), len(a.Hidden))
	}
	for k, l := range m.Layers {
		in, out := a.LayerDims(k)
		if len(l.Relation) != a.Relations {
			return fmt.Errorf("%w: layer %d has %d relation matrices, want %d", graph.ErrShapeMismatch, k, len(l.Relation), a.Relations)
		}
		for r, w := range l.Relation {
			if err := checkDims(fmt.Sprintf("layers.%d.relation[%d]", k, r), w, in, out); err != nil {
				return err
			}
		}
		if err := checkDims(fmt.Sprintf("layers.%d.root", k), l.Root, in, out); err != nil {
			return err
		}
		if len(l.Bias) != out {
			return fmt.Errorf("%w: layers.%d.bias has %d entries, want %d", graph.ErrShapeMismatch, k, len(l.Bias), out)
		}
	}
	if err := checkDims("head.weight", m.HeadW, a.Classes, a.OutputDim()); err != nil {
		return err
	}
	if len(m.HeadB) != a.Classes {
		return fmt.Errorf("%w: head.bias has %d entries, want %d", graph.ErrShapeMismatch, len(m.HeadB), a.Classes)
	}
	return nil
}

func checkDims(name string, d *mat.Dense, rows, cols int) error {
	if d == nil {
		return fmt.Errorf("%w: %s missing", graph.ErrShapeMismatch, name)
	}
	r, c := d.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("%w: %s is %d×%d, want %d×%d", graph.ErrShapeMismatch, name, r, c, rows, cols)
	}
	return nil
}
