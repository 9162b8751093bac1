package inference

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"identify/internal/graph"
	"identify/internal/model"
	"identify/internal/npz"
)

// biasModel pushes every node whose code is 3 above the threshold.
func biasModel(t *testing.T) *model.Model {
	t.Helper()
	arch := model.DefaultArchitecture()
	arch.VocabSize = 6
	m, err := model.New(arch)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	m.CodeEmb.Set(3, 0, 2)
	m.Layers[0].Root.Set(arch.SizeDim, 0, 1)
	for k := 1; k < len(m.Layers); k++ {
		m.Layers[k].Root.Set(0, 0, 1)
	}
	m.HeadW.Set(1, 0, 1)
	return m
}

func TestPredict(t *testing.T) {
	g := &graph.Graph{
		Codes: []int32{3, 1, 3, 2},
		Sizes: []int32{0, 1, 2, 0},
		Addrs: []uint64{0x10, 0x11, 0x13, 0x16},
		Edges: []graph.Edge{{Src: 0, Dst: 1}, {Src: 1, Dst: 0}},
		Types: []graph.Relation{graph.Overlap, graph.Overlap},
	}
	d := NewDriver(biasModel(t))

	p, err := d.Predict(g)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if want := []int32{0, 2}; !slices.Equal(p.Indices, want) {
		t.Errorf("Indices = %v, want %v", p.Indices, want)
	}
	if len(p.Probabilities) != g.N() {
		t.Errorf("%d probabilities for %d nodes", len(p.Probabilities), g.N())
	}
	if want := []uint64{0x10, 0x13}; !slices.Equal(p.Addresses(g), want) {
		t.Errorf("Addresses = %#x, want %#x", p.Addresses(g), want)
	}

	g.Addrs = nil
	if p.Addresses(g) != nil {
		t.Errorf("Addresses without graph addresses should be nil")
	}
}

func TestPredictThreshold(t *testing.T) {
	g := &graph.Graph{Codes: []int32{3, 1}, Sizes: []int32{0, 0}}

	p, err := NewDriver(biasModel(t), WithThreshold(0.999)).Predict(g)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(p.Indices) != 0 {
		t.Errorf("Indices = %v, want none above 0.999", p.Indices)
	}

	p, err = NewDriver(biasModel(t), WithThreshold(0.4)).Predict(g)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if want := []int32{0, 1}; !slices.Equal(p.Indices, want) {
		t.Errorf("Indices = %v, want %v", p.Indices, want)
	}
}

func TestPredictShapeMismatch(t *testing.T) {
	g := &graph.Graph{Codes: []int32{9}, Sizes: []int32{0}}
	if _, err := NewDriver(biasModel(t)).Predict(g); !errors.Is(err, graph.ErrShapeMismatch) {
		t.Errorf("Predict = %v, want ErrShapeMismatch", err)
	}
}

func TestCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stock.model")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := biasModel(t).Save(f); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.Close()

	c, err := NewCache(2)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	loads := 0
	c.load = func(p string) (*model.Model, error) {
		loads++
		return model.Load(p)
	}

	first, err := c.Model(path)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	second, err := c.Model(path)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	if first != second || loads != 1 {
		t.Errorf("model loaded %d times, want once", loads)
	}

	_, err = c.Model(filepath.Join(dir, "missing.model"))
	var le *npz.LoadError
	if !errors.As(err, &le) {
		t.Errorf("missing model: err = %v, want LoadError", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
