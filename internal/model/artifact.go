package model

import (
	"encoding/json"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"identify/internal/graph"
	"identify/internal/npz"
)

const archEntry = "architecture.json"

// Save writes the weight set as an npz artifact: the architecture as JSON
// followed by one float32 array per weight tensor.
func (m *Model) Save(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	arch, err := json.MarshalIndent(m.Arch, "", "  ")
	if err != nil {
		return fmt.Errorf("encode architecture: %w", err)
	}

	zw := npz.NewWriter(w, true)
	if err := zw.AddRaw(archEntry, arch); err != nil {
		return err
	}
	if err := addMatrix(zw, "size_embedding", m.SizeEmb); err != nil {
		return err
	}
	if err := addMatrix(zw, "code_embedding", m.CodeEmb); err != nil {
		return err
	}
	for k, l := range m.Layers {
		in, out := m.Arch.LayerDims(k)
		stacked := make([]float32, 0, len(l.Relation)*in*out)
		for _, rm := range l.Relation {
			stacked = append(stacked, float32s(rm.RawMatrix().Data)...)
		}
		if err := zw.AddShaped(fmt.Sprintf("layers.%d.relation", k), []int{len(l.Relation), in, out}, stacked); err != nil {
			return err
		}
		if err := addMatrix(zw, fmt.Sprintf("layers.%d.root", k), l.Root); err != nil {
			return err
		}
		if err := zw.Add(fmt.Sprintf("layers.%d.bias", k), float32s(l.Bias)); err != nil {
			return err
		}
	}
	if err := addMatrix(zw, "head.weight", m.HeadW); err != nil {
		return err
	}
	if err := zw.Add("head.bias", float32s(m.HeadB)); err != nil {
		return err
	}
	return zw.Close()
}

// Load reads the artifact at path. Layer biases may be absent and default
// to zero; every other tensor is required.
func Load(path string) (*Model, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return read(r)
}

// Read is Load for an artifact held in memory.
func Read(ra io.ReaderAt, size int64) (*Model, error) {
	r, err := npz.NewReader(ra, size)
	if err != nil {
		return nil, err
	}
	return read(r)
}

func read(r *npz.Reader) (*Model, error) {
	raw, err := r.Raw(archEntry)
	if err != nil {
		return nil, err
	}
	arch := DefaultArchitecture()
	if err := json.Unmarshal(raw, &arch); err != nil {
		return nil, &npz.LoadError{Array: archEntry, Err: err}
	}
	m, err := New(arch)
	if err != nil {
		return nil, err
	}

	if err := readMatrix(r, "size_embedding", m.SizeEmb); err != nil {
		return nil, err
	}
	if err := readMatrix(r, "code_embedding", m.CodeEmb); err != nil {
		return nil, err
	}
	for k := range m.Layers {
		l := &m.Layers[k]
		in, out := arch.LayerDims(k)

		name := fmt.Sprintf("layers.%d.relation", k)
		a, err := r.Floats(name)
		if err != nil {
			return nil, err
		}
		if err := checkShape(name, a.Shape, arch.Relations, in, out); err != nil {
			return nil, err
		}
		for rel, w := range l.Relation {
			copy(w.RawMatrix().Data, a.Data[rel*in*out:(rel+1)*in*out])
		}

		if err := readMatrix(r, fmt.Sprintf("layers.%d.root", k), l.Root); err != nil {
			return nil, err
		}
		name = fmt.Sprintf("layers.%d.bias", k)
		if r.Has(name) {
			if err := readVector(r, name, l.Bias); err != nil {
				return nil, err
			}
		}
	}
	if err := readMatrix(r, "head.weight", m.HeadW); err != nil {
		return nil, err
	}
	if err := readVector(r, "head.bias", m.HeadB); err != nil {
		return nil, err
	}
	return m, nil
}

func addMatrix(zw *npz.Writer, name string, d *mat.Dense) error {
	rows, cols := d.Dims()
	data := make([]float32, 0, rows*cols)
	for i := range rows {
		data = append(data, float32s(d.RawRowView(i))...)
	}
	return zw.AddShaped(name, []int{rows, cols}, data)
}

func readMatrix(r *npz.Reader, name string, dst *mat.Dense) error {
	a, err := r.Floats(name)
	if err != nil {
		return err
	}
	rows, cols := dst.Dims()
	if err := checkShape(name, a.Shape, rows, cols); err != nil {
		return err
	}
	copy(dst.RawMatrix().Data, a.Data)
	return nil
}

func readVector(r *npz.Reader, name string, dst []float64) error {
	a, err := r.Floats(name)
	if err != nil {
		return err
	}
	if err := checkShape(name, a.Shape, len(dst)); err != nil {
		return err
	}
	copy(dst, a.Data)
	return nil
}

func checkShape(name string, got []int, want ...int) error {
	ok := len(got) == len(want)
	for i := 0; ok && i < len(got); i++ {
		ok = got[i] == want[i]
	}
	if !ok {
		return fmt.Errorf("%w: %s has shape %v, want %v", graph.ErrShapeMismatch, name, got, want)
	}
	return nil
}

func float32s(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
