package npz

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/sbinet/npyio"
)

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{true, false} {
		name := "stored"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf, compress)
			if err := w.Add("codes", []int32{2, 3, 1, 0}); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if err := w.Add("labels", []uint8{1, 0, 0, 1}); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if err := w.AddShaped("pairs", []int{3, 2}, []int32{0, 2, 2, 0, 0, 1}); err != nil {
				t.Fatalf("AddShaped failed: %v", err)
			}
			if err := w.AddShaped("weights", []int{2, 2, 1}, []float32{0.5, -1, 2, 0.25}); err != nil {
				t.Fatalf("AddShaped failed: %v", err)
			}
			if err := w.AddRaw("meta.json", []byte(`{"k":1}`)); err != nil {
				t.Fatalf("AddRaw failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}

			codes, err := r.Ints("codes")
			if err != nil {
				t.Fatalf("Ints(codes) failed: %v", err)
			}
			if !slices.Equal(codes.Data, []int64{2, 3, 1, 0}) || !slices.Equal(codes.Shape, []int{4}) {
				t.Errorf("codes = %v %v", codes.Data, codes.Shape)
			}

			labels, err := r.Ints("labels")
			if err != nil {
				t.Fatalf("Ints(labels) failed: %v", err)
			}
			if !slices.Equal(labels.Data, []int64{1, 0, 0, 1}) {
				t.Errorf("labels = %v", labels.Data)
			}

			pairs, err := r.Ints("pairs")
			if err != nil {
				t.Fatalf("Ints(pairs) failed: %v", err)
			}
			if !slices.Equal(pairs.Shape, []int{3, 2}) || !slices.Equal(pairs.Data, []int64{0, 2, 2, 0, 0, 1}) {
				t.Errorf("pairs = %v %v", pairs.Data, pairs.Shape)
			}

			weights, err := r.Floats("weights")
			if err != nil {
				t.Fatalf("Floats(weights) failed: %v", err)
			}
			if !slices.Equal(weights.Shape, []int{2, 2, 1}) || !slices.Equal(weights.Data, []float64{0.5, -1, 2, 0.25}) {
				t.Errorf("weights = %v %v", weights.Data, weights.Shape)
			}

			raw, err := r.Raw("meta.json")
			if err != nil || string(raw) != `{"k":1}` {
				t.Errorf("Raw = %q, %v", raw, err)
			}

			if !r.Has("codes") || r.Has("missing") {
				t.Errorf("Has reports wrong membership")
			}
		})
	}
}

func TestMissingArray(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	_, err = r.Ints("relations")
	var le *LoadError
	if !errors.As(err, &le) || le.Array != "relations" {
		t.Fatalf("expected LoadError for relations, got %v", err)
	}
	if !errors.Is(err, ErrMissing) {
		t.Errorf("expected ErrMissing, got %v", err)
	}
}

func TestMalformedArchive(t *testing.T) {
	data := []byte("definitely not a zip file")
	_, err := NewReader(bytes.NewReader(data), int64(len(data)))
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestAddShapedMismatch(t *testing.T) {
	w := NewWriter(&bytes.Buffer{}, false)
	if err := w.AddShaped("x", []int{2, 2}, []int32{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a shape/data mismatch")
	}
	if err := w.AddShaped("x", []int{1}, []string{"a"}); err == nil {
		t.Fatal("expected an error for an unsupported element type")
	}
}

func TestOneDimensionalEntries(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{name: "int32", data: []int32{2, 3, 1, 0}},
		{name: "uint8", data: []uint8{1, 0, 1}},
		{name: "uint64", data: []uint64{0x8048060}},
		{name: "float32", data: []float32{0.5, -1}},
		{name: "empty", data: []int32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var want bytes.Buffer
			if err := npyio.Write(&want, tt.data); err != nil {
				t.Fatalf("npyio.Write failed: %v", err)
			}

			var buf bytes.Buffer
			w := NewWriter(&buf, true)
			if err := w.Add("flat", tt.data); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			_, n, err := describe(tt.data)
			if err != nil {
				t.Fatalf("describe failed: %v", err)
			}
			if err := w.AddShaped("shaped", []int{n}, tt.data); err != nil {
				t.Fatalf("AddShaped failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			for _, entry := range []string{"flat.npy", "shaped.npy"} {
				got, err := r.Raw(entry)
				if err != nil {
					t.Fatalf("Raw(%s) failed: %v", entry, err)
				}
				if !bytes.Equal(got, want.Bytes()) {
					t.Errorf("%s differs from the npyio encoding", entry)
				}
			}
		})
	}
}
