package graph

import (
	"errors"
	"io"

	"identify/internal/npz"
	"identify/internal/vocab"
)

// Array names of the graph archive.
const (
	arrCodes     = "instruction_codes"
	arrSizes     = "instruction_sizes"
	arrLabels    = "instruction_labels"
	arrAddrs     = "instruction_addresses"
	arrRelations = "relations"
	arrTypes     = "relation_types"
)

// Write stores g as an npz archive. Sizes are written as instruction lengths
// (1..15) and relations as an E×2 array of (src, dst) rows.
func Write(w io.Writer, g *Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}

	sizes := make([]int32, len(g.Sizes))
	for i, s := range g.Sizes {
		sizes[i] = s + 1
	}
	rel := make([]int32, 0, 2*len(g.Edges))
	for _, e := range g.Edges {
		rel = append(rel, e.Src, e.Dst)
	}
	types := make([]uint8, len(g.Types))
	for i, t := range g.Types {
		types[i] = uint8(t)
	}

	zw := npz.NewWriter(w, true)
	if err := zw.Add(arrCodes, g.Codes); err != nil {
		return err
	}
	if err := zw.Add(arrSizes, sizes); err != nil {
		return err
	}
	if g.Labels != nil {
		labels := make([]uint8, len(g.Labels))
		for i, l := range g.Labels {
			if l {
				labels[i] = 1
			}
		}
		if err := zw.Add(arrLabels, labels); err != nil {
			return err
		}
	}
	if g.Addrs != nil {
		if err := zw.Add(arrAddrs, g.Addrs); err != nil {
			return err
		}
	}
	if err := zw.AddShaped(arrRelations, []int{g.E(), 2}, rel); err != nil {
		return err
	}
	if err := zw.Add(arrTypes, types); err != nil {
		return err
	}
	return zw.Close()
}

// Load reads the graph archive at path. Code ids at or beyond vocabSize are
// remapped to UNKNOWN; a vocabSize of zero disables the remapping.
func Load(path string, vocabSize int) (*Graph, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return read(r, vocabSize)
}

// Read is Load for an archive held in memory.
func Read(ra io.ReaderAt, size int64, vocabSize int) (*Graph, error) {
	r, err := npz.NewReader(ra, size)
	if err != nil {
		return nil, err
	}
	return read(r, vocabSize)
}

func read(r *npz.Reader, vocabSize int) (*Graph, error) {
	codes, err := r.Ints(arrCodes)
	if err != nil {
		return nil, err
	}
	sizes, err := r.Ints(arrSizes)
	if err != nil {
		return nil, err
	}
	rel, err := r.Ints(arrRelations)
	if err != nil {
		return nil, err
	}
	types, err := r.Ints(arrTypes)
	if err != nil {
		return nil, err
	}

	n := len(codes.Data)
	g := &Graph{
		Codes: make([]int32, n),
		Sizes: make([]int32, n),
	}
	for i, c := range codes.Data {
		if c < 0 || (vocabSize > 0 && c >= int64(vocabSize)) {
			c = vocab.Unknown
		}
		g.Codes[i] = int32(c)
	}

	if len(sizes.Data) != n {
		return nil, shapeErrorf("%s has %d entries for %d nodes", arrSizes, len(sizes.Data), n)
	}
	for i, s := range sizes.Data {
		sz, ok := vocab.SizeCode(int(s))
		if !ok {
			return nil, shapeErrorf("%s[%d] = %d outside [1, %d]", arrSizes, i, s, vocab.MaxInsnSize)
		}
		g.Sizes[i] = sz
	}

	if err := readOptional(r, arrLabels, n, func(vals []int64) {
		g.Labels = make([]bool, n)
		for i, v := range vals {
			g.Labels[i] = v != 0
		}
	}); err != nil {
		return nil, err
	}
	if err := readOptional(r, arrAddrs, n, func(vals []int64) {
		g.Addrs = make([]uint64, n)
		for i, v := range vals {
			g.Addrs[i] = uint64(v)
		}
	}); err != nil {
		return nil, err
	}

	e := len(types.Data)
	if len(rel.Data) == 0 && e == 0 {
		g.Edges, g.Types = []Edge{}, []Relation{}
		return validated(g)
	}
	if len(rel.Shape) != 2 || rel.Shape[1] != 2 || rel.Shape[0] != e {
		return nil, shapeErrorf("%s has shape %v, want (%d, 2)", arrRelations, rel.Shape, e)
	}
	g.Edges = make([]Edge, e)
	g.Types = make([]Relation, e)
	for k := range e {
		src, dst := rel.Data[2*k], rel.Data[2*k+1]
		if src < 0 || src >= int64(n) || dst < 0 || dst >= int64(n) {
			return nil, shapeErrorf("%s[%d] = (%d, %d) outside [0, %d)", arrRelations, k, src, dst, n)
		}
		g.Edges[k] = Edge{Src: int32(src), Dst: int32(dst)}
		t := types.Data[k]
		if t < 0 || t >= RelationCount {
			return nil, shapeErrorf("%s[%d] = %d outside [0, %d)", arrTypes, k, t, RelationCount)
		}
		g.Types[k] = Relation(t)
	}
	return validated(g)
}

func validated(g *Graph) (*Graph, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func readOptional(r *npz.Reader, name string, n int, set func([]int64)) error {
	if !r.Has(name) {
		return nil
	}
	arr, err := r.Ints(name)
	if err != nil {
		if errors.Is(err, npz.ErrMissing) {
			return nil
		}
		return err
	}
	if len(arr.Data) != n {
		return shapeErrorf("%s has %d entries for %d nodes", name, len(arr.Data), n)
	}
	set(arr.Data)
	return nil
}
