package graph

// DefaultSegmentCapacity is the number of edges a segment holds before it is
// sealed and a new one started.
const DefaultSegmentCapacity = 1 << 16

type segment struct {
	edges []Edge
	types []Relation
}

// edgeArena accumulates edges in fixed-capacity segments so that growth never
// copies the edges already written. Edge and type slices are appended
// together; their lengths are equal at all times.
type edgeArena struct {
	capacity int
	sealed   []segment
	cur      segment
	total    int
}

func newEdgeArena(capacity int) *edgeArena {
	if capacity <= 0 {
		capacity = DefaultSegmentCapacity
	}
	return &edgeArena{
		capacity: capacity,
		cur:      segment{edges: make([]Edge, 0, capacity), types: make([]Relation, 0, capacity)},
	}
}

func (a *edgeArena) add(src, dst int32, rel Relation) {
	if len(a.cur.edges) == a.capacity {
		a.flush()
	}
	a.cur.edges = append(a.cur.edges, Edge{Src: src, Dst: dst})
	a.cur.types = append(a.cur.types, rel)
	a.total++
}

// pair adds src→dst tagged fwd and dst→src tagged back.
func (a *edgeArena) pair(src, dst int32, fwd, back Relation) {
	a.add(src, dst, fwd)
	a.add(dst, src, back)
}

func (a *edgeArena) flush() {
	a.sealed = append(a.sealed, a.cur)
	a.cur = segment{edges: make([]Edge, 0, a.capacity), types: make([]Relation, 0, a.capacity)}
}

func (a *edgeArena) len() int { return a.total }

// finalize concatenates every segment in construction order.
func (a *edgeArena) finalize() ([]Edge, []Relation) {
	edges := make([]Edge, 0, a.total)
	types := make([]Relation, 0, a.total)
	for _, s := range a.sealed {
		edges = append(edges, s.edges...)
		types = append(types, s.types...)
	}
	edges = append(edges, a.cur.edges...)
	types = append(types, a.cur.types...)

	a.sealed = nil
	a.cur = segment{}
	return edges, types
}
