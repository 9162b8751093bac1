package graph

import "fmt"

// Relation tags an edge with the structural relationship between two
// candidates. The set is closed; the classifier holds one weight matrix per
// value.
type Relation uint8

const (
	// Next links a candidate to the candidate starting right after its last byte.
	Next Relation = iota
	// Prev is the reverse of Next.
	Prev
	// Overlap links candidates whose byte ranges intersect.
	Overlap
)

// RelationCount is the number of relation types.
const RelationCount = 3

// Relations lists every relation type in id order.
var Relations = [RelationCount]Relation{Next, Prev, Overlap}

func (r Relation) Valid() bool { return r < RelationCount }

func (r Relation) String() string {
	switch r {
	case Next:
		return "NEXT"
	case Prev:
		return "PREV"
	case Overlap:
		return "OVERLAP"
	default:
		return fmt.Sprintf("Relation(%d)", uint8(r))
	}
}
