package vocab

import (
	"cmp"
	"slices"
)

// Builder counts class frequencies over sample supersets. It is only used to
// produce the ranked list that New consumes; the resulting Vocab is fixed.
type Builder struct {
	freq map[string]int
}

func NewBuilder() *Builder {
	return &Builder{freq: make(map[string]int)}
}

func (b *Builder) Add(class string) {
	b.freq[class]++
}

// Merge folds the counts of other into b.
func (b *Builder) Merge(other *Builder) {
	for c, n := range other.freq {
		b.freq[c] += n
	}
}

// Len is the number of distinct classes seen.
func (b *Builder) Len() int { return len(b.freq) }

// Ranked returns classes by descending frequency, ties broken by name.
// INVALID is never ranked.
func (b *Builder) Ranked() []string {
	type entry struct {
		class string
		n     int
	}
	entries := make([]entry, 0, len(b.freq))
	for c, n := range b.freq {
		if c == InvalidName || c == UnknownName {
			continue
		}
		entries = append(entries, entry{c, n})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if a.n != b.n {
			return cmp.Compare(b.n, a.n)
		}
		return cmp.Compare(a.class, b.class)
	})

	ranked := make([]string, len(entries))
	for i, e := range entries {
		ranked[i] = e.class
	}
	return ranked
}

// Build keeps the size-2 most frequent classes.
func (b *Builder) Build(size int) (*Vocab, error) {
	return New(b.Ranked(), size)
}
