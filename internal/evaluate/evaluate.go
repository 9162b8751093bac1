// Package evaluate scores predicted instruction boundaries against ground
// truth labels.
package evaluate

import (
	"fmt"
	"slices"
	"strings"
)

// Result partitions node indices by outcome. Each slice is ascending.
type Result struct {
	TruePositives  []int32
	FalsePositives []int32
	FalseNegatives []int32
}

// Evaluate compares predicted node indices with labels. Indices outside
// labels count as false positives.
func Evaluate(labels []bool, predicted []int32) Result {
	var r Result
	hit := make([]bool, len(labels))
	sorted := slices.Clone(predicted)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for _, idx := range sorted {
		if idx >= 0 && int(idx) < len(labels) && labels[idx] {
			r.TruePositives = append(r.TruePositives, idx)
			hit[idx] = true
		} else {
			r.FalsePositives = append(r.FalsePositives, idx)
		}
	}
	for i, l := range labels {
		if l && !hit[i] {
			r.FalseNegatives = append(r.FalseNegatives, int32(i))
		}
	}
	return r
}

// Summary holds counts and the derived scores. Scores are zero when their
// denominator is.
type Summary struct {
	Name           string  `json:"name,omitempty"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Summary counts r and computes precision, recall and F1.
func (r Result) Summary() Summary {
	return newSummary(len(r.TruePositives), len(r.FalsePositives), len(r.FalseNegatives))
}

func newSummary(tp, fp, fn int) Summary {
	s := Summary{TruePositives: tp, FalsePositives: fp, FalseNegatives: fn}
	if tp+fp > 0 {
		s.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		s.Recall = float64(tp) / float64(tp+fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// Total sums the counts of several summaries and recomputes the scores.
func Total(sums []Summary) Summary {
	var tp, fp, fn int
	for _, s := range sums {
		tp += s.TruePositives
		fp += s.FalsePositives
		fn += s.FalseNegatives
	}
	t := newSummary(tp, fp, fn)
	t.Name = "total"
	return t
}

func (s Summary) String() string {
	return fmt.Sprintf("tp=%d fp=%d fn=%d precision=%.4f recall=%.4f f1=%.4f",
		s.TruePositives, s.FalsePositives, s.FalseNegatives, s.Precision, s.Recall, s.F1)
}

// Markdown renders summaries as a table, with a total row when there is
// more than one.
func Markdown(sums []Summary) string {
	var b strings.Builder
	b.WriteString("| graph | TP | FP | FN | precision | recall | F1 |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|\n")
	row := func(s Summary) {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %.4f | %.4f | %.4f |\n",
			s.Name, s.TruePositives, s.FalsePositives, s.FalseNegatives, s.Precision, s.Recall, s.F1)
	}
	for _, s := range sums {
		row(s)
	}
	if len(sums) > 1 {
		t := Total(sums)
		t.Name = "**total**"
		row(t)
	}
	return b.String()
}
