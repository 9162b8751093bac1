package evaluate_test

import (
	"fmt"

	"identify/internal/evaluate"
)

func ExampleEvaluate() {
	labels := []bool{true, false, true, true}
	r := evaluate.Evaluate(labels, []int32{0, 1, 2})
	fmt.Println(r.TruePositives, r.FalsePositives, r.FalseNegatives)
	fmt.Println(r.Summary())
	// Output:
	// [0 2] [1] [3]
	// tp=2 fp=1 fn=1 precision=0.6667 recall=0.6667 f1=0.6667
}
