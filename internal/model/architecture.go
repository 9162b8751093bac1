// Package model holds the relational graph classifier: two embedding tables,
// a stack of relational layers with one weight matrix per relation type, and
// a linear head producing two logits per node.
package model

import (
	"fmt"

	"identify/internal/graph"
	"identify/internal/vocab"
)

// Aggregation modes for messages of one relation type arriving at a node.
const (
	AggregateSum  = "sum"
	AggregateMean = "mean"
)

// Architecture fixes every dimension of a weight set.
type Architecture struct {
	VocabSize int   `json:"vocab_size"`
	SizeVocab int   `json:"size_vocab"`
	SizeDim   int   `json:"size_dim"`
	CodeDim   int   `json:"code_dim"`
	Hidden    []int `json:"hidden"`
	Classes   int   `json:"classes"`
	Relations int   `json:"relations"`

	// Aggregation is "sum" or "mean". Mean divides the messages of each
	// relation by that relation's in-degree of the receiving node.
	Aggregation string `json:"aggregation"`
	// ReLUAfterLastLayer applies the activation after the final relational
	// layer as well, before the head.
	ReLUAfterLastLayer bool `json:"relu_after_last_layer"`
}

// DefaultArchitecture is the stock classifier: 4+32 input features and
// relational layers of width 24, 16, 8 and 4.
func DefaultArchitecture() Architecture {
	return Architecture{
		VocabSize:   vocab.DefaultSize,
		SizeVocab:   vocab.MaxInsnSize,
		SizeDim:     4,
		CodeDim:     32,
		Hidden:      []int{24, 16, 8, 4},
		Classes:     2,
		Relations:   graph.RelationCount,
		Aggregation: AggregateSum,
	}
}

// InputDim is the width of a node's concatenated embeddings.
func (a Architecture) InputDim() int { return a.SizeDim + a.CodeDim }

// LayerDims returns the (in, out) width of relational layer k.
func (a Architecture) LayerDims(k int) (int, int) {
	in := a.InputDim()
	if k > 0 {
		in = a.Hidden[k-1]
	}
	return in, a.Hidden[k]
}

// OutputDim is the width fed to the head.
func (a Architecture) OutputDim() int {
	if len(a.Hidden) == 0 {
		return a.InputDim()
	}
	return a.Hidden[len(a.Hidden)-1]
}

// Validate rejects architectures the forward pass cannot run.
func (a Architecture) Validate() error {
	switch {
	case a.VocabSize <= 0 || a.SizeVocab <= 0:
		return fmt.Errorf("%w: embedding tables %d×%d and %d×%d", graph.ErrShapeMismatch, a.SizeVocab, a.SizeDim, a.VocabSize, a.CodeDim)
	case a.SizeDim <= 0 || a.CodeDim <= 0:
		return fmt.Errorf("%w: embedding widths %d and %d", graph.ErrShapeMismatch, a.SizeDim, a.CodeDim)
	case a.Classes != 2:
		return fmt.Errorf("%w: %d classes, want 2", graph.ErrShapeMismatch, a.Classes)
	case a.Relations != graph.RelationCount:
		return fmt.Errorf("%w: %d relation types, want %d", graph.ErrShapeMismatch, a.Relations, graph.RelationCount)
	}
	for k, h := range a.Hidden {
		if h <= 0 {
			return fmt.Errorf("%w: layer %d width %d", graph.ErrShapeMismatch, k, h)
		}
	}
	switch a.Aggregation {
	case AggregateSum, AggregateMean:
	default:
		return fmt.Errorf("unknown aggregation %q", a.Aggregation)
	}
	return nil
}
