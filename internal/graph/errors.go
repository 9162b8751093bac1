package graph

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is wrapped by every array-length or bound inconsistency
// found while building, loading or validating a graph.
var ErrShapeMismatch = errors.New("shape mismatch")

func shapeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}
