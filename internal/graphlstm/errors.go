package graphlstm

import (
	"errors"
	"fmt"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
)

var (
	ErrShapeMismatch  = errors.New("shape mismatch")
	ErrIndexContract  = errors.New("index contract violation")
	ErrSequenceLength = errors.New("sequence length mismatch")
)

// classify maps layer-level errors onto the package taxonomy so callers only
// need to check the three sentinels above.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrShapeMismatch), errors.Is(err, ErrIndexContract), errors.Is(err, ErrSequenceLength):
		return err
	case errors.Is(err, nn.ErrEdgeIndex):
		return fmt.Errorf("%w: %w", ErrIndexContract, err)
	case errors.Is(err, nn.ErrDimension):
		return fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	default:
		return err
	}
}
