package tuning

import (
	"context"
	"errors"
	"fmt"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/metrics"
)

// Objective scores a vector by writing it into sel and decoding batches with
// m. Fitness is the negated mean masked MSE over batches. The model is
// mutated on every call, so the returned function must not run concurrently
// with other users of m.
type Objective struct {
	Model   *graphlstm.GraphLSTM
	Sel     Selection
	Batches []*graphlstm.Batch
	Columns []int
	Sample  bool
}

func (o Objective) Fitness() FitnessFn {
	return func(ctx context.Context, params []float64) (float64, error) {
		if err := o.Sel.Apply(params); err != nil {
			return 0, err
		}
		loss, err := o.Loss(ctx)
		if err != nil {
			return 0, err
		}
		return -loss, nil
	}
}

// Loss is the mean masked MSE of the current weights over all batches.
func (o Objective) Loss(ctx context.Context) (float64, error) {
	if len(o.Batches) == 0 {
		return 0, errors.New("objective needs at least one batch")
	}
	total := 0.0
	for i, b := range o.Batches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if b.Targets == nil {
			return 0, fmt.Errorf("batch %d has no targets", i)
		}
		res, err := o.Model.Forward(b, o.Sample)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i, err)
		}
		target, err := b.Targets.Gather(res.Indices)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i, err)
		}
		loss, err := metrics.MaskedMSE(res.Output, target, o.Columns)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i, err)
		}
		total += loss
	}
	return total / float64(len(o.Batches)), nil
}
