package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// momentZStart is the first of the six element-end moments about z.
const momentZStart = 12

// HingeClassifier counts plastic hinges detected from decoded moments. An
// element end yields when its peak moment reaches YieldFactor times its yield
// moment. Moments and yield moments must share one scale, which holds after
// normalization since both use the momentZ range.
type HingeClassifier struct {
	YieldFactor float64
	Counts      model.HingeCounts
}

func NewHingeClassifier(yieldFactor float64) *HingeClassifier {
	return &HingeClassifier{YieldFactor: yieldFactor}
}

// Add classifies every element end of the decoded nodes. x holds the node
// features of the same nodes, in the same order, as pred and target.
func (h *HingeClassifier) Add(x *mat.Dense, pred, target *tensor.Dense3) error {
	if err := sameShape(pred, target); err != nil {
		return err
	}
	n, width := x.Dims()
	yieldCols := dataset.YieldMomentColumns()
	if n != pred.D0 {
		return fmt.Errorf("%w: %d feature rows for %d decoded nodes", ErrShape, n, pred.D0)
	}
	if width <= yieldCols[len(yieldCols)-1] || pred.D2 < momentZStart+len(yieldCols) {
		return fmt.Errorf("%w: features %d wide, responses %d wide", ErrShape, width, pred.D2)
	}

	for i := 0; i < n; i++ {
		for d, col := range yieldCols {
			capacity := x.At(i, col)
			if capacity <= 0 {
				continue
			}
			threshold := h.YieldFactor * capacity
			predicted := peakAbs(pred, i, momentZStart+d) >= threshold
			actual := peakAbs(target, i, momentZStart+d) >= threshold
			switch {
			case predicted && actual:
				h.Counts.TP++
			case predicted:
				h.Counts.FP++
			case actual:
				h.Counts.FN++
			default:
				h.Counts.TN++
			}
		}
	}
	return nil
}

// Accuracy is (TP+TN)/total, 0 before anything was classified.
func (h *HingeClassifier) Accuracy() float64 {
	c := h.Counts
	total := c.TP + c.FP + c.FN + c.TN
	if total == 0 {
		return 0
	}
	return float64(c.TP+c.TN) / float64(total)
}

// Reset returns the counts gathered so far and clears them.
func (h *HingeClassifier) Reset() model.HingeCounts {
	c := h.Counts
	h.Counts = model.HingeCounts{}
	return c
}

func peakAbs(t *tensor.Dense3, node, comp int) float64 {
	peak := 0.0
	for step := 0; step < t.D1; step++ {
		peak = math.Max(peak, math.Abs(t.At(node, step, comp)))
	}
	return peak
}
