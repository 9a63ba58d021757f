// Package metrics scores decoded responses against ground truth.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

var ErrShape = errors.New("prediction and target shapes differ")

// Beam components left out of the loss when beam My and Sz are neglected.
var (
	BeamMomentYColumns = []int{6, 7, 10, 11}
	BeamShearZColumns  = []int{24, 25, 28, 29}
)

// TargetColumns lists the response components scored, in order.
func TargetColumns(width int, neglectBeamMySz bool) []int {
	skip := map[int]bool{}
	if neglectBeamMySz {
		for _, c := range append(append([]int(nil), BeamMomentYColumns...), BeamShearZColumns...) {
			skip[c] = true
		}
	}
	cols := make([]int, 0, width)
	for c := 0; c < width; c++ {
		if !skip[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// Columns gathers the listed components along the last axis.
func Columns(t *tensor.Dense3, cols []int) (*tensor.Dense3, error) {
	out := tensor.NewDense3(t.D0, t.D1, len(cols))
	for _, c := range cols {
		if c < 0 || c >= t.D2 {
			return nil, fmt.Errorf("%w: column %d outside width %d", ErrShape, c, t.D2)
		}
	}
	for i := 0; i < t.D0; i++ {
		for j := 0; j < t.D1; j++ {
			src, dst := t.Row(i, j), out.Row(i, j)
			for k, c := range cols {
				dst[k] = src[c]
			}
		}
	}
	return out, nil
}

func sameShape(pred, target *tensor.Dense3) error {
	if pred.D0 != target.D0 || pred.D1 != target.D1 || pred.D2 != target.D2 {
		return fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", ErrShape, pred.D0, pred.D1, pred.D2, target.D0, target.D1, target.D2)
	}
	return nil
}

// MSE is the mean squared error over every element.
func MSE(pred, target *tensor.Dense3) (float64, error) {
	if err := sameShape(pred, target); err != nil {
		return 0, err
	}
	if len(pred.Data) == 0 {
		return 0, nil
	}
	diff := make([]float64, len(pred.Data))
	floats.SubTo(diff, pred.Data, target.Data)
	return floats.Dot(diff, diff) / float64(len(diff)), nil
}

// R2Score averages the coefficient of determination of every (node,
// component) time history. Histories with a constant target are skipped;
// when all are constant the score is 0.
func R2Score(pred, target *tensor.Dense3) (float64, error) {
	if err := sameShape(pred, target); err != nil {
		return 0, err
	}
	p := make([]float64, pred.D1)
	y := make([]float64, pred.D1)
	total, count := 0.0, 0
	for i := 0; i < pred.D0; i++ {
		for c := 0; c < pred.D2; c++ {
			for t := 0; t < pred.D1; t++ {
				p[t] = pred.At(i, t, c)
				y[t] = target.At(i, t, c)
			}
			if r2, ok := r2(p, y); ok {
				total += r2
				count++
			}
		}
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// PeakR2Score compares per-node peak absolute responses: for every component
// the R² across nodes of max_t |value| is computed, then averaged.
func PeakR2Score(pred, target *tensor.Dense3) (float64, error) {
	if err := sameShape(pred, target); err != nil {
		return 0, err
	}
	p := make([]float64, pred.D0)
	y := make([]float64, pred.D0)
	total, count := 0.0, 0
	for c := 0; c < pred.D2; c++ {
		for i := 0; i < pred.D0; i++ {
			p[i], y[i] = 0, 0
			for t := 0; t < pred.D1; t++ {
				p[i] = math.Max(p[i], math.Abs(pred.At(i, t, c)))
				y[i] = math.Max(y[i], math.Abs(target.At(i, t, c)))
			}
		}
		if r2, ok := r2(p, y); ok {
			total += r2
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

func r2(pred, target []float64) (float64, bool) {
	if len(target) < 2 {
		return 0, false
	}
	if stat.Variance(target, nil) == 0 {
		return 0, false
	}
	return stat.RSquaredFrom(pred, target, nil), true
}

// GroupScores computes R² and peak R² for every response group that fits
// within the response width.
func GroupScores(pred, target *tensor.Dense3) ([]model.GroupScore, error) {
	if err := sameShape(pred, target); err != nil {
		return nil, err
	}
	var out []model.GroupScore
	for _, g := range dataset.ResponseGroups {
		if g.End > pred.D2 {
			continue
		}
		p, err := Columns(pred, g.Columns())
		if err != nil {
			return nil, err
		}
		y, err := Columns(target, g.Columns())
		if err != nil {
			return nil, err
		}
		overall, err := R2Score(p, y)
		if err != nil {
			return nil, err
		}
		peak, err := PeakR2Score(p, y)
		if err != nil {
			return nil, err
		}
		out = append(out, model.GroupScore{Group: g.Name, R2: overall, PeakR2: peak})
	}
	return out, nil
}

// MaskedMSE is the mean squared error over the listed components only.
func MaskedMSE(pred, target *tensor.Dense3, cols []int) (float64, error) {
	if err := sameShape(pred, target); err != nil {
		return 0, err
	}
	p, err := Columns(pred, cols)
	if err != nil {
		return 0, err
	}
	y, err := Columns(target, cols)
	if err != nil {
		return 0, err
	}
	return MSE(p, y)
}
