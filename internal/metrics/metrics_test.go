package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

func TestTargetColumns(t *testing.T) {
	all := TargetColumns(30, false)
	assert.Len(t, all, 30)

	masked := TargetColumns(30, true)
	assert.Len(t, masked, 22)
	for _, c := range []int{6, 7, 10, 11, 24, 25, 28, 29} {
		assert.NotContains(t, masked, c)
	}
	assert.Contains(t, masked, 8)
	assert.Contains(t, masked, 26)
}

func TestColumns(t *testing.T) {
	src := tensor.NewDense3(1, 2, 4)
	for i := range src.Data {
		src.Data[i] = float64(i)
	}
	out, err := Columns(src, []int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 7, 5}, out.Data)

	_, err = Columns(src, []int{4})
	assert.ErrorIs(t, err, ErrShape)
}

func TestMSE(t *testing.T) {
	pred, _ := tensor.FromData(1, 2, 2, []float64{1, 2, 3, 4})
	target, _ := tensor.FromData(1, 2, 2, []float64{1, 0, 3, 0})
	mse, err := MSE(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, (4.0+16.0)/4, mse, 1e-12)

	_, err = MSE(pred, tensor.NewDense3(1, 2, 3))
	assert.ErrorIs(t, err, ErrShape)
}

func TestR2Score(t *testing.T) {
	target, _ := tensor.FromData(2, 3, 1, []float64{1, 2, 3, 5, 5, 5})
	perfect := target.Clone()
	score, err := R2Score(perfect, target)
	require.NoError(t, err)
	// the constant second history is skipped
	assert.InDelta(t, 1.0, score, 1e-12)

	mean, _ := tensor.FromData(2, 3, 1, []float64{2, 2, 2, 0, 0, 0})
	score, err = R2Score(mean, target)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-12)
}

func TestPeakR2Score(t *testing.T) {
	// peaks per node: 3, 6 for the target
	target, _ := tensor.FromData(2, 2, 1, []float64{-3, 1, 2, 6})
	pred, _ := tensor.FromData(2, 2, 1, []float64{3, 0, -6, 1})
	score, err := PeakR2Score(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-12)

	flat, _ := tensor.FromData(1, 2, 1, []float64{1, 2})
	score, err = PeakR2Score(flat, flat)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestGroupScores(t *testing.T) {
	target := tensor.NewDense3(3, 4, dataset.ResponseWidth)
	for i := 0; i < 3; i++ {
		for step := 0; step < 4; step++ {
			for c := 0; c < dataset.ResponseWidth; c++ {
				target.Set(i, step, c, float64((i+1)*(step+1))+float64(c)/100)
			}
		}
	}
	scores, err := GroupScores(target.Clone(), target)
	require.NoError(t, err)
	require.Len(t, scores, len(dataset.ResponseGroups))
	for _, s := range scores {
		assert.InDelta(t, 1.0, s.R2, 1e-12, s.Group)
		assert.InDelta(t, 1.0, s.PeakR2, 1e-12, s.Group)
	}
}

func TestHingeClassifier(t *testing.T) {
	x := mat.NewDense(2, dataset.NodeFeatures, nil)
	// node 0: first two element ends have capacity 1, node 1: first end only
	x.Set(0, 24, 1)
	x.Set(0, 26, 1)
	x.Set(1, 24, 1)

	target := tensor.NewDense3(2, 2, dataset.ResponseWidth)
	pred := tensor.NewDense3(2, 2, dataset.ResponseWidth)
	target.Set(0, 1, 12, -0.95) // yields
	pred.Set(0, 0, 12, 0.91)    // detected
	pred.Set(0, 1, 13, 0.95)    // false alarm
	target.Set(1, 0, 12, 0.95)  // missed

	h := NewHingeClassifier(0.9)
	require.NoError(t, h.Add(x, pred, target))
	assert.Equal(t, model.HingeCounts{TP: 1, FP: 1, FN: 1, TN: 0}, h.Counts)
	assert.InDelta(t, 1.0/3, h.Accuracy(), 1e-12)

	got := h.Reset()
	assert.Equal(t, 1, got.TP)
	assert.Equal(t, model.HingeCounts{}, h.Counts)
	assert.Equal(t, 0.0, h.Accuracy())

	assert.ErrorIs(t, h.Add(mat.NewDense(1, dataset.NodeFeatures, nil), pred, target), ErrShape)
}

func TestMaskedMSE(t *testing.T) {
	pred, _ := tensor.FromData(1, 1, 3, []float64{1, 5, 2})
	target, _ := tensor.FromData(1, 1, 3, []float64{0, 0, 0})
	mse, err := MaskedMSE(pred, target, []int{0, 2})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, mse, 1e-12)

	_, err = MaskedMSE(pred, target, []int{3})
	assert.ErrorIs(t, err, ErrShape)
}
