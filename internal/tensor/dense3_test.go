package tensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestDense3Layout(t *testing.T) {
	d := NewDense3(2, 3, 4)
	d.Set(1, 2, 3, 7)
	assert.Equal(t, 7.0, d.Data[(1*3+2)*4+3])
	assert.Equal(t, 7.0, d.At(1, 2, 3))

	row := d.Row(1, 2)
	row[0] = 5
	assert.Equal(t, 5.0, d.At(1, 2, 0))
}

func TestDense3StepRoundTrip(t *testing.T) {
	d := NewDense3(2, 3, 2)
	step := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	d.SetStep(1, step)

	assert.Equal(t, []float64{1, 2}, d.Row(0, 1))
	assert.Equal(t, []float64{3, 4}, d.Row(1, 1))
	assert.True(t, mat.Equal(step, d.Step(1)))
	assert.Equal(t, 0.0, d.At(0, 0, 0))
}

func TestDense3GatherPreservesOrder(t *testing.T) {
	d := NewDense3(3, 1, 1)
	d.Data = []float64{10, 20, 30}

	got, err := d.Gather([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 10}, got.Data)

	_, err = d.Gather([]int{3})
	assert.True(t, errors.Is(err, ErrShape))
}

func TestDense3TruncateAndConcat(t *testing.T) {
	a := NewDense3(1, 3, 1)
	a.Data = []float64{1, 2, 3}
	b := NewDense3(2, 2, 1)
	b.Data = []float64{4, 5, 6, 7}

	short := a.Truncate(2)
	assert.Equal(t, []float64{1, 2}, short.Data)

	joined, err := Concat(short, b)
	require.NoError(t, err)
	assert.Equal(t, 3, joined.D0)
	assert.Equal(t, []float64{1, 2, 4, 5, 6, 7}, joined.Data)

	_, err = Concat(a, b)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestDense3PlaneView(t *testing.T) {
	d := NewDense3(2, 2, 2)
	require.NoError(t, d.SetPlane(1, mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	assert.Equal(t, 4.0, d.At(1, 1, 1))
	assert.Equal(t, 3.0, d.Plane(1).At(1, 0))
	assert.Error(t, d.SetPlane(0, mat.NewDense(1, 2, nil)))
}

func TestDense3Nested(t *testing.T) {
	d := NewDense3(2, 1, 2)
	d.Data = []float64{1, 2, 3, 4}
	nested := d.Nested()
	assert.Equal(t, [][][]float64{{{1, 2}}, {{3, 4}}}, nested)
	nested[0][0][0] = 9
	assert.Equal(t, 1.0, d.At(0, 0, 0))
}
