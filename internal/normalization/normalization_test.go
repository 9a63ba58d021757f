package normalization

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// gridStructure lays out a one-story frame with nodes on every (x, z) grid
// point. Feature 36 is extra and gets cut during normalization.
func gridStructure(xGrids, zGrids, steps int, scale float64) *dataset.Structure {
	n := xGrids * zGrids
	x := mat.NewDense(n, dataset.NodeFeatures+1, nil)
	i := 0
	for gx := 0; gx < xGrids; gx++ {
		for gz := 0; gz < zGrids; gz++ {
			x.Set(i, 0, float64(xGrids))
			x.Set(i, 1, 1)
			x.Set(i, 2, float64(zGrids))
			x.Set(i, 3, float64(gx))
			x.Set(i, 4, 1)
			x.Set(i, 5, float64(gz))
			for c := 6; c < dataset.NodeFeatures+1; c++ {
				x.Set(i, c, scale*float64(c))
			}
			i++
		}
	}
	y := tensor.NewDense3(n, steps+2, dataset.ResponseWidth)
	for k := range y.Data {
		y.Data[k] = scale * float64(k%11-5)
	}
	gm1 := mat.NewDense(steps, dataset.SubSteps, nil)
	gm2 := mat.NewDense(steps, dataset.SubSteps, nil)
	gm1.Set(0, 0, 4*scale)
	gm2.Set(1, 3, -8*scale)
	return &dataset.Structure{
		Path:          "grid",
		X:             x,
		Edges:         nn.EdgeIndex{Src: []int{0}, Dst: []int{1}},
		EdgeAttr:      mat.NewDense(1, 4, []float64{2 * scale, 0, 0, 100 * scale}),
		Y:             y,
		GridNum:       [3]float64{float64(xGrids), 1, float64(zGrids)},
		GMXName:       "RSN12_FP.txt",
		GroundMotion1: gm1,
		GroundMotion2: gm2,
	}
}

func TestComputeMaxAbsRanges(t *testing.T) {
	a := gridStructure(3, 2, 4, 1)
	b := gridStructure(3, 2, 4, 2)
	nd, err := Compute([]*dataset.Structure{a, b})
	require.NoError(t, err)

	for _, key := range Keys() {
		require.Contains(t, nd.Ranges, key)
		assert.Equal(t, 0.0, nd.Ranges[key].Min(), key)
	}
	assert.Equal(t, 16.0, nd.Ranges[KeyGroundMotion].Max())
	assert.Equal(t, 3.0, nd.Ranges[KeyGridNum].Max())
	assert.Equal(t, 2.0, nd.Ranges[KeyCoord].Max())
	assert.Equal(t, 2*13.0, nd.Ranges[KeyPeriod].Max())
	assert.Equal(t, 2*33.0, nd.Ranges[KeyElemLength].Max())
	// yield moments reach 2*34 while responses stay within 2*5
	assert.Equal(t, 2*34.0, nd.Ranges[KeyMomentZ].Max())
	assert.Equal(t, 10.0, nd.Ranges["acc"].Max())

	_, err = Compute(nil)
	assert.Error(t, err)
}

func TestNormalizeScalesAndTrims(t *testing.T) {
	s := gridStructure(3, 2, 4, 1)
	nd, err := Compute([]*dataset.Structure{s})
	require.NoError(t, err)

	out, err := Normalize(s, nd)
	require.NoError(t, err)
	_, width := out.X.Dims()
	assert.Equal(t, dataset.NodeFeatures, width)
	assert.Equal(t, 4, out.Y.D1)
	assert.Equal(t, "RSN12_FN.txt", out.GMZName)

	assert.InDelta(t, 0.5, out.GroundMotion1.At(0, 0), 1e-12)
	assert.InDelta(t, -1.0, out.GroundMotion2.At(1, 3), 1e-12)
	assert.InDelta(t, 2/33.0, out.EdgeAttr.At(0, 0), 1e-12)
	assert.InDelta(t, 100/34.0, out.EdgeAttr.At(0, 3), 1e-12)
	assert.InDelta(t, 23/33.0, out.X.At(0, 23), 1e-12)
	assert.InDelta(t, 24/34.0, out.X.At(0, 24), 1e-12)
	// columns 6..10 carry no range and stay untouched
	assert.Equal(t, 6.0, out.X.At(0, 6))

	// the input is not modified
	assert.Equal(t, 4.0, s.GroundMotion1.At(0, 0))

	for _, g := range dataset.ResponseGroups {
		values := append([]float64(nil), out.Y.Row(1, 2)[g.Start:g.End]...)
		require.NoError(t, Denormalize(g.Name, values, nd))
		assert.InDeltaSlice(t, s.Y.Row(1, 2)[g.Start:g.End], values, 1e-9, g.Name)
	}

	restored, err := DenormalizeX(out.X, nd)
	require.NoError(t, err)
	assert.InDeltaSlice(t, s.X.RawRowView(3)[:dataset.NodeFeatures], restored.RawRowView(3), 1e-9)

	resp := out.Y.Clone()
	require.NoError(t, DenormalizeResponse(resp, nd))
	assert.InDeltaSlice(t, s.Y.Truncate(4).Data, resp.Data, 1e-9)
}

func TestNormalizeRejectsUnknownDirection(t *testing.T) {
	s := gridStructure(2, 2, 2, 1)
	s.GMXName = "RSN12_UP.txt"
	nd, err := Compute([]*dataset.Structure{s})
	require.NoError(t, err)
	_, err = Normalize(s, nd)
	assert.ErrorIs(t, err, ErrDirection)

	delete(nd.Ranges, "shearZ")
	s.GMXName = "RSN12_FN.txt"
	_, err = Normalize(s, nd)
	assert.ErrorIs(t, err, ErrMissing)

	assert.ErrorIs(t, DenormalizeResponse(s.Y.Clone(), nd), ErrMissing)
}

func TestZigzagPath(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 0}, {1, 1}, {2, 0}, {3, 1}}, ZigzagPath(4, 2))
	assert.Equal(t, [][2]int{{0, 0}, {1, 1}, {0, 2}}, ZigzagPath(2, 3))
	assert.Equal(t, [][2]int{{0, 0}, {1, 1}, {2, 2}, {1, 3}, {0, 4}}, ZigzagPath(3, 5))
}

func TestZigzagSampleKeepsEveryOtherMatch(t *testing.T) {
	s := gridStructure(4, 2, 2, 1)
	nd, err := Compute([]*dataset.Structure{s})
	require.NoError(t, err)
	normed, err := Normalize(s, nd)
	require.NoError(t, err)

	// nodes are laid out x-major: (gx, gz) -> 2*gx + gz
	// path (0,0) (1,1) (2,0) (3,1) -> nodes 0, 3, 4, 7
	got, err := ZigzagSample(normed, nd)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, got)
}

func TestRandomSampleSortedTenPercent(t *testing.T) {
	picked := RandomSample(35, rand.New(rand.NewSource(1)))
	assert.Len(t, picked, 3)
	assert.IsIncreasing(t, picked)
	assert.Empty(t, RandomSample(9, rand.New(rand.NewSource(1))))
}

func TestNormalizeDataset(t *testing.T) {
	structures := []*dataset.Structure{gridStructure(4, 2, 3, 1), gridStructure(4, 2, 3, 3)}
	out, nd, err := NormalizeDataset(structures, false, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []int{0, 4}, out[1].SampledIndex)
	assert.Equal(t, 3*8.0, nd.Ranges[KeyGroundMotion].Max())

	_, _, err = NormalizeDataset(structures, true, nil)
	assert.Error(t, err)

	out, _, err = NormalizeDataset(structures, true, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Empty(t, out[0].SampledIndex)
}
