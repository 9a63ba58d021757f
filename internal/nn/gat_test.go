package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAddSelfLoopsMeanFill(t *testing.T) {
	edges := EdgeIndex{Src: []int{0, 2, 2, 2}, Dst: []int{1, 1, 2, 0}}
	attr := mat.NewDense(4, 1, []float64{2, 4, 100, 6})

	loops, loopAttr := addSelfLoops(edges, attr, 3, 1)

	// the existing 2->2 loop is dropped, then one loop per node is appended
	assert.Equal(t, []int{0, 2, 2, 0, 1, 2}, loops.Src)
	assert.Equal(t, []int{1, 1, 0, 0, 1, 2}, loops.Dst)
	got := mat.Col(nil, 0, loopAttr)
	// node 0 receives 6, node 1 receives mean(2,4), node 2 only had its own loop
	assert.Equal(t, []float64{2, 4, 6, 6, 3, 0}, got)
}

func TestAddSelfLoopsIgnoresExistingLoopInMean(t *testing.T) {
	edges := EdgeIndex{Src: []int{0, 1, 2, 2}, Dst: []int{1, 1, 2, 0}}
	attr := mat.NewDense(4, 1, []float64{2, 4, 100, 6})

	loops, loopAttr := addSelfLoops(edges, attr, 3, 1)

	assert.Equal(t, []int{0, 2, 0, 1, 2}, loops.Src)
	assert.Equal(t, []int{1, 0, 0, 1, 2}, loops.Dst)
	assert.Equal(t, []float64{2, 6, 6, 2, 0}, mat.Col(nil, 0, loopAttr))
}

func TestGATv2HandComputed(t *testing.T) {
	conv := NewGATv2Conv(rand.New(rand.NewSource(3)), 1, 1, 1, 1)
	conv.LinL.Weight.Set(0, 0, 1)
	conv.LinR.Weight.Set(0, 0, 2)
	conv.LinEdge.Weight.Set(0, 0, 1)
	conv.Att.Set(0, 0, 1)
	conv.Bias.Set(0, 0, 0.5)

	x := mat.NewDense(3, 1, []float64{1, -1, 0})
	edges := EdgeIndex{Src: []int{0, 2}, Dst: []int{1, 1}}
	attr := mat.NewDense(2, 1, []float64{1, 3})

	out, att, err := conv.Forward(x, edges, attr)
	require.NoError(t, err)

	// edges after loops: 0->1, 2->1, 0->0, 1->1 (attr mean 2), 2->2
	// scores: leaky(1-2+1)=0, leaky(0-2+3)=1, leaky(1+2)=3, leaky(-1-2+2)=-0.2, 0
	sum := 1 + math.E + math.Exp(-0.2)
	wantAlpha := []float64{1 / sum, math.E / sum, 1, math.Exp(-0.2) / sum, 1}
	assert.Equal(t, []int{0, 2, 0, 1, 2}, att.Edges.Src)
	assert.InDeltaSlice(t, wantAlpha, mat.Col(nil, 0, att.Weights), 1e-12)

	// node 1 aggregates xl = 1, 0 and its own -1
	wantOut := []float64{1.5, (1-math.Exp(-0.2))/sum + 0.5, 0.5}
	assert.InDeltaSlice(t, wantOut, mat.Col(nil, 0, out), 1e-12)
}

func TestGATv2AttentionNormalisedPerTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	conv := NewGATv2Conv(rng, 3, 4, 2, 2)
	x := mat.NewDense(3, 3, nil)
	uniform(rng, x, 1)
	edges := EdgeIndex{Src: []int{0, 1, 2}, Dst: []int{1, 2, 0}}
	attr := mat.NewDense(3, 2, nil)
	uniform(rng, attr, 1)

	out, att, err := conv.Forward(x, edges, attr)
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)

	require.Equal(t, 6, att.Edges.Len())
	sums := make([][2]float64, 3)
	for e := 0; e < att.Edges.Len(); e++ {
		for h := 0; h < 2; h++ {
			sums[att.Edges.Dst[e]][h] += att.Weights.At(e, h)
		}
	}
	for node, s := range sums {
		assert.InDelta(t, 1.0, s[0], 1e-9, "node %d head 0", node)
		assert.InDelta(t, 1.0, s[1], 1e-9, "node %d head 1", node)
	}
}

func TestGATv2IsolatedNodeKeepsOwnProjection(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	conv := NewGATv2Conv(rng, 2, 3, 2, 1)
	conv.Bias.Set(0, 1, 0.5)
	x := mat.NewDense(1, 2, []float64{0.3, -0.2})

	out, att, err := conv.Forward(x, EdgeIndex{}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1}, att.Weights.RawRowView(0), 1e-12)

	xl, err := conv.LinL.Forward(x)
	require.NoError(t, err)
	for c := 0; c < 3; c++ {
		want := (xl.At(0, c)+xl.At(0, 3+c))/2 + conv.Bias.At(0, c)
		assert.InDelta(t, want, out.At(0, c), 1e-12)
	}
}

func TestGATv2RejectsBadInput(t *testing.T) {
	conv := NewGATv2Conv(rand.New(rand.NewSource(1)), 2, 2, 1, 1)
	x := mat.NewDense(2, 2, nil)

	_, _, err := conv.Forward(x, EdgeIndex{Src: []int{0}, Dst: []int{2}}, mat.NewDense(1, 1, nil))
	assert.ErrorIs(t, err, ErrEdgeIndex)

	_, _, err = conv.Forward(x, EdgeIndex{Src: []int{0}, Dst: []int{1}}, nil)
	assert.ErrorIs(t, err, ErrDimension)

	_, _, err = conv.Forward(mat.NewDense(2, 3, nil), EdgeIndex{}, nil)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestMeanPool(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 10, 20})
	out, err := MeanPool(x, []int{0, 0, 2}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, out.RawRowView(0))
	assert.Equal(t, []float64{0, 0}, out.RawRowView(1))
	assert.Equal(t, []float64{10, 20}, out.RawRowView(2))

	_, err = MeanPool(x, []int{0, 1}, 2)
	assert.ErrorIs(t, err, ErrDimension)
	_, err = MeanPool(x, []int{0, 1, 5}, 2)
	assert.ErrorIs(t, err, ErrEdgeIndex)
}
