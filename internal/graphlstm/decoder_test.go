package graphlstm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

func TestAssembleBroadcastsPerStructure(t *testing.T) {
	cfg := smallConfig()
	rng := rand.New(rand.NewSource(21))
	dec := NewNodeTimeSeriesDecoder(rng, cfg)

	ptr := []int{0, 2, 5}
	x := randomDense(rng, 5, cfg.NodeDim)
	behavior := randomTensor(rng, 2, 3, cfg.GraphLSTMHiddenDim)
	gm := randomTensor(rng, 2, 3, cfg.GroundMotionDim)

	input := dec.assemble(x, owners(ptr), behavior, gm, 1)
	ctxStart := cfg.NodeDim
	ctxEnd := cfg.NodeDim + cfg.GraphLSTMHiddenDim + cfg.GroundMotionDim
	for i := 0; i < 5; i++ {
		row := input.RawRowView(i)
		assert.Equal(t, x.RawRowView(i), row[:cfg.NodeDim])
	}
	for s := 0; s < 2; s++ {
		want := append(append([]float64(nil), behavior.Row(s, 1)...), gm.Row(s, 1)...)
		for i := ptr[s]; i < ptr[s+1]; i++ {
			assert.Equal(t, want, input.RawRowView(i)[ctxStart:ctxEnd], "node %d", i)
		}
	}
	assert.NotEqual(t, input.RawRowView(0)[ctxStart:ctxEnd], input.RawRowView(2)[ctxStart:ctxEnd])
}

func TestInjectGroundMotionReplacesTrailingColumns(t *testing.T) {
	cfg := smallConfig()
	rng := rand.New(rand.NewSource(22))
	dec := NewNodeTimeSeriesDecoder(rng, cfg)

	ptr := []int{0, 1, 3}
	prev := randomDense(rng, 3, cfg.NodeLSTMHiddenDim)
	original := mat.DenseCopyOf(prev)
	gm := randomTensor(rng, 2, 2, cfg.GroundMotionDim)

	ctx := dec.injectGroundMotion(prev, owners(ptr), gm, 1)
	keep := cfg.NodeLSTMHiddenDim - cfg.GroundMotionDim
	for i, s := range []int{0, 1, 1} {
		row := ctx.RawRowView(i)
		assert.Equal(t, original.RawRowView(i)[:keep], row[:keep])
		assert.Equal(t, gm.Row(s, 1), row[keep:])
	}
	assert.True(t, mat.Equal(original, prev), "previous layer state must not be modified")
}

// referenceDecode replays the decoder with explicit warm start and
// re-injection for a fixed number of steps.
func referenceDecode(t *testing.T, dec *NodeTimeSeriesDecoder, x *mat.Dense, ptr []int, behavior, gm *tensor.Dense3) *tensor.Dense3 {
	t.Helper()
	owner := owners(ptr)
	out := tensor.NewDense3(len(owner), gm.D1, dec.OutputDim)
	var hs, cs []*mat.Dense
	for step := 0; step < gm.D1; step++ {
		enc, err := dec.NodeEncoder.Forward(dec.assemble(x, owner, behavior, gm, step))
		require.NoError(t, err)
		if step == 0 {
			for range dec.Cells {
				hs = append(hs, mat.DenseCopyOf(enc))
				cs = append(cs, mat.DenseCopyOf(enc))
			}
		}
		for l, cell := range dec.Cells {
			in := enc
			if l > 0 {
				in = mat.DenseCopyOf(hs[l-1])
				_, width := in.Dims()
				for i, s := range owner {
					for k := 0; k < dec.GroundMotionDim; k++ {
						in.Set(i, width-dec.GroundMotionDim+k, gm.At(s, step, k))
					}
				}
			}
			hs[l], cs[l], err = cell.Step(in, hs[l], cs[l])
			require.NoError(t, err)
		}
		top := len(dec.Cells) - 1
		var joint mat.Dense
		joint.Augment(hs[top], cs[top])
		resp, err := dec.ResponseDecoder.Forward(&joint)
		require.NoError(t, err)
		for i := range owner {
			copy(out.Row(i, step), resp.RawRowView(i))
		}
	}
	return out
}

func TestDecoderMatchesReference(t *testing.T) {
	cfg := smallConfig()
	cfg.NodeLSTMNumLayers = 3
	rng := rand.New(rand.NewSource(23))
	dec := NewNodeTimeSeriesDecoder(rng, cfg)

	ptr := []int{0, 2, 3}
	x := randomDense(rng, 3, cfg.NodeDim)
	behavior := randomTensor(rng, 2, 4, cfg.GraphLSTMHiddenDim)
	gm := randomTensor(rng, 2, 4, cfg.GroundMotionDim)

	got, err := dec.Forward(x, ptr, behavior, gm)
	require.NoError(t, err)
	want := referenceDecode(t, dec, x, ptr, behavior, gm)
	assert.Equal(t, want.Data, got.Data)
}

func TestDecoderWarmStartDiffersFromZeroState(t *testing.T) {
	cfg := smallConfig()
	cfg.NodeLSTMNumLayers = 1
	rng := rand.New(rand.NewSource(24))
	dec := NewNodeTimeSeriesDecoder(rng, cfg)

	ptr := []int{0, 1}
	x := randomDense(rng, 1, cfg.NodeDim)
	behavior := randomTensor(rng, 1, 1, cfg.GraphLSTMHiddenDim)
	gm := randomTensor(rng, 1, 1, cfg.GroundMotionDim)

	got, err := dec.Forward(x, ptr, behavior, gm)
	require.NoError(t, err)

	enc, err := dec.NodeEncoder.Forward(dec.assemble(x, owners(ptr), behavior, gm, 0))
	require.NoError(t, err)
	zero := mat.NewDense(1, cfg.NodeLSTMHiddenDim, nil)
	h, c, err := dec.Cells[0].Step(enc, zero, zero)
	require.NoError(t, err)
	var joint mat.Dense
	joint.Augment(h, c)
	cold, err := dec.ResponseDecoder.Forward(&joint)
	require.NoError(t, err)
	assert.NotEqual(t, cold.RawRowView(0), got.Row(0, 0))
}

func TestDecoderRejectsBadOffsets(t *testing.T) {
	cfg := smallConfig()
	rng := rand.New(rand.NewSource(25))
	dec := NewNodeTimeSeriesDecoder(rng, cfg)
	x := randomDense(rng, 3, cfg.NodeDim)
	behavior := randomTensor(rng, 2, 2, cfg.GraphLSTMHiddenDim)
	gm := randomTensor(rng, 2, 2, cfg.GroundMotionDim)

	_, err := dec.Forward(x, []int{0, 1, 4}, behavior, gm)
	assert.ErrorIs(t, err, ErrIndexContract)
	_, err = dec.Forward(x, []int{1, 2, 3}, behavior, gm)
	assert.ErrorIs(t, err, ErrIndexContract)
	_, err = dec.Forward(x, []int{0, 3}, behavior, gm)
	assert.ErrorIs(t, err, ErrIndexContract)
	_, err = dec.Forward(x, []int{0, 1, 3}, behavior, randomTensor(rng, 2, 3, cfg.GroundMotionDim))
	assert.ErrorIs(t, err, ErrSequenceLength)
}

func TestTimeSeriesEncoderBroadcastsLatent(t *testing.T) {
	cfg := smallConfig()
	rng := rand.New(rand.NewSource(26))
	enc := NewGraphTimeSeriesEncoder(rng, cfg)

	latent := randomDense(rng, 2, cfg.LatentDim)
	gm := randomTensor(rng, 2, 3, cfg.GroundMotionDim)
	// identical ground motions and latents give identical behaviors
	copy(gm.Plane(1).RawMatrix().Data, gm.Plane(0).RawMatrix().Data)
	latent.SetRow(1, latent.RawRowView(0))

	out, err := enc.Forward(latent, gm)
	require.NoError(t, err)
	assert.Equal(t, 2, out.D0)
	assert.Equal(t, 3, out.D1)
	assert.Equal(t, cfg.GraphLSTMHiddenDim, out.D2)
	for step := 0; step < 3; step++ {
		assert.Equal(t, out.Row(0, step), out.Row(1, step))
	}

	_, err = enc.Forward(randomDense(rng, 3, cfg.LatentDim), gm)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
