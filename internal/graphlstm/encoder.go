package graphlstm

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// GraphLatentEncoder turns each structure's graph into one latent vector.
type GraphLatentEncoder struct {
	Convs []*nn.GATv2Conv
}

func NewGraphLatentEncoder(rng *rand.Rand, cfg Config) *GraphLatentEncoder {
	e := &GraphLatentEncoder{}
	for i := 0; i < cfg.GNNNumLayers; i++ {
		in := cfg.GNNHiddenDim
		if i == 0 {
			in = cfg.NodeDim
		}
		out := cfg.GNNHiddenDim
		if i == cfg.GNNNumLayers-1 {
			out = cfg.LatentDim
		}
		e.Convs = append(e.Convs, nn.NewGATv2Conv(rng, in, out, cfg.HeadNum, cfg.EdgeDim))
	}
	return e
}

// Forward returns the structures×LatentDim latent matrix together with the
// first layer's attention coefficients.
func (e *GraphLatentEncoder) Forward(x *mat.Dense, edges nn.EdgeIndex, edgeAttr *mat.Dense, graph []int, numStructures int) (*mat.Dense, nn.Attention, error) {
	var first nn.Attention
	h := x
	for i, conv := range e.Convs {
		out, att, err := conv.Forward(h, edges, edgeAttr)
		if err != nil {
			return nil, nn.Attention{}, fmt.Errorf("graph layer %d: %w", i, classify(err))
		}
		if i == 0 {
			first = att
		}
		h = out
	}
	latent, err := nn.MeanPool(h, graph, numStructures)
	if err != nil {
		return nil, nn.Attention{}, classify(err)
	}
	return latent, first, nil
}

func (e *GraphLatentEncoder) Params(prefix string) []nn.Param {
	var params []nn.Param
	for i, conv := range e.Convs {
		params = append(params, conv.Params(fmt.Sprintf("%s.conv_layers.%d", prefix, i))...)
	}
	return params
}

// GraphTimeSeriesEncoder runs a stacked LSTM over [latent | ground motion(t)]
// for every structure.
type GraphTimeSeriesEncoder struct {
	LSTM *nn.LSTM
}

func NewGraphTimeSeriesEncoder(rng *rand.Rand, cfg Config) *GraphTimeSeriesEncoder {
	return &GraphTimeSeriesEncoder{
		LSTM: nn.NewLSTM(rng, cfg.LatentDim+cfg.GroundMotionDim, cfg.GraphLSTMHiddenDim, cfg.GraphLSTMNumLayers),
	}
}

// Forward returns the structures×T×hidden graph behavior sequence.
func (e *GraphTimeSeriesEncoder) Forward(latent *mat.Dense, gm *tensor.Dense3) (*tensor.Dense3, error) {
	structures, latentDim := latent.Dims()
	if gm.D0 != structures {
		return nil, fmt.Errorf("%w: %d latent rows for %d ground motions", ErrShapeMismatch, structures, gm.D0)
	}
	if want := e.LSTM.Layers[0].InputDim; latentDim+gm.D2 != want {
		return nil, fmt.Errorf("%w: latent %d + ground motion %d, lstm expects %d", ErrShapeMismatch, latentDim, gm.D2, want)
	}
	hidden := e.LSTM.HiddenDim()
	out := tensor.NewDense3(structures, gm.D1, hidden)
	if gm.D1 == 0 {
		return out, nil
	}

	seq := make([]*mat.Dense, gm.D1)
	for t := range seq {
		step := mat.NewDense(structures, latentDim+gm.D2, nil)
		for s := 0; s < structures; s++ {
			row := step.RawRowView(s)
			copy(row, latent.RawRowView(s))
			copy(row[latentDim:], gm.Row(s, t))
		}
		seq[t] = step
	}
	hs, err := e.LSTM.Forward(seq)
	if err != nil {
		return nil, classify(err)
	}
	for t, h := range hs {
		out.SetStep(t, h)
	}
	return out, nil
}

func (e *GraphTimeSeriesEncoder) Params(prefix string) []nn.Param {
	return e.LSTM.Params(prefix + ".lstm")
}
