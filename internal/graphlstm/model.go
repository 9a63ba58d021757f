// Package graphlstm predicts per-node structural response time histories
// from a structure graph and a ground-motion pair. A graph attention encoder
// summarises each structure, an LSTM evolves that summary under the ground
// motion, and a stacked LSTM-cell decoder is unrolled per node and timestep.
package graphlstm

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// GraphLSTM is read-only during Forward, so one value may serve concurrent
// calls. Each call owns its recurrent state.
type GraphLSTM struct {
	Config Config

	LatentEncoder     *GraphLatentEncoder
	TimeSeriesEncoder *GraphTimeSeriesEncoder
	Decoder           *NodeTimeSeriesDecoder
}

// Result is the output of one forward pass. Output row k belongs to global
// node Indices[k].
type Result struct {
	Output    *tensor.Dense3 // active×T×OutputDim
	Indices   []int
	Ptr       []int
	Attention nn.Attention
}

func New(cfg Config, rng *rand.Rand) (*GraphLSTM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	return &GraphLSTM{
		Config:            cfg,
		LatentEncoder:     NewGraphLatentEncoder(rng, cfg),
		TimeSeriesEncoder: NewGraphTimeSeriesEncoder(rng, cfg),
		Decoder:           NewNodeTimeSeriesDecoder(rng, cfg),
	}, nil
}

// Forward runs latent encoding, time-series encoding, node sampling and
// decoding in that order. With sample false every node is decoded.
func (m *GraphLSTM) Forward(b *Batch, sample bool) (*Result, error) {
	if err := b.Validate(m.Config); err != nil {
		return nil, err
	}
	structures := b.NumStructures()

	latent, attention, err := m.LatentEncoder.Forward(b.X, b.Edges, b.EdgeAttr, b.Graph, structures)
	if err != nil {
		return nil, err
	}
	behavior, err := m.TimeSeriesEncoder.Forward(latent, b.GroundMotions)
	if err != nil {
		return nil, err
	}

	indices, ptr, err := SampleNodes(b.NumNodes(), b.Ptr, b.Sampled, sample)
	if err != nil {
		return nil, err
	}
	out, err := m.Decoder.Forward(b.NodeRows(indices), ptr, behavior, b.GroundMotions)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Indices: indices, Ptr: ptr, Attention: attention}, nil
}

// SampleNodes resolves which nodes are decoded. Disabled, it returns every
// index in [0, n) and ptr unchanged. Enabled, structure b contributes
// ptr[b]+local for each local index in sampled[b], in order, and the new
// offsets are the running counts.
func SampleNodes(n int, ptr []int, sampled [][]int, enabled bool) ([]int, []int, error) {
	if err := checkPtr(ptr, n); err != nil {
		return nil, nil, err
	}
	if !enabled {
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return indices, append([]int(nil), ptr...), nil
	}

	structures := len(ptr) - 1
	if len(sampled) != structures {
		return nil, nil, fmt.Errorf("%w: %d sample lists for %d structures", ErrIndexContract, len(sampled), structures)
	}
	indices := make([]int, 0, n)
	newPtr := make([]int, 1, structures+1)
	for s, locals := range sampled {
		size := ptr[s+1] - ptr[s]
		for _, local := range locals {
			if local < 0 || local >= size {
				return nil, nil, fmt.Errorf("%w: structure %d has %d nodes, sampled local index %d", ErrIndexContract, s, size, local)
			}
			indices = append(indices, ptr[s]+local)
		}
		newPtr = append(newPtr, newPtr[len(newPtr)-1]+len(locals))
	}
	return indices, newPtr, nil
}

func (m *GraphLSTM) Params(prefix string) []nn.Param {
	if prefix != "" {
		prefix += "."
	}
	params := m.LatentEncoder.Params(prefix + "graphLatentEncoder")
	params = append(params, m.TimeSeriesEncoder.Params(prefix+"graphTimeSeriesEncoder")...)
	return append(params, m.Decoder.Params(prefix+"nodeTimeSeriesDecoder")...)
}

func gatherRows(x *mat.Dense, indices []int) *mat.Dense {
	_, width := x.Dims()
	out := mat.NewDense(len(indices), width, nil)
	for k, i := range indices {
		copy(out.RawRowView(k), x.RawRowView(i))
	}
	return out
}
