package graphlstm

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// NodeTimeSeriesDecoder unrolls a stack of LSTM cells one timestep at a time
// over the active nodes and decodes each step into a response vector.
type NodeTimeSeriesDecoder struct {
	NodeDim         int
	BehaviorDim     int
	GroundMotionDim int
	OutputDim       int

	NodeEncoder     *nn.MLP
	Cells           []*nn.LSTMCell
	ResponseDecoder *nn.MLP
}

func NewNodeTimeSeriesDecoder(rng *rand.Rand, cfg Config) *NodeTimeSeriesDecoder {
	d := &NodeTimeSeriesDecoder{
		NodeDim:         cfg.NodeDim,
		BehaviorDim:     cfg.GraphLSTMHiddenDim,
		GroundMotionDim: cfg.GroundMotionDim,
		OutputDim:       cfg.OutputDim,
	}
	in := cfg.NodeDim + cfg.GraphLSTMHiddenDim + cfg.GroundMotionDim
	d.NodeEncoder = nn.NewMLP(rng, in, cfg.NodeEncoderHidden, cfg.NodeLSTMHiddenDim, true)
	for i := 0; i < cfg.NodeLSTMNumLayers; i++ {
		d.Cells = append(d.Cells, nn.NewLSTMCell(rng, cfg.NodeLSTMHiddenDim, cfg.NodeLSTMHiddenDim))
	}
	d.ResponseDecoder = nn.NewMLP(rng, 2*cfg.NodeLSTMHiddenDim, cfg.ResponseDecoderHidden, cfg.OutputDim, true)
	return d
}

// recurrentState holds H and C per layer. Both stay nil until the first
// timestep seeds them.
type recurrentState struct {
	h, c []*mat.Dense
}

func (s *recurrentState) started() bool {
	return s.h != nil
}

// warmStart seeds every layer's hidden and cell state with the layer-0 input.
func (s *recurrentState) warmStart(x *mat.Dense, layers int) {
	s.h = make([]*mat.Dense, layers)
	s.c = make([]*mat.Dense, layers)
	for l := 0; l < layers; l++ {
		s.h[l] = mat.DenseCopyOf(x)
		s.c[l] = mat.DenseCopyOf(x)
	}
}

// Forward decodes the active nodes x (one row per node) whose owning
// structures are delimited by ptr. behavior and gm are structures×T×width.
// The result is active×T×OutputDim.
func (d *NodeTimeSeriesDecoder) Forward(x *mat.Dense, ptr []int, behavior, gm *tensor.Dense3) (*tensor.Dense3, error) {
	if err := d.check(x, ptr, behavior, gm); err != nil {
		return nil, err
	}
	active := ptr[len(ptr)-1]
	steps := gm.D1
	out := tensor.NewDense3(active, steps, d.OutputDim)
	if active == 0 || steps == 0 {
		return out, nil
	}

	owner := owners(ptr)
	var state recurrentState
	for t := 0; t < steps; t++ {
		input := d.assemble(x, owner, behavior, gm, t)
		encoded, err := d.NodeEncoder.Forward(input)
		if err != nil {
			return nil, fmt.Errorf("node encoder at step %d: %w", t, classify(err))
		}
		if !state.started() {
			state.warmStart(encoded, len(d.Cells))
		}

		for l, cell := range d.Cells {
			in := encoded
			if l > 0 {
				in = d.injectGroundMotion(state.h[l-1], owner, gm, t)
			}
			h, c, err := cell.Step(in, state.h[l], state.c[l])
			if err != nil {
				return nil, fmt.Errorf("decoder layer %d at step %d: %w", l, t, classify(err))
			}
			state.h[l], state.c[l] = h, c
		}

		top := len(d.Cells) - 1
		var joint mat.Dense
		joint.Augment(state.h[top], state.c[top])
		response, err := d.ResponseDecoder.Forward(&joint)
		if err != nil {
			return nil, fmt.Errorf("response decoder at step %d: %w", t, classify(err))
		}
		out.SetStep(t, response)
	}
	return out, nil
}

func (d *NodeTimeSeriesDecoder) check(x *mat.Dense, ptr []int, behavior, gm *tensor.Dense3) error {
	active := 0
	if x != nil {
		var width int
		active, width = x.Dims()
		if width != d.NodeDim {
			return fmt.Errorf("%w: decoder expects %d node features, got %d", ErrShapeMismatch, d.NodeDim, width)
		}
	}
	if err := checkPtr(ptr, active); err != nil {
		return err
	}
	structures := len(ptr) - 1
	if behavior.D0 != structures || gm.D0 != structures {
		return fmt.Errorf("%w: %d structures in offsets, %d behaviors, %d ground motions", ErrIndexContract, structures, behavior.D0, gm.D0)
	}
	if behavior.D1 != gm.D1 {
		return fmt.Errorf("%w: graph behavior has %d steps, ground motions %d", ErrSequenceLength, behavior.D1, gm.D1)
	}
	if behavior.D2 != d.BehaviorDim || gm.D2 != d.GroundMotionDim {
		return fmt.Errorf("%w: behavior width %d and ground-motion width %d, want %d and %d", ErrShapeMismatch, behavior.D2, gm.D2, d.BehaviorDim, d.GroundMotionDim)
	}
	if len(d.Cells) > 1 && d.Cells[0].HiddenDim < d.GroundMotionDim {
		return fmt.Errorf("%w: hidden width %d below ground-motion width %d", ErrShapeMismatch, d.Cells[0].HiddenDim, d.GroundMotionDim)
	}
	return nil
}

// assemble builds [node features | behavior_b(t) | ground motion_b(t)] for
// every active node, b being the node's owning structure.
func (d *NodeTimeSeriesDecoder) assemble(x *mat.Dense, owner []int, behavior, gm *tensor.Dense3, t int) *mat.Dense {
	input := mat.NewDense(len(owner), d.NodeDim+d.BehaviorDim+d.GroundMotionDim, nil)
	for i, s := range owner {
		row := input.RawRowView(i)
		copy(row, x.RawRowView(i))
		copy(row[d.NodeDim:], behavior.Row(s, t))
		copy(row[d.NodeDim+d.BehaviorDim:], gm.Row(s, t))
	}
	return input
}

// injectGroundMotion returns a copy of prev whose trailing GroundMotionDim
// columns hold the owning structure's ground motion at step t. prev is left
// untouched.
func (d *NodeTimeSeriesDecoder) injectGroundMotion(prev *mat.Dense, owner []int, gm *tensor.Dense3, t int) *mat.Dense {
	ctx := mat.DenseCopyOf(prev)
	_, width := ctx.Dims()
	offset := width - d.GroundMotionDim
	for i, s := range owner {
		copy(ctx.RawRowView(i)[offset:], gm.Row(s, t))
	}
	return ctx
}

func (d *NodeTimeSeriesDecoder) Params(prefix string) []nn.Param {
	params := d.NodeEncoder.Params(prefix + ".node_encoder")
	for i, cell := range d.Cells {
		params = append(params, cell.Params(fmt.Sprintf("%s.lstmCellList.%d", prefix, i))...)
	}
	return append(params, d.ResponseDecoder.Params(prefix+".response_decoder")...)
}
