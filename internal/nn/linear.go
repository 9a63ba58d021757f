package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var ErrDimension = errors.New("input dimension mismatch")

// Linear computes y = x·Wᵀ + b for a batch of row vectors.
type Linear struct {
	In, Out int
	Weight  *mat.Dense // Out×In
	Bias    *mat.Dense // 1×Out, nil when the layer has no bias
}

// NewLinear initialises weights and bias with U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(rng *rand.Rand, in, out int, bias bool) *Linear {
	l := &Linear{In: in, Out: out, Weight: mat.NewDense(out, in, nil)}
	bound := 1 / math.Sqrt(float64(in))
	uniform(rng, l.Weight, bound)
	if bias {
		l.Bias = mat.NewDense(1, out, nil)
		uniform(rng, l.Bias, bound)
	}
	return l
}

// NewGlorotLinear initialises weights with Glorot-uniform and a zero bias,
// the scheme used by the attention convolution projections.
func NewGlorotLinear(rng *rand.Rand, in, out int, bias bool) *Linear {
	l := &Linear{In: in, Out: out, Weight: mat.NewDense(out, in, nil)}
	glorot(rng, l.Weight, in, out)
	if bias {
		l.Bias = mat.NewDense(1, out, nil)
	}
	return l
}

func (l *Linear) Forward(x mat.Matrix) (*mat.Dense, error) {
	_, c := x.Dims()
	if c != l.In {
		return nil, fmt.Errorf("%w: linear expects %d columns, got %d", ErrDimension, l.In, c)
	}
	var out mat.Dense
	out.Mul(x, l.Weight.T())
	if l.Bias != nil {
		addRowVector(&out, l.Bias)
	}
	return &out, nil
}

func (l *Linear) Params(prefix string) []Param {
	params := []Param{{Name: join(prefix, "weight"), Value: l.Weight}}
	if l.Bias != nil {
		params = append(params, Param{Name: join(prefix, "bias"), Value: l.Bias})
	}
	return params
}

// MLP is a stack of Linear layers. When Act is set the activation runs
// between layers but never after the last one. Dropout, when positive, is
// applied after every layer in training mode only.
type MLP struct {
	Layers     []*Linear
	Act        bool
	Activation string
	Dropout    float64
}

// NewMLP builds layers for dims [in] + hidden + [out] with ReLU between them.
func NewMLP(rng *rand.Rand, in int, hidden []int, out int, act bool) *MLP {
	dims := make([]int, 0, len(hidden)+2)
	dims = append(dims, in)
	dims = append(dims, hidden...)
	dims = append(dims, out)

	m := &MLP{Act: act, Activation: "relu"}
	for i := 0; i < len(dims)-1; i++ {
		m.Layers = append(m.Layers, NewLinear(rng, dims[i], dims[i+1], true))
	}
	return m
}

func (m *MLP) InDim() int  { return m.Layers[0].In }
func (m *MLP) OutDim() int { return m.Layers[len(m.Layers)-1].Out }

// Forward runs the block in evaluation mode.
func (m *MLP) Forward(x mat.Matrix) (*mat.Dense, error) {
	return m.forward(x, nil)
}

// forwardTrain runs the block with inverted dropout drawn from rng.
func (m *MLP) forwardTrain(x mat.Matrix, rng *rand.Rand) (*mat.Dense, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	return m.forward(x, rng)
}

func (m *MLP) forward(x mat.Matrix, rng *rand.Rand) (*mat.Dense, error) {
	var act ActivationFunc
	if m.Act {
		fn, err := GetActivation(m.Activation)
		if err != nil {
			return nil, err
		}
		act = fn
	}

	var out *mat.Dense
	for i, layer := range m.Layers {
		y, err := layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if act != nil && i != len(m.Layers)-1 {
			ApplyActivation(y, act)
		}
		if rng != nil && m.Dropout > 0 {
			dropout(y, m.Dropout, rng)
		}
		out = y
		x = y
	}
	return out, nil
}

func (m *MLP) Params(prefix string) []Param {
	var params []Param
	for i, layer := range m.Layers {
		params = append(params, layer.Params(join(prefix, fmt.Sprintf("module_list.%d", i)))...)
	}
	return params
}

func dropout(m *mat.Dense, p float64, rng *rand.Rand) {
	if p >= 1 {
		m.Zero()
		return
	}
	scale := 1 / (1 - p)
	ApplyActivation(m, func(v float64) float64 {
		if rng.Float64() < p {
			return 0
		}
		return v * scale
	})
}
