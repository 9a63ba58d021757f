package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LSTMCell is a single recurrent step with gates packed in i, f, g, o order.
type LSTMCell struct {
	InputDim, HiddenDim int
	WeightIH            *mat.Dense // 4H×In
	WeightHH            *mat.Dense // 4H×H
	BiasIH              *mat.Dense // 1×4H
	BiasHH              *mat.Dense // 1×4H
}

func NewLSTMCell(rng *rand.Rand, inputDim, hiddenDim int) *LSTMCell {
	c := &LSTMCell{
		InputDim:  inputDim,
		HiddenDim: hiddenDim,
		WeightIH:  mat.NewDense(4*hiddenDim, inputDim, nil),
		WeightHH:  mat.NewDense(4*hiddenDim, hiddenDim, nil),
		BiasIH:    mat.NewDense(1, 4*hiddenDim, nil),
		BiasHH:    mat.NewDense(1, 4*hiddenDim, nil),
	}
	bound := 1 / math.Sqrt(float64(hiddenDim))
	for _, m := range []*mat.Dense{c.WeightIH, c.WeightHH, c.BiasIH, c.BiasHH} {
		uniform(rng, m, bound)
	}
	return c
}

// Step advances every row of the batch by one timestep and returns fresh
// hidden and cell matrices. Inputs are never modified.
func (c *LSTMCell) Step(x, h, cell mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	n, in := x.Dims()
	if in != c.InputDim {
		return nil, nil, fmt.Errorf("%w: lstm cell expects input width %d, got %d", ErrDimension, c.InputDim, in)
	}
	for _, state := range []mat.Matrix{h, cell} {
		r, w := state.Dims()
		if r != n || w != c.HiddenDim {
			return nil, nil, fmt.Errorf("%w: lstm state is %dx%d, want %dx%d", ErrDimension, r, w, n, c.HiddenDim)
		}
	}

	var gates, recurrent mat.Dense
	gates.Mul(x, c.WeightIH.T())
	recurrent.Mul(h, c.WeightHH.T())
	gates.Add(&gates, &recurrent)
	addRowVector(&gates, c.BiasIH)
	addRowVector(&gates, c.BiasHH)

	hid := c.HiddenDim
	hNext := mat.NewDense(n, hid, nil)
	cNext := mat.NewDense(n, hid, nil)
	for r := 0; r < n; r++ {
		g := gates.RawRowView(r)
		hRow := hNext.RawRowView(r)
		cRow := cNext.RawRowView(r)
		for k := 0; k < hid; k++ {
			in := sigmoid(g[k])
			forget := sigmoid(g[hid+k])
			candidate := math.Tanh(g[2*hid+k])
			out := sigmoid(g[3*hid+k])
			cRow[k] = forget*cell.At(r, k) + in*candidate
			hRow[k] = out * math.Tanh(cRow[k])
		}
	}
	return hNext, cNext, nil
}

func (c *LSTMCell) Params(prefix string) []Param {
	return []Param{
		{Name: join(prefix, "weight_ih"), Value: c.WeightIH},
		{Name: join(prefix, "weight_hh"), Value: c.WeightHH},
		{Name: join(prefix, "bias_ih"), Value: c.BiasIH},
		{Name: join(prefix, "bias_hh"), Value: c.BiasHH},
	}
}

// LSTM is a stacked sequence-to-sequence recurrent layer with zero initial
// state. The output of layer l is the input of layer l+1.
type LSTM struct {
	Layers []*LSTMCell
}

func NewLSTM(rng *rand.Rand, inputDim, hiddenDim, numLayers int) *LSTM {
	l := &LSTM{}
	for i := 0; i < numLayers; i++ {
		in := hiddenDim
		if i == 0 {
			in = inputDim
		}
		l.Layers = append(l.Layers, NewLSTMCell(rng, in, hiddenDim))
	}
	return l
}

func (l *LSTM) HiddenDim() int {
	return l.Layers[len(l.Layers)-1].HiddenDim
}

// Forward consumes a sequence of batch×in matrices, one per timestep, and
// returns the top layer's hidden state at every timestep. Output at t depends
// only on inputs at steps <= t.
func (l *LSTM) Forward(seq []*mat.Dense) ([]*mat.Dense, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	batch, _ := seq[0].Dims()
	current := seq
	for li, cell := range l.Layers {
		h := mat.NewDense(batch, cell.HiddenDim, nil)
		c := mat.NewDense(batch, cell.HiddenDim, nil)
		next := make([]*mat.Dense, len(current))
		for t, x := range current {
			var err error
			h, c, err = cell.Step(x, h, c)
			if err != nil {
				return nil, fmt.Errorf("lstm layer %d step %d: %w", li, t, err)
			}
			next[t] = h
		}
		current = next
	}
	return current, nil
}

func (l *LSTM) Params(prefix string) []Param {
	var params []Param
	for i, cell := range l.Layers {
		for _, p := range cell.Params("") {
			params = append(params, Param{Name: join(prefix, fmt.Sprintf("%s_l%d", p.Name, i)), Value: p.Value})
		}
	}
	return params
}
