package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrParamMismatch = errors.New("parameter mismatch")

// Param is a named trainable matrix. Bias vectors are stored as 1×n.
type Param struct {
	Name  string
	Value *mat.Dense
}

// Module exposes its parameters under a dotted prefix, mirroring the
// state-dict naming used when weights are exported.
type Module interface {
	Params(prefix string) []Param
}

// ParamData is the serialisable form of a Param.
type ParamData struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func StateDict(m Module) map[string]ParamData {
	params := m.Params("")
	out := make(map[string]ParamData, len(params))
	for _, p := range params {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			data = append(data, p.Value.RawRowView(i)...)
		}
		out[p.Name] = ParamData{Rows: r, Cols: c, Data: data}
	}
	return out
}

// LoadStateDict copies every entry of state into the module. Missing,
// unexpected or mis-shaped entries are rejected before anything is written.
func LoadStateDict(m Module, state map[string]ParamData) error {
	params := m.Params("")
	if len(params) != len(state) {
		return fmt.Errorf("%w: module has %d parameters, state has %d", ErrParamMismatch, len(params), len(state))
	}
	for _, p := range params {
		data, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrParamMismatch, p.Name)
		}
		r, c := p.Value.Dims()
		if data.Rows != r || data.Cols != c || len(data.Data) != r*c {
			return fmt.Errorf("%w: %s is %dx%d, state has %dx%d", ErrParamMismatch, p.Name, r, c, data.Rows, data.Cols)
		}
	}
	for _, p := range params {
		data := state[p.Name]
		r, c := p.Value.Dims()
		p.Value.Copy(mat.NewDense(r, c, append([]float64(nil), data.Data...)))
	}
	return nil
}

func CountParams(m Module) int {
	total := 0
	for _, p := range m.Params("") {
		r, c := p.Value.Dims()
		total += r * c
	}
	return total
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func uniform(rng *rand.Rand, m *mat.Dense, bound float64) {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = (rng.Float64()*2 - 1) * bound
		}
	}
}

// glorot fills m with U(-a, a), a = sqrt(6 / (fanIn + fanOut)).
func glorot(rng *rand.Rand, m *mat.Dense, fanIn, fanOut int) {
	uniform(rng, m, math.Sqrt(6.0/float64(fanIn+fanOut)))
}

func addRowVector(m *mat.Dense, bias *mat.Dense) {
	b := bias.RawRowView(0)
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), b)
	}
}
