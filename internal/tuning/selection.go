package tuning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
)

var ErrNoParams = errors.New("no parameters match prefix")

// Selection is a view over the parameters whose names start with a prefix.
// Vector and Apply flatten them in name order of the module.
type Selection struct {
	Prefix string
	Params []nn.Param
}

func Select(m nn.Module, prefix string) (Selection, error) {
	sel := Selection{Prefix: prefix}
	for _, p := range m.Params("") {
		if prefix == "" || p.Name == prefix || strings.HasPrefix(p.Name, prefix+".") {
			sel.Params = append(sel.Params, p)
		}
	}
	if len(sel.Params) == 0 {
		return Selection{}, fmt.Errorf("%w: %q", ErrNoParams, prefix)
	}
	return sel, nil
}

func (s Selection) Size() int {
	total := 0
	for _, p := range s.Params {
		r, c := p.Value.Dims()
		total += r * c
	}
	return total
}

func (s Selection) Vector() []float64 {
	out := make([]float64, 0, s.Size())
	for _, p := range s.Params {
		r, _ := p.Value.Dims()
		for i := 0; i < r; i++ {
			out = append(out, p.Value.RawRowView(i)...)
		}
	}
	return out
}

// Apply writes v back into the selected parameters.
func (s Selection) Apply(v []float64) error {
	if len(v) != s.Size() {
		return fmt.Errorf("vector has %d values, selection %q has %d", len(v), s.Prefix, s.Size())
	}
	off := 0
	for _, p := range s.Params {
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			copy(p.Value.RawRowView(i), v[off:off+c])
			off += c
		}
	}
	return nil
}
