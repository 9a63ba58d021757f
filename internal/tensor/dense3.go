// Package tensor holds the contiguous 3-D arrays that carry ground motions,
// node targets and decoded responses between the dataset layer and the model.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrShape = errors.New("tensor shape mismatch")

// Dense3 is a row-major d0×d1×d2 array backed by one slice. Element (i, j, k)
// lives at Data[(i*D1+j)*D2+k].
type Dense3 struct {
	D0, D1, D2 int
	Data       []float64
}

func NewDense3(d0, d1, d2 int) *Dense3 {
	if d0 < 0 || d1 < 0 || d2 < 0 {
		panic(fmt.Sprintf("tensor: negative dimension %dx%dx%d", d0, d1, d2))
	}
	return &Dense3{D0: d0, D1: d1, D2: d2, Data: make([]float64, d0*d1*d2)}
}

// FromData wraps data without copying.
func FromData(d0, d1, d2 int, data []float64) (*Dense3, error) {
	if len(data) != d0*d1*d2 {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d", ErrShape, len(data), d0, d1, d2)
	}
	return &Dense3{D0: d0, D1: d1, D2: d2, Data: data}, nil
}

func (t *Dense3) Shape() (int, int, int) {
	return t.D0, t.D1, t.D2
}

func (t *Dense3) index(i, j, k int) int {
	return (i*t.D1+j)*t.D2 + k
}

func (t *Dense3) At(i, j, k int) float64 {
	return t.Data[t.index(i, j, k)]
}

func (t *Dense3) Set(i, j, k int, v float64) {
	t.Data[t.index(i, j, k)] = v
}

// Row returns the d2-wide slice at (i, j). Writes go through to the tensor.
func (t *Dense3) Row(i, j int) []float64 {
	start := t.index(i, j, 0)
	return t.Data[start : start+t.D2 : start+t.D2]
}

// Plane returns a d1×d2 matrix view of entry i.
func (t *Dense3) Plane(i int) *mat.Dense {
	start := t.index(i, 0, 0)
	return mat.NewDense(t.D1, t.D2, t.Data[start:start+t.D1*t.D2])
}

// SetPlane copies a d1×d2 matrix into entry i.
func (t *Dense3) SetPlane(i int, m mat.Matrix) error {
	r, c := m.Dims()
	if r != t.D1 || c != t.D2 {
		return fmt.Errorf("%w: plane %dx%d into %dx%dx%d", ErrShape, r, c, t.D0, t.D1, t.D2)
	}
	t.Plane(i).Copy(m)
	return nil
}

// Step gathers the (i, j, :) rows for a fixed j into a d0×d2 matrix.
func (t *Dense3) Step(j int) *mat.Dense {
	out := mat.NewDense(t.D0, t.D2, nil)
	for i := 0; i < t.D0; i++ {
		out.SetRow(i, t.Row(i, j))
	}
	return out
}

// SetStep scatters a d0×d2 matrix into the (i, j, :) rows for a fixed j.
func (t *Dense3) SetStep(j int, m *mat.Dense) {
	for i := 0; i < t.D0; i++ {
		copy(t.Row(i, j), m.RawRowView(i))
	}
}

// Gather copies the entries listed in indices along axis 0, preserving order.
func (t *Dense3) Gather(indices []int) (*Dense3, error) {
	out := NewDense3(len(indices), t.D1, t.D2)
	stride := t.D1 * t.D2
	for n, idx := range indices {
		if idx < 0 || idx >= t.D0 {
			return nil, fmt.Errorf("%w: index %d outside [0,%d)", ErrShape, idx, t.D0)
		}
		copy(out.Data[n*stride:(n+1)*stride], t.Data[idx*stride:(idx+1)*stride])
	}
	return out, nil
}

// Truncate keeps the first steps entries along axis 1.
func (t *Dense3) Truncate(steps int) *Dense3 {
	if steps >= t.D1 {
		return t.Clone()
	}
	out := NewDense3(t.D0, steps, t.D2)
	for i := 0; i < t.D0; i++ {
		for j := 0; j < steps; j++ {
			copy(out.Row(i, j), t.Row(i, j))
		}
	}
	return out
}

func (t *Dense3) Clone() *Dense3 {
	out := &Dense3{D0: t.D0, D1: t.D1, D2: t.D2, Data: make([]float64, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// Concat stacks tensors along axis 0. All inputs must share d1 and d2.
func Concat(parts ...*Dense3) (*Dense3, error) {
	if len(parts) == 0 {
		return NewDense3(0, 0, 0), nil
	}
	d1, d2 := parts[0].D1, parts[0].D2
	total := 0
	for _, p := range parts {
		if p.D1 != d1 || p.D2 != d2 {
			return nil, fmt.Errorf("%w: concat %dx%d with %dx%d", ErrShape, d1, d2, p.D1, p.D2)
		}
		total += p.D0
	}
	out := NewDense3(total, d1, d2)
	offset := 0
	for _, p := range parts {
		copy(out.Data[offset:], p.Data)
		offset += len(p.Data)
	}
	return out, nil
}

// Nested copies t into a d0×d1×d2 slice of slices, the layout JSON files use.
func (t *Dense3) Nested() [][][]float64 {
	out := make([][][]float64, t.D0)
	for i := range out {
		out[i] = make([][]float64, t.D1)
		for j := range out[i] {
			out[i][j] = append([]float64(nil), t.Row(i, j)...)
		}
	}
	return out
}
