// Package normalization scales structures into the ranges the model is
// trained on and back again.
package normalization

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
)

var (
	ErrDirection = errors.New("wrong ground motion direction")
	ErrMissing   = errors.New("norm dict entry missing")
)

const (
	KeyGroundMotion = "ground_motion"
	KeyGridNum      = "grid_num"
	KeyCoord        = "coord"
	KeyPeriod       = "period"
	KeyModalShape   = "modal_shape"
	KeyElemLength   = "elem_length"
	KeyMomentZ      = "momentZ"
)

// Keys lists every range a complete norm dict carries.
func Keys() []string {
	keys := []string{KeyGroundMotion, KeyGridNum, KeyCoord, KeyPeriod, KeyModalShape, KeyElemLength}
	for _, g := range dataset.ResponseGroups {
		keys = append(keys, g.Name)
	}
	return keys
}

// Compute derives max-absolute ranges over the raw structures. The yield
// moments in the node features share the momentZ range with the response.
func Compute(structures []*dataset.Structure) (model.NormDict, error) {
	if len(structures) == 0 {
		return model.NormDict{}, errors.New("no structures to normalize")
	}
	maxes := map[string]float64{}
	track := func(key string, v float64) {
		if a := math.Abs(v); a > maxes[key] {
			maxes[key] = a
		}
	}

	for _, s := range structures {
		if s.GroundMotion1 == nil || s.GroundMotion2 == nil {
			return model.NormDict{}, fmt.Errorf("%s: ground motions not loaded", s.Path)
		}
		for _, gm := range []*mat.Dense{s.GroundMotion1, s.GroundMotion2} {
			for _, v := range gm.RawMatrix().Data {
				track(KeyGroundMotion, v)
			}
		}

		n, width := s.X.Dims()
		if width < dataset.NodeFeatures {
			return model.NormDict{}, fmt.Errorf("%s: %d node features, want at least %d", s.Path, width, dataset.NodeFeatures)
		}
		for i := 0; i < n; i++ {
			row := s.X.RawRowView(i)
			for _, g := range []dataset.Group{dataset.GridNumColumns, dataset.CoordColumns, dataset.PeriodColumns, dataset.ModalShapeColumns} {
				for c := g.Start; c < g.End; c++ {
					track(g.Name, row[c])
				}
			}
			for _, c := range dataset.ElemLengthColumns() {
				track(KeyElemLength, row[c])
			}
			for _, c := range dataset.YieldMomentColumns() {
				track(KeyMomentZ, row[c])
			}
		}

		if s.Y.D2 < dataset.ResponseWidth {
			return model.NormDict{}, fmt.Errorf("%s: %d response components, want %d", s.Path, s.Y.D2, dataset.ResponseWidth)
		}
		for i := 0; i < s.Y.D0; i++ {
			for t := 0; t < s.Y.D1; t++ {
				row := s.Y.Row(i, t)
				for _, g := range dataset.ResponseGroups {
					for c := g.Start; c < g.End; c++ {
						track(g.Name, row[c])
					}
				}
			}
		}
	}

	nd := model.NormDict{Ranges: make(map[string]model.Range, len(maxes))}
	for _, key := range Keys() {
		nd.Ranges[key] = model.Range{0, maxes[key]}
	}
	return nd, nil
}

// scaler maps v to (v-min)/(max-min). A zero span leaves values shifted but
// unscaled.
type scaler struct {
	min, span float64
}

func lookup(nd model.NormDict, key string) (scaler, error) {
	r, ok := nd.Ranges[key]
	if !ok {
		return scaler{}, fmt.Errorf("%w: %s", ErrMissing, key)
	}
	span := r.Span()
	if span == 0 {
		span = 1
	}
	return scaler{min: r.Min(), span: span}, nil
}

func (s scaler) forward(v float64) float64 { return (v - s.min) / s.span }
func (s scaler) inverse(v float64) float64 { return v*s.span + s.min }

// Normalize returns a scaled copy of s. x is cut to the 35 dataset features
// and targets to the ground-motion length; the orthogonal ground-motion name
// is derived from the FN/FP suffix.
func Normalize(s *dataset.Structure, nd model.NormDict) (*dataset.Structure, error) {
	out := s.Clone()

	gm, err := lookup(nd, KeyGroundMotion)
	if err != nil {
		return nil, err
	}
	for _, m := range []*mat.Dense{out.GroundMotion1, out.GroundMotion2} {
		if m == nil {
			return nil, fmt.Errorf("%s: ground motions not loaded", s.Path)
		}
		m.Apply(func(_, _ int, v float64) float64 { return gm.forward(v) }, m)
	}

	if err := scaleNodeFeatures(out.X, nd, false); err != nil {
		return nil, err
	}

	steps := out.Timesteps()
	if out.Y.D1 < steps {
		return nil, fmt.Errorf("%s: targets have %d steps, ground motions %d", s.Path, out.Y.D1, steps)
	}
	out.Y = out.Y.Truncate(steps)
	for _, g := range dataset.ResponseGroups {
		sc, err := lookup(nd, g.Name)
		if err != nil {
			return nil, err
		}
		for i := 0; i < out.Y.D0; i++ {
			for t := 0; t < out.Y.D1; t++ {
				row := out.Y.Row(i, t)
				for c := g.Start; c < g.End; c++ {
					row[c] = sc.forward(row[c])
				}
			}
		}
	}

	if out.EdgeAttr != nil {
		length, err := lookup(nd, KeyElemLength)
		if err != nil {
			return nil, err
		}
		moment, err := lookup(nd, KeyMomentZ)
		if err != nil {
			return nil, err
		}
		r, c := out.EdgeAttr.Dims()
		if c <= dataset.EdgeMomentColumn {
			return nil, fmt.Errorf("%s: %d edge features, want at least %d", s.Path, c, dataset.EdgeMomentColumn+1)
		}
		for e := 0; e < r; e++ {
			row := out.EdgeAttr.RawRowView(e)
			row[dataset.EdgeLengthColumn] = length.forward(row[dataset.EdgeLengthColumn])
			row[dataset.EdgeMomentColumn] = moment.forward(row[dataset.EdgeMomentColumn])
		}
	}

	if out.GMZName, err = OrthogonalName(s.GMXName); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}

	n, _ := out.X.Dims()
	out.X = mat.DenseCopyOf(out.X.Slice(0, n, 0, dataset.NodeFeatures))
	if out.Y.D2 != dataset.ResponseWidth {
		return nil, fmt.Errorf("%s: %d response components, want %d", s.Path, out.Y.D2, dataset.ResponseWidth)
	}
	return out, nil
}

// OrthogonalName swaps the FN/FP direction suffix of a ground-motion file
// name.
func OrthogonalName(name string) (string, error) {
	parts := strings.Split(name, "_")
	direction := strings.ReplaceAll(parts[len(parts)-1], ".txt", "")
	var other string
	switch direction {
	case "FN":
		other = "FP"
	case "FP":
		other = "FN"
	default:
		return "", fmt.Errorf("%w: %q", ErrDirection, name)
	}
	return strings.ReplaceAll(name, direction, other), nil
}

func scaleNodeFeatures(x *mat.Dense, nd model.NormDict, inverse bool) error {
	type columns struct {
		key  string
		cols []int
	}
	plan := []columns{
		{KeyGridNum, dataset.GridNumColumns.Columns()},
		{KeyCoord, dataset.CoordColumns.Columns()},
		{KeyPeriod, dataset.PeriodColumns.Columns()},
		{KeyModalShape, dataset.ModalShapeColumns.Columns()},
		{KeyElemLength, dataset.ElemLengthColumns()},
		{KeyMomentZ, dataset.YieldMomentColumns()},
	}
	n, width := x.Dims()
	for _, p := range plan {
		sc, err := lookup(nd, p.key)
		if err != nil {
			return err
		}
		for _, c := range p.cols {
			if c >= width {
				return fmt.Errorf("node features have %d columns, %s needs column %d", width, p.key, c)
			}
			for i := 0; i < n; i++ {
				v := x.At(i, c)
				if inverse {
					x.Set(i, c, sc.inverse(v))
				} else {
					x.Set(i, c, sc.forward(v))
				}
			}
		}
	}
	return nil
}

// DenormalizeX returns a copy of normalized node features in physical units.
func DenormalizeX(x *mat.Dense, nd model.NormDict) (*mat.Dense, error) {
	out := mat.DenseCopyOf(x)
	if err := scaleNodeFeatures(out, nd, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Denormalize rescales values of the named range (a response group or
// ground_motion) in place.
func Denormalize(key string, values []float64, nd model.NormDict) error {
	sc, err := lookup(nd, key)
	if err != nil {
		return err
	}
	for i, v := range values {
		values[i] = sc.inverse(v)
	}
	return nil
}
