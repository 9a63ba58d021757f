// Package dataset reads structure graphs and their ground-motion records
// from disk and batches them for the model.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

var ErrMalformed = errors.New("malformed structure data")

// Structure is one building under one ground-motion pair.
type Structure struct {
	Path string

	X        *mat.Dense // nodes×features
	Edges    nn.EdgeIndex
	EdgeAttr *mat.Dense     // edges×edge features, nil without edges
	Y        *tensor.Dense3 // nodes×steps×ResponseWidth

	GridNum [3]float64
	GMXName string
	GMZName string

	// Ground motions are steps×SubSteps.
	GroundMotion1 *mat.Dense
	GroundMotion2 *mat.Dense

	// SampledIndex lists the local nodes decoded when sampling is enabled.
	SampledIndex []int
}

func (s *Structure) NumNodes() int {
	n, _ := s.X.Dims()
	return n
}

func (s *Structure) Timesteps() int {
	if s.GroundMotion1 == nil {
		return 0
	}
	r, _ := s.GroundMotion1.Dims()
	return r
}

// GroundMotions returns the steps×GroundMotionDim concatenation of both
// records.
func (s *Structure) GroundMotions() *mat.Dense {
	var out mat.Dense
	out.Augment(s.GroundMotion1, s.GroundMotion2)
	return &out
}

func (s *Structure) Clone() *Structure {
	c := *s
	c.X = mat.DenseCopyOf(s.X)
	c.Edges = nn.EdgeIndex{
		Src: append([]int(nil), s.Edges.Src...),
		Dst: append([]int(nil), s.Edges.Dst...),
	}
	if s.EdgeAttr != nil {
		c.EdgeAttr = mat.DenseCopyOf(s.EdgeAttr)
	}
	if s.Y != nil {
		c.Y = s.Y.Clone()
	}
	if s.GroundMotion1 != nil {
		c.GroundMotion1 = mat.DenseCopyOf(s.GroundMotion1)
	}
	if s.GroundMotion2 != nil {
		c.GroundMotion2 = mat.DenseCopyOf(s.GroundMotion2)
	}
	c.SampledIndex = append([]int(nil), s.SampledIndex...)
	return &c
}

// graphFile is the on-disk form of structure_graph_<type>.json.
type graphFile struct {
	X         [][]float64   `json:"x"`
	EdgeIndex [2][]int      `json:"edge_index"`
	EdgeAttr  [][]float64   `json:"edge_attr"`
	Y         [][][]float64 `json:"y"`
	GridNum   []float64     `json:"grid_num"`
	GMXName   string        `json:"gm_X_name"`
}

// ReadGraph decodes a structure graph file. Ground motions are attached
// separately.
func ReadGraph(path string) (*Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file graphFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	s, err := file.structure()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteGraph encodes s in the structure graph file format.
func WriteGraph(path string, s *Structure) error {
	file := graphFile{
		X:         denseRows(s.X),
		EdgeIndex: [2][]int{s.Edges.Src, s.Edges.Dst},
		GridNum:   s.GridNum[:],
		GMXName:   s.GMXName,
	}
	if s.EdgeAttr != nil {
		file.EdgeAttr = denseRows(s.EdgeAttr)
	}
	if s.Y != nil {
		file.Y = s.Y.Nested()
	}
	data, err := json.Marshal(file)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (f graphFile) structure() (*Structure, error) {
	x, err := rowsDense(f.X)
	if err != nil {
		return nil, fmt.Errorf("node features: %w", err)
	}
	if x == nil {
		return nil, fmt.Errorf("%w: graph has no nodes", ErrMalformed)
	}
	n, _ := x.Dims()

	s := &Structure{
		X:       x,
		Edges:   nn.EdgeIndex{Src: f.EdgeIndex[0], Dst: f.EdgeIndex[1]},
		GMXName: f.GMXName,
	}
	if err := s.Edges.Validate(n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if s.EdgeAttr, err = rowsDense(f.EdgeAttr); err != nil {
		return nil, fmt.Errorf("edge features: %w", err)
	}
	if s.Edges.Len() > 0 {
		if s.EdgeAttr == nil {
			return nil, fmt.Errorf("%w: %d edges without features", ErrMalformed, s.Edges.Len())
		}
		if r, _ := s.EdgeAttr.Dims(); r != s.Edges.Len() {
			return nil, fmt.Errorf("%w: %d edge feature rows for %d edges", ErrMalformed, r, s.Edges.Len())
		}
	}
	if len(f.GridNum) != 3 {
		return nil, fmt.Errorf("%w: grid_num has %d entries", ErrMalformed, len(f.GridNum))
	}
	copy(s.GridNum[:], f.GridNum)

	if len(f.Y) != n {
		return nil, fmt.Errorf("%w: targets for %d nodes, graph has %d", ErrMalformed, len(f.Y), n)
	}
	steps := len(f.Y[0])
	width := 0
	if steps > 0 {
		width = len(f.Y[0][0])
	}
	s.Y = tensor.NewDense3(n, steps, width)
	for i, node := range f.Y {
		if len(node) != steps {
			return nil, fmt.Errorf("%w: node %d has %d steps, want %d", ErrMalformed, i, len(node), steps)
		}
		for j, values := range node {
			if len(values) != width {
				return nil, fmt.Errorf("%w: node %d step %d has %d components", ErrMalformed, i, j, len(values))
			}
			copy(s.Y.Row(i, j), values)
		}
	}
	return s, nil
}

func rowsDense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	width := len(rows[0])
	if width == 0 {
		return nil, fmt.Errorf("%w: empty rows", ErrMalformed)
	}
	m := mat.NewDense(len(rows), width, nil)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrMalformed, i, len(row), width)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

func denseRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = append([]float64(nil), m.RawRowView(i)...)
	}
	return out
}
