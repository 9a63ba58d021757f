package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// Split partitions [0, n) into train, valid and test index sets. The first
// two sizes are floor(n*ratio); test takes the remainder.
func Split(n int, ratios [3]float64, seed int64) (train, valid, test []int, err error) {
	for _, r := range ratios {
		if r < 0 {
			return nil, nil, nil, fmt.Errorf("split ratios must not be negative: %v", ratios)
		}
	}
	trainNum := int(float64(n) * ratios[0])
	validNum := int(float64(n) * ratios[1])
	if trainNum+validNum > n {
		return nil, nil, nil, fmt.Errorf("split ratios %v exceed %d samples", ratios, n)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[:trainNum], perm[trainNum : trainNum+validNum], perm[trainNum+validNum:], nil
}

// Select returns the structures at indices, in order.
func Select(structures []*Structure, indices []int) []*Structure {
	out := make([]*Structure, len(indices))
	for k, i := range indices {
		out[k] = structures[i]
	}
	return out
}

// Collate flattens normalized structures into one model batch. Edge indices
// are offset by each structure's first node.
func Collate(structures []*Structure) (*graphlstm.Batch, error) {
	if len(structures) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrMalformed)
	}
	first := structures[0]
	_, nodeDim := first.X.Dims()
	steps := first.Timesteps()
	edgeDim := 0
	for _, s := range structures {
		if s.EdgeAttr != nil {
			_, edgeDim = s.EdgeAttr.Dims()
			break
		}
	}

	b := &graphlstm.Batch{Ptr: []int{0}}
	totalNodes, totalEdges := 0, 0
	for _, s := range structures {
		totalNodes += s.NumNodes()
		totalEdges += s.Edges.Len()
	}
	b.X = mat.NewDense(totalNodes, nodeDim, nil)
	if totalEdges > 0 && edgeDim > 0 {
		b.EdgeAttr = mat.NewDense(totalEdges, edgeDim, nil)
	}
	b.GroundMotions = tensor.NewDense3(len(structures), steps, GroundMotionDim)
	b.Targets = tensor.NewDense3(totalNodes, steps, first.Y.D2)

	edgeRow := 0
	for si, s := range structures {
		base := b.Ptr[si]
		if s.GroundMotion1 == nil || s.GroundMotion2 == nil || steps == 0 {
			return nil, fmt.Errorf("%w: %s has no ground motions", ErrMalformed, s.Path)
		}
		n, width := s.X.Dims()
		if width != nodeDim {
			return nil, fmt.Errorf("%w: %s has %d node features, batch has %d", graphlstm.ErrShapeMismatch, s.Path, width, nodeDim)
		}
		if s.Timesteps() != steps || s.Y.D1 != steps {
			return nil, fmt.Errorf("%w: %s has %d ground-motion and %d target steps, batch has %d", graphlstm.ErrSequenceLength, s.Path, s.Timesteps(), s.Y.D1, steps)
		}
		if s.Y.D2 != b.Targets.D2 {
			return nil, fmt.Errorf("%w: %s has %d response components", graphlstm.ErrShapeMismatch, s.Path, s.Y.D2)
		}
		for i := 0; i < n; i++ {
			copy(b.X.RawRowView(base+i), s.X.RawRowView(i))
			b.Graph = append(b.Graph, si)
		}
		for e := 0; e < s.Edges.Len(); e++ {
			b.Edges.Src = append(b.Edges.Src, base+s.Edges.Src[e])
			b.Edges.Dst = append(b.Edges.Dst, base+s.Edges.Dst[e])
			if b.EdgeAttr != nil {
				if s.EdgeAttr == nil {
					return nil, fmt.Errorf("%w: %s has edges without features", graphlstm.ErrShapeMismatch, s.Path)
				}
				if _, w := s.EdgeAttr.Dims(); w != edgeDim {
					return nil, fmt.Errorf("%w: %s has %d edge features, batch has %d", graphlstm.ErrShapeMismatch, s.Path, w, edgeDim)
				}
				copy(b.EdgeAttr.RawRowView(edgeRow), s.EdgeAttr.RawRowView(e))
			}
			edgeRow++
		}
		if err := b.GroundMotions.SetPlane(si, s.GroundMotions()); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Path, err)
		}
		copy(b.Targets.Data[base*steps*b.Targets.D2:], s.Y.Data)
		b.Sampled = append(b.Sampled, append([]int(nil), s.SampledIndex...))
		b.Ptr = append(b.Ptr, base+n)
	}
	return b, nil
}

// Loader groups structures into batches of BatchSize. With Shuffle set the
// order is redrawn every epoch.
type Loader struct {
	Structures []*Structure
	BatchSize  int
	Shuffle    bool

	rng *rand.Rand
}

func NewLoader(structures []*Structure, batchSize int, shuffle bool, seed int64) *Loader {
	return &Loader{
		Structures: structures,
		BatchSize:  batchSize,
		Shuffle:    shuffle,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (l *Loader) NumBatches() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (len(l.Structures) + l.BatchSize - 1) / l.BatchSize
}

// Each collates one epoch and hands every batch with its members to fn.
func (l *Loader) Each(ctx context.Context, fn func(members []*Structure, b *graphlstm.Batch) error) error {
	if l.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", l.BatchSize)
	}
	order := make([]int, len(l.Structures))
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	for start := 0; start < len(order); start += l.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+l.BatchSize, len(order))
		members := Select(l.Structures, order[start:end])
		b, err := Collate(members)
		if err != nil {
			return err
		}
		if err := fn(members, b); err != nil {
			return err
		}
	}
	return nil
}
