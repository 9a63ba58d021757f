package graphlstm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// Batch is a set of structures flattened along the node axis. Nodes of
// structure b occupy rows Ptr[b]..Ptr[b+1]-1 of X and Graph[i] names the
// owning structure of node i.
type Batch struct {
	X        *mat.Dense   // N×NodeDim
	Edges    nn.EdgeIndex // global node ids
	EdgeAttr *mat.Dense   // E×EdgeDim, nil when the batch has no edges
	Graph    []int
	Ptr      []int

	// GroundMotions is structures×T×GroundMotionDim.
	GroundMotions *tensor.Dense3

	// Sampled lists, per structure, the structure-local node indices to
	// decode when sampling is enabled.
	Sampled [][]int

	// Targets is optional ground truth, N×T×OutputDim.
	Targets *tensor.Dense3
}

func (b *Batch) NumNodes() int {
	if b.X == nil {
		return 0
	}
	n, _ := b.X.Dims()
	return n
}

func (b *Batch) NumStructures() int {
	if len(b.Ptr) == 0 {
		return 0
	}
	return len(b.Ptr) - 1
}

// NodeRows copies the feature rows of the listed nodes, in order. It returns
// nil for an empty list.
func (b *Batch) NodeRows(indices []int) *mat.Dense {
	if len(indices) == 0 {
		return nil
	}
	return gatherRows(b.X, indices)
}

func (b *Batch) Timesteps() int {
	if b.GroundMotions == nil {
		return 0
	}
	return b.GroundMotions.D1
}

// Validate checks the batch against the widths in cfg. Nothing is corrected.
func (b *Batch) Validate(cfg Config) error {
	if b.X == nil {
		return fmt.Errorf("%w: batch has no node features", ErrShapeMismatch)
	}
	n, width := b.X.Dims()
	if width != cfg.NodeDim {
		return fmt.Errorf("%w: node features have %d columns, model expects %d", ErrShapeMismatch, width, cfg.NodeDim)
	}
	if err := checkPtr(b.Ptr, n); err != nil {
		return err
	}
	if len(b.Graph) != n {
		return fmt.Errorf("%w: %d graph ids for %d nodes", ErrIndexContract, len(b.Graph), n)
	}
	for s := 0; s < b.NumStructures(); s++ {
		for i := b.Ptr[s]; i < b.Ptr[s+1]; i++ {
			if b.Graph[i] != s {
				return fmt.Errorf("%w: node %d assigned to structure %d but lies in range of %d", ErrIndexContract, i, b.Graph[i], s)
			}
		}
	}
	if err := b.Edges.Validate(n); err != nil {
		return classify(err)
	}
	if b.Edges.Len() > 0 && cfg.EdgeDim > 0 {
		if b.EdgeAttr == nil {
			return fmt.Errorf("%w: %d edges without edge features", ErrShapeMismatch, b.Edges.Len())
		}
		r, c := b.EdgeAttr.Dims()
		if r != b.Edges.Len() || c != cfg.EdgeDim {
			return fmt.Errorf("%w: edge features %dx%d, want %dx%d", ErrShapeMismatch, r, c, b.Edges.Len(), cfg.EdgeDim)
		}
	}
	if cfg.EdgeDim == 0 && b.EdgeAttr != nil {
		if _, c := b.EdgeAttr.Dims(); c > 0 {
			return fmt.Errorf("%w: %d edge feature columns for a model without edge features", ErrShapeMismatch, c)
		}
	}
	gm := b.GroundMotions
	if gm == nil {
		return fmt.Errorf("%w: batch has no ground motions", ErrShapeMismatch)
	}
	if gm.D0 != b.NumStructures() || gm.D2 != cfg.GroundMotionDim {
		return fmt.Errorf("%w: ground motions %dx%dx%d for %d structures with %d channels", ErrShapeMismatch, gm.D0, gm.D1, gm.D2, b.NumStructures(), cfg.GroundMotionDim)
	}
	if y := b.Targets; y != nil {
		if y.D1 != gm.D1 {
			return fmt.Errorf("%w: targets have %d steps, ground motions %d", ErrSequenceLength, y.D1, gm.D1)
		}
		if y.D0 != n || y.D2 != cfg.OutputDim {
			return fmt.Errorf("%w: targets %dx%dx%d for %d nodes and %d outputs", ErrShapeMismatch, y.D0, y.D1, y.D2, n, cfg.OutputDim)
		}
	}
	return nil
}

// checkPtr requires ptr to start at zero, never decrease and end at n.
func checkPtr(ptr []int, n int) error {
	if len(ptr) < 1 || ptr[0] != 0 {
		return fmt.Errorf("%w: offsets %v must start at 0", ErrIndexContract, ptr)
	}
	for s := 1; s < len(ptr); s++ {
		if ptr[s] < ptr[s-1] {
			return fmt.Errorf("%w: offsets %v decrease at %d", ErrIndexContract, ptr, s)
		}
	}
	if last := ptr[len(ptr)-1]; last != n {
		return fmt.Errorf("%w: offsets end at %d but %d nodes are active", ErrIndexContract, last, n)
	}
	return nil
}

// owners expands a validated offset table into the owning structure of
// every node.
func owners(ptr []int) []int {
	out := make([]int, ptr[len(ptr)-1])
	for s := 0; s+1 < len(ptr); s++ {
		for i := ptr[s]; i < ptr[s+1]; i++ {
			out[i] = s
		}
	}
	return out
}
