package dataset

// Widths of the steel-frame dataset.
const (
	NodeFeatures  = 35
	ResponseWidth = 30

	// MaxSteps is the longest ground-motion record kept, in response steps.
	MaxSteps = 2000
	// SubSteps is the number of ground-motion samples per response step.
	SubSteps = 10
	// GroundMotionDim is the width of one timestep of the concatenated
	// ground-motion pair.
	GroundMotionDim = 2 * SubSteps
)

// Group is a named, contiguous column range [Start, End).
type Group struct {
	Name       string
	Start, End int
}

func (g Group) Columns() []int {
	cols := make([]int, 0, g.End-g.Start)
	for c := g.Start; c < g.End; c++ {
		cols = append(cols, c)
	}
	return cols
}

// ResponseGroups partitions the 30 response components. Each group holds the
// two horizontal directions (acc, vel, disp) or the six element ends around
// a joint (moments and shears).
var ResponseGroups = []Group{
	{Name: "acc", Start: 0, End: 2},
	{Name: "vel", Start: 2, End: 4},
	{Name: "disp", Start: 4, End: 6},
	{Name: "momentY", Start: 6, End: 12},
	{Name: "momentZ", Start: 12, End: 18},
	{Name: "shearY", Start: 18, End: 24},
	{Name: "shearZ", Start: 24, End: 30},
}

// Node feature columns.
var (
	GridNumColumns    = Group{Name: "grid_num", Start: 0, End: 3}
	CoordColumns      = Group{Name: "coord", Start: 3, End: 6}
	PeriodColumns     = Group{Name: "period", Start: 11, End: 14}
	ModalShapeColumns = Group{Name: "modal_shape", Start: 14, End: 23}
)

// ElemLengthColumns are the six element lengths at 23, 25, ..., 33.
func ElemLengthColumns() []int { return strided(23, NodeFeatures, 2) }

// YieldMomentColumns are the six yield moments about z at 24, 26, ..., 34.
func YieldMomentColumns() []int { return strided(24, NodeFeatures, 2) }

// Edge feature columns scaled during normalization.
const (
	EdgeLengthColumn = 0
	EdgeMomentColumn = 3
)

func strided(start, end, step int) []int {
	var out []int
	for c := start; c < end; c += step {
		out = append(out, c)
	}
	return out
}
