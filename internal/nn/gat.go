package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var ErrEdgeIndex = errors.New("edge index out of range")

// EdgeIndex lists directed edges Src[e] -> Dst[e].
type EdgeIndex struct {
	Src []int `json:"src"`
	Dst []int `json:"dst"`
}

func (e EdgeIndex) Len() int {
	return len(e.Src)
}

// Validate checks that both endpoint lists agree in length and address
// nodes in [0, numNodes).
func (e EdgeIndex) Validate(numNodes int) error {
	if len(e.Src) != len(e.Dst) {
		return fmt.Errorf("%w: %d sources, %d targets", ErrEdgeIndex, len(e.Src), len(e.Dst))
	}
	for i := range e.Src {
		if e.Src[i] < 0 || e.Src[i] >= numNodes || e.Dst[i] < 0 || e.Dst[i] >= numNodes {
			return fmt.Errorf("%w: edge %d (%d->%d) with %d nodes", ErrEdgeIndex, i, e.Src[i], e.Dst[i], numNodes)
		}
	}
	return nil
}

// Attention carries the per-edge, per-head coefficients of one convolution
// together with the self-loop-augmented edge list they refer to.
type Attention struct {
	Edges   EdgeIndex
	Weights *mat.Dense // E'×heads
}

// GATv2Conv is a multi-head dynamic attention convolution with edge
// features. Head outputs are averaged.
type GATv2Conv struct {
	InDim, OutDim, Heads, EdgeDim int
	NegativeSlope                 float64

	LinL    *Linear    // source projection, In -> Heads*Out
	LinR    *Linear    // target projection, In -> Heads*Out
	LinEdge *Linear    // EdgeDim -> Heads*Out, no bias; nil when EdgeDim == 0
	Att     *mat.Dense // Heads×Out
	Bias    *mat.Dense // 1×Out
}

func NewGATv2Conv(rng *rand.Rand, inDim, outDim, heads, edgeDim int) *GATv2Conv {
	g := &GATv2Conv{
		InDim:         inDim,
		OutDim:        outDim,
		Heads:         heads,
		EdgeDim:       edgeDim,
		NegativeSlope: DefaultLeakySlope,
		LinL:          NewGlorotLinear(rng, inDim, heads*outDim, true),
		LinR:          NewGlorotLinear(rng, inDim, heads*outDim, true),
		Att:           mat.NewDense(heads, outDim, nil),
		Bias:          mat.NewDense(1, outDim, nil),
	}
	if edgeDim > 0 {
		g.LinEdge = NewGlorotLinear(rng, edgeDim, heads*outDim, false)
	}
	glorot(rng, g.Att, heads, outDim)
	return g
}

// Forward returns node outputs (N×Out) and the attention coefficients.
// edgeAttr may be nil only when the layer has no edge projection or the
// graph has no edges.
func (g *GATv2Conv) Forward(x *mat.Dense, edges EdgeIndex, edgeAttr *mat.Dense) (*mat.Dense, Attention, error) {
	n, in := x.Dims()
	if in != g.InDim {
		return nil, Attention{}, fmt.Errorf("%w: attention conv expects %d features, got %d", ErrDimension, g.InDim, in)
	}
	if err := edges.Validate(n); err != nil {
		return nil, Attention{}, err
	}
	if g.LinEdge != nil && edges.Len() > 0 {
		if edgeAttr == nil {
			return nil, Attention{}, fmt.Errorf("%w: edge features required", ErrDimension)
		}
		r, c := edgeAttr.Dims()
		if r != edges.Len() || c != g.EdgeDim {
			return nil, Attention{}, fmt.Errorf("%w: edge features %dx%d for %d edges of width %d", ErrDimension, r, c, edges.Len(), g.EdgeDim)
		}
	}

	loops, loopAttr := addSelfLoops(edges, edgeAttr, n, g.EdgeDim)

	xl, err := g.LinL.Forward(x)
	if err != nil {
		return nil, Attention{}, err
	}
	xr, err := g.LinR.Forward(x)
	if err != nil {
		return nil, Attention{}, err
	}
	// Without any input edges every loop feature is zero and the bias-free
	// edge projection contributes nothing.
	var xe *mat.Dense
	if g.LinEdge != nil && loopAttr != nil {
		if xe, err = g.LinEdge.Forward(loopAttr); err != nil {
			return nil, Attention{}, err
		}
	}

	heads, width := g.Heads, g.OutDim
	numEdges := loops.Len()
	scores := mat.NewDense(numEdges, heads, nil)
	for e := 0; e < numEdges; e++ {
		src, dst := loops.Src[e], loops.Dst[e]
		left, right := xl.RawRowView(src), xr.RawRowView(dst)
		var edge []float64
		if xe != nil {
			edge = xe.RawRowView(e)
		}
		for h := 0; h < heads; h++ {
			att := g.Att.RawRowView(h)
			score := 0.0
			for c := 0; c < width; c++ {
				k := h*width + c
				v := left[k] + right[k]
				if edge != nil {
					v += edge[k]
				}
				score += att[c] * LeakyReLU(v, g.NegativeSlope)
			}
			scores.Set(e, h, score)
		}
	}

	alpha := segmentSoftmax(scores, loops.Dst, n)

	out := mat.NewDense(n, width, nil)
	invHeads := 1 / float64(heads)
	for e := 0; e < numEdges; e++ {
		src, dst := loops.Src[e], loops.Dst[e]
		left := xl.RawRowView(src)
		row := out.RawRowView(dst)
		for h := 0; h < heads; h++ {
			a := alpha.At(e, h) * invHeads
			for c := 0; c < width; c++ {
				row[c] += a * left[h*width+c]
			}
		}
	}
	addRowVector(out, g.Bias)

	return out, Attention{Edges: loops, Weights: alpha}, nil
}

func (g *GATv2Conv) Params(prefix string) []Param {
	params := []Param{{Name: join(prefix, "att"), Value: g.Att}, {Name: join(prefix, "bias"), Value: g.Bias}}
	params = append(params, g.LinL.Params(join(prefix, "lin_l"))...)
	params = append(params, g.LinR.Params(join(prefix, "lin_r"))...)
	if g.LinEdge != nil {
		params = append(params, g.LinEdge.Params(join(prefix, "lin_edge"))...)
	}
	return params
}

// addSelfLoops drops existing self loops and appends one loop per node. A
// loop's edge feature is the mean of the node's incoming edge features, or
// zero when the node has none.
func addSelfLoops(edges EdgeIndex, edgeAttr *mat.Dense, numNodes, edgeDim int) (EdgeIndex, *mat.Dense) {
	kept := make([]int, 0, edges.Len())
	for e := range edges.Src {
		if edges.Src[e] != edges.Dst[e] {
			kept = append(kept, e)
		}
	}

	total := len(kept) + numNodes
	out := EdgeIndex{Src: make([]int, 0, total), Dst: make([]int, 0, total)}
	for _, e := range kept {
		out.Src = append(out.Src, edges.Src[e])
		out.Dst = append(out.Dst, edges.Dst[e])
	}
	for i := 0; i < numNodes; i++ {
		out.Src = append(out.Src, i)
		out.Dst = append(out.Dst, i)
	}

	if edgeDim == 0 || edgeAttr == nil {
		return out, nil
	}

	attr := mat.NewDense(total, edgeDim, nil)
	sums := mat.NewDense(numNodes, edgeDim, nil)
	counts := make([]float64, numNodes)
	for row, e := range kept {
		src := edgeAttr.RawRowView(e)
		copy(attr.RawRowView(row), src)
		dst := edges.Dst[e]
		acc := sums.RawRowView(dst)
		for c := range acc {
			acc[c] += src[c]
		}
		counts[dst]++
	}
	for i := 0; i < numNodes; i++ {
		if counts[i] == 0 {
			continue
		}
		loop := attr.RawRowView(len(kept) + i)
		for c, v := range sums.RawRowView(i) {
			loop[c] = v / counts[i]
		}
	}
	return out, attr
}

// segmentSoftmax normalises scores over edges sharing the same target node,
// independently per head.
func segmentSoftmax(scores *mat.Dense, groups []int, numGroups int) *mat.Dense {
	numEdges, heads := scores.Dims()
	maxes := mat.NewDense(numGroups, heads, nil)
	for i := 0; i < numGroups; i++ {
		row := maxes.RawRowView(i)
		for h := range row {
			row[h] = math.Inf(-1)
		}
	}
	for e := 0; e < numEdges; e++ {
		row := maxes.RawRowView(groups[e])
		for h, v := range scores.RawRowView(e) {
			row[h] = math.Max(row[h], v)
		}
	}

	out := mat.NewDense(numEdges, heads, nil)
	sums := mat.NewDense(numGroups, heads, nil)
	for e := 0; e < numEdges; e++ {
		g := groups[e]
		for h, v := range scores.RawRowView(e) {
			ex := math.Exp(v - maxes.At(g, h))
			out.Set(e, h, ex)
			sums.Set(g, h, sums.At(g, h)+ex)
		}
	}
	for e := 0; e < numEdges; e++ {
		g := groups[e]
		row := out.RawRowView(e)
		for h := range row {
			row[h] /= sums.At(g, h) + 1e-16
		}
	}
	return out
}
