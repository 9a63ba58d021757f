package normalization

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// RandomSampleRate is the share of nodes kept by random sampling.
const RandomSampleRate = 0.1

// RandomSample keeps floor(n*RandomSampleRate) nodes drawn from rng, sorted.
func RandomSample(n int, rng *rand.Rand) []int {
	count := int(float64(n) * RandomSampleRate)
	picked := rng.Perm(n)[:count]
	sort.Ints(picked)
	return picked
}

// ZigzagPath returns the (x, z) grid positions visited by a zig-zag walk
// across a plan of xGrids×zGrids grid lines, bouncing between the edges of
// the shorter direction while advancing along the longer one.
func ZigzagPath(xGrids, zGrids int) [][2]int {
	xMax, zMax := xGrids-1, zGrids-1
	xMore := xMax >= zMax
	var path [][2]int
	x, z := 0, 0
	increase := false
	for (xMore && x <= xMax) || (!xMore && z <= zMax) {
		path = append(path, [2]int{x, z})
		if (xMore && (z == 0 || z == zMax)) || (!xMore && (x == 0 || x == xMax)) {
			increase = !increase
		}
		switch {
		case increase:
			x++
			z++
		case xMore:
			x++
			z--
		default:
			x--
			z++
		}
	}
	return path
}

// ZigzagSample keeps every other node, in node order, whose grid position
// lies on the zig-zag path of every story. s must be normalized with nd.
func ZigzagSample(s *dataset.Structure, nd model.NormDict) ([]int, error) {
	onPath := map[[2]int]bool{}
	for _, p := range ZigzagPath(int(s.GridNum[0]), int(s.GridNum[2])) {
		onPath[p] = true
	}
	topology, err := DenormalizeX(s.X, nd)
	if err != nil {
		return nil, err
	}

	var matched []int
	n, _ := topology.Dims()
	for i := 0; i < n; i++ {
		gx := topology.At(i, dataset.CoordColumns.Start)
		gz := topology.At(i, dataset.CoordColumns.Start+2)
		if !isGrid(gx) || !isGrid(gz) {
			continue
		}
		if onPath[[2]int{int(math.Round(gx)), int(math.Round(gz))}] {
			matched = append(matched, i)
		}
	}

	kept := make([]int, 0, (len(matched)+1)/2)
	for k, i := range matched {
		if k%2 == 0 {
			kept = append(kept, i)
		}
	}
	return kept, nil
}

func isGrid(v float64) bool {
	return math.Abs(v-math.Round(v)) < 1e-6
}

// NormalizeDataset computes the norm dict over structures, normalizes each
// of them and records which nodes are decoded when sampling is enabled.
func NormalizeDataset(structures []*dataset.Structure, random bool, rng *rand.Rand) ([]*dataset.Structure, model.NormDict, error) {
	nd, err := Compute(structures)
	if err != nil {
		return nil, model.NormDict{}, err
	}
	out, err := Apply(structures, nd, random, rng)
	if err != nil {
		return nil, model.NormDict{}, err
	}
	return out, nd, nil
}

// Apply normalizes structures with an existing norm dict.
func Apply(structures []*dataset.Structure, nd model.NormDict, random bool, rng *rand.Rand) ([]*dataset.Structure, error) {
	if random && rng == nil {
		return nil, fmt.Errorf("random sampling needs a random source")
	}
	out := make([]*dataset.Structure, 0, len(structures))
	for _, s := range structures {
		normed, err := Normalize(s, nd)
		if err != nil {
			return nil, err
		}
		if random {
			normed.SampledIndex = RandomSample(normed.NumNodes(), rng)
		} else if normed.SampledIndex, err = ZigzagSample(normed, nd); err != nil {
			return nil, err
		}
		out = append(out, normed)
	}
	return out, nil
}

// DenormalizeResponse rescales every response group of t in place.
func DenormalizeResponse(t *tensor.Dense3, nd model.NormDict) error {
	if t.D2 != dataset.ResponseWidth {
		return fmt.Errorf("response has %d components, want %d", t.D2, dataset.ResponseWidth)
	}
	for _, g := range dataset.ResponseGroups {
		for i := 0; i < t.D0; i++ {
			for step := 0; step < t.D1; step++ {
				if err := Denormalize(g.Name, t.Row(i, step)[g.Start:g.End], nd); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
