package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MeanPool averages the rows of x that share a graph id. Graphs without
// any rows pool to zero.
func MeanPool(x *mat.Dense, batch []int, numGraphs int) (*mat.Dense, error) {
	n, width := x.Dims()
	if len(batch) != n {
		return nil, fmt.Errorf("%w: %d graph ids for %d rows", ErrDimension, len(batch), n)
	}
	out := mat.NewDense(numGraphs, width, nil)
	counts := make([]float64, numGraphs)
	for i, g := range batch {
		if g < 0 || g >= numGraphs {
			return nil, fmt.Errorf("%w: graph id %d outside [0,%d)", ErrEdgeIndex, g, numGraphs)
		}
		row := out.RawRowView(g)
		for c, v := range x.RawRowView(i) {
			row[c] += v
		}
		counts[g]++
	}
	for g := 0; g < numGraphs; g++ {
		if counts[g] == 0 {
			continue
		}
		row := out.RawRowView(g)
		for c := range row {
			row[c] /= counts[g]
		}
	}
	return out, nil
}
