package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

// fixtureStructure is a two-node frame with one member in each direction.
func fixtureStructure(steps int, scale float64) *Structure {
	x := mat.NewDense(2, NodeFeatures, nil)
	for i := 0; i < 2; i++ {
		for c := 0; c < NodeFeatures; c++ {
			x.Set(i, c, scale*float64(i+c+1))
		}
	}
	y := tensor.NewDense3(2, steps, ResponseWidth)
	for i := range y.Data {
		y.Data[i] = scale * float64(i%7)
	}
	return &Structure{
		X:        x,
		Edges:    nn.EdgeIndex{Src: []int{0, 1}, Dst: []int{1, 0}},
		EdgeAttr: mat.NewDense(2, 4, []float64{3, 0, 0, 5, 3, 0, 0, 5}),
		Y:        y,
		GridNum:  [3]float64{2, 2, 1},
		GMXName:  "RSN1_FN.txt",
	}
}

func writeGroundMotion(t *testing.T, path string, samples int, scale float64) {
	t.Helper()
	var sb strings.Builder
	for k := 0; k < samples; k++ {
		fmt.Fprintf(&sb, "%.3f %g\n", float64(k)*0.005, scale*float64(k))
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

func writeSample(t *testing.T, dir string, steps int, scale float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, WriteGraph(filepath.Join(dir, GraphFileName("NodeAsNode")), fixtureStructure(steps, scale)))
	writeGroundMotion(t, filepath.Join(dir, groundMotion1File), steps*SubSteps, scale)
	writeGroundMotion(t, filepath.Join(dir, groundMotion2File), steps*SubSteps, -scale)
}

func TestReadGroundMotionLayout(t *testing.T) {
	input := "0.0 1\n0.1 2\n\n0.2 3\n"
	for k := 3; k < 12; k++ {
		input += fmt.Sprintf("%d %d\n", k, k+1)
	}
	gm, err := ReadGroundMotion(strings.NewReader(input), 3)
	require.NoError(t, err)
	r, c := gm.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, SubSteps, c)
	assert.Equal(t, 1.0, gm.At(0, 0))
	assert.Equal(t, 10.0, gm.At(0, 9))
	assert.Equal(t, 11.0, gm.At(1, 0))
	assert.Equal(t, 12.0, gm.At(1, 1))
	assert.Equal(t, 0.0, gm.At(2, 0))

	_, err = ReadGroundMotion(strings.NewReader("0.0\n"), 3)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ReadGroundMotion(strings.NewReader(""), MaxSteps+1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoadFolderAbsoluteAcceleration(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sample")
	writeSample(t, dir, 5, 1)

	s, err := LoadFolder(dir, "NodeAsNode", 4)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Path)
	assert.Equal(t, 4, s.Timesteps())
	assert.Equal(t, 4, s.Y.D1)

	raw := fixtureStructure(5, 1)
	for i := 0; i < 2; i++ {
		for step := 0; step < 4; step++ {
			gmSample := float64(step * SubSteps)
			assert.InDelta(t, raw.Y.At(i, step, 0)+gmSample, s.Y.At(i, step, 0), 1e-9)
			assert.InDelta(t, raw.Y.At(i, step, 1)-gmSample, s.Y.At(i, step, 1), 1e-9)
			assert.Equal(t, raw.Y.At(i, step, 2), s.Y.At(i, step, 2))
		}
	}
	assert.Equal(t, "RSN1_FN.txt", s.GMXName)
	assert.Equal(t, [3]float64{2, 2, 1}, s.GridNum)
}

func TestLoadShufflesSkipsAndLimits(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeSample(t, filepath.Join(root, "main", fmt.Sprintf("s%02d", i)), 3, float64(i+1))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "main", "empty"), 0o755))
	writeSample(t, filepath.Join(root, "extra", "x00"), 3, 9)

	opts := LoadOptions{Root: root, Folder: "main", OtherFolders: []string{"extra"}, GraphType: "NodeAsNode", Timesteps: 3, Workers: 2}
	all, err := Load(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	again, err := Load(context.Background(), opts)
	require.NoError(t, err)
	for i := range all {
		assert.Equal(t, all[i].Path, again[i].Path)
	}

	opts.DataNum = 2
	limited, err := Load(context.Background(), opts)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(limited), 2)

	opts.DataNum = 0
	opts.Timesteps = 0
	_, err = Load(context.Background(), opts)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	train, valid, test, err := Split(10, [3]float64{0.7, 0.2, 0.1}, 731)
	require.NoError(t, err)
	assert.Len(t, train, 7)
	assert.Len(t, valid, 2)
	assert.Len(t, test, 1)

	seen := map[int]bool{}
	for _, part := range [][]int{train, valid, test} {
		for _, i := range part {
			assert.False(t, seen[i])
			seen[i] = true
		}
	}
	assert.Len(t, seen, 10)

	_, _, _, err = Split(10, [3]float64{0.8, 0.5, 0}, 1)
	assert.Error(t, err)
}

func normalizedFixture(steps int, scale float64, sampled []int) *Structure {
	s := fixtureStructure(steps, scale)
	s.GroundMotion1 = mat.NewDense(steps, SubSteps, nil)
	s.GroundMotion2 = mat.NewDense(steps, SubSteps, nil)
	for step := 0; step < steps; step++ {
		for k := 0; k < SubSteps; k++ {
			s.GroundMotion1.Set(step, k, scale)
			s.GroundMotion2.Set(step, k, -scale)
		}
	}
	s.SampledIndex = sampled
	return s
}

func TestCollateOffsetsStructures(t *testing.T) {
	a := normalizedFixture(3, 1, []int{0})
	b := normalizedFixture(3, 2, []int{1})
	b.Path = "b"

	batch, err := Collate([]*Structure{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, batch.Ptr)
	assert.Equal(t, []int{0, 0, 1, 1}, batch.Graph)
	assert.Equal(t, []int{0, 1, 2, 3}, batch.Edges.Src)
	assert.Equal(t, []int{1, 0, 3, 2}, batch.Edges.Dst)
	assert.Equal(t, [][]int{{0}, {1}}, batch.Sampled)
	assert.Equal(t, b.X.RawRowView(1), batch.X.RawRowView(3))
	assert.Equal(t, 2.0, batch.GroundMotions.At(1, 2, 0))
	assert.Equal(t, -2.0, batch.GroundMotions.At(1, 2, SubSteps))
	assert.Equal(t, b.Y.Row(0, 1), batch.Targets.Row(2, 1))

	cfg := graphlstm.DefaultConfig()
	require.NoError(t, batch.Validate(cfg))

	short := normalizedFixture(2, 1, nil)
	_, err = Collate([]*Structure{a, short})
	assert.ErrorIs(t, err, graphlstm.ErrSequenceLength)
}

func TestLoaderBatches(t *testing.T) {
	var structures []*Structure
	for i := 0; i < 5; i++ {
		s := normalizedFixture(2, float64(i+1), []int{0})
		s.Path = fmt.Sprintf("s%d", i)
		structures = append(structures, s)
	}
	loader := NewLoader(structures, 2, false, 1)
	assert.Equal(t, 3, loader.NumBatches())

	var sizes []int
	var paths []string
	err := loader.Each(context.Background(), func(members []*Structure, b *graphlstm.Batch) error {
		sizes = append(sizes, b.NumStructures())
		for _, m := range members {
			paths = append(paths, m.Path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{"s0", "s1", "s2", "s3", "s4"}, paths)

	shuffled := NewLoader(structures, 5, true, 3)
	var seen int
	require.NoError(t, shuffled.Each(context.Background(), func(members []*Structure, _ *graphlstm.Batch) error {
		seen += len(members)
		return nil
	}))
	assert.Equal(t, 5, seen)
}
