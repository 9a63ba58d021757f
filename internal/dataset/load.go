package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultSeed = 731

const (
	groundMotion1File = "ground_motion_1.txt"
	groundMotion2File = "ground_motion_2.txt"
)

type LoadOptions struct {
	Root         string
	Folder       string
	OtherFolders []string
	GraphType    string
	DataNum      int
	Timesteps    int
	Seed         int64
	Workers      int
}

// GraphFileName is the structure graph file for a node representation.
func GraphFileName(graphType string) string {
	return fmt.Sprintf("structure_graph_%s.json", graphType)
}

// Load collects the sample folders of Folder and OtherFolders, shuffles them
// with Seed, keeps the first DataNum and reads them concurrently. Folders
// without a graph file are skipped. The returned order follows the shuffle.
func Load(ctx context.Context, opts LoadOptions) ([]*Structure, error) {
	if opts.Timesteps <= 0 || opts.Timesteps > MaxSteps {
		return nil, fmt.Errorf("timesteps %d outside (0,%d]", opts.Timesteps, MaxSteps)
	}
	folders, err := sampleFolders(opts)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	slots := make([]*Structure, len(folders))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, folder := range folders {
		i, folder := i, folder
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := os.Stat(filepath.Join(folder, GraphFileName(opts.GraphType))); errors.Is(err, fs.ErrNotExist) {
				log.Warn().Str("folder", folder).Str("graph_type", opts.GraphType).Msg("no structure graph, skipping")
				return nil
			}
			s, err := LoadFolder(folder, opts.GraphType, opts.Timesteps)
			if err != nil {
				return err
			}
			slots[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*Structure, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			out = append(out, s)
		}
	}
	log.Info().Int("requested", len(folders)).Int("loaded", len(out)).Msg("structure graphs loaded")
	return out, nil
}

func sampleFolders(opts LoadOptions) ([]string, error) {
	var folders []string
	for _, dir := range append([]string{opts.Folder}, opts.OtherFolders...) {
		root := filepath.Join(opts.Root, dir)
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			folders = append(folders, filepath.Join(root, name))
		}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(folders), func(i, j int) { folders[i], folders[j] = folders[j], folders[i] })
	if opts.DataNum > 0 && opts.DataNum < len(folders) {
		folders = folders[:opts.DataNum]
	}
	return folders, nil
}

// LoadFolder reads one sample folder. Targets are truncated to timesteps and
// their accelerations converted from relative to absolute by adding the
// first sub-sample of each ground-motion step.
func LoadFolder(folder, graphType string, timesteps int) (*Structure, error) {
	s, err := ReadGraph(filepath.Join(folder, GraphFileName(graphType)))
	if err != nil {
		return nil, err
	}
	s.Path = folder
	if s.GroundMotion1, err = ReadGroundMotionFile(filepath.Join(folder, groundMotion1File), timesteps); err != nil {
		return nil, err
	}
	if s.GroundMotion2, err = ReadGroundMotionFile(filepath.Join(folder, groundMotion2File), timesteps); err != nil {
		return nil, err
	}
	if s.Y.D2 < 2 {
		return nil, fmt.Errorf("%s: %w: targets have %d components", folder, ErrMalformed, s.Y.D2)
	}
	s.Y = s.Y.Truncate(timesteps)
	for i := 0; i < s.Y.D0; i++ {
		for t := 0; t < s.Y.D1; t++ {
			row := s.Y.Row(i, t)
			row[0] += s.GroundMotion1.At(t, 0)
			row[1] += s.GroundMotion2.At(t, 0)
		}
	}
	return s, nil
}
