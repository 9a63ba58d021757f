package seismicgraph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/config"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/normalization"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/stats"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/storage"
)

const (
	SplitTrain = "train"
	SplitValid = "valid"
	SplitTest  = "test"
)

var ErrNoData = errors.New("no structures loaded")

// prepared is a loaded, normalized and split dataset.
type prepared struct {
	normDict model.NormDict
	train    []*dataset.Structure
	valid    []*dataset.Structure
	test     []*dataset.Structure
}

func (p prepared) split(name string) ([]*dataset.Structure, error) {
	switch name {
	case SplitTrain:
		return p.train, nil
	case SplitValid:
		return p.valid, nil
	case "", SplitTest:
		return p.test, nil
	default:
		return nil, fmt.Errorf("unknown split %q", name)
	}
}

func (p prepared) paths() stats.DataPaths {
	names := func(structures []*dataset.Structure) []string {
		out := make([]string, 0, len(structures))
		for _, s := range structures {
			out = append(out, s.Path)
		}
		return out
	}
	return stats.DataPaths{Train: names(p.train), Valid: names(p.valid), Test: names(p.test)}
}

// prepare loads the data set. With normDictID set the stored ranges are
// reused; otherwise they are computed over everything loaded and stored.
func (c *Client) prepare(ctx context.Context, data config.DataConfig, normDictID string) (prepared, error) {
	raw, err := dataset.Load(ctx, data.LoadOptions())
	if err != nil {
		return prepared{}, err
	}
	if len(raw) == 0 {
		return prepared{}, ErrNoData
	}

	rng := rand.New(rand.NewSource(data.Seed))
	var (
		normed []*dataset.Structure
		nd     model.NormDict
	)
	if normDictID != "" {
		var ok bool
		nd, ok, err = c.store.GetNormDict(ctx, normDictID)
		if err != nil {
			return prepared{}, err
		}
		if !ok {
			return prepared{}, fmt.Errorf("%w: %s", ErrNormDictNotFound, normDictID)
		}
		if normed, err = normalization.Apply(raw, nd, data.RandomSample, rng); err != nil {
			return prepared{}, err
		}
	} else {
		if normed, nd, err = normalization.NormalizeDataset(raw, data.RandomSample, rng); err != nil {
			return prepared{}, err
		}
		nd.VersionedRecord = storage.CurrentVersion()
		nd.ID = uuid.NewString()
		if err := c.store.SaveNormDict(ctx, nd); err != nil {
			return prepared{}, err
		}
		log.Info().Str("norm_dict_id", nd.ID).Int("structures", len(raw)).Msg("norm dict computed")
	}

	train, valid, test, err := dataset.Split(len(normed), data.SplitRatios(), data.Seed)
	if err != nil {
		return prepared{}, err
	}
	return prepared{
		normDict: nd,
		train:    dataset.Select(normed, train),
		valid:    dataset.Select(normed, valid),
		test:     dataset.Select(normed, test),
	}, nil
}

type NormalizeRequest struct {
	Data config.DataConfig
}

type NormalizeSummary struct {
	NormDictID string
	Ranges     map[string]model.Range
	Train      int
	Valid      int
	Test       int
}

// Normalize loads a data set, computes and stores its norm dict and reports
// the split sizes.
func (c *Client) Normalize(ctx context.Context, req NormalizeRequest) (NormalizeSummary, error) {
	p, err := c.prepare(ctx, req.Data, "")
	if err != nil {
		return NormalizeSummary{}, err
	}
	return NormalizeSummary{
		NormDictID: p.normDict.ID,
		Ranges:     p.normDict.Ranges,
		Train:      len(p.train),
		Valid:      len(p.valid),
		Test:       len(p.test),
	}, nil
}
