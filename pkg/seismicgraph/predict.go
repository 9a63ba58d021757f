package seismicgraph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/normalization"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

type PredictRequest struct {
	ModelID   string
	Folder    string
	GraphType string
	Timesteps int
	// NormDictID overrides the norm dict the model was stored with.
	NormDictID   string
	Sample       bool
	RandomSample bool
	Seed         int64
}

type Prediction struct {
	ModelID string
	Folder  string
	// Indices are the structure's node ids, one per response row.
	Indices []int
	// Response is nodes×T×components in physical units.
	Response *tensor.Dense3
	// Truth holds the recorded response of the same nodes when the folder
	// carries one, in physical units.
	Truth *tensor.Dense3
}

// Predict runs a stored model on one sample folder.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (Prediction, error) {
	m, record, err := c.buildModel(ctx, req.ModelID)
	if err != nil {
		return Prediction{}, err
	}
	ndID := req.NormDictID
	if ndID == "" {
		ndID = record.NormDictID
	}
	if ndID == "" {
		return Prediction{}, errors.New("model has no norm dict; pass one explicitly")
	}
	nd, ok, err := c.store.GetNormDict(ctx, ndID)
	if err != nil {
		return Prediction{}, err
	}
	if !ok {
		return Prediction{}, fmt.Errorf("%w: %s", ErrNormDictNotFound, ndID)
	}

	raw, err := dataset.LoadFolder(req.Folder, req.GraphType, req.Timesteps)
	if err != nil {
		return Prediction{}, err
	}
	s, err := normalization.Normalize(raw, nd)
	if err != nil {
		return Prediction{}, err
	}
	if req.Sample {
		if req.RandomSample {
			s.SampledIndex = normalization.RandomSample(s.NumNodes(), rand.New(rand.NewSource(req.Seed)))
		} else if s.SampledIndex, err = normalization.ZigzagSample(s, nd); err != nil {
			return Prediction{}, err
		}
	}

	b, err := dataset.Collate([]*dataset.Structure{s})
	if err != nil {
		return Prediction{}, err
	}
	res, err := m.Forward(b, req.Sample)
	if err != nil {
		return Prediction{}, err
	}
	truth, err := b.Targets.Gather(res.Indices)
	if err != nil {
		return Prediction{}, err
	}

	out := Prediction{ModelID: record.ID, Folder: req.Folder, Indices: res.Indices, Response: res.Output}
	if res.Output.D2 == dataset.ResponseWidth {
		if err := normalization.DenormalizeResponse(out.Response, nd); err != nil {
			return Prediction{}, err
		}
		if err := normalization.DenormalizeResponse(truth, nd); err != nil {
			return Prediction{}, err
		}
		out.Truth = truth
	}
	return out, nil
}
