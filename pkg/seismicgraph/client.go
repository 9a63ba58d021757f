// Package seismicgraph is the public entry point for building, evaluating and
// fine-tuning GraphLSTM response predictors over stored models.
package seismicgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/config"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/stats"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/storage"
)

const (
	defaultArtifactsDir = "results"
	defaultExportsDir   = "exports"
	defaultDBPath       = "seismicgraph.db"
)

var (
	ErrModelNotFound    = errors.New("model not found")
	ErrNormDictNotFound = errors.New("norm dict not found")
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
}

type Client struct {
	store storage.Store

	artifactsDir string
	exportsDir   string
	now          func() time.Time
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// FromConfig builds a client from the resolved runtime configuration.
func FromConfig(cfg config.Config) (*Client, error) {
	return New(Options{
		StoreKind:    cfg.Store.Kind,
		DBPath:       cfg.Store.Path,
		ArtifactsDir: cfg.ArtifactsDir,
	})
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

type InitModelRequest struct {
	Name   string
	Config graphlstm.Config
	Seed   int64
	// WeightsPath optionally names a JSON state dict (parameter name to
	// rows, cols and row-major data) loaded over the random initialisation.
	WeightsPath string
	NormDictID  string
}

type ModelSummary struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	Parameters int
	Checksum   uint64
	NormDictID string
	ParentID   string
}

// InitModel creates and stores a model. Without WeightsPath the weights keep
// their seeded random initialisation.
func (c *Client) InitModel(ctx context.Context, req InitModelRequest) (ModelSummary, error) {
	m, err := graphlstm.New(req.Config, rand.New(rand.NewSource(req.Seed)))
	if err != nil {
		return ModelSummary{}, err
	}
	if req.WeightsPath != "" {
		state, err := readStateDict(req.WeightsPath)
		if err != nil {
			return ModelSummary{}, err
		}
		if err := nn.LoadStateDict(m, state); err != nil {
			return ModelSummary{}, fmt.Errorf("load %s: %w", req.WeightsPath, err)
		}
	}
	if req.NormDictID != "" {
		if _, ok, err := c.store.GetNormDict(ctx, req.NormDictID); err != nil {
			return ModelSummary{}, err
		} else if !ok {
			return ModelSummary{}, fmt.Errorf("%w: %s", ErrNormDictNotFound, req.NormDictID)
		}
	}

	record := storage.Seal(model.ModelRecord{
		ID:         uuid.NewString(),
		Name:       req.Name,
		CreatedAt:  c.now(),
		Config:     req.Config,
		State:      nn.StateDict(m),
		NormDictID: req.NormDictID,
	})
	if err := c.store.SaveModel(ctx, record); err != nil {
		return ModelSummary{}, err
	}
	log.Info().Str("model_id", record.ID).Int("parameters", nn.CountParams(m)).Msg("model stored")
	return summarize(record), nil
}

func (c *Client) Models(ctx context.Context) ([]ModelSummary, error) {
	records, err := c.store.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModelSummary, 0, len(records))
	for _, r := range records {
		out = append(out, summarize(r))
	}
	return out, nil
}

// ExportWeights writes a model's state dict as JSON, the format InitModel
// reads back.
func (c *Client) ExportWeights(ctx context.Context, modelID, path string) error {
	record, err := c.getModel(ctx, modelID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record.State)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type RunsRequest struct {
	Limit   int
	ModelID string
}

type RunItem struct {
	RunID        string
	Kind         string
	ModelID      string
	Split        string
	Structures   int
	Loss         float64
	R2           float64
	CreatedAtUTC string
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, min(len(entries), req.Limit))
	for _, e := range entries {
		if req.ModelID != "" && e.ModelID != req.ModelID {
			continue
		}
		out = append(out, RunItem{
			RunID:        e.RunID,
			Kind:         e.Kind,
			ModelID:      e.ModelID,
			Split:        e.Split,
			Structures:   e.Structures,
			Loss:         e.Loss,
			R2:           e.R2,
			CreatedAtUTC: e.CreatedAtUTC,
		})
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

// Run reads back the artifacts of one stored run.
func (c *Client) Run(_ context.Context, runID string) (stats.RunArtifacts, error) {
	return stats.ReadRun(c.artifactsDir, runID)
}

// Experiments lists experiments most recently updated first.
func (c *Client) Experiments(_ context.Context) ([]stats.Experiment, error) {
	return stats.ListExperiments(c.artifactsDir)
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	dir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}

func (c *Client) getModel(ctx context.Context, id string) (model.ModelRecord, error) {
	record, ok, err := c.store.GetModel(ctx, id)
	if err != nil {
		return model.ModelRecord{}, err
	}
	if !ok {
		return model.ModelRecord{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return record, nil
}

// buildModel rebuilds a stored model. The seed only matters for shapes, as
// every weight is overwritten by the stored state.
func (c *Client) buildModel(ctx context.Context, id string) (*graphlstm.GraphLSTM, model.ModelRecord, error) {
	record, err := c.getModel(ctx, id)
	if err != nil {
		return nil, model.ModelRecord{}, err
	}
	m, err := graphlstm.New(record.Config, rand.New(rand.NewSource(1)))
	if err != nil {
		return nil, model.ModelRecord{}, err
	}
	if err := nn.LoadStateDict(m, record.State); err != nil {
		return nil, model.ModelRecord{}, fmt.Errorf("model %s: %w", id, err)
	}
	return m, record, nil
}

func readStateDict(path string) (map[string]nn.ParamData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state map[string]nn.ParamData
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return state, nil
}

func summarize(r model.ModelRecord) ModelSummary {
	params := 0
	for _, p := range r.State {
		params += len(p.Data)
	}
	return ModelSummary{
		ID:         r.ID,
		Name:       r.Name,
		CreatedAt:  r.CreatedAt,
		Parameters: params,
		Checksum:   r.Checksum,
		NormDictID: r.NormDictID,
		ParentID:   r.ParentID,
	}
}
