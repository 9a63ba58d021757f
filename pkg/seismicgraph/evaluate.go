package seismicgraph

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/config"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/metrics"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/stats"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/storage"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tensor"
)

type EvaluateRequest struct {
	ModelID string
	Data    config.DataConfig
	Eval    config.EvalConfig
	Split   string
	// Workers bounds concurrent forward passes; 0 means GOMAXPROCS.
	Workers int

	// Experiment optionally files the run under a named experiment.
	Experiment string
}

type EvaluationSummary struct {
	RunID         string
	ArtifactsDir  string
	Record        model.EvaluationRecord
	HingeAccuracy float64
}

// batchOutcome is the decoded part of one batch.
type batchOutcome struct {
	pred   *tensor.Dense3
	target *tensor.Dense3
	x      *mat.Dense
	loss   float64
}

// Evaluate scores a stored model on one split of a data set. Batches are
// decoded concurrently; scores are computed over all decoded nodes together.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluationSummary, error) {
	m, record, err := c.buildModel(ctx, req.ModelID)
	if err != nil {
		return EvaluationSummary{}, err
	}
	data, err := c.prepare(ctx, req.Data, record.NormDictID)
	if err != nil {
		return EvaluationSummary{}, err
	}
	split := req.Split
	if split == "" {
		split = SplitTest
	}
	structures, err := data.split(split)
	if err != nil {
		return EvaluationSummary{}, err
	}
	if len(structures) == 0 {
		return EvaluationSummary{}, fmt.Errorf("%w: split %s is empty", ErrNoData, split)
	}

	batches, err := collateAll(ctx, structures, req.Data.BatchSize, req.Data.Seed)
	if err != nil {
		return EvaluationSummary{}, err
	}
	cols := metrics.TargetColumns(m.Config.OutputDim, req.Eval.NeglectBeamMySz)
	outcomes, err := decodeAll(ctx, m, batches, cols, req.Eval.SampleNodes, req.Workers)
	if err != nil {
		return EvaluationSummary{}, err
	}

	runID := uuid.NewString()
	eval, hingeAccuracy, losses, err := score(outcomes, cols, req.Eval.YieldFactor)
	if err != nil {
		return EvaluationSummary{}, err
	}
	eval.VersionedRecord = storage.CurrentVersion()
	eval.RunID = runID
	eval.ModelID = record.ID
	eval.Split = split
	eval.CreatedAt = c.now()
	eval.Structures = len(structures)
	eval.Timesteps = req.Data.Timesteps

	if err := c.store.SaveEvaluation(ctx, eval); err != nil {
		return EvaluationSummary{}, err
	}
	runCfg := runConfig(runID, "evaluate", record, split, req.Data, req.Eval)
	dir, err := c.writeRun(req.Experiment, stats.RunArtifacts{
		Config:      runCfg,
		NormDict:    data.normDict,
		DataPaths:   data.paths(),
		Metrics:     eval,
		BatchLosses: losses,
	})
	if err != nil {
		return EvaluationSummary{}, err
	}

	log.Info().
		Str("run_id", runID).
		Str("model_id", record.ID).
		Str("split", split).
		Float64("loss", eval.Loss).
		Float64("r2", eval.R2).
		Float64("peak_r2", eval.PeakR2).
		Msg("evaluation finished")
	return EvaluationSummary{RunID: runID, ArtifactsDir: dir, Record: eval, HingeAccuracy: hingeAccuracy}, nil
}

func collateAll(ctx context.Context, structures []*dataset.Structure, batchSize int, seed int64) ([]*graphlstm.Batch, error) {
	loader := dataset.NewLoader(structures, batchSize, false, seed)
	batches := make([]*graphlstm.Batch, 0, loader.NumBatches())
	err := loader.Each(ctx, func(_ []*dataset.Structure, b *graphlstm.Batch) error {
		batches = append(batches, b)
		return nil
	})
	return batches, err
}

// decodeAll runs the forward pass over every batch, bounded by workers.
// Outcomes keep batch order.
func decodeAll(ctx context.Context, m *graphlstm.GraphLSTM, batches []*graphlstm.Batch, cols []int, sample bool, workers int) ([]batchOutcome, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	outcomes := make([]batchOutcome, len(batches))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := m.Forward(b, sample)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			target, err := b.Targets.Gather(res.Indices)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			loss, err := metrics.MaskedMSE(res.Output, target, cols)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			outcomes[i] = batchOutcome{pred: res.Output, target: target, x: b.NodeRows(res.Indices), loss: loss}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// score reduces batch outcomes into one evaluation record. Loss is the mean
// of batch losses.
func score(outcomes []batchOutcome, cols []int, yieldFactor float64) (model.EvaluationRecord, float64, []float64, error) {
	var (
		rec     model.EvaluationRecord
		preds   []*tensor.Dense3
		targets []*tensor.Dense3
		losses  = make([]float64, 0, len(outcomes))
	)
	hinges := metrics.NewHingeClassifier(yieldFactor)
	for _, o := range outcomes {
		losses = append(losses, o.loss)
		rec.Loss += o.loss
		if o.pred.D0 == 0 {
			continue
		}
		preds = append(preds, o.pred)
		targets = append(targets, o.target)
		if o.pred.D2 == dataset.ResponseWidth {
			if err := hinges.Add(o.x, o.pred, o.target); err != nil {
				return rec, 0, nil, err
			}
		}
	}
	if len(outcomes) > 0 {
		rec.Loss /= float64(len(outcomes))
	}
	accuracy := hinges.Accuracy()
	rec.Hinges = hinges.Reset()
	if len(preds) == 0 {
		return rec, accuracy, losses, nil
	}

	pred, err := tensor.Concat(preds...)
	if err != nil {
		return rec, 0, nil, err
	}
	target, err := tensor.Concat(targets...)
	if err != nil {
		return rec, 0, nil, err
	}
	rec.Nodes = pred.D0

	maskedPred, err := metrics.Columns(pred, cols)
	if err != nil {
		return rec, 0, nil, err
	}
	maskedTarget, err := metrics.Columns(target, cols)
	if err != nil {
		return rec, 0, nil, err
	}
	if rec.R2, err = metrics.R2Score(maskedPred, maskedTarget); err != nil {
		return rec, 0, nil, err
	}
	if rec.PeakR2, err = metrics.PeakR2Score(maskedPred, maskedTarget); err != nil {
		return rec, 0, nil, err
	}
	if pred.D2 == dataset.ResponseWidth {
		if rec.Groups, err = metrics.GroupScores(pred, target); err != nil {
			return rec, 0, nil, err
		}
	}
	return rec, accuracy, losses, nil
}

func runConfig(runID, kind string, record model.ModelRecord, split string, data config.DataConfig, eval config.EvalConfig) stats.RunConfig {
	return stats.RunConfig{
		RunID:           runID,
		Kind:            kind,
		ModelID:         record.ID,
		Split:           split,
		DataRoot:        data.Root,
		Dataset:         data.Dataset,
		GraphType:       data.GraphType,
		DataNum:         data.DataNum,
		Timesteps:       data.Timesteps,
		BatchSize:       data.BatchSize,
		Seed:            data.Seed,
		SampleNodes:     eval.SampleNodes,
		RandomSample:    data.RandomSample,
		NeglectBeamMySz: eval.NeglectBeamMySz,
		YieldFactor:     eval.YieldFactor,
		Model:           record.Config,
	}
}

// writeRun stores a run's artifacts, indexes it and, with experiment set,
// adds it to that experiment.
func (c *Client) writeRun(experiment string, artifacts stats.RunArtifacts) (string, error) {
	dir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return "", err
	}
	entry := stats.RunIndexEntry{
		RunID:        artifacts.Config.RunID,
		Kind:         artifacts.Config.Kind,
		ModelID:      artifacts.Metrics.ModelID,
		Split:        artifacts.Metrics.Split,
		Structures:   artifacts.Metrics.Structures,
		Loss:         artifacts.Metrics.Loss,
		R2:           artifacts.Metrics.R2,
		CreatedAtUTC: artifacts.Metrics.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := stats.AppendRunIndex(c.artifactsDir, entry); err != nil {
		return "", err
	}
	if experiment != "" {
		if _, err := stats.AddExperimentRun(c.artifactsDir, experiment, "", entry); err != nil {
			return "", err
		}
	}
	return dir, nil
}
