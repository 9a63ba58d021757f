package seismicgraph

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/config"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/metrics"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/stats"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/storage"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tuning"
)

type TuneRequest struct {
	ModelID string
	Name    string
	Data    config.DataConfig
	Eval    config.EvalConfig
	Tune    config.TuneConfig

	// Experiment optionally files the run under a named experiment.
	Experiment string
}

type TuneSummary struct {
	RunID        string
	ModelID      string
	ParentID     string
	ArtifactsDir string
	Report       tuning.TuneReport
}

// Tune hill-climbs the parameters under Tune.Prefix on the first Tune.Batches
// training batches and stores the result as a new model whose parent is the
// tuned one.
func (c *Client) Tune(ctx context.Context, req TuneRequest) (TuneSummary, error) {
	m, parent, err := c.buildModel(ctx, req.ModelID)
	if err != nil {
		return TuneSummary{}, err
	}
	data, err := c.prepare(ctx, req.Data, parent.NormDictID)
	if err != nil {
		return TuneSummary{}, err
	}
	if len(data.train) == 0 {
		return TuneSummary{}, fmt.Errorf("%w: split %s is empty", ErrNoData, SplitTrain)
	}
	batches, err := collateAll(ctx, data.train, req.Data.BatchSize, req.Data.Seed)
	if err != nil {
		return TuneSummary{}, err
	}
	if n := req.Tune.Batches; n > 0 && n < len(batches) {
		batches = batches[:n]
	}

	sel, err := tuning.Select(m, req.Tune.Prefix)
	if err != nil {
		return TuneSummary{}, err
	}
	policy, err := tuning.AttemptPolicyFromConfig(req.Tune.Policy, req.Tune.PolicyParam)
	if err != nil {
		return TuneSummary{}, err
	}
	attempts := policy.Attempts(req.Tune.Attempts, 0, 1, sel.Size())

	objective := tuning.Objective{
		Model:   m,
		Sel:     sel,
		Batches: batches,
		Columns: metrics.TargetColumns(m.Config.OutputDim, req.Eval.NeglectBeamMySz),
		Sample:  req.Eval.SampleNodes,
	}
	exo := &tuning.Exoself{
		Rand:               rand.New(rand.NewSource(req.Data.Seed)),
		Steps:              req.Tune.Steps,
		StepSize:           req.Tune.StepSize,
		PerturbationRange:  req.Tune.PerturbationRange,
		AnnealingFactor:    req.Tune.AnnealingFactor,
		MinImprovement:     req.Tune.MinImprovement,
		CandidateSelection: req.Tune.CandidateSelection,
	}
	tuned, report, err := exo.Tune(ctx, sel.Vector(), attempts, objective.Fitness())
	if err != nil {
		return TuneSummary{}, err
	}
	if err := sel.Apply(tuned); err != nil {
		return TuneSummary{}, err
	}

	name := req.Name
	if name == "" {
		name = parent.Name + "-tuned"
	}
	child := storage.Seal(model.ModelRecord{
		ID:         uuid.NewString(),
		Name:       name,
		CreatedAt:  c.now(),
		Config:     parent.Config,
		State:      nn.StateDict(m),
		NormDictID: data.normDict.ID,
		ParentID:   parent.ID,
	})
	if err := c.store.SaveModel(ctx, child); err != nil {
		return TuneSummary{}, err
	}

	runID := uuid.NewString()
	runCfg := runConfig(runID, "tune", parent, SplitTrain, req.Data, req.Eval)
	runCfg.TunePrefix = sel.Prefix
	runCfg.TuneAttempts = attempts
	runCfg.TuneSteps = req.Tune.Steps
	runCfg.TuneStepSize = req.Tune.StepSize
	runCfg.TuneSelection = tuning.NormalizeCandidateSelectionName(req.Tune.CandidateSelection)
	dir, err := c.writeRun(req.Experiment, stats.RunArtifacts{
		Config:    runCfg,
		NormDict:  data.normDict,
		DataPaths: data.paths(),
		Metrics: model.EvaluationRecord{
			VersionedRecord: storage.CurrentVersion(),
			RunID:           runID,
			ModelID:         child.ID,
			Split:           SplitTrain,
			CreatedAt:       child.CreatedAt,
			Structures:      len(data.train),
			Timesteps:       req.Data.Timesteps,
			Loss:            -report.BestFitness,
		},
		BatchLosses: []float64{-report.InitialFitness, -report.BestFitness},
		Tune:        &report,
	})
	if err != nil {
		return TuneSummary{}, err
	}

	log.Info().
		Str("run_id", runID).
		Str("parent_id", parent.ID).
		Str("model_id", child.ID).
		Int("parameters", report.Parameters).
		Int("accepted", report.AcceptedCandidates).
		Float64("initial_loss", -report.InitialFitness).
		Float64("final_loss", -report.BestFitness).
		Msg("tuning finished")
	return TuneSummary{RunID: runID, ModelID: child.ID, ParentID: parent.ID, ArtifactsDir: dir, Report: report}, nil
}
