package storage

import (
	"context"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
)

// Store persists exported models, the norm dicts they were fitted with and
// the evaluations run against them.
type Store interface {
	Init(ctx context.Context) error
	SaveModel(ctx context.Context, record model.ModelRecord) error
	GetModel(ctx context.Context, id string) (model.ModelRecord, bool, error)
	ListModels(ctx context.Context) ([]model.ModelRecord, error)
	SaveNormDict(ctx context.Context, nd model.NormDict) error
	GetNormDict(ctx context.Context, id string) (model.NormDict, bool, error)
	SaveEvaluation(ctx context.Context, record model.EvaluationRecord) error
	GetEvaluation(ctx context.Context, runID string) (model.EvaluationRecord, bool, error)
	// ListEvaluations returns every evaluation of modelID, or all of them when
	// modelID is empty, oldest first.
	ListEvaluations(ctx context.Context, modelID string) ([]model.EvaluationRecord, error)
}
