// Package tuning fine-tunes a subset of trained weights without gradients,
// by perturbing a flat parameter vector and keeping improvements.
package tuning

import "context"

// FitnessFn scores a candidate parameter vector. Higher is better.
type FitnessFn func(ctx context.Context, params []float64) (float64, error)

type TuneReport struct {
	Parameters           int     `json:"parameters"`
	AttemptsPlanned      int     `json:"attempts_planned"`
	AttemptsExecuted     int     `json:"attempts_executed"`
	CandidateEvaluations int     `json:"candidate_evaluations"`
	AcceptedCandidates   int     `json:"accepted_candidates"`
	RejectedCandidates   int     `json:"rejected_candidates"`
	InitialFitness       float64 `json:"initial_fitness"`
	BestFitness          float64 `json:"best_fitness"`
	GoalReached          bool    `json:"goal_reached"`
}

type Tuner interface {
	Name() string
	Tune(ctx context.Context, params []float64, attempts int, fitness FitnessFn) ([]float64, TuneReport, error)
}
