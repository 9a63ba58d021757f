package tuning

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
)

// Exoself is a hill climber: each attempt perturbs one or more base vectors
// Steps times with annealed spread and keeps the best candidate if it beats
// the incumbent by more than MinImprovement.
type Exoself struct {
	Rand               *rand.Rand
	Steps              int
	StepSize           float64
	PerturbationRange  float64
	AnnealingFactor    float64
	MinImprovement     float64
	GoalFitness        float64
	CandidateSelection string
	mu                 sync.Mutex
}

const (
	CandidateSelectBestSoFar = "best_so_far"
	CandidateSelectOriginal  = "original"
	CandidateSelectDynamicA  = "dynamic"
	CandidateSelectDynamic   = "dynamic_random"
	CandidateSelectAll       = "all"
	CandidateSelectAllRandom = "all_random"
	CandidateSelectRecent    = "recent"
	CandidateSelectRecentRnd = "recent_random"
)

var (
	ErrUnsupportedSelection = errors.New("unsupported candidate selection")
	errNoRand               = errors.New("random source is required")
)

func (e *Exoself) Name() string {
	return "exoself_hillclimb"
}

func (e *Exoself) validate() error {
	switch {
	case e.Steps <= 0:
		return errors.New("steps must be > 0")
	case e.StepSize <= 0:
		return errors.New("step size must be > 0")
	case e.PerturbationRange < 0:
		return errors.New("perturbation range must be >= 0")
	case e.AnnealingFactor < 0:
		return errors.New("annealing factor must be >= 0")
	case e.MinImprovement < 0:
		return errors.New("min improvement must be >= 0")
	}
	return nil
}

func (e *Exoself) Tune(ctx context.Context, params []float64, attempts int, fitness FitnessFn) ([]float64, TuneReport, error) {
	report := TuneReport{Parameters: len(params), AttemptsPlanned: attempts}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}
	if e == nil || e.Rand == nil {
		return nil, report, errNoRand
	}
	if attempts <= 0 || len(params) == 0 {
		report.AttemptsPlanned = max(attempts, 0)
		return clone(params), report, nil
	}
	if err := e.validate(); err != nil {
		return nil, report, err
	}
	if fitness == nil {
		return nil, report, errors.New("fitness function is required")
	}
	perturbationRange := e.PerturbationRange
	if perturbationRange == 0 {
		perturbationRange = 1.0
	}
	annealingFactor := e.AnnealingFactor
	if annealingFactor == 0 {
		annealingFactor = 1.0
	}

	best := clone(params)
	bestFitness, err := fitness(ctx, best)
	if err != nil {
		return nil, report, err
	}
	report.InitialFitness = bestFitness
	report.BestFitness = bestFitness
	if e.reached(bestFitness) {
		report.GoalReached = true
		return best, report, nil
	}
	recent := clone(best)

	for a := 0; a < attempts; a++ {
		bases, err := e.candidateBases(best, params, recent)
		if err != nil {
			return nil, report, err
		}
		localBest := best
		localBestFitness := bestFitness
		for _, base := range bases {
			candidate, err := e.perturb(ctx, base, perturbationRange, annealingFactor)
			if err != nil {
				return nil, report, err
			}
			candidateFitness, err := fitness(ctx, candidate)
			if err != nil {
				return nil, report, err
			}
			report.CandidateEvaluations++
			if candidateFitness > localBestFitness+e.MinImprovement {
				localBest = candidate
				localBestFitness = candidateFitness
			}
		}
		report.AttemptsExecuted++
		recent = clone(localBest)
		if localBestFitness > bestFitness+e.MinImprovement {
			best = localBest
			bestFitness = localBestFitness
			report.AcceptedCandidates++
		} else {
			report.RejectedCandidates++
		}
		if e.reached(bestFitness) {
			report.GoalReached = true
			break
		}
	}

	report.BestFitness = bestFitness
	return clone(best), report, nil
}

func (e *Exoself) reached(fitness float64) bool {
	return e.GoalFitness != 0 && fitness >= e.GoalFitness
}

func (e *Exoself) randIntn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Rand.Intn(n)
}

func (e *Exoself) randFloat64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Rand.Float64()
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}

func NormalizeCandidateSelectionName(name string) string {
	switch name {
	case "", "best", CandidateSelectBestSoFar:
		return CandidateSelectBestSoFar
	case "active":
		return CandidateSelectRecent
	case "active_random":
		return CandidateSelectRecentRnd
	default:
		return name
	}
}

func (e *Exoself) candidateBases(best, original, recent []float64) ([][]float64, error) {
	mode := NormalizeCandidateSelectionName(e.CandidateSelection)
	if base, ok := randomVariantOf(mode); ok {
		pool, err := candidateBasesForMode(base, best, original, recent)
		if err != nil {
			return nil, err
		}
		return e.randomSubset(pool), nil
	}
	return candidateBasesForMode(mode, best, original, recent)
}

func candidateBasesForMode(mode string, best, original, recent []float64) ([][]float64, error) {
	switch mode {
	case CandidateSelectBestSoFar:
		return [][]float64{best}, nil
	case CandidateSelectOriginal:
		return [][]float64{original}, nil
	case CandidateSelectDynamicA:
		return [][]float64{best, original}, nil
	case CandidateSelectRecent:
		return [][]float64{recent}, nil
	case CandidateSelectAll:
		return [][]float64{best, original, recent}, nil
	default:
		return nil, ErrUnsupportedSelection
	}
}

// randomVariantOf maps a *_random selection onto the pool it samples from.
func randomVariantOf(mode string) (string, bool) {
	switch mode {
	case CandidateSelectDynamic:
		return CandidateSelectDynamicA, true
	case CandidateSelectAllRandom:
		return CandidateSelectAll, true
	case CandidateSelectRecentRnd:
		return CandidateSelectRecent, true
	default:
		return mode, false
	}
}

// randomSubset keeps each base with probability 1/sqrt(len(pool)), falling
// back to a single random base.
func (e *Exoself) randomSubset(pool [][]float64) [][]float64 {
	if len(pool) <= 1 {
		return pool
	}
	p := 1 / math.Sqrt(float64(len(pool)))
	chosen := make([][]float64, 0, len(pool))
	for i := range pool {
		if e.randFloat64() < p {
			chosen = append(chosen, pool[i])
		}
	}
	if len(chosen) > 0 {
		return chosen
	}
	return [][]float64{pool[e.randIntn(len(pool))]}
}

// perturb never modifies base.
func (e *Exoself) perturb(ctx context.Context, base []float64, perturbationRange, annealingFactor float64) ([]float64, error) {
	candidate := clone(base)
	for s := 0; s < e.Steps; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := e.randIntn(len(candidate))
		spread := e.StepSize * perturbationRange * math.Pow(annealingFactor, float64(s))
		candidate[idx] += (e.randFloat64()*2 - 1) * spread
	}
	return candidate, nil
}
