package tuning

import (
	"fmt"
	"math"
)

// AttemptPolicy decides how many attempts a tuning round gets. round counts
// from 0 within totalRounds; size is the number of tuned parameters.
type AttemptPolicy interface {
	Name() string
	Attempts(baseAttempts, round, totalRounds, size int) int
}

type FixedAttemptPolicy struct{}

func (FixedAttemptPolicy) Name() string { return "fixed" }

func (FixedAttemptPolicy) Attempts(baseAttempts, _, _, _ int) int {
	return max(baseAttempts, 0)
}

type LinearDecayAttemptPolicy struct {
	MinAttempts int
}

func (LinearDecayAttemptPolicy) Name() string { return "linear_decay" }

func (p LinearDecayAttemptPolicy) Attempts(baseAttempts, round, totalRounds, _ int) int {
	if baseAttempts <= 0 {
		return 0
	}
	if totalRounds <= 0 {
		return baseAttempts
	}
	remaining := max(totalRounds-round, 1)
	return max((baseAttempts*remaining)/totalRounds, p.MinAttempts, 0)
}

// SizeProportionalAttemptPolicy grows with the tuned vector:
// 10 + min(round(size^Power), 100).
type SizeProportionalAttemptPolicy struct {
	Power float64
}

func (SizeProportionalAttemptPolicy) Name() string { return "size_proportional" }

func (p SizeProportionalAttemptPolicy) Attempts(baseAttempts, _, _, size int) int {
	if baseAttempts <= 0 {
		return 0
	}
	power := p.Power
	if power <= 0 {
		power = 1.0
	}
	scaled := satInt(int(math.Round(math.Pow(float64(size), power))), 0, 100)
	return 10 + scaled
}

func AttemptPolicyFromConfig(name string, param float64) (AttemptPolicy, error) {
	switch NormalizeAttemptPolicyName(name) {
	case "fixed":
		return FixedAttemptPolicy{}, nil
	case "linear_decay":
		return LinearDecayAttemptPolicy{MinAttempts: max(int(param), 1)}, nil
	case "size_proportional":
		return SizeProportionalAttemptPolicy{Power: param}, nil
	default:
		return nil, fmt.Errorf("unsupported tune duration policy: %s", name)
	}
}

func NormalizeAttemptPolicyName(name string) string {
	switch name {
	case "", "fixed", "const":
		return "fixed"
	case "wsize_proportional":
		return "size_proportional"
	default:
		return name
	}
}

func satInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
