package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/experiment"
)

// penalty is returned for parameter sets that cannot be simulated.
const penalty = 1e6

// FitnessEvaluator runs short experiments and scores how close the mean
// final front lands to a target site.
type FitnessEvaluator struct {
	params     *ParamVector
	baseConfig *config.Config
	sampling   experiment.Params
	target     float64

	mu        sync.Mutex
	lastFront float64
	lastDead  float64
}

// NewFitnessEvaluator creates a new evaluator. Every evaluation reuses the
// same seeds so differences come from the parameters alone.
func NewFitnessEvaluator(params *ParamVector, baseCfg *config.Config, sampling experiment.Params, target float64) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		baseConfig: baseCfg,
		sampling:   sampling,
		target:     target,
	}
}

// Last returns the mean front and extinct fraction of the most recent evaluation.
func (fe *FitnessEvaluator) Last() (front, extinct float64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastFront, fe.lastDead
}

// Evaluate computes fitness for raw parameter values (lower = better).
func (fe *FitnessEvaluator) Evaluate(ctx context.Context, x []float64) float64 {
	cfg := copyConfig(fe.baseConfig)
	fe.params.ApplyToConfig(cfg, x)
	if err := cfg.Validate(); err != nil {
		slog.Debug("invalid parameters", "error", err)
		return penalty
	}

	res, err := experiment.Run(ctx, cfg, fe.sampling, nil)
	if err != nil {
		slog.Debug("evaluation failed", "error", err)
		return penalty
	}
	profiles, err := experiment.Average(res.Trajectories)
	if err != nil {
		slog.Debug("averaging failed", "error", err)
		return penalty
	}

	final := profiles[len(profiles)-1]
	extinct := float64(final.Extinct) / float64(len(res.Trajectories))

	fe.mu.Lock()
	fe.lastFront = final.FrontMean
	fe.lastDead = extinct
	fe.mu.Unlock()

	return computeFitness(final.FrontMean, extinct, fe.target, cfg.Lattice.Length)
}

// computeFitness is the squared front error in lattice lengths plus the
// extinct fraction. A front of -1 means every replicate died.
func computeFitness(front, extinct, target float64, length int) float64 {
	if front < 0 {
		return 2
	}
	miss := (front - target) / float64(length)
	return miss*miss + extinct
}
