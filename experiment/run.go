package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/engine"
)

// Result collects every replicate of one experiment.
type Result struct {
	ID           string
	Params       Params
	Trajectories []Trajectory // ordered by replicate
	Started      time.Time
	Elapsed      time.Duration
}

// Sink receives each trajectory as soon as its replicate finishes.
// Calls are serialized but arrive in completion order.
type Sink func(Trajectory)

// HooksFunc builds the hooks for one replicate. It is called from the
// replicate's worker goroutine before the first step.
type HooksFunc func(runID string, replicate int, seed int64, eng *engine.Engine) Hooks

// Run executes p.Replicates independent trajectories in parallel. Replicate r
// is seeded with p.Seed+r, so results do not depend on the worker count.
// A zero seed is replaced by the current time and recorded in Result.Params.
// The first failing replicate cancels the rest.
func Run(ctx context.Context, cfg *config.Config, p Params, sink Sink) (*Result, error) {
	return RunWithHooks(ctx, cfg, p, sink, nil)
}

// RunWithHooks is Run with per-replicate observation.
func RunWithHooks(ctx context.Context, cfg *config.Config, p Params, sink Sink, hooksFor HooksFunc) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	if p.Seed == 0 {
		p.Seed = time.Now().UnixNano()
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	res := &Result{
		ID:           uuid.NewString(),
		Params:       p,
		Trajectories: make([]Trajectory, p.Replicates),
		Started:      time.Now(),
	}
	logger := slog.Default().With("run", res.ID)
	logger.Info("experiment started",
		"replicates", p.Replicates,
		"duration", p.Duration,
		"measurements", p.Measurements,
		"workers", workers,
		"seed", p.Seed,
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for r := 0; r < p.Replicates; r++ {
		g.Go(func() error {
			seed := p.Seed + int64(r)
			o := opts
			o.Logger = logger.With("replicate", r)

			eng, err := engine.New(o, rand.New(rand.NewSource(seed)))
			if err != nil {
				return fmt.Errorf("replicate %d: %w", r, err)
			}
			var hooks Hooks
			if hooksFor != nil {
				hooks = hooksFor(res.ID, r, seed, eng)
			}
			tr, err := RunTrajectory(gctx, eng, p, hooks)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", r, err)
			}
			tr.RunID = res.ID
			tr.Replicate = r
			tr.Seed = seed
			res.Trajectories[r] = tr

			o.Logger.Debug("replicate finished",
				"time", tr.FinalTime,
				"steps", tr.Steps,
				"extinct", tr.Extinct,
			)
			if sink != nil {
				mu.Lock()
				sink(tr)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(res.Started)
	logger.Info("experiment finished", "elapsed", res.Elapsed)
	return res, nil
}
