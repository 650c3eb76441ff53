// Package experiment drives replicated trajectories and samples them at
// evenly spaced checkpoints.
package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/engine"
)

// Params controls replicate count, duration and checkpoint sampling.
type Params struct {
	Replicates   int
	Duration     float64
	Measurements int
	Tolerance    float64 // on-time window after each checkpoint target
	ResetWindow  float64 // beyond this a checkpoint is recorded as missed
	Seed         int64
	Workers      int
}

// ParamsFromConfig copies the experiment section of cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Replicates:   cfg.Experiment.Replicates,
		Duration:     cfg.Experiment.Duration,
		Measurements: cfg.Experiment.Measurements,
		Tolerance:    cfg.Experiment.Tolerance,
		ResetWindow:  cfg.Experiment.ResetWindow,
		Seed:         cfg.Experiment.Seed,
		Workers:      cfg.Experiment.Workers,
	}
}

// Interval is the simulated time between checkpoints.
func (p Params) Interval() float64 {
	return p.Duration / float64(p.Measurements)
}

// Target returns the time of checkpoint k.
func (p Params) Target(k int) float64 {
	return float64(k) * p.Interval()
}

// Validate checks the sampling parameters.
func (p Params) Validate() error {
	var errs []error
	if p.Replicates <= 0 {
		errs = append(errs, fmt.Errorf("replicates must be positive, got %d", p.Replicates))
	}
	if p.Duration <= 0 {
		errs = append(errs, fmt.Errorf("duration must be positive, got %g", p.Duration))
	}
	if p.Measurements <= 0 {
		errs = append(errs, fmt.Errorf("measurements must be positive, got %d", p.Measurements))
	}
	if p.Tolerance < 0 || p.ResetWindow < p.Tolerance {
		errs = append(errs, fmt.Errorf("need 0 <= tolerance (%g) <= reset_window (%g)", p.Tolerance, p.ResetWindow))
	}
	return errors.Join(errs...)
}

// Status records how a checkpoint was filled.
type Status uint8

const (
	StatusOnTime Status = iota // first step in [target, target+tolerance]
	StatusLate                 // first step after the tolerance but inside the reset window
	StatusMissed               // first step after the reset window
	StatusFilled               // trajectory ended before the target
)

func (s Status) String() string {
	switch s {
	case StatusOnTime:
		return "on_time"
	case StatusLate:
		return "late"
	case StatusMissed:
		return "missed"
	case StatusFilled:
		return "filled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Checkpoint is the state of a trajectory at one sampling time.
type Checkpoint struct {
	Index        int
	Target       float64
	Time         float64
	Status       Status
	Population   int
	Front        int
	Extinct      bool
	Distribution []int
	GrowthRates  []float64
	Nutrients    []int
}

// Late reports whether a live trajectory reached the checkpoint only after the
// tolerance. Filled checkpoints are not late.
func (c Checkpoint) Late() bool { return c.Status == StatusLate || c.Status == StatusMissed }

// Trajectory is the sampled history of one replicate.
type Trajectory struct {
	RunID          string
	Replicate      int
	Seed           int64
	Checkpoints    []Checkpoint
	FinalTime      float64
	Steps          int64
	Extinct        bool
	ExtinctionTime float64 // zero unless Extinct
	Final          engine.State
}

// Hooks observe a running trajectory. Nil fields are skipped.
type Hooks struct {
	OnStep       func(eng *engine.Engine, out engine.Outcome)
	OnCheckpoint func(cp Checkpoint)

	// Err is polled with the context; a non-nil error stops the trajectory.
	Err func() error
	// OnFinish runs once the last checkpoint is recorded. Its error fails
	// the trajectory.
	OnFinish func() error
}

func (h Hooks) err() error {
	if h.Err == nil {
		return nil
	}
	return h.Err()
}

// ctxCheckEvery is how many steps run between context checks.
const ctxCheckEvery = 4096

// RunTrajectory steps eng until the duration is exceeded or the population
// dies out, recording Measurements+1 checkpoints. The schedule is relative to
// the engine clock at entry, so a restored engine runs a fresh schedule.
func RunTrajectory(ctx context.Context, eng *engine.Engine, p Params, hooks Hooks) (Trajectory, error) {
	if err := p.Validate(); err != nil {
		return Trajectory{}, err
	}

	tr := Trajectory{Checkpoints: make([]Checkpoint, 0, p.Measurements+1)}
	start := eng.TimeElapsed()
	target := func(k int) float64 { return start + p.Target(k) }
	next := 0

	record := func(status Status) {
		cp := capture(eng, next, target(next), status)
		tr.Checkpoints = append(tr.Checkpoints, cp)
		if hooks.OnCheckpoint != nil {
			hooks.OnCheckpoint(cp)
		}
		next++
	}

	// Time zero always lands on the first checkpoint
	record(StatusOnTime)

	for !eng.IsExtinct() && eng.TimeElapsed()-start <= p.Duration {
		if eng.Steps()%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return tr, err
			}
			if err := hooks.err(); err != nil {
				return tr, err
			}
		}

		out, err := eng.Step()
		if err != nil {
			return tr, fmt.Errorf("step %d at t=%g: %w", eng.Steps(), eng.TimeElapsed(), err)
		}
		if hooks.OnStep != nil {
			hooks.OnStep(eng, out)
		}
		if eng.IsExtinct() && tr.ExtinctionTime == 0 {
			tr.ExtinctionTime = eng.TimeElapsed()
		}

		now := eng.TimeElapsed()
		for next <= p.Measurements && now >= target(next) {
			record(classify(now-target(next), p))
		}
	}

	for next <= p.Measurements {
		record(StatusFilled)
	}

	tr.FinalTime = eng.TimeElapsed()
	tr.Steps = eng.Steps()
	tr.Extinct = eng.IsExtinct()
	tr.Final = eng.State()
	if hooks.OnFinish != nil {
		if err := hooks.OnFinish(); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

func classify(overshoot float64, p Params) Status {
	switch {
	case overshoot <= p.Tolerance:
		return StatusOnTime
	case overshoot <= p.ResetWindow:
		return StatusLate
	default:
		return StatusMissed
	}
}

func capture(eng *engine.Engine, k int, target float64, status Status) Checkpoint {
	return Checkpoint{
		Index:        k,
		Target:       target,
		Time:         eng.TimeElapsed(),
		Status:       status,
		Population:   eng.TotalPopulation(),
		Front:        eng.Front(),
		Extinct:      eng.IsExtinct(),
		Distribution: eng.SpatialDistribution(),
		GrowthRates:  eng.GrowthRateSnapshot(),
		Nutrients:    eng.NutrientProfile(),
	}
}
