// Package engine runs one trajectory of the range-expansion simulation using
// bounded-rate rejection kinetic Monte Carlo.
//
// Each Step picks one bacterium uniformly over the whole lattice, draws
// u in [0, R_max) and fires migration, death, replication or nothing
// depending on which zone u falls in. The clock advances by 1/(N*R_max)
// with the pre-step population N whatever the outcome.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/systems"
	"github.com/pthm-cable/gradient/traits"
)

// DefaultRMax is the default rejection envelope.
const DefaultRMax = 1.2

// Rand is the source of uniform draws. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Options configures a new engine.
type Options struct {
	Length       int
	Capacity     int
	Alpha        float64
	RMax         float64
	Founder      traits.Spec
	FounderCount int

	// Traits lists every lineage that may appear, checked against RMax.
	// The founder is always checked.
	Traits traits.Registry

	Logger *slog.Logger
}

// OptionsFromConfig builds engine options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	reg, err := traits.FromConfig(cfg)
	if err != nil {
		return Options{}, fmt.Errorf("building traits: %w: %w", err, systems.ErrInvalidConfiguration)
	}
	founder, ok := reg.Lookup(traits.Trait(cfg.Founder.Trait))
	if !ok {
		return Options{}, fmt.Errorf("founder trait %d undefined: %w", cfg.Founder.Trait, systems.ErrInvalidConfiguration)
	}
	return Options{
		Length:       cfg.Lattice.Length,
		Capacity:     cfg.Lattice.Capacity,
		Alpha:        cfg.Derived.Alpha,
		RMax:         cfg.Kinetics.RMax,
		Founder:      founder,
		FounderCount: cfg.Founder.Count,
		Traits:       reg,
	}, nil
}

// Outcome describes what a single Step did.
type Outcome struct {
	Event      systems.Event
	Site       int     // site of the selected bacterium, -1 when nothing was selected
	Dest       int     // destination site for migrations, otherwise Site
	Applied    bool    // false for null draws, boundary migrations and starved replications
	Population int     // population after the step
	Dt         float64 // clock increment
}

// Engine holds the state of one trajectory. It is not safe for concurrent use.
type Engine struct {
	lattice  *systems.Lattice
	rng      Rand
	rMax     float64
	founder  traits.Spec
	registry traits.Registry
	logger   *slog.Logger

	timeElapsed float64
	extinct     bool
	steps       int64
}

// New builds the lattice and seeds the founder cohort.
func New(opts Options, rng Rand) (*Engine, error) {
	if rng == nil {
		return nil, fmt.Errorf("nil random source: %w", systems.ErrInvalidConfiguration)
	}
	if opts.RMax <= 0 {
		return nil, fmt.Errorf("r_max %g must be positive: %w", opts.RMax, systems.ErrInvalidConfiguration)
	}
	if err := opts.Founder.Validate(opts.RMax); err != nil {
		return nil, fmt.Errorf("founder: %w: %w", err, systems.ErrInvalidConfiguration)
	}
	if err := opts.Traits.Validate(opts.RMax); err != nil {
		return nil, fmt.Errorf("traits: %w: %w", err, systems.ErrInvalidConfiguration)
	}

	lattice, err := systems.NewLattice(opts.Length, opts.Capacity, opts.Alpha, opts.Founder, opts.FounderCount)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		lattice:  lattice,
		rng:      rng,
		rMax:     opts.RMax,
		founder:  opts.Founder,
		registry: opts.Traits,
		logger:   logger,
	}
	e.extinct = lattice.Population() == 0
	return e, nil
}

// Step performs one event-or-null attempt and advances the clock.
// On an extinct system it does nothing: no draws and no clock advance.
func (e *Engine) Step() (Outcome, error) {
	n := e.lattice.Population()
	if n == 0 {
		e.extinct = true
		return Outcome{Event: systems.EventNull, Site: -1, Dest: -1}, nil
	}

	site, local, err := e.lattice.Locate(e.rng.Intn(n))
	if err != nil {
		return Outcome{}, err
	}

	m := e.lattice.Site(site)
	b := m.Bacterium(local)
	migration, death := b.Migration, b.Death
	replication := b.ReplicationRate(m.C(), m.S(), m.SMax())
	if total := migration + death + replication; total > e.rMax {
		return Outcome{}, fmt.Errorf("trait %d at site %d: B+D+R = %g > r_max %g: %w",
			b.Trait, site, total, e.rMax, systems.ErrInvariantViolation)
	}

	out := Outcome{
		Event: systems.SelectEvent(e.rng.Float64()*e.rMax, migration, death, replication),
		Site:  site,
		Dest:  site,
	}

	switch out.Event {
	case systems.EventMigrate:
		out.Dest, out.Applied, err = e.lattice.Migrate(site, local, e.rng.Float64())
	case systems.EventDie:
		err = e.lattice.Die(site, local)
		out.Applied = err == nil
	case systems.EventReplicate:
		out.Applied, err = e.lattice.Replicate(site, local)
	}
	if err != nil {
		return Outcome{}, err
	}

	out.Dt = 1 / (float64(n) * e.rMax)
	e.timeElapsed += out.Dt
	e.steps++

	out.Population = e.lattice.Population()
	if out.Event == systems.EventDie && out.Population == 0 {
		e.extinct = true
		e.logger.Info("population extinct", "time", e.timeElapsed, "steps", e.steps)
	}
	return out, nil
}

// TotalPopulation sums residents over every site.
func (e *Engine) TotalPopulation() int { return e.lattice.Population() }

// SpatialDistribution returns per-site populations indexed by position.
func (e *Engine) SpatialDistribution() []int { return e.lattice.Distribution() }

// GrowthRateSnapshot returns the founder lineage's replication rate at every
// site for the current nutrient levels.
func (e *Engine) GrowthRateSnapshot() []float64 { return e.lattice.GrowthRates(e.founder.Model) }

// NutrientProfile returns per-site nutrient levels.
func (e *Engine) NutrientProfile() []int { return e.lattice.Nutrients() }

// TimeElapsed returns the simulated time.
func (e *Engine) TimeElapsed() float64 { return e.timeElapsed }

// IsExtinct reports whether the population has died out. Once true it stays true.
func (e *Engine) IsExtinct() bool { return e.extinct }

// Steps returns the number of clock-advancing steps taken.
func (e *Engine) Steps() int64 { return e.steps }

// Front returns the highest occupied site, or -1 when extinct.
func (e *Engine) Front() int { return e.lattice.Front() }

// Length returns the number of sites.
func (e *Engine) Length() int { return e.lattice.Len() }

// Capacity returns the per-site nutrient capacity S.
func (e *Engine) Capacity() int { return e.lattice.Site(0).SMax() }

// RMax returns the rejection envelope.
func (e *Engine) RMax() float64 { return e.rMax }
