package telemetry

import (
	"github.com/pthm-cable/gradient/engine"
	"github.com/pthm-cable/gradient/systems"
)

// Collector accumulates step outcomes within simulated-time windows and produces WindowStats.
type Collector struct {
	window float64

	// Current window tracking
	windowStart  float64
	stepsAtStart int64

	// Outcome counters for current window
	births              int
	deaths              int
	migrations          int
	blockedMigrations   int
	starvedReplications int
	nulls               int
}

// NewCollector creates a new stats collector.
// window: how long each stats window lasts in simulated time.
func NewCollector(window float64) *Collector {
	if window <= 0 {
		window = 1
	}
	return &Collector{window: window}
}

// Record counts one step outcome.
func (c *Collector) Record(out engine.Outcome) {
	switch out.Event {
	case systems.EventReplicate:
		if out.Applied {
			c.births++
		} else {
			c.starvedReplications++
		}
	case systems.EventDie:
		c.deaths++
	case systems.EventMigrate:
		if out.Applied {
			c.migrations++
		} else {
			c.blockedMigrations++
		}
	default:
		c.nulls++
	}
}

// ShouldFlush returns true if the current window has elapsed.
func (c *Collector) ShouldFlush(now float64) bool {
	return now-c.windowStart >= c.window
}

// Flush produces a WindowStats from the engine's current state and resets
// counters for the next window.
func (c *Collector) Flush(eng *engine.Engine) WindowStats {
	attempts := c.births + c.deaths + c.migrations + c.blockedMigrations + c.starvedReplications + c.nulls
	var acceptance float64
	if attempts > 0 {
		acceptance = float64(c.births+c.deaths+c.migrations) / float64(attempts)
	}

	dist := eng.SpatialDistribution()
	occupied := 0
	for _, n := range dist {
		if n > 0 {
			occupied++
		}
	}
	mean, p10, p50, p90 := ComputePositionStats(dist)

	var nutrients float64
	for _, s := range eng.NutrientProfile() {
		nutrients += float64(s)
	}

	now := eng.TimeElapsed()
	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   now,
		Steps:       eng.Steps() - c.stepsAtStart,

		Population:    eng.TotalPopulation(),
		OccupiedSites: occupied,
		Front:         eng.Front(),

		Births:              c.births,
		Deaths:              c.deaths,
		Migrations:          c.migrations,
		BlockedMigrations:   c.blockedMigrations,
		StarvedReplications: c.starvedReplications,
		Nulls:               c.nulls,
		AcceptanceRate:      acceptance,

		PositionMean: mean,
		PositionP10:  p10,
		PositionP50:  p50,
		PositionP90:  p90,
	}
	if total := eng.Length() * eng.Capacity(); total > 0 {
		stats.NutrientFraction = nutrients / float64(total)
	}

	// Reset for next window
	c.windowStart = now
	c.stepsAtStart = eng.Steps()
	c.births = 0
	c.deaths = 0
	c.migrations = 0
	c.blockedMigrations = 0
	c.starvedReplications = 0
	c.nulls = 0

	return stats
}

// Window returns the simulated time per window.
func (c *Collector) Window() float64 {
	return c.window
}
