package engine

import (
	"fmt"
	"math"

	"github.com/pthm-cable/gradient/components"
	"github.com/pthm-cable/gradient/systems"
	"github.com/pthm-cable/gradient/traits"
)

// StateVersion is incremented when the State layout changes.
const StateVersion = 1

// State is a complete, serializable copy of a trajectory.
type State struct {
	Version int         `json:"version"`
	Time    float64     `json:"time"`
	Extinct bool        `json:"extinct"`
	Steps   int64       `json:"steps"`
	RMax    float64     `json:"r_max"`
	Sites   []SiteState `json:"sites"`
}

// SiteState holds one microhabitat.
type SiteState struct {
	C      float64        `json:"c"`
	S      int            `json:"s"`
	SMax   int            `json:"s_max"`
	Traits []traits.Trait `json:"traits"`
}

// State captures the current trajectory.
func (e *Engine) State() State {
	st := State{
		Version: StateVersion,
		Time:    e.timeElapsed,
		Extinct: e.extinct,
		Steps:   e.steps,
		RMax:    e.rMax,
		Sites:   make([]SiteState, e.lattice.Len()),
	}
	for i := range st.Sites {
		m := e.lattice.Site(i)
		ss := SiteState{C: m.C(), S: m.S(), SMax: m.SMax(), Traits: make([]traits.Trait, m.N())}
		for j := range ss.Traits {
			ss.Traits[j] = m.Bacterium(j).Trait
		}
		st.Sites[i] = ss
	}
	return st
}

// Restore rebuilds an engine from a captured state. The options must describe
// the same lattice; every trait in the state must be in opts.Traits or be the founder.
func Restore(st State, opts Options, rng Rand) (*Engine, error) {
	if st.Version != StateVersion {
		return nil, fmt.Errorf("state version %d, want %d: %w", st.Version, StateVersion, systems.ErrInvalidConfiguration)
	}
	if len(st.Sites) != opts.Length {
		return nil, fmt.Errorf("state has %d sites, options %d: %w", len(st.Sites), opts.Length, systems.ErrInvalidConfiguration)
	}
	if st.RMax != opts.RMax {
		return nil, fmt.Errorf("state r_max %g, options %g: %w", st.RMax, opts.RMax, systems.ErrInvalidConfiguration)
	}

	opts.FounderCount = 0
	e, err := New(opts, rng)
	if err != nil {
		return nil, err
	}

	for i, ss := range st.Sites {
		m := e.lattice.Site(i)
		if ss.SMax != m.SMax() || math.Abs(ss.C-m.C()) > 1e-9*math.Max(1, math.Abs(m.C())) {
			return nil, fmt.Errorf("site %d does not match lattice (c %g/%g, s_max %d/%d): %w",
				i, ss.C, m.C(), ss.SMax, m.SMax(), systems.ErrInvalidConfiguration)
		}
		pop := make([]components.Bacterium, len(ss.Traits))
		for j, t := range ss.Traits {
			spec, ok := e.lineage(t)
			if !ok {
				return nil, fmt.Errorf("site %d: unknown trait %d: %w", i, t, systems.ErrInvalidConfiguration)
			}
			pop[j] = components.NewBacterium(spec)
		}
		if err := m.Restore(ss.S, pop); err != nil {
			return nil, fmt.Errorf("site %d: %v: %w", i, err, systems.ErrInvalidConfiguration)
		}
	}

	e.timeElapsed = st.Time
	e.steps = st.Steps
	e.extinct = e.lattice.Population() == 0
	if st.Extinct != e.extinct {
		return nil, fmt.Errorf("state extinct=%v with population %d: %w",
			st.Extinct, e.lattice.Population(), systems.ErrInvariantViolation)
	}
	return e, nil
}

func (e *Engine) lineage(t traits.Trait) (traits.Spec, bool) {
	if t == e.founder.Trait {
		return e.founder, true
	}
	return e.registry.Lookup(t)
}
