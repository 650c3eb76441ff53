// Package traits defines bacterial lineages and their replication-rate models.
package traits

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pthm-cable/gradient/config"
)

// ErrRateEnvelope is returned when a lineage can exceed the rejection envelope R_max.
var ErrRateEnvelope = errors.New("rates exceed r_max envelope")

// Trait identifies a lineage. It is inherited unchanged by offspring.
type Trait uint8

// GrowthModel maps the local environment to a replication rate.
// Rate must be non-negative for c >= 0 and 0 <= s <= sMax, and never exceed MaxRate.
type GrowthModel interface {
	Rate(c float64, s, sMax int) float64
	MaxRate() float64
}

// Constant replicates at a fixed rate regardless of the environment.
type Constant struct {
	R float64
}

// Rate returns the fixed rate.
func (m Constant) Rate(c float64, s, sMax int) float64 { return m.R }

// MaxRate returns the fixed rate.
func (m Constant) MaxRate() float64 { return m.R }

// Monod is nutrient-limited growth: GMax * s / (HalfSat + s).
type Monod struct {
	GMax    float64
	HalfSat float64
}

// Rate returns the Monod growth rate for nutrient level s.
func (m Monod) Rate(c float64, s, sMax int) float64 {
	if s <= 0 {
		return 0
	}
	return m.GMax * float64(s) / (m.HalfSat + float64(s))
}

// MaxRate is approached as s grows; GMax bounds it for any HalfSat >= 0.
func (m Monod) MaxRate() float64 { return m.GMax }

// Gradient scales growth by the remaining nutrient fraction and is
// inhibited quadratically by the local concentration, stopping at MIC.
type Gradient struct {
	GMax float64
	MIC  float64
}

// Rate returns GMax * (s/sMax) * max(0, 1-(c/MIC)^2).
func (m Gradient) Rate(c float64, s, sMax int) float64 {
	if s <= 0 || sMax <= 0 {
		return 0
	}
	inhibition := 1 - (c/m.MIC)*(c/m.MIC)
	if inhibition <= 0 {
		return 0
	}
	return m.GMax * float64(s) / float64(sMax) * inhibition
}

// MaxRate is reached at c = 0 with a full nutrient store.
func (m Gradient) MaxRate() float64 { return m.GMax }

// Spec is the full definition of a lineage.
type Spec struct {
	Trait     Trait
	Name      string
	Migration float64 // B
	Death     float64 // D
	Model     GrowthModel
}

// MaxTotalRate is the largest B + D + R this lineage can reach.
func (s Spec) MaxTotalRate() float64 {
	return s.Migration + s.Death + s.Model.MaxRate()
}

// Validate checks that the lineage fits inside the envelope rMax.
func (s Spec) Validate(rMax float64) error {
	if s.Model == nil {
		return fmt.Errorf("trait %d (%s): no growth model", s.Trait, s.Name)
	}
	if s.Migration < 0 || s.Death < 0 || s.Model.MaxRate() < 0 {
		return fmt.Errorf("trait %d (%s): rates must be non-negative", s.Trait, s.Name)
	}
	if total := s.MaxTotalRate(); total > rMax {
		return fmt.Errorf("trait %d (%s): B+D+max(R) = %g > %g: %w", s.Trait, s.Name, total, rMax, ErrRateEnvelope)
	}
	return nil
}

// Registry holds lineage specs keyed by trait.
type Registry map[Trait]Spec

// Lookup returns the spec for a trait.
func (r Registry) Lookup(t Trait) (Spec, bool) {
	s, ok := r[t]
	return s, ok
}

// Validate checks every lineage against rMax.
func (r Registry) Validate(rMax float64) error {
	var errs []error
	for _, t := range r.Sorted() {
		if err := r[t].Validate(rMax); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sorted returns the registered traits in ascending order.
func (r Registry) Sorted() []Trait {
	out := make([]Trait, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewModel builds a growth model from its config.
func NewModel(gc config.GrowthConfig) (GrowthModel, error) {
	switch gc.Model {
	case "constant":
		return Constant{R: gc.Rate}, nil
	case "monod":
		if gc.HalfSat < 0 {
			return nil, fmt.Errorf("monod: half_sat must not be negative, got %g", gc.HalfSat)
		}
		return Monod{GMax: gc.GMax, HalfSat: gc.HalfSat}, nil
	case "gradient", "":
		if gc.MIC <= 0 || math.IsInf(gc.MIC, 0) {
			return nil, fmt.Errorf("gradient: mic must be positive and finite, got %g", gc.MIC)
		}
		return Gradient{GMax: gc.GMax, MIC: gc.MIC}, nil
	default:
		return nil, fmt.Errorf("unknown growth model %q", gc.Model)
	}
}

// FromConfig builds and validates the trait registry.
func FromConfig(cfg *config.Config) (Registry, error) {
	reg := make(Registry, len(cfg.Traits))
	for _, tc := range cfg.Traits {
		model, err := NewModel(tc.Growth)
		if err != nil {
			return nil, fmt.Errorf("trait %d (%s): %w", tc.ID, tc.Name, err)
		}
		reg[Trait(tc.ID)] = Spec{
			Trait:     Trait(tc.ID),
			Name:      tc.Name,
			Migration: tc.Migration,
			Death:     tc.Death,
			Model:     model,
		}
	}
	if err := reg.Validate(cfg.Kinetics.RMax); err != nil {
		return nil, err
	}
	return reg, nil
}
