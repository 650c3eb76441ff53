package main

import (
	"github.com/pthm-cable/gradient/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name string  // Human-readable name
	Path string  // Config path for logging
	Min  float64 // Lower bound
	Max  float64 // Upper bound
}

// ParamVector holds the calibrated parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the gradient steepness and founder rate parameters.
// Upper bounds keep migration+death+growth inside the default r_max of 1.2.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "alpha", Path: "lattice.alpha", Min: 0.0005, Max: 0.02},
			{Name: "migration", Path: "traits[founder].migration", Min: 0.01, Max: 0.4},
			{Name: "growth", Path: "traits[founder].growth.g_max", Min: 0.1, Max: 0.7},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig writes clamped values into cfg and refreshes derived values.
// Constant-rate founders take the growth parameter as their fixed rate.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	alpha := clamped[0]
	cfg.Lattice.Alpha = &alpha
	for i := range cfg.Traits {
		t := &cfg.Traits[i]
		if t.ID != cfg.Founder.Trait {
			continue
		}
		t.Migration = clamped[1]
		if t.Growth.Model == "constant" {
			t.Growth.Rate = clamped[2]
		} else {
			t.Growth.GMax = clamped[2]
		}
	}
	cfg.Recompute()
}

// ExtractFromConfig reads the current parameter values, clamped to bounds.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	v := []float64{cfg.Derived.Alpha, 0, 0}
	if t, ok := cfg.Trait(cfg.Founder.Trait); ok {
		v[1] = t.Migration
		v[2] = t.Growth.GMax
		if t.Growth.Model == "constant" {
			v[2] = t.Growth.Rate
		}
	}
	return pv.Clamp(v)
}

// copyConfig returns a copy of base that can be modified independently.
func copyConfig(base *config.Config) *config.Config {
	cfg := *base
	if base.Lattice.Alpha != nil {
		alpha := *base.Lattice.Alpha
		cfg.Lattice.Alpha = &alpha
	}
	cfg.Traits = append([]config.TraitConfig(nil), base.Traits...)
	cfg.Recompute()
	return &cfg
}
