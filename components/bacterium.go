// Package components defines the bacteria and microhabitats a lattice is built from.
package components

import "github.com/pthm-cable/gradient/traits"

// Bacterium is a single agent. Its rates are fixed at birth and it has no
// identity beyond its slot in a microhabitat population.
type Bacterium struct {
	Trait     traits.Trait
	Migration float64 // B
	Death     float64 // D
	Growth    traits.GrowthModel
}

// NewBacterium creates a bacterium carrying the rates of a lineage spec.
func NewBacterium(spec traits.Spec) Bacterium {
	return Bacterium{
		Trait:     spec.Trait,
		Migration: spec.Migration,
		Death:     spec.Death,
		Growth:    spec.Model,
	}
}

// ReplicationRate evaluates the lineage growth model against the local environment.
func (b Bacterium) ReplicationRate(c float64, s, sMax int) float64 {
	if b.Growth == nil {
		return 0
	}
	return b.Growth.Rate(c, s, sMax)
}

// TotalRate is B + D + R in the given environment.
func (b Bacterium) TotalRate(c float64, s, sMax int) float64 {
	return b.Migration + b.Death + b.ReplicationRate(c, s, sMax)
}

// Clone returns a clonal daughter: same trait, same rates, same model.
func (b Bacterium) Clone() Bacterium {
	return b
}
