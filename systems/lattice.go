// Package systems implements the lattice and the events that mutate it.
package systems

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/gradient/components"
	"github.com/pthm-cable/gradient/traits"
)

var (
	// ErrInvalidConfiguration is returned for lattices that cannot be built.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvariantViolation signals broken population bookkeeping. It is fatal.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Lattice is a fixed-length chain of microhabitats.
type Lattice struct {
	sites []*components.Microhabitat
}

// Concentration returns c_i = exp(alpha*i) - 1.
func Concentration(alpha float64, i int) float64 {
	return math.Exp(alpha*float64(i)) - 1
}

// NewLattice builds length sites with c_i = exp(alpha*i) - 1 and full nutrient
// stores, then seeds site 0 with founderCount bacteria of the founder lineage.
func NewLattice(length, capacity int, alpha float64, founder traits.Spec, founderCount int) (*Lattice, error) {
	if length <= 0 {
		return nil, fmt.Errorf("lattice length %d: %w", length, ErrInvalidConfiguration)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("nutrient capacity %d: %w", capacity, ErrInvalidConfiguration)
	}
	if founderCount < 0 {
		return nil, fmt.Errorf("founder count %d: %w", founderCount, ErrInvalidConfiguration)
	}
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) {
		return nil, fmt.Errorf("alpha %v: %w", alpha, ErrInvalidConfiguration)
	}

	l := &Lattice{sites: make([]*components.Microhabitat, length)}
	for i := range l.sites {
		l.sites[i] = components.NewMicrohabitat(Concentration(alpha, i), capacity)
	}
	l.sites[0].Fill(founder, founderCount)
	return l, nil
}

// Len returns the number of sites.
func (l *Lattice) Len() int { return len(l.sites) }

// Site returns the microhabitat at position i.
func (l *Lattice) Site(i int) *components.Microhabitat { return l.sites[i] }

// Population sums residents over all sites.
func (l *Lattice) Population() int {
	total := 0
	for _, s := range l.sites {
		total += s.N()
	}
	return total
}

// Distribution returns per-site population counts indexed by position.
func (l *Lattice) Distribution() []int {
	out := make([]int, len(l.sites))
	for i, s := range l.sites {
		out[i] = s.N()
	}
	return out
}

// GrowthRates evaluates a growth model at every site.
func (l *Lattice) GrowthRates(model traits.GrowthModel) []float64 {
	out := make([]float64, len(l.sites))
	for i, s := range l.sites {
		out[i] = s.GrowthRate(model)
	}
	return out
}

// Nutrients returns per-site nutrient levels indexed by position.
func (l *Lattice) Nutrients() []int {
	out := make([]int, len(l.sites))
	for i, s := range l.sites {
		out[i] = s.S()
	}
	return out
}

// Locate maps a global bacterium index to (site, local) by scanning sites in
// lattice order and accumulating counts.
func (l *Lattice) Locate(index int) (site, local int, err error) {
	if index < 0 {
		return 0, 0, fmt.Errorf("locate negative index %d: %w", index, ErrInvariantViolation)
	}
	cumulative := 0
	for i, s := range l.sites {
		if cumulative+s.N() > index {
			return i, index - cumulative, nil
		}
		cumulative += s.N()
	}
	return 0, 0, fmt.Errorf("locate index %d beyond population %d: %w", index, cumulative, ErrInvariantViolation)
}

// Front returns the highest occupied position, or -1 when empty.
func (l *Lattice) Front() int {
	for i := len(l.sites) - 1; i >= 0; i-- {
		if l.sites[i].N() > 0 {
			return i
		}
	}
	return -1
}
