package components

import (
	"fmt"

	"github.com/pthm-cable/gradient/traits"
)

// Microhabitat is one lattice site: a fixed concentration, a consumable
// nutrient store and the bacteria currently living there.
type Microhabitat struct {
	c    float64
	s    int
	sMax int

	population []Bacterium
}

// NewMicrohabitat creates an empty site with a full nutrient store.
func NewMicrohabitat(c float64, capacity int) *Microhabitat {
	return &Microhabitat{
		c:    c,
		s:    capacity,
		sMax: capacity,
	}
}

// C returns the fixed local concentration.
func (m *Microhabitat) C() float64 { return m.c }

// S returns the current nutrient level.
func (m *Microhabitat) S() int { return m.s }

// SMax returns the nutrient capacity.
func (m *Microhabitat) SMax() int { return m.sMax }

// N returns the number of resident bacteria.
func (m *Microhabitat) N() int { return len(m.population) }

// Bacterium returns the resident at local index i.
func (m *Microhabitat) Bacterium(i int) Bacterium {
	return m.population[i]
}

// Add appends a bacterium to the population.
func (m *Microhabitat) Add(b Bacterium) {
	m.population = append(m.population, b)
}

// Fill seeds the site with n bacteria of the given lineage.
func (m *Microhabitat) Fill(spec traits.Spec, n int) {
	for range n {
		m.Add(NewBacterium(spec))
	}
}

// Remove takes the resident at local index i out of the population.
// The last resident moves into slot i; order is only used for addressing.
func (m *Microhabitat) Remove(i int) (Bacterium, error) {
	if i < 0 || i >= len(m.population) {
		return Bacterium{}, fmt.Errorf("remove index %d out of range [0, %d)", i, len(m.population))
	}
	b := m.population[i]
	last := len(m.population) - 1
	m.population[i] = m.population[last]
	m.population[last] = Bacterium{}
	m.population = m.population[:last]
	return b, nil
}

// Consume uses one unit of nutrient. It reports false, leaving the store
// at zero, when the site is already exhausted.
func (m *Microhabitat) Consume() bool {
	if m.s <= 0 {
		return false
	}
	m.s--
	return true
}

// GrowthRate evaluates a growth model against the current site state.
func (m *Microhabitat) GrowthRate(model traits.GrowthModel) float64 {
	if model == nil {
		return 0
	}
	return model.Rate(m.c, m.s, m.sMax)
}

// Restore overwrites the mutable state, used when loading a snapshot.
func (m *Microhabitat) Restore(s int, population []Bacterium) error {
	if s < 0 || s > m.sMax {
		return fmt.Errorf("nutrient level %d outside [0, %d]", s, m.sMax)
	}
	m.s = s
	m.population = append(m.population[:0], population...)
	return nil
}
