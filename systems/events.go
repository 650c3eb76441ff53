package systems

import "fmt"

// Event identifies which zone of the rejection envelope a draw landed in.
type Event uint8

const (
	EventNull Event = iota
	EventMigrate
	EventDie
	EventReplicate
)

// String returns the event name used in logs and CSV output.
func (e Event) String() string {
	switch e {
	case EventNull:
		return "null"
	case EventMigrate:
		return "migrate"
	case EventDie:
		return "die"
	case EventReplicate:
		return "replicate"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// SelectEvent partitions [0, R_max) into migration [0,B), death [B,B+D),
// replication [B+D,B+D+R) and null for the remainder.
func SelectEvent(u, migration, death, replication float64) Event {
	switch {
	case u < migration:
		return EventMigrate
	case u < migration+death:
		return EventDie
	case u < migration+death+replication:
		return EventReplicate
	default:
		return EventNull
	}
}

// Migrate moves the addressed bacterium one site right when direction < 0.5
// and one site left when direction > 0.5. Moves off either end of the lattice
// and direction == 0.5 leave the state untouched.
func (l *Lattice) Migrate(site, local int, direction float64) (dest int, moved bool, err error) {
	switch {
	case direction < 0.5:
		dest = site + 1
	case direction > 0.5:
		dest = site - 1
	default:
		return site, false, nil
	}
	if dest < 0 || dest >= len(l.sites) {
		return site, false, nil
	}

	b, err := l.sites[site].Remove(local)
	if err != nil {
		return site, false, fmt.Errorf("migrate from site %d: %v: %w", site, err, ErrInvariantViolation)
	}
	l.sites[dest].Add(b)
	return dest, true, nil
}

// Die permanently removes the addressed bacterium.
func (l *Lattice) Die(site, local int) error {
	if _, err := l.sites[site].Remove(local); err != nil {
		return fmt.Errorf("die at site %d: %v: %w", site, err, ErrInvariantViolation)
	}
	return nil
}

// Replicate consumes one nutrient unit and appends a clone of the addressed
// bacterium to the same site. It reports false when the site has no nutrient
// left, in which case nothing changes.
func (l *Lattice) Replicate(site, local int) (bool, error) {
	m := l.sites[site]
	if local < 0 || local >= m.N() {
		return false, fmt.Errorf("replicate index %d at site %d with %d residents: %w",
			local, site, m.N(), ErrInvariantViolation)
	}
	if !m.Consume() {
		return false, nil
	}
	m.Add(m.Bacterium(local).Clone())
	return true, nil
}
