package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/gradient/systems"
	"github.com/pthm-cable/gradient/traits"
)

// scriptedRand replays fixed draws and fails the test if more are requested.
type scriptedRand struct {
	t      *testing.T
	ints   []int
	floats []float64
}

func (r *scriptedRand) Intn(n int) int {
	r.t.Helper()
	if len(r.ints) == 0 {
		r.t.Fatalf("unexpected Intn(%d)", n)
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	if v < 0 || v >= n {
		r.t.Fatalf("scripted Intn value %d outside [0, %d)", v, n)
	}
	return v
}

func (r *scriptedRand) Float64() float64 {
	r.t.Helper()
	if len(r.floats) == 0 {
		r.t.Fatal("unexpected Float64()")
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

// testLineage has zones migrate [0,0.25), die [0.25,0.375), replicate [0.375,0.75).
var testLineage = traits.Spec{
	Trait:     0,
	Name:      "test",
	Migration: 0.25,
	Death:     0.125,
	Model:     traits.Constant{R: 0.375},
}

func newTestEngine(t *testing.T, length, capacity, founders int, rng Rand) *Engine {
	t.Helper()
	e, err := New(Options{
		Length:       length,
		Capacity:     capacity,
		RMax:         DefaultRMax,
		Founder:      testLineage,
		FounderCount: founders,
	}, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// draw converts a position u in [0, R_max) to the Float64 that produces it.
func draw(u float64) float64 { return u / DefaultRMax }

func TestNewInvalidConfiguration(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name string
		opts Options
		rng  Rand
	}{
		{"zero length", Options{Length: 0, Capacity: 10, RMax: 1.2, Founder: testLineage}, rng},
		{"zero capacity", Options{Length: 5, Capacity: 0, RMax: 1.2, Founder: testLineage}, rng},
		{"zero r_max", Options{Length: 5, Capacity: 10, RMax: 0, Founder: testLineage}, rng},
		{"founder over envelope", Options{Length: 5, Capacity: 10, RMax: 0.5, Founder: testLineage}, rng},
		{"nil rng", Options{Length: 5, Capacity: 10, RMax: 1.2, Founder: testLineage}, nil},
		{"registry over envelope", Options{
			Length: 5, Capacity: 10, RMax: 1.2, Founder: testLineage,
			Traits: traits.Registry{1: {Trait: 1, Migration: 1, Death: 1, Model: traits.Constant{}}},
		}, rng},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts, tt.rng)
			if !errors.Is(err, systems.ErrInvalidConfiguration) {
				t.Errorf("error = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestConstructionWithReferenceGradient(t *testing.T) {
	e, err := New(Options{
		Length:       500,
		Capacity:     500,
		Alpha:        math.Log(11.5) / 500,
		RMax:         DefaultRMax,
		Founder:      testLineage,
		FounderCount: 100,
	}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}

	if e.TotalPopulation() != 100 {
		t.Errorf("TotalPopulation = %d, want 100", e.TotalPopulation())
	}
	dist := e.SpatialDistribution()
	if len(dist) != 500 {
		t.Fatalf("distribution length %d, want 500", len(dist))
	}
	for i := 1; i < len(dist); i++ {
		if dist[i] != 0 {
			t.Fatalf("site %d holds %d bacteria right after construction", i, dist[i])
		}
	}
	if len(e.GrowthRateSnapshot()) != 500 {
		t.Errorf("growth snapshot length %d, want 500", len(e.GrowthRateSnapshot()))
	}
	if e.TimeElapsed() != 0 || e.IsExtinct() {
		t.Errorf("fresh engine time=%v extinct=%v", e.TimeElapsed(), e.IsExtinct())
	}
}

func TestStepZones(t *testing.T) {
	tests := []struct {
		name      string
		floats    []float64
		wantEvent systems.Event
		wantPop   int
		wantApply bool
	}{
		{"migrate right", []float64{draw(0.1), 0.2}, systems.EventMigrate, 2, true},
		{"die", []float64{draw(0.3)}, systems.EventDie, 1, true},
		{"replicate", []float64{draw(0.5)}, systems.EventReplicate, 3, true},
		{"null", []float64{draw(1.0)}, systems.EventNull, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := &scriptedRand{t: t, ints: []int{1}, floats: tt.floats}
			e := newTestEngine(t, 3, 10, 2, rng)

			out, err := e.Step()
			if err != nil {
				t.Fatal(err)
			}
			if out.Event != tt.wantEvent || out.Applied != tt.wantApply {
				t.Errorf("outcome %+v, want event %v applied %v", out, tt.wantEvent, tt.wantApply)
			}
			if out.Population != tt.wantPop || e.TotalPopulation() != tt.wantPop {
				t.Errorf("population %d/%d, want %d", out.Population, e.TotalPopulation(), tt.wantPop)
			}
			if want := 1 / (2 * DefaultRMax); math.Abs(e.TimeElapsed()-want) > 1e-15 {
				t.Errorf("time = %v, want %v", e.TimeElapsed(), want)
			}
			if len(rng.floats) != 0 {
				t.Errorf("%d scripted draws left unused", len(rng.floats))
			}
		})
	}
}

func TestMigrationMovesToNeighbour(t *testing.T) {
	rng := &scriptedRand{t: t, ints: []int{0}, floats: []float64{draw(0.1), 0.3}}
	e := newTestEngine(t, 3, 10, 1, rng)

	out, err := e.Step()
	if err != nil {
		t.Fatal(err)
	}
	if out.Site != 0 || out.Dest != 1 {
		t.Errorf("migration %d -> %d, want 0 -> 1", out.Site, out.Dest)
	}
	if dist := e.SpatialDistribution(); dist[0] != 0 || dist[1] != 1 {
		t.Errorf("distribution = %v, want [0 1 0]", dist)
	}
}

func TestBoundaryMigrationIsNoop(t *testing.T) {
	tests := []struct {
		name      string
		length    int
		direction float64
	}{
		{"left from first site", 3, 0.9},
		{"right from last site", 1, 0.1},
		{"exact half", 3, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := &scriptedRand{t: t, ints: []int{0}, floats: []float64{draw(0.1), tt.direction}}
			e := newTestEngine(t, tt.length, 10, 1, rng)
			before := e.SpatialDistribution()

			out, err := e.Step()
			if err != nil {
				t.Fatal(err)
			}
			if out.Event != systems.EventMigrate || out.Applied {
				t.Errorf("outcome %+v, want unapplied migration", out)
			}
			after := e.SpatialDistribution()
			for i := range before {
				if before[i] != after[i] {
					t.Fatalf("distribution changed %v -> %v", before, after)
				}
			}
			// The clock still advances
			if e.TimeElapsed() == 0 {
				t.Error("boundary migration must still advance the clock")
			}
		})
	}
}

func TestExtinctionIsAbsorbing(t *testing.T) {
	rng := &scriptedRand{t: t, ints: []int{0}, floats: []float64{draw(0.3)}}
	e := newTestEngine(t, 2, 10, 1, rng)

	out, err := e.Step()
	if err != nil {
		t.Fatal(err)
	}
	if out.Event != systems.EventDie || !e.IsExtinct() {
		t.Fatalf("outcome %+v extinct=%v, want death and extinction", out, e.IsExtinct())
	}
	// The step that causes extinction still advances with the pre-step N = 1
	if want := 1 / DefaultRMax; math.Abs(e.TimeElapsed()-want) > 1e-15 {
		t.Errorf("time = %v, want %v", e.TimeElapsed(), want)
	}

	time := e.TimeElapsed()
	steps := e.Steps()
	for i := 0; i < 5; i++ {
		// scriptedRand fails the test if any draw is made here
		out, err := e.Step()
		if err != nil {
			t.Fatal(err)
		}
		if out.Event != systems.EventNull || out.Site != -1 {
			t.Errorf("step after extinction = %+v", out)
		}
	}
	if e.TimeElapsed() != time || e.Steps() != steps {
		t.Errorf("clock moved after extinction: %v -> %v", time, e.TimeElapsed())
	}
	if !e.IsExtinct() || e.TotalPopulation() != 0 {
		t.Errorf("extinct=%v population=%d", e.IsExtinct(), e.TotalPopulation())
	}
	for i, n := range e.SpatialDistribution() {
		if n != 0 {
			t.Errorf("site %d holds %d after extinction", i, n)
		}
	}
}

func TestEmptyFounderCohortStartsExtinct(t *testing.T) {
	e := newTestEngine(t, 3, 10, 0, &scriptedRand{t: t})
	if !e.IsExtinct() {
		t.Error("engine with no founders should start extinct")
	}
	if _, err := e.Step(); err != nil {
		t.Fatal(err)
	}
	if e.TimeElapsed() != 0 {
		t.Errorf("time = %v, want 0", e.TimeElapsed())
	}
}

func TestStarvedReplicationIsNull(t *testing.T) {
	rng := &scriptedRand{t: t, ints: []int{0, 0}, floats: []float64{draw(0.5), draw(0.5)}}
	e := newTestEngine(t, 1, 1, 1, rng)

	first, err := e.Step()
	if err != nil {
		t.Fatal(err)
	}
	if !first.Applied || e.TotalPopulation() != 2 {
		t.Fatalf("first replication %+v, population %d", first, e.TotalPopulation())
	}

	second, err := e.Step()
	if err != nil {
		t.Fatal(err)
	}
	if second.Event != systems.EventReplicate || second.Applied {
		t.Errorf("replication on exhausted site = %+v, want unapplied", second)
	}
	if e.TotalPopulation() != 2 || e.NutrientProfile()[0] != 0 {
		t.Errorf("population %d nutrients %v", e.TotalPopulation(), e.NutrientProfile())
	}
}

// lyingModel reports a small MaxRate but returns a larger rate.
type lyingModel struct{}

func (lyingModel) Rate(c float64, s, sMax int) float64 { return 2 }
func (lyingModel) MaxRate() float64                   { return 0.1 }

func TestRateEnvelopeGuard(t *testing.T) {
	rng := &scriptedRand{t: t, ints: []int{0}}
	e, err := New(Options{
		Length: 2, Capacity: 10, RMax: DefaultRMax, FounderCount: 1,
		Founder: traits.Spec{Trait: 0, Name: "liar", Model: lyingModel{}},
	}, rng)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Step(); !errors.Is(err, systems.ErrInvariantViolation) {
		t.Errorf("error = %v, want ErrInvariantViolation", err)
	}
}

func TestStepInvariants(t *testing.T) {
	founder := traits.Spec{
		Trait:     0,
		Name:      "gradient",
		Migration: 0.3,
		Death:     0.2,
		Model:     traits.Gradient{GMax: 0.6, MIC: 3},
	}
	e, err := New(Options{
		Length:       20,
		Capacity:     30,
		Alpha:        math.Log(4) / 20,
		RMax:         DefaultRMax,
		Founder:      founder,
		FounderCount: 10,
	}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20000 && !e.IsExtinct(); i++ {
		before := e.TotalPopulation()
		t0 := e.TimeElapsed()

		out, err := e.Step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}

		after := e.TotalPopulation()
		delta := after - before
		switch {
		case out.Event == systems.EventDie:
			if delta != -1 {
				t.Fatalf("step %d: death changed population by %d", i, delta)
			}
		case out.Event == systems.EventReplicate && out.Applied:
			if delta != 1 {
				t.Fatalf("step %d: birth changed population by %d", i, delta)
			}
		default:
			if delta != 0 {
				t.Fatalf("step %d: %v changed population by %d", i, out.Event, delta)
			}
		}

		want := 1 / (float64(before) * DefaultRMax)
		if dt := e.TimeElapsed() - t0; math.Abs(dt-want) > 1e-9*want+1e-12 {
			t.Fatalf("step %d: dt = %v, want %v", i, dt, want)
		}

		sum := 0
		for _, n := range e.SpatialDistribution() {
			sum += n
		}
		if sum != after {
			t.Fatalf("step %d: distribution sums to %d, population %d", i, sum, after)
		}
		if e.IsExtinct() != (after == 0) {
			t.Fatalf("step %d: extinct=%v with population %d", i, e.IsExtinct(), after)
		}
	}

	for i, s := range e.NutrientProfile() {
		if s < 0 || s > 30 {
			t.Errorf("site %d nutrient %d outside [0, 30]", i, s)
		}
	}
}

func TestSingleSiteIsBirthDeathProcess(t *testing.T) {
	e, err := New(Options{
		Length:       1,
		Capacity:     10,
		Alpha:        0,
		RMax:         DefaultRMax,
		Founder:      testLineage,
		FounderCount: 5,
	}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5000 && !e.IsExtinct(); i++ {
		out, err := e.Step()
		if err != nil {
			t.Fatal(err)
		}
		if out.Event == systems.EventMigrate && out.Applied {
			t.Fatalf("migration applied on a single-site lattice: %+v", out)
		}
		if len(e.SpatialDistribution()) != 1 {
			t.Fatal("distribution length changed")
		}
	}
}

func TestReplicationAcceptanceRate(t *testing.T) {
	founder := traits.Spec{Trait: 0, Name: "replicator", Model: traits.Constant{R: 0.3}}
	rng := rand.New(rand.NewSource(11))

	const trials = 20000
	accepted := make([]float64, trials)
	dts := make([]float64, trials)
	for i := range trials {
		e, err := New(Options{
			Length: 1, Capacity: 10, RMax: DefaultRMax, Founder: founder, FounderCount: 1,
		}, rng)
		if err != nil {
			t.Fatal(err)
		}
		out, err := e.Step()
		if err != nil {
			t.Fatal(err)
		}
		if out.Event == systems.EventReplicate {
			accepted[i] = 1
		}
		dts[i] = out.Dt
	}

	if p := stat.Mean(accepted, nil); math.Abs(p-0.25) > 0.02 {
		t.Errorf("replication acceptance = %v, want 0.3/1.2 = 0.25", p)
	}
	if dt := stat.Mean(dts, nil); math.Abs(dt-1/DefaultRMax) > 1e-12 {
		t.Errorf("mean dt = %v, want %v", dt, 1/DefaultRMax)
	}
}

func TestStateRestore(t *testing.T) {
	founder := traits.Spec{
		Trait: 0, Name: "gradient", Migration: 0.3, Death: 0.2,
		Model: traits.Gradient{GMax: 0.6, MIC: 3},
	}
	opts := Options{
		Length: 10, Capacity: 20, Alpha: 0.05, RMax: DefaultRMax,
		Founder: founder, FounderCount: 8,
	}
	e, err := New(opts, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 500 && !e.IsExtinct(); i++ {
		if _, err := e.Step(); err != nil {
			t.Fatal(err)
		}
	}

	st := e.State()
	restored, err := Restore(st, opts, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if restored.TimeElapsed() != e.TimeElapsed() || restored.Steps() != e.Steps() {
		t.Errorf("restored clock %v/%d, want %v/%d", restored.TimeElapsed(), restored.Steps(), e.TimeElapsed(), e.Steps())
	}
	want, got := e.SpatialDistribution(), restored.SpatialDistribution()
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("site %d: restored %d, want %d", i, got[i], want[i])
		}
	}
	wantS, gotS := e.NutrientProfile(), restored.NutrientProfile()
	for i := range wantS {
		if wantS[i] != gotS[i] {
			t.Fatalf("site %d nutrients: restored %d, want %d", i, gotS[i], wantS[i])
		}
	}

	st.Sites[0].Traits = append(st.Sites[0].Traits, 9)
	if _, err := Restore(st, opts, rand.New(rand.NewSource(5))); !errors.Is(err, systems.ErrInvalidConfiguration) {
		t.Errorf("unknown trait error = %v, want ErrInvalidConfiguration", err)
	}

	opts.Length = 11
	if _, err := Restore(e.State(), opts, rand.New(rand.NewSource(5))); !errors.Is(err, systems.ErrInvalidConfiguration) {
		t.Errorf("length mismatch error = %v, want ErrInvalidConfiguration", err)
	}
}
