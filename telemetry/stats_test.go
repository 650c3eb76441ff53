package telemetry

import (
	"log/slog"
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestComputePositionStats(t *testing.T) {
	// Positions 0, 0, 2, 2, 2, 4
	mean, p10, p50, p90 := ComputePositionStats([]int{2, 0, 3, 0, 1})

	if math.Abs(mean-10.0/6) > 1e-12 {
		t.Errorf("mean = %v, want %v", mean, 10.0/6)
	}
	if p10 != 0 {
		t.Errorf("p10 = %v, want 0", p10)
	}
	if p50 != 2 {
		t.Errorf("p50 = %v, want 2", p50)
	}
	// idx 4.5 between positions 2 and 4
	if math.Abs(p90-3) > 1e-12 {
		t.Errorf("p90 = %v, want 3", p90)
	}
}

func TestComputePositionStatsEmpty(t *testing.T) {
	mean, p10, p50, p90 := ComputePositionStats([]int{0, 0, 0})

	if mean != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty distribution should return all zeros")
	}
}

func TestWindowStatsLogValue(t *testing.T) {
	v := WindowStats{WindowEnd: 3.5, Population: 12, Front: 4}.LogValue()
	if v.Kind() != slog.KindGroup {
		t.Fatalf("LogValue kind = %v, want group", v.Kind())
	}
	found := false
	for _, a := range v.Group() {
		if a.Key == "population" && a.Value.Int64() == 12 {
			found = true
		}
	}
	if !found {
		t.Error("population attribute missing from log group")
	}
}
