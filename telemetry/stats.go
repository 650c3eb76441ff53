package telemetry

import "log/slog"

// WindowStats holds aggregated statistics for a simulated-time window.
type WindowStats struct {
	WindowStart float64 `csv:"-"`
	WindowEnd   float64 `csv:"sim_time"`
	Steps       int64   `csv:"steps"`

	// Population at window end
	Population    int `csv:"population"`
	OccupiedSites int `csv:"occupied_sites"`
	Front         int `csv:"front"`

	// Outcomes during window
	Births              int     `csv:"births"`
	Deaths              int     `csv:"deaths"`
	Migrations          int     `csv:"migrations"`
	BlockedMigrations   int     `csv:"blocked_migrations"`
	StarvedReplications int     `csv:"starved_replications"`
	Nulls               int     `csv:"nulls"`
	AcceptanceRate      float64 `csv:"acceptance_rate"` // applied events / attempts

	// Position distribution (sampled at window end)
	PositionMean float64 `csv:"position_mean"`
	PositionP10  float64 `csv:"position_p10"`
	PositionP50  float64 `csv:"position_p50"`
	PositionP90  float64 `csv:"position_p90"`

	// Nutrients remaining over the whole lattice
	NutrientFraction float64 `csv:"nutrient_fraction"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputePositionStats expands a per-site distribution into one position per
// bacterium and returns the mean and percentiles.
func ComputePositionStats(distribution []int) (mean, p10, p50, p90 float64) {
	var n int
	for _, c := range distribution {
		n += c
	}
	if n == 0 {
		return 0, 0, 0, 0
	}

	positions := make([]float64, 0, n)
	var sum float64
	for site, c := range distribution {
		for j := 0; j < c; j++ {
			positions = append(positions, float64(site))
		}
		sum += float64(site * c)
	}
	mean = sum / float64(n)

	// Sites are visited in order, so positions is already sorted
	p10 = Percentile(positions, 0.10)
	p50 = Percentile(positions, 0.50)
	p90 = Percentile(positions, 0.90)

	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("window_start", s.WindowStart),
		slog.Float64("sim_time", s.WindowEnd),
		slog.Int64("steps", s.Steps),
		slog.Int("population", s.Population),
		slog.Int("occupied_sites", s.OccupiedSites),
		slog.Int("front", s.Front),
		slog.Int("births", s.Births),
		slog.Int("deaths", s.Deaths),
		slog.Int("migrations", s.Migrations),
		slog.Int("blocked_migrations", s.BlockedMigrations),
		slog.Int("starved_replications", s.StarvedReplications),
		slog.Int("nulls", s.Nulls),
		slog.Float64("acceptance_rate", s.AcceptanceRate),
		slog.Float64("position_mean", s.PositionMean),
		slog.Float64("position_p10", s.PositionP10),
		slog.Float64("position_p50", s.PositionP50),
		slog.Float64("position_p90", s.PositionP90),
		slog.Float64("nutrient_fraction", s.NutrientFraction),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
