package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one stats window of a trajectory.
const (
	PhaseStep      = "step"
	PhaseTelemetry = "telemetry"
	PhaseSnapshot  = "snapshot"
	PhaseOutput    = "output"
)

var phases = []string{PhaseStep, PhaseTelemetry, PhaseSnapshot, PhaseOutput}

// PerfSample holds timing data for a single batch of steps.
type PerfSample struct {
	Duration time.Duration
	Steps    int64
	Phases   map[string]time.Duration
}

// PerfCollector tracks wall-clock performance over a rolling window of batches.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	batchStart    time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a new performance collector.
// windowSize: number of batches to average over.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 10
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartBatch begins timing a new batch of steps.
func (p *PerfCollector) StartBatch() {
	p.batchStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase, ending the previous one.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndBatch finishes timing the current batch of steps and records the sample.
func (p *PerfCollector) EndBatch(steps int64) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		Duration: now.Sub(p.batchStart),
		Steps:    steps,
		Phases:   p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgBatchDuration time.Duration
	MinBatchDuration time.Duration
	MaxBatchDuration time.Duration

	// Phase breakdown (average durations and share of batch time)
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	StepsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var total, minDur, maxDur time.Duration
	var steps int64
	phaseSum := make(map[string]time.Duration)

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.Duration
		steps += s.Steps

		if i == 0 || s.Duration < minDur {
			minDur = s.Duration
		}
		if s.Duration > maxDur {
			maxDur = s.Duration
		}
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avg := total / time.Duration(p.sampleCount)

	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avg > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avg) * 100
		}
	}

	var stepsPerSec float64
	if total > 0 {
		stepsPerSec = float64(steps) / total.Seconds()
	}

	return PerfStats{
		AvgBatchDuration: avg,
		MinBatchDuration: minDur,
		MaxBatchDuration: maxDur,
		PhaseAvg:         phaseAvg,
		PhasePct:         phasePct,
		StepsPerSecond:   stepsPerSec,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_batch_us", s.AvgBatchDuration.Microseconds()),
		slog.Int64("min_batch_us", s.MinBatchDuration.Microseconds()),
		slog.Int64("max_batch_us", s.MaxBatchDuration.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	SimTime      float64 `csv:"sim_time"`
	AvgBatchUS   int64   `csv:"avg_batch_us"`
	MinBatchUS   int64   `csv:"min_batch_us"`
	MaxBatchUS   int64   `csv:"max_batch_us"`
	StepsPerSec  float64 `csv:"steps_per_sec"`
	StepPct      float64 `csv:"step_pct"`
	TelemetryPct float64 `csv:"telemetry_pct"`
	SnapshotPct  float64 `csv:"snapshot_pct"`
	OutputPct    float64 `csv:"output_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(simTime float64) PerfStatsCSV {
	return PerfStatsCSV{
		SimTime:      simTime,
		AvgBatchUS:   s.AvgBatchDuration.Microseconds(),
		MinBatchUS:   s.MinBatchDuration.Microseconds(),
		MaxBatchUS:   s.MaxBatchDuration.Microseconds(),
		StepsPerSec:  s.StepsPerSecond,
		StepPct:      s.PhasePct[PhaseStep],
		TelemetryPct: s.PhasePct[PhaseTelemetry],
		SnapshotPct:  s.PhasePct[PhaseSnapshot],
		OutputPct:    s.PhasePct[PhaseOutput],
	}
}
