package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartBatch()
		pc.StartPhase(PhaseStep)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseTelemetry)
		time.Sleep(200 * time.Microsecond)
		pc.EndBatch(1000)
	}

	stats := pc.Stats()

	if stats.AvgBatchDuration <= 0 {
		t.Error("expected positive average batch duration")
	}
	if _, ok := stats.PhaseAvg[PhaseStep]; !ok {
		t.Error("expected step phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseTelemetry]; !ok {
		t.Error("expected telemetry phase to be tracked")
	}
	if stats.StepsPerSecond <= 0 {
		t.Error("expected positive steps per second")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)

	for i := 0; i < 10; i++ {
		pc.StartBatch()
		pc.StartPhase(PhaseStep)
		time.Sleep(10 * time.Microsecond)
		pc.EndBatch(10)
	}

	stats := pc.Stats()
	if stats.AvgBatchDuration <= 0 {
		t.Error("expected positive average batch duration after window filled")
	}
	if pc.sampleCount != 5 {
		t.Errorf("sampleCount = %d, want window size 5", pc.sampleCount)
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartBatch()
		pc.StartPhase(PhaseOutput)
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase(PhaseStep)
		time.Sleep(2 * time.Millisecond)
		pc.EndBatch(100)
	}

	stats := pc.Stats()
	if stats.PhasePct[PhaseStep] <= stats.PhasePct[PhaseOutput] {
		t.Errorf("expected step phase (%v%%) > output phase (%v%%)",
			stats.PhasePct[PhaseStep], stats.PhasePct[PhaseOutput])
	}

	row := stats.ToCSV(12.5)
	if row.SimTime != 12.5 || row.StepPct != stats.PhasePct[PhaseStep] {
		t.Errorf("ToCSV = %+v", row)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	stats := NewPerfCollector(10).Stats()

	if stats.AvgBatchDuration != 0 {
		t.Error("expected zero avg batch duration for empty collector")
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("expected non-nil phase maps")
	}
}
