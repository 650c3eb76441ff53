package telemetry

import (
	"log/slog"

	"github.com/pthm-cable/gradient/engine"
	"github.com/pthm-cable/gradient/experiment"
)

// MonitorOptions configures window telemetry for a single trajectory.
type MonitorOptions struct {
	RunID     string
	Replicate int
	Seed      int64

	Window        float64 // simulated time per stats window
	HistorySize   int
	CrashFraction float64

	LogStats      bool
	SnapshotDir   string // empty disables snapshots
	SnapshotEvery int    // checkpoints between snapshots, 0 = bookmarks only

	Output *OutputManager
	Logger *slog.Logger
}

// Monitor turns the step stream of one engine into window stats, bookmarks,
// perf samples and snapshots.
type Monitor struct {
	eng       *engine.Engine
	opts      MonitorOptions
	logger    *slog.Logger
	collector *Collector
	perf      *PerfCollector
	detector  *BookmarkDetector

	bookmarks []Bookmark
	windows   int
	err       error
}

// NewMonitor creates a monitor for eng.
func NewMonitor(eng *engine.Engine, opts MonitorOptions) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		eng:       eng,
		opts:      opts,
		logger:    logger,
		collector: NewCollector(opts.Window),
		perf:      NewPerfCollector(10),
		detector:  NewBookmarkDetector(opts.HistorySize, eng.Length(), opts.CrashFraction),
	}
	// Restored engines start their first window at the snapshot time
	m.collector.windowStart = eng.TimeElapsed()
	m.collector.stepsAtStart = eng.Steps()

	m.perf.StartBatch()
	m.perf.StartPhase(PhaseStep)
	logger.Debug("monitor started",
		"window", m.collector.Window(),
		"sim_time", eng.TimeElapsed(),
		"snapshot_every", opts.SnapshotEvery,
	)
	return m
}

// Hooks returns trajectory hooks that feed this monitor. The first output
// error stops the trajectory, and the last window is flushed when it ends.
func (m *Monitor) Hooks() experiment.Hooks {
	return experiment.Hooks{
		OnStep:       m.onStep,
		OnCheckpoint: m.onCheckpoint,
		Err:          m.Err,
		OnFinish: func() error {
			m.Finish()
			return m.Err()
		},
	}
}

func (m *Monitor) onStep(eng *engine.Engine, out engine.Outcome) {
	m.collector.Record(out)
	if m.collector.ShouldFlush(eng.TimeElapsed()) || eng.IsExtinct() {
		m.flush()
	}
}

func (m *Monitor) onCheckpoint(cp experiment.Checkpoint) {
	if m.opts.SnapshotEvery <= 0 || cp.Index%m.opts.SnapshotEvery != 0 {
		return
	}
	m.perf.StartPhase(PhaseSnapshot)
	m.saveSnapshot(cp.Index, nil)
	m.perf.StartPhase(PhaseStep)
}

// flush closes the stats window, handles bookmarks and records the batch timing.
func (m *Monitor) flush() {
	m.perf.StartPhase(PhaseTelemetry)
	stats := m.collector.Flush(m.eng)
	bookmarks := m.detector.Check(stats)
	m.windows++

	m.perf.StartPhase(PhaseOutput)
	if err := m.opts.Output.WriteTelemetry(stats); err != nil {
		m.fail("failed to write telemetry", err)
	}
	for _, bm := range bookmarks {
		m.bookmarks = append(m.bookmarks, bm)
		if m.opts.LogStats {
			bm.LogBookmark()
		}
		if err := m.opts.Output.WriteBookmark(bm); err != nil {
			m.fail("failed to write bookmark", err)
		}
	}
	if len(bookmarks) > 0 && m.opts.SnapshotDir != "" {
		m.perf.StartPhase(PhaseSnapshot)
		for i := range bookmarks {
			m.saveSnapshot(-1, &bookmarks[i])
		}
	}

	m.perf.EndBatch(stats.Steps)
	perfStats := m.perf.Stats()
	if m.opts.LogStats {
		m.logger.Info("stats", "window", stats, "perf", perfStats)
	}
	if err := m.opts.Output.WritePerf(perfStats, stats.WindowEnd); err != nil {
		m.fail("failed to write perf", err)
	}

	m.perf.StartBatch()
	m.perf.StartPhase(PhaseStep)
}

// Finish flushes a partially filled window.
func (m *Monitor) Finish() {
	if m.eng.TimeElapsed() > m.collector.windowStart {
		m.flush()
	}
}

func (m *Monitor) saveSnapshot(checkpoint int, bm *Bookmark) {
	if m.opts.SnapshotDir == "" {
		return
	}
	snapshot := NewSnapshot(m.eng, m.opts.RunID, m.opts.Replicate, checkpoint, m.opts.Seed)
	snapshot.Bookmark = bm
	if checkpoint < 0 {
		// Bookmark snapshots are keyed by window
		snapshot.Header.Checkpoint = m.windows
	}

	path, err := SaveSnapshot(snapshot, m.opts.SnapshotDir)
	if err != nil {
		m.fail("failed to save snapshot", err)
		return
	}
	m.logger.Info("snapshot saved", "path", path, "sim_time", m.eng.TimeElapsed())
}

func (m *Monitor) fail(msg string, err error) {
	m.logger.Error(msg, "error", err)
	if m.err == nil {
		m.err = err
	}
}

// Bookmarks returns every bookmark triggered so far.
func (m *Monitor) Bookmarks() []Bookmark { return m.bookmarks }

// Windows returns the number of flushed windows.
func (m *Monitor) Windows() int { return m.windows }

// Err returns the first output error, if any.
func (m *Monitor) Err() error { return m.err }
