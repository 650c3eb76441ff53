package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/experiment"
)

// TrajectoryRecord summarizes one replicate in trajectories.csv.
type TrajectoryRecord struct {
	RunID           string  `csv:"run_id"`
	Replicate       int     `csv:"replicate"`
	Seed            int64   `csv:"seed"`
	FinalTime       float64 `csv:"final_time"`
	Steps           int64   `csv:"steps"`
	Extinct         bool    `csv:"extinct"`
	ExtinctionTime  float64 `csv:"extinction_time"`
	FinalPopulation int     `csv:"final_population"`
	FinalFront      int     `csv:"final_front"`
	LateCheckpoints int     `csv:"late_checkpoints"`
}

// NewTrajectoryRecord flattens a trajectory for CSV export.
func NewTrajectoryRecord(runID string, tr experiment.Trajectory) TrajectoryRecord {
	rec := TrajectoryRecord{
		RunID:          runID,
		Replicate:      tr.Replicate,
		Seed:           tr.Seed,
		FinalTime:      tr.FinalTime,
		Steps:          tr.Steps,
		Extinct:        tr.Extinct,
		ExtinctionTime: tr.ExtinctionTime,
		FinalFront:     -1,
	}
	for i, site := range tr.Final.Sites {
		if n := len(site.Traits); n > 0 {
			rec.FinalPopulation += n
			rec.FinalFront = i
		}
	}
	for _, cp := range tr.Checkpoints {
		if cp.Late() {
			rec.LateCheckpoints++
		}
	}
	return rec
}

// ProfileRecord is one site of one averaged checkpoint in checkpoints.csv.
type ProfileRecord struct {
	Checkpoint     int     `csv:"checkpoint"`
	Target         float64 `csv:"time"`
	Site           int     `csv:"site"`
	PopulationMean float64 `csv:"population_mean"`
	PopulationStd  float64 `csv:"population_std"`
	GrowthMean     float64 `csv:"growth_mean"`
	GrowthStd      float64 `csv:"growth_std"`
	NutrientMean   float64 `csv:"nutrient_mean"`
}

// NewProfileRecords expands averaged profiles into one row per checkpoint and site.
func NewProfileRecords(profiles []experiment.Profile) []ProfileRecord {
	var out []ProfileRecord
	for _, pr := range profiles {
		for i := range pr.PopulationMean {
			out = append(out, ProfileRecord{
				Checkpoint:     pr.Index,
				Target:         pr.Target,
				Site:           i,
				PopulationMean: pr.PopulationMean[i],
				PopulationStd:  pr.PopulationStd[i],
				GrowthMean:     pr.GrowthMean[i],
				GrowthStd:      pr.GrowthStd[i],
				NutrientMean:   pr.NutrientMean[i],
			})
		}
	}
	return out
}

// csvFile is an output CSV whose header is written with the first record.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles structured experiment output with CSV logging.
type OutputManager struct {
	dir          string
	telemetry    *csvFile
	perf         *csvFile
	bookmarks    *csvFile
	trajectories *csvFile
	checkpoints  *csvFile
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	files := []struct {
		name string
		dst  **csvFile
	}{
		{"telemetry.csv", &om.telemetry},
		{"perf.csv", &om.perf},
		{"bookmarks.csv", &om.bookmarks},
		{"trajectories.csv", &om.trajectories},
		{"checkpoints.csv", &om.checkpoints},
	}
	for _, file := range files {
		f, err := os.Create(filepath.Join(dir, file.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", file.name, err)
		}
		*file.dst = &csvFile{f: f}
	}

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTelemetry writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := om.telemetry.write([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, simTime float64) error {
	if om == nil {
		return nil
	}
	if err := om.perf.write([]PerfStatsCSV{stats.ToCSV(simTime)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := om.bookmarks.write([]Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// WriteTrajectory appends one replicate summary to trajectories.csv.
func (om *OutputManager) WriteTrajectory(rec TrajectoryRecord) error {
	if om == nil {
		return nil
	}
	if err := om.trajectories.write([]TrajectoryRecord{rec}); err != nil {
		return fmt.Errorf("writing trajectory: %w", err)
	}
	return nil
}

// WriteProfiles writes averaged checkpoint profiles to checkpoints.csv.
func (om *OutputManager) WriteProfiles(profiles []experiment.Profile) error {
	if om == nil || len(profiles) == 0 {
		return nil
	}
	if err := om.checkpoints.write(NewProfileRecords(profiles)); err != nil {
		return fmt.Errorf("writing checkpoints: %w", err)
	}
	return nil
}

// Create opens a new file inside the output directory, e.g. for plots.
func (om *OutputManager) Create(name string) (io.WriteCloser, error) {
	if om == nil {
		return nil, fmt.Errorf("output disabled")
	}
	return os.Create(filepath.Join(om.dir, name))
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.telemetry, om.perf, om.bookmarks, om.trajectories, om.checkpoints} {
		if c == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
