package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/engine"
	"github.com/pthm-cable/gradient/experiment"
	"github.com/pthm-cable/gradient/telemetry"
)

type stepOptions struct {
	seed        int64
	logStats    bool
	statsWindow float64
	snapshotDir string
	resume      string
}

func newStepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run one trajectory with window telemetry",
		Long: `Step runs a single trajectory and reports it window by window:
telemetry.csv and perf.csv get one row per stats window, bookmarks.csv one
row per detected event (front milestones, stalls, crashes, extinction).

Snapshots are written on every bookmark and every output.snapshot_every
checkpoints when --snapshot-dir is set. --resume continues from a snapshot
with a fresh checkpoint schedule.`,
		Example: `  gradient step --log-stats --stats-window 5
  gradient step --snapshot-dir snaps --output-dir out
  gradient step --resume snaps/snapshot_r000_c004_front_half.zst`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig(cmd)
			if err := applyExperimentFlags(cmd, cfg); err != nil {
				return err
			}
			var opts stepOptions
			opts.seed = cfg.Experiment.Seed
			opts.logStats, _ = cmd.Flags().GetBool("log-stats")
			opts.statsWindow, _ = cmd.Flags().GetFloat64("stats-window")
			opts.snapshotDir, _ = cmd.Flags().GetString("snapshot-dir")
			opts.resume, _ = cmd.Flags().GetString("resume")
			_, err := runStep(cmd.Context(), cfg, opts, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().Float64("duration", 0, "Simulated time (0 = use config)")
	cmd.Flags().Int("measurements", 0, "Number of checkpoint intervals (0 = use config)")
	cmd.Flags().Int64("seed", 0, "RNG seed (0 = use config)")
	cmd.Flags().Bool("log-stats", false, "Output window stats via slog")
	cmd.Flags().Float64("stats-window", 0, "Stats window in simulated time (0 = use config)")
	cmd.Flags().String("snapshot-dir", "", "Directory for snapshot files")
	cmd.Flags().Int("snapshot-every", 0, "Snapshot every N checkpoints (0 = use config)")
	cmd.Flags().String("resume", "", "Continue from a snapshot file")
	return cmd
}

// runStep runs one monitored trajectory.
func runStep(ctx context.Context, cfg *config.Config, opts stepOptions, w io.Writer) (experiment.Trajectory, error) {
	om, err := telemetry.NewOutputManager(cfg.Output.Dir)
	if err != nil {
		return experiment.Trajectory{}, err
	}
	defer om.Close()

	if err := om.WriteConfig(cfg); err != nil {
		return experiment.Trajectory{}, err
	}

	engOpts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return experiment.Trajectory{}, err
	}

	runID := uuid.NewString()
	replicate := 0
	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var eng *engine.Engine
	if opts.resume != "" {
		snap, err := telemetry.LoadSnapshot(opts.resume)
		if err != nil {
			return experiment.Trajectory{}, err
		}
		if snap.Header.RunID != "" {
			runID = snap.Header.RunID
		}
		replicate = snap.Header.Replicate
		eng, err = engine.Restore(snap.State, engOpts, rand.New(rand.NewSource(seed)))
		if err != nil {
			return experiment.Trajectory{}, fmt.Errorf("restoring %s: %w", opts.resume, err)
		}
		slog.Info("resumed from snapshot",
			"path", opts.resume,
			"sim_time", snap.Header.Time,
			"population", eng.TotalPopulation(),
		)
	} else {
		eng, err = engine.New(engOpts, rand.New(rand.NewSource(seed)))
		if err != nil {
			return experiment.Trajectory{}, err
		}
	}

	window := cfg.Telemetry.StatsWindow
	if opts.statsWindow > 0 {
		window = opts.statsWindow
	}

	logger := slog.Default().With("run", runID, "replicate", replicate)
	mon := telemetry.NewMonitor(eng, telemetry.MonitorOptions{
		RunID:         runID,
		Replicate:     replicate,
		Seed:          seed,
		Window:        window,
		HistorySize:   cfg.Telemetry.BookmarkHistorySize,
		CrashFraction: cfg.Telemetry.CrashFraction,
		LogStats:      opts.logStats,
		SnapshotDir:   opts.snapshotDir,
		SnapshotEvery: cfg.Output.SnapshotEvery,
		Output:        om,
		Logger:        logger,
	})

	p := experiment.ParamsFromConfig(cfg)
	p.Replicates = 1

	logger.Info("starting trajectory",
		"seed", seed,
		"duration", p.Duration,
		"stats_window", window,
	)
	start := time.Now()
	tr, err := experiment.RunTrajectory(ctx, eng, p, mon.Hooks())
	mon.Finish()
	if err != nil {
		return tr, err
	}
	if err := mon.Err(); err != nil {
		return tr, err
	}
	tr.RunID = runID
	tr.Replicate = replicate
	tr.Seed = seed

	rec := telemetry.NewTrajectoryRecord(runID, tr)
	if err := om.WriteTrajectory(rec); err != nil {
		return tr, err
	}

	fmt.Fprintf(w, "trajectory %s (seed %d)\n", runID, seed)
	fmt.Fprintf(w, "  steps:       %s in %s\n", humanize.Comma(tr.Steps), time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(w, "  sim time:    %g (r_max %g)\n", tr.FinalTime, eng.RMax())
	fmt.Fprintf(w, "  population:  %s\n", humanize.Comma(int64(rec.FinalPopulation)))
	fmt.Fprintf(w, "  front:       %d of %d\n", rec.FinalFront, eng.Length()-1)
	fmt.Fprintf(w, "  windows:     %d, bookmarks: %d\n", mon.Windows(), len(mon.Bookmarks()))
	if tr.Extinct {
		fmt.Fprintf(w, "  extinct at:  %g\n", tr.ExtinctionTime)
	}
	return tr, nil
}
