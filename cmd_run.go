package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/engine"
	"github.com/pthm-cable/gradient/experiment"
	"github.com/pthm-cable/gradient/plot"
	"github.com/pthm-cable/gradient/storage"
	"github.com/pthm-cable/gradient/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run and average independent replicates",
		Long: `Run executes experiment.replicates independent trajectories in parallel,
samples every trajectory at measurements+1 checkpoints and averages the
samples per checkpoint.

Results go to the output directory: trajectories.csv with one row per
replicate, checkpoints.csv with the averaged profiles, config.yaml and,
unless disabled, profiles.png and growth.png.`,
		Example: `  gradient run --replicates 20 --duration 500 --output-dir out
  gradient run --config sweep.yaml --seed 42 --db runs.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig(cmd)
			if err := applyExperimentFlags(cmd, cfg); err != nil {
				return err
			}
			_, err := runExperiment(cmd.Context(), cfg, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().Int("replicates", 0, "Number of replicates (0 = use config)")
	cmd.Flags().Float64("duration", 0, "Simulated time per trajectory (0 = use config)")
	cmd.Flags().Int("measurements", 0, "Number of checkpoint intervals (0 = use config)")
	cmd.Flags().Int64("seed", 0, "Base RNG seed; replicate r uses seed+r (0 = use config)")
	cmd.Flags().Int("workers", 0, "Parallel replicates (0 = use config)")
	cmd.Flags().String("db", "", "SQLite run index (overrides config)")
	cmd.Flags().Int("snapshot-every", 0, "Snapshot each replicate every N checkpoints (0 = use config)")
	cmd.Flags().Bool("no-plot", false, "Skip PNG plots")
	return cmd
}

// applyExperimentFlags copies explicitly set flags into cfg and revalidates it.
func applyExperimentFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if v, _ := flags.GetInt("replicates"); v > 0 {
		cfg.Experiment.Replicates = v
	}
	if v, _ := flags.GetFloat64("duration"); v > 0 {
		cfg.Experiment.Duration = v
	}
	if v, _ := flags.GetInt("measurements"); v > 0 {
		cfg.Experiment.Measurements = v
	}
	if v, _ := flags.GetInt64("seed"); v != 0 {
		cfg.Experiment.Seed = v
	}
	if v, _ := flags.GetInt("workers"); v > 0 {
		cfg.Experiment.Workers = v
	}
	if flags.Changed("db") {
		cfg.Output.Database, _ = flags.GetString("db")
	}
	if v, _ := flags.GetInt("snapshot-every"); v > 0 {
		cfg.Output.SnapshotEvery = v
	}
	if noPlot, _ := flags.GetBool("no-plot"); noPlot {
		cfg.Output.Plot = false
	}

	cfg.Recompute()
	return cfg.Validate()
}

// runExperiment runs every replicate, writes the outputs enabled in cfg and
// prints a summary to w.
func runExperiment(ctx context.Context, cfg *config.Config, w io.Writer) (*experiment.Result, error) {
	om, err := telemetry.NewOutputManager(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	defer om.Close()

	if err := om.WriteConfig(cfg); err != nil {
		return nil, err
	}

	var sinkErr error
	sink := func(tr experiment.Trajectory) {
		if err := om.WriteTrajectory(telemetry.NewTrajectoryRecord(tr.RunID, tr)); err != nil && sinkErr == nil {
			sinkErr = err
		}
	}

	var hooksFor experiment.HooksFunc
	if om != nil && cfg.Output.SnapshotEvery > 0 {
		snapshotDir := filepath.Join(om.Dir(), "snapshots")
		hooksFor = func(runID string, replicate int, seed int64, eng *engine.Engine) experiment.Hooks {
			mon := telemetry.NewMonitor(eng, telemetry.MonitorOptions{
				RunID:         runID,
				Replicate:     replicate,
				Seed:          seed,
				Window:        cfg.Telemetry.StatsWindow,
				HistorySize:   cfg.Telemetry.BookmarkHistorySize,
				CrashFraction: cfg.Telemetry.CrashFraction,
				SnapshotDir:   snapshotDir,
				SnapshotEvery: cfg.Output.SnapshotEvery,
				Logger:        slog.Default().With("run", runID, "replicate", replicate),
			})
			return mon.Hooks()
		}
	}

	p := experiment.ParamsFromConfig(cfg)
	res, err := experiment.RunWithHooks(ctx, cfg, p, sink, hooksFor)
	if err != nil {
		return nil, err
	}
	if sinkErr != nil {
		return nil, sinkErr
	}

	profiles, err := experiment.Average(res.Trajectories)
	if err != nil {
		return nil, err
	}
	if err := om.WriteProfiles(profiles); err != nil {
		return nil, err
	}

	if om != nil && cfg.Output.Plot {
		if err := writePlot(om, "profiles.png", plot.RenderProfiles, profiles); err != nil {
			return nil, err
		}
		if err := writePlot(om, "growth.png", plot.RenderGrowth, profiles); err != nil {
			return nil, err
		}
	}

	if cfg.Output.Database != "" {
		if err := recordRun(ctx, cfg, res, profiles, om.Dir()); err != nil {
			return nil, err
		}
	}

	printSummary(w, res, profiles)
	return res, nil
}

func writePlot(om *telemetry.OutputManager, name string, render func(io.Writer, []experiment.Profile) error, profiles []experiment.Profile) (err error) {
	f, err := om.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return render(f, profiles)
}

func recordRun(ctx context.Context, cfg *config.Config, res *experiment.Result, profiles []experiment.Profile, outputDir string) error {
	store, err := storage.OpenSQLite(cfg.Output.Database)
	if err != nil {
		return fmt.Errorf("opening run index: %w", err)
	}
	defer store.Close()

	rec, err := storage.NewRunRecord(res, cfg, outputDir)
	if err != nil {
		return err
	}
	if err := store.RecordRun(ctx, rec); err != nil {
		return err
	}
	if err := store.RecordTrajectories(ctx, res.ID, res.Trajectories); err != nil {
		return err
	}
	return store.RecordCheckpoints(ctx, res.ID, profiles)
}

func printSummary(w io.Writer, res *experiment.Result, profiles []experiment.Profile) {
	var steps int64
	extinct := 0
	for _, tr := range res.Trajectories {
		steps += tr.Steps
		if tr.Extinct {
			extinct++
		}
	}
	last := profiles[len(profiles)-1]

	fmt.Fprintf(w, "run %s\n", res.ID)
	fmt.Fprintf(w, "  replicates:  %d (%d extinct), seed %d\n", len(res.Trajectories), extinct, res.Params.Seed)
	fmt.Fprintf(w, "  steps:       %s in %s\n", humanize.Comma(steps), res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  final time:  %g\n", last.Target)
	fmt.Fprintf(w, "  population:  %.1f ± %.1f\n", last.TotalMean, last.TotalStd)
	if last.FrontMean >= 0 {
		fmt.Fprintf(w, "  front:       %.1f ± %.1f\n", last.FrontMean, last.FrontStd)
	} else {
		fmt.Fprintf(w, "  front:       none (all extinct)\n")
	}
}
