package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/gradient/config"
)

var version = "0.1.0-dev"

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gradient",
		Short: "Bacterial range expansion on a nutrient gradient",
		Long: `gradient simulates a bacterial population spreading along a 1-D lattice
whose nutrient capacity falls off exponentially, using rejection kinetic
Monte Carlo. Replicates run in parallel and are averaged at fixed checkpoints.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			if err := setupLogging(level); err != nil {
				return err
			}
			configPath, _ := cmd.Flags().GetString("config")
			return config.Init(configPath)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (empty = use defaults)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("output-dir", "", "Output directory for CSV logs, plots and config snapshot (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newStepCmd(),
		newConfigCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gradient version %s\n", version)
		},
	}
}

// setupLogging installs a JSON slog handler on stdout as the default logger.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return nil
}

// loadedConfig returns the global config with command-wide overrides applied.
func loadedConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Cfg()
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir, _ = cmd.Flags().GetString("output-dir")
	}
	return cfg
}

// signalContext is cancelled on the first interrupt so running replicates
// stop at their next context check.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	notifySignals(ch)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			slog.Warn("interrupted, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
