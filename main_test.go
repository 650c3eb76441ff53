package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootSubcommands(t *testing.T) {
	cmd := newRootCmd()
	want := map[string]bool{"version": false, "run": false, "step": false, "config": false, "runs": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Use]; ok {
			want[sub.Use] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("output %q does not contain version %s", out, version)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"version", "--log-level", "loud"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestConfigCmd(t *testing.T) {
	out, err := execute(t, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	for _, want := range []string{"# derived alpha:", "lattice:", "r_max: 1.2"} {
		if !strings.Contains(out, want) {
			t.Errorf("config output missing %q", want)
		}
	}

	path := filepath.Join(t.TempDir(), "effective.yaml")
	if _, err := execute(t, "config", "--write", path); err != nil {
		t.Fatalf("config --write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}

func TestRunCmdWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")

	out, err := execute(t, "run",
		"--output-dir", dir,
		"--replicates", "2",
		"--duration", "2",
		"--measurements", "2",
		"--seed", "7",
		"--db", db,
		"--snapshot-every", "1",
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "replicates:  2") {
		t.Errorf("summary missing replicate count:\n%s", out)
	}

	for _, name := range []string{"config.yaml", "trajectories.csv", "checkpoints.csv", "profiles.png", "growth.png", "runs.db"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	snaps, err := filepath.Glob(filepath.Join(dir, "snapshots", "snapshot_r00*_c00*.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) < 2 {
		t.Errorf("expected checkpoint snapshots for both replicates, got %v", snaps)
	}

	listing, err := execute(t, "runs", "--db", db)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(listing, "REPLICATES") || strings.Contains(listing, "No runs recorded") {
		t.Errorf("unexpected runs listing:\n%s", listing)
	}
}

func TestRunCmdFailsWhenSnapshotsCannotBeWritten(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "snapshots"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "run",
		"--output-dir", dir,
		"--replicates", "2",
		"--duration", "2",
		"--measurements", "2",
		"--seed", "7",
		"--snapshot-every", "1",
		"--no-plot",
	)
	if err == nil || !strings.Contains(err.Error(), "snapshot") {
		t.Fatalf("error = %v, want snapshot failure", err)
	}
}

func TestRunCmdRejectsInvalidSampling(t *testing.T) {
	// Checkpoint interval 0.05/20 is shorter than the default reset window
	_, err := execute(t, "run", "--duration", "0.05", "--replicates", "1")
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestRunsCmdRequiresDatabase(t *testing.T) {
	if _, err := execute(t, "runs"); err == nil {
		t.Error("expected error without a run index")
	}
}

func TestStepCmdAndResume(t *testing.T) {
	dir := t.TempDir()
	snapDir := filepath.Join(dir, "snaps")

	out, err := execute(t, "step",
		"--output-dir", dir,
		"--duration", "2",
		"--measurements", "2",
		"--seed", "11",
		"--stats-window", "0.5",
		"--snapshot-dir", snapDir,
		"--snapshot-every", "1",
	)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !strings.Contains(out, "windows:") {
		t.Errorf("summary missing window count:\n%s", out)
	}
	if !strings.Contains(out, "(r_max 1.2)") {
		t.Errorf("summary missing rejection envelope:\n%s", out)
	}
	for _, name := range []string{"telemetry.csv", "perf.csv", "trajectories.csv"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("missing output %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}

	snap := filepath.Join(snapDir, "snapshot_r000_c001.zst")
	if _, err := os.Stat(snap); err != nil {
		t.Fatalf("checkpoint snapshot not written: %v", err)
	}

	out, err = execute(t, "step",
		"--duration", "1",
		"--measurements", "1",
		"--seed", "12",
		"--resume", snap,
	)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !strings.Contains(out, "sim time:") {
		t.Errorf("unexpected resume output:\n%s", out)
	}
}
