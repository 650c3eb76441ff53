// Package storage keeps an index of experiment runs in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/pthm-cable/gradient/config"
	"github.com/pthm-cable/gradient/experiment"
)

// SQLiteStore records runs, per-replicate summaries and averaged checkpoints.
type SQLiteStore struct {
	db *sql.DB
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID           string
	Started      time.Time
	Elapsed      time.Duration
	Replicates   int
	Duration     float64
	Measurements int
	Seed         int64
	Length       int
	Capacity     int
	Alpha        float64
	RMax         float64
	OutputDir    string
	ConfigYAML   string
}

// NewRunRecord describes a finished experiment.
func NewRunRecord(res *experiment.Result, cfg *config.Config, outputDir string) (RunRecord, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshaling config: %w", err)
	}
	return RunRecord{
		ID:           res.ID,
		Started:      res.Started,
		Elapsed:      res.Elapsed,
		Replicates:   res.Params.Replicates,
		Duration:     res.Params.Duration,
		Measurements: res.Params.Measurements,
		Seed:         res.Params.Seed,
		Length:       cfg.Lattice.Length,
		Capacity:     cfg.Lattice.Capacity,
		Alpha:        cfg.Derived.Alpha,
		RMax:         cfg.Kinetics.RMax,
		OutputDir:    outputDir,
		ConfigYAML:   string(raw),
	}, nil
}

// OpenSQLite opens or creates the run index at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			replicates INTEGER NOT NULL,
			duration REAL NOT NULL,
			measurements INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			length INTEGER NOT NULL,
			capacity INTEGER NOT NULL,
			alpha REAL NOT NULL,
			r_max REAL NOT NULL,
			output_dir TEXT NOT NULL,
			config TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trajectories (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			replicate INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			final_time REAL NOT NULL,
			steps INTEGER NOT NULL,
			extinct INTEGER NOT NULL,
			extinction_time REAL NOT NULL,
			PRIMARY KEY (run_id, replicate)
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			checkpoint INTEGER NOT NULL,
			time REAL NOT NULL,
			population_mean REAL NOT NULL,
			population_std REAL NOT NULL,
			front_mean REAL NOT NULL,
			front_std REAL NOT NULL,
			extinct INTEGER NOT NULL,
			late INTEGER NOT NULL,
			PRIMARY KEY (run_id, checkpoint)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun inserts or replaces a run row.
func (s *SQLiteStore) RecordRun(ctx context.Context, r RunRecord) error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("run id %q: %w", r.ID, err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, started, elapsed_ms, replicates, duration, measurements, seed, length, capacity, alpha, r_max, output_dir, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Started.UTC().Format(time.RFC3339Nano), r.Elapsed.Milliseconds(),
		r.Replicates, r.Duration, r.Measurements, r.Seed,
		r.Length, r.Capacity, r.Alpha, r.RMax, r.OutputDir, r.ConfigYAML,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// RecordTrajectories stores one summary row per replicate in a single transaction.
func (s *SQLiteStore) RecordTrajectories(ctx context.Context, runID string, trs []experiment.Trajectory) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO trajectories
			(run_id, replicate, seed, final_time, steps, extinct, extinction_time)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, tr := range trs {
			if _, err := stmt.ExecContext(ctx, runID, tr.Replicate, tr.Seed, tr.FinalTime, tr.Steps,
				boolInt(tr.Extinct), tr.ExtinctionTime); err != nil {
				return fmt.Errorf("replicate %d: %w", tr.Replicate, err)
			}
		}
		return nil
	})
}

// RecordCheckpoints stores the lattice-wide totals of averaged checkpoints.
func (s *SQLiteStore) RecordCheckpoints(ctx context.Context, runID string, profiles []experiment.Profile) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO checkpoints
			(run_id, checkpoint, time, population_mean, population_std, front_mean, front_std, extinct, late)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range profiles {
			if _, err := stmt.ExecContext(ctx, runID, p.Index, p.Target, p.TotalMean, p.TotalStd,
				p.FrontMean, p.FrontStd, p.Extinct, p.Late); err != nil {
				return fmt.Errorf("checkpoint %d: %w", p.Index, err)
			}
		}
		return nil
	})
}

// Runs lists recorded runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, started, elapsed_ms, replicates, duration, measurements,
		seed, length, capacity, alpha, r_max, output_dir, config FROM runs ORDER BY started DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r         RunRecord
			started   string
			elapsedMS int64
		)
		if err := rows.Scan(&r.ID, &started, &elapsedMS, &r.Replicates, &r.Duration, &r.Measurements,
			&r.Seed, &r.Length, &r.Capacity, &r.Alpha, &r.RMax, &r.OutputDir, &r.ConfigYAML); err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad start time: %w", r.ID, err)
		}
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// FrontHistory returns the mean front at each recorded checkpoint of a run.
func (s *SQLiteStore) FrontHistory(ctx context.Context, runID string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT front_mean FROM checkpoints WHERE run_id = ? ORDER BY checkpoint`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var f float64
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
