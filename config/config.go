// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Lattice    LatticeConfig    `yaml:"lattice"`
	Kinetics   KineticsConfig   `yaml:"kinetics"`
	Founder    FounderConfig    `yaml:"founder"`
	Traits     []TraitConfig    `yaml:"traits"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Output     OutputConfig     `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// LatticeConfig holds the spatial layout of the microhabitat chain.
type LatticeConfig struct {
	Length       int      `yaml:"length"`          // Number of microhabitats L
	Capacity     int      `yaml:"capacity"`        // Nutrient capacity S per microhabitat
	Alpha        *float64 `yaml:"alpha,omitempty"` // Gradient steepness; c_i = exp(alpha*i) - 1
	GradientSpan float64  `yaml:"gradient_span"`   // Used when alpha is unset: alpha = ln(span)/length
}

// KineticsConfig holds the rejection sampling envelope.
type KineticsConfig struct {
	RMax float64 `yaml:"r_max"` // Upper bound on migration + death + replication for any bacterium
}

// FounderConfig describes the cohort seeded into microhabitat 0.
type FounderConfig struct {
	Count int   `yaml:"count"`
	Trait uint8 `yaml:"trait"`
}

// TraitConfig defines one lineage and its fixed event rates.
type TraitConfig struct {
	ID        uint8        `yaml:"id"`
	Name      string       `yaml:"name"`
	Migration float64      `yaml:"migration"` // Migration rate B
	Death     float64      `yaml:"death"`     // Death rate D
	Growth    GrowthConfig `yaml:"growth"`
}

// GrowthConfig selects and parameterizes a replication-rate model.
type GrowthConfig struct {
	Model   string  `yaml:"model"`    // constant, monod or gradient
	Rate    float64 `yaml:"rate"`     // constant: fixed replication rate
	GMax    float64 `yaml:"g_max"`    // monod, gradient: maximum replication rate
	HalfSat float64 `yaml:"half_sat"` // monod: nutrient level giving half of g_max
	MIC     float64 `yaml:"mic"`      // gradient: concentration at which growth stops
}

// ExperimentConfig holds the multi-replicate driver parameters.
type ExperimentConfig struct {
	Replicates   int     `yaml:"replicates"`
	Duration     float64 `yaml:"duration"`     // Simulated time per trajectory
	Measurements int     `yaml:"measurements"` // Number of checkpoint intervals
	Tolerance    float64 `yaml:"tolerance"`    // Window after a checkpoint accepting an on-time sample
	ResetWindow  float64 `yaml:"reset_window"` // Offset past a checkpoint after which a sample is late
	Seed         int64   `yaml:"seed"`         // 0 = time-based
	Workers      int     `yaml:"workers"`      // 0 = GOMAXPROCS
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"` // Simulated time per stats window
	BookmarkHistorySize int     `yaml:"bookmark_history_size"`
	CrashFraction       float64 `yaml:"crash_fraction"` // Drop from recent peak that counts as a crash
}

// OutputConfig holds result persistence parameters.
type OutputConfig struct {
	Dir           string `yaml:"dir"`
	Plot          bool   `yaml:"plot"`
	SnapshotEvery int    `yaml:"snapshot_every"` // Write an engine snapshot every N checkpoints (0 disables)
	Database      string `yaml:"database"`       // sqlite run index path (empty disables)
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Alpha      float64               // Effective gradient steepness
	Interval   float64               // Experiment.Duration / Experiment.Measurements
	TraitIndex map[uint8]TraitConfig // id -> trait lookup
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the embedded default configuration without derived values.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	return cfg, nil
}

// Recompute refreshes derived values after fields were changed in code.
func (c *Config) Recompute() {
	c.computeDerived()
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Alpha = 0
	switch {
	case c.Lattice.Alpha != nil:
		c.Derived.Alpha = *c.Lattice.Alpha
	case c.Lattice.GradientSpan > 0 && c.Lattice.Length > 0:
		c.Derived.Alpha = math.Log(c.Lattice.GradientSpan) / float64(c.Lattice.Length)
	}

	if c.Experiment.Measurements > 0 {
		c.Derived.Interval = c.Experiment.Duration / float64(c.Experiment.Measurements)
	}

	c.Derived.TraitIndex = make(map[uint8]TraitConfig, len(c.Traits))
	for _, t := range c.Traits {
		c.Derived.TraitIndex[t.ID] = t
	}
}

// Validate reports every structural problem in the configuration.
// Rate-envelope checks live with the growth models in package traits.
func (c *Config) Validate() error {
	var errs []error
	if c.Lattice.Length <= 0 {
		errs = append(errs, fmt.Errorf("lattice.length must be positive, got %d", c.Lattice.Length))
	}
	if c.Lattice.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("lattice.capacity must be positive, got %d", c.Lattice.Capacity))
	}
	if c.Kinetics.RMax <= 0 {
		errs = append(errs, fmt.Errorf("kinetics.r_max must be positive, got %g", c.Kinetics.RMax))
	}
	if c.Founder.Count < 0 {
		errs = append(errs, fmt.Errorf("founder.count must not be negative, got %d", c.Founder.Count))
	}
	if _, ok := c.Derived.TraitIndex[c.Founder.Trait]; !ok {
		errs = append(errs, fmt.Errorf("founder.trait %d is not defined in traits", c.Founder.Trait))
	}
	if len(c.Derived.TraitIndex) != len(c.Traits) {
		errs = append(errs, errors.New("traits contain duplicate ids"))
	}
	if c.Experiment.Replicates < 0 {
		errs = append(errs, fmt.Errorf("experiment.replicates must not be negative, got %d", c.Experiment.Replicates))
	}
	if c.Experiment.Measurements <= 0 {
		errs = append(errs, fmt.Errorf("experiment.measurements must be positive, got %d", c.Experiment.Measurements))
	}
	if c.Experiment.Duration <= 0 {
		errs = append(errs, fmt.Errorf("experiment.duration must be positive, got %g", c.Experiment.Duration))
	}
	if c.Experiment.Tolerance < 0 || c.Experiment.Tolerance >= c.Experiment.ResetWindow {
		errs = append(errs, fmt.Errorf("experiment.tolerance %g must be in [0, reset_window %g)",
			c.Experiment.Tolerance, c.Experiment.ResetWindow))
	}
	if c.Derived.Interval > 0 && c.Experiment.ResetWindow >= c.Derived.Interval {
		errs = append(errs, fmt.Errorf("experiment.reset_window %g must be shorter than the checkpoint interval %g",
			c.Experiment.ResetWindow, c.Derived.Interval))
	}
	return errors.Join(errs...)
}

// Trait returns the trait definition with the given id.
func (c *Config) Trait(id uint8) (TraitConfig, bool) {
	t, ok := c.Derived.TraitIndex[id]
	return t, ok
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
