// Package config is the process-wide, read-mostly configuration store
// (spec §6, §9 "Global configuration") — per-axis jerk, junction
// deviation, velocity ceilings, and the global tunables for the
// trapezoid generator and executor timing.
//
// Persistence follows the teacher's ui/storage/config.go shape
// (LoadConfig/SaveConfig/CreateConfigIfMissing, a Version field with
// migration) but over afero.Fs instead of raw os calls — afero is
// already an indirect dependency of the teacher's go.mod (pulled in
// transitively through its eblitui stack) and promoting it to a direct
// dependency here is what makes Load/Save testable against an in-memory
// filesystem instead of the real disk — and TOML (BurntSushi/toml,
// the format choice the rest of the retrieval pack's go.mod reaches
// for) instead of the teacher's encoding/json, since this is a
// hand-editable machine-tuning file more than an app-settings blob.
package config

import (
	"errors"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/user-none/motioncore/axis"
)

const currentVersion = 1

// AxisConfig bundles the per-axis ceilings spec §6 enumerates.
type AxisConfig struct {
	JerkMax      float64 `toml:"jerk_max"`
	JunctionDev  float64 `toml:"junction_dev"`
	VelocityMax  float64 `toml:"velocity_max"`
	FeedrateMax  float64 `toml:"feedrate_max"`
	TravelMax    float64 `toml:"travel_max"`
	StepsPerUnit float64 `toml:"steps_per_unit"`
}

// Config is the full persisted configuration document.
type Config struct {
	Version int `toml:"version"`

	Axes [int(axis.Count)]AxisConfig `toml:"axes"`

	JunctionAcceleration         float64 `toml:"junction_acceleration"`
	EstimatedSegmentMicroseconds float64 `toml:"estimated_segment_microseconds"`
	MinimumSegmentMicroseconds  float64 `toml:"minimum_segment_microseconds"`
	PlannerPoolSize              int     `toml:"planner_pool_size"`
	TrapezoidLengthFitTolerance  float64 `toml:"trapezoid_length_fit_tolerance"`
	TrapezoidVelocityTolerance   float64 `toml:"trapezoid_velocity_tolerance"`
	TrapezoidIterationMax        int     `toml:"trapezoid_iteration_max"`
	TrapezoidIterationErrorPct   float64 `toml:"trapezoid_iteration_error_percent"`
	JerkMatchPrecision           float64 `toml:"jerk_match_precision"`
}

// DefaultConfig returns the nominal configuration spec §6 cites (5000us
// estimated segment, 2500us floor, N=28 pool).
func DefaultConfig() *Config {
	c := &Config{
		Version:                      currentVersion,
		JunctionAcceleration:         100000,
		EstimatedSegmentMicroseconds: 5000,
		MinimumSegmentMicroseconds:   2500,
		PlannerPoolSize:              28,
		TrapezoidLengthFitTolerance:  1e-6,
		TrapezoidVelocityTolerance:   1e-3,
		TrapezoidIterationMax:        10,
		TrapezoidIterationErrorPct:   1.0,
		JerkMatchPrecision:           1e-4,
	}
	for i := range c.Axes {
		c.Axes[i] = AxisConfig{
			JerkMax:      500_000_000,
			JunctionDev:  0.05,
			VelocityMax:  10000,
			FeedrateMax:  10000,
			TravelMax:    1000,
			StepsPerUnit: 200,
		}
	}
	return c
}

// Store loads and saves Config documents against fs at path.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore constructs a Store. Pass afero.NewOsFs() for real disk
// persistence, or afero.NewMemMapFs() in tests.
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Load reads the configuration from Store's path. If the file doesn't
// exist, it returns DefaultConfig() (matching the teacher's
// LoadConfig: "if the file doesn't exist, return defaults"). If the
// file exists but fails to parse, it returns an error.
func (s *Store) Load() (*Config, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}
	migrate(cfg)
	return cfg, nil
}

// Save atomically persists cfg to Store's path: write to a temp file
// in the same directory, then rename over the destination, the same
// "save atomically" guarantee the teacher's AtomicWriteJSON provides.
func (s *Store) Save(cfg *Config) error {
	tmp := s.path + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.path)
}

// CreateIfMissing writes DefaultConfig() to Store's path only if no
// file exists there yet.
func (s *Store) CreateIfMissing() error {
	if _, err := s.fs.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return s.Save(DefaultConfig())
	}
	return nil
}

// migrate applies any necessary upgrade from an older persisted
// Version, matching the teacher's migrateConfig shape.
func migrate(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = currentVersion
	}
}
