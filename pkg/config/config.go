// Package config loads engine configuration from environment variables,
// with an optional YAML file layered underneath them.
//
// Configuration is loaded with LoadFromEnv() and should be checked with
// Validate() before use; Validate() clamps out-of-range values in place
// and returns every problem it found rather than stopping at the first.
//
// Example Usage:
//
//	cfg, err := config.LoadFromEnv()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if errs := cfg.Validate(); len(errs) > 0 {
//		for _, err := range errs {
//			log.Println(err)
//		}
//	}
//
// Environment Variables:
//
//	SYNAPSEGRAPH_PERSISTENCE_PATH=./data/graph.db
//	SYNAPSEGRAPH_BOOTSTRAP_COUNT=10
//	SYNAPSEGRAPH_HABITUATION_WINDOW=8
//	SYNAPSEGRAPH_MAX_REFINE_ITERATIONS=8
//	SYNAPSEGRAPH_OUTPUT_CAP_MULTIPLIER=16
//	SYNAPSEGRAPH_LOG_LEVEL=info
//	SYNAPSEGRAPH_CACHE_CAPACITY=10000
//	SYNAPSEGRAPH_PRUNE_INTERVAL=64
//	SYNAPSEGRAPH_CONFIG_FILE=./synapsegraph.yaml
//
// A YAML file named by SYNAPSEGRAPH_CONFIG_FILE is read first, then
// environment variables are applied on top of it, so an operator can ship
// a checked-in base file and override individual fields per deployment
// without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the engine needs to open and run a graph.
type Config struct {
	// PersistencePath is the on-disk location of the graph container.
	// There is no default — the engine refuses to open without one.
	PersistencePath string `yaml:"persistence_path"`

	// BootstrapCount is the minimum number of Welford samples a stream
	// must see before the adaptive formulas in pkg/thresholds trust it.
	BootstrapCount int64 `yaml:"bootstrap_count"`

	// HabituationWindow is how many recently emitted nodes the wave and
	// decode engines keep a habituation penalty for.
	HabituationWindow int `yaml:"habituation_window"`

	// MaxRefineIterations is the hard upper bound on REFINE steps per
	// produce call, regardless of what thresholds.RefineIterations picks.
	MaxRefineIterations int `yaml:"max_refine_iterations"`

	// OutputCapMultiplier scales thresholds.OutputCap's absolute ceiling
	// on generated output length relative to the input length.
	OutputCapMultiplier float64 `yaml:"output_cap_multiplier"`

	// LogLevel is one of debug/info/warn/error for pkg/synlog.
	LogLevel string `yaml:"log_level"`

	// CacheCapacity sizes the storage engine's ristretto hot-record
	// cache, which is given ten counters per unit of capacity.
	CacheCapacity int64 `yaml:"cache_capacity"`

	// PruneInterval is how many ingests pass between disuse-pruning
	// sweeps: every PruneInterval-th ingest, the engine removes nodes
	// whose local disuse statistics (touch count, last-touched ingest)
	// have fallen outside thresholds.DisuseWindow.
	PruneInterval int `yaml:"prune_interval"`

	// ConfigFile is the optional YAML file LoadFromEnv layers under the
	// environment. Not itself settable from within that file.
	ConfigFile string `yaml:"-"`
}

// LoadFromEnv loads configuration by first reading the YAML file named by
// SYNAPSEGRAPH_CONFIG_FILE (if set and present), then applying every
// SYNAPSEGRAPH_* environment variable on top of it. Fields left unset by
// both the file and the environment fall back to their defaults.
//
// A missing SYNAPSEGRAPH_CONFIG_FILE, or one that names a file that does
// not exist, is not an error — the YAML layer is entirely optional.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		BootstrapCount:      10,
		HabituationWindow:   8,
		MaxRefineIterations: 8,
		OutputCapMultiplier: 16,
		LogLevel:            "info",
		CacheCapacity:       10000,
		PruneInterval:       64,
	}

	cfg.ConfigFile = getEnv("SYNAPSEGRAPH_CONFIG_FILE", "")
	if cfg.ConfigFile != "" {
		if err := cfg.loadYAML(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", cfg.ConfigFile, err)
		}
	}

	cfg.PersistencePath = getEnv("SYNAPSEGRAPH_PERSISTENCE_PATH", cfg.PersistencePath)
	cfg.BootstrapCount = getEnvInt64("SYNAPSEGRAPH_BOOTSTRAP_COUNT", cfg.BootstrapCount)
	cfg.HabituationWindow = getEnvInt("SYNAPSEGRAPH_HABITUATION_WINDOW", cfg.HabituationWindow)
	cfg.MaxRefineIterations = getEnvInt("SYNAPSEGRAPH_MAX_REFINE_ITERATIONS", cfg.MaxRefineIterations)
	cfg.OutputCapMultiplier = getEnvFloat("SYNAPSEGRAPH_OUTPUT_CAP_MULTIPLIER", cfg.OutputCapMultiplier)
	cfg.LogLevel = getEnv("SYNAPSEGRAPH_LOG_LEVEL", cfg.LogLevel)
	cfg.CacheCapacity = getEnvInt64("SYNAPSEGRAPH_CACHE_CAPACITY", cfg.CacheCapacity)
	cfg.PruneInterval = getEnvInt("SYNAPSEGRAPH_PRUNE_INTERVAL", cfg.PruneInterval)

	return cfg, nil
}

// loadYAML reads path and unmarshals it over cfg's existing defaults. A
// missing file is silently ignored, matching the "entirely optional" YAML
// layer documented on LoadFromEnv.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate checks the configuration for logical errors, clamping
// out-of-range numeric values to their nearest valid bound in place, and
// returns one error per problem found (nil if none). Unlike a
// fail-on-first-error Validate, every field is checked so a caller sees
// the whole picture in one pass.
func (c *Config) Validate() []error {
	var errs []error

	if strings.TrimSpace(c.PersistencePath) == "" {
		errs = append(errs, fmt.Errorf("persistence_path is required"))
	}

	if c.BootstrapCount < 1 {
		errs = append(errs, fmt.Errorf("bootstrap_count must be >= 1, got %d (clamped to 1)", c.BootstrapCount))
		c.BootstrapCount = 1
	}

	if c.HabituationWindow < 1 {
		errs = append(errs, fmt.Errorf("habituation_window must be >= 1, got %d (clamped to 1)", c.HabituationWindow))
		c.HabituationWindow = 1
	}

	if c.MaxRefineIterations < 1 {
		errs = append(errs, fmt.Errorf("max_refine_iterations must be >= 1, got %d (clamped to 1)", c.MaxRefineIterations))
		c.MaxRefineIterations = 1
	}

	if c.OutputCapMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("output_cap_multiplier must be > 0, got %v (clamped to 1)", c.OutputCapMultiplier))
		c.OutputCapMultiplier = 1
	}

	if c.CacheCapacity < 1 {
		errs = append(errs, fmt.Errorf("cache_capacity must be >= 1, got %d (clamped to 1)", c.CacheCapacity))
		c.CacheCapacity = 1
	}

	if c.PruneInterval < 1 {
		errs = append(errs, fmt.Errorf("prune_interval must be >= 1, got %d (clamped to 1)", c.PruneInterval))
		c.PruneInterval = 1
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug/info/warn/error, got %q (reset to info)", c.LogLevel))
		c.LogLevel = "info"
	}

	return errs
}

// String returns a string representation of the Config safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{PersistencePath: %s, BootstrapCount: %d, HabituationWindow: %d, MaxRefineIterations: %d, OutputCapMultiplier: %v, LogLevel: %s, CacheCapacity: %d, PruneInterval: %d}",
		c.PersistencePath, c.BootstrapCount, c.HabituationWindow, c.MaxRefineIterations, c.OutputCapMultiplier, c.LogLevel, c.CacheCapacity, c.PruneInterval,
	)
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
