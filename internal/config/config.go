// Package config defines the configuration surface for the metamix
// inference pipeline: EM reduction, parallel-tempered MCMC, and the
// final Gibbs sampler, plus the output options for report emission.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the full metamix pipeline configuration.
type Config struct {
	EM       EMConfig       `yaml:"em"`
	MCMC     MCMCConfig     `yaml:"mcmc"`
	Gibbs    GibbsConfig    `yaml:"gibbs"`
	Output   OutputConfig   `yaml:"output"`
	Penalty  PenaltyConfig  `yaml:"penalty"`
	Threads  int            `yaml:"threads"` // worker pool size for C6/C7, 0 = auto (NumCPU)
}

// EMConfig controls the full-universe EM dimension reducer (C2).
type EMConfig struct {
	ReadCutoff int `yaml:"read_cutoff"` // minimum effective read count to retain a taxon
	Iterations int `yaml:"iterations"`  // iteration cap
}

// MCMCConfig controls the parallel-tempered sampler (C5).
type MCMCConfig struct {
	Chains           int `yaml:"chains"`            // number of PT chains
	Iterations       int `yaml:"iterations"`        // total per-chain iterations
	ExchangeInterval int `yaml:"exchange_interval"` // iterations between barrier swaps
}

// GibbsConfig controls the final Gibbs sampler (C6).
type GibbsConfig struct {
	Iterations int `yaml:"iterations"`
	Burnin     int `yaml:"burnin"`
}

// OutputConfig controls what the reporting glue (C7) writes to disk.
type OutputConfig struct {
	Prefix            string  `yaml:"prefix"`
	WritePosterior    bool    `yaml:"write_posterior"`
	TraceBurninRatio  float64 `yaml:"trace_burnin_ratio"`
}

// PenaltyConfig controls the model-complexity penalty (L_penalty, §4.3).
type PenaltyConfig struct {
	ReadSupport     float64 `yaml:"read_support"`      // s
	MedianGenomeLen float64 `yaml:"median_genome_len"`  // g; 0 selects cmd/metamix's fixed fallback length (not detected from input)
	ReferenceFloor  float64 `yaml:"reference_floor"`   // p_ref, fixed at 1e-20 per spec
}

// DefaultConfig returns the configuration described in spec §6.5.
func DefaultConfig() *Config {
	return &Config{
		EM: EMConfig{
			ReadCutoff: 1,
			Iterations: 1000,
		},
		MCMC: MCMCConfig{
			Chains:           12,
			Iterations:       1000,
			ExchangeInterval: 1,
		},
		Gibbs: GibbsConfig{
			Iterations: 100,
			Burnin:     20,
		},
		Output: OutputConfig{
			Prefix:           "metamix_out",
			WritePosterior:   false,
			TraceBurninRatio: 0.1,
		},
		Penalty: PenaltyConfig{
			ReadSupport:     30,
			MedianGenomeLen: 0,
			ReferenceFloor:  1e-20,
		},
		Threads: 0,
	}
}

// Load reads a YAML configuration file, falling back to defaults for any
// field the file does not set. A missing file is not an error: it yields
// the default configuration, matching how the pipeline behaves when run
// from flags alone.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ResolvedThreads returns the configured worker count, defaulting to
// runtime.NumCPU() when Threads is 0.
func (c *Config) ResolvedThreads() int {
	if c.Threads > 0 {
		return c.Threads
	}
	return runtime.NumCPU()
}

// Validate checks that configuration values are within sane ranges,
// returning a descriptive error for the first violation found.
func (c *Config) Validate() error {
	if c.EM.Iterations <= 0 {
		return fmt.Errorf("em.iterations must be positive, got %d", c.EM.Iterations)
	}
	if c.MCMC.Chains <= 0 {
		return fmt.Errorf("mcmc.chains must be positive, got %d", c.MCMC.Chains)
	}
	if c.MCMC.ExchangeInterval <= 0 {
		return fmt.Errorf("mcmc.exchange_interval must be positive, got %d", c.MCMC.ExchangeInterval)
	}
	if c.Gibbs.Iterations <= 0 {
		return fmt.Errorf("gibbs.iterations must be positive, got %d", c.Gibbs.Iterations)
	}
	if c.Penalty.ReferenceFloor <= 0 || c.Penalty.ReferenceFloor >= 1 {
		return fmt.Errorf("penalty.reference_floor must be in (0,1), got %g", c.Penalty.ReferenceFloor)
	}
	return nil
}
