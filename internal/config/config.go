// Package config holds the one process-wide resource the pipeline
// accepts from the driver: solver invocation settings, the target
// triple, include roots, and strictness switches. It is constructed
// once and threaded through pipeline construction.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	// Solver is the external SMT process.
	Solver SolverConfig `yaml:"solver"`
	// TargetTriple for emitted LLVM IR; empty selects the default.
	TargetTriple string `yaml:"target_triple"`
	// IncludeRoots are searched by the module resolver.
	IncludeRoots []string `yaml:"include_roots"`
	// HyphenToUnderscore maps `-` in dotted module names to `_` on disk.
	HyphenToUnderscore bool `yaml:"hyphen_to_underscore"`
	// Strict fails the build on any unproved obligation; otherwise
	// unknowns are warnings.
	Strict bool `yaml:"strict"`
	// UnknownIsError promotes solver unknowns to errors in non-strict
	// mode.
	UnknownIsError bool `yaml:"unknown_is_error"`
	// OptLevel 0 disables the optimizer.
	OptLevel int `yaml:"opt_level"`
}

// SolverConfig names the external solver command and its budgets.
type SolverConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// TimeoutMS is the per-query budget in milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`
	// MaxConcurrent bounds in-flight queries; the pipeline is
	// single-threaded, so this caps future drivers, not the core.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Timeout returns the per-query timeout as a duration.
func (s SolverConfig) Timeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Solver:   SolverConfig{Command: "z3", Args: []string{"-in"}, TimeoutMS: 5000, MaxConcurrent: 1},
		Strict:   true,
		OptLevel: 1,
	}
}

// Load reads a YAML configuration file, applying defaults for absent
// fields. A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
