// Package config holds killswitch configuration: protection additions,
// sweep timings and where state lives on disk.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/killswitch/internal/policy"
)

// Timings controls every wait in a sweep.
type Timings struct {
	AppTerminateGrace time.Duration `yaml:"app_terminate_grace"` // after the cooperative quit
	AppTermGrace      time.Duration `yaml:"app_term_grace"`      // after SIGTERM on app targets
	Suppression       time.Duration `yaml:"suppression"`         // generic sweep window
	SweepTermGrace    time.Duration `yaml:"sweep_term_grace"`    // SIGTERM -> SIGKILL inside the loop
	SweepLoopPause    time.Duration `yaml:"sweep_loop_pause"`    // pause between loop passes
}

// DefaultTimings returns the stock sweep timings.
func DefaultTimings() Timings {
	return Timings{
		AppTerminateGrace: 500 * time.Millisecond,
		AppTermGrace:      200 * time.Millisecond,
		Suppression:       3 * time.Second,
		SweepTermGrace:    150 * time.Millisecond,
		SweepLoopPause:    180 * time.Millisecond,
	}
}

// Protection lists entries added to the built-in protection set.
type Protection struct {
	Names        []string `yaml:"names"`
	Identifiers  []string `yaml:"identifiers"`
	PathPrefixes []string `yaml:"path_prefixes"`
}

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Protection Protection `yaml:"protection"`
	Timings    Timings    `yaml:"timings"`
	OwnerUID   int        `yaml:"owner_uid"` // only processes owned by this uid are swept
	DataDir    string     `yaml:"data_dir"`  // history db, key, lock and listener files
	Lister     string     `yaml:"lister"`    // "gopsutil" or "ps"
}

// Lister names.
const (
	ListerGopsutil = "gopsutil"
	ListerPS       = "ps"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Timings:  DefaultTimings(),
		OwnerUID: RealUserUID(),
		DataDir:  DefaultDataDir(),
		Lister:   ListerGopsutil,
	}
}

// Load reads a YAML config file on top of the defaults.
// A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings a sweep can't run with.
func (c *Config) Validate() error {
	t := c.Timings
	for name, d := range map[string]time.Duration{
		"app_terminate_grace": t.AppTerminateGrace,
		"app_term_grace":      t.AppTermGrace,
		"suppression":         t.Suppression,
		"sweep_term_grace":    t.SweepTermGrace,
		"sweep_loop_pause":    t.SweepLoopPause,
	} {
		if d < 0 {
			return fmt.Errorf("timings.%s must not be negative, got %s", name, d)
		}
	}
	// A zero pause would spin the suppression loop
	if t.SweepLoopPause == 0 {
		return fmt.Errorf("timings.sweep_loop_pause must be positive")
	}
	if c.OwnerUID < 0 {
		return fmt.Errorf("owner_uid must not be negative, got %d", c.OwnerUID)
	}
	switch c.Lister {
	case ListerGopsutil, ListerPS:
	default:
		return fmt.Errorf("unknown lister %q (want %q or %q)", c.Lister, ListerGopsutil, ListerPS)
	}
	return nil
}

// ProtectionSet merges the built-in defaults with the configured additions.
func (c *Config) ProtectionSet() policy.ProtectionSet {
	return policy.NewProtectionSet(
		append(policy.DefaultNames(), c.Protection.Names...),
		append(policy.DefaultIdentifiers(), c.Protection.Identifiers...),
		append(policy.DefaultPathPrefixes(), c.Protection.PathPrefixes...),
	)
}
