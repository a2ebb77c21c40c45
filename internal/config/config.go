// Package config resolves the per-user state directory and runtime settings
// for the job manager.
//
// Everything is defaulted so the tool works with no configuration at all. An
// optional config.yaml in the base directory overrides the defaults, e.g.:
//
//	poll_interval: 30s
//	capacity: 4
//	shell: /bin/bash
//	log_level: debug
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultCapacity     = 10
)

// Config holds the resolved runtime settings.
type Config struct {
	// BaseDir is the per-user directory holding all persisted state.
	BaseDir string

	// PollInterval is the period between daemon scans for pending jobs.
	PollInterval time.Duration

	// Capacity is the number of jobs that may execute simultaneously.
	Capacity int

	// Shell executes job commands via `shell -c command`.
	Shell string

	// LogLevel is the minimum level written to the log file.
	LogLevel string
}

// fileConfig is the on-disk shape of config.yaml. The poll interval is a
// duration string so users can write "30s" rather than nanoseconds.
type fileConfig struct {
	PollInterval string `yaml:"poll_interval"`
	Capacity     int    `yaml:"capacity"`
	Shell        string `yaml:"shell"`
	LogLevel     string `yaml:"log_level"`
}

// DefaultBaseDir returns the per-user state directory: $JOBMGR_HOME if set,
// otherwise ~/.jobmgr.
func DefaultBaseDir() string {
	if dir := os.Getenv("JOBMGR_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".jobmgr"
	}

	return filepath.Join(home, ".jobmgr")
}

// Load resolves the configuration for baseDir, applying config.yaml from
// that directory over the defaults if it exists. An empty baseDir means
// DefaultBaseDir.
func Load(baseDir string) (*Config, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir()
	}

	cfg := &Config{
		BaseDir:      baseDir,
		PollInterval: DefaultPollInterval,
		Capacity:     DefaultCapacity,
		Shell:        defaultShell(),
		LogLevel:     "info",
	}

	data, err := os.ReadFile(filepath.Join(baseDir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if fc.PollInterval != "" {
		interval, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("parse poll_interval: %w", err)
		}
		if interval <= 0 {
			return nil, fmt.Errorf("poll_interval must be positive")
		}
		cfg.PollInterval = interval
	}

	if fc.Capacity > 0 {
		cfg.Capacity = fc.Capacity
	}

	if fc.Shell != "" {
		cfg.Shell = fc.Shell
	}

	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}

	return cfg, nil
}

// EnsureDirs creates the base and output directories if they are missing.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.BaseDir, c.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	return nil
}

func (c *Config) JobsFile() string   { return filepath.Join(c.BaseDir, "jobs") }
func (c *Config) StatusFile() string { return filepath.Join(c.BaseDir, "status") }
func (c *Config) PIDsFile() string   { return filepath.Join(c.BaseDir, "pids") }
func (c *Config) OutputDir() string  { return filepath.Join(c.BaseDir, "output") }
func (c *Config) LockFile() string   { return filepath.Join(c.BaseDir, "daemon.lock") }
func (c *Config) LogFile() string    { return filepath.Join(c.BaseDir, "jobmgr.log") }

// defaultShell is the invoking user's interactive shell, falling back to
// /bin/sh when SHELL is unset.
func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}

	return "/bin/sh"
}
