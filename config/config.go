/*
Package config loads server configuration from a YAML file.

PURPOSE:
  One place for everything tunable at deploy time: listen port, storage
  backend selection, timezone and cutoff for the daily sweep, the cron
  shared secret, and the auth user set. Every field has a working default
  so the server starts with no config file at all.

SEE ALSO:
  - cmd/server/main.go: flag overrides applied on top of the file
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the persistence implementation.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config holds the full server configuration.
type Config struct {
	Port    int    `yaml:"port"`
	Backend string `yaml:"backend"`

	// SQLitePath is the database file when backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`
	// DataDir is the state directory when backend is "file".
	DataDir string `yaml:"data_dir"`

	// Timezone governs the day boundary and cutoff for the sweep.
	Timezone   string `yaml:"timezone"`
	CutoffHour int    `yaml:"cutoff_hour"`

	// SweepInterval is how often the scheduler checks whether a sweep is due.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CronSecret guards the external cron trigger endpoint. Empty disables
	// the check.
	CronSecret string `yaml:"cron_secret"`

	// AuthSecret signs session cookies.
	AuthSecret string `yaml:"auth_secret"`
	// Users maps username to password for login.
	Users map[string]string `yaml:"users"`
}

// Default returns the configuration used when no file or flags override it.
func Default() Config {
	return Config{
		Port:          8080,
		Backend:       BackendSQLite,
		SQLitePath:    "saldo.db",
		DataDir:       "data",
		Timezone:      "America/Sao_Paulo",
		CutoffHour:    8,
		SweepInterval: time.Minute,
		AuthSecret:    "change-me",
		Users:         map[string]string{},
	}
}

// Load reads the YAML file at path on top of Default. A missing file is not
// an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Backend != BackendSQLite && c.Backend != BackendFile {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.CutoffHour < 0 || c.CutoffHour > 23 {
		return fmt.Errorf("cutoff_hour must be 0-23, got %d", c.CutoffHour)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. Call validate first (Load does).
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
