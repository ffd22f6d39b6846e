// Package config implements TOML configuration loading, validation, and
// default path resolution for calsync. Accounts are named [account.*]
// sections; a missing credential or server address on an account surfaces as
// ErrNotConfigured before any network or guard activity.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotConfigured indicates an account is missing its server address or
// credentials. Checked by the dispatcher before acquiring the run guard.
var ErrNotConfigured = errors.New("config: account not configured")

// Config is the top-level structure parsed from the TOML file.
type Config struct {
	Accounts map[string]Account `toml:"account"`
	Store    StoreConfig        `toml:"store"`
	Logging  LoggingConfig      `toml:"logging"`
	Daemon   DaemonConfig       `toml:"daemon"`
	Import   ImportConfig       `toml:"import"`
}

// Account is one remote CalDAV account. Either password or bearer_token
// authenticates; calendar optionally names the collection to sync.
type Account struct {
	Name        string `toml:"-"`
	ServerURL   string `toml:"server_url"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	BearerToken string `toml:"bearer_token"`
	Calendar    string `toml:"calendar"`
}

// Validate reports ErrNotConfigured when a required field is missing.
func (a Account) Validate() error {
	if a.ServerURL == "" {
		return fmt.Errorf("%w: account %q has no server_url", ErrNotConfigured, a.Name)
	}

	if a.Username == "" {
		return fmt.Errorf("%w: account %q has no username", ErrNotConfigured, a.Name)
	}

	if a.Password == "" && a.BearerToken == "" {
		return fmt.Errorf("%w: account %q has neither password nor bearer_token", ErrNotConfigured, a.Name)
	}

	return nil
}

// StoreConfig selects the event store backend: "json" (snapshot file) or
// "sqlite" (embedded database).
type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// LoggingConfig controls log output: level (debug/info/warn/error) and
// format ("text", "json", or "auto" which picks by terminal detection).
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DaemonConfig controls the periodic sync trigger in daemon mode. Schedule
// accepts a cron expression or an @every duration.
type DaemonConfig struct {
	Schedule string `toml:"schedule"`
}

// ImportConfig configures the .ics file-drop importer. An empty dir disables
// the watcher.
type ImportConfig struct {
	Dir string `toml:"dir"`
}

// DefaultConfig returns a Config populated with defaults. Loading merges the
// config file on top.
func DefaultConfig() *Config {
	return &Config{
		Accounts: map[string]Account{},
		Store: StoreConfig{
			Backend: "json",
			Path:    filepath.Join(defaultDataDir(), "events.json"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Daemon: DaemonConfig{
			Schedule: "@every 15m",
		},
	}
}

// DefaultConfigPath returns the platform config file location, honoring
// XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "calsync", "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "calsync.toml")
	}

	return filepath.Join(home, ".config", "calsync", "config.toml")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "calsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "calsync")
}
