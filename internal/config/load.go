package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal: silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// Backfill the account name into each Account so callers don't need to
	// carry the map key around.
	for name, acct := range cfg.Accounts {
		acct.Name = name
		cfg.Accounts[name] = acct
	}

	return cfg, nil
}

// LoadOrDefault reads the config file if it exists, otherwise returns
// defaults. Supports a zero-config first run for the events/import commands.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Validate checks cross-field constraints that TOML decoding cannot express.
// Account completeness is deliberately NOT checked here: an unconfigured
// account must load fine and fail only when a sync is dispatched for it.
func Validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("store.backend must be \"json\" or \"sqlite\", got %q", cfg.Store.Backend)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format must be auto, text, or json, got %q", cfg.Logging.Format)
	}

	return nil
}

// checkUnknownKeys rejects keys the decoder did not map onto the Config
// struct.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}

	return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
}
