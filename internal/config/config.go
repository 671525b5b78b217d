package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the ~/.shmif/config.toml file: daemon-wide defaults for
// the connection-point prefix, the device broker's whitelist additions and
// a segment size cap (stored and reported; segment allocation does not
// enforce it).
type Config struct {
	ConnpointPrefix  string   `toml:"connpoint_prefix,omitempty" json:"connpoint_prefix"`
	SegmentSizeCap   uint64   `toml:"segment_size_cap,omitempty" json:"segment_size_cap"`
	BrokerWhitelist  []string `toml:"broker_whitelist,omitempty" json:"broker_whitelist"`
	DefaultArchetype string   `toml:"default_archetype,omitempty" json:"default_archetype"`
}

// configDirOverride is set by the --config-dir flag or SHMIF_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / SHMIF_HOME value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// Home returns the config directory path.
// Precedence: --config-dir flag / SetConfigDir > SHMIF_HOME env > ~/.shmif
func Home() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("SHMIF_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".shmif")
	}
	return filepath.Join(home, ".shmif")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// EnsureDir creates the shmif home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(Home(), 0o755)
}

// Load reads config.toml and returns a Config struct.
// If the file does not exist, it returns a zero-value Config (defaults).
func Load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys lists the keys that can be used with Get/Set.
var validKeys = map[string]bool{
	"connpoint_prefix":  true,
	"segment_size_cap":  true,
	"broker_whitelist":  true,
	"default_archetype": true,
}

// Get retrieves a single config value by key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return getField(cfg, key)
}

// Set sets a single config value by key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	if err := setField(cfg, key, value); err != nil {
		return err
	}
	return Save(cfg)
}

func getField(cfg *Config, key string) (string, error) {
	switch key {
	case "connpoint_prefix":
		return cfg.ConnpointPrefix, nil
	case "segment_size_cap":
		return fmt.Sprintf("%d", cfg.SegmentSizeCap), nil
	case "broker_whitelist":
		return strings.Join(cfg.BrokerWhitelist, ","), nil
	case "default_archetype":
		return cfg.DefaultArchetype, nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setField(cfg *Config, key, value string) error {
	switch key {
	case "connpoint_prefix":
		cfg.ConnpointPrefix = value
	case "segment_size_cap":
		var cap uint64
		if _, err := fmt.Sscanf(value, "%d", &cap); err != nil {
			return fmt.Errorf("segment_size_cap must be a non-negative integer: %w", err)
		}
		cfg.SegmentSizeCap = cap
	case "broker_whitelist":
		if value == "" {
			cfg.BrokerWhitelist = nil
		} else {
			cfg.BrokerWhitelist = strings.Split(value, ",")
		}
	case "default_archetype":
		cfg.DefaultArchetype = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
