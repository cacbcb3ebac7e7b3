package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the conversion API.
	Listen string `yaml:"listen" json:"listen"`

	// Upstream is the base URL of the Rapla instance, without query
	// parameters (e.g. "https://rapla.dhbw-stuttgart.de/rapla").
	Upstream string `yaml:"upstream" json:"upstream"`

	// UserAgent is sent on every upstream request.
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// TimeoutSeconds bounds a single upstream page fetch.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// used to re-fetch the configured keys so the cache stays warm.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheTTLMinutes is how long an extracted calendar is served from
	// memory before a request triggers a new upstream fetch.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" json:"cache_ttl_minutes"`

	// Keys are timetable keys refreshed in the background. Keys only ever
	// requested ad hoc over HTTP do not need to be listed here.
	Keys []string `yaml:"keys" json:"keys"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		Upstream:        "https://rapla.dhbw-stuttgart.de/rapla",
		UserAgent:       "rapla-sync/1.0 (+github.com/satoqz/rapla-sync)",
		TimeoutSeconds:  20,
		RefreshCron:     "*/30 * * * *",
		CacheTTLMinutes: 30,
		Keys:            []string{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Upstream == "" {
		c.Upstream = def.Upstream
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = def.TimeoutSeconds
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheTTLMinutes <= 0 {
		c.CacheTTLMinutes = def.CacheTTLMinutes
	}
	if c.Keys == nil {
		c.Keys = []string{}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there
//     (0600) and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path, atomically
// via a temp file + rename, with final permissions of 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".rapla-sync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
