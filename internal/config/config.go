// Package config loads the bot configuration from a TOML file, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keeper/internal/common"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	EnvToken    = "DISCORD_TOKEN"
	EnvPrefix   = "KEEPER_PREFIX"
	EnvLogLevel = "KEEPER_LOG_LEVEL"
	EnvDataDir  = "KEEPER_DATA_DIR"
)

type Config struct {
	Token         string
	Prefix        string
	Owners        []string
	DataDir       string
	LogLevel      zerolog.Level
	UserAgent     string
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Restrictions  []common.Restriction
	// Entities created when the entity store is empty
	Seeds []json.RawMessage
}

func Default() Config {
	return Config{
		Prefix:        ".cc",
		DataDir:       "data",
		LogLevel:      zerolog.InfoLevel,
		UserAgent:     "Keeper Discord Bot",
		FlushInterval: 30 * time.Second,
		HTTPTimeout:   20 * time.Second,
	}
}

func (c Config) EntitiesFile() string {
	return filepath.Join(c.DataDir, "entities.json")
}

func (c Config) SettingsFile() string {
	return filepath.Join(c.DataDir, "settings.json")
}

type fileRestriction struct {
	Requests int    `toml:"requests"`
	Duration string `toml:"duration"`
}

type fileConfig struct {
	Token         string            `toml:"token"`
	Prefix        string            `toml:"prefix"`
	Owners        []string          `toml:"owners"`
	DataDir       string            `toml:"data_dir"`
	LogLevel      string            `toml:"log_level"`
	UserAgent     string            `toml:"user_agent"`
	FlushInterval string            `toml:"flush_interval"`
	HTTPTimeout   string            `toml:"http_timeout"`
	Restrictions  []fileRestriction `toml:"restriction"`
	Entities      []map[string]any  `toml:"entity"`
}

// Load the configuration. A missing file leaves the defaults in place,
// a missing .env file is ignored
func Load(path string, envFile string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	default:
		if err := apply(&cfg, raw, meta); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Token == "" {
		return Config{}, fmt.Errorf("no discord token: set token in %s or %s", path, EnvToken)
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("prefix") {
		cfg.Prefix = strings.TrimSpace(raw.Prefix)
	}
	if meta.IsDefined("owners") {
		cfg.Owners = normalize(raw.Owners)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("user_agent") {
		cfg.UserAgent = strings.TrimSpace(raw.UserAgent)
	}
	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("flush_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.FlushInterval))
		if err != nil {
			return fmt.Errorf("parse flush_interval: %w", err)
		}
		cfg.FlushInterval = d
	}
	if meta.IsDefined("http_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HTTPTimeout))
		if err != nil {
			return fmt.Errorf("parse http_timeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	for i, r := range raw.Restrictions {
		d, err := time.ParseDuration(strings.TrimSpace(r.Duration))
		if err != nil {
			return fmt.Errorf("parse restriction %d duration: %w", i, err)
		}
		if r.Requests <= 0 {
			return fmt.Errorf("restriction %d: requests must be positive", i)
		}
		cfg.Restrictions = append(cfg.Restrictions, common.Restriction{Requests: r.Requests, Duration: d})
	}
	for i, seed := range raw.Entities {
		if _, ok := seed["type"].(string); !ok {
			return fmt.Errorf("entity %d has no type", i)
		}
		data, err := json.Marshal(seed)
		if err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		cfg.Seeds = append(cfg.Seeds, data)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvToken); ok {
		cfg.Token = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix); ok {
		cfg.Prefix = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvDataDir); ok {
		cfg.DataDir = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		level, err := zerolog.ParseLevel(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = level
	}
	return nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
