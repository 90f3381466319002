package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"ctf-scoring-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Store struct {
		Backend string `yaml:"backend"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Firestore struct {
		ProjectID string `yaml:"projectId"`
	} `yaml:"firestore"`
	Catalog struct {
		TTL  string `yaml:"ttl"`
		Seed string `yaml:"seed"`
	} `yaml:"catalog"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
	} `yaml:"auth"`
	Leaderboard struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"leaderboard"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file yields the defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, err
	}
	cfg.applyEnv(os.Getenv)
	return cfg, cfg.validate()
}

func (c *Config) applyEnv(getenv func(string) string) {
	override := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Server.Port, "PORT")
	override(&c.Postgres.URL, "DATABASE_URL")
	override(&c.Redis.Addr, "REDIS_ADDR")
	override(&c.Firestore.ProjectID, "FIRESTORE_PROJECT_ID")
	override(&c.Auth.JWTSecret, "JWT_SECRET")
	override(&c.Log.Level, "LOG_LEVEL")
	override(&c.Store.Backend, "STORE_BACKEND")

	if c.Store.Backend == "" {
		switch {
		case c.Postgres.URL != "":
			c.Store.Backend = StorePostgres
		case c.Firestore.ProjectID != "":
			c.Store.Backend = StoreFirestore
		default:
			c.Store.Backend = StoreMemory
		}
	}
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres store selected but postgres.url is empty")
		}
	case StoreFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore store selected but firestore.projectId is empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// NewLogger builds the process logger from the log section.
func (c Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadCatalog reads and validates a YAML seed catalog.
func LoadCatalog(path string) (domain.Catalog, error) {
	var catalog domain.Catalog
	data, err := os.ReadFile(path)
	if err != nil {
		return catalog, err
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return catalog, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := catalog.Validate(); err != nil {
		return catalog, fmt.Errorf("catalog %s: %w", path, err)
	}
	return catalog, nil
}
