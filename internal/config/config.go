package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

type Presence struct {
	Backend    string        `yaml:"backend"` // memory|redis
	RedisURL   string        `yaml:"redisUrl"`
	KeyPrefix  string        `yaml:"keyPrefix"`
	IdleWindow time.Duration `yaml:"idleWindow"`
	// ResetOnStart drops every presence entry at boot. Only safe with a
	// single instance per store.
	ResetOnStart bool `yaml:"resetOnStart"`
}

type NATS struct {
	URL           string `yaml:"url"` // empty disables cross-instance fan-out
	SubjectPrefix string `yaml:"subjectPrefix"`
}

type Logging struct {
	Env     string `yaml:"env"`     // dev|stage|prod
	Service string `yaml:"service"` // go-chatroom
	Backend string `yaml:"backend"` // std|zap
	Level   string `yaml:"level"`   // debug|info|warn|error
}

type Config struct {
	ServerAddr     string   `yaml:"addr"`
	DatabaseDSN    string   `yaml:"dsn"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	Presence       Presence `yaml:"presence"`
	NATS           NATS     `yaml:"nats"`
	Logging        Logging  `yaml:"logging"`
}

func Default() *Config {
	return &Config{
		ServerAddr:  "localhost:8000",
		DatabaseDSN: "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		Presence: Presence{
			Backend:    PresenceMemory,
			KeyPrefix:  "presence:rooms",
			IdleWindow: 30 * time.Second,
		},
		NATS: NATS{
			SubjectPrefix: "gochat.events",
		},
		Logging: Logging{
			Service: "go-chatroom",
			Level:   "info",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	switch c.Presence.Backend {
	case PresenceMemory:
	case PresenceRedis:
		if c.Presence.RedisURL == "" {
			return fmt.Errorf("redis presence backend requires a redis url")
		}
	default:
		return fmt.Errorf("unknown presence backend %q", c.Presence.Backend)
	}

	if c.Presence.IdleWindow <= 0 {
		return fmt.Errorf("presence idle window must be positive")
	}

	return nil
}
