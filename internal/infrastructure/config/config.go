package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"WARDEN_PORT" default:"8090"`
	Host string `envconfig:"WARDEN_HOST" default:"0.0.0.0"`
}

// SandboxConfig holds execution engine configuration.
type SandboxConfig struct {
	// Engine selects the executor backend: "wasm" or "none"
	Engine         string        `envconfig:"WARDEN_ENGINE" default:"wasm"`
	Timeout        time.Duration `envconfig:"WARDEN_TIMEOUT" default:"5s"`
	MaxMemoryPages uint32        `envconfig:"WARDEN_MAX_MEMORY_PAGES" default:"1024"`
	MaxConcurrent  int           `envconfig:"WARDEN_MAX_CONCURRENT" default:"32"`
	MaxModuleBytes int           `envconfig:"WARDEN_MAX_MODULE_BYTES" default:"16777216"`
	CacheEnabled   bool          `envconfig:"WARDEN_CACHE_ENABLED" default:"true"`
	CacheEntries   int           `envconfig:"WARDEN_CACHE_ENTRIES" default:"64"`
	ProfilesPath   string        `envconfig:"WARDEN_PROFILES_PATH" default:""`
	DefaultProfile string        `envconfig:"WARDEN_DEFAULT_PROFILE" default:"pure"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"WARDEN_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"WARDEN_LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"WARDEN_RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"WARDEN_RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"WARDEN_RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from WARDEN_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Sandbox: SandboxConfig{
			Engine:         "wasm",
			Timeout:        5 * time.Second,
			MaxMemoryPages: 1024,
			MaxConcurrent:  32,
			MaxModuleBytes: 16 << 20,
			CacheEnabled:   true,
			CacheEntries:   64,
			DefaultProfile: "pure",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
