package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Artifacts ArtifactsConfig
	Budgets   BudgetOverrides
	Bridge    BridgeConfig
	Sandbox   SandboxConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// ArtifactsConfig holds the dev artifact catalog configuration.
type ArtifactsConfig struct {
	SeedsDir string `envconfig:"ARTIFACT_SEEDS_DIR" default:"./seeds"`
	BaseURL  string `envconfig:"ARTIFACT_BASE_URL" default:""`
}

// BridgeConfig holds isolation bridge tuning.
type BridgeConfig struct {
	AllowedHostOrigins []string `envconfig:"ALLOWED_HOST_ORIGINS" default:""`
	VisibilityThreshold float64 `envconfig:"VISIBILITY_THRESHOLD" default:"0.25"`
}

// SandboxConfig holds the in-process sandbox driver configuration.
type SandboxConfig struct {
	// Demo runs seeded scripted bundles on the in-process driver so
	// sessions reach ready without an external isolated context.
	Demo bool `envconfig:"SANDBOX_DEMO" default:"false"`
}

// BudgetOverrides are per-surface operational overrides. Zero means
// unset; set values take precedence over the profile file, which in
// turn beats the compiled defaults. The profile file path itself is
// also env-addressable.
type BudgetOverrides struct {
	ProfileFile string `envconfig:"BUDGET_PROFILE_FILE" default:""`

	FeedMaxConcurrent int   `envconfig:"FEED_MAX_CONCURRENT" default:"0"`
	FeedBootMs        int64 `envconfig:"FEED_BOOT_MS" default:"0"`
	FeedRunMs         int64 `envconfig:"FEED_RUN_MS" default:"0"`

	PlayerMaxConcurrent int   `envconfig:"PLAYER_MAX_CONCURRENT" default:"0"`
	PlayerBootMs        int64 `envconfig:"PLAYER_BOOT_MS" default:"0"`
	PlayerRunMs         int64 `envconfig:"PLAYER_RUN_MS" default:"0"`

	EmbedMaxConcurrent int   `envconfig:"EMBED_MAX_CONCURRENT" default:"0"`
	EmbedBootMs        int64 `envconfig:"EMBED_BOOT_MS" default:"0"`
	EmbedRunMs         int64 `envconfig:"EMBED_RUN_MS" default:"0"`
}

// Load loads configuration from RUNTIME_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("runtime", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the compiled default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8400",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Artifacts: ArtifactsConfig{
			SeedsDir: "./seeds",
		},
		Bridge: BridgeConfig{
			VisibilityThreshold: 0.25,
		},
	}
}
