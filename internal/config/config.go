// Package config loads the service configuration from TOML
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// Environment variables that override the OpenAI key, in priority order
const (
	EnvAPIKey       = "SHIFTCHECK_OPENAI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config is the root configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Logging logger.Config `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
	Guide   GuideConfig   `toml:"guide"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	Photo   PhotoConfig   `toml:"photo"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Host               string        `toml:"host"`
	Port               int           `toml:"port"`
	CORSAllowedOrigins []string      `toml:"cors_allowed_origins"`
	ReadTimeout        time.Duration `toml:"read_timeout"`
	WriteTimeout       time.Duration `toml:"write_timeout"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig configures persistence
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"`
}

// GuideConfig tunes the guided walk
type GuideConfig struct {
	MaxSilentRetries int           `toml:"max_silent_retries"`
	SaveTimeout      time.Duration `toml:"save_timeout"`
}

// Controller returns the loop settings
func (g GuideConfig) Controller() guide.Config {
	return guide.Config{
		MaxSilentRetries: g.MaxSilentRetries,
		SaveTimeout:      g.SaveTimeout,
	}
}

// OpenAIConfig configures the vision model used for photo analysis
type OpenAIConfig struct {
	APIKey  string        `toml:"api_key"`
	BaseURL string        `toml:"base_url"`
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
}

// PhotoConfig configures the photo sub-flow
type PhotoConfig struct {
	Dir           string  `toml:"dir"`
	AIEnabled     bool    `toml:"ai_enabled"`
	MinConfidence float64 `toml:"min_confidence"`
	MaxBytes      int     `toml:"max_bytes"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Runtime bool   `toml:"runtime"`
}

// Default returns the configuration used for anything a file leaves out
func Default() *Config {
	loop := guide.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			SQLitePath: "data/shiftcheck.db",
		},
		Guide: GuideConfig{
			MaxSilentRetries: loop.MaxSilentRetries,
			SaveTimeout:      loop.SaveTimeout,
		},
		OpenAI: OpenAIConfig{
			Model:   "gpt-4o",
			Timeout: 60 * time.Second,
		},
		Photo: PhotoConfig{
			Dir:           "data/photos",
			MinConfidence: 0.6,
			MaxBytes:      10 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Runtime: true,
		},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the environment supply the OpenAI key. SHIFTCHECK_OPENAI_API_KEY
// always wins; OPENAI_API_KEY only fills an empty key.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if key, ok := lookup(EnvAPIKey); ok && key != "" {
		c.OpenAI.APIKey = key
		return
	}
	if c.OpenAI.APIKey == "" {
		if key, ok := lookup(EnvOpenAIAPIKey); ok {
			c.OpenAI.APIKey = key
		}
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}

	if c.Guide.MaxSilentRetries < 0 {
		return fmt.Errorf("guide.max_silent_retries must not be negative")
	}
	if c.Guide.SaveTimeout < 0 {
		return fmt.Errorf("guide.save_timeout must not be negative")
	}

	if c.Photo.Dir == "" {
		return fmt.Errorf("photo.dir is required")
	}
	if c.Photo.MinConfidence < 0 || c.Photo.MinConfidence > 1 {
		return fmt.Errorf("photo.min_confidence must be between 0 and 1, got %v", c.Photo.MinConfidence)
	}
	if c.Photo.AIEnabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("photo.ai_enabled requires openai.api_key or %s", EnvAPIKey)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}
