package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shiftcheck.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Guide.MaxSilentRetries)
	assert.Equal(t, 3, cfg.Guide.Controller().MaxSilentRetries)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Photo.AIEnabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	path := writeConfig(t, `
[server]
port = 9090
cors_allowed_origins = ["https://app.example.com"]
read_timeout = "30s"

[logging]
level = "debug"
format = "json"

[guide]
max_silent_retries = 5
save_timeout = "2s"

[openai]
api_key = "sk-file"
model = "gpt-4o-mini"

[photo]
ai_enabled = true
min_confidence = 0.8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Guide.MaxSilentRetries)
	assert.Equal(t, 2*time.Second, cfg.Guide.Controller().SaveTimeout)
	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 0.8, cfg.Photo.MinConfidence)
	assert.Equal(t, "data/photos", cfg.Photo.Dir)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[server]\nprot = 9090\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "server.prot")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvironmentKey(t *testing.T) {
	env := map[string]string{}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	env[EnvOpenAIAPIKey] = "sk-openai"
	cfg.applyEnv(lookup)
	assert.Equal(t, "sk-openai", cfg.OpenAI.APIKey)

	cfg = Default()
	cfg.OpenAI.APIKey = "sk-file"
	cfg.applyEnv(lookup)
	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)

	env[EnvAPIKey] = "sk-shiftcheck"
	cfg.applyEnv(lookup)
	assert.Equal(t, "sk-shiftcheck", cfg.OpenAI.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"sqlite path", func(c *Config) { c.Storage.SQLitePath = "" }, "storage.sqlite_path"},
		{"retries", func(c *Config) { c.Guide.MaxSilentRetries = -1 }, "max_silent_retries"},
		{"confidence", func(c *Config) { c.Photo.MinConfidence = 1.5 }, "min_confidence"},
		{"ai without key", func(c *Config) { c.Photo.AIEnabled = true }, "ai_enabled"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	cfg, err := Load(filepath.Join("..", "..", "shiftcheck.example.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Storage, cfg.Storage)
	assert.Equal(t, Default().Guide, cfg.Guide)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSAllowedOrigins)
}
