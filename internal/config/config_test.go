package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobinfo-extractor/internal/environment"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 35*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, time.Second, cfg.Browser.SettleMin)
	assert.Equal(t, 5*time.Second, cfg.Browser.SettleMax)
	assert.Equal(t, 1366, cfg.Browser.ViewportWidth)
	assert.Equal(t, 900, cfg.Browser.ViewportHeight)
	assert.Equal(t, "local", cfg.Browser.ExecutionContext)
	assert.Equal(t, 4000, cfg.LLM.MaxInputChars)
	assert.Equal(t, 20*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, "none", cfg.Diagnostics.Backend)
	assert.Equal(t, "jobextract", cfg.Telemetry.ServiceName)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 1e-9)
	assert.Empty(t, cfg.Metrics.TrackedSites)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 2m
auth:
  enabled: true
  api_key: inbound-secret
llm:
  api_key: gemini-secret
  model: gemini-2.5-flash
  max_input_chars: 6000
  timeout: 15s
browser:
  execution_context: hosted
  download_dir: /var/cache/chromium
  navigation_timeout: 40s
  settle_min: 500ms
  settle_max: 3s
  viewport_width: 1280
  viewport_height: 800
logging:
  development: false
  level: debug
diagnostics:
  backend: local
  capture_success: true
  local:
    base_dir: /tmp/jobextract
metrics:
  tracked_sites:
    - boards.greenhouse.io
    - jobs.lever.co
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.RequestTimeout)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "inbound-secret", cfg.Auth.APIKey)
	assert.Equal(t, "gemini-secret", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, 500*time.Millisecond, cfg.Browser.SettleMin)
	assert.Equal(t, "/tmp/jobextract", cfg.Diagnostics.Local.BaseDir)
	assert.True(t, cfg.Diagnostics.CaptureSuccess)

	opts := cfg.PipelineOptions()
	assert.Equal(t, environment.Hosted, opts.ExecutionContext)
	assert.Equal(t, "gemini-secret", opts.APIKey)
	assert.Equal(t, "/var/cache/chromium", opts.BrowserDownloadDir)
	assert.Equal(t, 40*time.Second, opts.NavigationTimeout)
	assert.Equal(t, 6000, opts.MaxInputChars)
	assert.Equal(t, 15*time.Second, opts.LLMTimeout)
	assert.Equal(t, []string{"boards.greenhouse.io", "jobs.lever.co"}, opts.TrackedSites)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JOBEXTRACT_SERVER_PORT", "7070")
	t.Setenv("JOBEXTRACT_BROWSER_LOCAL_PATH", "/usr/bin/chromium")
	t.Setenv("JOBEXTRACT_DIAGNOSTICS_BACKEND", "gcs")
	t.Setenv("JOBEXTRACT_DIAGNOSTICS_GCS_BUCKET", "diag")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.LocalPath)
	assert.Equal(t, "diag", cfg.Diagnostics.GCSBucket)
}

func TestLoadGeminiKeyAlias(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-alias")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-alias", cfg.LLM.APIKey)

	t.Setenv("JOBEXTRACT_LLM_API_KEY", "from-prefixed")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-prefixed", cfg.LLM.APIKey)
}

func TestLoadPortAlias(t *testing.T) {
	t.Setenv("PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "JOBEXTRACT_DOTENV_PROBE"
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=loaded\n"), 0o600))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "loaded", os.Getenv(key))
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	const key = "JOBEXTRACT_DOTENV_EXISTING"
	t.Setenv(key, "shell")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=file\n"), 0o600))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "shell", os.Getenv(key))
}

func TestConfigValidateErrors(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid max input", func(c *Config) { c.LLM.MaxInputChars = 0 }, "llm.max_input_chars"},
		{"invalid llm timeout", func(c *Config) { c.LLM.Timeout = 0 }, "llm.timeout"},
		{"unknown execution context", func(c *Config) { c.Browser.ExecutionContext = "lambda" }, "browser.execution_context"},
		{"invalid navigation timeout", func(c *Config) { c.Browser.NavigationTimeout = 0 }, "browser.navigation_timeout"},
		{"settle inverted", func(c *Config) { c.Browser.SettleMin = 10 * time.Second }, "browser.settle_min"},
		{"unknown diagnostics backend", func(c *Config) { c.Diagnostics.Backend = "s3" }, "diagnostics.backend"},
		{"gcs without bucket", func(c *Config) { c.Diagnostics.Backend = "gcs" }, "diagnostics.gcs_bucket"},
		{"unknown trace exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }, "telemetry"},
		{"sample ratio out of range", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "sample_ratio"},
		{"local without dir", func(c *Config) {
			c.Diagnostics.Backend = "local"
			c.Diagnostics.Local.BaseDir = ""
		}, "diagnostics.local.base_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAllowsMissingCredential(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.LLM.APIKey = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateAllowsZeroSettleMin(t *testing.T) {
	t.Setenv("JOBEXTRACT_BROWSER_SETTLE_MIN", "0s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Zero(t, cfg.Browser.SettleMin)
	assert.Zero(t, cfg.PipelineOptions().SettleMin)
}
