// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/jobinfo-extractor/internal/diagnostics/local"
	"github.com/JakeFAU/jobinfo-extractor/internal/environment"
	"github.com/JakeFAU/jobinfo-extractor/internal/pipeline"
	"github.com/JakeFAU/jobinfo-extractor/internal/telemetry"
)

// EnvPrefix namespaces environment overrides, e.g. JOBEXTRACT_SERVER_PORT.
const EnvPrefix = "JOBEXTRACT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Telemetry   telemetry.Config  `mapstructure:"telemetry"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LLMConfig points the prompter at a Gemini model.
type LLMConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	Endpoint      string        `mapstructure:"endpoint"`
	Model         string        `mapstructure:"model"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// BrowserConfig configures browser resolution and render timing.
type BrowserConfig struct {
	ExecutionContext  string        `mapstructure:"execution_context"`
	LocalPath         string        `mapstructure:"local_path"`
	DownloadDir       string        `mapstructure:"download_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleMin         time.Duration `mapstructure:"settle_min"`
	SettleMax         time.Duration `mapstructure:"settle_max"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DiagnosticsConfig selects where failure artifacts are written.
type DiagnosticsConfig struct {
	Backend        string       `mapstructure:"backend"`
	Prefix         string       `mapstructure:"prefix"`
	CaptureSuccess bool         `mapstructure:"capture_success"`
	GCSBucket      string       `mapstructure:"gcs_bucket"`
	Local          local.Config `mapstructure:"local"`
}

// MetricsConfig bounds the label values Prometheus sees.
type MetricsConfig struct {
	// TrackedSites are hostnames counted under their own site label.
	TrackedSites []string `mapstructure:"tracked_sites"`
}

// LoadDotEnv exports variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file at path and the
// environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The bare provider variable is what most Gemini tooling exports.
	if err := v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "GEMINI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind llm.api_key: %w", err)
	}
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind server.port: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("llm.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.max_input_chars", 4000)
	v.SetDefault("llm.timeout", 20*time.Second)
	v.SetDefault("browser.execution_context", string(environment.Local))
	v.SetDefault("browser.local_path", "")
	v.SetDefault("browser.download_dir", "")
	v.SetDefault("browser.navigation_timeout", 35*time.Second)
	v.SetDefault("browser.settle_min", time.Second)
	v.SetDefault("browser.settle_max", 5*time.Second)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("diagnostics.backend", "none")
	v.SetDefault("diagnostics.prefix", "diagnostics")
	v.SetDefault("diagnostics.capture_success", false)
	v.SetDefault("diagnostics.gcs_bucket", "")
	v.SetDefault("diagnostics.local.base_dir", "./diagnostics")
	v.SetDefault("telemetry.service_name", "jobextract")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.exporter", telemetry.ExporterNone)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("metrics.tracked_sites", []string{})
}

// Validate enforces required values and reasonable limits. A missing LLM
// credential or local browser path is not a startup error; requests report
// it as a configuration failure instead.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.LLM.MaxInputChars <= 0 {
		return fmt.Errorf("llm.max_input_chars must be > 0")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be > 0")
	}
	if _, err := environment.ParseExecutionContext(c.Browser.ExecutionContext); err != nil {
		return fmt.Errorf("browser.execution_context: %w", err)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if c.Browser.SettleMin < 0 || c.Browser.SettleMax <= 0 || c.Browser.SettleMin > c.Browser.SettleMax {
		return fmt.Errorf("browser.settle_min must be within [0, browser.settle_max] and settle_max > 0")
	}
	switch strings.ToLower(c.Diagnostics.Backend) {
	case "", "none", "memory":
	case "local":
		if strings.TrimSpace(c.Diagnostics.Local.BaseDir) == "" {
			return fmt.Errorf("diagnostics.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(c.Diagnostics.GCSBucket) == "" {
			return fmt.Errorf("diagnostics.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("diagnostics.backend %q is not one of none, local, gcs, memory", c.Diagnostics.Backend)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// PipelineOptions converts the loaded configuration into orchestrator options.
func (c Config) PipelineOptions() pipeline.Options {
	execCtx, err := environment.ParseExecutionContext(c.Browser.ExecutionContext)
	if err != nil {
		execCtx = environment.ExecutionContext(c.Browser.ExecutionContext)
	}
	return pipeline.Options{
		APIKey:             c.LLM.APIKey,
		ExecutionContext:   execCtx,
		LocalBrowserPath:   c.Browser.LocalPath,
		BrowserDownloadDir: c.Browser.DownloadDir,
		ViewportWidth:      c.Browser.ViewportWidth,
		ViewportHeight:     c.Browser.ViewportHeight,
		UserAgent:          c.Browser.UserAgent,
		NavigationTimeout:  c.Browser.NavigationTimeout,
		SettleMin:          c.Browser.SettleMin,
		SettleMax:          c.Browser.SettleMax,
		LLMEndpoint:        c.LLM.Endpoint,
		LLMModel:           c.LLM.Model,
		MaxInputChars:      c.LLM.MaxInputChars,
		LLMTimeout:         c.LLM.Timeout,
		TrackedSites:       c.Metrics.TrackedSites,
	}
}
