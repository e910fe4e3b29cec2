// Package config handles loading and validating LARS configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for LARS.
type Config struct {
	Listen   string          `json:"listen,omitempty" yaml:"listen,omitempty"`     // Bind address. Default: ":8000". Override: LARS_LISTEN.
	DataDir  string          `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Session store root. Default: ~/.lars/data. Override: LARS_DATA_DIR.
	APIToken string          `json:"api_token,omitempty" yaml:"api_token,omitempty"`
	Provider ProvidersConfig `json:"providers" yaml:"providers"`
	Exec     ExecConfig      `json:"exec" yaml:"exec"`
	HTTP     HTTPConfig      `json:"http" yaml:"http"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
	Logging  LoggingConfig   `json:"logging" yaml:"logging"`
}

// ProvidersConfig selects and configures the planning backends.
type ProvidersConfig struct {
	Default   string         `json:"default" yaml:"default"` // "openai" (default) or "anthropic".
	Fallback  bool           `json:"fallback" yaml:"fallback"`
	OpenAI    ProviderConfig `json:"openai" yaml:"openai"`
	Anthropic ProviderConfig `json:"anthropic" yaml:"anthropic"`
}

// ProviderConfig holds one backend's credentials and model selection.
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`       // Empty = provider default.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Empty = provider default. Set for OpenAI-compatible backends.
}

// ExecConfig bounds snippet execution.
type ExecConfig struct {
	TimeoutMS      int    `json:"timeout_ms" yaml:"timeout_ms"`             // Default: 8000.
	MaxResultBytes int    `json:"max_result_bytes" yaml:"max_result_bytes"` // Default: 32768.
	MaxOutputBytes int    `json:"max_output_bytes" yaml:"max_output_bytes"` // Default: 4096.
	MaxSteps       uint64 `json:"max_steps" yaml:"max_steps"`               // Default: 5000000.
}

// Timeout returns the execution timeout with its default applied.
func (e *ExecConfig) Timeout() time.Duration {
	if e.TimeoutMS > 0 {
		return time.Duration(e.TimeoutMS) * time.Millisecond
	}
	return 8 * time.Second
}

// HTTPConfig bounds the transport layer.
type HTTPConfig struct {
	MaxBodyBytes      int64 `json:"max_body_bytes" yaml:"max_body_bytes"`             // Default: 1 MiB.
	RequestsPerMinute int   `json:"requests_per_minute" yaml:"requests_per_minute"`   // Per session. 0 = unlimited.
	RateLimitBurst    int   `json:"rate_limit_burst" yaml:"rate_limit_burst"`         // Default: RequestsPerMinute.
	ShutdownTimeoutS  int   `json:"shutdown_timeout_s" yaml:"shutdown_timeout_s"`     // Default: 15.
	ReadHeaderTimeout int   `json:"read_header_timeout" yaml:"read_header_timeout"`   // Seconds. Default: 10.
}

// BodyLimit returns the request body cap with its default applied.
func (h *HTTPConfig) BodyLimit() int64 {
	if h.MaxBodyBytes > 0 {
		return h.MaxBodyBytes
	}
	return 1 << 20
}

// ShutdownTimeout returns the graceful shutdown budget with its default.
func (h *HTTPConfig) ShutdownTimeout() time.Duration {
	if h.ShutdownTimeoutS > 0 {
		return time.Duration(h.ShutdownTimeoutS) * time.Second
	}
	return 15 * time.Second
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics".
}

// MetricsPath returns the exposition path with its default applied.
func (m *MetricsConfig) MetricsPath() string {
	if m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info" (default), "warn", "error".
	Format string `json:"format" yaml:"format"` // "json" (default) or "text".
}

// DefaultConfigPath returns the default config file path (~/.lars/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/lars.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".lars", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. An empty path loads defaults plus environment overrides,
// so the service runs with no config file at all. Environment variables
// take precedence over file values.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		}
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv layers environment variables over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("LARS_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LARS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LARS_API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := os.Getenv("LARS_DEFAULT_PROVIDER"); v != "" {
		c.Provider.Default = strings.ToLower(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Provider.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Provider.OpenAI.BaseURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Provider.Anthropic.APIKey = v
	}
	if v := os.Getenv("LARS_EXEC_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Exec.TimeoutMS = n
		}
	}
	if v := os.Getenv("LARS_MAX_RESULT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Exec.MaxResultBytes = n
		}
	}
	if v := os.Getenv("LARS_MAX_OUTPUT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Exec.MaxOutputBytes = n
		}
	}
	if v := os.Getenv("LARS_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.HTTP.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("LARS_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("LARS_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LARS_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("LARS_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true" || v == "1"
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".lars", "data")
		} else {
			c.DataDir = "data"
		}
	}
	if c.Provider.Default == "" {
		c.Provider.Default = "openai"
	}
	if c.Exec.TimeoutMS == 0 {
		c.Exec.TimeoutMS = 8000
	}
	if c.Exec.MaxResultBytes == 0 {
		c.Exec.MaxResultBytes = 32768
	}
	if c.Exec.MaxOutputBytes == 0 {
		c.Exec.MaxOutputBytes = 4096
	}
	if c.Exec.MaxSteps == 0 {
		c.Exec.MaxSteps = 5_000_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Provider.Default {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("providers.default must be \"openai\" or \"anthropic\", got %q", c.Provider.Default)
	}
	if c.Exec.TimeoutMS < 0 {
		return fmt.Errorf("exec.timeout_ms must not be negative")
	}
	if c.HTTP.RequestsPerMinute < 0 {
		return fmt.Errorf("http.requests_per_minute must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug/info/warn/error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json/text", c.Logging.Format)
	}
	return nil
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
