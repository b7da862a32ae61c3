// ABOUTME: Configuration loading and parsing for human-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config file location.
const EnvConfigPath = "HUMAN_GATEWAY_CONFIG"

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportBoth  = "both"
)

// Config represents the complete human-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	MCP      MCPConfig      `yaml:"mcp" toml:"mcp"`
	Broker   BrokerConfig   `yaml:"broker" toml:"broker"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" toml:"tracing"`
	WebUI    WebUIConfig    `yaml:"webui" toml:"webui"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// MCPConfig selects how agents reach the gateway.
type MCPConfig struct {
	Transport string `yaml:"transport" toml:"transport"` // stdio, http or both
	Path      string `yaml:"path" toml:"path"`
}

// ServesStdio reports whether the stdio transport is enabled.
func (m MCPConfig) ServesStdio() bool {
	return m.Transport == TransportStdio || m.Transport == TransportBoth
}

// ServesHTTP reports whether the streamable HTTP transport is enabled.
func (m MCPConfig) ServesHTTP() bool {
	return m.Transport == TransportHTTP || m.Transport == TransportBoth
}

// BrokerConfig holds request timing configuration
type BrokerConfig struct {
	DefaultTimeout time.Duration `yaml:"-" toml:"-"`
	SettledTTL     time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DefaultTimeoutRaw string `yaml:"default_timeout" toml:"default_timeout"`
	SettledTTLRaw     string `yaml:"settled_ttl" toml:"settled_ttl"`
}

// DatabaseConfig holds outcome ledger configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"` // ":memory:" keeps history in-process
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Exporter    string `yaml:"exporter" toml:"exporter"` // stdout, otlp-http, none
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// WebUIConfig holds operator control panel configuration
type WebUIConfig struct {
	Title        string        `yaml:"title" toml:"title"`
	PollInterval time.Duration `yaml:"-" toml:"-"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := newWithDefaults()
	applyDefaults(cfg)
	if err := parseDurations(cfg); err != nil {
		panic(fmt.Sprintf("config: bad built-in duration: %v", err))
	}
	return cfg
}

// newWithDefaults returns a Config whose boolean defaults are already set, so
// a file that omits them keeps the default.
func newWithDefaults() *Config {
	return &Config{Metrics: MetricsConfig{Enabled: true}}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := newWithDefaults()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(cfg)

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ResolvePath picks the config file location: $HUMAN_GATEWAY_CONFIG, then
// $XDG_CONFIG_HOME/human-gateway/config.yaml, then ~/.config/human-gateway/config.yaml.
func ResolvePath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "human-gateway", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "human-gateway", "config.yaml")
	}
	return filepath.Join(home, ".config", "human-gateway", "config.yaml")
}

// envVarPattern matches ${VAR_NAME}.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:5000"
	}
	if cfg.MCP.Transport == "" {
		cfg.MCP.Transport = TransportStdio
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
	if cfg.Broker.DefaultTimeoutRaw == "" {
		cfg.Broker.DefaultTimeoutRaw = "5m"
	}
	if cfg.Broker.SettledTTLRaw == "" {
		cfg.Broker.SettledTTLRaw = "15m"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = ":memory:"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "stdout"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "human-gateway"
	}
	if cfg.WebUI.Title == "" {
		cfg.WebUI.Title = "Human MCP Control Panel"
	}
	if cfg.WebUI.PollIntervalRaw == "" {
		cfg.WebUI.PollIntervalRaw = "1s"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.MCP.Transport {
	case TransportStdio, TransportHTTP, TransportBoth:
	default:
		return fmt.Errorf("mcp.transport must be stdio, http or both, got %q", c.MCP.Transport)
	}
	if !strings.HasPrefix(c.MCP.Path, "/") {
		return fmt.Errorf("mcp.path must start with /, got %q", c.MCP.Path)
	}
	if strings.TrimRight(c.MCP.Path, "/") == "" {
		return fmt.Errorf("mcp.path must name an endpoint below /, got %q", c.MCP.Path)
	}

	if c.Broker.DefaultTimeout <= 0 {
		return fmt.Errorf("broker.default_timeout must be positive")
	}
	if c.Broker.SettledTTL <= 0 {
		return fmt.Errorf("broker.settled_ttl must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "none":
		case "otlp-http":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("tracing.endpoint is required for the otlp-http exporter")
			}
		default:
			return fmt.Errorf("tracing.exporter must be stdout, otlp-http or none, got %q", c.Tracing.Exporter)
		}
	}

	if c.WebUI.PollInterval <= 0 {
		return fmt.Errorf("webui.poll_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.Broker.DefaultTimeout, err = time.ParseDuration(cfg.Broker.DefaultTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing default_timeout %q: %w", cfg.Broker.DefaultTimeoutRaw, err)
	}

	cfg.Broker.SettledTTL, err = time.ParseDuration(cfg.Broker.SettledTTLRaw)
	if err != nil {
		return fmt.Errorf("parsing settled_ttl %q: %w", cfg.Broker.SettledTTLRaw, err)
	}

	cfg.WebUI.PollInterval, err = time.ParseDuration(cfg.WebUI.PollIntervalRaw)
	if err != nil {
		return fmt.Errorf("parsing poll_interval %q: %w", cfg.WebUI.PollIntervalRaw, err)
	}

	return nil
}
