// Package config loads and validates the HearthSync YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// ListenAddr is the host:port the HTTP API binds to. Defaults to
	// "127.0.0.1:8787" if unset.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database file. Defaults to the per-user data
	// directory if unset.
	DBPath string `yaml:"db_path"`

	// Google configures the Google Calendar connection.
	Google GoogleConfig `yaml:"google"`

	// SchedulerTick controls how often the scheduler evaluates users for a
	// sync run. Minimum 10s, maximum 5m. Defaults to 1m if unset.
	SchedulerTick time.Duration `yaml:"scheduler_tick"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// GoogleConfig holds the Google Calendar API settings.
type GoogleConfig struct {
	// CredentialsFile is the path to the service-account or OAuth client
	// credentials JSON used to authenticate with the Calendar API.
	CredentialsFile string `yaml:"credentials_file"`

	// RequestTimeout bounds each individual Calendar API call.
	// Defaults to 30s if unset.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "hearthsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/hearthsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "hearthsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8787"
	}

	if c.Google.CredentialsFile == "" {
		return fmt.Errorf("google.credentials_file is required")
	}
	if _, err := os.Stat(c.Google.CredentialsFile); err != nil {
		return fmt.Errorf("google.credentials_file %q: %w", c.Google.CredentialsFile, err)
	}

	if c.Google.RequestTimeout == 0 {
		c.Google.RequestTimeout = 30 * time.Second
	}
	if c.Google.RequestTimeout < time.Second {
		return fmt.Errorf("google.request_timeout %v is too short (minimum 1s)", c.Google.RequestTimeout)
	}

	if c.SchedulerTick == 0 {
		c.SchedulerTick = time.Minute
	}
	if c.SchedulerTick < 10*time.Second {
		return fmt.Errorf("scheduler_tick %v is too short (minimum 10s)", c.SchedulerTick)
	}
	if c.SchedulerTick > 5*time.Minute {
		return fmt.Errorf("scheduler_tick %v is too long (maximum 5m)", c.SchedulerTick)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
