// Package config loads and validates the yaml configuration used by the
// demo binary.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Audio     AudioConfig     `yaml:"audio"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EndpointConfig identifies the remote voice endpoint and credentials.
type EndpointConfig struct {
	URL          string `yaml:"url"`
	AgentID      string `yaml:"agent_id"`
	SessionToken string `yaml:"session_token"`
	EnableUpdate bool   `yaml:"enable_update"`
}

// AudioConfig contains audio processing parameters.
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	BlockSize  int    `yaml:"block_size"`
	Backend    string `yaml:"backend"` // "portaudio" or "mock"
	Realtime   bool   `yaml:"realtime"` // prefer the low-latency worker path
}

// KeepaliveConfig tunes the liveness probe cadence.
type KeepaliveConfig struct {
	IntervalMs          int  `yaml:"interval_ms"`
	EscalatedIntervalMs int  `yaml:"escalated_interval_ms"`
	EscalatedDeadlineMs int  `yaml:"escalated_deadline_ms"`
	EndOnLivenessLoss   bool `yaml:"end_on_liveness_loss"`
}

// Interval returns the configured initial ping cadence.
func (k KeepaliveConfig) Interval() time.Duration {
	return time.Duration(k.IntervalMs) * time.Millisecond
}

// EscalatedInterval returns the post-escalation ping cadence.
func (k KeepaliveConfig) EscalatedInterval() time.Duration {
	return time.Duration(k.EscalatedIntervalMs) * time.Millisecond
}

// EscalatedDeadline returns the final pong deadline.
func (k KeepaliveConfig) EscalatedDeadline() time.Duration {
	return time.Duration(k.EscalatedDeadlineMs) * time.Millisecond
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible defaults. The endpoint
// URL and credentials still need to be filled in.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 24000,
			Backend:    "portaudio",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks the configuration section by section.
func (c *Config) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return fmt.Errorf("endpoint config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Keepalive.Validate(); err != nil {
		return fmt.Errorf("keepalive config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks the endpoint section.
func (e EndpointConfig) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("url is required")
	}
	if e.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	return nil
}

// Validate checks the audio section.
func (a AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.BlockSize < 0 {
		return fmt.Errorf("block_size must not be negative, got %d", a.BlockSize)
	}
	switch a.Backend {
	case "portaudio", "mock":
	default:
		return fmt.Errorf("backend must be portaudio or mock, got %q", a.Backend)
	}
	return nil
}

// Validate checks the keepalive section. Zero values mean defaults.
func (k KeepaliveConfig) Validate() error {
	if k.IntervalMs < 0 || k.EscalatedIntervalMs < 0 || k.EscalatedDeadlineMs < 0 {
		return fmt.Errorf("keepalive intervals must not be negative")
	}
	if k.IntervalMs > 0 && k.EscalatedIntervalMs > k.IntervalMs {
		return fmt.Errorf("escalated_interval_ms must not exceed interval_ms (cadence only tightens)")
	}
	return nil
}

// Validate checks the logging section.
func (l LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}
