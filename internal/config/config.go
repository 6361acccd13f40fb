package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/collabedit/pkg/identity"
	"github.com/harun/collabedit/pkg/projection"
	"github.com/harun/collabedit/pkg/session"
)

// Config represents the main collabd configuration
type Config struct {
	// Room every client joins
	Room string `json:"room" mapstructure:"room"`

	// Editor
	Editor EditorConfig `json:"editor" mapstructure:"editor"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Synthetic participants
	Demo DemoConfig `json:"demo" mapstructure:"demo"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// EditorConfig holds rendering and session settings
type EditorConfig struct {
	Metrics          MetricsConfig `json:"metrics" mapstructure:"metrics"`
	ActivityCapacity int           `json:"activity_capacity" mapstructure:"activity_capacity"`
	ColorMode        string        `json:"color_mode" mapstructure:"color_mode"` // random, name
}

// MetricsConfig holds the editor font metrics in pixels
type MetricsConfig struct {
	LineHeight  float64 `json:"line_height" mapstructure:"line_height"`
	CharWidth   float64 `json:"char_width" mapstructure:"char_width"`
	TopPadding  float64 `json:"top_padding" mapstructure:"top_padding"`
	LeftPadding float64 `json:"left_padding" mapstructure:"left_padding"`
}

// Projection converts the configured metrics for cursor projection
func (m MetricsConfig) Projection() projection.Metrics {
	return projection.Metrics{
		LineHeight:  m.LineHeight,
		CharWidth:   m.CharWidth,
		TopPadding:  m.TopPadding,
		LeftPadding: m.LeftPadding,
	}
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port              int    `json:"port" mapstructure:"port"`
	Host              string `json:"host" mapstructure:"host"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	TickSeconds       int    `json:"tick_seconds" mapstructure:"tick_seconds"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DemoConfig drives the synthetic participants
type DemoConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	Names           []string `json:"names" mapstructure:"names"`
	IntervalSeconds int      `json:"interval_seconds" mapstructure:"interval_seconds"`
	MaxJitter       int      `json:"max_jitter" mapstructure:"max_jitter"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Room: session.DefaultRoom,
		Editor: EditorConfig{
			Metrics: MetricsConfig{
				LineHeight:  projection.DefaultMetrics.LineHeight,
				CharWidth:   projection.DefaultMetrics.CharWidth,
				TopPadding:  projection.DefaultMetrics.TopPadding,
				LeftPadding: projection.DefaultMetrics.LeftPadding,
			},
			ActivityCapacity: 50,
			ColorMode:        string(identity.ColorModeRandom),
		},
		Gateway: GatewayConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			SharedSecret:      "",
			TickSeconds:       30,
			RequestsPerMinute: 1200,
			MaxConcurrent:     4,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Demo: DemoConfig{
			Enabled:         false,
			Names:           []string{"Alex", "Sam", "Jordan"},
			IntervalSeconds: 2,
			MaxJitter:       5,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// TickInterval returns the gateway heartbeat period; zero disables it
func (g GatewayConfig) TickInterval() time.Duration {
	return time.Duration(g.TickSeconds) * time.Second
}

// Interval returns the synthetic tick period
func (d DemoConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Room == "" {
		return fmt.Errorf("room is required")
	}

	if _, err := identity.ParseColorMode(c.Editor.ColorMode); err != nil {
		return fmt.Errorf("editor.color_mode: %w", err)
	}
	if c.Editor.ActivityCapacity <= 0 {
		return fmt.Errorf("editor.activity_capacity must be positive, got %d", c.Editor.ActivityCapacity)
	}
	m := c.Editor.Metrics
	if m.LineHeight <= 0 || m.CharWidth <= 0 {
		return fmt.Errorf("editor.metrics: line_height and char_width must be positive")
	}
	if m.TopPadding < 0 || m.LeftPadding < 0 {
		return fmt.Errorf("editor.metrics: padding must not be negative")
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Demo.Enabled {
		if len(c.Demo.Names) == 0 {
			return fmt.Errorf("demo.names must not be empty when demo is enabled")
		}
		if c.Demo.IntervalSeconds < 1 {
			return fmt.Errorf("demo.interval_seconds must be at least 1, got %d", c.Demo.IntervalSeconds)
		}
	}

	return nil
}
