package config

import (
	"testing"
	"time"

	"github.com/harun/collabedit/pkg/projection"
	"github.com/harun/collabedit/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, session.DefaultRoom, cfg.Room)
	assert.Equal(t, projection.DefaultMetrics, cfg.Editor.Metrics.Projection())
	assert.Equal(t, 50, cfg.Editor.ActivityCapacity)
	assert.Equal(t, "random", cfg.Editor.ColorMode)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, 30*time.Second, cfg.Gateway.TickInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Demo.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Demo.Interval())
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{"missing room", func(cfg *Config) { cfg.Room = "" }, "room is required"},
		{"bad color mode", func(cfg *Config) { cfg.Editor.ColorMode = "rainbow" }, "color_mode"},
		{"zero activity capacity", func(cfg *Config) { cfg.Editor.ActivityCapacity = 0 }, "activity_capacity"},
		{"zero line height", func(cfg *Config) { cfg.Editor.Metrics.LineHeight = 0 }, "line_height"},
		{"negative padding", func(cfg *Config) { cfg.Editor.Metrics.TopPadding = -1 }, "padding"},
		{"bad port", func(cfg *Config) { cfg.Gateway.Port = 70000 }, "invalid gateway port"},
		{"demo without names", func(cfg *Config) {
			cfg.Demo.Enabled = true
			cfg.Demo.Names = nil
		}, "demo.names"},
		{"demo interval below one second", func(cfg *Config) {
			cfg.Demo.Enabled = true
			cfg.Demo.IntervalSeconds = 0
		}, "interval_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("name color mode is valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Editor.ColorMode = "name"
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	str := cfg.String()

	assert.Contains(t, str, `"room": "collaborative-editor"`)
	assert.Contains(t, str, `"line_height": 22.75`)
}
