package cli

import (
	"path/filepath"
	"testing"

	"github.com/harun/collabedit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := executeCommand(t, "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "Write the collabd configuration file")
	})

	t.Run("writes flags to a new file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "collabedit.json")

		output, err := executeCommand(t, "--config", path, "configure",
			"--room", "design-review",
			"--port", "9300",
			"--secret", "correct-horse",
			"--color-mode", "name",
			"--demo",
			"--demo-names", "Ada, Linus ,",
			"--data-dir", dir,
		)
		require.NoError(t, err)
		assert.Contains(t, output, path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "design-review", cfg.Room)
		assert.Equal(t, 9300, cfg.Gateway.Port)
		assert.Equal(t, "correct-horse", cfg.Gateway.SharedSecret)
		assert.Equal(t, "name", cfg.Editor.ColorMode)
		assert.True(t, cfg.Demo.Enabled)
		assert.Equal(t, []string{"Ada", "Linus"}, cfg.Demo.Names)
		assert.Equal(t, dir, cfg.DataDir)
		assert.Equal(t, config.DefaultConfig().Editor.Metrics, cfg.Editor.Metrics)
	})

	t.Run("keeps unspecified settings", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "collabedit.json")

		_, err := executeCommand(t, "--config", path, "configure", "--room", "first", "--data-dir", dir)
		require.NoError(t, err)
		_, err = executeCommand(t, "--config", path, "configure", "--port", "9400")
		require.NoError(t, err)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "first", cfg.Room)
		assert.Equal(t, 9400, cfg.Gateway.Port)
	})

	t.Run("rejects invalid settings", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "collabedit.json")

		_, err := executeCommand(t, "--config", path, "configure", "--secret", "short")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too short")

		_, err = executeCommand(t, "--config", path, "configure", "--demo", "--demo-names", "Ada,Ada")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already taken")
	})
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"Ada", "Linus"}, splitNames(" Ada ,Linus"))
	assert.Nil(t, splitNames(" , "))
}
