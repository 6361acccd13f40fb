package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/collabedit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := executeCommand(t, "serve", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Run the collabd server in the foreground")
		assert.Contains(t, output, "--demo")
		assert.Contains(t, output, "--watch")
	})

	t.Run("invalid config file", func(t *testing.T) {
		path := writeConfig(t, `{"editor": {"color_mode": "rainbow"}, "data_dir": "`+t.TempDir()+`"}`)

		_, err := executeCommand(t, "--config", path, "serve", "--watch=false")
		assert.Error(t, err)
	})
}

func TestLoggerConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = "/var/lib/collabd"
	cfg.Gateway.SharedSecret = "s3cret-value"

	lc := loggerConfig(cfg, true)
	assert.Equal(t, filepath.Join("/var/lib/collabd", "logs", "collabd.log"), lc.File)
	assert.Equal(t, []string{"s3cret-value"}, lc.Secrets)
	assert.True(t, lc.Pretty)
	assert.Equal(t, cfg.Logging.Level, lc.Level)
	assert.Equal(t, cfg.Logging.MaxSize, lc.MaxSize)

	cfg.Logging.File = "/tmp/custom.log"
	cfg.Gateway.SharedSecret = ""
	lc = loggerConfig(cfg, false)
	assert.Equal(t, "/tmp/custom.log", lc.File)
	assert.Empty(t, lc.Secrets)
}

func TestLoadConfigLogLevelOverride(t *testing.T) {
	path := writeConfig(t, `{"logging": {"level": "warn"}, "data_dir": "`+t.TempDir()+`"}`)

	_, err := executeCommand(t, "--config", path, "--log-level", "debug", "status")
	require.NoError(t, err)

	cfg, err := loadConfig(statusCmd)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collabedit.json")
	require.NoError(t, writeFile(path, body))
	return path
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0644)
}
