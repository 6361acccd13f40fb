package cli

import (
	"bytes"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/harun/collabedit/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := executeCommand(t, "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "--timeout")
	})

	t.Run("not running", func(t *testing.T) {
		path := writeConfig(t, `{"data_dir": "`+t.TempDir()+`"}`)

		_, err := executeCommand(t, "--config", path, "stop")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}

func TestStopDaemon(t *testing.T) {
	t.Run("stale pid file is removed", func(t *testing.T) {
		pidFile := daemon.PIDFilePath(t.TempDir())
		require.NoError(t, writeFile(pidFile, "0"))

		err := stopDaemon(&bytes.Buffer{}, pidFile, time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stale")

		_, statErr := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("invalid pid file", func(t *testing.T) {
		pidFile := daemon.PIDFilePath(t.TempDir())
		require.NoError(t, writeFile(pidFile, "invalid"))

		err := stopDaemon(&bytes.Buffer{}, pidFile, time.Second)
		assert.Error(t, err)
	})

	t.Run("terminates a live process", func(t *testing.T) {
		child := exec.Command("sleep", "30")
		if err := child.Start(); err != nil {
			t.Skipf("sleep unavailable: %v", err)
		}
		exited := make(chan struct{})
		go func() {
			_ = child.Wait()
			close(exited)
		}()

		pidFile := daemon.PIDFilePath(t.TempDir())
		require.NoError(t, writeFile(pidFile, strconv.Itoa(child.Process.Pid)))

		out := &bytes.Buffer{}
		require.NoError(t, stopDaemon(out, pidFile, 5*time.Second))
		assert.Contains(t, out.String(), "Sent SIGTERM")

		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			t.Fatal("process did not exit")
		}

		_, err := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(err))
	})
}
