package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/harun/collabedit/internal/config"
	"github.com/harun/collabedit/internal/daemon"
	"github.com/harun/collabedit/pkg/relay"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Show whether collabd is running and, if so, the room it serves and how many clients are connected.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// healthReport is the /healthz body
type healthReport struct {
	Status   string         `json:"status"`
	Room     string         `json:"room"`
	Clients  int            `json:"clients"`
	Sessions map[string]int `json:"sessions"`
	Relay    *relay.Stats   `json:"relay,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessAlive(pid) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// PID file modification time approximates the start time
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	report, err := fetchHealth(cfg)
	if err != nil {
		fmt.Fprintf(out, "Health: unavailable (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Health: %s\n", report.Status)
	fmt.Fprintf(out, "Room: %s\n", report.Room)
	fmt.Fprintf(out, "Clients: %d (%d joined)\n", report.Clients, report.Sessions["joined"])
	if report.Relay != nil {
		fmt.Fprintf(out, "Presences: %d\n", report.Relay.Presences)
		fmt.Fprintf(out, "Document replicated: %t\n", report.Relay.HasDocument)
	}
	return nil
}

func fetchHealth(cfg *config.Config) (*healthReport, error) {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port)) + "/healthz"

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var report healthReport
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&report); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &report, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
