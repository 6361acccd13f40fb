package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/harun/collabedit/internal/config"
	"github.com/harun/collabedit/internal/daemon"
	"github.com/harun/collabedit/internal/logger"
	"github.com/spf13/cobra"
)

var (
	serveWatch  bool
	serveDemo   bool
	servePort   int
	servePretty bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collabd server in the foreground",
	Long: `Run the collabd server in the foreground until SIGINT or SIGTERM.
The server accepts editor clients on /ws, reports health on /healthz and
exposes Prometheus metrics on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "reload log level and rate limits when the config file changes")
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "run synthetic participants in the room")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the gateway port")
	serveCmd.Flags().BoolVar(&servePretty, "pretty", false, "human readable console logs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("demo") {
		cfg.Demo.Enabled = serveDemo
	}
	if cmd.Flags().Changed("port") {
		cfg.Gateway.Port = servePort
	}

	log, err := logger.New(loggerConfig(cfg, servePretty))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.Options{
		ConfigPath:  cfgFile,
		WatchConfig: serveWatch,
	})
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "collabd listening on %s (room %q)\n", d.Status().Addr, cfg.Room)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d.Wait(ctx)
	return nil
}

// loadConfig loads the config file and applies the global --log-level flag
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func loggerConfig(cfg *config.Config, pretty bool) logger.Config {
	file := cfg.Logging.File
	if file == "" {
		file = filepath.Join(cfg.DataDir, "logs", "collabd.log")
	}

	var secrets []string
	if cfg.Gateway.SharedSecret != "" {
		secrets = append(secrets, cfg.Gateway.SharedSecret)
	}

	return logger.Config{
		Level:     cfg.Logging.Level,
		File:      file,
		Console:   cfg.Logging.Console,
		Pretty:    pretty,
		Redaction: cfg.Logging.Redaction,
		Secrets:   secrets,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
}
