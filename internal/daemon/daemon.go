package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/harun/collabedit/internal/config"
	"github.com/harun/collabedit/internal/logger"
	"github.com/harun/collabedit/internal/observability"
	"github.com/harun/collabedit/internal/tracing"
	"github.com/harun/collabedit/pkg/gateway"
	"github.com/harun/collabedit/pkg/identity"
	"github.com/harun/collabedit/pkg/relay"
	"github.com/harun/collabedit/pkg/synthetic"
)

// Options holds settings that do not come from the config file
type Options struct {
	// ConfigPath is watched for live reloads when WatchConfig is set
	ConfigPath  string
	WatchConfig bool
	// MaintenanceInterval overrides the event loop period
	MaintenanceInterval time.Duration
}

// Daemon runs the collaboration server: the relay hub, the websocket gateway
// and the optional synthetic participants.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	options Options

	hub           *relay.Hub
	gatewayServer *gateway.Server
	demo          *synthetic.Driver
	watcher       *config.Watcher

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:  cfg,
		logger:  log,
		options: opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d, opts.MaintenanceInterval)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeServices() error {
	zl := d.logger.GetZerolog()

	colorMode, err := identity.ParseColorMode(d.config.Editor.ColorMode)
	if err != nil {
		return err
	}

	d.hub = relay.NewHub(zl)

	d.gatewayServer, err = gateway.NewServer(gateway.Config{
		Host:              d.config.Gateway.Host,
		Port:              d.config.Gateway.Port,
		SharedSecret:      d.config.Gateway.SharedSecret,
		Room:              d.config.Room,
		Hub:               d.hub,
		ColorMode:         colorMode,
		Metrics:           d.config.Editor.Metrics.Projection(),
		ActivityCapacity:  d.config.Editor.ActivityCapacity,
		TickInterval:      d.config.Gateway.TickInterval(),
		RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
		MaxConcurrent:     d.config.Gateway.MaxConcurrent,
		Logger:            zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	if d.config.Demo.Enabled {
		room := d.hub.Room(d.config.Room)
		d.demo, err = synthetic.NewDriver(synthetic.Config{
			Names:          d.config.Demo.Names,
			Interval:       d.config.Demo.Interval(),
			MaxJitter:      d.config.Demo.MaxJitter,
			ColorMode:      colorMode,
			DocumentLength: roomDocumentLength(room),
			Logger:         zl,
		}, synthetic.ReplicatorSink{Replicator: room})
		if err != nil {
			return fmt.Errorf("failed to create synthetic participants: %w", err)
		}
	}

	if d.options.WatchConfig {
		d.watcher, err = config.NewWatcher(config.WatcherConfig{
			ConfigPath: d.options.ConfigPath,
			OnReload:   d.applyConfig,
			Logger:     zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	return nil
}

// roomDocumentLength bounds synthetic cursors by the replicated document
func roomDocumentLength(room *relay.Room) func() int {
	return func() int {
		doc, ok := room.Document()
		if !ok {
			return 0
		}
		return utf8.RuneCountInString(doc.Content)
	}
}

// applyConfig applies the settings that can change without a restart
func (d *Daemon) applyConfig(cfg *config.Config) {
	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to apply log level")
	}
	d.gatewayServer.UpdateRateLimits(cfg.Gateway.RequestsPerMinute, cfg.Gateway.MaxConcurrent)

	d.mu.Lock()
	d.config.Logging.Level = cfg.Logging.Level
	d.config.Gateway.RequestsPerMinute = cfg.Gateway.RequestsPerMinute
	d.config.Gateway.MaxConcurrent = cfg.Gateway.MaxConcurrent
	d.mu.Unlock()
}

// Start starts every service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("room", d.config.Room).Msg("Starting collabd")

	tracing.InitOpenTelemetry("collabd")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.markStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if d.demo != nil {
		d.demo.Start()
		logger.Info().Int("participants", len(d.config.Demo.Names)).Msg("Synthetic participants started")
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher, live reload disabled")
			d.watcher = nil
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("collabd started")
	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops every service in reverse start order
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping collabd")

	d.cancel()
	d.wg.Wait()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.demo != nil {
		d.demo.Stop()
		logger.Info().Msg("Synthetic participants stopped")
	}

	if err := d.gatewayServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	d.hub.Close()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("collabd stopped")
	return nil
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
	Clients   int
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
		status.Clients = len(d.gatewayServer.GetConnectedClients())
	}

	return status
}

// Wait blocks until SIGINT, SIGTERM or ctx is done, then stops the daemon
func (d *Daemon) Wait(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context cancelled")
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetHub returns the relay hub
func (d *Daemon) GetHub() *relay.Hub {
	return d.hub
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetSyntheticDriver returns the synthetic participant driver, nil when the
// demo is disabled
func (d *Daemon) GetSyntheticDriver() *synthetic.Driver {
	return d.demo
}
