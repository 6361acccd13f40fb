package daemon

import (
	"context"
	"time"

	"github.com/harun/collabedit/internal/observability"
	"github.com/harun/collabedit/pkg/session"
)

const defaultMaintenanceInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon is up
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop. A non-positive interval uses the
// default.
func NewEventLoop(d *Daemon, interval time.Duration) *EventLoop {
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	return &EventLoop{
		daemon:   d,
		interval: interval,
	}
}

// Run runs the event loop until ctx is done
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Dur("interval", e.interval).Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks reports room and client gauges
func (e *EventLoop) processTasks() {
	clients := e.daemon.gatewayServer.GetConnectedClients()
	observability.SetConnectedClients(len(clients))

	idle, joined := 0, 0
	for _, c := range clients {
		if c.Idle {
			idle++
		}
		if c.Session == session.StateJoined {
			joined++
		}
	}

	for _, id := range e.daemon.hub.Rooms() {
		stats, ok := e.daemon.hub.Stats(id)
		if !ok {
			continue
		}
		e.daemon.logger.Debug().
			Str("room", id).
			Int("subscribers", stats.Subscribers).
			Int("presences", stats.Presences).
			Int("pending", stats.Pending).
			Bool("has_document", stats.HasDocument).
			Msg("Room stats")
	}

	e.daemon.logger.Debug().
		Int("clients", len(clients)).
		Int("idle", idle).
		Int("joined", joined).
		Msg("Gateway stats")
}
