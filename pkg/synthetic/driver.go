// Package synthetic drives demo participants whose cursors wander on a timer.
// They reach a session through the same remote-update entry point a real peer
// uses, so the session cannot tell them apart.
package synthetic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/collabedit/pkg/identity"
	"github.com/harun/collabedit/pkg/presence"
	"github.com/harun/collabedit/pkg/session"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval  = 2 * time.Second
	DefaultMaxJitter = 5
)

// Sink receives synthetic presence updates. *session.Controller satisfies it.
type Sink interface {
	ApplyRemoteUpdate(u presence.Update) error
}

// ReplicatorSink publishes synthetic updates into a replicated room so every
// session subscribed to it sees them.
type ReplicatorSink struct {
	Replicator session.Replicator
}

// ApplyRemoteUpdate broadcasts u through the replicator
func (s ReplicatorSink) ApplyRemoteUpdate(u presence.Update) error {
	return s.Replicator.BroadcastPresence(context.Background(), u)
}

// Config holds driver configuration
type Config struct {
	Names     []string
	Interval  time.Duration
	MaxJitter int
	ColorMode identity.ColorMode
	// DocumentLength bounds the cursors; nil keeps them at zero
	DocumentLength func() int
	// Seed makes the walk reproducible; zero seeds from the runtime
	Seed   uint64
	Logger zerolog.Logger
}

type participant struct {
	update presence.Update
}

// Driver moves a fixed set of synthetic participants on a cron schedule
type Driver struct {
	cfg  Config
	sink Sink

	mu           sync.Mutex
	rng          *rand.Rand
	participants []*participant
	last         time.Time

	scheduler *cron.Cron
	entry     cron.EntryID
	running   bool
}

// NewDriver validates the participant names and prepares the schedule
func NewDriver(cfg Config, sink Sink) (*Driver, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if len(cfg.Names) == 0 {
		return nil, fmt.Errorf("at least one synthetic participant is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = DefaultMaxJitter
	}

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	assigner := identity.NewAssigner(cfg.ColorMode)
	d := &Driver{
		cfg:  cfg,
		sink: sink,
		rng:  rng,
	}

	taken := make([]string, 0, len(cfg.Names))
	for _, raw := range cfg.Names {
		name, err := identity.ValidateName(raw, taken)
		if err != nil {
			return nil, fmt.Errorf("synthetic participant %q: %w", raw, err)
		}
		taken = append(taken, name)

		d.participants = append(d.participants, &participant{update: presence.Update{
			ParticipantID: "synthetic-" + uuid.New().String(),
			Name:          name,
			Color:         assigner.ForName(name, identity.Palette[rng.IntN(len(identity.Palette))]),
			Selection:     presence.NoSelection(),
			Online:        true,
		}})
	}

	d.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	entry, err := d.scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Interval), d.Tick)
	if err != nil {
		return nil, fmt.Errorf("schedule synthetic driver: %w", err)
	}
	d.entry = entry

	return d, nil
}

// Start announces every participant and starts the schedule
func (d *Driver) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.emit(d.advance(false))
	d.scheduler.Start()

	d.cfg.Logger.Info().
		Int("participants", len(d.participants)).
		Dur("interval", d.cfg.Interval).
		Msg("Synthetic participants started")
}

// Stop halts the schedule, waits for a running tick and announces that every
// participant left.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	<-d.scheduler.Stop().Done()

	d.mu.Lock()
	updates := make([]presence.Update, 0, len(d.participants))
	for _, p := range d.participants {
		p.update.Timestamp = d.stampLocked()
		p.update.Online = false
		u := p.update
		u.Left = true
		updates = append(updates, u)
	}
	d.mu.Unlock()

	d.emit(updates)
	d.cfg.Logger.Info().Msg("Synthetic participants stopped")
}

// Tick moves every cursor by a random step and emits the new presences
func (d *Driver) Tick() {
	d.emit(d.advance(true))
}

// Participants returns the current synthetic presences
func (d *Driver) Participants() []presence.Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]presence.Update, 0, len(d.participants))
	for _, p := range d.participants {
		out = append(out, p.update)
	}
	return out
}

// Next returns the next scheduled tick, or the zero time when stopped
func (d *Driver) Next() time.Time {
	return d.scheduler.Entry(d.entry).Next
}

func (d *Driver) advance(move bool) []presence.Update {
	limit := 0
	if d.cfg.DocumentLength != nil {
		limit = d.cfg.DocumentLength()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	updates := make([]presence.Update, 0, len(d.participants))
	for _, p := range d.participants {
		cursor := p.update.Cursor
		if move {
			cursor += d.rng.IntN(2*d.cfg.MaxJitter+1) - d.cfg.MaxJitter
		}
		p.update.Cursor = max(0, min(cursor, limit))
		p.update.Timestamp = d.stampLocked()
		updates = append(updates, p.update)
	}
	return updates
}

// stampLocked returns a timestamp strictly after every one handed out before
func (d *Driver) stampLocked() time.Time {
	now := time.Now()
	if !now.After(d.last) {
		now = d.last.Add(time.Nanosecond)
	}
	d.last = now
	return now
}

func (d *Driver) emit(updates []presence.Update) {
	for _, u := range updates {
		if err := d.sink.ApplyRemoteUpdate(u); err != nil {
			d.cfg.Logger.Warn().Err(err).Str("participant_id", u.ParticipantID).Msg("Synthetic update rejected")
		}
	}
}
