package synthetic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/identity"
	"github.com/harun/collabedit/pkg/presence"
	"github.com/harun/collabedit/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []presence.Update
}

func (s *recordingSink) ApplyRemoteUpdate(u presence.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func TestNewDriver(t *testing.T) {
	sink := &recordingSink{}

	t.Run("requires names", func(t *testing.T) {
		_, err := NewDriver(Config{}, sink)
		assert.Error(t, err)
	})

	t.Run("requires sink", func(t *testing.T) {
		_, err := NewDriver(Config{Names: []string{"Ada"}}, nil)
		assert.Error(t, err)
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		_, err := NewDriver(Config{Names: []string{"Ada", "Ada"}}, sink)
		assert.ErrorIs(t, err, identity.ErrNameTaken)
	})

	t.Run("rejects short names", func(t *testing.T) {
		_, err := NewDriver(Config{Names: []string{"A"}}, sink)
		assert.ErrorIs(t, err, identity.ErrNameTooShort)
	})

	t.Run("name colors", func(t *testing.T) {
		d, err := NewDriver(Config{Names: []string{"Ada", "Grace"}, ColorMode: identity.ColorModeName}, sink)
		require.NoError(t, err)

		ps := d.Participants()
		require.Len(t, ps, 2)
		assert.Equal(t, identity.AssignColor("Ada"), ps[0].Color)
		assert.Equal(t, identity.AssignColor("Grace"), ps[1].Color)
		assert.NotEqual(t, ps[0].ParticipantID, ps[1].ParticipantID)
	})
}

func TestDriverTick(t *testing.T) {
	sink := &recordingSink{}
	length := 20
	d, err := NewDriver(Config{
		Names:          []string{"Ada", "Grace"},
		MaxJitter:      3,
		Seed:           42,
		DocumentLength: func() int { return length },
		Logger:         zerolog.Nop(),
	}, sink)
	require.NoError(t, err)

	last := map[string]time.Time{}
	for i := 0; i < 100; i++ {
		d.Tick()
	}

	require.Equal(t, 200, sink.count())
	for _, u := range sink.updates {
		assert.GreaterOrEqual(t, u.Cursor, 0)
		assert.LessOrEqual(t, u.Cursor, length)
		assert.True(t, u.Timestamp.After(last[u.ParticipantID]))
		last[u.ParticipantID] = u.Timestamp
	}

	length = 0
	d.Tick()
	for _, p := range d.Participants() {
		assert.Equal(t, 0, p.Cursor)
	}
}

func TestDriverLifecycle(t *testing.T) {
	sink := &recordingSink{}
	d, err := NewDriver(Config{
		Names:    []string{"Ada"},
		Interval: time.Second,
		Logger:   zerolog.Nop(),
	}, sink)
	require.NoError(t, err)

	d.Start()
	d.Start()
	require.Eventually(t, func() bool { return sink.count() >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, d.Next().IsZero())

	d.Stop()
	d.Stop()

	sink.mu.Lock()
	final := sink.updates[len(sink.updates)-1]
	sink.mu.Unlock()
	assert.True(t, final.Left)
	assert.False(t, final.Online)

	stopped := sink.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sink.count())
}

func TestDriverIntoController(t *testing.T) {
	logger := zerolog.Nop()
	ctrl, err := session.NewController(session.ControllerConfig{
		Replicator: &capturingReplicator{},
		Logger:     &logger,
	})
	require.NoError(t, err)
	_, err = ctrl.Open(context.Background())
	require.NoError(t, err)

	d, err := NewDriver(Config{Names: []string{"Ada", "Grace"}, Logger: zerolog.Nop()}, ctrl)
	require.NoError(t, err)
	d.Tick()

	assert.ElementsMatch(t, []string{"Ada", "Grace"}, ctrl.ExistingNames())

	_, err = ctrl.SubmitName(context.Background(), "Ada")
	assert.ErrorIs(t, err, identity.ErrNameTaken)
}

func TestReplicatorSink(t *testing.T) {
	rep := &capturingReplicator{}
	d, err := NewDriver(Config{Names: []string{"Ada"}, Logger: zerolog.Nop()}, ReplicatorSink{Replicator: rep})
	require.NoError(t, err)

	d.Tick()
	require.Len(t, rep.published, 1)
	assert.Equal(t, "Ada", rep.published[0].Name)
}

type capturingReplicator struct {
	published []presence.Update
}

func (r *capturingReplicator) BroadcastPresence(_ context.Context, u presence.Update) error {
	r.published = append(r.published, u)
	return nil
}

func (r *capturingReplicator) SubscribePresence(func(presence.Update)) func() { return func() {} }

func (r *capturingReplicator) SetDocument(context.Context, document.Update) error { return nil }

func (r *capturingReplicator) SubscribeDocument(func(document.Update)) func() { return func() {} }

func (r *capturingReplicator) Presences() []presence.Update { return r.published }

func (r *capturingReplicator) Document() (document.Update, bool) { return document.Update{}, false }
