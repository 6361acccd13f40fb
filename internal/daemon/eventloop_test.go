package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewEventLoop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t), Options{})

	loop := NewEventLoop(d, 0)
	assert.Equal(t, d, loop.daemon)
	assert.Equal(t, defaultMaintenanceInterval, loop.interval)

	loop = NewEventLoop(d, time.Second)
	assert.Equal(t, time.Second, loop.interval)
}

func TestEventLoopRun(t *testing.T) {
	d := createTestDaemon(t, testConfig(t), Options{})
	loop := NewEventLoop(d, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not stop")
	}
}
