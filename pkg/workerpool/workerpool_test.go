package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_RunsSubmittedFlights(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	wg.Add(3)

	p := New(2, 4, func(ctx context.Context, flightID string) {
		mu.Lock()
		seen[flightID] = true
		mu.Unlock()
		wg.Done()
	})
	p.Start()
	defer p.Stop()

	assert.True(t, p.TrySubmit("f1"))
	assert.True(t, p.TrySubmit("f2"))
	assert.True(t, p.TrySubmit("f3"))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flights to run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen["f1"])
	assert.True(t, seen["f2"])
	assert.True(t, seen["f3"])
}

func TestPool_TrySubmitFailsWhenBacklogFull(t *testing.T) {
	block := make(chan struct{})
	p := New(1, 1, func(ctx context.Context, flightID string) {
		<-block
	})
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	assert.True(t, p.TrySubmit("f1")) // picked up by the single worker immediately
	assert.True(t, p.TrySubmit("f2")) // fills the backlog (size 1)
	assert.False(t, p.TrySubmit("f3"), "backlog of size max_queued must reject once full")
}

func TestNew_ClampsInvalidSizes(t *testing.T) {
	p := New(0, 0, func(ctx context.Context, flightID string) {})
	assert.Equal(t, 20, p.maxParallel)
	assert.Equal(t, 1, cap(p.backlog))
}
