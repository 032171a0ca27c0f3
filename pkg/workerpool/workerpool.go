// Package workerpool implements the fixed-size worker pool: max_parallel
// goroutines each running one flight's state machine to completion (or to
// a release point) before picking up the next. The pool's local backlog
// decides when admission must spill a submission to the cluster work
// queue instead of scheduling it directly (spec §4.4).
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/metrics"
)

// RunFunc executes one flight's state machine to a release point. It is
// called on a dedicated pool goroutine; it must not be called concurrently
// for the same flight ID (admission/recovery are responsible for holding
// ownership via Journal.Claim before Submit).
type RunFunc func(ctx context.Context, flightID string)

// Pool is a fixed-size pool of max_parallel workers pulling flight IDs off
// a bounded local backlog of size max_queued.
type Pool struct {
	run         RunFunc
	backlog     chan string
	maxParallel int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	active int32
}

// New builds a Pool. maxParallel defaults to 20 when <= 0; maxQueued is
// clamped to a minimum of 1, matching the spec's invariant that the
// queue-pull loop can always submit one unit of work to probe the pool.
func New(maxParallel, maxQueued int, run RunFunc) *Pool {
	if maxParallel <= 0 {
		maxParallel = 20
	}
	if maxQueued < 1 {
		maxQueued = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		run:         run,
		backlog:     make(chan string, maxQueued),
		maxParallel: maxParallel,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches maxParallel worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.maxParallel; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case flightID, ok := <-p.backlog:
			if !ok {
				return
			}
			metrics.WorkerPoolBacklog.Set(float64(len(p.backlog)))
			p.runOne(flightID)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) runOne(flightID string) {
	atomic.AddInt32(&p.active, 1)
	metrics.WorkerPoolActive.Set(float64(atomic.LoadInt32(&p.active)))
	defer func() {
		atomic.AddInt32(&p.active, -1)
		metrics.WorkerPoolActive.Set(float64(atomic.LoadInt32(&p.active)))
		if r := recover(); r != nil {
			log.WithFlightID(flightID).Error().Interface("panic", r).Msg("flight runner panicked, recovered")
		}
	}()
	p.run(p.ctx, flightID)
}

// TrySubmit attempts to place flightID on the local backlog without
// blocking. It returns false when the backlog is full, signaling the
// caller (admission) to spill to the cluster work queue instead.
func (p *Pool) TrySubmit(flightID string) bool {
	select {
	case p.backlog <- flightID:
		metrics.WorkerPoolBacklog.Set(float64(len(p.backlog)))
		return true
	default:
		return false
	}
}

// Backlog returns the number of flight IDs currently waiting in the local
// backlog.
func (p *Pool) Backlog() int {
	return len(p.backlog)
}

// Active returns the number of workers currently running a flight.
func (p *Pool) Active() int {
	return int(atomic.LoadInt32(&p.active))
}

// Stop cancels all in-flight runs' context and waits for every worker
// goroutine to return. It does not wait for RunFunc to observe
// cancellation gracefully; that cooperation is RunFunc's responsibility.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
