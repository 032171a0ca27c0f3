// Package admission implements flight submission: creating the journal
// row, then deciding whether the new flight is claimed and scheduled on
// the local worker pool or deferred to the cluster work queue (spec
// §4.6).
package admission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/metrics"
	"github.com/cuemby/stairway/pkg/queue"
	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

// ClassChecker validates a class_name before a journal row is created.
// pkg/factory.Registry satisfies this.
type ClassChecker interface {
	Known(className string) bool
}

// Pool is the subset of workerpool.Pool admission needs: a non-blocking
// local scheduling attempt and a backlog-size probe.
type Pool interface {
	TrySubmit(flightID string) bool
	Backlog() int
}

// Admission implements submit, submit_to_queue, wait, and quiesce.
type Admission struct {
	Journal   journal.Journal
	Queue     queue.Queue // nil: no cluster queue, all work runs locally
	Pool      Pool
	Classes   ClassChecker
	Instance  string
	MaxQueued int
	WaitPoll  time.Duration

	quiescing atomic.Bool
}

// New builds an Admission with WaitPoll defaulted when zero.
func New(j journal.Journal, q queue.Queue, pool Pool, classes ClassChecker, instance string, maxQueued int) *Admission {
	return &Admission{
		Journal:   j,
		Queue:     q,
		Pool:      pool,
		Classes:   classes,
		Instance:  instance,
		MaxQueued: maxQueued,
		WaitPoll:  200 * time.Millisecond,
	}
}

// Submit creates flightID and either schedules it on the local pool or
// defers it to the work queue, whichever admission allows right now.
func (a *Admission) Submit(ctx context.Context, flightID, className string, inputs types.InputParams) error {
	if a.quiescing.Load() {
		return stairwayerr.ErrShutdown
	}
	if !a.Classes.Known(className) {
		return fmt.Errorf("%w: %s", stairwayerr.ErrUnknownClass, className)
	}
	if err := a.Journal.Create(ctx, flightID, className, types.StatusReady, inputs, ""); err != nil {
		return err
	}
	metrics.FlightsSubmittedTotal.WithLabelValues(className).Inc()
	return a.scheduleOrDefer(ctx, flightID)
}

// SubmitToQueue creates flightID exactly like Submit but always defers to
// the work queue, regardless of local backlog state.
func (a *Admission) SubmitToQueue(ctx context.Context, flightID, className string, inputs types.InputParams) error {
	if a.quiescing.Load() {
		return stairwayerr.ErrShutdown
	}
	if !a.Classes.Known(className) {
		return fmt.Errorf("%w: %s", stairwayerr.ErrUnknownClass, className)
	}
	if err := a.Journal.Create(ctx, flightID, className, types.StatusReady, inputs, ""); err != nil {
		return err
	}
	metrics.FlightsSubmittedTotal.WithLabelValues(className).Inc()
	return a.enqueueReady(ctx, flightID)
}

func (a *Admission) scheduleOrDefer(ctx context.Context, flightID string) error {
	if !a.quiescing.Load() && a.Pool.Backlog() < a.MaxQueued {
		ok, err := a.Journal.Claim(ctx, flightID, a.Instance)
		if err != nil {
			return err
		}
		if ok {
			if a.Pool.TrySubmit(flightID) {
				return nil
			}
			// Backlog filled between the check above and TrySubmit;
			// give the claim back so the queue path (or a later
			// dispatch) can pick it up instead.
			if _, derr := a.Journal.Disown(ctx, flightID, a.Instance); derr != nil {
				return derr
			}
		}
	}
	return a.enqueueReady(ctx, flightID)
}

func (a *Admission) enqueueReady(ctx context.Context, flightID string) error {
	if a.Queue == nil {
		return fmt.Errorf("%w: no work queue configured and local backlog is full", stairwayerr.ErrQueue)
	}
	payload, err := queue.EncodeReady(flightID)
	if err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrQueue, err)
	}
	if err := a.Queue.Enqueue(ctx, payload); err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrQueue, err)
	}
	return nil
}

// Wait polls flightID's status until it reaches a terminal status or
// timeout elapses. It never mutates engine state; a timeout leaves the
// flight untouched.
func (a *Admission) Wait(ctx context.Context, flightID string, timeout time.Duration) (types.Status, error) {
	deadline := time.Now().Add(timeout)
	for {
		row, err := a.Journal.Get(ctx, flightID)
		if err != nil {
			return "", err
		}
		if row.Status.IsTerminal() {
			return row.Status, nil
		}
		if time.Now().After(deadline) {
			return row.Status, stairwayerr.ErrWaitTimedOut
		}
		select {
		case <-ctx.Done():
			return row.Status, ctx.Err()
		case <-time.After(a.WaitPoll):
		}
	}
}

// Quiesce stops admitting new work and pulling from the queue, then waits
// up to timeout for in-flight state machines to reach a safe boundary. Any
// flight still RUNNING under this instance when timeout expires is
// disowned so another instance may pick it up.
func (a *Admission) Quiesce(ctx context.Context, timeout time.Duration) error {
	a.quiescing.Store(true)

	deadline := time.Now().Add(timeout)
	for a.Pool.Backlog() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	owned, err := a.Journal.ListDead(ctx, []string{a.Instance})
	if err != nil {
		return err
	}
	for _, row := range owned {
		if row.Status != types.StatusRunning {
			continue
		}
		// Best-effort: if the worker already finished between ListDead
		// and here, the compare-and-set in Disown simply fails.
		_, _ = a.Journal.Disown(ctx, row.ID, a.Instance)
	}
	return nil
}

// Quiescing reports whether Quiesce has been called.
func (a *Admission) Quiescing() bool {
	return a.quiescing.Load()
}
