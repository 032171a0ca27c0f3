// Package retention implements the Retention Janitor (spec §4.8): a
// ticker-driven sweep that deletes completed flights older than
// completed_flight_retention, never touching a flight whose status is not
// terminal.
package retention

import (
	"context"
	"time"

	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/metrics"
)

// DefaultCheckInterval is used when no retention_check_interval is
// configured.
const DefaultCheckInterval = 24 * time.Hour

// Janitor runs Journal.Retain on a fixed interval. A nil Retention means
// completed flights are kept forever and the janitor never deletes
// anything (matches the spec's "unbounded" default). An explicit zero
// Retention means "delete immediately": the horizon is the current time,
// so every flight already in a terminal status is swept on the next tick.
type Janitor struct {
	Journal   journal.Journal
	Interval  time.Duration
	Retention *time.Duration
	Leader    LeaderChecker
	stopCh    chan struct{}
}

// LeaderChecker restricts the janitor to a single cluster leader when
// wired to pkg/cluster's Raft-backed elector. A nil Leader means the
// janitor always runs, appropriate for single-instance deployments.
type LeaderChecker interface {
	IsLeader() bool
}

// New builds a Janitor. Interval defaults to DefaultCheckInterval when
// zero or negative. retention is nil for unbounded retention, or a pointer
// to an explicit threshold (which may itself be zero).
func New(j journal.Journal, interval time.Duration, retention *time.Duration, leader LeaderChecker) *Janitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Janitor{
		Journal:   j,
		Interval:  interval,
		Retention: retention,
		Leader:    leader,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine.
func (j *Janitor) Start() {
	go j.run()
}

// Stop ends the sweep loop. Safe to call once.
func (j *Janitor) Stop() {
	close(j.stopCh)
}

func (jn *Janitor) run() {
	ticker := time.NewTicker(jn.Interval)
	defer ticker.Stop()

	log.WithComponent("retention").Info().Dur("interval", jn.Interval).Msg("retention janitor started")

	for {
		select {
		case <-ticker.C:
			if err := jn.sweep(context.Background()); err != nil {
				log.WithComponent("retention").Error().Err(err).Msg("retention sweep failed")
			}
		case <-jn.stopCh:
			log.WithComponent("retention").Info().Msg("retention janitor stopped")
			return
		}
	}
}

// sweep runs one retention cycle; the ticker loop calls it and Sweep
// exposes it.
func (jn *Janitor) sweep(ctx context.Context) error {
	if jn.Retention == nil {
		// Unbounded retention: nothing is ever old enough to delete.
		return nil
	}
	if jn.Leader != nil && !jn.Leader.IsLeader() {
		return nil
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.RetentionCycleDuration)
		metrics.RetentionCyclesTotal.Inc()
	}()

	// A zero threshold means delete immediately: horizon is now, so every
	// flight already in a terminal status qualifies.
	horizon := time.Now().Add(-*jn.Retention)
	deleted, err := jn.Journal.Retain(ctx, horizon)
	if err != nil {
		return err
	}
	if deleted > 0 {
		metrics.RetentionDeletedTotal.Add(float64(deleted))
		log.WithComponent("retention").Info().Int64("deleted", deleted).Time("horizon", horizon).Msg("retention sweep deleted completed flights")
	}
	return nil
}

// Sweep runs one retention cycle immediately, bypassing the ticker, so
// tests can trigger a cycle deterministically.
func (jn *Janitor) Sweep(ctx context.Context) error {
	return jn.sweep(ctx)
}
