// Package recovery implements the Recovery Coordinator (spec §4.7): the
// startup sequence that truncates/migrates the journal if asked, then
// atomically resets flights owned by peers the application has declared
// dead back to READY, enqueues them, and records this instance. Pulling
// from the work queue is started by the engine, not by this package.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/metrics"
	"github.com/cuemby/stairway/pkg/queue"
	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

// Coordinator runs the Initialize/RecoverAndStart sequence against a
// Journal and a Queue for one engine instance.
type Coordinator struct {
	Journal  journal.Journal
	Queue    queue.Queue
	Instance string
}

// New builds a Coordinator for instance against journal j and queue q.
func New(j journal.Journal, q queue.Queue, instance string) *Coordinator {
	return &Coordinator{Journal: j, Queue: q, Instance: instance}
}

// Initialize applies schema migrations when migrate is set, removes
// flights when forceClean is set, and returns every instance name
// currently recorded in the journal other than me. dataSource/driverName
// select the schema migration target. forceClean runs through the
// journal's own methods (see truncateAll): it deletes flight rows and
// their cascaded rows, but keeps stairwayinstance rows and does not touch
// the work queue.
func Initialize(ctx context.Context, j journal.Journal, driverName, dataSource string, forceClean, migrate bool, instance string) ([]string, error) {
	if migrate {
		if err := journal.Migrate(driverName, dataSource); err != nil {
			return nil, fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
		}
	}
	if forceClean {
		if err := truncateAll(ctx, j); err != nil {
			return nil, err
		}
	}
	peers, err := j.ListInstances(ctx, instance)
	if err != nil {
		return nil, err
	}
	return peers, nil
}

// truncateAll exits every non-terminal flight on the first Enumerate page
// (up to 10000 rows) as FATAL, then calls Retain with a horizon far in the
// future, which deletes every terminal flight. Retain only ever removes
// terminal flights by design (spec §4.8 invariant: never delete a
// non-terminal flight); force_clean is an explicit operator action that
// bypasses that invariant by forcing those flights terminal first.
// Non-terminal flights beyond the first page are left as they are.
func truncateAll(ctx context.Context, j journal.Journal) error {
	page, err := j.Enumerate(ctx, journal.EnumerateFilter{}, "", 10000)
	if err != nil {
		return err
	}
	for _, row := range page.Flights {
		if !row.Status.IsTerminal() {
			if err := j.Exit(ctx, row.ID, types.StatusFatal, "force_clean"); err != nil {
				return err
			}
		}
	}
	if _, err := j.Retain(ctx, time.Now().AddDate(100, 0, 0)); err != nil {
		return err
	}
	return nil
}

// RecoverAndStart resets flights owned by deadPeers back to READY,
// deletes their instance rows, enqueues a Ready message for every READY
// flight with no owner, records this instance, and returns the list of
// flight IDs it re-enqueued so the caller can log/verify.
func (c *Coordinator) RecoverAndStart(ctx context.Context, deadPeers []string) ([]string, error) {
	if len(deadPeers) > 0 {
		owned, err := c.Journal.ListDead(ctx, deadPeers)
		if err != nil {
			return nil, err
		}
		for _, row := range owned {
			if row.Status != types.StatusRunning {
				continue
			}
			ok, err := c.Journal.Disown(ctx, row.ID, derefOwner(row.Owner))
			if err != nil {
				return nil, err
			}
			if !ok {
				log.WithFlightID(row.ID).Warn().Msg("recovery: owner mismatch resetting dead peer's flight, skipping")
				continue
			}
			metrics.RecoveredFlightsTotal.Inc()
		}
		for _, peer := range deadPeers {
			if err := c.Journal.DeregisterInstance(ctx, peer); err != nil {
				return nil, err
			}
		}
	}

	page, err := c.Journal.Enumerate(ctx, journal.EnumerateFilter{Status: types.StatusReady}, "", 10000)
	if err != nil {
		return nil, err
	}
	var enqueued []string
	for _, row := range page.Flights {
		if row.Owner != nil {
			continue
		}
		payload, err := queue.EncodeReady(row.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", stairwayerr.ErrQueue, err)
		}
		if err := c.Queue.Enqueue(ctx, payload); err != nil {
			return nil, fmt.Errorf("%w: %v", stairwayerr.ErrQueue, err)
		}
		enqueued = append(enqueued, row.ID)
	}

	if err := c.Journal.RegisterInstance(ctx, c.Instance); err != nil {
		return nil, err
	}
	log.WithInstance(c.Instance).Info().Int("reenqueued", len(enqueued)).Int("dead_peers", len(deadPeers)).Msg("recovery: startup sweep complete")
	return enqueued, nil
}

func derefOwner(owner *string) string {
	if owner == nil {
		return ""
	}
	return *owner
}
