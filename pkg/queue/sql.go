package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuemby/stairway/pkg/metrics"
)

// SQLQueue is a cluster-shared Queue backed by the flightqueue table,
// giving every Stairway instance in a cluster a common at-least-once work
// queue without introducing a separate message broker dependency.
// Visibility timeout semantics mirror SQS: a dispatched-but-not-yet-acked
// message becomes invisible to other Dispatch callers until visible_at
// elapses again.
type SQLQueue struct {
	db            *sqlx.DB
	visibilityTTL time.Duration
}

// NewSQLQueue wraps an existing *sqlx.DB (typically the same handle the
// Journal uses) as a Queue.
func NewSQLQueue(db *sqlx.DB, visibilityTTL time.Duration) *SQLQueue {
	if visibilityTTL <= 0 {
		visibilityTTL = 30 * time.Second
	}
	return &SQLQueue{db: db, visibilityTTL: visibilityTTL}
}

func (q *SQLQueue) Close() error { return nil }

func (q *SQLQueue) Enqueue(ctx context.Context, payload string) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, q.db.Rebind(`
		INSERT INTO flightqueue (id, payload, visible_at, dequeue_count, enqueued_at)
		VALUES (?, ?, ?, 0, ?)
	`), uuid.NewString(), payload, now, now)
	if err != nil {
		return err
	}
	metrics.QueueEnqueuedTotal.Inc()
	return nil
}

func (q *SQLQueue) Dispatch(ctx context.Context, max int, f func(payload string) bool) error {
	if max <= 0 {
		return nil
	}

	rows, err := q.db.QueryxContext(ctx, q.db.Rebind(`
		SELECT id, payload FROM flightqueue WHERE visible_at <= ? ORDER BY enqueued_at LIMIT ?
	`), time.Now().UTC(), max)
	if err != nil {
		return err
	}

	type candidate struct {
		id      string
		payload string
	}
	var due []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.payload); err != nil {
			rows.Close()
			return err
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range due {
		ok := f(c.payload)
		outcome := "acked"
		if !ok {
			outcome = "nacked"
		}
		metrics.QueueDispatchedTotal.WithLabelValues(outcome).Inc()

		if ok {
			if _, err := q.db.ExecContext(ctx, q.db.Rebind(`DELETE FROM flightqueue WHERE id = ?`), c.id); err != nil {
				return err
			}
			continue
		}

		if _, err := q.db.ExecContext(ctx, q.db.Rebind(`
			UPDATE flightqueue SET visible_at = ?, dequeue_count = dequeue_count + 1 WHERE id = ?
		`), time.Now().Add(q.visibilityTTL), c.id); err != nil {
			return err
		}
	}
	return nil
}

var _ Queue = (*SQLQueue)(nil)
