package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/stairway/pkg/metrics"
)

var bucketMessages = []byte("messages")

// LocalQueue is a single-instance Queue backed by BoltDB, used when no
// cluster work_queue is configured (spec: "absent -> no cluster queue;
// all work runs locally"). It still gives deferred submissions crash
// survival: a message enqueued locally and not yet dispatched is found
// again on restart, instead of being silently lost with an in-memory
// channel.
type LocalQueue struct {
	db            *bolt.DB
	visibilityTTL time.Duration
}

// NewLocalQueue opens (creating if absent) a BoltDB file under dataDir.
func NewLocalQueue(dataDir string, visibilityTTL time.Duration) (*LocalQueue, error) {
	if visibilityTTL <= 0 {
		visibilityTTL = 30 * time.Second
	}
	dbPath := filepath.Join(dataDir, "stairway-queue.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("queue: failed to open local queue: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMessages)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &LocalQueue{db: db, visibilityTTL: visibilityTTL}, nil
}

func (q *LocalQueue) Close() error { return q.db.Close() }

type storedMessage struct {
	Payload      string
	VisibleAt    time.Time
	DequeueCount int
}

func (q *LocalQueue) Enqueue(ctx context.Context, payload string) error {
	id := uuid.NewString()
	msg := storedMessage{Payload: payload, VisibleAt: time.Now()}

	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		data, err := encodeMessage(msg)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return err
	}
	metrics.QueueEnqueuedTotal.Inc()
	return nil
}

// Dispatch scans the bucket for up to max messages whose VisibleAt has
// passed, invoking f on each. Acked messages are deleted; nacked messages
// have their VisibleAt pushed out by visibilityTTL so another Dispatch
// call doesn't immediately redeliver them to the same failing handler.
func (q *LocalQueue) Dispatch(ctx context.Context, max int, f func(payload string) bool) error {
	now := time.Now()

	type candidate struct {
		key []byte
		msg storedMessage
	}
	var due []candidate

	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.ForEach(func(k, v []byte) error {
			if len(due) >= max {
				return nil
			}
			msg, err := decodeMessage(v)
			if err != nil {
				return nil
			}
			if msg.VisibleAt.After(now) {
				return nil
			}
			key := append([]byte(nil), k...)
			due = append(due, candidate{key: key, msg: msg})
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, c := range due {
		ok := f(c.msg.Payload)
		outcome := "acked"
		if !ok {
			outcome = "nacked"
		}
		metrics.QueueDispatchedTotal.WithLabelValues(outcome).Inc()

		err := q.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMessages)
			if ok {
				return b.Delete(c.key)
			}
			c.msg.DequeueCount++
			c.msg.VisibleAt = time.Now().Add(q.visibilityTTL)
			data, err := encodeMessage(c.msg)
			if err != nil {
				return err
			}
			return b.Put(c.key, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

var _ Queue = (*LocalQueue)(nil)
