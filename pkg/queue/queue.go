// Package queue implements the durable on-host notification queue
// spec.md §4.5 requires: at-least-once delivery with a per-message
// visibility timeout, ack, ping (extend) and a tries counter, backed by a
// single embedded bbolt database.
package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/appfoundry/buildfleet/pkg/types"
)

var bucketNotifications = []byte("notifications")

// VisibilityTimeout is the window during which a dequeued message is
// hidden from other consumers unless ack'd or ping'd (spec.md §4.5).
const VisibilityTimeout = 1800 * time.Second

// MaxRetries is the number of redeliveries after which the Notifier must
// discard a message permanently (spec.md §4.5).
const MaxRetries = 20

// entry is the on-disk record for one queued notification.
type entry struct {
	Notification types.Notification `json:"notification"`
	Tries        int                 `json:"tries"`
	VisibleAt    int64               `json:"visibleAt"` // unix nanos; 0 means immediately visible
}

// Queue is a bbolt-backed durable queue of types.Notification messages.
type Queue struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures the notifications bucket exists.
func Open(path string) (*Queue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNotifications)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Queue{db: db}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue persists n as a new message, immediately visible to consumers.
// Called by Builder after every terminal build-child outcome (spec.md
// §4.3 step 7).
func (q *Queue) Enqueue(n types.Notification) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotifications)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		e := entry{Notification: n}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Lease represents one dequeued, currently-invisible message.
type Lease struct {
	Key          []byte
	Notification types.Notification
	Tries        int
}

// Dequeue returns the oldest currently-visible message and marks it
// invisible for VisibilityTimeout, incrementing its tries counter. It
// returns a nil Lease (and nil error) if the queue is empty of visible
// messages, matching the Notifier's "if empty, idle" step (spec.md §4.5
// step 1).
func (q *Queue) Dequeue(now time.Time) (*Lease, error) {
	var lease *Lease

	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotifications)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt queue entry %x: %w", k, err)
			}

			if e.VisibleAt > now.UnixNano() {
				continue
			}

			e.Tries++
			e.VisibleAt = now.Add(VisibilityTimeout).UnixNano()

			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}

			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			lease = &Lease{Key: keyCopy, Notification: e.Notification, Tries: e.Tries}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Ack permanently removes the message identified by key. Called on
// successful delivery, on a malformed message, or after MaxRetries is
// exceeded (spec.md §4.5 steps 2, 3, 6).
func (q *Queue) Ack(key []byte) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotifications).Delete(key)
	})
}

// Ping extends the visibility window for key by VisibilityTimeout from
// now, without incrementing Tries (spec.md §4.5 step 4).
func (q *Queue) Ping(key []byte, now time.Time) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotifications)
		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("ping: message %x not found", key)
		}

		var e entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		e.VisibleAt = now.Add(VisibilityTimeout).UnixNano()

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// Len returns the total number of undelivered messages (visible or
// leased), exposed via the Notifier's /metrics queue-depth gauge.
func (q *Queue) Len() (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketNotifications).Stats().KeyN
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
