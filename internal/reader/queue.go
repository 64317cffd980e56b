// Package reader implements the device-side recording pipeline: an event
// recorder, a durable offline queue, and the sync loop that drains the queue
// to the server.
package reader

import (
	"encoding/binary"
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/readtrailapp/readtrail-server/internal/domain"
)

// DefaultQueueCapacity bounds the offline queue. When full, the oldest event
// is evicted to admit the newest: recent reading activity is worth more than
// stale history.
const DefaultQueueCapacity = 100

// Queue is a durable FIFO of telemetry events backed by Badger. Events
// survive process crashes and power loss; an event is removed only after the
// server acknowledges the batch containing it.
//
// Keys are big-endian sequence numbers, so Badger's key order is FIFO order.
type Queue struct {
	db       *badger.DB
	logger   *slog.Logger
	capacity int

	mu      sync.Mutex
	nextSeq uint64
	count   int
}

// OpenQueue opens (or creates) the queue at path.
func OpenQueue(path string, capacity int, logger *slog.Logger) (*Queue, error) {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil       // Disable Badger's internal logging
	opts.SyncWrites = true  // Events must survive power loss
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue db: %w", err)
	}

	q := &Queue{
		db:       db,
		logger:   logger,
		capacity: capacity,
	}

	if err := q.recover(); err != nil {
		db.Close()
		return nil, err
	}

	if q.count > 0 {
		logger.Info("recovered queued events", "count", q.count)
	}

	return q, nil
}

// recover rebuilds the in-memory count and next sequence from disk.
func (q *Queue) recover() error {
	return q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) != 8 {
				continue
			}
			seq := binary.BigEndian.Uint64(key)
			if seq >= q.nextSeq {
				q.nextSeq = seq + 1
			}
			q.count++
		}
		return nil
	})
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Enqueue appends an event. At capacity, the oldest event is evicted first;
// the newest event is always admitted.
func (q *Queue) Enqueue(ev domain.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	payload, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	evicted := 0
	err = q.db.Update(func(txn *badger.Txn) error {
		for q.count-evicted >= q.capacity {
			oldest, err := firstKey(txn)
			if err != nil {
				return err
			}
			if oldest == nil {
				break
			}
			if err := txn.Delete(oldest); err != nil {
				return err
			}
			evicted++
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, q.nextSeq)
		return txn.Set(key, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}

	q.nextSeq++
	q.count = q.count - evicted + 1
	if evicted > 0 {
		q.logger.Warn("queue at capacity, evicted oldest events", "evicted", evicted)
	}
	return nil
}

// firstKey returns the lowest key in the store, or nil when empty.
func firstKey(txn *badger.Txn) ([]byte, error) {
	it := txn.NewIterator(badger.IteratorOptions{})
	defer it.Close()

	it.Rewind()
	if !it.Valid() {
		return nil, nil
	}
	return it.Item().KeyCopy(nil), nil
}

// Pending returns all queued events in FIFO order along with the sequence
// number of the last one, for use with Acknowledge after a successful
// delivery.
func (q *Queue) Pending() ([]domain.Event, uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		events []domain.Event
		upTo   uint64
	)
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var ev domain.Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("failed to decode queued event: %w", err)
			}
			events = append(events, ev)
			upTo = binary.BigEndian.Uint64(item.Key())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return events, upTo, nil
}

// Acknowledge removes every event with a sequence number at or below upTo.
// Events enqueued after the Pending snapshot are untouched.
func (q *Queue) Acknowledge(upTo uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if binary.BigEndian.Uint64(key) > upTo {
				break
			}
			keys = append(keys, key)
		}

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to acknowledge events: %w", err)
	}

	q.count -= removed
	return nil
}
