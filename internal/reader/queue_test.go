package reader

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readtrailapp/readtrail-server/internal/domain"
)

func setupTestQueue(t *testing.T, capacity int) *Queue {
	t.Helper()

	q, err := OpenQueue(filepath.Join(t.TempDir(), "queue"), capacity, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func queueEvent(n int) domain.Event {
	return domain.Event{
		Type:        domain.EventPageTurn,
		Timestamp:   time.Date(2026, 8, 30, 10, 0, n, 0, time.UTC),
		Title:       "Queued Book",
		CurrentPage: n,
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := setupTestQueue(t, 10)

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(queueEvent(i)))
	}
	assert.Equal(t, 3, q.Len())

	events, _, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].CurrentPage)
	assert.Equal(t, 2, events[1].CurrentPage)
	assert.Equal(t, 3, events[2].CurrentPage)
}

func TestQueue_CapacityEvictsOldest(t *testing.T) {
	q := setupTestQueue(t, 5)

	for i := 1; i <= 6; i++ {
		require.NoError(t, q.Enqueue(queueEvent(i)))
	}

	assert.Equal(t, 5, q.Len())

	events, _, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, events, 5)
	// Event 1 was evicted to admit event 6.
	assert.Equal(t, 2, events[0].CurrentPage)
	assert.Equal(t, 6, events[4].CurrentPage)
}

func TestQueue_AcknowledgeRemovesOnlyDeliveredPrefix(t *testing.T) {
	q := setupTestQueue(t, 10)

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(queueEvent(i)))
	}

	_, upTo, err := q.Pending()
	require.NoError(t, err)

	// A new event arrives while the batch is in flight.
	require.NoError(t, q.Enqueue(queueEvent(4)))

	require.NoError(t, q.Acknowledge(upTo))
	assert.Equal(t, 1, q.Len())

	events, _, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 4, events[0].CurrentPage)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")

	q, err := OpenQueue(path, 10, nil)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(queueEvent(i)))
	}
	require.NoError(t, q.Close())

	reopened, err := OpenQueue(path, 10, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Len())

	// Sequence numbering continues where it left off.
	require.NoError(t, reopened.Enqueue(queueEvent(4)))

	events, _, err := reopened.Pending()
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.CurrentPage, fmt.Sprintf("event %d out of order", i))
	}
}

func TestQueue_EmptyPending(t *testing.T) {
	q := setupTestQueue(t, 10)

	events, _, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, events)
}
