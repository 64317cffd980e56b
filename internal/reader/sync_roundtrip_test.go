package reader

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readtrailapp/readtrail-server/internal/api"
	"github.com/readtrailapp/readtrail-server/internal/ingest"
	"github.com/readtrailapp/readtrail-server/internal/store/sqlite"
)

// Events queued before a crash must survive the restart and land on the
// server exactly once, even when the device redelivers a batch whose ack
// it never saw.
func TestSyncer_CrashRecoveryExactlyOnce(t *testing.T) {
	queuePath := filepath.Join(t.TempDir(), "queue")

	q, err := OpenQueue(queuePath, 100, nil)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(queueEvent(i)))
	}
	// Device loses power before anything is delivered.
	require.NoError(t, q.Close())

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "server.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	server := api.NewServer(st, ingest.NewService(st, ingest.NoopCoverResolver{}, nil), "device-token", nil)
	srv := httptest.NewServer(server)
	defer srv.Close()

	reopened, err := OpenQueue(queuePath, 100, nil)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 3, reopened.Len(), "queued events should survive the restart")

	events, _, err := reopened.Pending()
	require.NoError(t, err)

	tr := NewTransport(srv.URL, "device-token", nil)
	s := NewSyncer(reopened, tr, nil)
	s.flush(context.Background())
	assert.Equal(t, 0, reopened.Len(), "delivered batch should be acknowledged")

	// Redeliver the same batch, as a device that missed the ack would.
	outcome, err := tr.Deliver(context.Background(), events)
	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, outcome)

	ctx := context.Background()
	book, err := st.GetBookByIdentityKey(ctx, events[0].IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, book)

	count, err := st.CountTelemetry(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "replayed batch must not add rows")
}
