package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readtrailapp/readtrail-server/internal/domain"
	domainerrors "github.com/readtrailapp/readtrail-server/internal/errors"
	"github.com/readtrailapp/readtrail-server/internal/store/sqlite"
)

func setupTestService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqlite.Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewService(st, NoopCoverResolver{}, nil)
	return svc, st
}

func intPtr(v int) *int { return &v }

func pageTurn(title string, page int, at time.Time) domain.Event {
	return domain.Event{
		Type:        domain.EventPageTurn,
		Timestamp:   at,
		Title:       title,
		Author:      "Author",
		CurrentPage: page,
	}
}

func TestIngestEvent_PageTurnCreatesBook(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	ev := pageTurn("The Dispossessed", 12, at)
	ev.TotalPages = 387
	ev.Duration = intPtr(42)

	require.NoError(t, svc.IngestEvent(ctx, &ev))

	book, err := st.GetBookByIdentityKey(ctx, ev.IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, "The Dispossessed", book.Title)
	require.NotNil(t, book.TotalPages)
	assert.Equal(t, 387, *book.TotalPages)
	assert.Equal(t, 12, book.CurrentPage)
	assert.Equal(t, 1, book.PagesRead)
	assert.Equal(t, int64(42), book.SecondsRead)
	require.NotNil(t, book.LastEventAt)
	assert.True(t, book.LastEventAt.Equal(at))
}

func TestIngestBatch_ReplayIsIdempotent(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := []domain.Event{
		{Type: domain.EventSessionStart, Timestamp: base, Title: "Replay Book", SessionID: "sess-1", CurrentPage: 1},
		pageTurn("Replay Book", 2, base.Add(30*time.Second)),
		pageTurn("Replay Book", 3, base.Add(60*time.Second)),
		{Type: domain.EventSessionEnd, Timestamp: base.Add(90 * time.Second), Title: "Replay Book", SessionID: "sess-1", CurrentPage: 3},
	}

	first, err := svc.IngestBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Succeeded)
	assert.Equal(t, 0, first.Failed)

	// The device never heard the ack and resends the whole batch.
	second, err := svc.IngestBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 4, second.Succeeded)

	book, err := st.GetBookByIdentityKey(ctx, batch[0].IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, book)

	count, err := st.CountTelemetry(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	sessions, err := st.CountSessions(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sessions)
}

func TestResolveBook_IdentityStableAcrossEvents(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	ev1 := pageTurn("Stable Title", 5, at)
	ev2 := pageTurn("Stable Title", 6, at.Add(time.Minute))

	require.NoError(t, svc.IngestEvent(ctx, &ev1))
	require.NoError(t, svc.IngestEvent(ctx, &ev2))

	books, err := st.ListBooks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, 6, books[0].CurrentPage)
}

func TestResolveBook_RefinesUnknownFields(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	bare := pageTurn("Refinable", 1, at)
	bare.Author = ""
	require.NoError(t, svc.IngestEvent(ctx, &bare))

	richer := pageTurn("Refinable", 2, at.Add(time.Minute))
	richer.Author = ""
	richer.TotalPages = 300
	require.NoError(t, svc.IngestEvent(ctx, &richer))

	book, err := st.GetBookByIdentityKey(ctx, bare.IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, book)
	require.NotNil(t, book.TotalPages)
	assert.Equal(t, 300, *book.TotalPages)
}

func TestSessionEnd_PageRegressionClampsToZero(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	start := domain.Event{Type: domain.EventSessionStart, Timestamp: base, Title: "Backwards", SessionID: "sess-back", CurrentPage: 50}
	end := domain.Event{Type: domain.EventSessionEnd, Timestamp: base.Add(5 * time.Minute), Title: "Backwards", SessionID: "sess-back", CurrentPage: 40}

	require.NoError(t, svc.IngestEvent(ctx, &start))
	require.NoError(t, svc.IngestEvent(ctx, &end))

	sess, err := st.GetSession(ctx, "sess-back")
	require.NoError(t, err)
	assert.False(t, sess.IsOpen())
	assert.Equal(t, 0, sess.PagesRead)
}

func TestSessionEnd_WithoutStartRecordsEndOnly(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	end := domain.Event{Type: domain.EventSessionEnd, Timestamp: at, Title: "Orphan", SessionID: "sess-orphan", CurrentPage: 20}

	require.NoError(t, svc.IngestEvent(ctx, &end))

	sess, err := st.GetSession(ctx, "sess-orphan")
	require.NoError(t, err)
	assert.True(t, sess.EndOnly)
	assert.False(t, sess.IsOpen())
	assert.Equal(t, 0, sess.PagesRead)
}

func TestSessionStart_DuplicateIsNoOp(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	start := domain.Event{Type: domain.EventSessionStart, Timestamp: base, Title: "Dup", SessionID: "sess-dup", CurrentPage: 10}
	require.NoError(t, svc.IngestEvent(ctx, &start))

	// Same session id again with a different page must not overwrite.
	again := domain.Event{Type: domain.EventSessionStart, Timestamp: base.Add(time.Minute), Title: "Dup", SessionID: "sess-dup", CurrentPage: 99}
	require.NoError(t, svc.IngestEvent(ctx, &again))

	sess, err := st.GetSession(ctx, "sess-dup")
	require.NoError(t, err)
	assert.Equal(t, 10, sess.StartPage)
	assert.True(t, sess.StartedAt.Equal(base))
}

func TestSessionEnd_ReplayedEndIsNoOp(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	start := domain.Event{Type: domain.EventSessionStart, Timestamp: base, Title: "Once", SessionID: "sess-once", CurrentPage: 1}
	end := domain.Event{Type: domain.EventSessionEnd, Timestamp: base.Add(time.Minute), Title: "Once", SessionID: "sess-once", CurrentPage: 5}
	require.NoError(t, svc.IngestEvent(ctx, &start))
	require.NoError(t, svc.IngestEvent(ctx, &end))

	later := domain.Event{Type: domain.EventSessionEnd, Timestamp: base.Add(time.Hour), Title: "Once", SessionID: "sess-once", CurrentPage: 50}
	require.NoError(t, svc.IngestEvent(ctx, &later))

	sess, err := st.GetSession(ctx, "sess-once")
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
	assert.True(t, sess.EndedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, 4, sess.PagesRead)
}

func TestIngestEvent_TouchesLastSeen(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	receivedAt := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return receivedAt }

	// The event itself is days old; visibility follows receive time.
	ev := pageTurn("Old News", 3, receivedAt.Add(-72*time.Hour))
	require.NoError(t, svc.IngestEvent(ctx, &ev))

	book, err := st.GetCurrentBook(ctx)
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.True(t, book.LastSeenAt.Equal(receivedAt))
	require.NotNil(t, book.LastSyncAt)
	assert.True(t, book.LastSyncAt.Equal(receivedAt))
}

func TestIngestEvent_Validation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   domain.Event
	}{
		{"missing title", domain.Event{Type: domain.EventPageTurn, CurrentPage: 1}},
		{"missing session id", domain.Event{Type: domain.EventSessionStart, Title: "T"}},
		{"unknown event type", domain.Event{Type: "bookmark_added", Title: "T"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.IngestEvent(ctx, &tt.ev)
			require.Error(t, err)

			var de *domainerrors.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, domainerrors.CodeValidation, de.Code)
		})
	}
}

func TestIngestBatch_ContinuesPastFailures(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	batch := []domain.Event{
		pageTurn("Good Book", 1, at),
		{Type: domain.EventPageTurn, Timestamp: at}, // no title
		pageTurn("Good Book", 2, at.Add(time.Minute)),
	}

	result, err := svc.IngestBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	book, err := st.GetBookByIdentityKey(ctx, batch[0].IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, book)
	count, err := st.CountTelemetry(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

type stubCoverResolver struct {
	url  string
	err  error
	hits int
}

func (r *stubCoverResolver) Resolve(context.Context, string, string, string) (string, error) {
	r.hits++
	return r.url, r.err
}

func TestResolveBook_CoverResolvedOncePerBook(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	resolver := &stubCoverResolver{url: "https://covers.example/b/1-L.jpg"}
	svc.covers = resolver

	at := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	ev1 := pageTurn("Covered", 1, at)
	ev2 := pageTurn("Covered", 2, at.Add(time.Minute))
	require.NoError(t, svc.IngestEvent(ctx, &ev1))
	require.NoError(t, svc.IngestEvent(ctx, &ev2))

	assert.Equal(t, 1, resolver.hits)

	book, err := st.GetBookByIdentityKey(ctx, ev1.IdentityKey())
	require.NoError(t, err)
	assert.Equal(t, "https://covers.example/b/1-L.jpg", book.CoverURL)
}

func TestResolveBook_CoverFailureDoesNotBlockCreation(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	svc.covers = &stubCoverResolver{err: errors.New("upstream down")}

	at := time.Date(2026, 8, 30, 16, 0, 0, 0, time.UTC)
	ev := pageTurn("Uncovered", 1, at)
	require.NoError(t, svc.IngestEvent(ctx, &ev))

	book, err := st.GetBookByIdentityKey(ctx, ev.IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Empty(t, book.CoverURL)
}
