package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readtrailapp/readtrail-server/internal/domain"
	"github.com/readtrailapp/readtrail-server/internal/store"
)

func newTestSession(id, bookID string, startPage int) *domain.ReadingSession {
	now := time.Now()
	return &domain.ReadingSession{
		ID:        id,
		BookID:    bookID,
		StartedAt: now,
		StartPage: startPage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateSession_AndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBook(ctx, newTestBook("bk-1", "ta:key")))
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-abc", "bk-1", 12)))

	got, err := s.GetSession(ctx, "sess-abc")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", got.BookID)
	assert.Equal(t, 12, got.StartPage)
	assert.True(t, got.IsOpen())
	assert.False(t, got.EndOnly)
}

func TestCreateSession_DuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBook(ctx, newTestBook("bk-1", "ta:key")))
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-abc", "bk-1", 1)))

	err := s.CreateSession(ctx, newTestSession("sess-abc", "bk-1", 5))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestUpdateSession_Finish(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBook(ctx, newTestBook("bk-1", "ta:key")))

	sess := newTestSession("sess-abc", "bk-1", 10)
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.Finish(time.Now(), 30)
	require.NoError(t, s.UpdateSession(ctx, sess))

	got, err := s.GetSession(ctx, "sess-abc")
	require.NoError(t, err)
	assert.False(t, got.IsOpen())
	require.NotNil(t, got.EndPage)
	assert.Equal(t, 30, *got.EndPage)
	assert.Equal(t, 20, got.PagesRead)
}

func TestUpdateSession_NotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.UpdateSession(context.Background(), newTestSession("sess-ghost", "bk-1", 0))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetSession_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetSession(context.Background(), "sess-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSession_EndOnly(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBook(ctx, newTestBook("bk-1", "ta:key")))

	endedAt := time.Now()
	endPage := 55
	sess := &domain.ReadingSession{
		ID:        "sess-orphan",
		BookID:    "bk-1",
		StartedAt: endedAt,
		EndedAt:   &endedAt,
		EndPage:   &endPage,
		EndOnly:   true,
		CreatedAt: endedAt,
		UpdatedAt: endedAt,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "sess-orphan")
	require.NoError(t, err)
	assert.True(t, got.EndOnly)
	assert.False(t, got.IsOpen())
}

func TestGetBookSessions_OrderedByStart(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBook(ctx, newTestBook("bk-1", "ta:key")))

	older := newTestSession("sess-old", "bk-1", 1)
	older.StartedAt = time.Now().Add(-3 * time.Hour)
	require.NoError(t, s.CreateSession(ctx, older))

	newer := newTestSession("sess-new", "bk-1", 20)
	require.NoError(t, s.CreateSession(ctx, newer))

	sessions, err := s.GetBookSessions(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-new", sessions[0].ID)
	assert.Equal(t, "sess-old", sessions[1].ID)

	count, err := s.CountSessions(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
