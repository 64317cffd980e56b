package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentityKey_Precedence(t *testing.T) {
	// Content hash wins over everything.
	key := IdentityKey("ABCDEF", "978-0-123", "Dune", "Herbert")
	assert.Equal(t, "md5:abcdef", key)

	// ISBN next, normalized.
	key = IdentityKey("", "978-0-123 456", "Dune", "Herbert")
	assert.Equal(t, "isbn:9780123456", key)

	// Title/author fallback.
	key = IdentityKey("", "", "Dune", "Herbert")
	assert.Contains(t, key, "ta:")
}

func TestIdentityKey_TitleAuthorStable(t *testing.T) {
	a := IdentityKey("", "", "The Left Hand of Darkness", "Le Guin")
	b := IdentityKey("", "", "The Left Hand of Darkness", "Le Guin")
	assert.Equal(t, a, b)

	// Case-insensitive.
	c := IdentityKey("", "", "the left hand of darkness", "LE GUIN")
	assert.Equal(t, a, c)

	// Different author, different key.
	d := IdentityKey("", "", "The Left Hand of Darkness", "Someone Else")
	assert.NotEqual(t, a, d)
}

func TestNormalizeISBN(t *testing.T) {
	assert.Equal(t, "9780441013593", NormalizeISBN("978-0-441-01359-3"))
	assert.Equal(t, "9780441013593", NormalizeISBN("978 0441 013593"))
	assert.Equal(t, "", NormalizeISBN(""))
	assert.Equal(t, "", NormalizeISBN(" - "))
}

func TestRefineTotalPages(t *testing.T) {
	b := &Book{}

	b.RefineTotalPages(0)
	assert.Nil(t, b.TotalPages)

	b.RefineTotalPages(300)
	assert.Equal(t, 300, *b.TotalPages)

	// Smaller report never shrinks.
	b.RefineTotalPages(250)
	assert.Equal(t, 300, *b.TotalPages)

	b.RefineTotalPages(320)
	assert.Equal(t, 320, *b.TotalPages)
}

func TestClampPagesRead(t *testing.T) {
	assert.Equal(t, 10, ClampPagesRead(40, 50))
	assert.Equal(t, 0, ClampPagesRead(50, 50))
	assert.Equal(t, 0, ClampPagesRead(50, 40), "regression must clamp to zero")
}

func TestReadingSession_FinishOnlyOnce(t *testing.T) {
	s := &ReadingSession{
		ID:        "sess-1",
		BookID:    "bk-1",
		StartedAt: time.Now().Add(-time.Hour),
		StartPage: 10,
	}
	assert.True(t, s.IsOpen())

	first := time.Now()
	s.Finish(first, 25)
	assert.False(t, s.IsOpen())
	assert.Equal(t, 15, s.PagesRead)
	assert.Equal(t, 25, *s.EndPage)

	// Duplicate terminating event is a no-op.
	s.Finish(first.Add(time.Minute), 99)
	assert.Equal(t, 25, *s.EndPage)
	assert.Equal(t, first, *s.EndedAt)
}

func TestEventType_Valid(t *testing.T) {
	assert.True(t, EventSessionStart.Valid())
	assert.True(t, EventSessionEnd.Valid())
	assert.True(t, EventPageTurn.Valid())
	assert.False(t, EventType("page_visit").Valid())
	assert.False(t, EventType("").Valid())
}
