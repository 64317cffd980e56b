// Package domain contains the core business entities for ReadTrail reading telemetry.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Book represents a distinct work the device has reported telemetry for.
type Book struct {
	ID          string     `json:"id"`
	IdentityKey string     `json:"identity_key"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	ISBN        string     `json:"isbn,omitempty"`
	TotalPages  *int       `json:"total_pages,omitempty"`
	CoverURL    string     `json:"cover_url,omitempty"`
	CurrentPage int        `json:"current_page"`
	PagesRead   int        `json:"pages_read"`
	SecondsRead int64      `json:"seconds_read"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp to the current time.
func (b *Book) Touch() {
	b.UpdatedAt = time.Now()
}

// InitTimestamps sets CreatedAt and UpdatedAt to now.
func (b *Book) InitTimestamps() {
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
}

// RefineTotalPages fills in or raises the total page count.
// A known count is never cleared, and a smaller report never shrinks it:
// devices occasionally report partial counts mid-render.
func (b *Book) RefineTotalPages(pages int) {
	if pages <= 0 {
		return
	}
	if b.TotalPages == nil || pages > *b.TotalPages {
		b.TotalPages = &pages
	}
}

// IdentityKey derives a stable book identity from the best available material,
// in precedence order: content hash, normalized ISBN, title/author fallback.
// Two devices reporting the same book must converge on the same key.
func IdentityKey(contentHash, isbn, title, author string) string {
	if contentHash != "" {
		return "md5:" + strings.ToLower(contentHash)
	}
	if normalized := NormalizeISBN(isbn); normalized != "" {
		return "isbn:" + normalized
	}
	sum := sha256.Sum256([]byte(strings.ToLower(title) + ":" + strings.ToLower(author)))
	return "ta:" + hex.EncodeToString(sum[:])[:16]
}

// NormalizeISBN strips hyphens and whitespace from an ISBN.
// Returns "" for input that normalizes to nothing.
func NormalizeISBN(isbn string) string {
	var b strings.Builder
	for _, r := range isbn {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
