package domain

import "time"

// ReadingSession is one open-to-close (or open-to-suspend) reading interval.
// The ID is generated by the device and treated as opaque by the server.
type ReadingSession struct {
	ID        string     `json:"id"`
	BookID    string     `json:"book_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	StartPage int        `json:"start_page"`
	EndPage   *int       `json:"end_page,omitempty"`
	PagesRead int        `json:"pages_read"`
	// EndOnly marks sessions recorded from a session_end whose start was
	// never seen (lost to queue eviction or delivered out of order).
	EndOnly   bool      `json:"end_only,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen reports whether the session has not yet been terminated.
func (s *ReadingSession) IsOpen() bool {
	return s.EndedAt == nil
}

// Finish sets the end fields once and derives pages_read.
// A page regression (end before start) clamps to zero rather than going negative.
func (s *ReadingSession) Finish(endedAt time.Time, endPage int) {
	if s.EndedAt != nil {
		return
	}
	s.EndedAt = &endedAt
	s.EndPage = &endPage
	s.PagesRead = ClampPagesRead(s.StartPage, endPage)
	s.UpdatedAt = time.Now()
}

// ClampPagesRead computes max(0, endPage - startPage).
func ClampPagesRead(startPage, endPage int) int {
	if endPage <= startPage {
		return 0
	}
	return endPage - startPage
}
