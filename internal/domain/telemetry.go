package domain

import "time"

// PageTelemetry is the atomic, immutable record of reading activity: one row
// per observed page dwell or forward page turn. Everything else derives from
// these rows. The (book, page, occurred_at) triple is unique, which is what
// makes at-least-once delivery safe to replay.
type PageTelemetry struct {
	BookID          string    `json:"book_id"`
	Page            int       `json:"page"`
	OccurredAt      time.Time `json:"occurred_at"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	TotalPages      *int      `json:"total_pages,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// BookAggregates is the cached rollup stored on the book row, recomputed from
// the full telemetry set after each ingested batch. Rebuildable at any time.
type BookAggregates struct {
	PagesRead   int   `json:"pages_read"`
	SecondsRead int64 `json:"seconds_read"`
}

// DailyActivity is one day's worth of reading for the activity heatmap.
type DailyActivity struct {
	Date        string `json:"date"` // YYYY-MM-DD
	PagesRead   int    `json:"pages_read"`
	SecondsRead int64  `json:"seconds_read"`
}
