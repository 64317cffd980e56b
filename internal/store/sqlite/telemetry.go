package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/readtrailapp/readtrail-server/internal/domain"
)

// telemetryColumns is the ordered list of columns selected in telemetry queries.
// Must match the scan order in scanTelemetry.
const telemetryColumns = `book_id, page, occurred_at, duration_seconds,
	total_pages, created_at`

// scanTelemetry scans a sql.Row (or sql.Rows via its Scan method) into a domain.PageTelemetry.
func scanTelemetry(scanner interface{ Scan(dest ...any) error }) (*domain.PageTelemetry, error) {
	var pt domain.PageTelemetry

	var (
		occurredAt string
		duration   sql.NullInt64
		totalPages sql.NullInt64
		createdAt  string
	)

	err := scanner.Scan(
		&pt.BookID,
		&pt.Page,
		&occurredAt,
		&duration,
		&totalPages,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	pt.OccurredAt, err = parseTime(occurredAt)
	if err != nil {
		return nil, err
	}
	pt.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	pt.DurationSeconds = intPtr(duration)
	pt.TotalPages = intPtr(totalPages)

	return &pt, nil
}

// InsertTelemetry inserts a page telemetry row, ignoring duplicates.
// Returns true if a new row was inserted, false if the (book, page, occurred_at)
// triple was already present. Replayed batches are expected to hit the
// duplicate path and must not fail.
func (s *Store) InsertTelemetry(ctx context.Context, pt *domain.PageTelemetry) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO page_telemetry (
			book_id, page, occurred_at, duration_seconds, total_pages, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		pt.BookID,
		pt.Page,
		formatTime(pt.OccurredAt),
		nullInt(pt.DurationSeconds),
		nullInt(pt.TotalPages),
		formatTime(pt.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetBookTelemetry returns all telemetry rows for a book in event order.
func (s *Store) GetBookTelemetry(ctx context.Context, bookID string) ([]*domain.PageTelemetry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+telemetryColumns+` FROM page_telemetry
		WHERE book_id = ?
		ORDER BY occurred_at ASC`,
		bookID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.PageTelemetry
	for rows.Next() {
		pt, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CountTelemetry returns the number of telemetry rows for a book.
func (s *Store) CountTelemetry(ctx context.Context, bookID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM page_telemetry WHERE book_id = ?`, bookID).Scan(&count)
	return count, err
}

// ComputeBookAggregates recomputes the cached rollup from the full telemetry
// set for a book: distinct pages visited and total dwell seconds.
// This is a read-then-write pattern with no cross-request locking; concurrent
// writers for the same book can lose an update, and the result is always
// rebuildable by running this again.
func (s *Store) ComputeBookAggregates(ctx context.Context, bookID string) (*domain.BookAggregates, error) {
	var agg domain.BookAggregates
	var seconds sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT page), COALESCE(SUM(duration_seconds), 0)
		FROM page_telemetry WHERE book_id = ?`, bookID).Scan(&agg.PagesRead, &seconds)
	if err != nil {
		return nil, err
	}
	agg.SecondsRead = seconds.Int64

	return &agg, nil
}

// GetLatestEventTime returns the highest occurred_at across a book's telemetry.
// Returns nil when the book has no telemetry.
func (s *Store) GetLatestEventTime(ctx context.Context, bookID string) (*time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(occurred_at) FROM page_telemetry WHERE book_id = ?`, bookID).Scan(&latest)
	if err != nil {
		return nil, err
	}
	return parseNullableTime(latest)
}

// GetDailyActivity returns per-day reading totals between from and to
// (inclusive), oldest first. Days with no telemetry are omitted.
func (s *Store) GetDailyActivity(ctx context.Context, from, to time.Time) ([]domain.DailyActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(occurred_at), COUNT(DISTINCT book_id || ':' || page),
			COALESCE(SUM(duration_seconds), 0)
		FROM page_telemetry
		WHERE occurred_at >= ? AND occurred_at <= ?
		GROUP BY date(occurred_at)
		ORDER BY date(occurred_at) ASC`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []domain.DailyActivity
	for rows.Next() {
		var d domain.DailyActivity
		if err := rows.Scan(&d.Date, &d.PagesRead, &d.SecondsRead); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return days, nil
}
