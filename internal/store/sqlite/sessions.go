package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/readtrailapp/readtrail-server/internal/domain"
	"github.com/readtrailapp/readtrail-server/internal/store"
)

// sessionColumns is the ordered list of columns selected in session queries.
// Must match the scan order in scanSession.
const sessionColumns = `id, book_id, started_at, ended_at, start_page,
	end_page, pages_read, end_only, created_at, updated_at`

// scanSession scans a sql.Row (or sql.Rows via its Scan method) into a domain.ReadingSession.
func scanSession(scanner interface{ Scan(dest ...any) error }) (*domain.ReadingSession, error) {
	var rs domain.ReadingSession

	var (
		startedAt string
		endedAt   sql.NullString
		endPage   sql.NullInt64
		endOnly   int
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&rs.ID,
		&rs.BookID,
		&startedAt,
		&endedAt,
		&rs.StartPage,
		&endPage,
		&rs.PagesRead,
		&endOnly,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rs.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	rs.EndedAt, err = parseNullableTime(endedAt)
	if err != nil {
		return nil, err
	}
	rs.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	rs.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	rs.EndPage = intPtr(endPage)
	rs.EndOnly = endOnly != 0

	return &rs, nil
}

// CreateSession inserts a new reading session.
// Returns store.ErrAlreadyExists if the session ID already exists, which
// callers treat as a duplicate session_start and ignore.
func (s *Store) CreateSession(ctx context.Context, rs *domain.ReadingSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reading_sessions (
			id, book_id, started_at, ended_at, start_page,
			end_page, pages_read, end_only, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.ID,
		rs.BookID,
		formatTime(rs.StartedAt),
		nullTimeString(rs.EndedAt),
		rs.StartPage,
		nullInt(rs.EndPage),
		rs.PagesRead,
		boolToInt(rs.EndOnly),
		formatTime(rs.CreatedAt),
		formatTime(rs.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateSession performs a full row update on an existing session.
// Returns store.ErrNotFound if the session does not exist.
func (s *Store) UpdateSession(ctx context.Context, rs *domain.ReadingSession) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reading_sessions SET
			book_id = ?,
			started_at = ?,
			ended_at = ?,
			start_page = ?,
			end_page = ?,
			pages_read = ?,
			end_only = ?,
			updated_at = ?
		WHERE id = ?`,
		rs.BookID,
		formatTime(rs.StartedAt),
		nullTimeString(rs.EndedAt),
		rs.StartPage,
		nullInt(rs.EndPage),
		rs.PagesRead,
		boolToInt(rs.EndOnly),
		formatTime(rs.UpdatedAt),
		rs.ID,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetSession retrieves a session by its device-generated ID.
// Returns store.ErrNotFound if the session does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.ReadingSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM reading_sessions WHERE id = ?`, sessionID)

	rs, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// GetBookSessions returns all sessions for a book, most recent first.
func (s *Store) GetBookSessions(ctx context.Context, bookID string) ([]*domain.ReadingSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM reading_sessions
		WHERE book_id = ?
		ORDER BY started_at DESC`,
		bookID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.ReadingSession
	for rows.Next() {
		rs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CountSessions returns the number of sessions recorded for a book.
func (s *Store) CountSessions(ctx context.Context, bookID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reading_sessions WHERE book_id = ?`, bookID).Scan(&count)
	return count, err
}
