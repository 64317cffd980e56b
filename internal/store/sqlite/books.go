package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/readtrailapp/readtrail-server/internal/domain"
	"github.com/readtrailapp/readtrail-server/internal/store"
)

// bookColumns is the ordered list of columns selected in book queries.
// Must match the scan order in scanBook.
const bookColumns = `id, identity_key, title, author, isbn, total_pages,
	cover_url, current_page, pages_read, seconds_read,
	last_event_at, last_seen_at, last_sync_at, created_at, updated_at`

// scanBook scans a sql.Row (or sql.Rows via its Scan method) into a domain.Book.
func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var b domain.Book

	var (
		totalPages  sql.NullInt64
		coverURL    sql.NullString
		lastEventAt sql.NullString
		lastSeenAt  string
		lastSyncAt  sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := scanner.Scan(
		&b.ID,
		&b.IdentityKey,
		&b.Title,
		&b.Author,
		&b.ISBN,
		&totalPages,
		&coverURL,
		&b.CurrentPage,
		&b.PagesRead,
		&b.SecondsRead,
		&lastEventAt,
		&lastSeenAt,
		&lastSyncAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.TotalPages = intPtr(totalPages)
	b.CoverURL = coverURL.String

	b.LastEventAt, err = parseNullableTime(lastEventAt)
	if err != nil {
		return nil, err
	}
	b.LastSeenAt, err = parseTime(lastSeenAt)
	if err != nil {
		return nil, err
	}
	b.LastSyncAt, err = parseNullableTime(lastSyncAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &b, nil
}

// CreateBook inserts a new book row.
// Returns store.ErrAlreadyExists if the identity key is already taken.
func (s *Store) CreateBook(ctx context.Context, b *domain.Book) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (
			id, identity_key, title, author, isbn, total_pages,
			cover_url, current_page, pages_read, seconds_read,
			last_event_at, last_seen_at, last_sync_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.IdentityKey,
		b.Title,
		b.Author,
		b.ISBN,
		nullInt(b.TotalPages),
		nullString(b.CoverURL),
		b.CurrentPage,
		b.PagesRead,
		b.SecondsRead,
		nullTimeString(b.LastEventAt),
		formatTime(b.LastSeenAt),
		nullTimeString(b.LastSyncAt),
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateBook performs a full row update on an existing book.
// Returns store.ErrNotFound if the book does not exist.
func (s *Store) UpdateBook(ctx context.Context, b *domain.Book) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE books SET
			identity_key = ?,
			title = ?,
			author = ?,
			isbn = ?,
			total_pages = ?,
			cover_url = ?,
			current_page = ?,
			pages_read = ?,
			seconds_read = ?,
			last_event_at = ?,
			last_seen_at = ?,
			last_sync_at = ?,
			updated_at = ?
		WHERE id = ?`,
		b.IdentityKey,
		b.Title,
		b.Author,
		b.ISBN,
		nullInt(b.TotalPages),
		nullString(b.CoverURL),
		b.CurrentPage,
		b.PagesRead,
		b.SecondsRead,
		nullTimeString(b.LastEventAt),
		formatTime(b.LastSeenAt),
		nullTimeString(b.LastSyncAt),
		formatTime(b.UpdatedAt),
		b.ID,
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

// GetBook retrieves a book by ID.
// Returns store.ErrNotFound if the book does not exist.
func (s *Store) GetBook(ctx context.Context, bookID string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, bookID)

	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBookByIdentityKey retrieves a book by its stable identity key.
// Returns nil, nil when no book with that key exists.
func (s *Store) GetBookByIdentityKey(ctx context.Context, key string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE identity_key = ?`, key)

	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBooks returns all books ordered by last_seen_at descending
// (most recently reported first). If limit > 0, at most limit books are returned.
func (s *Store) ListBooks(ctx context.Context, limit int) ([]*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY last_seen_at DESC`

	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}

// GetCurrentBook returns the book with the most recent last_seen_at marker.
// Returns nil, nil when the store is empty.
func (s *Store) GetCurrentBook(ctx context.Context) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books ORDER BY last_seen_at DESC LIMIT 1`)

	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// TouchBookSeen sets the receive-time "currently reading" marker.
// This is wall-clock receive time, not event time: a late flush of an old
// session can transiently surface as the current book until newer telemetry
// arrives.
func (s *Store) TouchBookSeen(ctx context.Context, bookID string, seenAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE books SET last_seen_at = ?, last_sync_at = ?, updated_at = ?
		WHERE id = ?`,
		formatTime(seenAt), formatTime(seenAt), formatTime(seenAt), bookID)
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

// DeleteBook deletes a book and, via cascade, its sessions and telemetry.
// This operation is idempotent.
func (s *Store) DeleteBook(ctx context.Context, bookID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, bookID)
	return err
}
