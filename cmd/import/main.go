// Package main provides a tool to replay a reader device's statistics
// database through the ingestion API.
//
// Reader devices keep a local SQLite statistics file with a `book` table and
// a `page_stat_data` table of per-page dwell rows. This tool converts those
// rows to telemetry events and POSTs them in batches. The server deduplicates
// on (book, page, time), so re-running an import is safe.
//
// Usage:
//
//	go run ./cmd/import --db statistics.sqlite3 --server http://localhost:8080 --token <token>
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json/v2"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"github.com/readtrailapp/readtrail-server/internal/domain"
)

var (
	dbPath    = flag.String("db", "", "Path to the device statistics SQLite file (required)")
	serverURL = flag.String("server", "http://localhost:8080", "ReadTrail server base URL")
	token     = flag.String("token", "", "Bearer token for the ingest endpoint")
	batchSize = flag.Int("batch-size", 200, "Events per request")
)

// statBook is one row of the device's book table.
type statBook struct {
	id      int64
	title   string
	authors sql.NullString
	md5     sql.NullString
	pages   sql.NullInt64
}

func main() {
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("--db is required")
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open statistics db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	books, err := loadBooks(ctx, db)
	if err != nil {
		log.Fatalf("Failed to read book table: %v", err)
	}
	fmt.Printf("Found %d books in %s\n", len(books), *dbPath)

	totalEvents := 0
	for _, book := range books {
		events, err := loadEvents(ctx, db, book)
		if err != nil {
			log.Fatalf("Failed to read page stats for %q: %v", book.title, err)
		}
		if len(events) == 0 {
			continue
		}

		sent, err := sendBatches(ctx, events)
		if err != nil {
			log.Fatalf("Failed to import %q: %v", book.title, err)
		}
		totalEvents += sent
		fmt.Printf("  %-50s %d events\n", book.title, sent)
	}

	fmt.Printf("Imported %d events\n", totalEvents)
}

// loadBooks reads the device's book table.
func loadBooks(ctx context.Context, db *sql.DB) ([]statBook, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, title, authors, md5, pages FROM book ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []statBook
	for rows.Next() {
		var b statBook
		if err := rows.Scan(&b.id, &b.title, &b.authors, &b.md5, &b.pages); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// loadEvents converts a book's page_stat_data rows to page_turn events.
func loadEvents(ctx context.Context, db *sql.DB, book statBook) ([]domain.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT page, start_time, duration, total_pages
		FROM page_stat_data WHERE id_book = ? ORDER BY start_time`, book.id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			page       int
			startTime  int64
			duration   int
			totalPages sql.NullInt64
		)
		if err := rows.Scan(&page, &startTime, &duration, &totalPages); err != nil {
			return nil, err
		}

		ev := domain.Event{
			Type:        domain.EventPageTurn,
			Timestamp:   time.Unix(startTime, 0).UTC(),
			Title:       book.title,
			Author:      book.authors.String,
			MD5:         book.md5.String,
			CurrentPage: page,
		}
		if duration > 0 {
			d := duration
			ev.Duration = &d
		}
		switch {
		case totalPages.Valid && totalPages.Int64 > 0:
			ev.TotalPages = int(totalPages.Int64)
		case book.pages.Valid && book.pages.Int64 > 0:
			ev.TotalPages = int(book.pages.Int64)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// sendBatches posts events through the ingest endpoint in batch-size chunks.
func sendBatches(ctx context.Context, events []domain.Event) (int, error) {
	sent := 0
	for start := 0; start < len(events); start += *batchSize {
		end := min(start+*batchSize, len(events))
		if err := postBatch(ctx, events[start:end]); err != nil {
			return sent, err
		}
		sent += end - start
	}
	return sent, nil
}

func postBatch(ctx context.Context, batch []domain.Event) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		*serverURL+"/api/v1/ingest/events", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
