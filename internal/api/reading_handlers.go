package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/readtrailapp/readtrail-server/internal/domain"
)

func (s *Server) registerReadingRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getCurrentReading",
		Method:      http.MethodGet,
		Path:        "/api/v1/reading/current",
		Summary:     "Get current book",
		Description: "Returns the book most recently seen in device telemetry",
		Tags:        []string{"Reading"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetCurrentReading)

	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books",
		Summary:     "List books",
		Description: "Returns books ordered by most recently seen",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}",
		Summary:     "Get book",
		Description: "Returns a book with its reading sessions",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "getReadingHeatmap",
		Method:      http.MethodGet,
		Path:        "/api/v1/stats/heatmap",
		Summary:     "Get reading heatmap",
		Description: "Returns per-day reading activity for the requested window",
		Tags:        []string{"Stats"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetHeatmap)
}

// === DTOs ===

// BookResponse contains book data in API responses.
type BookResponse struct {
	ID          string     `json:"id" doc:"Book ID"`
	Title       string     `json:"title" doc:"Title"`
	Author      string     `json:"author,omitempty" doc:"Author"`
	ISBN        string     `json:"isbn,omitempty" doc:"Normalized ISBN"`
	CoverURL    string     `json:"cover_url,omitempty" doc:"Cover image URL"`
	CurrentPage int        `json:"current_page" doc:"Furthest page reached"`
	TotalPages  *int       `json:"total_pages,omitempty" doc:"Total pages, when known"`
	Progress    *float64   `json:"progress,omitempty" doc:"Percent complete, when total pages is known"`
	PagesRead   int        `json:"pages_read" doc:"Distinct pages with recorded telemetry"`
	SecondsRead int64      `json:"seconds_read" doc:"Total recorded dwell time in seconds"`
	LastEventAt *time.Time `json:"last_event_at,omitempty" doc:"Timestamp of the newest telemetry event"`
	LastSeenAt  time.Time  `json:"last_seen_at" doc:"When telemetry for this book last arrived"`
}

// SessionResponse contains reading session data in API responses.
type SessionResponse struct {
	ID        string     `json:"id" doc:"Device-generated session ID"`
	StartedAt time.Time  `json:"started_at" doc:"Session start"`
	EndedAt   *time.Time `json:"ended_at,omitempty" doc:"Session end, absent while open"`
	StartPage int        `json:"start_page" doc:"Page at session start"`
	EndPage   *int       `json:"end_page,omitempty" doc:"Page at session end"`
	PagesRead int        `json:"pages_read" doc:"Pages advanced during the session"`
	EndOnly   bool       `json:"end_only" doc:"True when the start event was never received"`
}

// CurrentReadingOutput wraps the current book response for Huma.
type CurrentReadingOutput struct {
	Body BookResponse
}

// ListBooksInput contains parameters for listing books.
type ListBooksInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum books to return"`
}

// BooksResponse contains a page of books.
type BooksResponse struct {
	Books []BookResponse `json:"books" doc:"Books, most recently seen first"`
	Count int            `json:"count" doc:"Number of books returned"`
}

// ListBooksOutput wraps the book list response for Huma.
type ListBooksOutput struct {
	Body BooksResponse
}

// GetBookInput contains parameters for fetching one book.
type GetBookInput struct {
	ID string `path:"id" doc:"Book ID"`
}

// BookDetailResponse contains a book and its sessions.
type BookDetailResponse struct {
	Book     BookResponse      `json:"book" doc:"Book"`
	Sessions []SessionResponse `json:"sessions" doc:"Reading sessions, newest first"`
}

// GetBookOutput wraps the book detail response for Huma.
type GetBookOutput struct {
	Body BookDetailResponse
}

// HeatmapInput contains parameters for the reading heatmap.
type HeatmapInput struct {
	Days int `query:"days" default:"365" minimum:"1" maximum:"1095" doc:"Window size in days, ending today"`
}

// DayActivityResponse contains one day of reading activity.
type DayActivityResponse struct {
	Date        string `json:"date" doc:"Day in YYYY-MM-DD form"`
	PagesRead   int    `json:"pages_read" doc:"Distinct pages read that day"`
	SecondsRead int64  `json:"seconds_read" doc:"Dwell time recorded that day"`
}

// HeatmapResponse contains per-day activity for a window. Days with no
// activity are omitted.
type HeatmapResponse struct {
	From string                `json:"from" doc:"Window start, YYYY-MM-DD"`
	To   string                `json:"to" doc:"Window end, YYYY-MM-DD"`
	Days []DayActivityResponse `json:"days" doc:"Days with recorded activity"`
}

// HeatmapOutput wraps the heatmap response for Huma.
type HeatmapOutput struct {
	Body HeatmapResponse
}

// === Handlers ===

func (s *Server) handleGetCurrentReading(ctx context.Context, _ *struct{}) (*CurrentReadingOutput, error) {
	book, err := s.store.GetCurrentBook(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to look up current book", err)
	}
	if book == nil {
		return nil, huma.Error404NotFound("no books have been seen yet")
	}

	return &CurrentReadingOutput{Body: toBookResponse(book)}, nil
}

func (s *Server) handleListBooks(ctx context.Context, input *ListBooksInput) (*ListBooksOutput, error) {
	books, err := s.store.ListBooks(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list books", err)
	}

	resp := BooksResponse{Books: make([]BookResponse, 0, len(books))}
	for _, b := range books {
		resp.Books = append(resp.Books, toBookResponse(b))
	}
	resp.Count = len(resp.Books)

	return &ListBooksOutput{Body: resp}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *GetBookInput) (*GetBookOutput, error) {
	book, err := s.store.GetBook(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	sessions, err := s.store.GetBookSessions(ctx, book.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load sessions", err)
	}

	resp := BookDetailResponse{
		Book:     toBookResponse(book),
		Sessions: make([]SessionResponse, 0, len(sessions)),
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(sess))
	}

	return &GetBookOutput{Body: resp}, nil
}

func (s *Server) handleGetHeatmap(ctx context.Context, input *HeatmapInput) (*HeatmapOutput, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -(input.Days - 1))

	activity, err := s.store.GetDailyActivity(ctx, from, to)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to compute activity", err)
	}

	resp := HeatmapResponse{
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
		Days: make([]DayActivityResponse, 0, len(activity)),
	}
	for _, day := range activity {
		resp.Days = append(resp.Days, DayActivityResponse{
			Date:        day.Date,
			PagesRead:   day.PagesRead,
			SecondsRead: day.SecondsRead,
		})
	}

	return &HeatmapOutput{Body: resp}, nil
}

// === Converters ===

func toBookResponse(b *domain.Book) BookResponse {
	resp := BookResponse{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		ISBN:        b.ISBN,
		CoverURL:    b.CoverURL,
		CurrentPage: b.CurrentPage,
		TotalPages:  b.TotalPages,
		PagesRead:   b.PagesRead,
		SecondsRead: b.SecondsRead,
		LastEventAt: b.LastEventAt,
		LastSeenAt:  b.LastSeenAt,
	}
	if b.TotalPages != nil && *b.TotalPages > 0 {
		progress := float64(b.CurrentPage) / float64(*b.TotalPages) * 100
		if progress > 100 {
			progress = 100
		}
		resp.Progress = &progress
	}
	return resp
}

func toSessionResponse(sess *domain.ReadingSession) SessionResponse {
	return SessionResponse{
		ID:        sess.ID,
		StartedAt: sess.StartedAt,
		EndedAt:   sess.EndedAt,
		StartPage: sess.StartPage,
		EndPage:   sess.EndPage,
		PagesRead: sess.PagesRead,
		EndOnly:   sess.EndOnly,
	}
}
