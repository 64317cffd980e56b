// Package ingest implements the idempotent ingestion engine that turns device
// telemetry events into book, session, and page state.
package ingest

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/readtrailapp/readtrail-server/internal/domain"
	domainerrors "github.com/readtrailapp/readtrail-server/internal/errors"
	"github.com/readtrailapp/readtrail-server/internal/id"
	"github.com/readtrailapp/readtrail-server/internal/store"
	"github.com/readtrailapp/readtrail-server/internal/store/sqlite"
)

// validate is a shared validator instance for request validation.
var validate = func() *validator.Validate {
	v := validator.New()
	// Use JSON tag names for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "" {
			return fld.Name
		}
		for i := range len(name) {
			if name[i] == ',' {
				return name[:i]
			}
		}
		return name
	})
	return v
}()

// CoverResolver looks up a cover URL for newly created books.
// Lookups happen exactly once per book; errors degrade to "no cover".
type CoverResolver interface {
	Resolve(ctx context.Context, isbn, title, author string) (string, error)
}

// NoopCoverResolver never finds a cover. Used in tests and when cover
// lookups are disabled.
type NoopCoverResolver struct{}

// Resolve implements CoverResolver.
func (NoopCoverResolver) Resolve(context.Context, string, string, string) (string, error) {
	return "", nil
}

// Service applies telemetry events to the state store.
//
// The service is stateless across requests and safe for concurrent use;
// consistency under replay and concurrent delivery rests on the store's
// uniqueness constraints, not on locking. There is deliberately no
// transaction around the book upsert / session write / telemetry insert
// sequence: an interruption can leave a book row updated without its
// telemetry, and the next delivery attempt repairs it.
type Service struct {
	store  *sqlite.Store
	covers CoverResolver
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an ingestion service.
func NewService(store *sqlite.Store, covers CoverResolver, logger *slog.Logger) *Service {
	if covers == nil {
		covers = NoopCoverResolver{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:  store,
		covers: covers,
		logger: logger,
		now:    time.Now,
	}
}

// eventRequest mirrors domain.Event with validation tags. Validation runs
// before any state is touched; a failed event mutates nothing.
type eventRequest struct {
	Type        domain.EventType `json:"event_type" validate:"required"`
	Title       string           `json:"title" validate:"required"`
	SessionID   string           `json:"session_id"`
	CurrentPage int              `json:"current_page" validate:"gte=0"`
	TotalPages  int              `json:"total_pages" validate:"gte=0"`
	Progress    *float64         `json:"progress" validate:"omitempty,gte=0,lte=100"`
}

// validateEvent checks the required fields for an event's kind.
func validateEvent(ev *domain.Event) error {
	req := eventRequest{
		Type:        ev.Type,
		Title:       ev.Title,
		SessionID:   ev.SessionID,
		CurrentPage: ev.CurrentPage,
		TotalPages:  ev.TotalPages,
		Progress:    ev.Progress,
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if !ev.Type.Valid() {
		return domainerrors.Validationf("unknown event_type %q", ev.Type)
	}
	switch ev.Type {
	case domain.EventSessionStart, domain.EventSessionEnd:
		if ev.SessionID == "" {
			return domainerrors.Validationf("session_id is required for %s events", ev.Type)
		}
	}
	return nil
}

// BatchResult summarizes one ingested batch. Per-item failures are logged
// server-side; clients only see the counts.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// IngestBatch applies a batch of events in order. A failed event is counted
// and logged but does not stop the rest of the batch; the response reports
// overall counts only.
func (s *Service) IngestBatch(ctx context.Context, events []domain.Event) (*BatchResult, error) {
	result := &BatchResult{Processed: len(events)}

	for i := range events {
		if err := s.IngestEvent(ctx, &events[i]); err != nil {
			s.logger.Warn("failed to ingest event",
				"error", err,
				"event_type", events[i].Type,
				"title", events[i].Title,
				"session_id", events[i].SessionID,
			)
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	return result, nil
}

// IngestEvent validates and applies a single telemetry event.
func (s *Service) IngestEvent(ctx context.Context, ev *domain.Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}

	book, err := s.resolveBook(ctx, ev)
	if err != nil {
		return err
	}

	switch ev.Type {
	case domain.EventSessionStart:
		err = s.applySessionStart(ctx, book, ev)
	case domain.EventSessionEnd:
		err = s.applySessionEnd(ctx, book, ev)
	case domain.EventPageTurn:
		err = s.applyPageTurn(ctx, book, ev)
	}
	if err != nil {
		return err
	}

	// Receive-time marker: this is what surfaces the book as "currently
	// reading", independent of the event's own timestamp.
	return s.store.TouchBookSeen(ctx, book.ID, s.now())
}

// resolveBook finds or creates the book a telemetry event belongs to.
// Creation resolves the cover exactly once; resolution on an existing row
// only refines fields that were previously unknown.
func (s *Service) resolveBook(ctx context.Context, ev *domain.Event) (*domain.Book, error) {
	key := ev.IdentityKey()

	book, err := s.store.GetBookByIdentityKey(ctx, key)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "look up book")
	}

	if book != nil {
		changed := false
		if book.TotalPages == nil && ev.TotalPages > 0 {
			book.RefineTotalPages(ev.TotalPages)
			changed = true
		}
		if book.ISBN == "" && ev.ISBN != "" {
			book.ISBN = domain.NormalizeISBN(ev.ISBN)
			changed = true
		}
		if book.Author == "" && ev.Author != "" {
			book.Author = ev.Author
			changed = true
		}
		if changed {
			book.Touch()
			if err := s.store.UpdateBook(ctx, book); err != nil {
				return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "refine book")
			}
		}
		return book, nil
	}

	bookID, err := id.Generate("bk")
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate book id")
	}

	book = &domain.Book{
		ID:          bookID,
		IdentityKey: key,
		Title:       ev.Title,
		Author:      ev.Author,
		ISBN:        domain.NormalizeISBN(ev.ISBN),
		LastSeenAt:  s.now(),
	}
	book.RefineTotalPages(ev.TotalPages)
	book.InitTimestamps()

	// Cover lookup happens once, at creation. A miss or an error is cached
	// as "no cover"; existing rows are never re-fetched.
	coverURL, err := s.covers.Resolve(ctx, book.ISBN, book.Title, book.Author)
	if err != nil {
		s.logger.Warn("cover lookup failed", "error", err, "title", book.Title)
	} else {
		book.CoverURL = coverURL
	}

	if err := s.store.CreateBook(ctx, book); err != nil {
		// A concurrent request for the same new book can win the insert
		// race; fall back to reading the row it created.
		if domainerrors.Is(err, store.ErrAlreadyExists) {
			existing, lookupErr := s.store.GetBookByIdentityKey(ctx, key)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "create book")
	}

	s.logger.Info("created book",
		"book_id", book.ID,
		"identity_key", book.IdentityKey,
		"title", book.Title,
	)

	return book, nil
}

// applySessionStart inserts a session row keyed by the device session id.
// Duplicate starts are no-ops.
func (s *Service) applySessionStart(ctx context.Context, book *domain.Book, ev *domain.Event) error {
	startedAt := ev.Timestamp
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	now := s.now()
	sess := &domain.ReadingSession{
		ID:        ev.SessionID,
		BookID:    book.ID,
		StartedAt: startedAt,
		StartPage: ev.CurrentPage,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.CreateSession(ctx, sess)
	if domainerrors.Is(err, store.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "create session")
	}
	return nil
}

// applySessionEnd terminates a session. When the start was never seen
// (evicted on device or delivered out of order), an end-only row is
// recorded instead of failing.
func (s *Service) applySessionEnd(ctx context.Context, book *domain.Book, ev *domain.Event) error {
	endedAt := ev.Timestamp
	if endedAt.IsZero() {
		endedAt = s.now()
	}

	sess, err := s.store.GetSession(ctx, ev.SessionID)
	if err != nil && !domainerrors.Is(err, store.ErrNotFound) {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "look up session")
	}

	if sess == nil {
		now := s.now()
		endPage := ev.CurrentPage
		orphan := &domain.ReadingSession{
			ID:        ev.SessionID,
			BookID:    book.ID,
			StartedAt: endedAt,
			EndedAt:   &endedAt,
			StartPage: ev.CurrentPage,
			EndPage:   &endPage,
			EndOnly:   true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.store.CreateSession(ctx, orphan)
		if domainerrors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "create end-only session")
		}
		return nil
	}

	if !sess.IsOpen() {
		// End fields are set once; a replayed session_end is a no-op.
		return nil
	}

	sess.Finish(endedAt, ev.CurrentPage)
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "finish session")
	}
	return nil
}

// applyPageTurn inserts a telemetry row and refreshes the book's cached
// aggregates and position from the full telemetry set.
func (s *Service) applyPageTurn(ctx context.Context, book *domain.Book, ev *domain.Event) error {
	occurredAt := ev.Timestamp
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	pt := &domain.PageTelemetry{
		BookID:     book.ID,
		Page:       ev.CurrentPage,
		OccurredAt: occurredAt,
		CreatedAt:  s.now(),
	}
	if ev.Duration != nil {
		pt.DurationSeconds = ev.Duration
	}
	if ev.TotalPages > 0 {
		tp := ev.TotalPages
		pt.TotalPages = &tp
	}

	if _, err := s.store.InsertTelemetry(ctx, pt); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "insert telemetry")
	}

	agg, err := s.store.ComputeBookAggregates(ctx, book.ID)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "compute aggregates")
	}

	latest, err := s.store.GetLatestEventTime(ctx, book.ID)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "latest event time")
	}

	book.PagesRead = agg.PagesRead
	book.SecondsRead = agg.SecondsRead
	book.LastEventAt = latest
	if ev.CurrentPage > book.CurrentPage {
		book.CurrentPage = ev.CurrentPage
	}
	book.RefineTotalPages(ev.TotalPages)
	book.Touch()

	if err := s.store.UpdateBook(ctx, book); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "update book aggregates")
	}
	return nil
}

// formatValidationError converts validator errors to domain errors.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if domainerrors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			field := e.Field()
			switch e.Tag() {
			case "required":
				return domainerrors.Validationf("%s is required", field)
			case "gte":
				return domainerrors.Validationf("%s must be at least %s", field, e.Param())
			case "lte":
				return domainerrors.Validationf("%s must be at most %s", field, e.Param())
			default:
				return domainerrors.Validationf("%s is invalid", field)
			}
		}
	}
	return err
}
