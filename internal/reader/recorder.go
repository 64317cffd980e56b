package reader

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/readtrailapp/readtrail-server/internal/domain"
)

// Dwell bounds for page turn durations. A flip-through registers the page
// but carries no duration; anything above the ceiling means the reader put
// the device down mid-page.
const (
	MinDwell = 5 * time.Second
	MaxDwell = 90 * time.Second
)

// BookInfo is the identity material the device knows about the open book.
type BookInfo struct {
	Title      string
	Author     string
	ISBN       string
	MD5        string
	TotalPages int
}

// session tracks the state of the currently open book.
type session struct {
	id         string
	book       BookInfo
	page       int
	maxPage    int
	lastTurnAt time.Time
}

// Recorder turns reader activity into telemetry events on the queue.
//
// Progress is a forward-only watermark: a page turn emits an event only when
// it advances past the furthest page seen this session, so paging back to
// re-read never generates telemetry.
type Recorder struct {
	queue  *Queue
	syncer *Syncer
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	current *session
}

// NewRecorder creates a recorder writing to queue. syncer may be nil; when
// set, the recorder signals it on page turns and session boundaries.
func NewRecorder(queue *Queue, syncer *Syncer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		queue:  queue,
		syncer: syncer,
		logger: logger,
		now:    time.Now,
	}
}

// Open begins a reading session for book at the given page. An already-open
// session for a previous book is closed first.
func (r *Recorder) Open(book BookInfo, page int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if err := r.flushDwellLocked(); err != nil {
			return err
		}
		if err := r.endSessionLocked(); err != nil {
			return err
		}
	}

	now := r.now()
	r.current = &session{
		id:         uuid.NewString(),
		book:       book,
		page:       page,
		maxPage:    page,
		lastTurnAt: now,
	}

	ev := r.newEventLocked(domain.EventSessionStart, now)
	if err := r.queue.Enqueue(ev); err != nil {
		return err
	}
	return nil
}

// PageTurn records that the reader is now on page. Dwell time on the
// previous page is attached when it falls inside the trusted window.
func (r *Recorder) PageTurn(page int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}

	now := r.now()
	dwell := now.Sub(r.current.lastTurnAt)
	r.current.lastTurnAt = now
	r.current.page = page

	// Only forward progress generates telemetry.
	if page <= r.current.maxPage {
		return nil
	}
	r.current.maxPage = page

	ev := r.newEventLocked(domain.EventPageTurn, now)
	if dwell >= MinDwell && dwell <= MaxDwell {
		seconds := int(dwell.Seconds())
		ev.Duration = &seconds
	}

	if err := r.queue.Enqueue(ev); err != nil {
		return err
	}
	if r.syncer != nil {
		r.syncer.NotifyPageTurn()
	}
	return nil
}

// Close ends the open session, recording the final page. The in-flight
// dwell is flushed through the plausibility filter before the session_end
// goes out.
func (r *Recorder) Close(page int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	r.current.page = page

	if err := r.flushDwellLocked(); err != nil {
		return err
	}
	if err := r.endSessionLocked(); err != nil {
		return err
	}
	if r.syncer != nil {
		r.syncer.NotifyFlush()
	}
	return nil
}

// Suspend flushes the in-flight dwell ahead of the device sleeping but
// keeps the session open. The page timer restarts so that when the device
// wakes, the next page is timed from the wake, not from before the nap.
// The sync loop is asked to flush while the radio is still up.
func (r *Recorder) Suspend() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if err := r.flushDwellLocked(); err != nil {
			return err
		}
	}
	if r.syncer != nil {
		r.syncer.NotifyFlush()
	}
	return nil
}

// flushDwellLocked records the in-flight page's dwell through the same
// plausibility filter a page turn applies, then resets the page timer.
// Nothing is emitted when the dwell is implausible and the page is not new
// forward progress.
func (r *Recorder) flushDwellLocked() error {
	now := r.now()
	dwell := now.Sub(r.current.lastTurnAt)
	r.current.lastTurnAt = now

	accepted := dwell >= MinDwell && dwell <= MaxDwell
	forward := r.current.page > r.current.maxPage
	if forward {
		r.current.maxPage = r.current.page
	}
	if !accepted && !forward {
		return nil
	}

	ev := r.newEventLocked(domain.EventPageTurn, now)
	if accepted {
		seconds := int(dwell.Seconds())
		ev.Duration = &seconds
	}
	return r.queue.Enqueue(ev)
}

// endSessionLocked emits the session_end event and clears the session.
func (r *Recorder) endSessionLocked() error {
	ev := r.newEventLocked(domain.EventSessionEnd, r.now())
	r.current = nil
	return r.queue.Enqueue(ev)
}

// newEventLocked builds an event from the current session state.
func (r *Recorder) newEventLocked(t domain.EventType, at time.Time) domain.Event {
	s := r.current
	ev := domain.Event{
		Type:        t,
		Timestamp:   at,
		Title:       s.book.Title,
		Author:      s.book.Author,
		ISBN:        s.book.ISBN,
		MD5:         s.book.MD5,
		CurrentPage: s.page,
		TotalPages:  s.book.TotalPages,
		SessionID:   s.id,
	}
	if s.book.TotalPages > 0 {
		progress := float64(s.page) / float64(s.book.TotalPages) * 100
		if progress > 100 {
			progress = 100
		}
		ev.Progress = &progress
	}
	return ev
}
