package reader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushEvery is how many page turns accumulate before a sync attempt.
const DefaultFlushEvery = 5

// DefaultSyncInterval is the periodic drain interval, a safety net for
// long sessions with little page turning.
const DefaultSyncInterval = 5 * time.Minute

// Syncer drains the queue to the server from a single goroutine, so batches
// never interleave. Sync attempts are triggered by page-turn count, session
// boundaries, connectivity restoration, a periodic tick, and startup when
// the queue recovered events from a previous run.
type Syncer struct {
	queue     *Queue
	transport *Transport
	logger    *slog.Logger
	interval  time.Duration
	every     int

	mu    sync.Mutex
	turns int

	kick   chan struct{}
	online chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSyncer creates a syncer draining queue through transport.
func NewSyncer(queue *Queue, transport *Transport, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{
		queue:     queue,
		transport: transport,
		logger:    logger,
		interval:  DefaultSyncInterval,
		every:     DefaultFlushEvery,
		kick:      make(chan struct{}, 1),
		online:    make(chan struct{}, 1),
	}
}

// Start launches the sync loop. Stop shuts it down.
func (s *Syncer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Anything recovered from a previous run goes out as soon as we can.
	if s.queue.Len() > 0 {
		s.requestSync()
	}

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop attempts a final flush and stops the loop.
func (s *Syncer) Stop() {
	s.flush(context.Background())
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// NotifyPageTurn counts a page turn; every Nth turn triggers a sync.
func (s *Syncer) NotifyPageTurn() {
	s.mu.Lock()
	s.turns++
	trigger := s.turns >= s.every
	if trigger {
		s.turns = 0
	}
	s.mu.Unlock()

	if trigger {
		s.requestSync()
	}
}

// NotifyFlush triggers an immediate sync attempt (session close, suspend).
func (s *Syncer) NotifyFlush() {
	s.requestSync()
}

// NotifyOnline signals that connectivity was restored.
func (s *Syncer) NotifyOnline() {
	select {
	case s.online <- struct{}{}:
	default:
	}
}

func (s *Syncer) requestSync() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Syncer) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-s.online:
		case <-ticker.C:
		}
		s.flush(ctx)
	}
}

// flush delivers everything currently queued as one batch. The whole batch
// is acknowledged or retained together: the server tolerates replays, so
// keeping a partially-applied batch is always safe.
func (s *Syncer) flush(ctx context.Context) {
	events, upTo, err := s.queue.Pending()
	if err != nil {
		s.logger.Error("failed to read queue", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	outcome, err := s.transport.Deliver(ctx, events)
	switch outcome {
	case OutcomeDelivered:
		if err := s.queue.Acknowledge(upTo); err != nil {
			s.logger.Error("failed to acknowledge batch", "error", err)
			return
		}
		s.logger.Debug("batch delivered", "events", len(events))
	case OutcomeRejected:
		// The server will never accept these bytes; keeping them would wedge
		// the queue forever.
		s.logger.Warn("batch rejected, dropping", "events", len(events), "error", err)
		if err := s.queue.Acknowledge(upTo); err != nil {
			s.logger.Error("failed to drop rejected batch", "error", err)
		}
	case OutcomeUnreachable:
		s.logger.Debug("server unreachable, retaining batch", "events", len(events), "error", err)
	}
}
