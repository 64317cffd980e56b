package reader

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/readtrailapp/readtrail-server/internal/domain"
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
	// OutcomeDelivered means the server acknowledged the batch.
	OutcomeDelivered Outcome = iota
	// OutcomeRejected means the server refused the batch and a retry of the
	// same bytes would be refused again. The batch is dropped.
	OutcomeRejected
	// OutcomeUnreachable means the batch may not have been seen: network
	// failure, timeout, throttling, or a server fault. The batch is retained
	// and retried later.
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// Transport delivers event batches to the ingest endpoint over HTTP.
type Transport struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewTransport creates a transport for the server at baseURL.
func NewTransport(baseURL, token string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		token:   token,
		logger:  logger,
	}
}

// Deliver posts a batch of events. The outcome tells the caller what to do
// with the queued batch: acknowledge it (Delivered), drop it (Rejected), or
// keep it for retry (Unreachable).
func (t *Transport) Deliver(ctx context.Context, events []domain.Event) (Outcome, error) {
	payload, err := json.Marshal(events)
	if err != nil {
		// An unencodable batch can never succeed.
		return OutcomeRejected, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/api/v1/ingest/events", bytes.NewReader(payload))
	if err != nil {
		return OutcomeRejected, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return OutcomeUnreachable, fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeDelivered, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		// Throttled, not refused; retry later.
		return OutcomeUnreachable, fmt.Errorf("server throttled delivery")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return OutcomeRejected, fmt.Errorf("server rejected batch: %s", resp.Status)
	default:
		return OutcomeUnreachable, fmt.Errorf("server error: %s", resp.Status)
	}
}
