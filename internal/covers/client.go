// Package covers resolves book cover URLs against the Open Library catalog.
package covers

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://openlibrary.org"

// Client provides rate-limited access to the Open Library search API.
// A cover is resolved once per book, at creation; failures degrade to
// "no cover" and are never fatal to ingestion.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

// NewClient creates a new Open Library client.
// Rate limited to one request per second with a small burst, which keeps a
// busy import run under the catalog's documented courtesy limits.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
		baseURL:     baseURL,
		logger:      logger,
	}
}

// wait blocks until the rate limiter allows a request.
func (c *Client) wait(ctx context.Context) error {
	return c.rateLimiter.Wait(ctx)
}

// searchResponse is the subset of the Open Library search payload we read.
type searchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		CoverID int64  `json:"cover_i"`
		Title   string `json:"title"`
	} `json:"docs"`
}

// Resolve returns a cover URL for the given book, or "" when no cover is
// known. ISBN lookups are preferred; otherwise the title/author search is
// used and the first matching document's cover wins.
func (c *Client) Resolve(ctx context.Context, isbn, title, author string) (string, error) {
	if isbn != "" {
		return fmt.Sprintf("https://covers.openlibrary.org/b/isbn/%s-L.jpg", url.PathEscape(isbn)), nil
	}
	if title == "" {
		return "", nil
	}

	if err := c.wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("limit", "1")
	params.Set("fields", "cover_i,title")

	searchURL := c.baseURL + "/search.json?" + params.Encode()

	c.logger.Debug("searching Open Library", "title", title, "author", author)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search failed: status %d", resp.StatusCode)
	}

	var searchResp searchResponse
	if err := json.UnmarshalRead(resp.Body, &searchResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if len(searchResp.Docs) == 0 || searchResp.Docs[0].CoverID == 0 {
		c.logger.Debug("no cover found", "title", title)
		return "", nil
	}

	return fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-L.jpg", searchResp.Docs[0].CoverID), nil
}
