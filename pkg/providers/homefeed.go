package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
)

// PageError reports a page that could not be fetched within the retry budget.
type PageError struct {
	Page     int
	Attempts int
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d failed after %d attempt(s): %v", e.Page, e.Attempts, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// homefeedFetcher fetches pages of a cursor-paginated JSON home feed.
type homefeedFetcher struct {
	client HTTPClient
	opts   FetchOptions
	wait   func(ctx context.Context, d time.Duration) error
}

// NewHomefeedFetcher builds a page fetcher with bounded retries.
func NewHomefeedFetcher(client HTTPClient, opts FetchOptions) PageFetcher {
	if client == nil {
		client = HTTPClientFor(opts)
	}
	return &homefeedFetcher{
		client: client,
		opts:   opts.normalize(),
		wait:   sleepContext,
	}
}

func (f *homefeedFetcher) ID() string {
	return ProviderTypeHomefeed
}

// FetchPage retries network errors, non-2xx responses and attempt timeouts,
// waiting BackoffBase*2^n between attempts.
func (f *homefeedFetcher) FetchPage(ctx context.Context, req PageRequest) ([]byte, error) {
	if req.Page < 1 {
		return nil, fmt.Errorf("invalid page %d (pages start at 1)", req.Page)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, errors.New("session id is empty")
	}
	if strings.TrimSpace(req.Provider.SourceURL) == "" {
		return nil, fmt.Errorf("provider %q source_url is empty", req.Provider.ID)
	}

	query := pageQuery(req.SessionID, req.Page, req.Cursor)
	headers := Headers(req.Provider)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < f.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		body, err := f.attempt(ctx, req.Provider.SourceURL, query, headers)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == f.opts.MaxAttempts-1 {
			break
		}
		delay := f.opts.BackoffBase * time.Duration(1<<attempt)
		logger.WarnObj("feed page request failed, retrying", "page_retry", map[string]any{
			"provider_id": req.Provider.ID,
			"page":        req.Page,
			"attempt":     attempts,
			"retry_in_ms": delay.Milliseconds(),
			"error":       err.Error(),
		})
		if err := f.wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &PageError{Page: req.Page, Attempts: attempts, Err: lastErr}
}

func (f *homefeedFetcher) attempt(ctx context.Context, sourceURL string, query url.Values, headers map[string]string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	resp, err := f.client.Get(attemptCtx, sourceURL, query, headers)
	if err != nil {
		return nil, fmt.Errorf("http fetch: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("status %d body: %s", resp.StatusCode(), responseSnippet(resp.Body()))
	}
	return resp.Body(), nil
}

// pageQuery encodes the page request; cursor fields are sent only when present.
func pageQuery(sessionID string, page int, cursor domain.Cursor) url.Values {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("page", strconv.Itoa(page))
	if cursor.NextCursor != nil {
		q.Set("nextCursor", *cursor.NextCursor)
	}
	if cursor.AdAfterCardsCount != nil {
		q.Set("adAfterCardsCount", strconv.Itoa(*cursor.AdAfterCardsCount))
	}
	if cursor.AdNextSeq != nil {
		q.Set("adNextSeq", strconv.Itoa(*cursor.AdNextSeq))
	}
	return q
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
