package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samvad-hq/homefeed-crawler/internal/crawler"
	"github.com/samvad-hq/homefeed-crawler/internal/domain"
)

const maxRequestBodyBytes = 64 << 10

// StreamRequest starts a streamed crawl. Delay is in milliseconds.
type StreamRequest struct {
	SessionID string `json:"sessionId"`
	MaxPages  int    `json:"maxPages"`
	Delay     int    `json:"delay"`
}

// PageRequest fetches a single feed page with an optional cursor.
type PageRequest struct {
	SessionID         string  `json:"sessionId"`
	Page              int     `json:"page"`
	NextCursor        *string `json:"nextCursor"`
	AdAfterCardsCount *int    `json:"adAfterCardsCount"`
	AdNextSeq         *int    `json:"adNextSeq"`
}

// PageResponse is the single-page result; cursor fields are present only when upstream sent them.
type PageResponse struct {
	Items      []domain.FeedItem `json:"items"`
	TotalCards int               `json:"totalCards"`
	HasMore    bool              `json:"hasMore"`
	domain.Cursor
}

// requestError is a client error answered with 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func streamRequestFromQuery(q url.Values) (StreamRequest, error) {
	req := StreamRequest{SessionID: q.Get("sessionId")}
	var err error
	if req.MaxPages, err = queryInt(q, "maxPages"); err != nil {
		return req, err
	}
	if req.Delay, err = queryInt(q, "delay"); err != nil {
		return req, err
	}
	return req, nil
}

func queryInt(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return n, nil
}

// crawlOptions validates req against the server limits.
func (h *Handler) crawlOptions(req StreamRequest) (string, crawler.Options, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return "", crawler.Options{}, badRequest("sessionId is required")
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = h.opts.DefaultMaxPages
	}
	if h.opts.MaxPagesLimit > 0 && maxPages > h.opts.MaxPagesLimit {
		return "", crawler.Options{}, badRequest("maxPages must not exceed %d", h.opts.MaxPagesLimit)
	}

	var delay time.Duration
	if req.Delay > 0 {
		delay = time.Duration(req.Delay) * time.Millisecond
	}

	return sessionID, crawler.Options{
		MaxPages:           maxPages,
		PageDelay:          delay,
		EmptyPageThreshold: h.opts.EmptyPageThreshold,
	}, nil
}
