// Package api exposes the crawl core over HTTP: a single-page endpoint, SSE
// and WebSocket streams, and a health probe.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
	"github.com/samvad-hq/homefeed-crawler/internal/stream"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

const wsRequestTimeout = 30 * time.Second

// Options carries the request limits and connection settings.
type Options struct {
	DefaultMaxPages    int
	MaxPagesLimit      int
	EmptyPageThreshold int
	Heartbeat          time.Duration
	CORSAllowOrigin    string
}

// Handler serves the crawl API for one provider.
type Handler struct {
	fetcher  providers.PageFetcher
	provider providers.Provider
	streamer *stream.Streamer
	opts     Options
	log      logger.Logger
}

// New builds a handler; fetcher and provider are shared by all requests.
func New(fetcher providers.PageFetcher, provider providers.Provider, opts Options, log logger.Logger) *Handler {
	log = logger.Ensure(log)
	if opts.CORSAllowOrigin == "" {
		opts.CORSAllowOrigin = "*"
	}
	return &Handler{
		fetcher:  fetcher,
		provider: provider,
		streamer: stream.NewStreamer(fetcher, provider, log),
		opts:     opts,
		log:      log,
	}
}

// Routes returns the chi router with middleware applied.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors(h.opts.CORSAllowOrigin))

	r.Get("/healthz", h.health)
	r.Route("/api/crawl", func(r chi.Router) {
		r.Post("/", h.crawlPage)
		r.Post("/stream", h.crawlStreamPost)
		r.Get("/stream", h.crawlStreamGet)
		r.Get("/ws", h.crawlWebSocket)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// crawlPage fetches exactly one page and returns its items and cursor.
func (h *Handler) crawlPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}

	raw, err := h.fetcher.FetchPage(r.Context(), providers.PageRequest{
		Provider:  h.provider,
		SessionID: sessionID,
		Page:      page,
		Cursor: domain.Cursor{
			NextCursor:        req.NextCursor,
			AdAfterCardsCount: req.AdAfterCardsCount,
			AdNextSeq:         req.AdNextSeq,
		},
	})
	if err != nil {
		h.log.WarnObj("single page crawl failed", "crawl_page_error", map[string]any{
			"provider_id": h.provider.ID,
			"page":        page,
			"error":       err.Error(),
		})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	extracted := providers.ExtractorFor(h.provider).ExtractPage(raw)
	items := extracted.Items
	if items == nil {
		items = []domain.FeedItem{}
	}
	writeJSON(w, http.StatusOK, PageResponse{
		Items:      items,
		TotalCards: extracted.TotalCards,
		HasMore:    extracted.TotalCards > 0,
		Cursor:     extracted.Next,
	})
}

func (h *Handler) crawlStreamPost(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.serveSSE(w, r, req)
}

func (h *Handler) crawlStreamGet(w http.ResponseWriter, r *http.Request) {
	req, err := streamRequestFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.serveSSE(w, r, req)
}

func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, req StreamRequest) {
	sessionID, opts, err := h.crawlOptions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sink, err := stream.NewSSESink(w, corsHeaders(h.opts.CORSAllowOrigin))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go sink.KeepAlive(ctx, h.opts.Heartbeat)

	h.logStreamEnd("sse", h.streamer.Stream(ctx, sink, sessionID, opts))
}

// crawlWebSocket reads the crawl request from the first text frame, streams
// the run and closes normally after the terminal message.
func (h *Handler) crawlWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.WarnObj("websocket accept failed", "ws_error", map[string]any{"error": err.Error()})
		return
	}
	defer conn.CloseNow()

	sink := stream.NewWebSocketSink(conn)

	readCtx, cancel := context.WithTimeout(r.Context(), wsRequestTimeout)
	typ, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		return
	}
	if typ != websocket.MessageText {
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON text frame")
		return
	}

	var req StreamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = sink.Send(r.Context(), stream.ErrorMessage("invalid JSON request"))
		conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}
	sessionID, opts, err := h.crawlOptions(req)
	if err != nil {
		_ = sink.Send(r.Context(), stream.ErrorMessage(err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}

	// The client sends nothing after the request; CloseRead cancels ctx when it disconnects.
	ctx := conn.CloseRead(r.Context())
	err = h.streamer.Stream(ctx, sink, sessionID, opts)
	h.logStreamEnd("websocket", err)
	if errors.Is(err, stream.ErrDisconnected) || ctx.Err() != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	origin := h.opts.CORSAllowOrigin
	if origin == "*" {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		origin = u.Host
	}
	return &websocket.AcceptOptions{OriginPatterns: []string{origin}}
}

func (h *Handler) logStreamEnd(transport string, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, stream.ErrDisconnected), errors.Is(err, context.Canceled):
		h.log.DebugObj("stream ended early", "stream_end", map[string]any{
			"transport": transport,
			"reason":    err.Error(),
		})
	default:
		h.log.WarnObj("stream ended with error", "stream_end", map[string]any{
			"transport":   transport,
			"provider_id": h.provider.ID,
			"error":       err.Error(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
