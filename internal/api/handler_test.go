package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/samvad-hq/homefeed-crawler/internal/stream"
	"github.com/samvad-hq/homefeed-crawler/pkg/httpclient"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

func card(title, url, service string) string {
	return fmt.Sprintf(`{"code":"searchFeed","contents":{"item":{"title":%q,"url":%q},"byPass":{"service":%q}}}`, title, url, service)
}

// upstream fakes the feed endpoint; pages not listed return no cards.
type upstream struct {
	mu       sync.Mutex
	pages    map[string]string
	status   int
	requests []string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests = append(u.requests, r.URL.RawQuery)
	u.mu.Unlock()
	if u.status != 0 {
		http.Error(w, "unavailable", u.status)
		return
	}
	body, ok := u.pages[r.URL.Query().Get("page")]
	if !ok {
		body = `{"cards":[]}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func newTestAPI(t *testing.T, up *upstream) *httptest.Server {
	t.Helper()
	feed := httptest.NewServer(up)
	t.Cleanup(feed.Close)

	provider := providers.Provider{
		ID:             "naver_homefeed",
		Name:           "Naver Home Feed",
		Type:           providers.ProviderTypeHomefeed,
		SourceURL:      feed.URL,
		ResponseFormat: "json",
		RequestDelayMs: 1,
	}
	fetcher := providers.NewHomefeedFetcher(httpclient.NewRestyClient(2*time.Second), providers.FetchOptions{
		Timeout:     2 * time.Second,
		MaxAttempts: 1,
	})
	h := New(fetcher, provider, Options{
		DefaultMaxPages:    15,
		MaxPagesLimit:      50,
		EmptyPageThreshold: 3,
	}, nil)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readSSE(t *testing.T, resp *http.Response) []wireMessage {
	t.Helper()
	var out []wireMessage
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg wireMessage
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		out = append(out, msg)
	}
	return out
}

func twoPageUpstream() *upstream {
	return &upstream{pages: map[string]string{
		"1": `{"cards":[` + card("Post", "https://blog.naver.com/u/1", "BLOG") + `,` +
			card("Creator", "https://in.naver.com/c/contents/internal/7", "BLOG") + `],"pageInfo":{"nextCursor":"n1"}}`,
	}}
}

func TestStreamPostEndToEnd(t *testing.T) {
	up := twoPageUpstream()
	srv := newTestAPI(t, up)

	resp, err := http.Post(srv.URL+"/api/crawl/stream", "application/json", strings.NewReader(`{"sessionId":"abc","maxPages":2}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, resp.Header)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	msgs := readSSE(t, resp)
	var items []map[string]string
	for _, m := range msgs {
		if m.Type == "item" {
			var it map[string]string
			_ = json.Unmarshal(m.Data, &it)
			items = append(items, it)
		}
	}
	if len(items) != 2 || items[1]["service"] != providers.InfluencerService {
		t.Fatalf("unexpected items %+v", items)
	}
	last := msgs[len(msgs)-1]
	if last.Type != "complete" {
		t.Fatalf("expected complete last, got %s", last.Type)
	}
	var done stream.CompleteData
	if err := json.Unmarshal(last.Data, &done); err != nil || done.TotalItems != 2 {
		t.Fatalf("unexpected complete payload %s", last.Data)
	}
	if msgs[0].Type != "progress" || !strings.Contains(string(msgs[0].Data), `"currentPage":0`) {
		t.Fatalf("expected initial progress, got %+v", msgs[0])
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.requests) != 2 || !strings.Contains(up.requests[1], "nextCursor=n1") {
		t.Fatalf("unexpected upstream requests %v", up.requests)
	}
}

func TestStreamGetReportsUpstreamFailure(t *testing.T) {
	srv := newTestAPI(t, &upstream{status: http.StatusServiceUnavailable})

	resp, err := http.Get(srv.URL + "/api/crawl/stream?sessionId=abc&maxPages=5&delay=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	msgs := readSSE(t, resp)
	terminal := 0
	for _, m := range msgs {
		if m.Type == "complete" || m.Type == "error" {
			terminal++
		}
	}
	if terminal != 1 || msgs[len(msgs)-1].Type != "error" {
		t.Fatalf("expected a single trailing error message, got %+v", msgs)
	}
}

func TestStreamValidation(t *testing.T) {
	srv := newTestAPI(t, twoPageUpstream())

	cases := []struct {
		name string
		do   func() (*http.Response, error)
	}{
		{"missing session", func() (*http.Response, error) {
			return http.Post(srv.URL+"/api/crawl/stream", "application/json", strings.NewReader(`{"maxPages":2}`))
		}},
		{"over limit", func() (*http.Response, error) {
			return http.Get(srv.URL + "/api/crawl/stream?sessionId=abc&maxPages=51")
		}},
		{"bad integer", func() (*http.Response, error) {
			return http.Get(srv.URL + "/api/crawl/stream?sessionId=abc&maxPages=lots")
		}},
		{"bad json", func() (*http.Response, error) {
			return http.Post(srv.URL+"/api/crawl/stream", "application/json", strings.NewReader(`{`))
		}},
		{"single page without session", func() (*http.Response, error) {
			return http.Post(srv.URL+"/api/crawl", "application/json", strings.NewReader(`{"page":1}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := tc.do()
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d want 400", resp.StatusCode)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Fatalf("expected JSON error body, got %v (%v)", body, err)
			}
		})
	}
}

func TestCrawlPageReturnsItemsAndCursor(t *testing.T) {
	up := &upstream{pages: map[string]string{
		"3": `{"cards":[` + card("Post", "https://blog.naver.com/u/9", "BLOG") + `,{"code":"ad"}],"pageInfo":{"nextCursor":"n4","adAfterCardsCount":0}}`,
	}}
	srv := newTestAPI(t, up)

	resp, err := http.Post(srv.URL+"/api/crawl", "application/json", strings.NewReader(`{"sessionId":"abc","page":3,"nextCursor":"n3","adNextSeq":2}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["totalCards"] != float64(2) || body["hasMore"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if items := body["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", items)
	}
	if body["nextCursor"] != "n4" || body["adAfterCardsCount"] != float64(0) {
		t.Fatalf("cursor not returned: %v", body)
	}
	if _, present := body["adNextSeq"]; present {
		t.Fatalf("absent cursor field must be omitted: %v", body)
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if q := up.requests[0]; !strings.Contains(q, "nextCursor=n3") || !strings.Contains(q, "adNextSeq=2") || !strings.Contains(q, "page=3") {
		t.Fatalf("cursor not forwarded upstream: %s", q)
	}
}

func TestCrawlPageUpstreamFailureIsBadGateway(t *testing.T) {
	srv := newTestAPI(t, &upstream{status: http.StatusInternalServerError})
	resp, err := http.Post(srv.URL+"/api/crawl", "application/json", strings.NewReader(`{"sessionId":"abc"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d want 502", resp.StatusCode)
	}
}

func TestPreflightAndHealth(t *testing.T) {
	srv := newTestAPI(t, twoPageUpstream())

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/crawl/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Methods") != "GET, POST, OPTIONS" {
		t.Fatalf("unexpected preflight %d %v", resp.StatusCode, resp.Header)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", resp.StatusCode, body)
	}
}

func TestWebSocketStream(t *testing.T) {
	srv := newTestAPI(t, twoPageUpstream())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/crawl/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"sessionId":"abc","maxPages":2}`)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var types []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("expected normal closure, got %v", err)
			}
			break
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		types = append(types, msg.Type)
	}

	if len(types) == 0 || types[len(types)-1] != "complete" {
		t.Fatalf("expected stream to end with complete, got %v", types)
	}
	items := 0
	for _, typ := range types {
		if typ == "item" {
			items++
		}
	}
	if items != 2 {
		t.Fatalf("expected 2 item frames, got %d", items)
	}
}

func TestWebSocketRejectsMissingSession(t *testing.T) {
	srv := newTestAPI(t, twoPageUpstream())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/crawl/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"maxPages":2}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"type":"error"`) || !strings.Contains(string(data), "sessionId") {
		t.Fatalf("unexpected frame %s", data)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}
