package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

// scriptedFetcher serves one canned outcome per page number and records requests.
type scriptedFetcher struct {
	pages    map[int]string
	failures map[int]error
	requests []providers.PageRequest
}

func (f *scriptedFetcher) ID() string { return "scripted" }

func (f *scriptedFetcher) FetchPage(_ context.Context, req providers.PageRequest) ([]byte, error) {
	f.requests = append(f.requests, req)
	if err, ok := f.failures[req.Page]; ok {
		return nil, err
	}
	if body, ok := f.pages[req.Page]; ok {
		return []byte(body), nil
	}
	return []byte(`{"cards":[]}`), nil
}

func card(title, url, service string) string {
	return fmt.Sprintf(`{"code":"searchFeed","contents":{"item":{"title":%q,"url":%q},"byPass":{"service":%q}}}`, title, url, service)
}

func feedPage(pageInfo string, cards ...string) string {
	if pageInfo == "" {
		return fmt.Sprintf(`{"cards":[%s]}`, strings.Join(cards, ","))
	}
	return fmt.Sprintf(`{"cards":[%s],"pageInfo":%s}`, strings.Join(cards, ","), pageInfo)
}

type runRecorder struct {
	snapshots []domain.CrawlProgress
	batches   [][]domain.FeedItem
	waits     []time.Duration
}

func (r *runRecorder) hooks() Hooks {
	return Hooks{
		Progress: func(p domain.CrawlProgress) { r.snapshots = append(r.snapshots, p) },
		Batch: func(_ context.Context, items []domain.FeedItem) error {
			r.batches = append(r.batches, items)
			return nil
		},
	}
}

func (r *runRecorder) items() []domain.FeedItem {
	var out []domain.FeedItem
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *runRecorder) last() domain.CrawlProgress {
	return r.snapshots[len(r.snapshots)-1]
}

func newTestOrchestrator(f providers.PageFetcher, opts Options, rec *runRecorder) *Orchestrator {
	o := NewOrchestrator(f, providers.Provider{ID: "feed", Name: "Feed", Type: providers.ProviderTypeHomefeed}, "session", opts, nil)
	o.wait = func(ctx context.Context, d time.Duration) error {
		rec.waits = append(rec.waits, d)
		return ctx.Err()
	}
	return o
}

// assertSnapshots checks ordering rules every run must satisfy.
func assertSnapshots(t *testing.T, snaps []domain.CrawlProgress, wantTerminal bool) {
	t.Helper()
	if len(snaps) == 0 {
		t.Fatalf("no progress snapshots")
	}
	terminal := 0
	for i, s := range snaps {
		if s.Status.Terminal() {
			terminal++
			if i != len(snaps)-1 {
				t.Fatalf("terminal snapshot at %d is not last: %+v", i, snaps)
			}
		}
		if i == 0 {
			continue
		}
		prev := snaps[i-1]
		if s.CurrentPage < prev.CurrentPage || s.ItemsFound < prev.ItemsFound {
			t.Fatalf("snapshot %d went backwards: %+v after %+v", i, s, prev)
		}
		if s.CurrentPage > s.TotalPages {
			t.Fatalf("snapshot %d beyond ceiling: %+v", i, s)
		}
	}
	if wantTerminal && terminal != 1 {
		t.Fatalf("expected exactly one terminal snapshot, got %d", terminal)
	}
	if !wantTerminal && terminal != 0 {
		t.Fatalf("expected no terminal snapshot, got %d", terminal)
	}
}

func TestRunCollectsTwoPageFeed(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]string{
		1: feedPage("",
			card("Blog post", "https://blog.naver.com/u/1", "BLOG"),
			card("Creator", "https://in.naver.com/creator/contents/internal/991", "BLOG"),
		),
		2: feedPage(""),
	}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 2, PageDelay: time.Millisecond}, rec)

	if err := o.Run(context.Background(), rec.hooks()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	items := rec.items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %+v", items)
	}
	if items[0].Service != "BLOG" || items[1].Service != providers.InfluencerService {
		t.Fatalf("unexpected services %+v", items)
	}
	assertSnapshots(t, rec.snapshots, true)
	last := rec.last()
	if last.Status != domain.StatusCompleted || last.ItemsFound != 2 || last.CurrentPage != 2 || last.TotalPages != 2 {
		t.Fatalf("unexpected terminal snapshot %+v", last)
	}
	if o.State() != StateCompleted {
		t.Fatalf("state = %s", o.State())
	}
	if len(rec.waits) != 1 || rec.waits[0] != time.Millisecond {
		t.Fatalf("expected one delay between the two pages, got %v", rec.waits)
	}
}

func TestRunStopsAfterConsecutiveEmptyPages(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]string{
		1: feedPage("", card("a", "https://x.example/1", "S")),
		2: feedPage("", card("b", "https://x.example/2", "S")),
		3: feedPage("", card("c", "https://x.example/3", "S")),
	}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 15, EmptyPageThreshold: 3}, rec)

	if err := o.Run(context.Background(), rec.hooks()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.requests) != 6 {
		t.Fatalf("expected stop after page 6, fetched %d pages", len(f.requests))
	}
	assertSnapshots(t, rec.snapshots, true)
	if last := rec.last(); last.Status != domain.StatusCompleted || last.CurrentPage != 6 || last.ItemsFound != 3 {
		t.Fatalf("unexpected terminal snapshot %+v", last)
	}
	if len(rec.waits) != 5 {
		t.Fatalf("expected no delay after the final empty page, got %d waits", len(rec.waits))
	}
}

func TestRunEmptyStreakResetsOnContent(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]string{
		3: feedPage("", card("a", "https://x.example/1", "S")),
	}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 15, EmptyPageThreshold: 3}, rec)

	if err := o.Run(context.Background(), rec.hooks()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.requests) != 6 {
		t.Fatalf("expected pages 4-6 to end the run, fetched %d", len(f.requests))
	}
}

func TestRunContinuesAfterSingleFailure(t *testing.T) {
	f := &scriptedFetcher{
		pages: map[int]string{
			1: feedPage("", card("a", "https://x.example/1", "S")),
			3: feedPage("", card("c", "https://x.example/3", "S")),
		},
		failures: map[int]error{2: &providers.PageError{Page: 2, Attempts: 3, Err: errors.New("status 503")}},
	}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 3, PageDelay: time.Second}, rec)

	if err := o.Run(context.Background(), rec.hooks()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.items()); got != 2 {
		t.Fatalf("expected items from pages 1 and 3, got %d", got)
	}
	if len(rec.waits) != 2 {
		t.Fatalf("expected delays after page 1 and failed page 2, got %v", rec.waits)
	}
	assertSnapshots(t, rec.snapshots, true)
	if last := rec.last(); last.Status != domain.StatusCompleted || last.CurrentPage != 3 {
		t.Fatalf("unexpected terminal snapshot %+v", last)
	}
}

func TestRunFailsAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("connection refused")
	f := &scriptedFetcher{failures: map[int]error{1: boom, 2: boom, 3: boom, 4: boom}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 10, EmptyPageThreshold: 3}, rec)

	err := o.Run(context.Background(), rec.hooks())
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("expected ErrTooManyFailures, got %v", err)
	}
	if len(f.requests) != 3 {
		t.Fatalf("expected 3 fetches, got %d", len(f.requests))
	}
	assertSnapshots(t, rec.snapshots, true)
	last := rec.last()
	if last.Status != domain.StatusError || last.CurrentPage != 3 || !strings.Contains(last.Message, "connection refused") {
		t.Fatalf("unexpected terminal snapshot %+v", last)
	}
	if o.State() != StateFailed {
		t.Fatalf("state = %s", o.State())
	}
}

func TestRunThreadsCursorBetweenPages(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]string{
		1: feedPage(`{"nextCursor":"c1","adAfterCardsCount":0,"adNextSeq":4}`, card("a", "https://x.example/1", "S")),
		2: feedPage("", card("b", "https://x.example/2", "S")),
		3: feedPage(`{"nextCursor":"c3"}`, card("c", "https://x.example/3", "S")),
	}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 4}, rec)

	if err := o.Run(context.Background(), rec.hooks()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.requests) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(f.requests))
	}
	if !f.requests[0].Cursor.IsZero() {
		t.Fatalf("first request must carry no cursor: %+v", f.requests[0].Cursor)
	}
	c2 := f.requests[1].Cursor
	if c2.NextCursor == nil || *c2.NextCursor != "c1" || c2.AdAfterCardsCount == nil || *c2.AdAfterCardsCount != 0 || c2.AdNextSeq == nil || *c2.AdNextSeq != 4 {
		t.Fatalf("page 2 cursor not threaded: %+v", c2)
	}
	if !f.requests[2].Cursor.IsZero() {
		t.Fatalf("page 3 cursor should be replaced by page 2's empty one: %+v", f.requests[2].Cursor)
	}
	c4 := f.requests[3].Cursor
	if c4.NextCursor == nil || *c4.NextCursor != "c3" || c4.AdNextSeq != nil {
		t.Fatalf("page 4 cursor: %+v", c4)
	}
	for i, req := range f.requests {
		if req.Page != i+1 || req.SessionID != "session" {
			t.Fatalf("request %d: %+v", i, req)
		}
	}
}

func TestRunDeduplicatesWithinRun(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]string{
		1: feedPage("", card("a", "https://x.example/1", "S"), card("a again", "https://x.example/1", "S")),
		2: feedPage("", card("a", "https://x.example/1", "S"), card("b", "https://x.example/2", "S")),
		3: feedPage("", card("a", "https://x.example/1", "S")),
	}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 3}, rec)

	if err := o.Run(context.Background(), rec.hooks()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.batches) != 2 {
		t.Fatalf("page with only repeats must not yield a batch, got %d batches", len(rec.batches))
	}
	items := rec.items()
	if len(items) != 2 || items[0].Title != "a" || items[1].URL != "https://x.example/2" {
		t.Fatalf("unexpected items %+v", items)
	}
	if rec.last().ItemsFound != 2 {
		t.Fatalf("itemsFound = %d", rec.last().ItemsFound)
	}
}

func TestRunCancelledEmitsNoTerminalSnapshot(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]string{
		1: feedPage("", card("a", "https://x.example/1", "S")),
		2: feedPage("", card("b", "https://x.example/2", "S")),
	}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 5}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hooks := rec.hooks()
	hooks.Batch = func(_ context.Context, items []domain.FeedItem) error {
		rec.batches = append(rec.batches, items)
		cancel()
		return nil
	}

	err := o.Run(ctx, hooks)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.requests) != 1 {
		t.Fatalf("expected no fetch after cancellation, got %d", len(f.requests))
	}
	assertSnapshots(t, rec.snapshots, false)
}

func TestRunBatchErrorIsFatal(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]string{
		1: feedPage("", card("a", "https://x.example/1", "S")),
	}}
	rec := &runRecorder{}
	o := newTestOrchestrator(f, Options{MaxPages: 3}, rec)
	hooks := rec.hooks()
	hooks.Batch = func(context.Context, []domain.FeedItem) error { return errors.New("sink full") }

	err := o.Run(context.Background(), hooks)
	if err == nil || !strings.Contains(err.Error(), "sink full") {
		t.Fatalf("expected sink error, got %v", err)
	}
	assertSnapshots(t, rec.snapshots, true)
	if rec.last().Status != domain.StatusError {
		t.Fatalf("expected error snapshot, got %+v", rec.last())
	}
}

func TestRunRejectsSecondCall(t *testing.T) {
	rec := &runRecorder{}
	o := newTestOrchestrator(&scriptedFetcher{}, Options{MaxPages: 1}, rec)
	if err := o.Run(context.Background(), Hooks{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := o.Run(context.Background(), Hooks{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestOptionsNormalizeDefaults(t *testing.T) {
	opts := Options{}.normalize(providers.Provider{RequestDelayMs: 250})
	if opts.MaxPages != DefaultMaxPages || opts.EmptyPageThreshold != DefaultEmptyPageThreshold || opts.PageDelay != 250*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestDeduplicatorAdmit(t *testing.T) {
	d := NewDeduplicator()
	if !d.Admit(domain.FeedItem{URL: "https://x.example/1"}) {
		t.Fatalf("first sighting must be admitted")
	}
	if d.Admit(domain.FeedItem{URL: " https://x.example/1 ", Title: "other"}) {
		t.Fatalf("same URL must be rejected")
	}
	if d.Admit(domain.FeedItem{URL: ""}) {
		t.Fatalf("empty URL must be rejected")
	}
	if d.Len() != 1 {
		t.Fatalf("Len = %d", d.Len())
	}
}

func TestWaitContextReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := waitContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
