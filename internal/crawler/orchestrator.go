package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

// ErrTooManyFailures ends a run after consecutive page failures reach the threshold.
var ErrTooManyFailures = errors.New("too many consecutive page failures")

// ErrAlreadyStarted is returned when Run is called twice on one orchestrator.
var ErrAlreadyStarted = errors.New("crawl run already started")

// State is the lifecycle of one orchestrator.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options controls the page loop.
type Options struct {
	MaxPages           int
	PageDelay          time.Duration
	EmptyPageThreshold int
}

const (
	DefaultMaxPages           = 15
	DefaultEmptyPageThreshold = 3
)

func (o Options) normalize(provider providers.Provider) Options {
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.PageDelay <= 0 {
		o.PageDelay = provider.RequestDelay()
	}
	if o.EmptyPageThreshold <= 0 {
		o.EmptyPageThreshold = DefaultEmptyPageThreshold
	}
	return o
}

// ProgressFunc receives progress snapshots in page order.
type ProgressFunc func(domain.CrawlProgress)

// BatchFunc receives each non-empty batch of newly seen items. Returning an
// error ends the run.
type BatchFunc func(ctx context.Context, items []domain.FeedItem) error

// Hooks are invoked synchronously on the goroutine calling Run.
type Hooks struct {
	Progress ProgressFunc
	Batch    BatchFunc
}

// Orchestrator drives one crawl run over a provider's paginated feed.
// Create a fresh orchestrator per run.
type Orchestrator struct {
	fetcher   providers.PageFetcher
	extractor *providers.Extractor
	provider  providers.Provider
	sessionID string
	opts      Options
	log       logger.Logger
	runID     string

	state    State
	terminal bool
	dedup    *Deduplicator
	hooks    Hooks
	wait     func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator prepares a run; nothing is fetched until Run.
func NewOrchestrator(fetcher providers.PageFetcher, provider providers.Provider, sessionID string, opts Options, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		extractor: providers.ExtractorFor(provider),
		provider:  provider,
		sessionID: sessionID,
		opts:      opts.normalize(provider),
		log:       logger.Ensure(log),
		runID:     uuid.NewString(),
		state:     StateNotStarted,
		dedup:     NewDeduplicator(),
		wait:      waitContext,
	}
}

// RunID identifies this run in logs and published events.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// TotalPages returns the page ceiling of this run.
func (o *Orchestrator) TotalPages() int { return o.opts.MaxPages }

// ItemsFound returns the number of distinct items surfaced so far.
func (o *Orchestrator) ItemsFound() int { return o.dedup.Len() }

// Run fetches pages 1..MaxPages in order, handing novel items to hooks.Batch.
// It returns nil on completion (ceiling reached or end of feed), the context
// error when cancelled, and any other error after an error snapshot.
func (o *Orchestrator) Run(ctx context.Context, hooks Hooks) error {
	if o.state != StateNotStarted {
		return ErrAlreadyStarted
	}
	if o.fetcher == nil {
		o.state = StateFailed
		return fmt.Errorf("crawler orchestrator has no page fetcher")
	}
	o.state = StateRunning
	o.hooks = hooks

	o.log.InfoObj("crawl run started", "crawl_run", map[string]any{
		"run_id":      o.runID,
		"provider_id": o.provider.ID,
		"max_pages":   o.opts.MaxPages,
		"page_delay":  o.opts.PageDelay.String(),
	})

	var (
		cursor      domain.Cursor
		emptyStreak int
		failStreak  int
		lastPage    int
		threshold   = o.opts.EmptyPageThreshold
	)

	for page := 1; page <= o.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return o.cancel(err)
		}
		lastPage = page
		o.emit(page, domain.StatusRunning, fmt.Sprintf("processing page %d", page))

		raw, err := o.fetcher.FetchPage(ctx, providers.PageRequest{
			Provider:  o.provider,
			SessionID: o.sessionID,
			Page:      page,
			Cursor:    cursor,
		})
		if err != nil {
			if ctx.Err() != nil {
				return o.cancel(ctx.Err())
			}
			failStreak++
			o.log.WarnObj("crawl page failed", "crawl_page_error", map[string]any{
				"run_id":      o.runID,
				"provider_id": o.provider.ID,
				"page":        page,
				"streak":      failStreak,
				"error":       err.Error(),
			})
			if failStreak >= threshold {
				return o.fail(page, fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, failStreak, err))
			}
			o.emit(page, domain.StatusRunning, fmt.Sprintf("page %d failed, moving on", page))
			if err := o.pause(ctx, page); err != nil {
				return o.cancel(err)
			}
			continue
		}
		failStreak = 0

		extracted := o.extractor.ExtractPage(raw)
		cursor = extracted.Next

		if len(extracted.Items) == 0 {
			emptyStreak++
			o.log.DebugObj("crawl page empty", "crawl_page", map[string]any{
				"run_id": o.runID,
				"page":   page,
				"streak": emptyStreak,
			})
			if emptyStreak >= threshold {
				o.log.InfoObj("crawl reached end of feed", "crawl_page", map[string]any{
					"run_id": o.runID,
					"page":   page,
				})
				break
			}
		} else {
			emptyStreak = 0
		}

		fresh := o.dedup.Filter(extracted.Items)
		if len(fresh) > 0 && o.hooks.Batch != nil {
			if err := o.hooks.Batch(ctx, fresh); err != nil {
				if ctx.Err() != nil {
					return o.cancel(ctx.Err())
				}
				return o.fail(page, fmt.Errorf("deliver page %d items: %w", page, err))
			}
		}
		o.log.DebugObj("crawl page processed", "crawl_page", map[string]any{
			"run_id":    o.runID,
			"page":      page,
			"extracted": len(extracted.Items),
			"fresh":     len(fresh),
		})

		if err := o.pause(ctx, page); err != nil {
			return o.cancel(err)
		}
	}

	o.state = StateCompleted
	o.emit(lastPage, domain.StatusCompleted, fmt.Sprintf("crawl completed: %d items collected", o.dedup.Len()))
	o.terminal = true
	o.log.InfoObj("crawl run completed", "crawl_run", map[string]any{
		"run_id":      o.runID,
		"provider_id": o.provider.ID,
		"last_page":   lastPage,
		"items_found": o.dedup.Len(),
	})
	return nil
}

// pause sleeps the inter-page delay unless page is the last allowed one.
func (o *Orchestrator) pause(ctx context.Context, page int) error {
	if page >= o.opts.MaxPages {
		return nil
	}
	return o.wait(ctx, o.opts.PageDelay)
}

func (o *Orchestrator) emit(page int, status domain.Status, msg string) {
	if o.terminal || o.hooks.Progress == nil {
		return
	}
	o.hooks.Progress(domain.CrawlProgress{
		CurrentPage: page,
		TotalPages:  o.opts.MaxPages,
		ItemsFound:  o.dedup.Len(),
		Status:      status,
		Message:     msg,
	})
}

func (o *Orchestrator) fail(page int, err error) error {
	o.state = StateFailed
	o.emit(page, domain.StatusError, err.Error())
	o.terminal = true
	o.log.ErrorObj("crawl run failed", "crawl_run_error", map[string]any{
		"run_id":      o.runID,
		"provider_id": o.provider.ID,
		"page":        page,
		"items_found": o.dedup.Len(),
		"error":       err.Error(),
	})
	return err
}

// cancel ends the run without a terminal snapshot; nobody is listening.
func (o *Orchestrator) cancel(err error) error {
	o.state = StateFailed
	o.terminal = true
	o.log.InfoObj("crawl run cancelled", "crawl_run", map[string]any{
		"run_id":      o.runID,
		"provider_id": o.provider.ID,
		"items_found": o.dedup.Len(),
		"reason":      err.Error(),
	})
	return err
}

func waitContext(ctx context.Context, d time.Duration) error {
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
