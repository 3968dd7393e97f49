package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/homefeed-crawler/internal/crawler"
	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

// ErrDisconnected reports that the consumer went away mid-run.
var ErrDisconnected = errors.New("stream consumer disconnected")

// Sink delivers protocol messages to one consumer.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Streamer runs crawls for one provider and streams them to sinks.
type Streamer struct {
	fetcher  providers.PageFetcher
	provider providers.Provider
	log      logger.Logger
}

// NewStreamer binds a fetcher and provider; every Stream call is an independent run.
func NewStreamer(fetcher providers.PageFetcher, provider providers.Provider, log logger.Logger) *Streamer {
	return &Streamer{fetcher: fetcher, provider: provider, log: logger.Ensure(log)}
}

// Stream runs one crawl and writes its messages to sink: an initial progress
// snapshot, progress and item messages in order, then exactly one complete or
// error message. A failed Send cancels the run; nothing more is written and
// ErrDisconnected is returned. Cancellation of ctx also ends the run silently.
func (s *Streamer) Stream(ctx context.Context, sink Sink, sessionID string, opts crawler.Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch := crawler.NewOrchestrator(s.fetcher, s.provider, sessionID, opts, s.log)
	var (
		sendErr error
		total   int
	)
	send := func(msg Message) bool {
		if sendErr != nil {
			return false
		}
		if err := sink.Send(ctx, msg); err != nil {
			sendErr = err
			cancel()
			return false
		}
		return true
	}

	send(ProgressMessage(domain.CrawlProgress{
		CurrentPage: 0,
		TotalPages:  orch.TotalPages(),
		Status:      domain.StatusRunning,
		Message:     "crawl starting",
	}))

	runErr := orch.Run(ctx, crawler.Hooks{
		Progress: func(p domain.CrawlProgress) {
			send(ProgressMessage(p))
		},
		Batch: func(_ context.Context, items []domain.FeedItem) error {
			for _, item := range items {
				if !send(ItemMessage(item)) {
					return sendErr
				}
				total++
			}
			return nil
		},
	})

	switch {
	case sendErr != nil:
		s.log.InfoObj("stream consumer disconnected", "stream_end", map[string]any{
			"run_id":     orch.RunID(),
			"items_sent": total,
			"error":      sendErr.Error(),
		})
		return fmt.Errorf("%w: %v", ErrDisconnected, sendErr)
	case runErr != nil && ctx.Err() != nil:
		return runErr
	case runErr != nil:
		if !send(ErrorMessage(runErr.Error())) {
			return fmt.Errorf("%w: %v", ErrDisconnected, sendErr)
		}
		return runErr
	default:
		if !send(CompleteMessage(total)) {
			return fmt.Errorf("%w: %v", ErrDisconnected, sendErr)
		}
		s.log.DebugObj("stream completed", "stream_end", map[string]any{
			"run_id":     orch.RunID(),
			"items_sent": total,
		})
		return nil
	}
}
