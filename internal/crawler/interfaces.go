package crawler

import (
	"context"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
	"github.com/samvad-hq/homefeed-crawler/pkg/publishers"
)

// ItemScraper enriches feed items with landing-page metadata (e.g., OG tags).
type ItemScraper interface {
	Enrich(ctx context.Context, cfg providers.Provider, items []domain.EnrichedItem) []domain.EnrichedItem
}

// EventPublisher publishes collected items downstream.
// It returns the number of sinks that accepted the event.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Deduper suppresses items already published by an earlier run.
type Deduper interface {
	SeenItem(id string) (bool, error)
	MarkItem(id string) error
}
