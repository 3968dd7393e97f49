package providers

import (
	"context"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/pkg/httpclient"
)

// PageRequest identifies one logical page of a provider's feed.
type PageRequest struct {
	Provider  Provider
	SessionID string
	Page      int
	Cursor    domain.Cursor
}

// PageFetcher retrieves the raw payload of one feed page.
// Concrete implementations live in provider-specific files (e.g., homefeed.go).
type PageFetcher interface {
	ID() string
	FetchPage(ctx context.Context, req PageRequest) ([]byte, error)
}

// FetcherRegistry resolves the fetcher implementation for a given provider config.
type FetcherRegistry interface {
	FetcherFor(cfg Provider) (PageFetcher, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within providers.
type HTTPClient = httpclient.Client
