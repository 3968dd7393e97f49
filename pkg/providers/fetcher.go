package providers

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/homefeed-crawler/pkg/httpclient"
)

// fetcherRegistry implements FetcherRegistry.
type fetcherRegistry struct {
	fetchersByID   map[string]PageFetcher
	fetchersByType map[string]PageFetcher
	mu             sync.RWMutex
}

// NewFetcherRegistry builds a registry for the provided fetcher implementations keyed by provider id.
func NewFetcherRegistry(fetchers ...PageFetcher) FetcherRegistry {
	return NewTypeFetcherRegistry(nil, fetchers...)
}

// NewTypeFetcherRegistry builds a registry with optional type-based fetchers and provider-specific fetchers.
func NewTypeFetcherRegistry(typeFetchers map[string]PageFetcher, fetchers ...PageFetcher) FetcherRegistry {
	reg := &fetcherRegistry{
		fetchersByID:   make(map[string]PageFetcher),
		fetchersByType: make(map[string]PageFetcher),
	}

	for _, f := range fetchers {
		reg.registerIDFetcher(f)
	}
	for typ, f := range typeFetchers {
		reg.registerTypeFetcher(typ, f)
	}

	return reg
}

// registerIDFetcher registers a fetcher by its provider ID.
func (r *fetcherRegistry) registerIDFetcher(f PageFetcher) {
	if f == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(f.ID()))
	if key == "" {
		return
	}

	r.mu.Lock()
	r.fetchersByID[key] = f
	r.mu.Unlock()
}

// registerTypeFetcher registers a fetcher by provider type.
func (r *fetcherRegistry) registerTypeFetcher(typ string, f PageFetcher) {
	if f == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(typ))
	if key == "" {
		return
	}

	r.mu.Lock()
	r.fetchersByType[key] = f
	r.mu.Unlock()
}

// FetcherFor selects the fetcher for the given provider based on its id or type.
func (r *fetcherRegistry) FetcherFor(cfg Provider) (PageFetcher, error) {
	if r == nil {
		return nil, fmt.Errorf("fetcher registry is nil")
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("provider id is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idKey := strings.ToLower(strings.TrimSpace(cfg.ID))
	if f, ok := r.fetchersByID[idKey]; ok {
		return f, nil
	}

	typeKey := strings.ToLower(strings.TrimSpace(cfg.Type))
	if typeKey != "" {
		if f, ok := r.fetchersByType[typeKey]; ok {
			return f, nil
		}
	}

	return nil, fmt.Errorf("no fetcher registered for provider %q (type %q)", cfg.ID, cfg.Type)
}

// FetchOptions bounds a single page fetch.
type FetchOptions struct {
	// Timeout is the deadline for one attempt.
	Timeout time.Duration
	// MaxAttempts is the total number of tries, first one included.
	MaxAttempts int
	// BackoffBase is the wait after the first failed attempt; it doubles per attempt.
	BackoffBase time.Duration
}

// DefaultFetchOptions returns 10s attempts, 3 tries, 1s/2s backoff.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Second,
	}
}

func (o FetchOptions) normalize() FetchOptions {
	def := DefaultFetchOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BackoffBase < 0 {
		o.BackoffBase = 0
	}
	return o
}

const defaultClientTimeout = 15 * time.Second

// DefaultHTTPClient returns a resty-backed client for provider fetchers.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(defaultClientTimeout) }

// HTTPClientFor returns a resty-backed client whose own timeout never cuts
// an attempt off before the per-attempt deadline in opts.
func HTTPClientFor(opts FetchOptions) HTTPClient {
	timeout := opts.normalize().Timeout
	if timeout < defaultClientTimeout {
		timeout = defaultClientTimeout
	}
	return httpclient.NewRestyClient(timeout)
}

const ProviderTypeHomefeed = "homefeed"

// DefaultFetcherRegistry wires up known provider fetchers.
func DefaultFetcherRegistry(client HTTPClient, opts FetchOptions) FetcherRegistry {
	if client == nil {
		client = HTTPClientFor(opts)
	}

	typeFetchers := map[string]PageFetcher{
		ProviderTypeHomefeed: NewHomefeedFetcher(client, opts),
	}

	return NewTypeFetcherRegistry(typeFetchers)
}
