package crawler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
	"github.com/samvad-hq/homefeed-crawler/pkg/publishers"
)

// Service coordinates scheduled crawl passes across multiple providers.
type Service struct {
	processor *ProviderProcessor
	log       logger.Logger
}

// ServiceOptions tunes scheduled runs.
type ServiceOptions struct {
	Crawl Options
	// Scraper enables OG enrichment before publishing; nil disables it.
	Scraper ItemScraper
}

// NewService wires a crawler with the fetcher registry, publisher and cross-run deduper.
func NewService(reg providers.FetcherRegistry, pub EventPublisher, log logger.Logger, deduper Deduper, opts ServiceOptions) *Service {
	log = logger.Ensure(log)
	return &Service{
		processor: NewProviderProcessor(reg, opts.Scraper, pub, log, deduper, opts.Crawl),
		log:       log,
	}
}

// Run executes a crawl pass for all configured providers.
func (s *Service) Run(ctx context.Context, cfgs []providers.Provider) error {
	if s == nil || s.processor == nil || s.processor.registry == nil {
		return fmt.Errorf("crawler service is not initialized")
	}

	if len(cfgs) == 0 {
		return fmt.Errorf("no providers configured for crawling")
	}

	errs := s.runAll(ctx, cfgs)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (s *Service) runAll(ctx context.Context, cfgs []providers.Provider) []error {
	errs := make([]error, 0, len(cfgs))

	for idx, cfg := range cfgs {
		if ctx.Err() != nil {
			break
		}
		if err := s.processor.Process(ctx, cfg, idx); err != nil {
			if ctx.Err() != nil {
				break
			}
			errs = append(errs, err)
			s.log.ErrorObj("provider crawl failed", "provider_error", map[string]any{
				"provider_id": cfg.ID,
				"error":       err.Error(),
			})
		}
	}

	return errs
}

// ProviderProcessor runs one provider crawl and publishes items not delivered before.
type ProviderProcessor struct {
	registry  providers.FetcherRegistry
	scraper   ItemScraper
	publisher EventPublisher
	log       logger.Logger
	deduper   Deduper
	opts      Options
}

// NewProviderProcessor builds a processor; scraper, publisher and deduper may be nil.
func NewProviderProcessor(reg providers.FetcherRegistry, scraper ItemScraper, pub EventPublisher, log logger.Logger, deduper Deduper, opts Options) *ProviderProcessor {
	return &ProviderProcessor{
		registry:  reg,
		scraper:   scraper,
		publisher: pub,
		log:       logger.Ensure(log),
		deduper:   deduper,
		opts:      opts,
	}
}

// Process crawls cfg from page 1 and publishes every item not seen by an earlier run.
// Publish failures do not abort the crawl; they are joined into the returned error.
func (p *ProviderProcessor) Process(ctx context.Context, cfg providers.Provider, idx int) error {
	fetcher, err := p.registry.FetcherFor(cfg)
	if err != nil {
		return fmt.Errorf("resolve fetcher for provider %s: %w", cfg.ID, err)
	}
	sessionID := cfg.SessionID()
	if sessionID == "" {
		return fmt.Errorf("provider %s has no %s configured", cfg.ID, providers.ConfigSessionIDKey)
	}

	orch := NewOrchestrator(fetcher, cfg, sessionID, p.opts, p.log)
	var (
		publishErrs []error
		published   int
		suppressed  int
	)

	runErr := orch.Run(ctx, Hooks{
		Batch: func(ctx context.Context, items []domain.FeedItem) error {
			fresh := p.filterNewItems(cfg, items)
			suppressed += len(items) - len(fresh)
			if len(fresh) == 0 {
				return nil
			}

			enriched := make([]domain.EnrichedItem, len(fresh))
			for i, item := range fresh {
				enriched[i] = domain.EnrichedItem{FeedItem: item}
			}
			if p.scraper != nil {
				enriched = p.scraper.Enrich(ctx, cfg, enriched)
			}

			for _, item := range enriched {
				if err := ctx.Err(); err != nil {
					return err
				}
				n, err := p.publish(ctx, cfg, orch.RunID(), item)
				if err != nil {
					publishErrs = append(publishErrs, err)
				}
				if n > 0 {
					published++
					p.markPublished(cfg, item.FeedItem)
				}
			}
			return nil
		},
	})

	p.log.InfoObj("provider crawl finished", "provider_result", map[string]any{
		"provider_id":     cfg.ID,
		"provider_index":  idx,
		"run_id":          orch.RunID(),
		"state":           orch.State().String(),
		"items_found":     orch.ItemsFound(),
		"items_published": published,
		"items_skipped":   suppressed,
		"publish_errors":  len(publishErrs),
	})

	if runErr != nil {
		return errors.Join(append([]error{fmt.Errorf("crawl provider %s: %w", cfg.ID, runErr)}, publishErrs...)...)
	}
	return errors.Join(publishErrs...)
}

func (p *ProviderProcessor) publish(ctx context.Context, cfg providers.Provider, runID string, item domain.EnrichedItem) (int, error) {
	if p.publisher == nil {
		return 0, nil
	}
	evt := publishers.NewEvent(cfg.ID, cfg.Name, runID, item)
	n, err := p.publisher.Publish(ctx, evt)
	if err != nil {
		p.log.WarnObj("item publish failed", "publish_error", map[string]any{
			"provider_id": cfg.ID,
			"url":         item.URL,
			"successes":   n,
			"error":       err.Error(),
		})
		return n, fmt.Errorf("publish item %s: %w", item.URL, err)
	}
	return n, nil
}

func (p *ProviderProcessor) markPublished(cfg providers.Provider, item domain.FeedItem) {
	if p.deduper == nil {
		return
	}
	if err := p.deduper.MarkItem(itemKey(item)); err != nil {
		p.log.WarnObj("mark item failed", "storage_error", map[string]any{
			"provider_id": cfg.ID,
			"url":         item.URL,
			"error":       err.Error(),
		})
	}
}

// filterNewItems drops items published by an earlier run. Lookup errors keep the item.
func (p *ProviderProcessor) filterNewItems(cfg providers.Provider, items []domain.FeedItem) []domain.FeedItem {
	if p.deduper == nil {
		return items
	}
	out := make([]domain.FeedItem, 0, len(items))
	for _, item := range items {
		seen, err := p.deduper.SeenItem(itemKey(item))
		if err != nil {
			p.log.WarnObj("seen lookup failed", "storage_error", map[string]any{
				"provider_id": cfg.ID,
				"url":         item.URL,
				"error":       err.Error(),
			})
			out = append(out, item)
			continue
		}
		if !seen {
			out = append(out, item)
		}
	}
	return out
}

// itemKey is the storage key for an item: a hex SHA-1 of its trimmed URL.
func itemKey(item domain.FeedItem) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(item.URL)))
	return hex.EncodeToString(sum[:])
}
