package app

import (
	"github.com/samvad-hq/homefeed-crawler/internal/config"
	"github.com/samvad-hq/homefeed-crawler/internal/crawler"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

// fetchOptions maps config onto the page fetcher retry policy.
func fetchOptions(cfg *config.Config) providers.FetchOptions {
	return providers.FetchOptions{
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		BackoffBase: cfg.FetchBackoffBase,
	}
}

// crawlOptions maps config onto the orchestrator defaults; the page delay comes from each provider.
func crawlOptions(cfg *config.Config) crawler.Options {
	return crawler.Options{
		MaxPages:           cfg.MaxPages,
		EmptyPageThreshold: cfg.EmptyPageThreshold,
	}
}

func loadProviders(cfg *config.Config, log logger.Logger) (*providers.Registry, error) {
	reg, err := providers.LoadRegistry(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	list := reg.All()
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	log.InfoObj("providers registry loaded", "providers_meta", map[string]any{
		"count": len(ids),
		"ids":   ids,
	})
	return reg, nil
}
