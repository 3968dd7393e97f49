package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/homefeed-crawler/internal/domain"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
	"github.com/samvad-hq/homefeed-crawler/pkg/httpclient"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
)

// Scraper fetches item landing pages and extracts metadata from OG tags.
type Scraper struct {
	client httpclient.Client
	log    logger.Logger
}

// NewScraper constructs a scraper with the provided HTTP client (or default).
func NewScraper(client httpclient.Client, log logger.Logger) *Scraper {
	if client == nil {
		client = providers.DefaultHTTPClient()
	}
	return &Scraper{client: client, log: logger.Ensure(log)}
}

// Enrich fetches each item page (with throttling) and fills description and image.
// Title, URL and service of the feed item are left as extracted.
func (s *Scraper) Enrich(ctx context.Context, cfg providers.Provider, items []domain.EnrichedItem) []domain.EnrichedItem {
	delay := cfg.RequestDelay()
	out := append([]domain.EnrichedItem(nil), items...)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return out
		default:
		}

		meta, err := s.fetchMeta(ctx, cfg, item.URL)
		if err != nil {
			s.log.WarnObj("item metadata scrape failed", "metadata_error", map[string]any{
				"provider_id": cfg.ID,
				"url":         item.URL,
				"error":       err.Error(),
			})
		} else {
			if item.Description == "" {
				out[i].Description = meta.Description
			}
			if item.ImageURL == "" {
				out[i].ImageURL = resolveURL(meta.ImageURL, item.URL)
			}
		}

		if delay > 0 && i < len(items)-1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out
			case <-timer.C:
			}
		}
	}

	return out
}

func (s *Scraper) fetchMeta(ctx context.Context, cfg providers.Provider, pageURL string) (pageMeta, error) {
	resp, err := s.client.Get(ctx, pageURL, nil, providers.Headers(cfg))
	if err != nil {
		return pageMeta{}, fmt.Errorf("http fetch: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		snippet := strings.TrimSpace(string(resp.Body()))
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return pageMeta{}, fmt.Errorf("status %d body: %s", code, snippet)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}
	return parseMeta(body)
}

func parseMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	return pageMeta{
		Title: firstNonEmpty(
			extract(`meta[property="og:title"]`),
			doc.Find("title").First().Text(),
		),
		Description: firstNonEmpty(
			extract(`meta[property="og:description"]`),
			extract(`meta[name="description"]`),
		),
		ImageURL: firstNonEmpty(
			extract(`meta[property="og:image"]`),
			extract(`meta[name="twitter:image"]`),
		),
	}, nil
}

type pageMeta struct {
	Title       string
	Description string
	ImageURL    string
}

// resolveURL makes ref absolute against base; unparsable input is returned as-is.
func resolveURL(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !baseURL.IsAbs() {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
