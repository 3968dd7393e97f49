package crawler

import (
	"strings"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
)

// Deduplicator remembers item URLs seen during one crawl run.
// It is owned by a single orchestrator and is not safe for concurrent use.
type Deduplicator struct {
	seen map[string]struct{}
}

// NewDeduplicator returns an empty seen-set.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Admit reports whether item is new and records it as seen.
func (d *Deduplicator) Admit(item domain.FeedItem) bool {
	key := strings.TrimSpace(item.URL)
	if key == "" {
		return false
	}
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Filter returns the items not seen before, in input order.
func (d *Deduplicator) Filter(items []domain.FeedItem) []domain.FeedItem {
	fresh := make([]domain.FeedItem, 0, len(items))
	for _, item := range items {
		if d.Admit(item) {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

// Len returns the number of distinct items admitted so far.
func (d *Deduplicator) Len() int {
	return len(d.seen)
}
