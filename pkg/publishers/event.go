package publishers

import (
	"time"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
)

// Event is the payload published downstream for one collected feed item.
type Event struct {
	ProviderID   string          `json:"provider_id"`
	ProviderName string          `json:"provider_name"`
	RunID        string          `json:"run_id"`
	Item         domain.FeedItem `json:"item"`
	Description  string          `json:"description,omitempty"`
	ImageURL     string          `json:"image_url,omitempty"`
	CollectedAt  time.Time       `json:"collected_at"`
}

// NewEvent constructs an Event for the given provider, crawl run and item.
func NewEvent(providerID, providerName, runID string, item domain.EnrichedItem) Event {
	return Event{
		ProviderID:   providerID,
		ProviderName: providerName,
		RunID:        runID,
		Item:         item.FeedItem,
		Description:  item.Description,
		ImageURL:     item.ImageURL,
		CollectedAt:  time.Now().UTC(),
	}
}

// attributes are the string attributes attached to queue/topic messages.
func (e Event) attributes() map[string]string {
	attrs := map[string]string{"provider_id": e.ProviderID}
	if e.Item.Service != "" {
		attrs["service"] = e.Item.Service
	}
	if e.RunID != "" {
		attrs["run_id"] = e.RunID
	}
	return attrs
}
