package domain

// Domain contains core models shared by the fetcher, crawler and streamer.

// FeedItem is one displayable entry extracted from a feed page. URL is the
// item identity for de-duplication.
type FeedItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Service string `json:"service"`
}

// Cursor carries the upstream pagination continuation returned with each page.
// A nil field is omitted from the next request.
type Cursor struct {
	NextCursor        *string `json:"nextCursor,omitempty"`
	AdAfterCardsCount *int    `json:"adAfterCardsCount,omitempty"`
	AdNextSeq         *int    `json:"adNextSeq,omitempty"`
}

// IsZero reports whether no continuation field is set.
func (c Cursor) IsZero() bool {
	return c.NextCursor == nil && c.AdAfterCardsCount == nil && c.AdNextSeq == nil
}

// Page is one extracted feed page: its items and the cursor for the next request.
type Page struct {
	Items      []FeedItem
	TotalCards int
	Next       Cursor
}

// Status is the lifecycle state reported in a progress snapshot.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further snapshots follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CrawlProgress is a point-in-time snapshot of one crawl run.
type CrawlProgress struct {
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	ItemsFound  int    `json:"itemsFound"`
	Status      Status `json:"status"`
	Message     string `json:"message,omitempty"`
}

// EnrichedItem is a FeedItem plus landing-page metadata gathered before it is
// published downstream. The embedded item is never altered.
type EnrichedItem struct {
	FeedItem
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}
