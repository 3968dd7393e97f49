package providers

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
)

const (
	// DefaultCardCode marks content-bearing cards; other codes are layout or ads.
	DefaultCardCode = "searchFeed"
	// InfluencerService replaces the upstream service label of creator content.
	InfluencerService = "INFL"
)

var influencerContentURL = regexp.MustCompile(`^https://in\.naver\.com/[^/]+/contents/internal/\d+`)

// Extractor turns raw feed pages into normalized items. It never fails: any
// card or page it cannot make sense of is dropped.
type Extractor struct {
	cardCode string
}

// NewExtractor builds an extractor accepting cards with the given code.
func NewExtractor(cardCode string) *Extractor {
	cardCode = strings.TrimSpace(cardCode)
	if cardCode == "" {
		cardCode = DefaultCardCode
	}
	return &Extractor{cardCode: cardCode}
}

// ExtractorFor builds the extractor configured for a provider.
func ExtractorFor(cfg Provider) *Extractor {
	return NewExtractor(ConfigString(cfg, ConfigCardCodeKey, DefaultCardCode))
}

type rawPage struct {
	Cards    json.RawMessage `json:"cards"`
	PageInfo json.RawMessage `json:"pageInfo"`
}

type rawCard struct {
	Code     any `json:"code"`
	Contents *struct {
		Item *struct {
			Title any `json:"title"`
			URL   any `json:"url"`
		} `json:"item"`
		ByPass *struct {
			Service any `json:"service"`
		} `json:"byPass"`
	} `json:"contents"`
}

// ExtractItems returns the page's items in upstream order.
func (e *Extractor) ExtractItems(raw []byte) []domain.FeedItem {
	return e.ExtractPage(raw).Items
}

// ExtractPage returns the page's items together with the cursor for the next page.
func (e *Extractor) ExtractPage(raw []byte) domain.Page {
	var page rawPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return domain.Page{}
	}

	out := domain.Page{Next: parseCursor(page.PageInfo)}

	var cards []json.RawMessage
	if err := json.Unmarshal(page.Cards, &cards); err != nil {
		return out
	}
	out.TotalCards = len(cards)

	items := make([]domain.FeedItem, 0, len(cards))
	for _, rc := range cards {
		if item, ok := e.extractCard(rc); ok {
			items = append(items, item)
		}
	}
	out.Items = items
	return out
}

func (e *Extractor) extractCard(raw json.RawMessage) (domain.FeedItem, bool) {
	var card rawCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return domain.FeedItem{}, false
	}
	if scalarString(card.Code) != e.cardCode {
		return domain.FeedItem{}, false
	}
	if card.Contents == nil || card.Contents.Item == nil || card.Contents.ByPass == nil {
		return domain.FeedItem{}, false
	}

	title := strings.TrimSpace(scalarString(card.Contents.Item.Title))
	link := strings.TrimSpace(scalarString(card.Contents.Item.URL))
	service := strings.TrimSpace(scalarString(card.Contents.ByPass.Service))
	if title == "" || link == "" || service == "" {
		return domain.FeedItem{}, false
	}
	if !isAbsoluteURL(link) {
		return domain.FeedItem{}, false
	}

	return domain.FeedItem{
		Title:   title,
		URL:     link,
		Service: classifyService(link, service),
	}, true
}

// classifyService overrides the label of internal creator content.
func classifyService(link, service string) string {
	if influencerContentURL.MatchString(link) {
		return InfluencerService
	}
	return service
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// scalarString renders JSON scalars; zero values, objects and arrays are "".
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == 0 {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if !val {
			return ""
		}
		return "true"
	default:
		return ""
	}
}

// parseCursor reads pageInfo leniently; a missing or malformed field is omitted.
func parseCursor(raw json.RawMessage) domain.Cursor {
	var c domain.Cursor
	var info map[string]json.RawMessage
	if err := json.Unmarshal(raw, &info); err != nil || len(info) == 0 {
		return c
	}
	if raw, ok := info["nextCursor"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			c.NextCursor = &s
		}
	}
	c.AdAfterCardsCount = parseIntField(info["adAfterCardsCount"])
	c.AdNextSeq = parseIntField(info["adNextSeq"])
	return c
}

// parseIntField accepts JSON numbers and numeric strings.
func parseIntField(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := n.Int64()
	if err != nil {
		return nil
	}
	out := int(v)
	return &out
}
