// Package stream turns one crawl run into the progress/item/complete/error
// message protocol and delivers it over a long-lived connection.
package stream

import (
	"fmt"

	"github.com/samvad-hq/homefeed-crawler/internal/domain"
)

// MessageType tags each protocol message.
type MessageType string

const (
	TypeProgress MessageType = "progress"
	TypeItem     MessageType = "item"
	// TypeItems is reserved for batch delivery; the streamer emits items one by one.
	TypeItems    MessageType = "items"
	TypeComplete MessageType = "complete"
	TypeError    MessageType = "error"
)

// Terminal reports whether no message may follow this type.
func (t MessageType) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Message is the {type, data} envelope written to the wire.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// CompleteData is the payload of a complete message.
type CompleteData struct {
	Message    string `json:"message"`
	TotalItems int    `json:"totalItems"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Message string `json:"message"`
}

func ProgressMessage(p domain.CrawlProgress) Message {
	return Message{Type: TypeProgress, Data: p}
}

func ItemMessage(item domain.FeedItem) Message {
	return Message{Type: TypeItem, Data: item}
}

func CompleteMessage(total int) Message {
	return Message{Type: TypeComplete, Data: CompleteData{
		Message:    fmt.Sprintf("collected %d items (duplicates removed)", total),
		TotalItems: total,
	}}
}

func ErrorMessage(reason string) Message {
	if reason == "" {
		reason = "unknown error"
	}
	return Message{Type: TypeError, Data: ErrorData{Message: reason}}
}
