package feed

import (
	"bytes"
	"context"
)

// Document names a logical document of the remote store
type Document string

const (
	RealtimeData Document = "realtime_data"
	Settings     Document = "settings"
)

// Valid reports whether d is one of the known documents
func (d Document) Valid() bool {
	return d == RealtimeData || d == Settings
}

// Handler receives the full snapshot of a document on every change.
// A nil snapshot means the document currently has no value.
type Handler func(snapshot []byte)

// HistoryHandler receives one appended `/history/<key>` entry
type HistoryHandler func(key string, payload []byte)

// Unsubscribe stops delivery to the handler it was returned for
type Unsubscribe func()

// Feed is the push-based document store the dashboard mirrors
type Feed interface {
	Subscribe(doc Document, h Handler) (Unsubscribe, error)
	// Update merges patch into doc. Keys absent from patch are untouched.
	Update(ctx context.Context, doc Document, patch map[string]any) error
}

// HistoryFeed delivers entries appended to the history log
type HistoryFeed interface {
	SubscribeHistory(h HistoryHandler) (Unsubscribe, error)
}

// normalize maps an empty or JSON null payload to nil
func normalize(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return payload
}
