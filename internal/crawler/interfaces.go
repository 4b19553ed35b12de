package crawler

import (
	"context"
	"time"

	"github.com/dshkereda/CollectOfDevices/internal/store"
)

// Session is the browser-automation collaborator the engine drives. Every
// method blocks with an explicit timeout; implementations report transport
// failures as ErrSessionUnusable so the engine can restart the session and
// retry the page.
type Session interface {
	// Navigate opens the URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Count returns how many elements currently match the XPath expression.
	Count(ctx context.Context, xpath string) (int, error)
	// Texts returns the visible text of every element matching the XPath.
	Texts(ctx context.Context, xpath string) ([]string, error)
	// ClickFirst scrolls the first matching element into view and clicks it.
	ClickFirst(ctx context.Context, xpath string) error
	// WaitCountAbove blocks until more than n elements match, or times out
	// with ErrConditionTimeout.
	WaitCountAbove(ctx context.Context, xpath string, n int, timeout time.Duration) error
	// ExtractFields reads the label/value table rows of the last matching
	// element into a field map.
	ExtractFields(ctx context.Context, xpath string) (map[string]string, error)
	// Restart tears the session down and brings up a fresh one.
	Restart(ctx context.Context) error
	// Close releases the session for good.
	Close(ctx context.Context) error
}

// RecordMirror receives every appended record for secondary persistence.
// Mirroring is best-effort: a mirror failure never fails the crawl, because
// the record store remains the source of truth.
type RecordMirror interface {
	Store(ctx context.Context, target, partitionKey string, rec store.Record) error
}
