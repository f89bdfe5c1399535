package store

import (
	"context"
	"errors"
)

// Document is a JSON-shaped map of fields. Nested documents are
// map[string]any; numbers decode as float64.
type Document map[string]any

// EventKind describes a change observed on a watched collection.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
)

// CollectionEvent is one change notification from a collection watch.
type CollectionEvent struct {
	Kind EventKind
	ID   string
	Data Document
}

// Entry is one member of a collection snapshot.
type Entry struct {
	ID   string
	Data Document
}

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable indicates the store could not serve the operation.
	ErrUnavailable = errors.New("store unavailable")
	// ErrClosed indicates the store client has been closed.
	ErrClosed = errors.New("store closed")
)

// Store is the document store used as the signaling rendezvous. Paths are
// slash-joined segments; collections hold documents keyed by store-assigned
// or caller-chosen ids.
//
// Watches deliver events in the order the store committed them within one
// path, with no ordering guarantee across paths, and may redeliver events
// (at-least-once). Watch channels are closed when ctx is cancelled or the
// store shuts down.
type Store interface {
	// Get reads the document at path. Returns ErrNotFound when absent.
	Get(ctx context.Context, path string) (Document, error)

	// Set writes the document at path. With merge, fields are folded into
	// the existing document; fields are never cleared by a merge.
	Set(ctx context.Context, path string, doc Document, merge bool) error

	// Delete removes the document at path. Deleting an absent document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// Append adds doc to the collection at path and returns its id.
	// Append order is preserved per collection.
	Append(ctx context.Context, path string, doc Document) (string, error)

	// List returns a snapshot of the collection at path.
	List(ctx context.Context, path string) ([]Entry, error)

	// WatchDocument streams every committed state of the document at path,
	// starting with the current state if the document exists.
	WatchDocument(ctx context.Context, path string) (<-chan Document, error)

	// WatchCollection streams membership changes of the collection at
	// path, starting with one Added event per existing member.
	WatchCollection(ctx context.Context, path string) (<-chan CollectionEvent, error)
}
