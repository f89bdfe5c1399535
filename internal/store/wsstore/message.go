package wsstore

import "github.com/anonmeet/anonmeet/internal/store"

// Message is the msgpack frame exchanged with the document-store service.
// Requests carry a correlation ID echoed by the response; watch events carry
// the subscription id they belong to.
type Message struct {
	Type  string         `msgpack:"type"`
	ID    string         `msgpack:"id,omitempty"`
	Path  string         `msgpack:"path,omitempty"`
	Doc   store.Document `msgpack:"doc,omitempty"`
	Merge bool           `msgpack:"merge,omitempty"`
	DocID string         `msgpack:"doc_id,omitempty"`
	Sub   string         `msgpack:"sub,omitempty"`
	Kind  string         `msgpack:"kind,omitempty"`
	List  []WireEntry    `msgpack:"list,omitempty"`
	Error string         `msgpack:"error,omitempty"`
}

// WireEntry is one collection member in a list response.
type WireEntry struct {
	ID  string         `msgpack:"id"`
	Doc store.Document `msgpack:"doc"`
}

// Request and response type constants.
const (
	MessageTypeGet       = "get"
	MessageTypeSet       = "set"
	MessageTypeDelete    = "delete"
	MessageTypeAppend    = "append"
	MessageTypeList      = "list"
	MessageTypeWatchDoc  = "watch_doc"
	MessageTypeWatchColl = "watch_coll"
	MessageTypeUnwatch   = "unwatch"

	MessageTypeResult    = "result"
	MessageTypeNotFound  = "not_found"
	MessageTypeError     = "error"
	MessageTypeDocEvent  = "doc_event"
	MessageTypeCollEvent = "coll_event"
)
