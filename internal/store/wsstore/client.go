// Package wsstore is a client for a remote document-store service spoken
// over a single WebSocket. Requests are correlated by id; watch events are
// pushed by the server under a subscription id and surfaced as the channels
// the store contract promises. The service itself is an external
// collaborator; this package only implements its wire protocol.
package wsstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/anonmeet/anonmeet/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
	requestTimeout = 15 * time.Second
)

// Client implements store.Store over a WebSocket connection.
type Client struct {
	serverURL string
	conn      *websocket.Conn
	outgoing  chan *Message
	done      chan struct{}

	mu      sync.Mutex
	pending map[string]chan *Message
	subs    map[string]*subscription
	closed  bool
}

type subscription struct {
	events chan *Message
	cancel context.CancelFunc
}

// New creates a client for the given ws:// or wss:// URL.
func New(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		outgoing:  make(chan *Message, 16),
		done:      make(chan struct{}),
		pending:   make(map[string]chan *Message),
		subs:      make(map[string]*subscription),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid store URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return nil
}

// Close tears down the connection and every live watch. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = map[string]*subscription{}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	close(c.done)
}

func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.failPending()
			return
		}

		var msg Message
		if err := msgpack.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Msg("wsstore: undecodable frame")
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			raw, err := msgpack.Marshal(msg)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case MessageTypeDocEvent, MessageTypeCollEvent:
		// The buffered send happens under the lock so an unsubscribe
		// cannot close the channel mid-send.
		c.mu.Lock()
		if sub, ok := c.subs[msg.Sub]; ok {
			select {
			case sub.events <- msg:
			default:
				log.Warn().Str("sub", msg.Sub).Msg("wsstore: dropping event, subscriber stalled")
			}
		}
		c.mu.Unlock()
	default:
		c.mu.Lock()
		waiter, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if ok {
			waiter <- msg
		}
	}
}

// failPending wakes every outstanding request and watch after the
// connection drops; callers observe ErrUnavailable.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, waiter := range c.pending {
		delete(c.pending, id)
		close(waiter)
	}
	for id, sub := range c.subs {
		delete(c.subs, id)
		sub.cancel()
	}
}

// request sends one frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, msg *Message) (*Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	msg.ID = uuid.NewString()
	waiter := make(chan *Message, 1)
	c.pending[msg.ID] = waiter
	c.mu.Unlock()

	select {
	case c.outgoing <- msg:
	case <-c.done:
		return nil, store.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, store.ErrUnavailable
		}
		switch resp.Type {
		case MessageTypeNotFound:
			return nil, store.ErrNotFound
		case MessageTypeError:
			return nil, fmt.Errorf("%w: %s", store.ErrUnavailable, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: request timed out", store.ErrUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) Get(ctx context.Context, path string) (store.Document, error) {
	resp, err := c.request(ctx, &Message{Type: MessageTypeGet, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Doc, nil
}

func (c *Client) Set(ctx context.Context, path string, doc store.Document, merge bool) error {
	_, err := c.request(ctx, &Message{Type: MessageTypeSet, Path: path, Doc: doc, Merge: merge})
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.request(ctx, &Message{Type: MessageTypeDelete, Path: path})
	if err == store.ErrNotFound {
		return nil
	}
	return err
}

func (c *Client) Append(ctx context.Context, path string, doc store.Document) (string, error) {
	resp, err := c.request(ctx, &Message{Type: MessageTypeAppend, Path: path, Doc: doc})
	if err != nil {
		return "", err
	}
	return resp.DocID, nil
}

func (c *Client) List(ctx context.Context, path string) ([]store.Entry, error) {
	resp, err := c.request(ctx, &Message{Type: MessageTypeList, Path: path})
	if err != nil {
		return nil, err
	}
	entries := make([]store.Entry, 0, len(resp.List))
	for _, e := range resp.List {
		entries = append(entries, store.Entry{ID: e.ID, Data: e.Doc})
	}
	return entries, nil
}

func (c *Client) WatchDocument(ctx context.Context, path string) (<-chan store.Document, error) {
	sub, err := c.subscribe(ctx, MessageTypeWatchDoc, path)
	if err != nil {
		return nil, err
	}

	out := make(chan store.Document, 16)
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-sub.events:
				if !ok {
					return
				}
				select {
				case out <- msg.Doc:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) WatchCollection(ctx context.Context, path string) (<-chan store.CollectionEvent, error) {
	sub, err := c.subscribe(ctx, MessageTypeWatchColl, path)
	if err != nil {
		return nil, err
	}

	out := make(chan store.CollectionEvent, 32)
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-sub.events:
				if !ok {
					return
				}
				ev := store.CollectionEvent{Kind: store.EventKind(msg.Kind), ID: msg.DocID, Data: msg.Doc}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// subscribe registers a watch with the server and arranges for an unwatch
// frame when ctx ends.
func (c *Client) subscribe(ctx context.Context, kind, path string) (*subscription, error) {
	resp, err := c.request(ctx, &Message{Type: kind, Path: path})
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		events: make(chan *Message, 64),
		cancel: cancel,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, store.ErrClosed
	}
	c.subs[resp.Sub] = sub
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-subCtx.Done():
		case <-c.done:
		}
		c.mu.Lock()
		delete(c.subs, resp.Sub)
		closed := c.closed
		close(sub.events)
		c.mu.Unlock()
		if !closed {
			unwatchCtx, done := context.WithTimeout(context.Background(), writeWait)
			defer done()
			c.request(unwatchCtx, &Message{Type: MessageTypeUnwatch, Sub: resp.Sub})
		}
	}()
	return sub, nil
}
