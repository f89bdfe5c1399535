// Package redisstore implements the signaling store on Redis. Documents are
// JSON strings keyed by path, collection order is kept in a list per
// collection, and watches ride keyspace-style pub/sub channels published by
// the writers themselves. No cross-key transactional guarantee is provided;
// room cleanup stays best-effort, as the consumers expect.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/anonmeet/anonmeet/internal/store"
)

const (
	docPrefix  = "anonmeet:doc:"
	listPrefix = "anonmeet:coll:"
	chanPrefix = "anonmeet:watch:"
)

// Store is a redis-backed store.Store shared by every participant that
// points at the same server.
type Store struct {
	client *redis.Client
}

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect creates the client and verifies the server is reachable.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	raw, err := s.client.Get(ctx, docPrefix+path).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return decode(raw)
}

func (s *Store) Set(ctx context.Context, path string, doc store.Document, merge bool) error {
	if merge {
		existing, err := s.Get(ctx, path)
		if err == nil {
			for k, v := range doc {
				existing[k] = v
			}
			doc = existing
		} else if err != store.ErrNotFound {
			return err
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	parent, id := split(path)
	isNew, err := s.client.SetNX(ctx, docPrefix+path, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if isNew {
		if err := s.client.RPush(ctx, listPrefix+parent, id).Err(); err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
	} else if err := s.client.Set(ctx, docPrefix+path, raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}

	s.publishDoc(ctx, path, doc)
	s.publishColl(ctx, parent, store.CollectionEvent{Kind: store.EventAdded, ID: id, Data: doc})
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	removed, err := s.client.Del(ctx, docPrefix+path).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if removed == 0 {
		return nil
	}

	parent, id := split(path)
	if err := s.client.LRem(ctx, listPrefix+parent, 1, id).Err(); err != nil {
		return fmt.Errorf("unindex %s: %w", path, err)
	}
	s.publishColl(ctx, parent, store.CollectionEvent{Kind: store.EventRemoved, ID: id})
	return nil
}

func (s *Store) Append(ctx context.Context, path string, doc store.Document) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, path+"/"+id, doc, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) List(ctx context.Context, path string) ([]store.Entry, error) {
	ids, err := s.client.LRange(ctx, listPrefix+path, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	entries := make([]store.Entry, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, path+"/"+id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, store.Entry{ID: id, Data: doc})
	}
	return entries, nil
}

func (s *Store) WatchDocument(ctx context.Context, path string) (<-chan store.Document, error) {
	sub := s.client.Subscribe(ctx, chanPrefix+"doc:"+path)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	out := make(chan store.Document, 16)
	current, currentErr := s.Get(ctx, path)

	go func() {
		defer close(out)
		defer sub.Close()
		if currentErr == nil {
			select {
			case out <- current:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				doc, err := decode(msg.Payload)
				if err != nil {
					continue
				}
				select {
				case out <- doc:
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

func (s *Store) WatchCollection(ctx context.Context, path string) (<-chan store.CollectionEvent, error) {
	sub := s.client.Subscribe(ctx, chanPrefix+"coll:"+path)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	out := make(chan store.CollectionEvent, 32)
	entries, err := s.List(ctx, path)
	if err != nil {
		sub.Close()
		return nil, err
	}
	go func() {
		defer close(out)
		defer sub.Close()
		for _, e := range entries {
			select {
			case out <- store.CollectionEvent{Kind: store.EventAdded, ID: e.ID, Data: e.Data}:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev collEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- store.CollectionEvent{Kind: store.EventKind(ev.Kind), ID: ev.ID, Data: ev.Data}:
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

type collEvent struct {
	Kind string         `json:"kind"`
	ID   string         `json:"id"`
	Data store.Document `json:"data,omitempty"`
}

func (s *Store) publishDoc(ctx context.Context, path string, doc store.Document) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	s.client.Publish(ctx, chanPrefix+"doc:"+path, raw)
}

func (s *Store) publishColl(ctx context.Context, path string, ev store.CollectionEvent) {
	raw, err := json.Marshal(collEvent{Kind: string(ev.Kind), ID: ev.ID, Data: ev.Data})
	if err != nil {
		return
	}
	s.client.Publish(ctx, chanPrefix+"coll:"+path, raw)
}

func decode(raw string) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func split(path string) (parent, id string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
