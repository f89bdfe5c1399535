// Package memory implements the signaling store as an in-process document
// tree. It backs tests and single-process demo rooms; watch delivery order
// matches commit order per path, like the remote backends.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/anonmeet/anonmeet/internal/store"
)

// Store is an in-memory store.Store. The zero value is not usable; use New.
type Store struct {
	mu       sync.Mutex
	docs     map[string]store.Document
	order    map[string][]string // collection path -> member ids, insertion order
	docSubs  map[string][]*watcher[store.Document]
	collSubs map[string][]*watcher[store.CollectionEvent]
}

func New() *Store {
	return &Store{
		docs:     make(map[string]store.Document),
		order:    make(map[string][]string),
		docSubs:  make(map[string][]*watcher[store.Document]),
		collSubs: make(map[string][]*watcher[store.CollectionEvent]),
	}
}

func (s *Store) Get(_ context.Context, path string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (s *Store) Set(_ context.Context, path string, doc store.Document, merge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.docs[path]
	if merge && ok {
		merged := cloneDoc(existing)
		for k, v := range doc {
			merged[k] = v
		}
		s.docs[path] = merged
	} else {
		s.docs[path] = cloneDoc(doc)
		if !ok {
			s.track(path)
		}
	}
	s.notify(path)
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path]; !ok {
		return nil
	}
	delete(s.docs, path)
	s.untrack(path)

	parent, id := split(path)
	for _, w := range s.collSubs[parent] {
		w.push(store.CollectionEvent{Kind: store.EventRemoved, ID: id})
	}
	return nil
}

func (s *Store) Append(_ context.Context, path string, doc store.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	full := path + "/" + id
	s.docs[full] = cloneDoc(doc)
	s.track(full)
	s.notify(full)
	return id, nil
}

func (s *Store) List(_ context.Context, path string) ([]store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.order[path]
	entries := make([]store.Entry, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[path+"/"+id]; ok {
			entries = append(entries, store.Entry{ID: id, Data: cloneDoc(doc)})
		}
	}
	return entries, nil
}

func (s *Store) WatchDocument(ctx context.Context, path string) (<-chan store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := newWatcher[store.Document](ctx)
	s.docSubs[path] = append(s.docSubs[path], w)
	if doc, ok := s.docs[path]; ok {
		w.push(cloneDoc(doc))
	}
	return w.out, nil
}

func (s *Store) WatchCollection(ctx context.Context, path string) (<-chan store.CollectionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := newWatcher[store.CollectionEvent](ctx)
	s.collSubs[path] = append(s.collSubs[path], w)
	for _, id := range s.order[path] {
		if doc, ok := s.docs[path+"/"+id]; ok {
			w.push(store.CollectionEvent{Kind: store.EventAdded, ID: id, Data: cloneDoc(doc)})
		}
	}
	return w.out, nil
}

// notify fans a document's current state out to its document watchers and,
// as an Added event, to its parent collection's watchers. Merged updates are
// redelivered as Added; consumers tolerate that per the store contract.
func (s *Store) notify(path string) {
	doc := s.docs[path]
	for _, w := range s.docSubs[path] {
		w.push(cloneDoc(doc))
	}
	parent, id := split(path)
	for _, w := range s.collSubs[parent] {
		w.push(store.CollectionEvent{Kind: store.EventAdded, ID: id, Data: cloneDoc(doc)})
	}
}

func (s *Store) track(path string) {
	parent, id := split(path)
	for _, existing := range s.order[parent] {
		if existing == id {
			return
		}
	}
	s.order[parent] = append(s.order[parent], id)
}

func (s *Store) untrack(path string) {
	parent, id := split(path)
	ids := s.order[parent]
	for i, existing := range ids {
		if existing == id {
			s.order[parent] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func split(path string) (parent, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func cloneDoc(doc store.Document) store.Document {
	out := make(store.Document, len(doc))
	for k, v := range doc {
		if nested, ok := v.(map[string]any); ok {
			inner := make(map[string]any, len(nested))
			for nk, nv := range nested {
				inner[nk] = nv
			}
			out[k] = inner
			continue
		}
		out[k] = v
	}
	return out
}
