package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anonmeet/anonmeet/internal/store"
)

// MembershipEventKind distinguishes joins from leaves.
type MembershipEventKind int

const (
	MemberAdded MembershipEventKind = iota
	MemberRemoved
)

// MembershipEvent is one observed change of the room's membership. Events
// arrive in store-delivery order, which is not a global real-time order
// across participants, and may be redelivered.
type MembershipEvent struct {
	Kind MembershipEventKind
	ID   string
	Name string
}

// PresenceRegistry publishes the local participant's presence and observes
// the room's membership. Self-events never reach the consumer. A registry
// is single-use: once retracted, create a new one to rejoin.
type PresenceRegistry struct {
	store   store.Store
	room    string
	localID string
	log     zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	retracted bool
}

func NewPresenceRegistry(st store.Store, room, localID string) *PresenceRegistry {
	return &PresenceRegistry{
		store:   st,
		room:    room,
		localID: localID,
		log:     log.With().Str("component", "presence").Str("room", room).Logger(),
	}
}

// Publish writes the local participant's presence document. Idempotent; the
// document is visible to every other room observer once written.
func (r *PresenceRegistry) Publish(ctx context.Context, name string) error {
	doc := store.Document{"name": name}
	if err := r.store.Set(ctx, store.ParticipantPath(r.room, r.localID), doc, false); err != nil {
		return fmt.Errorf("%w: publish presence: %v", ErrStoreUnavailable, err)
	}
	r.log.Debug().Str("id", r.localID).Str("name", name).Msg("presence published")
	return nil
}

// Watch streams membership events until Retract or ctx cancellation. The
// returned channel is closed when the watch ends.
func (r *PresenceRegistry) Watch(ctx context.Context) (<-chan MembershipEvent, error) {
	r.mu.Lock()
	if r.retracted {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	watchCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	events, err := r.store.WatchCollection(watchCtx, store.ParticipantsPath(r.room))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: watch presence: %v", ErrStoreUnavailable, err)
	}

	out := make(chan MembershipEvent)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.ID == r.localID {
				continue
			}
			m := MembershipEvent{ID: ev.ID}
			switch ev.Kind {
			case store.EventAdded:
				m.Kind = MemberAdded
				m.Name, _ = ev.Data["name"].(string)
			case store.EventRemoved:
				m.Kind = MemberRemoved
			default:
				continue
			}
			select {
			case out <- m:
			case <-watchCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Retract removes the presence document and releases the watch. Safe to
// call multiple times; every call after the first is a no-op.
func (r *PresenceRegistry) Retract(ctx context.Context) error {
	r.mu.Lock()
	if r.retracted {
		r.mu.Unlock()
		return nil
	}
	r.retracted = true
	cancel := r.cancel
	r.mu.Unlock()

	// Unsubscribe before deleting so we never react to our own cleanup
	// write.
	if cancel != nil {
		cancel()
	}
	if err := r.store.Delete(ctx, store.ParticipantPath(r.room, r.localID)); err != nil {
		return fmt.Errorf("%w: retract presence: %v", ErrStoreUnavailable, err)
	}
	r.log.Debug().Str("id", r.localID).Msg("presence retracted")
	return nil
}
