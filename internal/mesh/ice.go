package mesh

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anonmeet/anonmeet/internal/store"
	"github.com/anonmeet/anonmeet/internal/transport"
)

// IceExchange relays candidates for one directional edge pair: local
// candidates out to the store, remote candidates in to the owning session.
// The coordinator routes inbound candidate records here from its single
// room-wide candidate watch; delivery is at-least-once, so records are
// deduplicated by their store id before reaching the session.
type IceExchange struct {
	store   store.Store
	room    string
	localID string
	peerID  string
	session *PeerSession
	log     zerolog.Logger

	seen   map[string]struct{}
	closed bool
}

func NewIceExchange(st store.Store, room, localID, peerID string, session *PeerSession) *IceExchange {
	return &IceExchange{
		store:   st,
		room:    room,
		localID: localID,
		peerID:  peerID,
		session: session,
		log:     log.With().Str("component", "ice").Str("peer", peerID).Logger(),
		seen:    make(map[string]struct{}),
	}
}

// PublishLocal appends a locally generated candidate to the outbound edge.
// Fire-and-forget: no acknowledgment is awaited and a failed write abandons
// only this candidate.
func (x *IceExchange) PublishLocal(ctx context.Context, c transport.Candidate) error {
	if x.closed {
		return nil
	}
	doc := candidateDoc(x.localID, x.peerID, c)
	if _, err := x.store.Append(ctx, store.CandidatesPath(x.room), doc); err != nil {
		return fmt.Errorf("%w: publish candidate: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Deliver hands one inbound candidate record to the session. Records
// already seen under the same store id are dropped.
func (x *IceExchange) Deliver(recordID string, c transport.Candidate) {
	if x.closed {
		return
	}
	if _, dup := x.seen[recordID]; dup {
		x.log.Debug().Str("record", recordID).Msg("duplicate candidate dropped")
		return
	}
	x.seen[recordID] = struct{}{}
	x.session.AddRemoteCandidate(c)
}

// Discard stops the exchange; later candidates for this edge are ignored.
func (x *IceExchange) Discard() {
	x.closed = true
	x.seen = nil
}
