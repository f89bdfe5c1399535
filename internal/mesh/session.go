package mesh

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anonmeet/anonmeet/internal/media"
	"github.com/anonmeet/anonmeet/internal/transport"
)

// SessionState is the lifecycle state of one peer session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateNegotiating
	StateConnected
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PeerSession owns exactly one transport connection to exactly one remote
// participant. Exactly one of Initiate or Respond runs per session; the
// coordinator picks which via the tie-break rule.
//
// All methods are called from the coordinator's event loop; the session
// holds no lock of its own.
type PeerSession struct {
	peerID string
	conn   transport.Connection
	state  SessionState
	log    zerolog.Logger

	remoteApplied bool
	pending       []transport.Candidate
	stream        transport.RemoteStream
}

func NewPeerSession(peerID string, conn transport.Connection) *PeerSession {
	return &PeerSession{
		peerID: peerID,
		conn:   conn,
		state:  StateIdle,
		log:    log.With().Str("component", "session").Str("peer", peerID).Logger(),
	}
}

func (s *PeerSession) PeerID() string {
	return s.peerID
}

func (s *PeerSession) State() SessionState {
	return s.state
}

// Live reports whether the session still takes part in the mesh.
func (s *PeerSession) Live() bool {
	return s.state == StateIdle || s.state == StateNegotiating || s.state == StateConnected
}

// AttachLocalTracks adds the outgoing tracks to the connection. Must run
// before the handshake starts.
func (s *PeerSession) AttachLocalTracks(stream *media.Stream) error {
	for _, t := range stream.Tracks() {
		if err := s.conn.AddTrack(t); err != nil {
			return newPeerError("attach track", s.peerID, err)
		}
	}
	return nil
}

// Initiate creates the local offer and moves the session to Negotiating.
// The caller writes the returned offer to the pair's handshake record.
func (s *PeerSession) Initiate(ctx context.Context) (transport.Description, error) {
	if s.state != StateIdle {
		return transport.Description{}, newPeerError("initiate", s.peerID, errBadState(s.state))
	}
	offer, err := s.conn.CreateOffer(ctx)
	if err != nil {
		s.fail()
		return transport.Description{}, newPeerError("create offer", s.peerID, err)
	}
	s.state = StateNegotiating
	s.log.Debug().Msg("offer created, negotiating")
	return offer, nil
}

// Respond applies the remote offer and creates the local answer, moving the
// session to Negotiating. The caller writes the answer to the pair's
// handshake record; the record always holds an offer before an answer.
func (s *PeerSession) Respond(ctx context.Context, offer transport.Description) (transport.Description, error) {
	if s.state != StateIdle {
		return transport.Description{}, newPeerError("respond", s.peerID, errBadState(s.state))
	}
	if err := s.conn.SetRemoteDescription(offer); err != nil {
		s.fail()
		return transport.Description{}, newPeerError("apply offer", s.peerID, err)
	}
	s.remoteApplied = true
	s.flushPending()

	answer, err := s.conn.CreateAnswer(ctx)
	if err != nil {
		s.fail()
		return transport.Description{}, newPeerError("create answer", s.peerID, err)
	}
	s.state = StateNegotiating
	s.log.Debug().Msg("answer created, negotiating")
	return answer, nil
}

// ApplyAnswer applies the remote answer on the initiating side. Redelivered
// answers after the first application are ignored.
func (s *PeerSession) ApplyAnswer(answer transport.Description) error {
	if s.remoteApplied || !s.Live() {
		return nil
	}
	if err := s.conn.SetRemoteDescription(answer); err != nil {
		s.fail()
		return newPeerError("apply answer", s.peerID, err)
	}
	s.remoteApplied = true
	s.flushPending()
	s.log.Debug().Msg("answer applied")
	return nil
}

// AddRemoteCandidate ingests one remote candidate. Candidates arriving
// before the remote description are buffered and replayed in arrival order
// once it is applied. Valid while Negotiating or Connected; duplicates are
// no-ops because the transport tolerates resubmission.
func (s *PeerSession) AddRemoteCandidate(c transport.Candidate) {
	if !s.Live() {
		return
	}
	if !s.remoteApplied {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		s.log.Warn().Err(err).Msg("candidate rejected")
	}
}

// flushPending replays buffered candidates in their arrival order.
func (s *PeerSession) flushPending() {
	for _, c := range s.pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
	s.pending = nil
}

// HandleTransportState folds a transport state change into the session
// state. It reports whether the session state changed.
func (s *PeerSession) HandleTransportState(st transport.State) bool {
	switch st {
	case transport.StateConnected:
		if s.state == StateNegotiating {
			s.state = StateConnected
			s.log.Info().Msg("media path established")
			return true
		}
	case transport.StateFailed:
		if s.Live() {
			s.fail()
			return true
		}
	}
	return false
}

// SetRemoteStream records the connection's inbound stream.
func (s *PeerSession) SetRemoteStream(stream transport.RemoteStream) {
	s.stream = stream
}

func (s *PeerSession) RemoteStream() transport.RemoteStream {
	return s.stream
}

// Fail moves the session to Failed and releases the connection. The mesh
// continues without this peer.
func (s *PeerSession) Fail() {
	if s.state == StateClosed || s.state == StateFailed {
		return
	}
	s.fail()
}

func (s *PeerSession) fail() {
	s.state = StateFailed
	s.pending = nil
	if err := s.conn.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close after failure")
	}
}

// Close releases the connection and discards buffered candidates.
// Idempotent: closing a closed session is a no-op.
func (s *PeerSession) Close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.pending = nil
	s.stream = nil
	if err := s.conn.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close connection")
	}
	s.log.Debug().Msg("session closed")
}

type badStateError SessionState

func errBadState(s SessionState) error {
	return badStateError(s)
}

func (e badStateError) Error() string {
	return "invalid in state " + SessionState(e).String()
}
