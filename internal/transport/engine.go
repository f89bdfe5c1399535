// Package transport defines the contract the mesh core requires from the
// point-to-point media engine. The core drives the handshake through this
// interface; encryption, codecs and network traversal belong to the engine
// behind it.
package transport

import (
	"context"
	"errors"
)

// Engine creates peer connections.
type Engine interface {
	NewConnection(cfg Config) (Connection, error)
}

// Config carries the connectivity-assistance configuration supplied at
// construction time.
type Config struct {
	ICEServers        []ICEServer
	CandidatePoolSize int
}

// ICEServer is one STUN or TURN endpoint.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Description is one side of the offer/answer handshake.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a connectivity hint relayed between peers. Field names match
// the wire form the store carries.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Track is an outgoing media track attached to a connection.
type Track interface {
	Kind() string
	ID() string
}

// RemoteStream is the inbound media of one connection. Each connection owns
// exactly one remote stream; streams are never shared across peers.
type RemoteStream interface {
	ID() string
}

// State is the connection's media-path state.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNoSender is returned by ReplaceTrack when the connection holds no
// sender of the requested kind. Adding a sender mid-call would force a
// renegotiation, which ReplaceTrack never does.
var ErrNoSender = errors.New("no sender of this kind on the connection")

// Connection is one transport-engine connection to one remote peer.
//
// CreateOffer and CreateAnswer apply the local description before returning
// it. AddICECandidate tolerates duplicate submission of the same candidate.
// Close is idempotent. Callbacks may fire on engine-owned goroutines.
type Connection interface {
	AddTrack(t Track) error
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetRemoteDescription(d Description) error
	AddICECandidate(c Candidate) error
	ReplaceTrack(kind string, t Track) error

	OnICECandidate(fn func(Candidate))
	OnTrack(fn func(RemoteStream))
	OnStateChange(fn func(State))

	Close() error
}
