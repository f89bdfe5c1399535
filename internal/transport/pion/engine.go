// Package pion adapts pion/webrtc/v4 to the transport contract.
package pion

import (
	"context"
	"fmt"
	"sync"

	webrtc "github.com/pion/webrtc/v4"

	"github.com/anonmeet/anonmeet/internal/transport"
)

// Engine builds pion peer connections.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewConnection(cfg transport.Config) (transport.Connection, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:           iceServers,
		ICECandidatePoolSize: uint8(cfg.CandidatePoolSize),
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &conn{pc: pc}, nil
}

type conn struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	closed  bool
	remote  *remoteStream
	onTrack func(transport.RemoteStream)
}

func (c *conn) AddTrack(t transport.Track) error {
	lt, err := unwrap(t)
	if err != nil {
		return err
	}
	if _, err := c.pc.AddTrack(lt); err != nil {
		return fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	return nil
}

func (c *conn) CreateOffer(_ context.Context) (transport.Description, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return transport.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return transport.Description{}, fmt.Errorf("set local description: %w", err)
	}
	local := c.pc.LocalDescription()
	return transport.Description{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (c *conn) CreateAnswer(_ context.Context) (transport.Description, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return transport.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return transport.Description{}, fmt.Errorf("set local description: %w", err)
	}
	local := c.pc.LocalDescription()
	return transport.Description{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (c *conn) SetRemoteDescription(d transport.Description) error {
	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *conn) AddICECandidate(cand transport.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (c *conn) ReplaceTrack(kind string, t transport.Track) error {
	var sender *webrtc.RTPSender
	for _, s := range c.pc.GetSenders() {
		track := s.Track()
		if track != nil && track.Kind().String() == kind {
			sender = s
			break
		}
	}
	if sender == nil {
		return transport.ErrNoSender
	}

	if t == nil {
		return sender.ReplaceTrack(nil)
	}
	lt, err := unwrap(t)
	if err != nil {
		return err
	}
	return sender.ReplaceTrack(lt)
}

func (c *conn) OnICECandidate(fn func(transport.Candidate)) {
	c.pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			return
		}
		init := ic.ToJSON()
		fn(transport.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (c *conn) OnTrack(fn func(transport.RemoteStream)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()

	c.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.mu.Lock()
		if c.remote == nil {
			c.remote = &remoteStream{id: tr.StreamID()}
		}
		c.remote.add(tr)
		stream := c.remote
		cb := c.onTrack
		c.mu.Unlock()
		if cb != nil {
			cb(stream)
		}
	})
}

func (c *conn) OnStateChange(fn func(transport.State)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapState(s))
	})
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.pc.Close()
}

func mapState(s webrtc.PeerConnectionState) transport.State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return transport.StateNew
	case webrtc.PeerConnectionStateConnecting:
		return transport.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return transport.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return transport.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return transport.StateFailed
	default:
		return transport.StateClosed
	}
}

// remoteStream groups every inbound track of one connection. One stream per
// peer; never merged across connections.
type remoteStream struct {
	id     string
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (r *remoteStream) ID() string {
	return r.id
}

// Tracks returns the inbound tracks received so far.
func (r *remoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(r.tracks))
	copy(out, r.tracks)
	return out
}

func (r *remoteStream) add(tr *webrtc.TrackRemote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tracks {
		if existing.ID() == tr.ID() {
			return
		}
	}
	r.tracks = append(r.tracks, tr)
}
