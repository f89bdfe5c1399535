package mesh_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/anonmeet/anonmeet/internal/transport"
)

// fakeEngine hands out scripted in-process connections so handshakes can
// run without any network stack.
type fakeEngine struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) NewConnection(_ transport.Config) (transport.Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &fakeConn{}
	e.conns = append(e.conns, c)
	return c, nil
}

// conn returns the i-th connection the engine created.
func (e *fakeEngine) conn(i int) *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.conns) {
		return nil
	}
	return e.conns[i]
}

func (e *fakeEngine) connCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

type fakeConn struct {
	mu sync.Mutex

	tracks     []transport.Track
	replaced   []transport.Track
	remote     *transport.Description
	candidates []transport.Candidate
	closeCalls int
	closed     bool

	offerErr   error
	answerErr  error
	replaceErr error

	onCandidate func(transport.Candidate)
	onTrack     func(transport.RemoteStream)
	onState     func(transport.State)
}

func (c *fakeConn) AddTrack(t transport.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *fakeConn) CreateOffer(_ context.Context) (transport.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerErr != nil {
		return transport.Description{}, c.offerErr
	}
	return transport.Description{Type: "offer", SDP: "v=0 fake-offer"}, nil
}

func (c *fakeConn) CreateAnswer(_ context.Context) (transport.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return transport.Description{}, c.answerErr
	}
	if c.remote == nil {
		return transport.Description{}, errors.New("answer requested before remote description")
	}
	return transport.Description{Type: "answer", SDP: "v=0 fake-answer"}, nil
}

func (c *fakeConn) SetRemoteDescription(d transport.Description) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &d
	return nil
}

func (c *fakeConn) AddICECandidate(cand transport.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("candidate before remote description")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) ReplaceTrack(kind string, t transport.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaceErr != nil {
		return c.replaceErr
	}
	for _, existing := range c.tracks {
		if existing.Kind() == kind {
			c.replaced = append(c.replaced, t)
			return nil
		}
	}
	return transport.ErrNoSender
}

func (c *fakeConn) OnICECandidate(fn func(transport.Candidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *fakeConn) OnTrack(fn func(transport.RemoteStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *fakeConn) OnStateChange(fn func(transport.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) remoteDescription() *transport.Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *fakeConn) candidateList() []transport.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c *fakeConn) setReplaceError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceErr = err
}

func (c *fakeConn) replacedTracks() []transport.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Track, len(c.replaced))
	copy(out, c.replaced)
	return out
}

// fireState simulates an engine state-change callback.
func (c *fakeConn) fireState(st transport.State) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// fireCandidate simulates a locally gathered candidate.
func (c *fakeConn) fireCandidate(cand transport.Candidate) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

// fireTrack simulates inbound media arriving.
func (c *fakeConn) fireTrack(stream transport.RemoteStream) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(stream)
	}
}

const (
	transportConnected = transport.StateConnected
	transportFailed    = transport.StateFailed
)

type fakeTrack struct {
	kind string
	id   string
}

func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) ID() string   { return t.id }

type fakeRemoteStream struct {
	id string
}

func (s *fakeRemoteStream) ID() string { return s.id }

func candidateNamed(n int) transport.Candidate {
	mid := "0"
	return transport.Candidate{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.%d 54321 typ host", n, n),
		SDPMid:    &mid,
	}
}
