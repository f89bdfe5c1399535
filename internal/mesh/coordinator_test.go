package mesh_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonmeet/anonmeet/internal/media"
	"github.com/anonmeet/anonmeet/internal/mesh"
	"github.com/anonmeet/anonmeet/internal/store"
	"github.com/anonmeet/anonmeet/internal/store/memory"
	"github.com/anonmeet/anonmeet/internal/transport"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// harness runs one coordinator against a shared store with a fake engine.
type harness struct {
	t      *testing.T
	id     string
	engine *fakeEngine
	camera *media.Stream
	coord  *mesh.Coordinator

	mu      sync.Mutex
	notices []mesh.Notice

	cancel context.CancelFunc
	runErr chan error
}

func startParticipant(t *testing.T, st store.Store, room, id, name string) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		id:     id,
		engine: newFakeEngine(),
		camera: media.NewStream(&fakeTrack{kind: "audio", id: id + "-mic"}, &fakeTrack{kind: "video", id: id + "-cam"}),
		runErr: make(chan error, 1),
	}
	h.coord = mesh.New(st, h.engine, mesh.Config{
		Room:        room,
		LocalID:     id,
		DisplayName: name,
	}, h.camera)
	h.coord.OnNotice(func(n mesh.Notice) {
		h.mu.Lock()
		h.notices = append(h.notices, n)
		h.mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.coord.Run(ctx) }()

	t.Cleanup(func() {
		hangCtx, hangCancel := context.WithTimeout(context.Background(), time.Second)
		defer hangCancel()
		_ = h.coord.HangUp(hangCtx)
		cancel()
		select {
		case <-h.runErr:
		case <-time.After(waitFor):
			t.Error("coordinator did not stop")
		}
	})
	return h
}

func (h *harness) hangUp() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(h.t, h.coord.HangUp(ctx))
	select {
	case err := <-h.runErr:
		require.NoError(h.t, err)
		h.runErr <- err
	case <-time.After(waitFor):
		h.t.Fatal("run loop did not exit after hang-up")
	}
}

func (h *harness) participantCount() int {
	return len(h.coord.Participants())
}

func (h *harness) noticeContaining(substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range h.notices {
		if strings.Contains(n.Message, substr) {
			return true
		}
	}
	return false
}

func waitForConn(t *testing.T, e *fakeEngine, i int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return e.connCount() > i }, waitFor, tick)
	return e.conn(i)
}

func offerRecord() store.Document {
	return store.Document{
		"offer": map[string]any{"type": "offer", "sdp": "v=0 remote-offer"},
	}
}

func TestInitiatesTieBreak(t *testing.T) {
	assert.True(t, mesh.Initiates("aaa", "bbb"))
	assert.False(t, mesh.Initiates("bbb", "aaa"))
	assert.False(t, mesh.Initiates("aaa", "aaa"))
}

func TestTwoPartyHandshake(t *testing.T) {
	st := memory.New()
	a := startParticipant(t, st, "room", "aaa", "alice")
	b := startParticipant(t, st, "room", "bbb", "bob")

	connA := waitForConn(t, a.engine, 0)
	connB := waitForConn(t, b.engine, 0)

	// The smaller id wrote the offer; the larger id answered into the same
	// record. Only one record exists for the pair.
	require.Eventually(t, func() bool {
		doc, err := st.Get(context.Background(), store.ConnectionPath("room", "aaa", "bbb"))
		if err != nil {
			return false
		}
		_, hasOffer := doc["offer"]
		_, hasAnswer := doc["answer"]
		return hasOffer && hasAnswer
	}, waitFor, tick)

	_, err := st.Get(context.Background(), store.ConnectionPath("room", "bbb", "aaa"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Each side holds the other's description.
	require.Eventually(t, func() bool { return connA.remoteDescription() != nil }, waitFor, tick)
	assert.Equal(t, "answer", connA.remoteDescription().Type)
	require.Eventually(t, func() bool { return connB.remoteDescription() != nil }, waitFor, tick)
	assert.Equal(t, "offer", connB.remoteDescription().Type)

	connA.fireState(transportConnected)
	connB.fireState(transportConnected)

	require.Eventually(t, func() bool { return a.participantCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return b.participantCount() == 2 }, waitFor, tick)

	listA := a.coord.Participants()
	assert.True(t, listA[0].IsLocal)
	assert.Equal(t, "bob", listA[1].Name)

	// Inbound media shows up on the remote entry once the engine reports it.
	connA.fireTrack(&fakeRemoteStream{id: "bob-stream"})
	require.Eventually(t, func() bool {
		list := a.coord.Participants()
		return len(list) == 2 && list[1].Stream != nil && list[1].Stream.ID() == "bob-stream"
	}, waitFor, tick)
}

func TestCandidateRelayAndDeduplication(t *testing.T) {
	st := memory.New()
	a := startParticipant(t, st, "room", "aaa", "alice")
	b := startParticipant(t, st, "room", "bbb", "bob")

	connA := waitForConn(t, a.engine, 0)
	connB := waitForConn(t, b.engine, 0)
	require.Eventually(t, func() bool { return connB.remoteDescription() != nil }, waitFor, tick)

	// A locally gathered candidate crosses the store to the peer.
	connA.fireCandidate(candidateNamed(1))
	require.Eventually(t, func() bool { return len(connB.candidateList()) == 1 }, waitFor, tick)
	assert.Equal(t, candidateNamed(1).Candidate, connB.candidateList()[0].Candidate)

	// Redelivery of the same record is dropped by its id.
	cand := candidateNamed(2)
	doc := store.Document{
		"from":      "aaa",
		"to":        "bbb",
		"candidate": cand.Candidate,
	}
	path := store.Join(store.CandidatesPath("room"), "fixed-record-id")
	require.NoError(t, st.Set(context.Background(), path, doc, false))
	require.Eventually(t, func() bool { return len(connB.candidateList()) == 2 }, waitFor, tick)

	require.NoError(t, st.Set(context.Background(), path, doc, true))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, connB.candidateList(), 2, "replayed record must not be re-applied")
}

func TestOfferBeforePresenceCreatesSessionLazily(t *testing.T) {
	st := memory.New()
	b := startParticipant(t, st, "room", "bbb", "bob")
	require.Eventually(t, func() bool { return b.participantCount() == 1 }, waitFor, tick)

	// The initiator's handshake record lands before its presence document.
	path := store.ConnectionPath("room", "aaa", "bbb")
	require.NoError(t, st.Set(context.Background(), path, offerRecord(), false))

	// The responder answers anyway and shows the peer as negotiating.
	require.Eventually(t, func() bool {
		doc, err := st.Get(context.Background(), path)
		if err != nil {
			return false
		}
		_, ok := doc["answer"]
		return ok
	}, waitFor, tick)
	require.Eventually(t, func() bool { return b.participantCount() == 2 }, waitFor, tick)
	assert.Equal(t, 1, b.engine.connCount())

	// Presence catching up reconciles the display name on the same session.
	require.NoError(t, st.Set(context.Background(), store.ParticipantPath("room", "aaa"), store.Document{"name": "alice"}, false))
	require.Eventually(t, func() bool {
		list := b.coord.Participants()
		return len(list) == 2 && list[1].Name == "alice"
	}, waitFor, tick)
	assert.Equal(t, 1, b.engine.connCount(), "reconciliation must not rebuild the session")
}

func TestCandidateBeforePresenceCreatesSessionLazily(t *testing.T) {
	st := memory.New()
	b := startParticipant(t, st, "room", "bbb", "bob")
	require.Eventually(t, func() bool { return b.participantCount() == 1 }, waitFor, tick)

	cand := candidateNamed(7)
	_, err := st.Append(context.Background(), store.CandidatesPath("room"), store.Document{
		"from":      "aaa",
		"to":        "bbb",
		"candidate": cand.Candidate,
	})
	require.NoError(t, err)

	// A session exists for the unknown peer; the candidate is buffered until
	// a remote description arrives.
	require.Eventually(t, func() bool { return b.participantCount() == 2 }, waitFor, tick)
	require.Equal(t, 1, b.engine.connCount())
	assert.Empty(t, b.engine.conn(0).candidateList())

	// Once the offer shows up, the buffered candidate is replayed.
	require.NoError(t, st.Set(context.Background(), store.ConnectionPath("room", "aaa", "bbb"), offerRecord(), false))
	require.Eventually(t, func() bool { return len(b.engine.conn(0).candidateList()) == 1 }, waitFor, tick)
}

func TestHangUpTearsDownAndLastOutSweepsRoom(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	a := startParticipant(t, st, "room", "aaa", "alice")
	b := startParticipant(t, st, "room", "bbb", "bob")

	connA := waitForConn(t, a.engine, 0)
	connB := waitForConn(t, b.engine, 0)
	require.Eventually(t, func() bool { return connA.remoteDescription() != nil }, waitFor, tick)
	connA.fireState(transportConnected)
	connB.fireState(transportConnected)
	require.Eventually(t, func() bool { return a.participantCount() == 2 }, waitFor, tick)

	b.hangUp()

	assert.True(t, connB.isClosed())
	_, err := st.Get(ctx, store.ParticipantPath("room", "bbb"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The pair's handshake record goes with the leaver.
	require.Eventually(t, func() bool {
		_, err := st.Get(ctx, store.ConnectionPath("room", "aaa", "bbb"))
		return err != nil
	}, waitFor, tick)

	// The remaining participant drops the peer but keeps the room.
	require.Eventually(t, func() bool { return a.participantCount() == 1 }, waitFor, tick)
	_, err = st.Get(ctx, store.RoomPath("room"))
	assert.NoError(t, err)

	// Last one out sweeps the room document.
	a.hangUp()
	_, err = st.Get(ctx, store.RoomPath("room"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	entries, err := st.List(ctx, store.CandidatesPath("room"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScreenShareSubstitutesTrackWithoutRenegotiation(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	a := startParticipant(t, st, "room", "aaa", "alice")
	startParticipant(t, st, "room", "bbb", "bob")

	connA := waitForConn(t, a.engine, 0)
	require.Eventually(t, func() bool { return connA.remoteDescription() != nil }, waitFor, tick)
	connA.fireState(transportConnected)
	require.Eventually(t, func() bool { return a.participantCount() == 2 }, waitFor, tick)

	recordPath := store.ConnectionPath("room", "aaa", "bbb")
	before, err := st.Get(ctx, recordPath)
	require.NoError(t, err)

	screen := media.NewStream(nil, &fakeTrack{kind: "video", id: "screen"})
	require.NoError(t, screen.SetVideoEnabled(true))
	require.NoError(t, a.coord.StartScreenShare(screen))

	replaced := connA.replacedTracks()
	require.Len(t, replaced, 1)
	assert.Equal(t, "screen", replaced[0].ID())

	local := a.coord.Participants()[0]
	assert.True(t, local.IsScreenSharing)
	assert.False(t, local.IsVideoOff)
	assert.Equal(t, screen.ID(), local.Stream.ID())

	// Starting again while sharing is a no-op.
	require.NoError(t, a.coord.StartScreenShare(screen))
	assert.Len(t, connA.replacedTracks(), 1)

	require.NoError(t, a.coord.StopScreenShare())
	replaced = connA.replacedTracks()
	require.Len(t, replaced, 2)
	assert.Equal(t, "aaa-cam", replaced[1].ID())
	local = a.coord.Participants()[0]
	assert.False(t, local.IsScreenSharing)
	assert.Equal(t, a.camera.ID(), local.Stream.ID())

	// No handshake state was touched by the substitution.
	after, err := st.Get(ctx, recordPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestToggleVideoRefusedWhileSharing(t *testing.T) {
	st := memory.New()
	a := startParticipant(t, st, "room", "aaa", "alice")
	require.Eventually(t, func() bool { return a.participantCount() == 1 }, waitFor, tick)

	require.NoError(t, a.coord.ToggleVideo(true))
	assert.False(t, a.coord.Participants()[0].IsVideoOff)

	screen := media.NewStream(nil, &fakeTrack{kind: "video", id: "screen"})
	require.NoError(t, screen.SetVideoEnabled(true))
	require.NoError(t, a.coord.StartScreenShare(screen))

	// The toggle is refused with a warning, not an error.
	require.NoError(t, a.coord.ToggleVideo(false))
	assert.False(t, a.coord.Participants()[0].IsVideoOff)
	assert.True(t, a.noticeContaining("screen sharing"))
}

func TestToggleAudio(t *testing.T) {
	st := memory.New()
	a := startParticipant(t, st, "room", "aaa", "alice")
	require.Eventually(t, func() bool { return a.participantCount() == 1 }, waitFor, tick)

	// Participants join muted.
	assert.True(t, a.coord.Participants()[0].IsMuted)

	require.NoError(t, a.coord.ToggleAudio(true))
	assert.False(t, a.coord.Participants()[0].IsMuted)

	require.NoError(t, a.coord.ToggleAudio(false))
	assert.True(t, a.coord.Participants()[0].IsMuted)
}

func TestRecreatedSessionRunsFreshHandshake(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	a := startParticipant(t, st, "room", "aaa", "alice")

	require.NoError(t, st.Set(ctx, store.ParticipantPath("room", "bbb"), store.Document{"name": "bob"}, false))
	conn0 := waitForConn(t, a.engine, 0)

	recordPath := store.ConnectionPath("room", "aaa", "bbb")
	require.Eventually(t, func() bool {
		_, err := st.Get(ctx, recordPath)
		return err == nil
	}, waitFor, tick)
	require.NoError(t, st.Set(ctx, recordPath, store.Document{
		"answer": map[string]any{"type": "answer", "sdp": "v=0 first-answer"},
	}, true))
	require.Eventually(t, func() bool { return conn0.remoteDescription() != nil }, waitFor, tick)
	conn0.fireState(transportConnected)
	require.Eventually(t, func() bool { return a.participantCount() == 2 }, waitFor, tick)

	conn0.fireState(transportFailed)
	require.Eventually(t, func() bool { return a.participantCount() == 1 }, waitFor, tick)

	// A redelivered presence Added recreates the failed session on a fresh
	// connection.
	require.NoError(t, st.Set(ctx, store.ParticipantPath("room", "bbb"), store.Document{"name": "bob"}, false))
	conn1 := waitForConn(t, a.engine, 1)

	// The dead pair's record went with the old session: the new record
	// holds only the fresh offer, and the old answer never reaches the
	// recreated connection.
	require.Eventually(t, func() bool {
		doc, err := st.Get(ctx, recordPath)
		if err != nil {
			return false
		}
		_, hasOffer := doc["offer"]
		_, hasAnswer := doc["answer"]
		return hasOffer && !hasAnswer
	}, waitFor, tick)
	assert.Nil(t, conn1.remoteDescription())

	// The peer's genuine answer completes the fresh handshake.
	require.NoError(t, st.Set(ctx, recordPath, store.Document{
		"answer": map[string]any{"type": "answer", "sdp": "v=0 second-answer"},
	}, true))
	require.Eventually(t, func() bool {
		remote := conn1.remoteDescription()
		return remote != nil && remote.SDP == "v=0 second-answer"
	}, waitFor, tick)
	conn1.fireState(transportConnected)
	require.Eventually(t, func() bool { return a.participantCount() == 2 }, waitFor, tick)
}

func TestScreenShareRollsBackOnPartialFailure(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	a := startParticipant(t, st, "room", "aaa", "alice")

	require.NoError(t, st.Set(ctx, store.ParticipantPath("room", "bbb"), store.Document{"name": "bob"}, false))
	connB := waitForConn(t, a.engine, 0)
	require.NoError(t, st.Set(ctx, store.ParticipantPath("room", "ccc"), store.Document{"name": "carol"}, false))
	connC := waitForConn(t, a.engine, 1)

	for _, peer := range []string{"bbb", "ccc"} {
		path := store.ConnectionPath("room", "aaa", peer)
		require.Eventually(t, func() bool {
			_, err := st.Get(ctx, path)
			return err == nil
		}, waitFor, tick)
		require.NoError(t, st.Set(ctx, path, store.Document{
			"answer": map[string]any{"type": "answer", "sdp": "v=0 remote-answer"},
		}, true))
	}
	require.Eventually(t, func() bool { return a.participantCount() == 3 }, waitFor, tick)

	connC.setReplaceError(transport.ErrNoSender)

	screen := media.NewStream(nil, &fakeTrack{kind: "video", id: "screen"})
	require.NoError(t, screen.SetVideoEnabled(true))
	err := a.coord.StartScreenShare(screen)
	require.Error(t, err)
	assert.ErrorIs(t, err, mesh.ErrMediaUnavailable)

	// The failed start leaves the local state on the camera.
	local := a.coord.Participants()[0]
	assert.False(t, local.IsScreenSharing)
	assert.Equal(t, a.camera.ID(), local.Stream.ID())

	// The peer that had switched is rolled back to the camera track.
	replaced := connB.replacedTracks()
	require.Len(t, replaced, 2)
	assert.Equal(t, "screen", replaced[0].ID())
	assert.Equal(t, "aaa-cam", replaced[1].ID())
}

func TestPeerFailureLeavesOthersIntact(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	a := startParticipant(t, st, "room", "aaa", "alice")

	// Two responders appear; the local id initiates toward both, in the
	// order their presence committed.
	require.NoError(t, st.Set(ctx, store.ParticipantPath("room", "bbb"), store.Document{"name": "bob"}, false))
	connB := waitForConn(t, a.engine, 0)
	require.NoError(t, st.Set(ctx, store.ParticipantPath("room", "ccc"), store.Document{"name": "carol"}, false))
	connC := waitForConn(t, a.engine, 1)

	for _, peer := range []string{"bbb", "ccc"} {
		path := store.ConnectionPath("room", "aaa", peer)
		require.Eventually(t, func() bool {
			_, err := st.Get(ctx, path)
			return err == nil
		}, waitFor, tick)
		require.NoError(t, st.Set(ctx, path, store.Document{
			"answer": map[string]any{"type": "answer", "sdp": "v=0 remote-answer"},
		}, true))
	}
	require.Eventually(t, func() bool { return connB.remoteDescription() != nil }, waitFor, tick)
	require.Eventually(t, func() bool { return connC.remoteDescription() != nil }, waitFor, tick)

	// Carol connects first, so she sorts ahead of Bob in the list.
	connC.fireState(transportConnected)
	require.Eventually(t, func() bool {
		list := a.coord.Participants()
		return len(list) == 3 && list[1].Name == "carol"
	}, waitFor, tick)
	connB.fireState(transportConnected)
	require.Eventually(t, func() bool {
		list := a.coord.Participants()
		return len(list) == 3 && list[2].Name == "bob"
	}, waitFor, tick)

	// One transport dying removes only that peer.
	connB.fireState(transportFailed)
	require.Eventually(t, func() bool {
		list := a.coord.Participants()
		return len(list) == 2 && list[1].Name == "carol"
	}, waitFor, tick)
	assert.True(t, connB.isClosed())
	assert.False(t, connC.isClosed())
	assert.True(t, a.noticeContaining("dropped"))
}
