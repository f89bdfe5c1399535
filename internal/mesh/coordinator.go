package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anonmeet/anonmeet/internal/media"
	"github.com/anonmeet/anonmeet/internal/store"
	"github.com/anonmeet/anonmeet/internal/transport"
)

// storeOpTimeout bounds fire-and-forget store writes issued from engine
// callbacks and background cleanup.
const storeOpTimeout = 10 * time.Second

// Initiates reports whether localID initiates the handshake toward peerID.
// The lexicographically smaller id always initiates; both sides compute the
// same answer from ids they already hold, so the rule needs no extra
// signaling and cannot race.
func Initiates(localID, peerID string) bool {
	return localID < peerID
}

// Config identifies the local participant and its room.
type Config struct {
	Room        string
	LocalID     string
	DisplayName string
	Transport   transport.Config
}

// peerLink bundles the per-peer state the coordinator owns: the session,
// its candidate exchange, and the presence name once observed.
type peerLink struct {
	session     *PeerSession
	ice         *IceExchange
	name        string
	seen        bool
	cancelWatch context.CancelFunc
}

// Coordinator drives the mesh: it owns the participant→session map, creates
// and destroys sessions from presence events, resolves the initiator
// tie-break, and republishes the aggregated participant list after every
// state change. All mutation happens on its event loop; engine callbacks
// and public calls are marshalled onto it.
type Coordinator struct {
	st       store.Store
	engine   transport.Engine
	cfg      Config
	camera   *media.Stream
	screen   *media.Stream
	presence *PresenceRegistry
	log      zerolog.Logger

	links     map[string]*peerLink
	roster    []string // remote ids in first-seen order
	connected []string // remote ids in the order they reached Connected

	onChange func([]Participant)
	onNotice func(Notice)

	events    chan func()
	done      chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	closed    bool
}

// New creates a coordinator for one room session. camera is the local
// outgoing stream; its tracks are attached to every peer connection.
func New(st store.Store, engine transport.Engine, cfg Config, camera *media.Stream) *Coordinator {
	return &Coordinator{
		st:       st,
		engine:   engine,
		cfg:      cfg,
		camera:   camera,
		presence: NewPresenceRegistry(st, cfg.Room, cfg.LocalID),
		log:      log.With().Str("component", "mesh").Str("room", cfg.Room).Str("self", cfg.LocalID).Logger(),
		links:    make(map[string]*peerLink),
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
	}
}

// OnParticipantsChange registers the aggregated-list callback. Must be set
// before Run; it is invoked on the coordinator's loop after every
// membership or session-state change.
func (c *Coordinator) OnParticipantsChange(fn func([]Participant)) {
	c.onChange = fn
}

// OnNotice registers the out-of-band notification callback (toast
// material). Must be set before Run.
func (c *Coordinator) OnNotice(fn func(Notice)) {
	c.onNotice = fn
}

// Run joins the room and processes events until HangUp or ctx cancellation.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	c.runCtx, c.runCancel = context.WithCancel(ctx)
	defer c.runCancel()

	if err := c.join(); err != nil {
		return err
	}

	memberships, err := c.presence.Watch(c.runCtx)
	if err != nil {
		return err
	}
	connEvents, err := c.st.WatchCollection(c.runCtx, store.ConnectionsPath(c.cfg.Room))
	if err != nil {
		return fmt.Errorf("%w: watch connections: %v", ErrStoreUnavailable, err)
	}
	candEvents, err := c.st.WatchCollection(c.runCtx, store.CandidatesPath(c.cfg.Room))
	if err != nil {
		return fmt.Errorf("%w: watch candidates: %v", ErrStoreUnavailable, err)
	}

	c.publish()

	for {
		select {
		case <-c.runCtx.Done():
			c.shutdownSessions()
			return c.runCtx.Err()

		case ev, ok := <-memberships:
			if !ok {
				memberships = nil
				continue
			}
			c.handleMembership(ev)

		case ev, ok := <-connEvents:
			if !ok {
				connEvents = nil
				continue
			}
			c.handleConnectionRecord(ev)

		case ev, ok := <-candEvents:
			if !ok {
				candEvents = nil
				continue
			}
			c.handleCandidateRecord(ev)

		case fn := <-c.events:
			fn()
			if c.closed {
				return nil
			}
		}
	}
}

// join creates the room document when absent and publishes presence.
func (c *Coordinator) join() error {
	roomPath := store.RoomPath(c.cfg.Room)
	if _, err := c.st.Get(c.runCtx, roomPath); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: read room: %v", ErrStoreUnavailable, err)
		}
		if err := c.st.Set(c.runCtx, roomPath, store.Document{"active": true}, true); err != nil {
			return fmt.Errorf("%w: create room: %v", ErrStoreUnavailable, err)
		}
	}
	return c.presence.Publish(c.runCtx, c.cfg.DisplayName)
}

// do runs fn on the event loop and returns its error. Calls made after
// hang-up report ErrClosed.
func (c *Coordinator) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.events <- func() { reply <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// post schedules fn on the event loop without waiting; used by engine
// callbacks.
func (c *Coordinator) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

func (c *Coordinator) handleMembership(ev MembershipEvent) {
	switch ev.Kind {
	case MemberAdded:
		c.handleJoin(ev.ID, ev.Name)
	case MemberRemoved:
		c.handleLeave(ev.ID)
	}
}

// handleJoin creates a session for a newly observed participant, or
// reconciles one created lazily from an early handshake or candidate
// record. Redelivered Added events for a live session are no-ops beyond
// name reconciliation; a fresh Added for a Failed session recreates it.
func (c *Coordinator) handleJoin(id, name string) {
	if link, exists := c.links[id]; exists {
		if link.session.Live() {
			link.seen = true
			if name != "" && link.name != name {
				link.name = name
			}
			c.publish()
			return
		}
		c.teardownLink(id, false)
		// The dead pair's handshake record still holds the old answer; a
		// fresh offer merged into it would see that answer replayed and
		// latched before the peer ever responds. Sweep the records before
		// the new session writes anything.
		c.removePairRecords(id)
	}

	link, err := c.createLink(id, name)
	if err != nil {
		c.reportFailure(id, err)
		return
	}
	link.seen = true
	c.notice(NoticeInfo, displayName(link, id)+" joined")
	c.publish()
}

func (c *Coordinator) handleLeave(id string) {
	link, exists := c.links[id]
	if !exists {
		return
	}
	name := displayName(link, id)
	c.teardownLink(id, true)
	c.notice(NoticeInfo, name+" left")
	c.publish()
}

// createLink builds the session+exchange pair for a remote participant and
// starts its side of the handshake per the tie-break rule.
func (c *Coordinator) createLink(id, name string) (*peerLink, error) {
	conn, err := c.engine.NewConnection(c.cfg.Transport)
	if err != nil {
		return nil, newPeerError("create connection", id, err)
	}

	sess := NewPeerSession(id, conn)
	if c.camera != nil {
		if err := sess.AttachLocalTracks(c.camera); err != nil {
			sess.Close()
			return nil, err
		}
		if c.screen != nil && c.screen.VideoTrack() != nil {
			// Joined mid-share: the new peer gets the screen track.
			if err := conn.ReplaceTrack("video", c.screen.VideoTrack()); err != nil && !errors.Is(err, transport.ErrNoSender) {
				c.log.Warn().Err(err).Str("peer", id).Msg("could not hand screen track to new peer")
			}
		}
	}

	link := &peerLink{
		session: sess,
		ice:     NewIceExchange(c.st, c.cfg.Room, c.cfg.LocalID, id, sess),
		name:    name,
	}
	c.links[id] = link
	c.addToRoster(id)

	conn.OnICECandidate(func(cand transport.Candidate) {
		c.post(func() {
			if c.links[id] != link || !link.session.Live() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
			defer cancel()
			if err := link.ice.PublishLocal(ctx, cand); err != nil {
				c.log.Warn().Err(err).Str("peer", id).Msg("candidate write abandoned")
			}
		})
	})
	conn.OnStateChange(func(st transport.State) {
		c.post(func() { c.handleTransportState(id, st) })
	})
	conn.OnTrack(func(stream transport.RemoteStream) {
		c.post(func() {
			if c.links[id] != link || !link.session.Live() {
				return
			}
			link.session.SetRemoteStream(stream)
			c.publish()
		})
	})

	if Initiates(c.cfg.LocalID, id) {
		if err := c.initiate(link); err != nil {
			return nil, err
		}
	}
	// Otherwise the peer initiates; we respond when its offer record
	// arrives on the connections watch.
	return link, nil
}

// initiate runs the offering side: write the offer into the pair's
// handshake record and watch the record for the answer.
func (c *Coordinator) initiate(link *peerLink) error {
	peer := link.session.PeerID()
	offer, err := link.session.Initiate(c.runCtx)
	if err != nil {
		return err
	}

	path := store.ConnectionPath(c.cfg.Room, c.cfg.LocalID, peer)
	if err := c.st.Set(c.runCtx, path, offerDoc(offer), true); err != nil {
		link.session.Fail()
		return newPeerError("write offer", peer, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	watchCtx, cancel := context.WithCancel(c.runCtx)
	link.cancelWatch = cancel
	docs, err := c.st.WatchDocument(watchCtx, path)
	if err != nil {
		cancel()
		link.session.Fail()
		return newPeerError("watch handshake", peer, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	go func() {
		for doc := range docs {
			doc := doc
			c.post(func() { c.handleAnswer(peer, link, doc) })
		}
	}()
	return nil
}

func (c *Coordinator) handleAnswer(peer string, link *peerLink, doc store.Document) {
	if c.links[peer] != link {
		return
	}
	answer, ok := decodeDescription(doc, "answer")
	if !ok {
		return
	}
	if err := link.session.ApplyAnswer(answer); err != nil {
		c.reportFailure(peer, err)
	}
}

// handleConnectionRecord runs the responding side: every handshake record
// addressed to the local id as responder carries (eventually) the peer's
// offer. Records can arrive before the peer's presence event; the session
// is then created lazily and reconciled when Added shows up.
func (c *Coordinator) handleConnectionRecord(ev store.CollectionEvent) {
	if ev.Kind != store.EventAdded {
		return
	}
	initiator, responder, ok := store.SplitConnectionID(ev.ID)
	if !ok || responder != c.cfg.LocalID || initiator == c.cfg.LocalID {
		return
	}
	offer, ok := decodeDescription(ev.Data, "offer")
	if !ok {
		return
	}

	link, exists := c.links[initiator]
	if !exists {
		var err error
		link, err = c.createLink(initiator, "")
		if err != nil {
			c.reportFailure(initiator, err)
			return
		}
		c.publish()
	}
	if link.session.State() != StateIdle {
		// Redelivered record; the handshake already ran.
		return
	}

	answer, err := link.session.Respond(c.runCtx, offer)
	if err != nil {
		c.reportFailure(initiator, err)
		return
	}

	// The record already holds the offer, so the merge below never puts
	// an answer ahead of it.
	path := store.Join(store.ConnectionsPath(c.cfg.Room), ev.ID)
	if err := c.st.Set(c.runCtx, path, answerDoc(answer), true); err != nil {
		link.session.Fail()
		c.reportFailure(initiator, newPeerError("write answer", initiator, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)))
	}
}

// handleCandidateRecord routes one inbound candidate to its edge's
// exchange, creating the session lazily when the candidate beats the
// presence event.
func (c *Coordinator) handleCandidateRecord(ev store.CollectionEvent) {
	if ev.Kind != store.EventAdded {
		return
	}
	from, to, cand, ok := decodeCandidate(ev.Data)
	if !ok || to != c.cfg.LocalID || from == c.cfg.LocalID {
		return
	}

	link, exists := c.links[from]
	if !exists {
		var err error
		link, err = c.createLink(from, "")
		if err != nil {
			c.reportFailure(from, err)
			return
		}
		c.publish()
	}
	link.ice.Deliver(ev.ID, cand)
}

func (c *Coordinator) handleTransportState(id string, st transport.State) {
	link, exists := c.links[id]
	if !exists {
		return
	}
	wasConnected := link.session.State() == StateConnected
	if !link.session.HandleTransportState(st) {
		return
	}

	switch link.session.State() {
	case StateConnected:
		c.connected = append(c.connected, id)
		c.notice(NoticeInfo, displayName(link, id)+" connected")
	case StateFailed:
		kind := ErrHandshakeFailed
		if wasConnected {
			kind = ErrTransportFailed
		}
		c.log.Warn().Str("peer", id).Err(kind).Msg("session failed")
		c.removeConnected(id)
		c.notice(NoticeWarn, displayName(link, id)+" dropped from the call")
	}
	c.publish()
}

// reportFailure surfaces a per-peer failure without touching other
// sessions; the peer simply leaves the connected set.
func (c *Coordinator) reportFailure(id string, err error) {
	c.log.Warn().Str("peer", id).Err(err).Msg("peer session failure")
	if link, exists := c.links[id]; exists {
		link.session.Fail()
		c.removeConnected(id)
		c.notice(NoticeWarn, displayName(link, id)+" dropped from the call")
	}
	c.publish()
}

// teardownLink closes a peer's session and, when removeDocs is set,
// best-effort deletes the pair's handshake and candidate records.
func (c *Coordinator) teardownLink(id string, removeDocs bool) {
	link, exists := c.links[id]
	if !exists {
		return
	}
	if link.cancelWatch != nil {
		link.cancelWatch()
	}
	link.ice.Discard()
	link.session.Close()
	delete(c.links, id)
	c.removeFromRoster(id)
	c.removeConnected(id)

	if removeDocs {
		go c.removePairRecords(id)
	}
}

// removePairRecords deletes both orientations of the pair's handshake
// record plus both edges' candidate records. Best-effort; failures leave
// residual documents, not incorrect state.
func (c *Coordinator) removePairRecords(peer string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	local := c.cfg.LocalID
	for _, path := range []string{
		store.ConnectionPath(c.cfg.Room, local, peer),
		store.ConnectionPath(c.cfg.Room, peer, local),
	} {
		if err := c.st.Delete(ctx, path); err != nil {
			c.log.Debug().Err(err).Str("path", path).Msg("handshake record cleanup skipped")
		}
	}

	candPath := store.CandidatesPath(c.cfg.Room)
	entries, err := c.st.List(ctx, candPath)
	if err != nil {
		c.log.Debug().Err(err).Msg("candidate cleanup skipped")
		return
	}
	for _, e := range entries {
		from, to, _, ok := decodeCandidate(e.Data)
		if !ok {
			continue
		}
		if (from == peer && to == local) || (from == local && to == peer) {
			if err := c.st.Delete(ctx, store.Join(candPath, e.ID)); err != nil {
				c.log.Debug().Err(err).Msg("candidate cleanup skipped")
			}
		}
	}
}

// shutdownSessions closes every session on forced loop exit (ctx cancel).
func (c *Coordinator) shutdownSessions() {
	for id := range c.links {
		c.teardownLink(id, false)
	}
}

// HangUp leaves the room: every session closes, presence retracts, and the
// last participant out sweeps the room's residual documents. The
// last-one-out check is best-effort; racing a concurrent join leaves the
// room intact, which is acceptable.
func (c *Coordinator) HangUp(ctx context.Context) error {
	return c.do(func() error {
		return c.hangUp(ctx)
	})
}

func (c *Coordinator) hangUp(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	// Watches go first so we never react to our own cleanup writes.
	c.runCancel()

	peers := make([]string, 0, len(c.links))
	for id := range c.links {
		peers = append(peers, id)
	}
	for _, id := range peers {
		c.teardownLink(id, false)
	}

	if err := c.presence.Retract(ctx); err != nil {
		c.log.Warn().Err(err).Msg("presence retraction failed")
	}
	for _, id := range peers {
		c.removePairRecordsSync(ctx, id)
	}
	c.cleanupIfEmpty(ctx)

	c.publish()
	return nil
}

func (c *Coordinator) removePairRecordsSync(ctx context.Context, peer string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.removePairRecords(peer)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// cleanupIfEmpty deletes the room's residual documents when the local
// participant observes it was the last one out.
func (c *Coordinator) cleanupIfEmpty(ctx context.Context) {
	remaining, err := c.st.List(ctx, store.ParticipantsPath(c.cfg.Room))
	if err != nil {
		c.log.Warn().Err(err).Msg("room occupancy check failed, cleanup skipped")
		return
	}
	if len(remaining) > 0 {
		return
	}

	for _, coll := range []string{
		store.ConnectionsPath(c.cfg.Room),
		store.CandidatesPath(c.cfg.Room),
	} {
		entries, err := c.st.List(ctx, coll)
		if err != nil {
			c.log.Warn().Err(err).Str("collection", coll).Msg("room cleanup skipped")
			continue
		}
		for _, e := range entries {
			if err := c.st.Delete(ctx, store.Join(coll, e.ID)); err != nil {
				c.log.Debug().Err(err).Msg("room cleanup delete failed")
			}
		}
	}
	if err := c.st.Delete(ctx, store.RoomPath(c.cfg.Room)); err != nil {
		c.log.Debug().Err(err).Msg("room document delete failed")
	}
	c.log.Info().Msg("last one out, room swept")
}

// Participants returns a snapshot of the aggregated list.
func (c *Coordinator) Participants() []Participant {
	var list []Participant
	err := c.do(func() error {
		list = c.aggregate()
		return nil
	})
	if err != nil {
		return nil
	}
	return list
}

// publish rebuilds the aggregated list and hands it to the display layer.
func (c *Coordinator) publish() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.aggregate())
}

// aggregate orders the list: local participant first, then remotes in the
// order their sessions reached Connected, then the still-negotiating rest
// in first-seen order. Failed and closed sessions are absent.
func (c *Coordinator) aggregate() []Participant {
	list := make([]Participant, 0, 1+len(c.roster))
	list = append(list, c.localParticipant())

	for _, id := range c.connected {
		if p, ok := c.remoteParticipant(id); ok {
			list = append(list, p)
		}
	}
	for _, id := range c.roster {
		if contains(c.connected, id) {
			continue
		}
		if p, ok := c.remoteParticipant(id); ok {
			list = append(list, p)
		}
	}
	return list
}

func (c *Coordinator) localParticipant() Participant {
	p := Participant{
		ID:              c.cfg.LocalID,
		Name:            c.cfg.DisplayName,
		IsLocal:         true,
		IsMuted:         true,
		IsVideoOff:      true,
		IsScreenSharing: c.screen != nil,
	}
	if c.screen != nil {
		p.Stream = c.screen
		p.IsVideoOff = false
	} else if c.camera != nil {
		p.Stream = c.camera
		p.IsVideoOff = !c.camera.VideoEnabled()
	}
	if c.camera != nil {
		p.IsMuted = !c.camera.AudioEnabled()
	}
	return p
}

func (c *Coordinator) remoteParticipant(id string) (Participant, bool) {
	link, exists := c.links[id]
	if !exists || !link.session.Live() {
		return Participant{}, false
	}
	p := Participant{
		ID:   id,
		Name: displayName(link, id),
		// Mute and video state of remotes is not signaled; they read as
		// muted with video off until media says otherwise.
		IsMuted:    true,
		IsVideoOff: true,
	}
	if stream := link.session.RemoteStream(); stream != nil {
		p.Stream = stream
	}
	return p, true
}

func (c *Coordinator) notice(level NoticeLevel, msg string) {
	if c.onNotice != nil {
		c.onNotice(Notice{Level: level, Message: msg})
	}
}

func (c *Coordinator) addToRoster(id string) {
	if !contains(c.roster, id) {
		c.roster = append(c.roster, id)
	}
}

func (c *Coordinator) removeFromRoster(id string) {
	c.roster = remove(c.roster, id)
}

func (c *Coordinator) removeConnected(id string) {
	c.connected = remove(c.connected, id)
}

func displayName(link *peerLink, id string) string {
	if link.name != "" {
		return link.name
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
