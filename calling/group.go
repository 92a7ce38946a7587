/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// ParticipantInfo is a group call member and its presence
type ParticipantInfo struct {
	ID          string
	DisplayName string
	Role        Role
	Presence    Presence
}

// ActiveParticipant is a member with live media
type ActiveParticipant struct {
	ID              string
	IsLocal         bool
	Stream          *LocalStream
	Tracks          []RemoteTrack
	IsMuted         bool
	IsVideoEnabled  bool
	IsScreenSharing bool
}

// GroupCall is a mesh group call: one PeerEntry per joined remote
// participant. A PeerEntry exists exactly while its participant is joined.
// Losing one link removes only that participant.
type GroupCall struct {
	Emitter *EventEmitter
	d       *deps

	mu             sync.Mutex
	id             string
	attendanceID   string
	conversationID string
	callType       CallType
	isHost         bool
	state          GroupState
	participants   map[string]*ParticipantInfo
	active         map[string]*ActiveParticipant
	peers          map[string]*PeerEntry
	negotiation    map[string]*clock.Timer
	focused        string
	stream         *LocalStream
	iceServers     []webrtc.ICEServer
	audioMuted     bool
	videoEnabled   bool
	screenSharing  bool
	status         CallStatus
	reason         string
	startedAt      time.Time
	endedAt        time.Time

	onEnded func(*GroupCall)
}

func newGroupCall(d *deps, state GroupState, groupCallID string, callType CallType, onEnded func(*GroupCall)) *GroupCall {
	return &GroupCall{
		Emitter:      NewEventEmitter(),
		d:            d,
		id:           groupCallID,
		attendanceID: uuid.NewString(),
		callType:     callType,
		state:        state,
		participants: make(map[string]*ParticipantInfo),
		active:       make(map[string]*ActiveParticipant),
		peers:        make(map[string]*PeerEntry),
		negotiation:  make(map[string]*clock.Timer),
		videoEnabled: callType == CallTypeVideo,
		onEnded:      onEnded,
	}
}

func (g *GroupCall) log() logrus.FieldLogger {
	g.mu.Lock()
	id := g.id
	g.mu.Unlock()
	return g.d.logger.WithField("group_call_id", id)
}

// ---- Accessors ----

func (g *GroupCall) ID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}

// Key implements ActiveCall
func (g *GroupCall) Key() string { return g.ID() }

// IsGroupCall implements ActiveCall
func (g *GroupCall) IsGroupCall() bool { return true }

func (g *GroupCall) ConversationID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conversationID
}

func (g *GroupCall) IsHost() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isHost
}

func (g *GroupCall) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *GroupCall) Ended() bool { return g.State() == GroupStateEnded }

// Status returns the final status; empty until ended
func (g *GroupCall) Status() CallStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *GroupCall) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Duration is the time from setup to teardown, or 0 before the call ended
func (g *GroupCall) Duration() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.endedAt.IsZero() {
		return 0
	}
	return g.endedAt.Sub(g.startedAt)
}

func (g *GroupCall) CallType() CallType { return g.callType }

// FocusedParticipantID returns the spotlighted participant, or ""
func (g *GroupCall) FocusedParticipantID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.focused
}

// Participants returns every known member sorted by ID
func (g *GroupCall) Participants() []ParticipantInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ParticipantInfo, 0, len(g.participants))
	for _, p := range g.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveParticipants returns a snapshot of members with live media, local
// user included.
func (g *GroupCall) ActiveParticipants() map[string]ActiveParticipant {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]ActiveParticipant, len(g.active))
	for id, a := range g.active {
		cp := *a
		cp.Tracks = append([]RemoteTrack(nil), a.Tracks...)
		out[id] = cp
	}
	return out
}

// PeerIDs returns the remote participants with an open peer entry
func (g *GroupCall) PeerIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.peers))
	for id := range g.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Peer returns the entry for a remote participant, or nil
func (g *GroupCall) Peer(id string) *PeerEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peers[id]
}

func (g *GroupCall) LocalStream() *LocalStream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stream
}

// ---- Setup ----

func (g *GroupCall) acquireMedia(ctx context.Context, op string) (*LocalStream, error) {
	stream, err := g.d.media.GetLocalStream(ctx, constraintsFor(g.callType))
	if err != nil {
		e := newError(ErrMediaAcquisitionFailed, op, g.ID(), err)
		g.teardown(CallStatusFailed, "media_unavailable", e)
		return nil, e
	}
	return stream, nil
}

// CreateAndConnect creates a group call in a conversation with the local
// user as host. Remote members join later and offer toward the host.
func (g *GroupCall) CreateAndConnect(ctx context.Context, conversationID string) error {
	g.mu.Lock()
	if g.state != GroupStateOutgoing || g.id != "" {
		g.mu.Unlock()
		return newError(ErrInvalidState, "create group call", "", fmt.Errorf("group call already started"))
	}
	g.conversationID = conversationID
	g.startedAt = g.d.clock.Now()
	g.mu.Unlock()

	g.d.metrics.callStarted(true, CallDirectionOutgoing)

	stream, err := g.acquireMedia(ctx, "create group call")
	if err != nil {
		return err
	}
	iceServers := g.d.iceServers(ctx)

	record, err := g.d.backend.CreateGroupCall(ctx, conversationID, g.callType)
	if err != nil {
		stream.Stop()
		e := newError(ErrBackendUnavailable, "create group call", "", err)
		g.teardown(CallStatusFailed, "backend_unavailable", e)
		return e
	}

	g.mu.Lock()
	if g.state != GroupStateOutgoing {
		g.mu.Unlock()
		stream.Stop()
		// Ended while the backend was creating it; end the orphan
		if err := g.d.backend.EndGroupCall(ctx, record.ID); err != nil {
			g.d.logger.WithError(err).WithField("group_call_id", record.ID).Warn("Failed to end abandoned group call")
		}
		return staleError("create group call", record.ID, "group call ended during setup")
	}
	g.id = record.ID
	g.isHost = true
	g.iceServers = iceServers
	g.stream = stream
	g.applyRecordLocked(record)
	g.addLocalLocked(stream)
	g.state = GroupStateConnected
	g.mu.Unlock()

	g.log().Info("Group call created")
	g.d.report(CallLogEntry{
		CallID:       record.ID,
		Event:        LogGroupStarted,
		AttendanceID: g.attendanceID,
		Direction:    CallDirectionOutgoing,
		CallType:     g.callType,
		IsGroupCall:  true,
	})
	return nil
}

// Join registers as a joiner and offers to every member already joined,
// one offer per member.
func (g *GroupCall) Join(ctx context.Context) error {
	g.mu.Lock()
	if g.state != GroupStateIncoming {
		g.mu.Unlock()
		return newError(ErrInvalidState, "join group call", g.ID(), fmt.Errorf("group call already joined"))
	}
	groupCallID := g.id
	g.startedAt = g.d.clock.Now()
	g.mu.Unlock()

	g.d.metrics.callStarted(true, CallDirectionIncoming)

	stream, err := g.acquireMedia(ctx, "join group call")
	if err != nil {
		return err
	}
	iceServers := g.d.iceServers(ctx)

	record, err := g.d.backend.JoinGroupCall(ctx, groupCallID)
	if IsStaleEvent(err) {
		stream.Stop()
		g.teardown(CallStatusFailed, "already_ended", err)
		return err
	}
	if err != nil {
		stream.Stop()
		e := newError(ErrBackendUnavailable, "join group call", groupCallID, err)
		g.teardown(CallStatusFailed, "backend_unavailable", e)
		return e
	}

	joined := 0
	for _, p := range record.Participants {
		if p.ID != g.d.identity.UserID && p.Presence == PresenceJoined {
			joined++
		}
	}
	if limit := g.d.config.MaxGroupParticipants; limit > 0 && joined+1 > limit {
		stream.Stop()
		if err := g.d.backend.LeaveGroupCall(ctx, groupCallID); err != nil {
			g.log().WithError(err).Warn("Failed to leave full group call")
		}
		e := newError(ErrBusy, "join group call", groupCallID, fmt.Errorf("group call is full (%d participants)", joined))
		g.teardown(CallStatusFailed, "group_full", e)
		return e
	}

	g.mu.Lock()
	if g.state != GroupStateIncoming {
		g.mu.Unlock()
		stream.Stop()
		if err := g.d.backend.LeaveGroupCall(ctx, groupCallID); err != nil {
			g.log().WithError(err).Warn("Failed to leave abandoned group call")
		}
		return staleError("join group call", groupCallID, "group call ended during setup")
	}
	g.iceServers = iceServers
	g.stream = stream
	g.conversationID = record.ConversationID
	g.isHost = record.HostID == g.d.identity.UserID
	g.applyRecordLocked(record)
	g.addLocalLocked(stream)
	g.state = GroupStateConnected
	var targets []string
	for id, p := range g.participants {
		if id != g.d.identity.UserID && p.Presence == PresenceJoined {
			targets = append(targets, id)
		}
	}
	g.mu.Unlock()
	sort.Strings(targets)

	g.log().WithField("peers", len(targets)).Info("Joined group call")
	g.d.report(CallLogEntry{
		CallID:       groupCallID,
		Event:        LogGroupJoined,
		AttendanceID: g.attendanceID,
		Direction:    CallDirectionIncoming,
		CallType:     g.callType,
		IsGroupCall:  true,
	})

	for _, id := range targets {
		entry, err := g.ensurePeer(id, true)
		if err != nil {
			g.log().WithError(err).WithField("participant_id", id).Warn("Failed to open peer")
			continue
		}
		g.offerTo(ctx, id, entry)
	}
	return nil
}

func (g *GroupCall) applyRecordLocked(record *GroupCallRecord) {
	if g.conversationID == "" {
		g.conversationID = record.ConversationID
	}
	for _, p := range record.Participants {
		role := p.Role
		if role == "" {
			role = RoleParticipant
			if p.ID == record.HostID {
				role = RoleHost
			}
		}
		presence := p.Presence
		if presence == "" {
			presence = PresenceInvited
		}
		g.participants[p.ID] = &ParticipantInfo{ID: p.ID, DisplayName: p.DisplayName, Role: role, Presence: presence}
	}
	self := g.participants[g.d.identity.UserID]
	if self == nil {
		self = &ParticipantInfo{ID: g.d.identity.UserID, DisplayName: g.d.identity.DisplayName, Role: RoleParticipant}
		g.participants[self.ID] = self
	}
	if g.isHost {
		self.Role = RoleHost
	}
	self.Presence = PresenceJoined
}

func (g *GroupCall) addLocalLocked(stream *LocalStream) {
	g.active[g.d.identity.UserID] = &ActiveParticipant{
		ID:             g.d.identity.UserID,
		IsLocal:        true,
		Stream:         stream,
		IsMuted:        g.audioMuted,
		IsVideoEnabled: g.videoEnabled,
	}
}

// ---- Peers ----

// ensurePeer returns the entry for id, creating it when missing. The
// participant is marked joined whenever an entry exists. A participant
// marked left only gets a new entry when reopen is set, i.e. on an offer
// or a participant-joined event.
func (g *GroupCall) ensurePeer(id string, reopen bool) (*PeerEntry, error) {
	g.mu.Lock()
	if g.state != GroupStateConnected {
		g.mu.Unlock()
		return nil, staleError("open peer", g.ID(), "group call not connected")
	}
	if id == g.d.identity.UserID {
		g.mu.Unlock()
		return nil, fmt.Errorf("no peer entry for the local participant")
	}
	if entry := g.peers[id]; entry != nil {
		g.mu.Unlock()
		return entry, nil
	}
	if p := g.participants[id]; !reopen && p != nil && p.Presence == PresenceLeft {
		groupCallID := g.id
		g.mu.Unlock()
		g.d.metrics.staleEvent()
		return nil, staleError("open peer", groupCallID, "participant %s has left", id)
	}
	if limit := g.d.config.MaxGroupParticipants; limit > 0 && len(g.peers)+2 > limit {
		groupCallID := g.id
		g.mu.Unlock()
		return nil, newError(ErrBusy, "open peer", groupCallID, fmt.Errorf("mesh is full"))
	}
	iceServers, stream := g.iceServers, g.stream
	if len(iceServers) == 0 {
		iceServers = g.d.config.ICEServers
	}
	g.mu.Unlock()

	conn, err := g.d.factory.NewPeerConnection(iceServers)
	if err != nil {
		return nil, newError(ErrNegotiationFailed, "open peer", g.ID(), err)
	}
	entry := newPeerEntry(id, conn, peerHooks{
		onCandidate: g.onLocalCandidate,
		onState:     g.onPeerState,
		onTrack:     g.onRemoteTrack,
	}, g.d.logger)
	if err := entry.AttachStream(stream); err != nil {
		entry.Close()
		return nil, newError(ErrNegotiationFailed, "open peer", g.ID(), err)
	}

	g.mu.Lock()
	if g.state != GroupStateConnected {
		g.mu.Unlock()
		entry.Close()
		return nil, staleError("open peer", g.ID(), "group call ended")
	}
	if existing := g.peers[id]; existing != nil {
		g.mu.Unlock()
		entry.Close()
		return existing, nil
	}
	if p := g.participants[id]; !reopen && p != nil && p.Presence == PresenceLeft {
		g.mu.Unlock()
		entry.Close()
		g.d.metrics.staleEvent()
		return nil, staleError("open peer", g.ID(), "participant %s has left", id)
	}
	g.peers[id] = entry
	p := g.participants[id]
	if p == nil {
		p = &ParticipantInfo{ID: id, Role: RoleParticipant}
		g.participants[id] = p
	}
	p.Presence = PresenceJoined
	if timeout := g.d.config.NegotiationTimeout; timeout > 0 {
		g.negotiation[id] = g.d.clock.AfterFunc(timeout, func() { g.onPeerNegotiationTimeout(id, entry) })
	}
	g.mu.Unlock()

	g.d.metrics.peerOpened()
	return entry, nil
}

// removePeer closes the entry for id. When expect is set the entry is only
// removed if it is still the current one.
func (g *GroupCall) removePeer(id string, expect *PeerEntry, failed bool) bool {
	g.mu.Lock()
	entry := g.peers[id]
	if entry == nil || (expect != nil && entry != expect) {
		g.mu.Unlock()
		return false
	}
	delete(g.peers, id)
	delete(g.active, id)
	g.stopNegotiationLocked(id)
	if p := g.participants[id]; p != nil {
		p.Presence = PresenceLeft
	}
	focusCleared := g.focused == id
	if focusCleared {
		g.focused = ""
	}
	g.mu.Unlock()

	entry.Close()
	g.d.metrics.peerClosed(failed)
	g.log().WithFields(logrus.Fields{
		"participant_id": id,
		"failed":         failed,
	}).Info("Participant removed")

	if focusCleared {
		g.Emitter.Emit(string(GroupEventFocusChanged), "")
	}
	g.Emitter.Emit(string(GroupEventParticipantLeft), id)
	return true
}

func (g *GroupCall) offerTo(ctx context.Context, id string, entry *PeerEntry) {
	offer, err := entry.CreateOffer(ctx)
	if err != nil {
		g.log().WithError(err).WithField("participant_id", id).Warn("Failed to create offer")
		g.removePeer(id, entry, true)
		return
	}
	ev := signaling.Offer{
		GroupCallID: g.ID(),
		SenderID:    g.d.identity.UserID,
		RecipientID: id,
		SDP:         offer.SDP,
	}
	if err := g.d.send(ctx, "group offer", ev.GroupCallID, ev); err != nil {
		g.log().WithError(err).WithField("participant_id", id).Warn("Failed to send offer")
	}
}

func (g *GroupCall) onLocalCandidate(p *PeerEntry, c signaling.ICECandidate) {
	g.mu.Lock()
	if g.peers[p.RemoteID()] != p {
		g.mu.Unlock()
		return
	}
	ev := signaling.Candidate{
		GroupCallID: g.id,
		SenderID:    g.d.identity.UserID,
		RecipientID: p.RemoteID(),
		Candidate:   c,
	}
	g.mu.Unlock()

	if err := g.d.send(context.Background(), "group candidate", ev.GroupCallID, ev); err != nil {
		g.log().WithError(err).Debug("Failed to send ICE candidate")
	}
}

func (g *GroupCall) onPeerState(p *PeerEntry, state ConnectionState) {
	switch state {
	case ConnectionStateFailed, ConnectionStateDisconnected, ConnectionStateClosed:
		g.removePeer(p.RemoteID(), p, true)
	case ConnectionStateConnected:
		g.mu.Lock()
		if g.peers[p.RemoteID()] == p {
			g.stopNegotiationLocked(p.RemoteID())
		}
		g.mu.Unlock()
		g.log().WithField("participant_id", p.RemoteID()).Debug("Peer connected")
	default:
		g.log().WithFields(logrus.Fields{
			"participant_id": p.RemoteID(),
			"peer_state":     state,
		}).Debug("Peer connection state changed")
	}
}

func (g *GroupCall) stopNegotiationLocked(id string) {
	if t := g.negotiation[id]; t != nil {
		t.Stop()
		delete(g.negotiation, id)
	}
}

// onPeerNegotiationTimeout drops a link that never connected, as if the
// participant had left.
func (g *GroupCall) onPeerNegotiationTimeout(id string, entry *PeerEntry) {
	g.mu.Lock()
	current := g.peers[id] == entry && g.negotiation[id] != nil
	g.mu.Unlock()
	if !current || entry.State() == ConnectionStateConnected {
		return
	}
	g.log().WithFields(logrus.Fields{
		"participant_id": id,
		"timeout":        g.d.config.NegotiationTimeout,
	}).Warn("Peer did not connect in time")
	g.removePeer(id, entry, true)
}

func (g *GroupCall) onRemoteTrack(p *PeerEntry, t RemoteTrack) {
	id := p.RemoteID()
	g.mu.Lock()
	if g.peers[id] != p {
		g.mu.Unlock()
		return
	}
	a := g.active[id]
	if a == nil {
		a = &ActiveParticipant{ID: id}
		g.active[id] = a
	}
	a.Tracks = append(a.Tracks, t)
	if t.Kind() == TrackKindVideo {
		a.IsVideoEnabled = true
	}
	g.mu.Unlock()

	g.Emitter.Emit(string(GroupEventParticipantUpdated), id)
}

// ---- Inbound signaling ----

// current reports whether an event for groupCallID applies to this call
func (g *GroupCall) current(op, groupCallID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if groupCallID != g.id || g.state != GroupStateConnected {
		g.d.metrics.staleEvent()
		return staleError(op, groupCallID, "group call %s is %s", g.id, g.state)
	}
	return nil
}

// OnParticipantJoined prepares an entry for a new member. The joiner sends
// the offer; this side only answers.
func (g *GroupCall) OnParticipantJoined(ev signaling.ParticipantJoined) error {
	if err := g.current("participant joined", ev.GroupCallID); err != nil {
		return err
	}
	if ev.Participant.ID == g.d.identity.UserID {
		return nil
	}

	g.mu.Lock()
	p := g.participants[ev.Participant.ID]
	if p == nil {
		p = &ParticipantInfo{ID: ev.Participant.ID, Role: RoleParticipant}
		g.participants[p.ID] = p
	}
	if ev.Participant.DisplayName != "" {
		p.DisplayName = ev.Participant.DisplayName
	}
	if ev.Participant.Role != "" {
		p.Role = Role(ev.Participant.Role)
	}
	g.mu.Unlock()

	if _, err := g.ensurePeer(ev.Participant.ID, true); err != nil {
		return err
	}
	g.Emitter.Emit(string(GroupEventParticipantJoined), ev.Participant.ID)
	return nil
}

// OnParticipantLeft closes the member's entry
func (g *GroupCall) OnParticipantLeft(ev signaling.ParticipantLeft) error {
	if err := g.current("participant left", ev.GroupCallID); err != nil {
		return err
	}
	if !g.removePeer(ev.Participant.ID, nil, false) {
		g.mu.Lock()
		if p := g.participants[ev.Participant.ID]; p != nil {
			p.Presence = PresenceLeft
		}
		g.mu.Unlock()
	}
	return nil
}

func (g *GroupCall) addressed(op string, groupCallID, recipientID string) error {
	if err := g.current(op, groupCallID); err != nil {
		return err
	}
	if recipientID != "" && recipientID != g.d.identity.UserID {
		return staleError(op, groupCallID, "addressed to %s", recipientID)
	}
	return nil
}

// OnRemoteOffer answers a member's offer, creating its entry if the offer
// beat the participant-joined event.
func (g *GroupCall) OnRemoteOffer(ctx context.Context, ev signaling.Offer) error {
	if err := g.addressed("group offer", ev.GroupCallID, ev.RecipientID); err != nil {
		return err
	}
	entry, err := g.ensurePeer(ev.SenderID, true)
	if err != nil {
		return err
	}

	if err := entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "offer", SDP: ev.SDP}); err != nil {
		g.removePeer(ev.SenderID, entry, true)
		return newError(ErrNegotiationFailed, "group offer", ev.GroupCallID, err)
	}
	answer, err := entry.CreateAnswer(ctx)
	if err != nil {
		g.removePeer(ev.SenderID, entry, true)
		return newError(ErrNegotiationFailed, "group offer", ev.GroupCallID, err)
	}

	reply := signaling.Answer{
		GroupCallID: ev.GroupCallID,
		SenderID:    g.d.identity.UserID,
		RecipientID: ev.SenderID,
		SDP:         answer.SDP,
	}
	if err := g.d.send(ctx, "group answer", ev.GroupCallID, reply); err != nil {
		g.log().WithError(err).WithField("participant_id", ev.SenderID).Warn("Failed to send answer")
	}
	return nil
}

// OnRemoteAnswer applies a member's answer to our offer
func (g *GroupCall) OnRemoteAnswer(ev signaling.Answer) error {
	if err := g.addressed("group answer", ev.GroupCallID, ev.RecipientID); err != nil {
		return err
	}
	entry := g.Peer(ev.SenderID)
	if entry == nil {
		g.d.metrics.staleEvent()
		return staleError("group answer", ev.GroupCallID, "no peer %s", ev.SenderID)
	}
	if err := entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "answer", SDP: ev.SDP}); err != nil {
		g.removePeer(ev.SenderID, entry, true)
		return newError(ErrNegotiationFailed, "group answer", ev.GroupCallID, err)
	}
	return nil
}

// OnRemoteIceCandidate routes a candidate to the sender's entry, creating
// it so the candidate is queued rather than lost. Candidates from a member
// that left, or whose link was dropped, are stale until it offers again.
func (g *GroupCall) OnRemoteIceCandidate(ev signaling.Candidate) error {
	if err := g.addressed("group candidate", ev.GroupCallID, ev.RecipientID); err != nil {
		return err
	}
	entry, err := g.ensurePeer(ev.SenderID, false)
	if err != nil {
		return err
	}
	if err := entry.AddRemoteCandidate(ev.Candidate); err != nil {
		g.log().WithError(err).WithField("participant_id", ev.SenderID).Warn("Failed to add ICE candidate")
	}
	return nil
}

// OnScreenShareStarted focuses the sharing participant
func (g *GroupCall) OnScreenShareStarted(ev signaling.ScreenShareStarted) error {
	if err := g.current("screen share started", ev.GroupCallID); err != nil {
		return err
	}
	g.mu.Lock()
	g.focused = ev.ParticipantID
	if a := g.active[ev.ParticipantID]; a != nil {
		a.IsScreenSharing = true
	}
	g.mu.Unlock()
	g.Emitter.Emit(string(GroupEventFocusChanged), ev.ParticipantID)
	return nil
}

// OnScreenShareStopped clears focus only if it was on the same participant
func (g *GroupCall) OnScreenShareStopped(ev signaling.ScreenShareStopped) error {
	if err := g.current("screen share stopped", ev.GroupCallID); err != nil {
		return err
	}
	g.mu.Lock()
	if a := g.active[ev.ParticipantID]; a != nil {
		a.IsScreenSharing = false
	}
	cleared := g.focused == ev.ParticipantID
	if cleared {
		g.focused = ""
	}
	g.mu.Unlock()
	if cleared {
		g.Emitter.Emit(string(GroupEventFocusChanged), "")
	}
	return nil
}

// OnMediaState records a member's mute and camera flags
func (g *GroupCall) OnMediaState(ev signaling.MediaState) error {
	if err := g.current("media state", ev.GroupCallID); err != nil {
		return err
	}
	g.mu.Lock()
	a := g.active[ev.SenderID]
	if a == nil || a.IsLocal {
		g.mu.Unlock()
		return nil
	}
	a.IsMuted = ev.AudioMuted
	a.IsVideoEnabled = ev.VideoEnabled
	g.mu.Unlock()
	g.Emitter.Emit(string(GroupEventParticipantUpdated), ev.SenderID)
	return nil
}

// OnGroupCallEnded tears the call down after the host ended it
func (g *GroupCall) OnGroupCallEnded(ev signaling.GroupCallEnded) error {
	g.mu.Lock()
	if ev.GroupCallID != g.id || g.state == GroupStateEnded {
		g.mu.Unlock()
		g.d.metrics.staleEvent()
		return staleError("group call ended", ev.GroupCallID, "no live group call")
	}
	g.mu.Unlock()
	g.teardown(CallStatusCompleted, "ended_by_host", nil)
	return nil
}

// ---- Local controls ----

func (g *GroupCall) broadcastMediaState(ctx context.Context) {
	g.mu.Lock()
	if g.state != GroupStateConnected {
		g.mu.Unlock()
		return
	}
	ev := signaling.MediaState{
		GroupCallID:  g.id,
		SenderID:     g.d.identity.UserID,
		AudioMuted:   g.audioMuted,
		VideoEnabled: g.videoEnabled,
	}
	g.mu.Unlock()
	if err := g.d.send(ctx, "media state", ev.GroupCallID, ev); err != nil {
		g.log().WithError(err).Debug("Failed to broadcast media state")
	}
}

// ToggleLocalAudio mutes or unmutes the microphone on every link and
// returns the new muted flag.
func (g *GroupCall) ToggleLocalAudio(ctx context.Context) bool {
	g.mu.Lock()
	g.audioMuted = !g.audioMuted
	muted := g.audioMuted
	if g.stream != nil {
		if t := g.stream.Track(TrackKindAudio); t != nil {
			t.SetEnabled(!muted)
		}
	}
	if self := g.active[g.d.identity.UserID]; self != nil {
		self.IsMuted = muted
	}
	g.mu.Unlock()

	g.broadcastMediaState(ctx)
	return muted
}

// ToggleLocalVideo turns the camera on or off. The first time video is
// enabled in an audio call a track is captured and attached to every
// entry; entries that needed a new sender are renegotiated one by one.
func (g *GroupCall) ToggleLocalVideo(ctx context.Context) (bool, error) {
	g.mu.Lock()
	if g.state != GroupStateConnected || g.stream == nil {
		g.mu.Unlock()
		return false, newError(ErrInvalidState, "toggle video", g.id, fmt.Errorf("group call not connected"))
	}
	stream := g.stream
	enable := !g.videoEnabled
	if existing := stream.Track(TrackKindVideo); existing != nil || !enable {
		if existing != nil {
			existing.SetEnabled(enable)
		}
		g.videoEnabled = enable
		if self := g.active[g.d.identity.UserID]; self != nil {
			self.IsVideoEnabled = enable
		}
		g.mu.Unlock()
		g.broadcastMediaState(ctx)
		return enable, nil
	}
	g.mu.Unlock()

	video, err := g.d.media.GetLocalStream(ctx, MediaConstraints{Video: true})
	if err != nil {
		return false, newError(ErrMediaAcquisitionFailed, "toggle video", g.ID(), err)
	}
	track := video.Track(TrackKindVideo)
	if track == nil {
		video.Stop()
		return false, newError(ErrMediaAcquisitionFailed, "toggle video", g.ID(), fmt.Errorf("no video track"))
	}

	g.mu.Lock()
	if g.state != GroupStateConnected || g.stream != stream {
		g.mu.Unlock()
		video.Stop()
		return false, staleError("toggle video", g.ID(), "group call ended while acquiring video")
	}
	stream.AddTrack(track)
	g.videoEnabled = true
	if self := g.active[g.d.identity.UserID]; self != nil {
		self.IsVideoEnabled = true
	}
	peers := make(map[string]*PeerEntry, len(g.peers))
	for id, p := range g.peers {
		peers[id] = p
	}
	g.mu.Unlock()

	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entry := peers[id]
		added, err := entry.AttachTrack(track)
		if err != nil {
			g.log().WithError(err).WithField("participant_id", id).Warn("Failed to attach video")
			continue
		}
		if added {
			g.offerTo(ctx, id, entry)
		}
	}

	g.broadcastMediaState(ctx)
	return true, nil
}

// SetScreenSharing announces that the local user started or stopped
// sharing their screen. Sharing focuses the local participant.
func (g *GroupCall) SetScreenSharing(ctx context.Context, on bool) error {
	g.mu.Lock()
	if g.state != GroupStateConnected {
		g.mu.Unlock()
		return newError(ErrInvalidState, "screen share", g.id, fmt.Errorf("group call not connected"))
	}
	if g.screenSharing == on {
		g.mu.Unlock()
		return nil
	}
	self := g.d.identity.UserID
	g.screenSharing = on
	if a := g.active[self]; a != nil {
		a.IsScreenSharing = on
	}
	focusChanged := false
	if on {
		focusChanged = g.focused != self
		g.focused = self
	} else if g.focused == self {
		g.focused = ""
		focusChanged = true
	}
	focused, groupCallID := g.focused, g.id
	g.mu.Unlock()

	if focusChanged {
		g.Emitter.Emit(string(GroupEventFocusChanged), focused)
	}

	var ev signaling.Event = signaling.ScreenShareStopped{GroupCallID: groupCallID, ParticipantID: self}
	if on {
		ev = signaling.ScreenShareStarted{GroupCallID: groupCallID, ParticipantID: self}
	}
	return g.d.send(ctx, "screen share", groupCallID, ev)
}

// ---- Termination ----

// EndOrLeave ends the call for everyone when the local user is host,
// otherwise leaves it.
func (g *GroupCall) EndOrLeave(ctx context.Context) error {
	g.mu.Lock()
	if g.state == GroupStateEnded {
		groupCallID := g.id
		g.mu.Unlock()
		return staleError("end group call", groupCallID, "group call already ended")
	}
	if g.state != GroupStateConnected {
		g.mu.Unlock()
		g.teardown(CallStatusCompleted, "cancelled", nil)
		return nil
	}
	groupCallID, isHost := g.id, g.isHost
	var others []string
	for id, p := range g.participants {
		if id != g.d.identity.UserID && p.Presence != PresenceLeft {
			others = append(others, id)
		}
	}
	g.mu.Unlock()
	sort.Strings(others)

	if !isHost {
		if err := g.d.backend.LeaveGroupCall(ctx, groupCallID); IsStaleEvent(err) {
			g.log().WithError(err).Debug("Group call already over on backend")
		} else if err != nil {
			g.log().WithError(err).Warn("Failed to leave group call on backend")
		}
		g.teardown(CallStatusCompleted, "left", nil)
		return nil
	}

	if err := g.d.backend.EndGroupCall(ctx, groupCallID); IsStaleEvent(err) {
		g.log().WithError(err).Debug("Group call already over on backend")
	} else if err != nil {
		g.log().WithError(err).Warn("Failed to end group call on backend")
	}
	for _, id := range others {
		ev := signaling.GroupCallEnded{
			GroupCallID: groupCallID,
			SenderID:    g.d.identity.UserID,
			RecipientID: id,
		}
		if err := g.d.send(ctx, "group call ended", groupCallID, ev); err != nil {
			g.log().WithError(err).WithField("participant_id", id).Warn("Failed to send group call end")
		}
	}
	g.teardown(CallStatusCompleted, "ended", nil)
	return nil
}

// teardown closes every entry and stops local media. It runs once.
func (g *GroupCall) teardown(status CallStatus, reason string, cause error) bool {
	g.mu.Lock()
	if g.state == GroupStateEnded {
		g.mu.Unlock()
		return false
	}
	g.state = GroupStateEnded
	g.status, g.reason = status, reason
	g.endedAt = g.d.clock.Now()
	if g.startedAt.IsZero() {
		g.startedAt = g.endedAt
	}
	peers := g.peers
	g.peers = make(map[string]*PeerEntry)
	for id := range g.negotiation {
		g.stopNegotiationLocked(id)
	}
	stream := g.stream
	g.active = make(map[string]*ActiveParticipant)
	g.focused = ""
	groupCallID, isHost := g.id, g.isHost
	duration := g.endedAt.Sub(g.startedAt)
	if self := g.participants[g.d.identity.UserID]; self != nil {
		self.Presence = PresenceLeft
	}
	g.mu.Unlock()

	for _, entry := range peers {
		entry.Close()
		g.d.metrics.peerClosed(false)
	}
	if stream != nil {
		stream.Stop()
	}

	g.d.metrics.callEnded(true, status)
	event := LogGroupLeft
	if isHost || reason == "ended_by_host" {
		event = LogGroupEnded
	}
	if groupCallID != "" {
		g.d.report(CallLogEntry{
			CallID:       groupCallID,
			Event:        event,
			AttendanceID: g.attendanceID,
			CallType:     g.callType,
			Status:       status,
			Reason:       reason,
			Duration:     duration,
			IsGroupCall:  true,
		})
	}
	g.d.logger.WithFields(logrus.Fields{
		"group_call_id": groupCallID,
		"reason":        reason,
	}).Info("Group call ended")

	if cause != nil {
		g.Emitter.Emit(string(GroupEventError), cause)
	}
	g.Emitter.Emit(string(GroupEventEnded), CallSummary{CallID: groupCallID, Status: status, Reason: reason, Duration: duration})
	if g.onEnded != nil {
		g.onEnded(g)
	}
	return true
}
