/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// Session is a one-to-one call.
//
// State moves idle -> initiating -> ringing -> connecting -> ongoing ->
// ended for outgoing calls. Incoming calls start in connecting. Any
// non-idle state may move straight to ended. Events carrying another
// callId, or arriving after ended, are dropped as stale.
type Session struct {
	Emitter *EventEmitter
	d       *deps

	mu           sync.Mutex
	id           string
	direction    CallDirection
	callType     CallType
	peer         Peer
	peerDeviceID string
	state        CallState
	status       CallStatus
	reason       string
	iceServers   []webrtc.ICEServer

	stream       *LocalStream
	entry        *PeerEntry
	early        []signaling.ICECandidate
	remoteTracks []RemoteTrack
	audioMuted   bool
	videoEnabled bool

	answerTimer      *clock.Timer
	negotiationTimer *clock.Timer

	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	onEnded func(*Session)
}

// endOutcome describes how a session ends. An empty status is derived from
// whether the call ever connected.
type endOutcome struct {
	status CallStatus
	reason string
	notify bool
	err    error
}

func newOutgoingSession(d *deps, peer Peer, callType CallType, onEnded func(*Session)) *Session {
	return &Session{
		Emitter:      NewEventEmitter(),
		d:            d,
		direction:    CallDirectionOutgoing,
		callType:     callType,
		peer:         peer,
		state:        CallStateIdle,
		videoEnabled: callType == CallTypeVideo,
		onEnded:      onEnded,
	}
}

func newIncomingSession(d *deps, inc *IncomingCall, onEnded func(*Session)) *Session {
	return &Session{
		Emitter:      NewEventEmitter(),
		d:            d,
		id:           inc.CallID,
		direction:    CallDirectionIncoming,
		callType:     inc.CallType,
		peer:         Peer{ID: inc.CallerID, DisplayName: inc.CallerName},
		peerDeviceID: inc.CallerDeviceID,
		state:        CallStateIdle,
		videoEnabled: inc.CallType == CallTypeVideo,
		onEnded:      onEnded,
	}
}

func constraintsFor(callType CallType) MediaConstraints {
	return MediaConstraints{Audio: true, Video: callType == CallTypeVideo}
}

func (s *Session) log(id string) logrus.FieldLogger {
	return s.d.logger.WithFields(logrus.Fields{
		"call_id":   id,
		"direction": s.direction,
	})
}

// ---- Accessors ----

// ID returns the backend-assigned call ID (empty until initiation succeeds)
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Key implements ActiveCall
func (s *Session) Key() string { return s.ID() }

// IsGroupCall implements ActiveCall
func (s *Session) IsGroupCall() bool { return false }

func (s *Session) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the final status; empty until ended
func (s *Session) Status() CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) Ended() bool { return s.State() == CallStateEnded }

func (s *Session) Direction() CallDirection { return s.direction }

func (s *Session) CallType() CallType { return s.callType }

func (s *Session) Peer() Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// PeerDeviceID returns the remote device the call is routed to
func (s *Session) PeerDeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerDeviceID
}

// Duration is endedAt - connectedAt, or 0 when the call never connected or
// has not ended.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *Session) durationLocked() time.Duration {
	if s.connectedAt.IsZero() || s.endedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.connectedAt)
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) ConnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// LocalStream returns the captured local stream, or nil
func (s *Session) LocalStream() *LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// RemoteTracks returns the tracks received so far
func (s *Session) RemoteTracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RemoteTrack, len(s.remoteTracks))
	copy(out, s.remoteTracks)
	return out
}

// PeerEntry returns the session's peer connection entry, or nil
func (s *Session) PeerEntry() *PeerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

func (s *Session) IsAudioMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioMuted
}

func (s *Session) IsVideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnabled
}

func (s *Session) emitState(state CallState) {
	s.Emitter.Emit(string(CallEventState), state)
}

// ---- Outgoing ----

// Initiate places the call: it captures local media, creates the call
// record, starts ringing and sends the invite. Failures end the session
// with status failed.
func (s *Session) Initiate(ctx context.Context) error {
	s.mu.Lock()
	if s.state != CallStateIdle {
		state := s.state
		s.mu.Unlock()
		return newError(ErrInvalidState, "initiate", "", fmt.Errorf("session is %s", state))
	}
	s.state = CallStateInitiating
	s.startedAt = s.d.clock.Now()
	s.mu.Unlock()

	s.d.metrics.callStarted(false, CallDirectionOutgoing)
	s.emitState(CallStateInitiating)

	stream, err := s.d.media.GetLocalStream(ctx, constraintsFor(s.callType))
	if err != nil {
		e := newError(ErrMediaAcquisitionFailed, "initiate", "", err)
		s.end(nil, endOutcome{status: CallStatusFailed, reason: "media_unavailable", err: e})
		return e
	}
	if !s.adoptStream(stream) {
		return staleError("initiate", "", "call ended while acquiring media")
	}

	iceServers := s.d.iceServers(ctx)

	record, err := s.d.backend.CreateCall(ctx, &CreateCallRequest{
		CalleeID:       s.peer.ID,
		CallType:       s.callType,
		CallerDeviceID: s.d.identity.DeviceID,
		TargetDeviceID: s.PeerDeviceID(),
	})
	if err != nil {
		e := newError(ErrBackendUnavailable, "initiate", "", err)
		s.end(nil, endOutcome{status: CallStatusFailed, reason: "backend_unavailable", err: e})
		return e
	}

	s.mu.Lock()
	if s.state != CallStateInitiating {
		status, reason := s.status, s.reason
		s.mu.Unlock()
		// Close the record the backend just created
		s.d.report(CallLogEntry{
			CallID:    record.ID,
			Event:     LogCallEnded,
			Direction: CallDirectionOutgoing,
			CallType:  s.callType,
			PeerID:    s.peer.ID,
			Status:    status,
			Reason:    reason,
		})
		return staleError("initiate", record.ID, "call ended while creating the call record")
	}
	s.id = record.ID
	s.iceServers = iceServers
	if record.TargetDeviceID != "" {
		s.peerDeviceID = record.TargetDeviceID
	}
	if record.Callee != nil && s.peer.DisplayName == "" {
		s.peer.DisplayName = record.Callee.DisplayName
		s.peer.AvatarURL = record.Callee.AvatarURL
	}
	s.state = CallStateRinging
	callID := s.id
	s.answerTimer = s.d.clock.AfterFunc(s.d.config.AnswerTimeout, func() { s.onAnswerTimeout(callID) })
	invite := signaling.Invite{
		CallID:         callID,
		CallerID:       s.d.identity.UserID,
		CallerName:     s.d.identity.DisplayName,
		CallerDeviceID: s.d.identity.DeviceID,
		CalleeID:       s.peer.ID,
		CallType:       string(s.callType),
		TargetDeviceID: s.peerDeviceID,
	}
	s.mu.Unlock()

	s.emitState(CallStateRinging)
	s.d.report(CallLogEntry{
		CallID:    callID,
		Event:     LogCallStarted,
		Direction: CallDirectionOutgoing,
		CallType:  s.callType,
		PeerID:    s.peer.ID,
	})

	// A lost invite is resolved by the answer timeout
	if err := s.d.send(ctx, "invite", callID, invite); err != nil {
		s.log(callID).WithError(err).Warn("Failed to send invite")
	}
	return nil
}

// adoptStream hands stream to the session. It reports false, and stops the
// stream, when the session ended in the meantime.
func (s *Session) adoptStream(stream *LocalStream) bool {
	s.mu.Lock()
	if s.state == CallStateEnded {
		s.mu.Unlock()
		stream.Stop()
		return false
	}
	s.stream = stream
	if t := stream.Track(TrackKindAudio); t != nil {
		t.SetEnabled(!s.audioMuted)
	}
	s.mu.Unlock()
	return true
}

// HandleRemoteAccept moves a ringing call to connecting and starts
// negotiation with the accepting device.
func (s *Session) HandleRemoteAccept(ctx context.Context, ev signaling.Accept) error {
	s.mu.Lock()
	if ev.CallID != s.id || s.state != CallStateRinging {
		id, state := s.id, s.state
		s.mu.Unlock()
		s.d.metrics.staleEvent()
		return staleError("accept", ev.CallID, "session %s is %s", id, state)
	}
	stopTimer(s.answerTimer)
	s.answerTimer = nil
	s.state = CallStateConnecting
	if ev.DeviceID != "" {
		s.peerDeviceID = ev.DeviceID
	}
	callID := s.id
	s.negotiationTimer = s.d.clock.AfterFunc(s.d.config.NegotiationTimeout, func() { s.onNegotiationTimeout(callID) })
	s.mu.Unlock()

	s.emitState(CallStateConnecting)

	entry, err := s.openEntry()
	if err != nil {
		return s.failNegotiation("accept", callID, err)
	}

	if ev.SDP != nil && ev.SDP.Type == "offer" {
		return s.answerOffer(ctx, entry, callID, *ev.SDP)
	}
	if ev.SDP != nil {
		s.log(callID).Debug("Accept carries an answer without a local offer, sending a fresh offer")
	}
	return s.sendOffer(ctx, entry, callID)
}

// ---- Incoming ----

// acceptIncoming runs the callee side after the registry accepted the call.
// The session skips ringing and starts in connecting.
func (s *Session) acceptIncoming(ctx context.Context, offer *signaling.SessionDescription) error {
	s.mu.Lock()
	if s.state != CallStateIdle {
		s.mu.Unlock()
		return newError(ErrInvalidState, "accept incoming", s.id, fmt.Errorf("session already started"))
	}
	callID := s.id
	s.state = CallStateConnecting
	s.startedAt = s.d.clock.Now()
	s.negotiationTimer = s.d.clock.AfterFunc(s.d.config.NegotiationTimeout, func() { s.onNegotiationTimeout(callID) })
	s.mu.Unlock()

	s.d.metrics.callStarted(false, CallDirectionIncoming)
	s.emitState(CallStateConnecting)

	stream, err := s.d.media.GetLocalStream(ctx, constraintsFor(s.callType))
	if err != nil {
		e := newError(ErrMediaAcquisitionFailed, "accept incoming", callID, err)
		s.end(nil, endOutcome{status: CallStatusFailed, reason: "media_unavailable", notify: true, err: e})
		return e
	}
	if !s.adoptStream(stream) {
		return staleError("accept incoming", callID, "call ended while acquiring media")
	}

	iceServers := s.d.iceServers(ctx)
	s.mu.Lock()
	s.iceServers = iceServers
	s.mu.Unlock()

	entry, err := s.openEntry()
	if err != nil {
		return s.failNegotiation("accept incoming", callID, err)
	}

	accept := signaling.Accept{
		CallID:   callID,
		CalleeID: s.d.identity.UserID,
		DeviceID: s.d.identity.DeviceID,
	}
	if offer != nil {
		answer, err := s.applyAndAnswer(ctx, entry, *offer)
		if err != nil {
			return s.failNegotiation("accept incoming", callID, err)
		}
		accept.SDP = &answer
	}

	if err := s.d.send(ctx, "accept", callID, accept); err != nil {
		s.end(nil, endOutcome{status: CallStatusFailed, reason: "signaling_unavailable", err: err})
		return err
	}
	return nil
}

// ---- Negotiation ----

// openEntry creates the session's single PeerEntry, attaches the local
// stream and replays candidates that arrived before it existed.
func (s *Session) openEntry() (*PeerEntry, error) {
	s.mu.Lock()
	iceServers := s.iceServers
	if len(iceServers) == 0 {
		iceServers = s.d.config.ICEServers
	}
	stream := s.stream
	s.mu.Unlock()

	conn, err := s.d.factory.NewPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}
	entry := newPeerEntry(s.peer.ID, conn, peerHooks{
		onCandidate: s.onLocalCandidate,
		onState:     s.onPeerState,
		onTrack:     s.onRemoteTrack,
	}, s.d.logger)

	if err := entry.AttachStream(stream); err != nil {
		entry.Close()
		return nil, err
	}

	s.mu.Lock()
	if s.state == CallStateEnded || s.entry != nil {
		callID := s.id
		s.mu.Unlock()
		entry.Close()
		return nil, staleError("open peer", callID, "session no longer negotiating")
	}
	s.entry = entry
	early := s.early
	s.early = nil
	// The remote description cannot be set yet, so these only queue
	for _, c := range early {
		_ = entry.AddRemoteCandidate(c)
	}
	s.mu.Unlock()

	s.d.metrics.peerOpened()
	return entry, nil
}

func (s *Session) sendOffer(ctx context.Context, entry *PeerEntry, callID string) error {
	offer, err := entry.CreateOffer(ctx)
	if err != nil {
		return s.failNegotiation("offer", callID, err)
	}
	ev := signaling.Offer{
		CallID:      callID,
		SenderID:    s.d.identity.UserID,
		RecipientID: s.peer.ID,
		SDP:         offer.SDP,
	}
	// A lost offer is resolved by the negotiation timeout
	if err := s.d.send(ctx, "offer", callID, ev); err != nil {
		s.log(callID).WithError(err).Warn("Failed to send offer")
	}
	return nil
}

func (s *Session) applyAndAnswer(ctx context.Context, entry *PeerEntry, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	if err := entry.ApplyRemoteDescription(offer); err != nil {
		return signaling.SessionDescription{}, err
	}
	return entry.CreateAnswer(ctx)
}

func (s *Session) answerOffer(ctx context.Context, entry *PeerEntry, callID string, offer signaling.SessionDescription) error {
	answer, err := s.applyAndAnswer(ctx, entry, offer)
	if err != nil {
		return s.failNegotiation("answer", callID, err)
	}
	ev := signaling.Answer{
		CallID:      callID,
		SenderID:    s.d.identity.UserID,
		RecipientID: s.peer.ID,
		SDP:         answer.SDP,
	}
	if err := s.d.send(ctx, "answer", callID, ev); err != nil {
		s.log(callID).WithError(err).Warn("Failed to send answer")
	}
	return nil
}

func (s *Session) failNegotiation(op, callID string, err error) error {
	if IsStaleEvent(err) {
		return err
	}
	e := newError(ErrNegotiationFailed, op, callID, err)
	s.end(func() bool { return s.id == callID }, endOutcome{
		status: CallStatusFailed,
		reason: "negotiation_failed",
		notify: true,
		err:    e,
	})
	return e
}

// negotiating returns the entry when ev belongs to this live session
func (s *Session) negotiating(op, callID string) (*PeerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if callID != s.id || (s.state != CallStateConnecting && s.state != CallStateOngoing) || s.entry == nil {
		s.d.metrics.staleEvent()
		return nil, staleError(op, callID, "session %s is %s", s.id, s.state)
	}
	return s.entry, nil
}

// HandleRemoteOffer answers an offer from the peer, initial or renegotiation.
func (s *Session) HandleRemoteOffer(ctx context.Context, ev signaling.Offer) error {
	entry, err := s.negotiating("remote offer", ev.CallID)
	if err != nil {
		return err
	}
	return s.answerOffer(ctx, entry, ev.CallID, signaling.SessionDescription{Type: "offer", SDP: ev.SDP})
}

// HandleRemoteAnswer applies the peer's answer. Redelivered answers are ignored.
func (s *Session) HandleRemoteAnswer(ev signaling.Answer) error {
	entry, err := s.negotiating("remote answer", ev.CallID)
	if err != nil {
		return err
	}
	if err := entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "answer", SDP: ev.SDP}); err != nil {
		return s.failNegotiation("remote answer", ev.CallID, err)
	}
	return nil
}

// HandleRemoteCandidate applies a trickled candidate. Candidates that arrive
// before the peer entry exists are kept and replayed into it.
func (s *Session) HandleRemoteCandidate(ev signaling.Candidate) error {
	s.mu.Lock()
	if ev.CallID != s.id || s.state == CallStateEnded || s.state == CallStateIdle {
		s.mu.Unlock()
		s.d.metrics.staleEvent()
		return staleError("remote candidate", ev.CallID, "no live session")
	}
	entry := s.entry
	if entry == nil {
		s.early = append(s.early, ev.Candidate)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := entry.AddRemoteCandidate(ev.Candidate); err != nil {
		s.log(ev.CallID).WithError(err).Warn("Failed to add remote ICE candidate")
	}
	return nil
}

func (s *Session) onLocalCandidate(p *PeerEntry, c signaling.ICECandidate) {
	s.mu.Lock()
	if s.entry != p {
		s.mu.Unlock()
		return
	}
	ev := signaling.Candidate{
		CallID:      s.id,
		SenderID:    s.d.identity.UserID,
		RecipientID: s.peer.ID,
		Candidate:   c,
	}
	s.mu.Unlock()

	if err := s.d.send(context.Background(), "candidate", ev.CallID, ev); err != nil {
		s.log(ev.CallID).WithError(err).Debug("Failed to send ICE candidate")
	}
}

func (s *Session) onRemoteTrack(p *PeerEntry, t RemoteTrack) {
	s.mu.Lock()
	if s.entry != p {
		s.mu.Unlock()
		return
	}
	s.remoteTracks = append(s.remoteTracks, t)
	s.mu.Unlock()
	s.Emitter.Emit(string(CallEventRemoteTrack), t)
}

func (s *Session) onPeerState(p *PeerEntry, state ConnectionState) {
	s.mu.Lock()
	if s.entry != p {
		s.mu.Unlock()
		return
	}
	callID := s.id

	switch state {
	case ConnectionStateConnected:
		if s.state != CallStateConnecting {
			s.mu.Unlock()
			return
		}
		stopTimer(s.negotiationTimer)
		s.negotiationTimer = nil
		s.state = CallStateOngoing
		s.connectedAt = s.d.clock.Now()
		s.mu.Unlock()

		s.log(callID).Info("Call connected")
		s.emitState(CallStateOngoing)
		s.Emitter.Emit(string(CallEventConnected), nil)
		s.d.report(CallLogEntry{
			CallID:    callID,
			Event:     LogCallConnected,
			Direction: s.direction,
			CallType:  s.callType,
			PeerID:    s.peer.ID,
		})

	case ConnectionStateFailed, ConnectionStateClosed:
		s.mu.Unlock()
		e := newError(ErrNegotiationFailed, "peer connection", callID, fmt.Errorf("connection %s", state))
		s.end(func() bool { return s.entry == p }, endOutcome{
			status: CallStatusFailed,
			reason: "connection_" + string(state),
			notify: true,
			err:    e,
		})

	default:
		s.mu.Unlock()
		s.log(callID).WithField("peer_state", state).Debug("Peer connection state changed")
	}
}

// ---- Termination ----

// HandleRemoteReject ends a ringing or connecting call as rejected.
func (s *Session) HandleRemoteReject(ev signaling.Reject) error {
	if !s.end(func() bool {
		return ev.CallID == s.id && (s.state == CallStateRinging || s.state == CallStateConnecting)
	}, endOutcome{status: CallStatusRejected, reason: ev.Reason}) {
		s.d.metrics.staleEvent()
		return staleError("remote reject", ev.CallID, "no ringing session")
	}
	return nil
}

// HandleRemoteEnded ends the call after the peer or the server terminated
// it. Nothing is sent back.
func (s *Session) HandleRemoteEnded(callID, reason string) error {
	if reason == "" {
		reason = "remote_ended"
	}
	if !s.end(func() bool { return callID == s.id }, endOutcome{reason: reason}) {
		s.d.metrics.staleEvent()
		return staleError("remote end", callID, "no live session")
	}
	return nil
}

// Hangup ends the call locally and tells the peer. The status is completed
// if the call ever connected, otherwise missed.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == CallStateIdle {
		return newError(ErrInvalidState, "hangup", "", fmt.Errorf("call not started"))
	}
	if !s.end(nil, endOutcome{reason: "local_hangup", notify: true}) {
		return staleError("hangup", s.ID(), "call already ended")
	}
	return nil
}

func (s *Session) onAnswerTimeout(callID string) {
	ended := s.end(func() bool {
		return s.id == callID && s.state == CallStateRinging
	}, endOutcome{
		status: CallStatusMissed,
		reason: signaling.ReasonMissed,
		notify: true,
		err:    newError(ErrTimeout, "answer", callID, nil),
	})
	if ended {
		s.log(callID).Info("Call not answered")
	}
}

func (s *Session) onNegotiationTimeout(callID string) {
	s.end(func() bool {
		return s.id == callID && s.state == CallStateConnecting
	}, endOutcome{
		status: CallStatusFailed,
		reason: "negotiation_timeout",
		notify: true,
		err:    newError(ErrNegotiationFailed, "negotiation", callID, fmt.Errorf("not connected after %s", s.d.config.NegotiationTimeout)),
	})
}

// end moves the session to ended once. guard runs under the session lock;
// end is a no-op when it returns false or the session already ended.
func (s *Session) end(guard func() bool, o endOutcome) bool {
	s.mu.Lock()
	if s.state == CallStateEnded || s.state == CallStateIdle || (guard != nil && !guard()) {
		s.mu.Unlock()
		return false
	}

	status := o.status
	if status == "" {
		status = CallStatusMissed
		if !s.connectedAt.IsZero() {
			status = CallStatusCompleted
		}
	}
	s.state = CallStateEnded
	s.status = status
	s.reason = o.reason
	s.endedAt = s.d.clock.Now()
	stopTimer(s.answerTimer)
	stopTimer(s.negotiationTimer)
	s.answerTimer, s.negotiationTimer = nil, nil

	entry, stream := s.entry, s.stream
	s.entry, s.early = nil, nil
	callID := s.id
	summary := CallSummary{CallID: callID, Status: status, Reason: o.reason, Duration: s.durationLocked()}
	notify := o.notify && callID != ""
	ended := signaling.CallEnded{CallID: callID, SenderID: s.d.identity.UserID, Reason: o.reason}
	s.mu.Unlock()

	if entry != nil {
		entry.Close()
		s.d.metrics.peerClosed(false)
	}
	if stream != nil {
		stream.Stop()
	}
	if notify {
		if err := s.d.send(context.Background(), "hangup", callID, ended); err != nil {
			s.log(callID).WithError(err).Warn("Failed to notify peer of call end")
		}
	}

	s.d.metrics.callEnded(false, status)
	event := LogCallEnded
	if status == CallStatusFailed {
		event = LogCallFailed
	}
	s.d.report(CallLogEntry{
		CallID:    callID,
		Event:     event,
		Direction: s.direction,
		CallType:  s.callType,
		PeerID:    s.peer.ID,
		Status:    status,
		Reason:    o.reason,
		Duration:  summary.Duration,
	})

	s.log(callID).WithFields(logrus.Fields{
		"status": status,
		"reason": o.reason,
	}).Info("Call ended")

	if o.err != nil {
		s.Emitter.Emit(string(CallEventError), o.err)
	}
	s.emitState(CallStateEnded)
	s.Emitter.Emit(string(CallEventEnded), summary)
	if s.onEnded != nil {
		s.onEnded(s)
	}
	return true
}

// ---- Local media ----

// ToggleAudio mutes or unmutes the microphone and returns the new muted flag
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioMuted = !s.audioMuted
	if s.stream != nil {
		if t := s.stream.Track(TrackKindAudio); t != nil {
			t.SetEnabled(!s.audioMuted)
		}
	}
	return s.audioMuted
}

// ToggleVideo turns the camera on or off. Turning it on in an audio call
// captures a video track and renegotiates.
func (s *Session) ToggleVideo(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state == CallStateEnded || s.stream == nil {
		s.mu.Unlock()
		return false, newError(ErrInvalidState, "toggle video", s.id, fmt.Errorf("no active media"))
	}
	callID, stream, entry := s.id, s.stream, s.entry
	enable := !s.videoEnabled
	existing := stream.Track(TrackKindVideo)
	if existing != nil || !enable {
		if existing != nil {
			existing.SetEnabled(enable)
		}
		s.videoEnabled = enable
		s.mu.Unlock()
		return enable, nil
	}
	s.mu.Unlock()

	video, err := s.d.media.GetLocalStream(ctx, MediaConstraints{Video: true})
	if err != nil {
		return false, newError(ErrMediaAcquisitionFailed, "toggle video", callID, err)
	}
	track := video.Track(TrackKindVideo)
	if track == nil {
		video.Stop()
		return false, newError(ErrMediaAcquisitionFailed, "toggle video", callID, fmt.Errorf("no video track"))
	}

	s.mu.Lock()
	if s.state == CallStateEnded || s.stream != stream {
		s.mu.Unlock()
		video.Stop()
		return false, staleError("toggle video", callID, "call ended while acquiring video")
	}
	stream.AddTrack(track)
	s.videoEnabled = true
	s.mu.Unlock()

	if entry == nil {
		return true, nil
	}
	added, err := entry.AttachTrack(track)
	if err != nil {
		return true, newError(ErrNegotiationFailed, "toggle video", callID, err)
	}
	if added {
		if err := s.sendOffer(ctx, entry, callID); err != nil {
			return true, err
		}
	}
	return true, nil
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}
