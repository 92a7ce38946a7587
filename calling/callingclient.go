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

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// ActiveCall is the call currently holding the local media: a *Session or
// a *GroupCall.
type ActiveCall interface {
	Key() string
	IsGroupCall() bool
	Ended() bool
}

// Navigator opens and closes the call screen
type Navigator interface {
	OpenCall(call ActiveCall)
	// CloseCall returns to the previous screen. notice is a short
	// non-blocking message for failed calls, empty otherwise.
	CloseCall(notice string)
}

// CallingClientConfig holds the collaborators of a CallingClient
type CallingClientConfig struct {
	Identity  Identity
	Channel   signaling.Channel
	Backend   Backend
	Media     MediaDevices
	Factory   ConnectionFactory
	Notifier  NotificationPresenter
	Navigator Navigator
	// History optionally keeps a local copy of the call log
	History HistoryStore
	Clock   clock.Clock
	Metrics *Metrics
	Logger  logrus.FieldLogger
}

// CallingClient is the main orchestrator for calls. It keeps at most one
// call active, routes inbound signaling to it and to the incoming call
// registry, and declines invites as busy while a call is active.
type CallingClient struct {
	mu sync.RWMutex

	d         *deps
	registry  *IncomingRegistry
	navigator Navigator

	active  ActiveCall
	offs    []func()
	started bool

	// Events
	Emitter *EventEmitter
}

type noopNotifier struct{}

func (noopNotifier) ShowIncomingCall(IncomingCall) {}
func (noopNotifier) ClearAll()                     {}

type noopNavigator struct{}

func (noopNavigator) OpenCall(ActiveCall) {}
func (noopNavigator) CloseCall(string)    {}

// NewCallingClient creates a CallingClient. Channel, Backend, Media,
// Factory and Identity.UserID are required.
func NewCallingClient(config *Config, clientConfig *CallingClientConfig) (*CallingClient, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if clientConfig == nil {
		return nil, fmt.Errorf("calling client config is required")
	}
	cfg := *clientConfig
	switch {
	case cfg.Identity.UserID == "":
		return nil, fmt.Errorf("identity user ID is required")
	case cfg.Channel == nil:
		return nil, fmt.Errorf("signaling channel is required")
	case cfg.Backend == nil:
		return nil, fmt.Errorf("backend is required")
	case cfg.Media == nil:
		return nil, fmt.Errorf("media devices are required")
	case cfg.Factory == nil:
		return nil, fmt.Errorf("connection factory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.Navigator == nil {
		cfg.Navigator = noopNavigator{}
	}

	logger := cfg.Logger.WithFields(logrus.Fields{
		"user_id":   cfg.Identity.UserID,
		"device_id": cfg.Identity.DeviceID,
	})

	d := &deps{
		identity: cfg.Identity,
		channel:  cfg.Channel,
		backend:  cfg.Backend,
		media:    cfg.Media,
		factory:  cfg.Factory,
		clock:    cfg.Clock,
		reporter: NewReporter(cfg.Backend, cfg.History, config, logger),
		metrics:  cfg.Metrics,
		logger:   logger,
		config:   config,
	}

	cc := &CallingClient{
		d:         d,
		navigator: cfg.Navigator,
		Emitter:   NewEventEmitter(),
	}
	cc.registry = newIncomingRegistry(d, cfg.Notifier, func(res IncomingResolution) {
		cc.Emitter.Emit(string(ClientEventIncomingResolved), res)
	})
	return cc, nil
}

// Start subscribes to the signaling channel. Calling it twice is a no-op.
func (cc *CallingClient) Start() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.started {
		return
	}
	cc.started = true
	cc.offs = append(cc.offs,
		cc.d.channel.On(signaling.NameAny, cc.route),
		cc.d.channel.OnStateChange(func(state signaling.ConnState) {
			cc.d.logger.WithField("state", state).Info("Signaling channel state changed")
		}),
	)
}

// Shutdown ends the active call, drops any pending invite, unsubscribes
// from signaling and flushes the call log.
func (cc *CallingClient) Shutdown(ctx context.Context) error {
	cc.mu.Lock()
	offs := cc.offs
	cc.offs = nil
	cc.started = false
	active := cc.active
	cc.mu.Unlock()

	for _, off := range offs {
		off()
	}

	var err error
	switch call := active.(type) {
	case *Session:
		if e := call.Hangup(ctx); e != nil && !IsStaleEvent(e) {
			err = e
		}
	case *GroupCall:
		if e := call.EndOrLeave(ctx); e != nil && !IsStaleEvent(e) {
			err = e
		}
	}

	cc.registry.Close()
	cc.d.reporter.Close()
	return err
}

// Identity returns the local identity
func (cc *CallingClient) Identity() Identity { return cc.d.identity }

// Registry returns the incoming call registry
func (cc *CallingClient) Registry() *IncomingRegistry { return cc.registry }

// ActiveCall returns the live call, or nil
func (cc *CallingClient) ActiveCall() ActiveCall {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	if cc.active == nil || cc.active.Ended() {
		return nil
	}
	return cc.active
}

// ActiveSession returns the live one-to-one call, or nil
func (cc *CallingClient) ActiveSession() *Session {
	s, _ := cc.ActiveCall().(*Session)
	return s
}

// ActiveGroupCall returns the live group call, or nil
func (cc *CallingClient) ActiveGroupCall() *GroupCall {
	g, _ := cc.ActiveCall().(*GroupCall)
	return g
}

// ActiveCount returns the number of live calls, which never exceeds one
func (cc *CallingClient) ActiveCount() int {
	if cc.ActiveCall() == nil {
		return 0
	}
	return 1
}

// PendingIncoming returns the ringing incoming call, or nil
func (cc *CallingClient) PendingIncoming() *IncomingCall {
	return cc.registry.Pending()
}

// claim makes call the active call. It fails with ErrBusy while another
// call is live or, unless accepting, while an incoming call is ringing.
func (cc *CallingClient) claim(call ActiveCall, accepting bool) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.active != nil && !cc.active.Ended() {
		return newError(ErrBusy, "start call", cc.active.Key(), fmt.Errorf("another call is active"))
	}
	if !accepting && cc.registry.HasPending() {
		return newError(ErrBusy, "start call", "", fmt.Errorf("an incoming call is ringing"))
	}
	cc.active = call
	return nil
}

func (cc *CallingClient) release(call ActiveCall) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.active == call {
		cc.active = nil
	}
}

func (cc *CallingClient) sessionEnded(s *Session) {
	cc.release(s)
	summary := CallSummary{CallID: s.ID(), Status: s.Status(), Reason: s.Reason(), Duration: s.Duration()}
	cc.navigator.CloseCall(endNotice(summary))
	cc.Emitter.Emit(string(ClientEventCallEnded), summary)
}

func (cc *CallingClient) groupEnded(g *GroupCall) {
	cc.release(g)
	summary := CallSummary{CallID: g.ID(), Status: g.Status(), Reason: g.Reason(), Duration: g.Duration()}
	cc.navigator.CloseCall(endNotice(summary))
	cc.Emitter.Emit(string(ClientEventCallEnded), summary)
}

// endNotice is the user-visible message for a call that did not end normally
func endNotice(summary CallSummary) string {
	switch summary.Status {
	case CallStatusFailed:
		return "Call failed"
	case CallStatusRejected:
		if summary.Reason == signaling.ReasonBusy {
			return "User is busy"
		}
		return "Call declined"
	case CallStatusMissed:
		if summary.Reason == signaling.ReasonMissed {
			return "No answer"
		}
	}
	return ""
}

// ---- User intents ----

// Call starts an outgoing one-to-one call. The returned session is valid
// even on error, in which case it has already ended.
func (cc *CallingClient) Call(ctx context.Context, peer Peer, callType CallType) (*Session, error) {
	s := newOutgoingSession(cc.d, peer, callType, cc.sessionEnded)
	if err := cc.claim(s, false); err != nil {
		return nil, err
	}
	cc.navigator.OpenCall(s)
	cc.Emitter.Emit(string(ClientEventCallStarted), s)

	if err := s.Initiate(ctx); err != nil {
		if !s.Ended() {
			cc.release(s)
		}
		return s, err
	}
	return s, nil
}

// StartGroupCall creates a group call in a conversation, as host
func (cc *CallingClient) StartGroupCall(ctx context.Context, conversationID string, callType CallType) (*GroupCall, error) {
	g := newGroupCall(cc.d, GroupStateOutgoing, "", callType, cc.groupEnded)
	if err := cc.claim(g, false); err != nil {
		return nil, err
	}
	cc.navigator.OpenCall(g)
	cc.Emitter.Emit(string(ClientEventCallStarted), g)

	if err := g.CreateAndConnect(ctx, conversationID); err != nil {
		return g, err
	}
	return g, nil
}

// JoinGroupCall joins a running group call without an invite, for example
// from the conversation's call banner.
func (cc *CallingClient) JoinGroupCall(ctx context.Context, groupCallID string, callType CallType) (*GroupCall, error) {
	g := newGroupCall(cc.d, GroupStateIncoming, groupCallID, callType, cc.groupEnded)
	if err := cc.claim(g, false); err != nil {
		return nil, err
	}
	cc.navigator.OpenCall(g)
	cc.Emitter.Emit(string(ClientEventCallStarted), g)

	if err := g.Join(ctx); err != nil {
		return g, err
	}
	return g, nil
}

// AcceptIncoming answers the ringing call. The result is a *Session or a
// *GroupCall that already skipped ringing.
func (cc *CallingClient) AcceptIncoming(ctx context.Context) (ActiveCall, error) {
	pending := cc.registry.Pending()
	if pending == nil {
		return nil, staleError("accept incoming", "", "no pending call")
	}

	var call ActiveCall
	var s *Session
	var g *GroupCall
	if pending.IsGroupCall {
		g = newGroupCall(cc.d, GroupStateIncoming, pending.CallID, pending.CallType, cc.groupEnded)
		call = g
	} else {
		s = newIncomingSession(cc.d, pending, cc.sessionEnded)
		call = s
	}
	if err := cc.claim(call, true); err != nil {
		return nil, err
	}

	accepted, err := cc.registry.Accept(ctx, pending.CallID)
	if err != nil {
		cc.release(call)
		return nil, err
	}

	cc.navigator.OpenCall(call)
	cc.Emitter.Emit(string(ClientEventCallStarted), call)

	if g != nil {
		return g, g.Join(ctx)
	}
	return s, s.acceptIncoming(ctx, accepted.Offer)
}

// RejectIncoming declines the ringing call
func (cc *CallingClient) RejectIncoming(ctx context.Context, reason string) error {
	pending := cc.registry.Pending()
	if pending == nil {
		return staleError("reject incoming", "", "no pending call")
	}
	return cc.registry.Reject(ctx, pending.CallID, reason)
}

// ---- Inbound routing ----

func (cc *CallingClient) route(ev signaling.Event) {
	ctx := context.Background()
	err := cc.dispatch(ctx, ev)
	if err == nil {
		return
	}

	log := cc.d.logger.WithFields(logrus.Fields{
		"event": ev.Name(),
		"key":   ev.Key(),
	})
	switch {
	case IsStaleEvent(err):
		log.WithError(err).Debug("Dropped stale signaling event")
	case IsBusy(err):
		log.Info("Declined invite as busy")
	default:
		log.WithError(err).Warn("Failed to handle signaling event")
	}
}

func (cc *CallingClient) dispatch(ctx context.Context, ev signaling.Event) error {
	switch e := ev.(type) {
	case signaling.Invite:
		return cc.handleInvite(ctx, IncomingFromInvite(e), e.TargetDeviceID)
	case signaling.GroupInvite:
		return cc.handleInvite(ctx, IncomingFromGroupInvite(e), e.TargetDeviceID)

	case signaling.Accept:
		return cc.withSession(e.CallID, func(s *Session) error { return s.HandleRemoteAccept(ctx, e) })
	case signaling.Reject:
		if e.IsGroupCall {
			cc.d.logger.WithFields(logrus.Fields{
				"group_call_id": e.CallID,
				"reason":        e.Reason,
			}).Info("Group call invite declined")
			return nil
		}
		return cc.withSession(e.CallID, func(s *Session) error { return s.HandleRemoteReject(e) })

	case signaling.Offer:
		if e.GroupCallID != "" {
			return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnRemoteOffer(ctx, e) })
		}
		return cc.withSession(e.CallID, func(s *Session) error { return s.HandleRemoteOffer(ctx, e) })
	case signaling.Answer:
		if e.GroupCallID != "" {
			return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnRemoteAnswer(e) })
		}
		return cc.withSession(e.CallID, func(s *Session) error { return s.HandleRemoteAnswer(e) })
	case signaling.Candidate:
		if e.GroupCallID != "" {
			return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnRemoteIceCandidate(e) })
		}
		return cc.withSession(e.CallID, func(s *Session) error { return s.HandleRemoteCandidate(e) })

	case signaling.AnsweredOnDevice:
		if e.DeviceID == cc.d.identity.DeviceID {
			return nil
		}
		return cc.supersede(e.CallID, "answered_on_other_device")
	case signaling.RejectedOnOtherDevice:
		return cc.supersede(e.CallID, "rejected_on_other_device")
	case signaling.GroupInviteCancelled:
		return cc.supersede(e.GroupCallID, "invite_cancelled")
	case signaling.CallEnded:
		if cc.registry.Supersede(e.CallID, "call_ended") {
			return nil
		}
		return cc.withSession(e.CallID, func(s *Session) error { return s.HandleRemoteEnded(e.CallID, e.Reason) })
	case signaling.SessionTerminated:
		if cc.registry.Supersede(e.CallID, "session_terminated") {
			return nil
		}
		reason := e.Reason
		if reason == "" {
			reason = "session_terminated"
		}
		return cc.withSession(e.CallID, func(s *Session) error { return s.HandleRemoteEnded(e.CallID, reason) })

	case signaling.ParticipantJoined:
		return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnParticipantJoined(e) })
	case signaling.ParticipantLeft:
		return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnParticipantLeft(e) })
	case signaling.GroupCallEnded:
		if cc.registry.Supersede(e.GroupCallID, "group_call_ended") {
			return nil
		}
		if e.RecipientID != "" && e.RecipientID != cc.d.identity.UserID {
			return staleError("group call ended", e.GroupCallID, "addressed to %s", e.RecipientID)
		}
		return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnGroupCallEnded(e) })
	case signaling.ScreenShareStarted:
		return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnScreenShareStarted(e) })
	case signaling.ScreenShareStopped:
		return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnScreenShareStopped(e) })
	case signaling.MediaState:
		return cc.withGroup(e.GroupCallID, func(g *GroupCall) error { return g.OnMediaState(e) })
	}
	return staleError("route", ev.Key(), "unhandled event %s", ev.Name())
}

func (cc *CallingClient) withSession(callID string, fn func(*Session) error) error {
	s := cc.ActiveSession()
	if s == nil {
		cc.d.metrics.staleEvent()
		return staleError("route", callID, "no active call")
	}
	return fn(s)
}

func (cc *CallingClient) withGroup(groupCallID string, fn func(*GroupCall) error) error {
	g := cc.ActiveGroupCall()
	if g == nil {
		cc.d.metrics.staleEvent()
		return staleError("route", groupCallID, "no active group call")
	}
	return fn(g)
}

func (cc *CallingClient) supersede(callID, reason string) error {
	if !cc.registry.Supersede(callID, reason) {
		return staleError("supersede", callID, "no pending call")
	}
	return nil
}

// handleInvite rings for a new invite, or declines it as busy while a call
// is active. Invites for the active call itself are redeliveries.
func (cc *CallingClient) handleInvite(ctx context.Context, call IncomingCall, targetDeviceID string) error {
	if err := cc.registry.screen(call, targetDeviceID); err != nil {
		return err
	}

	if active := cc.ActiveCall(); active != nil {
		if active.Key() == call.CallID {
			return staleError("incoming", call.CallID, "invite for the active call")
		}
		return cc.registry.RejectBusy(ctx, call)
	}

	err := cc.registry.Offer(ctx, call, targetDeviceID)
	if err != nil {
		return err
	}
	if pending := cc.registry.Pending(); pending != nil {
		cc.Emitter.Emit(string(ClientEventIncomingCall), *pending)
	}
	return nil
}

// Started reports whether Start has run and Shutdown has not
func (cc *CallingClient) Started() bool {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.started
}
