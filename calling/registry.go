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
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// IncomingCall is a ringing call or group invite awaiting a decision
type IncomingCall struct {
	CallID         string
	IsGroupCall    bool
	CallerID       string
	CallerName     string
	CallerDeviceID string
	CallType       CallType
	ConversationID string
	Offer          *signaling.SessionDescription
	ReceivedAt     time.Time
	State          IncomingState
}

// NotificationPresenter shows and clears incoming call notifications
type NotificationPresenter interface {
	ShowIncomingCall(call IncomingCall)
	ClearAll()
}

// IncomingRegistry holds at most one pending incoming call per device.
//
// A pending call resolves exactly once: accepted, rejected, timed out, or
// superseded by a termination that happened elsewhere.
type IncomingRegistry struct {
	d          *deps
	notifier   NotificationPresenter
	onResolved func(IncomingResolution)

	mu      sync.Mutex
	pending *IncomingCall
	seq     uint64
	timer   *clock.Timer
}

func newIncomingRegistry(d *deps, notifier NotificationPresenter, onResolved func(IncomingResolution)) *IncomingRegistry {
	return &IncomingRegistry{
		d:          d,
		notifier:   notifier,
		onResolved: onResolved,
	}
}

// Pending returns a copy of the pending call, or nil
func (r *IncomingRegistry) Pending() *IncomingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return nil
	}
	call := *r.pending
	return &call
}

// HasPending reports whether a call is ringing
func (r *IncomingRegistry) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// IncomingFromInvite converts a one-to-one invite
func IncomingFromInvite(ev signaling.Invite) IncomingCall {
	return IncomingCall{
		CallID:         ev.CallID,
		CallerID:       ev.CallerID,
		CallerName:     ev.CallerName,
		CallerDeviceID: ev.CallerDeviceID,
		CallType:       CallType(ev.CallType),
		Offer:          ev.Offer,
	}
}

// IncomingFromGroupInvite converts a group call invite
func IncomingFromGroupInvite(ev signaling.GroupInvite) IncomingCall {
	return IncomingCall{
		CallID:         ev.GroupCallID,
		IsGroupCall:    true,
		CallerID:       ev.InviterID,
		CallerName:     ev.InviterName,
		CallType:       CallType(ev.CallType),
		ConversationID: ev.ConversationID,
	}
}

// Offer registers an incoming call. Invites sent by the local user, invites
// for another device and redeliveries of the pending call are dropped as
// stale. A different call while one is pending is declined as busy, creates
// no entry, and returns ErrBusy.
func (r *IncomingRegistry) Offer(ctx context.Context, call IncomingCall, targetDeviceID string) error {
	log := r.d.logger.WithFields(logrus.Fields{
		"call_id":   call.CallID,
		"caller_id": call.CallerID,
		"group":     call.IsGroupCall,
	})

	if err := r.screen(call, targetDeviceID); err != nil {
		log.WithError(err).Debug("Ignoring invite")
		return err
	}

	r.mu.Lock()
	if r.pending != nil {
		if r.pending.CallID == call.CallID {
			r.mu.Unlock()
			return staleError("incoming", call.CallID, "invite already pending")
		}
		r.mu.Unlock()
		return r.RejectBusy(ctx, call)
	}

	call.State = IncomingStatePending
	call.ReceivedAt = r.d.clock.Now()
	r.seq++
	seq := r.seq
	r.pending = &call
	r.timer = r.d.clock.AfterFunc(r.d.config.IncomingTimeout, func() { r.onTimeout(seq) })
	r.mu.Unlock()

	log.Info("Incoming call ringing")
	r.notifier.ShowIncomingCall(call)
	return nil
}

// screen drops invites sent by this account and invites routed to another
// of its devices.
func (r *IncomingRegistry) screen(call IncomingCall, targetDeviceID string) error {
	if call.CallerID == r.d.identity.UserID {
		return staleError("incoming", call.CallID, "invite originated locally")
	}
	if targetDeviceID != "" && targetDeviceID != r.d.identity.DeviceID {
		return staleError("incoming", call.CallID, "invite targets device %s", targetDeviceID)
	}
	return nil
}

// RejectBusy declines call without touching the pending entry.
func (r *IncomingRegistry) RejectBusy(ctx context.Context, call IncomingCall) error {
	reject := signaling.Reject{
		CallID:      call.CallID,
		CallerID:    call.CallerID,
		Reason:      signaling.ReasonBusy,
		DeviceID:    r.d.identity.DeviceID,
		IsGroupCall: call.IsGroupCall,
	}
	if err := r.d.send(ctx, "busy", call.CallID, reject); err != nil {
		r.d.logger.WithError(err).WithField("call_id", call.CallID).Warn("Failed to send busy rejection")
	}

	r.d.metrics.incoming(signaling.ReasonBusy)
	r.d.report(CallLogEntry{
		CallID:      call.CallID,
		Event:       LogIncomingRejected,
		Direction:   CallDirectionIncoming,
		CallType:    call.CallType,
		PeerID:      call.CallerID,
		Status:      CallStatusRejected,
		Reason:      signaling.ReasonBusy,
		IsGroupCall: call.IsGroupCall,
	})
	return newError(ErrBusy, "incoming", call.CallID, nil)
}

// take removes the pending call if it matches callID (any call when empty)
// and marks it resolved.
func (r *IncomingRegistry) take(callID string, state IncomingState) *IncomingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil || (callID != "" && r.pending.CallID != callID) {
		return nil
	}
	call := r.pending
	call.State = state
	r.pending = nil
	stopTimer(r.timer)
	r.timer = nil
	return call
}

func (r *IncomingRegistry) resolved(call *IncomingCall, reason string) {
	r.notifier.ClearAll()
	r.d.metrics.incoming(string(call.State))
	if r.onResolved != nil {
		r.onResolved(IncomingResolution{Call: *call, State: call.State, Reason: reason})
	}
}

// Accept resolves the pending call as accepted and tells the account's
// other devices to stop ringing. The returned call carries what the caller
// needs to build the session.
func (r *IncomingRegistry) Accept(ctx context.Context, callID string) (*IncomingCall, error) {
	call := r.take(callID, IncomingStateAccepted)
	if call == nil {
		return nil, staleError("accept", callID, "no pending call")
	}

	answered := signaling.AnsweredOnDevice{
		CallID:      call.CallID,
		DeviceID:    r.d.identity.DeviceID,
		IsGroupCall: call.IsGroupCall,
	}
	if err := r.d.send(ctx, "answered on device", call.CallID, answered); err != nil {
		r.d.logger.WithError(err).WithField("call_id", call.CallID).Warn("Failed to notify other devices")
	}

	r.d.report(CallLogEntry{
		CallID:      call.CallID,
		Event:       LogIncomingAccepted,
		Direction:   CallDirectionIncoming,
		CallType:    call.CallType,
		PeerID:      call.CallerID,
		IsGroupCall: call.IsGroupCall,
	})
	r.resolved(call, "")
	return call, nil
}

// Reject declines the pending call.
func (r *IncomingRegistry) Reject(ctx context.Context, callID, reason string) error {
	if reason == "" {
		reason = signaling.ReasonDeclined
	}
	call := r.take(callID, IncomingStateRejected)
	if call == nil {
		return staleError("reject", callID, "no pending call")
	}

	sendErr := r.d.send(ctx, "reject", call.CallID, signaling.Reject{
		CallID:      call.CallID,
		CallerID:    call.CallerID,
		Reason:      reason,
		DeviceID:    r.d.identity.DeviceID,
		IsGroupCall: call.IsGroupCall,
	})

	r.d.report(CallLogEntry{
		CallID:      call.CallID,
		Event:       LogIncomingRejected,
		Direction:   CallDirectionIncoming,
		CallType:    call.CallType,
		PeerID:      call.CallerID,
		Status:      CallStatusRejected,
		Reason:      reason,
		IsGroupCall: call.IsGroupCall,
	})
	r.resolved(call, reason)
	return sendErr
}

// Supersede clears the pending call after it was ended, answered or
// declined elsewhere. Nothing is sent.
func (r *IncomingRegistry) Supersede(callID, reason string) bool {
	call := r.take(callID, IncomingStateSuperseded)
	if call == nil {
		return false
	}
	r.d.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"reason":  reason,
	}).Info("Incoming call superseded")
	r.resolved(call, reason)
	return true
}

// onTimeout fires for the entry numbered seq. A timer that outlived its
// entry finds a different seq and does nothing.
func (r *IncomingRegistry) onTimeout(seq uint64) {
	call := r.takeSeq(seq)
	if call == nil {
		return
	}

	reject := signaling.Reject{
		CallID:      call.CallID,
		CallerID:    call.CallerID,
		Reason:      signaling.ReasonMissed,
		DeviceID:    r.d.identity.DeviceID,
		IsGroupCall: call.IsGroupCall,
	}
	if err := r.d.send(context.Background(), "missed", call.CallID, reject); err != nil {
		r.d.logger.WithError(err).WithField("call_id", call.CallID).Warn("Failed to send missed rejection")
	}

	r.d.report(CallLogEntry{
		CallID:      call.CallID,
		Event:       LogIncomingMissed,
		Direction:   CallDirectionIncoming,
		CallType:    call.CallType,
		PeerID:      call.CallerID,
		Status:      CallStatusMissed,
		Reason:      signaling.ReasonMissed,
		IsGroupCall: call.IsGroupCall,
	})
	r.d.logger.WithField("call_id", call.CallID).Info("Incoming call missed")
	r.resolved(call, signaling.ReasonMissed)
}

func (r *IncomingRegistry) takeSeq(seq uint64) *IncomingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seq != seq || r.pending == nil {
		return nil
	}
	call := r.pending
	call.State = IncomingStateTimedOut
	r.pending = nil
	r.timer = nil
	return call
}

// Close drops the pending call without signaling
func (r *IncomingRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	stopTimer(r.timer)
	r.timer = nil
	r.pending = nil
}

func (c IncomingCall) String() string {
	kind := "call"
	if c.IsGroupCall {
		kind = "group call"
	}
	return fmt.Sprintf("%s %s from %s", kind, c.CallID, c.CallerID)
}
