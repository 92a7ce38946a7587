/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"
	"time"
)

// ---- Event Keys ----

// CallEventKey identifies a one-to-one call event
type CallEventKey string

const (
	CallEventState       CallEventKey = "state"
	CallEventConnected   CallEventKey = "connected"
	CallEventRemoteTrack CallEventKey = "remote_track"
	CallEventEnded       CallEventKey = "ended"
	CallEventError       CallEventKey = "call_error"
)

// GroupEventKey identifies a group call event
type GroupEventKey string

const (
	GroupEventParticipantJoined  GroupEventKey = "participant_joined"
	GroupEventParticipantLeft    GroupEventKey = "participant_left"
	GroupEventParticipantUpdated GroupEventKey = "participant_updated"
	GroupEventFocusChanged       GroupEventKey = "focus_changed"
	GroupEventEnded              GroupEventKey = "ended"
	GroupEventError              GroupEventKey = "group_error"
)

// ClientEventKey identifies a client-level event
type ClientEventKey string

const (
	ClientEventIncomingCall     ClientEventKey = "incoming_call"
	ClientEventIncomingResolved ClientEventKey = "incoming_resolved"
	ClientEventCallStarted      ClientEventKey = "call_started"
	ClientEventCallEnded        ClientEventKey = "call_ended"
)

// CallSummary is emitted with CallEventEnded
type CallSummary struct {
	CallID   string
	Status   CallStatus
	Reason   string
	Duration time.Duration
}

// IncomingResolution is emitted with ClientEventIncomingResolved
type IncomingResolution struct {
	Call   IncomingCall
	State  IncomingState
	Reason string
}

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
