/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// ---- Enums / Constants ----

// CallDirection indicates whether a call is inbound or outbound
type CallDirection string

const (
	CallDirectionOutgoing CallDirection = "outgoing"
	CallDirectionIncoming CallDirection = "incoming"
)

// CallType is the media kind a call starts with
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallState represents the state of a one-to-one call
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateInitiating CallState = "initiating"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateOngoing    CallState = "ongoing"
	CallStateEnded      CallState = "ended"
)

// CallStatus is the final outcome recorded for an ended call
type CallStatus string

const (
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusFailed    CallStatus = "failed"
)

// GroupState is the coarse lifecycle of a group call
type GroupState string

const (
	GroupStateOutgoing  GroupState = "outgoing"
	GroupStateIncoming  GroupState = "incoming"
	GroupStateConnected GroupState = "connected"
	GroupStateEnded     GroupState = "ended"
)

// Role of a group call participant
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Presence of a group call participant
type Presence string

const (
	PresenceInvited Presence = "invited"
	PresenceJoined  Presence = "joined"
	PresenceLeft    Presence = "left"
)

// ConnectionState mirrors the peer connection state machine
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

// IncomingState is the resolution of an incoming call registry entry
type IncomingState string

const (
	IncomingStatePending    IncomingState = "pending"
	IncomingStateAccepted   IncomingState = "accepted"
	IncomingStateRejected   IncomingState = "rejected"
	IncomingStateTimedOut   IncomingState = "timed_out"
	IncomingStateSuperseded IncomingState = "superseded"
)

// ---- Identities ----

// Identity is the authenticated local user and device
type Identity struct {
	UserID      string
	DeviceID    string
	DisplayName string
}

// Peer is the other party of a one-to-one call
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ---- Configuration ----

// Config holds call timing and sizing settings
type Config struct {
	// AnswerTimeout ends an unanswered outgoing call as missed
	AnswerTimeout time.Duration

	// IncomingTimeout expires a pending incoming call as missed
	IncomingTimeout time.Duration

	// NegotiationTimeout fails a call that accepted but never connected
	NegotiationTimeout time.Duration

	// RequestTimeout bounds fire-and-forget backend calls and signaling sends
	RequestTimeout time.Duration

	// MaxGroupParticipants bounds the mesh, local participant included
	MaxGroupParticipants int

	// ICEServers is used when the backend cannot provide ICE servers
	ICEServers []webrtc.ICEServer

	// ReporterQueueSize is the call log backlog before entries are dropped
	ReporterQueueSize int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		AnswerTimeout:        30 * time.Second,
		IncomingTimeout:      30 * time.Second,
		NegotiationTimeout:   30 * time.Second,
		RequestTimeout:       10 * time.Second,
		MaxGroupParticipants: 8,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		ReporterQueueSize: 256,
	}
}
