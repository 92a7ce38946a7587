/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package signaling defines the call signaling events exchanged over the
// persistent event channel and the Channel abstraction that carries them.
package signaling

// Name identifies a signaling event on the wire.
type Name string

const (
	NameInvite                Name = "invite"
	NameAccept                Name = "accept-call"
	NameOffer                 Name = "sdp-offer"
	NameAnswer                Name = "sdp-answer"
	NameCandidate             Name = "ice-candidate"
	NameReject                Name = "reject-call"
	NameAnsweredOnDevice      Name = "call-answered-on-device"
	NameCallEnded             Name = "call-ended"
	NameSessionTerminated     Name = "call-session-terminated"
	NameRejectedOnOtherDevice Name = "call-rejected-on-other-device"
	NameGroupInvite           Name = "group-call-invite"
	NameGroupInviteCancelled  Name = "group-call-invite-cancelled"
	NameParticipantJoined     Name = "participant-joined"
	NameParticipantLeft       Name = "participant-left"
	NameGroupCallEnded        Name = "group-call-ended"
	NameScreenShareStarted    Name = "screen-share-started"
	NameScreenShareStopped    Name = "screen-share-stopped"
	NameMediaState            Name = "media-state"

	// NameAny subscribes a handler to every event.
	NameAny Name = "*"
)

// Reject reasons.
const (
	ReasonDeclined = "declined_by_user"
	ReasonBusy     = "busy"
	ReasonMissed   = "missed"
)

// Event is the closed set of signaling events. Every event carries the call
// or group call it belongs to so receivers can drop stale or duplicate
// deliveries.
type Event interface {
	Name() Name
	// Key is the callId or groupCallId the event refers to.
	Key() string
	isEvent()
}

// SessionDescription is an SDP blob with its type ("offer" or "answer").
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Participant identifies a member of a group call.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Invite rings the callee's devices for a one-to-one call.
type Invite struct {
	CallID         string              `json:"callId"`
	CallerID       string              `json:"callerId"`
	CallerName     string              `json:"callerName,omitempty"`
	CallerDeviceID string              `json:"callerDeviceId,omitempty"`
	CalleeID       string              `json:"calleeId"`
	CallType       string              `json:"callType"`
	Offer          *SessionDescription `json:"offer,omitempty"`
	TargetDeviceID string              `json:"targetDeviceId,omitempty"`
}

// Accept tells the caller which callee device picked up.
type Accept struct {
	CallID   string              `json:"callId"`
	CalleeID string              `json:"calleeId"`
	DeviceID string              `json:"deviceId"`
	SDP      *SessionDescription `json:"sdp,omitempty"`
}

// Offer carries an SDP offer to a single recipient.
type Offer struct {
	CallID      string `json:"callId,omitempty"`
	GroupCallID string `json:"groupCallId,omitempty"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	SDP         string `json:"sdp"`
}

// Answer carries an SDP answer to a single recipient.
type Answer struct {
	CallID      string `json:"callId,omitempty"`
	GroupCallID string `json:"groupCallId,omitempty"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	SDP         string `json:"sdp"`
}

// Candidate carries one trickled ICE candidate to a single recipient.
type Candidate struct {
	CallID      string       `json:"callId,omitempty"`
	GroupCallID string       `json:"groupCallId,omitempty"`
	SenderID    string       `json:"senderId"`
	RecipientID string       `json:"recipientId"`
	Candidate   ICECandidate `json:"candidate"`
}

// Reject declines an incoming call or group invite.
type Reject struct {
	CallID      string `json:"callId"`
	CallerID    string `json:"callerId"`
	Reason      string `json:"reason"`
	DeviceID    string `json:"deviceId"`
	IsGroupCall bool   `json:"isGroupCall,omitempty"`
}

// AnsweredOnDevice tells the account's other devices to stop ringing.
type AnsweredOnDevice struct {
	CallID      string `json:"callId"`
	DeviceID    string `json:"deviceId"`
	IsGroupCall bool   `json:"isGroupCall,omitempty"`
}

// CallEnded terminates a one-to-one call.
type CallEnded struct {
	CallID   string `json:"callId"`
	SenderID string `json:"senderId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SessionTerminated is the server-side termination of a call.
type SessionTerminated struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// RejectedOnOtherDevice reports that another device of the account declined.
type RejectedOnOtherDevice struct {
	CallID   string `json:"callId"`
	DeviceID string `json:"deviceId,omitempty"`
}

// GroupInvite rings a conversation member for a group call.
type GroupInvite struct {
	GroupCallID    string `json:"groupCallId"`
	ConversationID string `json:"conversationId"`
	InviterID      string `json:"inviterId"`
	InviterName    string `json:"inviterName,omitempty"`
	CallType       string `json:"callType"`
	TargetDeviceID string `json:"targetDeviceId,omitempty"`
}

// GroupInviteCancelled withdraws a group invite.
type GroupInviteCancelled struct {
	GroupCallID string `json:"groupCallId"`
}

// ParticipantJoined announces a new member of a group call.
type ParticipantJoined struct {
	GroupCallID string      `json:"groupCallId"`
	Participant Participant `json:"participant"`
}

// ParticipantLeft announces that a member left a group call.
type ParticipantLeft struct {
	GroupCallID string      `json:"groupCallId"`
	Participant Participant `json:"participant"`
}

// GroupCallEnded terminates a group call for everyone. The host sends one
// per participant, addressed by RecipientID.
type GroupCallEnded struct {
	GroupCallID string `json:"groupCallId"`
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
}

// ScreenShareStarted announces that a participant is sharing their screen.
type ScreenShareStarted struct {
	GroupCallID   string `json:"groupCallId"`
	ParticipantID string `json:"participantId"`
}

// ScreenShareStopped announces the end of a participant's screen share.
type ScreenShareStopped struct {
	GroupCallID   string `json:"groupCallId"`
	ParticipantID string `json:"participantId"`
}

// MediaState broadcasts a participant's local mute and camera flags.
type MediaState struct {
	GroupCallID  string `json:"groupCallId"`
	SenderID     string `json:"senderId"`
	AudioMuted   bool   `json:"audioMuted"`
	VideoEnabled bool   `json:"videoEnabled"`
}

func (Invite) Name() Name                { return NameInvite }
func (Accept) Name() Name                { return NameAccept }
func (Offer) Name() Name                 { return NameOffer }
func (Answer) Name() Name                { return NameAnswer }
func (Candidate) Name() Name             { return NameCandidate }
func (Reject) Name() Name                { return NameReject }
func (AnsweredOnDevice) Name() Name      { return NameAnsweredOnDevice }
func (CallEnded) Name() Name             { return NameCallEnded }
func (SessionTerminated) Name() Name     { return NameSessionTerminated }
func (RejectedOnOtherDevice) Name() Name { return NameRejectedOnOtherDevice }
func (GroupInvite) Name() Name           { return NameGroupInvite }
func (GroupInviteCancelled) Name() Name  { return NameGroupInviteCancelled }
func (ParticipantJoined) Name() Name     { return NameParticipantJoined }
func (ParticipantLeft) Name() Name       { return NameParticipantLeft }
func (GroupCallEnded) Name() Name        { return NameGroupCallEnded }
func (ScreenShareStarted) Name() Name    { return NameScreenShareStarted }
func (ScreenShareStopped) Name() Name    { return NameScreenShareStopped }
func (MediaState) Name() Name            { return NameMediaState }

func (e Invite) Key() string                { return e.CallID }
func (e Accept) Key() string                { return e.CallID }
func (e Offer) Key() string                 { return groupOr(e.GroupCallID, e.CallID) }
func (e Answer) Key() string                { return groupOr(e.GroupCallID, e.CallID) }
func (e Candidate) Key() string             { return groupOr(e.GroupCallID, e.CallID) }
func (e Reject) Key() string                { return e.CallID }
func (e AnsweredOnDevice) Key() string      { return e.CallID }
func (e CallEnded) Key() string             { return e.CallID }
func (e SessionTerminated) Key() string     { return e.CallID }
func (e RejectedOnOtherDevice) Key() string { return e.CallID }
func (e GroupInvite) Key() string           { return e.GroupCallID }
func (e GroupInviteCancelled) Key() string  { return e.GroupCallID }
func (e ParticipantJoined) Key() string     { return e.GroupCallID }
func (e ParticipantLeft) Key() string       { return e.GroupCallID }
func (e GroupCallEnded) Key() string        { return e.GroupCallID }
func (e ScreenShareStarted) Key() string    { return e.GroupCallID }
func (e ScreenShareStopped) Key() string    { return e.GroupCallID }
func (e MediaState) Key() string            { return e.GroupCallID }

func (Invite) isEvent()                {}
func (Accept) isEvent()                {}
func (Offer) isEvent()                 {}
func (Answer) isEvent()                {}
func (Candidate) isEvent()             {}
func (Reject) isEvent()                {}
func (AnsweredOnDevice) isEvent()      {}
func (CallEnded) isEvent()             {}
func (SessionTerminated) isEvent()     {}
func (RejectedOnOtherDevice) isEvent() {}
func (GroupInvite) isEvent()           {}
func (GroupInviteCancelled) isEvent()  {}
func (ParticipantJoined) isEvent()     {}
func (ParticipantLeft) isEvent()       {}
func (GroupCallEnded) isEvent()        {}
func (ScreenShareStarted) isEvent()    {}
func (ScreenShareStopped) isEvent()    {}
func (MediaState) isEvent()            {}

func groupOr(group, call string) string {
	if group != "" {
		return group
	}
	return call
}
