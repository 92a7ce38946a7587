/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// Backend is the chat backend's call API. Implementations return an error
// for transport failures and for responses carrying success=false.
type Backend interface {
	CreateCall(ctx context.Context, req *CreateCallRequest) (*CallRecord, error)
	UpdateCallStatus(ctx context.Context, callID string, status CallStatus, duration time.Duration) error
	CreateGroupCall(ctx context.Context, conversationID string, callType CallType) (*GroupCallRecord, error)
	JoinGroupCall(ctx context.Context, groupCallID string) (*GroupCallRecord, error)
	LeaveGroupCall(ctx context.Context, groupCallID string) error
	EndGroupCall(ctx context.Context, groupCallID string) error
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
	LogCallEvent(ctx context.Context, entry *CallLogEntry) error
}

// CreateCallRequest asks the backend for a one-to-one call record
type CreateCallRequest struct {
	CalleeID       string   `json:"calleeId"`
	CallType       CallType `json:"callType"`
	CallerDeviceID string   `json:"callerDeviceId,omitempty"`
	TargetDeviceID string   `json:"targetDeviceId,omitempty"`
}

// CallRecord is the backend's view of a one-to-one call
type CallRecord struct {
	ID             string    `json:"id"`
	CallerID       string    `json:"callerId"`
	CalleeID       string    `json:"calleeId"`
	CallType       CallType  `json:"callType"`
	Status         string    `json:"status,omitempty"`
	TargetDeviceID string    `json:"targetDeviceId,omitempty"`
	Callee         *Peer     `json:"callee,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// ParticipantRecord is a group call member as stored by the backend
type ParticipantRecord struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName,omitempty"`
	Role        Role     `json:"role"`
	Presence    Presence `json:"presence"`
}

// GroupCallRecord is the backend's view of a group call
type GroupCallRecord struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	HostID         string              `json:"hostId"`
	CallType       CallType            `json:"callType"`
	Participants   []ParticipantRecord `json:"participants"`
}
