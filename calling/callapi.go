/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tejzpr/chatcall-go-sdk/chatsdk"
)

// APIClient implements Backend over the chat backend's REST API.
type APIClient struct {
	core *chatsdk.Client
}

// NewAPIClient creates a Backend bound to core
func NewAPIClient(core *chatsdk.Client) *APIClient {
	return &APIClient{core: core}
}

// envelope is the common response shape: {"success": bool, "message": "...", ...}
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (e envelope) check(op string) error {
	if !e.Success {
		msg := e.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return newError(ErrBackendUnavailable, op, "", fmt.Errorf("%s", msg))
	}
	return nil
}

// callOver tells, per operation on an existing call, which API error means
// the call is already over.
var callOver = map[string]func(error) bool{
	"update call status": chatsdk.IsNotFound,
	"join group call":    chatsdk.IsConflict,
	"leave group call":   chatsdk.IsConflict,
	"end group call":     chatsdk.IsConflict,
}

// do sends the request. A refusal because callID is already over is a
// stale event; every other failure is ErrBackendUnavailable.
func (c *APIClient) do(ctx context.Context, op, callID, method, path string, body interface{}, out interface{}) error {
	err := c.core.Do(ctx, method, path, body, out)
	if err == nil {
		return nil
	}
	if over := callOver[op]; over != nil && over(err) {
		return newError(ErrStaleEvent, op, callID, fmt.Errorf("call already ended: %w", err))
	}
	return newError(ErrBackendUnavailable, op, callID, err)
}

// CreateCall creates a one-to-one call record
func (c *APIClient) CreateCall(ctx context.Context, req *CreateCallRequest) (*CallRecord, error) {
	var resp struct {
		envelope
		Call *CallRecord `json:"call"`
	}
	if err := c.do(ctx, "create call", "", http.MethodPost, "calls", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("create call"); err != nil {
		return nil, err
	}
	if resp.Call == nil || resp.Call.ID == "" {
		return nil, newError(ErrBackendUnavailable, "create call", "", fmt.Errorf("response has no call id"))
	}
	return resp.Call, nil
}

// UpdateCallStatus records a call's final status and connected duration
func (c *APIClient) UpdateCallStatus(ctx context.Context, callID string, status CallStatus, duration time.Duration) error {
	payload := struct {
		Status   CallStatus `json:"status"`
		Duration int64      `json:"duration"`
	}{
		Status:   status,
		Duration: int64(duration / time.Second),
	}

	var resp envelope
	path := fmt.Sprintf("calls/%s/status", url.PathEscape(callID))
	if err := c.do(ctx, "update call status", callID, http.MethodPut, path, payload, &resp); err != nil {
		return err
	}
	return resp.check("update call status")
}

// CreateGroupCall starts a group call in a conversation
func (c *APIClient) CreateGroupCall(ctx context.Context, conversationID string, callType CallType) (*GroupCallRecord, error) {
	payload := struct {
		ConversationID string   `json:"conversationId"`
		CallType       CallType `json:"callType"`
	}{conversationID, callType}

	return c.groupCall(ctx, "create group call", "", "group-calls", payload)
}

// JoinGroupCall registers the local user as a joiner
func (c *APIClient) JoinGroupCall(ctx context.Context, groupCallID string) (*GroupCallRecord, error) {
	path := fmt.Sprintf("group-calls/%s/join", url.PathEscape(groupCallID))
	return c.groupCall(ctx, "join group call", groupCallID, path, nil)
}

func (c *APIClient) groupCall(ctx context.Context, op, groupCallID, path string, body interface{}) (*GroupCallRecord, error) {
	var resp struct {
		envelope
		GroupCall *GroupCallRecord `json:"groupCall"`
	}
	if err := c.do(ctx, op, groupCallID, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(op); err != nil {
		return nil, err
	}
	if resp.GroupCall == nil || resp.GroupCall.ID == "" {
		return nil, newError(ErrBackendUnavailable, op, "", fmt.Errorf("response has no group call"))
	}
	return resp.GroupCall, nil
}

// LeaveGroupCall removes the local user from a group call
func (c *APIClient) LeaveGroupCall(ctx context.Context, groupCallID string) error {
	var resp envelope
	path := fmt.Sprintf("group-calls/%s/leave", url.PathEscape(groupCallID))
	if err := c.do(ctx, "leave group call", groupCallID, http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	return resp.check("leave group call")
}

// EndGroupCall ends a group call for everyone. Host only.
func (c *APIClient) EndGroupCall(ctx context.Context, groupCallID string) error {
	var resp envelope
	path := fmt.Sprintf("group-calls/%s/end", url.PathEscape(groupCallID))
	if err := c.do(ctx, "end group call", groupCallID, http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	return resp.check("end group call")
}

// iceServer accepts both a single URL string and a list, as browsers do
type iceServer struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

// ICEServers fetches STUN/TURN servers for a new peer connection
func (c *APIClient) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var resp struct {
		envelope
		ICEServers []iceServer `json:"iceServers"`
	}
	if err := c.do(ctx, "fetch ice servers", "", http.MethodGet, "calls/ice-servers", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("fetch ice servers"); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(resp.ICEServers))
	for _, s := range resp.ICEServers {
		var urls []string
		if err := json.Unmarshal(s.URLs, &urls); err != nil {
			var single string
			if err := json.Unmarshal(s.URLs, &single); err != nil {
				return nil, newError(ErrBackendUnavailable, "fetch ice servers", "", fmt.Errorf("invalid urls: %w", err))
			}
			urls = []string{single}
		}
		server := webrtc.ICEServer{URLs: urls, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// LogCallEvent appends an entry to the backend call log
func (c *APIClient) LogCallEvent(ctx context.Context, entry *CallLogEntry) error {
	payload := struct {
		CallID       string        `json:"callId"`
		Event        string        `json:"event"`
		AttendanceID string        `json:"attendanceId,omitempty"`
		Direction    CallDirection `json:"direction,omitempty"`
		CallType     CallType      `json:"callType,omitempty"`
		PeerID       string        `json:"peerId,omitempty"`
		Status       CallStatus    `json:"status,omitempty"`
		Reason       string        `json:"reason,omitempty"`
		Duration     int64         `json:"duration"`
		IsGroupCall  bool          `json:"isGroupCall"`
		Timestamp    time.Time     `json:"timestamp"`
	}{
		CallID:       entry.CallID,
		Event:        entry.Event,
		AttendanceID: entry.AttendanceID,
		Direction:    entry.Direction,
		CallType:     entry.CallType,
		PeerID:       entry.PeerID,
		Status:       entry.Status,
		Reason:       entry.Reason,
		Duration:     int64(entry.Duration / time.Second),
		IsGroupCall:  entry.IsGroupCall,
		Timestamp:    entry.At,
	}

	var resp envelope
	if err := c.do(ctx, "log call event", entry.CallID, http.MethodPost, "calls/logs", payload, &resp); err != nil {
		return err
	}
	return resp.check("log call event")
}
