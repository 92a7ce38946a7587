/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownEvent is returned when decoding an envelope whose event name is
// not part of the signaling protocol.
var ErrUnknownEvent = errors.New("unknown signaling event")

// Envelope is the wire frame for a signaling event. ID is stable across
// redeliveries of the same send so receivers can drop duplicates.
type Envelope struct {
	ID        string          `json:"id"`
	Event     Name            `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

var factories = map[Name]func() Event{
	NameInvite:                func() Event { return &Invite{} },
	NameAccept:                func() Event { return &Accept{} },
	NameOffer:                 func() Event { return &Offer{} },
	NameAnswer:                func() Event { return &Answer{} },
	NameCandidate:             func() Event { return &Candidate{} },
	NameReject:                func() Event { return &Reject{} },
	NameAnsweredOnDevice:      func() Event { return &AnsweredOnDevice{} },
	NameCallEnded:             func() Event { return &CallEnded{} },
	NameSessionTerminated:     func() Event { return &SessionTerminated{} },
	NameRejectedOnOtherDevice: func() Event { return &RejectedOnOtherDevice{} },
	NameGroupInvite:           func() Event { return &GroupInvite{} },
	NameGroupInviteCancelled:  func() Event { return &GroupInviteCancelled{} },
	NameParticipantJoined:     func() Event { return &ParticipantJoined{} },
	NameParticipantLeft:       func() Event { return &ParticipantLeft{} },
	NameGroupCallEnded:        func() Event { return &GroupCallEnded{} },
	NameScreenShareStarted:    func() Event { return &ScreenShareStarted{} },
	NameScreenShareStopped:    func() Event { return &ScreenShareStopped{} },
	NameMediaState:            func() Event { return &MediaState{} },
}

// Names returns every event name of the protocol.
func Names() []Name {
	names := make([]Name, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// Encode wraps an event into a new envelope with a fresh ID.
func Encode(ev Event) (*Envelope, error) {
	if ev == nil {
		return nil, fmt.Errorf("cannot encode nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", ev.Name(), err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Event:     ev.Name(),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Decode turns an envelope back into its typed event. The returned event is
// a value, not a pointer, so handlers can type-switch on the plain types.
func Decode(env *Envelope) (Event, error) {
	newEvent, ok := factories[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	ptr := newEvent()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ptr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
	}
	return deref(ptr), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *Invite:
		return *e
	case *Accept:
		return *e
	case *Offer:
		return *e
	case *Answer:
		return *e
	case *Candidate:
		return *e
	case *Reject:
		return *e
	case *AnsweredOnDevice:
		return *e
	case *CallEnded:
		return *e
	case *SessionTerminated:
		return *e
	case *RejectedOnOtherDevice:
		return *e
	case *GroupInvite:
		return *e
	case *GroupInviteCancelled:
		return *e
	case *ParticipantJoined:
		return *e
	case *ParticipantLeft:
		return *e
	case *GroupCallEnded:
		return *e
	case *ScreenShareStarted:
		return *e
	case *ScreenShareStopped:
		return *e
	case *MediaState:
		return *e
	}
	return ev
}
