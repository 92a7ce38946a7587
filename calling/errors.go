/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is or the Is* helpers.
var (
	ErrBackendUnavailable     = errors.New("backend unavailable")
	ErrSignalingUnavailable   = errors.New("signaling unavailable")
	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
	ErrNegotiationFailed      = errors.New("negotiation failed")
	ErrBusy                   = errors.New("busy")
	ErrTimeout                = errors.New("timeout")
	ErrStaleEvent             = errors.New("stale event")
	ErrInvalidState           = errors.New("invalid state")
)

// Error is a call-level failure. It matches its Kind and its cause with
// errors.Is, so a backend failure can be tested both as
// ErrBackendUnavailable and as a chatsdk API error.
type Error struct {
	Kind   error
	Op     string
	CallID string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.CallID != "" {
		msg += " (callId: " + e.CallID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, callID string, err error) *Error {
	return &Error{Kind: kind, Op: op, CallID: callID, Err: err}
}

func staleError(op, callID, format string, args ...interface{}) *Error {
	return newError(ErrStaleEvent, op, callID, fmt.Errorf(format, args...))
}

// IsBackendUnavailable reports whether err is a backend failure.
func IsBackendUnavailable(err error) bool { return errors.Is(err, ErrBackendUnavailable) }

// IsSignalingUnavailable reports whether err is a signaling channel failure.
func IsSignalingUnavailable(err error) bool { return errors.Is(err, ErrSignalingUnavailable) }

// IsMediaAcquisitionFailed reports whether the camera or microphone could not be opened.
func IsMediaAcquisitionFailed(err error) bool { return errors.Is(err, ErrMediaAcquisitionFailed) }

// IsNegotiationFailed reports whether SDP or ICE negotiation failed.
func IsNegotiationFailed(err error) bool { return errors.Is(err, ErrNegotiationFailed) }

// IsBusy reports whether err is a single-flight violation.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsTimeout reports whether err is a no-answer timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsStaleEvent reports whether err refers to an event for another or finished call.
func IsStaleEvent(err error) bool { return errors.Is(err, ErrStaleEvent) }
