/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package chatsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the chat backend. Callers branch on
// StatusCode through IsNotFound and IsConflict rather than on the message.
type APIError struct {
	StatusCode int
	Message    string

	// TrackingID is taken from the body when present, else from the
	// response header.
	TrackingID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("chat api: status %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.TrackingID != "" {
		msg += " (trackingId: " + e.TrackingID + ")"
	}
	return msg
}

// NewAPIError builds an APIError from a failed response. The backend puts
// the reason in either "message" or "error".
func NewAPIError(resp *http.Response, body []byte) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		TrackingID: resp.Header.Get(TrackingHeader),
	}

	var parsed struct {
		Message    string `json:"message"`
		Error      string `json:"error"`
		TrackingID string `json:"trackingId"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Message = parsed.Message
		if e.Message == "" {
			e.Message = parsed.Error
		}
		if parsed.TrackingID != "" {
			e.TrackingID = parsed.TrackingID
		}
	}
	return e
}

// IsNotFound reports whether the backend has no record of the resource,
// e.g. a call it already cleaned up.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether the backend refused a change because the
// resource moved on, e.g. joining a group call that has already ended.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict, http.StatusGone)
}

func hasStatus(err error, codes ...int) bool {
	var e *APIError
	if !errors.As(err, &e) {
		return false
	}
	for _, code := range codes {
		if e.StatusCode == code {
			return true
		}
	}
	return false
}
