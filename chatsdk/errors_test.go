/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package chatsdk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func newResponse(status int, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     make(http.Header),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestAPIError_ErrorMessage(t *testing.T) {
	msg := (&APIError{StatusCode: 404, Message: "call not found", TrackingID: "T-abc"}).Error()
	for _, s := range []string{"404", "call not found", "T-abc"} {
		if !strings.Contains(msg, s) {
			t.Errorf("Expected error message to contain %q, got %q", s, msg)
		}
	}
	if msg := (&APIError{StatusCode: 500}).Error(); msg != "chat api: status 500" {
		t.Errorf("Unexpected message %q", msg)
	}
}

func TestNewAPIError_Fields(t *testing.T) {
	resp := newResponse(http.StatusConflict, map[string]string{TrackingHeader: "T-header"})

	t.Run("error field and header tracking id", func(t *testing.T) {
		err := NewAPIError(resp, []byte(`{"error":"group call ended"}`))
		if err.Message != "group call ended" {
			t.Errorf("Expected message from error field, got %q", err.Message)
		}
		if err.TrackingID != "T-header" {
			t.Errorf("Expected header tracking id, got %q", err.TrackingID)
		}
	})

	t.Run("body tracking id wins", func(t *testing.T) {
		err := NewAPIError(resp, []byte(`{"message":"x","trackingId":"T-body"}`))
		if err.TrackingID != "T-body" || err.Message != "x" {
			t.Errorf("Unexpected fields %+v", err)
		}
	})

	t.Run("non json body", func(t *testing.T) {
		err := NewAPIError(resp, []byte("gateway exploded"))
		if err.Message != "" || err.StatusCode != http.StatusConflict {
			t.Errorf("Unexpected fields %+v", err)
		}
	})
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		status   int
		notFound bool
		conflict bool
	}{
		{http.StatusNotFound, true, false},
		{http.StatusConflict, false, true},
		{http.StatusGone, false, true},
		{http.StatusUnauthorized, false, false},
		{http.StatusServiceUnavailable, false, false},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			err := fmt.Errorf("join group call: %w", NewAPIError(newResponse(tc.status, nil), nil))
			if got := IsNotFound(err); got != tc.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tc.notFound)
			}
			if got := IsConflict(err); got != tc.conflict {
				t.Errorf("IsConflict = %v, want %v", got, tc.conflict)
			}
		})
	}

	foreign := errors.New("other")
	if IsNotFound(nil) || IsNotFound(foreign) || IsConflict(nil) || IsConflict(foreign) {
		t.Error("Helpers matched a non-API error")
	}
}
