/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package chatsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server, maxRetries int) *Client {
	t.Helper()
	client, err := NewClient("test-token", &Config{
		BaseURL:        server.URL,
		HttpClient:     server.Client(),
		MaxRetries:     maxRetries,
		RetryBaseDelay: time.Millisecond,
		DefaultHeaders: map[string]string{"X-Client": "calling"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("empty token", func(t *testing.T) {
		if _, err := NewClient("", nil); err == nil {
			t.Error("Expected error for empty access token")
		}
	})

	t.Run("default config", func(t *testing.T) {
		client, err := NewClient("token", nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if client.Config.MaxRetries != 3 {
			t.Errorf("Expected MaxRetries 3, got %d", client.Config.MaxRetries)
		}
		if client.GetLogger() == nil {
			t.Error("Expected default logger to be set")
		}
		if client.GetHTTPClient().Timeout != 30*time.Second {
			t.Errorf("Expected 30s timeout, got %v", client.GetHTTPClient().Timeout)
		}
	})

	t.Run("trailing slash trimmed", func(t *testing.T) {
		client, err := NewClient("token", &Config{BaseURL: "https://example.com/api/"})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if client.BaseURL.String() != "https://example.com/api" {
			t.Errorf("Unexpected base URL %q", client.BaseURL.String())
		}
	})
}

func TestRequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if r.Header.Get(TrackingHeader) == "" {
			t.Error("Expected tracking header")
		}
		if r.Header.Get("X-Client") != "calling" {
			t.Error("Expected default header to be applied")
		}
		if r.URL.Path != "/calls/abc" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"success":true}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, 0)
	resp, err := client.RequestWithContext(context.Background(), http.MethodGet, "/calls/abc", nil, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
}

func TestRequest_Retries(t *testing.T) {
	tests := []struct {
		name       string
		failStatus int
		failures   int32
		maxRetries int
		wantStatus int
		wantCalls  int32
	}{
		{"429 then ok", http.StatusTooManyRequests, 1, 3, http.StatusOK, 2},
		{"502 twice then ok", http.StatusBadGateway, 2, 3, http.StatusOK, 3},
		{"503 exhausts retries", http.StatusServiceUnavailable, 10, 2, http.StatusServiceUnavailable, 3},
		{"400 not retried", http.StatusBadRequest, 10, 3, http.StatusBadRequest, 1},
		{"401 not retried", http.StatusUnauthorized, 10, 3, http.StatusUnauthorized, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				if n <= tc.failures {
					w.Header().Set("Retry-After", "0")
					w.WriteHeader(tc.failStatus)
					fmt.Fprintln(w, `{"message":"try later"}`)
					return
				}
				w.WriteHeader(http.StatusOK)
				fmt.Fprintln(w, `{"success":true}`)
			}))
			defer server.Close()

			client := newTestClient(t, server, tc.maxRetries)
			resp, err := client.RequestWithRetry(context.Background(), http.MethodPost, "calls", nil, map[string]string{"a": "b"})
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, resp.StatusCode)
			}
			if got := atomic.LoadInt32(&calls); got != tc.wantCalls {
				t.Errorf("Expected %d attempts, got %d", tc.wantCalls, got)
			}
		})
	}
}

func TestRequest_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server, 5)
	client.Config.RetryBaseDelay = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.RequestWithRetry(ctx, http.MethodGet, "calls", nil, nil); err == nil {
		t.Fatal("Expected error from context cancellation")
	}
}

func TestDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"success":true,"echo":%q}`, in["value"])
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message":"no such call","trackingId":"T-1"}`)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, 0)

	t.Run("decodes body", func(t *testing.T) {
		var out struct {
			Success bool   `json:"success"`
			Echo    string `json:"echo"`
		}
		if err := client.Do(context.Background(), http.MethodPost, "ok", map[string]string{"value": "hi"}, &out); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if !out.Success || out.Echo != "hi" {
			t.Errorf("Unexpected response %+v", out)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if err := client.Do(context.Background(), http.MethodPost, "empty", nil, nil); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
	})

	t.Run("structured error", func(t *testing.T) {
		err := client.Do(context.Background(), http.MethodGet, "missing", nil, nil)
		if !IsNotFound(err) {
			t.Fatalf("Expected a 404 APIError, got %v", err)
		}
	})
}
