/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package chatcall

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/chatcall-go-sdk/calling"
	"github.com/tejzpr/chatcall-go-sdk/chatsdk"
	"github.com/tejzpr/chatcall-go-sdk/mercury"
	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

func testToken(t *testing.T, subject, deviceID string) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)
	builder := jwt.Signed(signer).Claims(jwt.Claims{
		Subject: subject,
		Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if deviceID != "" {
		builder = builder.Claims(map[string]interface{}{"device_id": deviceID, "name": "Alice"})
	}
	raw, err := builder.Serialize()
	require.NoError(t, err)
	return raw
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// signalingServer authorizes one websocket connection and records the
// names of the events it receives.
type signalingServer struct {
	server *httptest.Server
	mu     sync.Mutex
	events []signaling.Name
}

func newSignalingServer(t *testing.T) *signalingServer {
	ss := &signalingServer{}
	upgrader := websocket.Upgrader{}
	ss.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteJSON(map[string]string{"type": "authorized"}); err != nil {
			return
		}
		for {
			var env signaling.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ss.mu.Lock()
			ss.events = append(ss.events, env.Event)
			ss.mu.Unlock()
		}
	}))
	t.Cleanup(ss.server.Close)
	return ss
}

func (ss *signalingServer) url() string {
	return "ws" + strings.TrimPrefix(ss.server.URL, "http")
}

func (ss *signalingServer) received(name signaling.Name) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, n := range ss.events {
		if n == name {
			return true
		}
	}
	return false
}

func newBackendServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/calls":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"call":    map[string]string{"id": "call-1", "callerId": "alice", "calleeId": "bob", "callType": "audio"},
			})
		case "/calls/ice-servers":
			_, _ = w.Write([]byte(`{"success":true,"iceServers":[]}`))
		default:
			_, _ = w.Write([]byte(`{"success":true}`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testOptions(t *testing.T, backendURL, signalingURL string) *Options {
	mercuryConfig := mercury.DefaultConfig()
	mercuryConfig.InitialConnectionMaxRetries = 0
	mercuryConfig.BackoffTimeReset = 10 * time.Millisecond

	return &Options{
		Core: &chatsdk.Config{
			BaseURL:    backendURL,
			Timeout:    5 * time.Second,
			MaxRetries: 0,
		},
		SignalingURL: signalingURL,
		Mercury:      mercuryConfig,
		HistoryPath:  filepath.Join(t.TempDir(), "calls.db"),
		Registerer:   prometheus.NewRegistry(),
		Logger:       quietLogger(),
	}
}

func TestNewClientIdentity(t *testing.T) {
	client, err := NewClient(testToken(t, "alice", "alice-phone"), &Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer client.Close(context.Background())

	assert.Equal(t, calling.Identity{UserID: "alice", DeviceID: "alice-phone", DisplayName: "Alice"}, client.Identity())
	assert.Equal(t, client.Identity(), client.Calling().Identity())
	assert.Nil(t, client.History())
	assert.NotNil(t, client.Core())
	assert.NotNil(t, client.Signaling())

	// No device claim: one is generated
	other, err := NewClient(testToken(t, "bob", ""), &Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer other.Close(context.Background())
	assert.Equal(t, "bob", other.Identity().UserID)
	assert.NotEmpty(t, other.Identity().DeviceID)
}

func TestNewClientRejectsBadTokens(t *testing.T) {
	_, err := NewClient("", nil)
	assert.Error(t, err)

	_, err = NewClient("not-a-jwt", &Options{Logger: quietLogger()})
	assert.Error(t, err)
}

func TestConnectWithoutSignalingURL(t *testing.T) {
	client, err := NewClient(testToken(t, "alice", "alice-phone"), &Options{Logger: quietLogger()})
	require.NoError(t, err)

	assert.Error(t, client.Connect(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Error(t, client.Connect(context.Background()), "closed clients stay closed")
}

func TestPlaceCallEndToEnd(t *testing.T) {
	backend := newBackendServer(t)
	sig := newSignalingServer(t)

	client, err := NewClient(testToken(t, "alice", "alice-phone"), testOptions(t, backend.URL, sig.url()))
	require.NoError(t, err)
	require.NotNil(t, client.History())

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.Signaling().IsConnected())

	session, err := client.Calling().Call(ctx, calling.Peer{ID: "bob"}, calling.CallTypeAudio)
	require.NoError(t, err)
	assert.Equal(t, calling.CallStateRinging, session.State())
	require.Eventually(t, func() bool { return sig.received(signaling.NameInvite) }, 2*time.Second, 10*time.Millisecond)

	history := client.History()
	require.NoError(t, client.Close(ctx))
	assert.True(t, session.Ended())
	assert.False(t, client.Signaling().IsConnected())
	require.Eventually(t, func() bool { return sig.received(signaling.NameCallEnded) }, 2*time.Second, 10*time.Millisecond)

	// The history database is closed along with the client
	_, err = history.Recent(ctx, 10)
	assert.Error(t, err)
}
