/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package mercury is the websocket transport for call signaling. A Client
// implements signaling.Channel over one persistent connection, with an
// authorization handshake, ping/pong keepalive, and reconnection with
// exponential backoff.
package mercury

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/chatsdk"
	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// Config holds the configuration for the websocket transport
type Config struct {
	PingInterval                time.Duration // Interval between ping messages
	PongTimeout                 time.Duration // Timeout for receiving a pong response
	HandshakeTimeout            time.Duration // Websocket dial handshake timeout
	AuthTimeout                 time.Duration // Time allowed for the authorization reply
	WriteTimeout                time.Duration // Deadline for a single frame write
	BackoffTimeMax              time.Duration // Maximum time between connection attempts
	BackoffTimeReset            time.Duration // Initial time before the first retry
	MaxRetries                  int           // Retries on reconnect before giving up
	InitialConnectionMaxRetries int           // Retries on the first connect before giving up
	DedupSize                   int           // Envelope IDs remembered for redelivery dedup
}

// DefaultConfig returns the default configuration for the websocket transport
func DefaultConfig() *Config {
	return &Config{
		PingInterval:                30 * time.Second,
		PongTimeout:                 10 * time.Second,
		HandshakeTimeout:            10 * time.Second,
		AuthTimeout:                 30 * time.Second,
		WriteTimeout:                10 * time.Second,
		BackoffTimeMax:              32 * time.Second,
		BackoffTimeReset:            1 * time.Second,
		MaxRetries:                  3,
		InitialConnectionMaxRetries: 5,
		DedupSize:                   signaling.DefaultDedupSize,
	}
}

// control frames share the socket with signaling envelopes
type frame struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Event     signaling.Name  `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

const (
	frameAuthorization = "authorization"
	frameAuthorized    = "authorized"
	frameError         = "error"
)

// Client is a websocket signaling channel
type Client struct {
	*signaling.Dispatcher

	config *Config
	wsURL  string
	token  string
	dialer *websocket.Dialer
	logger logrus.FieldLogger

	mu             sync.Mutex
	writeMu        sync.Mutex
	conn           *websocket.Conn
	connected      bool
	connecting     bool
	hasConnected   bool
	closeCh        chan struct{}
	done           chan struct{}
	currentBackoff time.Duration
}

var _ signaling.Channel = (*Client)(nil)

// New creates a websocket signaling client for wsURL, authenticating with the
// core client's access token and reusing its transport and logger.
func New(core *chatsdk.Client, wsURL string, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	dialer := &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	if core != nil && core.GetHTTPClient() != nil {
		if transport, ok := core.GetHTTPClient().Transport.(*http.Transport); ok {
			dialer.NetDialContext = transport.DialContext
			dialer.TLSClientConfig = transport.TLSClientConfig
		}
	}

	var token string
	var logger logrus.FieldLogger = logrus.StandardLogger()
	if core != nil {
		token = core.GetAccessToken()
		logger = core.GetLogger()
	}
	logger = logger.WithField("component", "mercury")

	return &Client{
		Dispatcher:     signaling.NewDispatcher(config.DedupSize, logger),
		config:         config,
		wsURL:          wsURL,
		token:          token,
		dialer:         dialer,
		logger:         logger,
		closeCh:        make(chan struct{}),
		done:           make(chan struct{}),
		currentBackoff: config.BackoffTimeReset,
	}
}

// Connect establishes the websocket connection, retrying with backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	if c.wsURL == "" {
		c.mu.Unlock()
		return fmt.Errorf("no websocket URL configured")
	}
	c.connecting = true
	c.mu.Unlock()

	c.SetState(signaling.StateConnecting)
	return c.connectWithBackoff(ctx)
}

// Disconnect closes the websocket connection and stops reconnection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected && !c.connecting {
		c.mu.Unlock()
		return nil
	}

	close(c.closeCh)
	c.closeCh = make(chan struct{})

	conn := c.conn
	c.conn = nil
	c.connected = false
	c.connecting = false
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Disconnected by client"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.SetState(signaling.StateDisconnected)
	return nil
}

// IsConnected returns whether the socket is up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes one signaling event. Nothing is buffered while disconnected.
func (c *Client) Send(ctx context.Context, ev signaling.Event) error {
	env, err := signaling.Encode(ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return signaling.ErrNotConnected
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", signaling.ErrNotConnected, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", signaling.ErrNotConnected, err)
	}
	return nil
}

func (c *Client) connectWithBackoff(ctx context.Context) error {
	c.mu.Lock()
	c.currentBackoff = c.config.BackoffTimeReset
	maxRetries := c.config.MaxRetries
	if !c.hasConnected {
		maxRetries = c.config.InitialConnectionMaxRetries
	}
	closeCh := c.closeCh
	c.mu.Unlock()

	var err error
retry:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = c.attemptConnection(ctx)
		if err == nil {
			return nil
		}

		c.logger.WithError(err).WithField("attempt", attempt+1).Warn("Websocket connection attempt failed")
		if attempt == maxRetries {
			break
		}

		select {
		case <-time.After(c.currentBackoff):
			c.currentBackoff *= 2
			if c.currentBackoff > c.config.BackoffTimeMax {
				c.currentBackoff = c.config.BackoffTimeMax
			}
		case <-closeCh:
			return nil
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		}
	}

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	c.SetState(signaling.StateDisconnected)
	return fmt.Errorf("failed to connect after %d attempts: %w", maxRetries+1, err)
}

func (c *Client) attemptConnection(ctx context.Context) error {
	parsedURL, err := url.Parse(c.wsURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	query := parsedURL.Query()
	query.Set("clientTimestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	parsedURL.RawQuery = query.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.token)
	headers.Set(chatsdk.TrackingHeader, "go-sdk_"+uuid.NewString())

	conn, _, err := c.dialer.DialContext(ctx, parsedURL.String(), headers)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	if err := c.authenticate(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	c.mu.Lock()
	if !c.connecting {
		// Disconnect won the race.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	c.hasConnected = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.SetState(signaling.StateConnected)
	c.logger.Info("Websocket signaling connected")

	go c.startPingPong(conn, done)
	go c.listen(conn, done)
	return nil
}

// authenticate sends the authorization frame and waits for the server's reply.
func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn) error {
	data, _ := json.Marshal(map[string]string{"token": c.token})
	auth := frame{ID: uuid.NewString(), Type: frameAuthorization, Data: data}
	msg, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to marshal auth message: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to send auth message: %w", err)
	}

	deadline := time.Now().Add(c.config.AuthTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("error reading auth response: %w", err)
		}
		var reply frame
		if err := json.Unmarshal(raw, &reply); err != nil {
			continue
		}
		switch reply.Type {
		case frameAuthorized:
			return nil
		case frameError:
			return fmt.Errorf("authorization failed: %s", string(reply.Data))
		}
	}
}

func (c *Client) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionError(conn, err)
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.logger.WithError(err).Debug("Ignoring malformed websocket frame")
			continue
		}
		if f.Event == "" {
			continue
		}

		// Handlers run inline so events of one kind keep their send order.
		c.Dispatch(&signaling.Envelope{ID: f.ID, Event: f.Event, Data: f.Data, Timestamp: f.Timestamp})
	}
}

func (c *Client) handleConnectionError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	wasConnected := c.connected
	c.connected = false
	c.conn = nil
	closeCh := c.closeCh
	c.mu.Unlock()

	if !wasConnected {
		return
	}

	select {
	case <-closeCh:
		return
	default:
	}

	c.logger.WithError(err).Warn("Websocket signaling lost, reconnecting")
	go c.reconnect()
}

func (c *Client) startPingPong(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(conn); err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) ping(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout)); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, []byte(fmt.Sprintf("%d", time.Now().UnixMilli())),
		time.Now().Add(c.config.WriteTimeout))
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.connected || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	c.SetState(signaling.StateConnecting)
	if err := c.connectWithBackoff(context.Background()); err != nil {
		c.logger.WithError(err).Error("Websocket signaling reconnect gave up")
	}
}
