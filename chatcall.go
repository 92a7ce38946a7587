/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package chatcall wires the chat backend, the websocket signaling channel,
// and the calling client into a single entry point.
package chatcall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/calling"
	"github.com/tejzpr/chatcall-go-sdk/chatsdk"
	"github.com/tejzpr/chatcall-go-sdk/history"
	"github.com/tejzpr/chatcall-go-sdk/mercury"
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	// Core configures the REST client for the chat backend
	Core *chatsdk.Config

	// SignalingURL is the websocket endpoint of the signaling server
	SignalingURL string
	Mercury      *mercury.Config

	Calling *calling.Config

	// HistoryPath enables the local call history database
	HistoryPath string

	// Media defaults to calling.StaticDevices; Factory to a pion factory
	Media     calling.MediaDevices
	Factory   calling.ConnectionFactory
	Notifier  calling.NotificationPresenter
	Navigator calling.Navigator

	// Registerer receives the calling metrics when set
	Registerer prometheus.Registerer

	Logger logrus.FieldLogger
}

// Client is the top-level client for chat calls
type Client struct {
	core      *chatsdk.Client
	signaling *mercury.Client
	api       *calling.APIClient
	history   *history.Store
	calling   *calling.CallingClient
	identity  calling.Identity

	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client for the user named by the access token. The
// token is read, not verified: the backend stays the authority on it.
func NewClient(accessToken string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}

	coreConfig := chatsdk.DefaultConfig()
	if opts.Core != nil {
		copied := *opts.Core
		coreConfig = &copied
	}
	if coreConfig.Logger == nil && opts.Logger != nil {
		coreConfig.Logger = opts.Logger
	}
	core, err := chatsdk.NewClient(accessToken, coreConfig)
	if err != nil {
		return nil, err
	}
	logger := core.GetLogger()

	claims, err := core.TokenClaims(time.Now())
	if err != nil {
		return nil, err
	}
	identity := calling.Identity{
		UserID:      claims.UserID,
		DeviceID:    claims.DeviceID,
		DisplayName: claims.Name,
	}
	if identity.DeviceID == "" {
		identity.DeviceID = uuid.New().String()
		logger.WithField("device_id", identity.DeviceID).Debug("Token carries no device ID, generated one")
	}

	client := &Client{
		core:      core,
		signaling: mercury.New(core, opts.SignalingURL, opts.Mercury),
		api:       calling.NewAPIClient(core),
		identity:  identity,
	}

	if opts.HistoryPath != "" {
		client.history, err = history.Open(opts.HistoryPath, logger)
		if err != nil {
			return nil, err
		}
	}

	media := opts.Media
	if media == nil {
		media = &calling.StaticDevices{StreamID: identity.DeviceID}
	}
	factory := opts.Factory
	if factory == nil {
		factory, err = calling.NewPionFactory(logger)
		if err != nil {
			client.closeHistory()
			return nil, err
		}
	}

	var metrics *calling.Metrics
	if opts.Registerer != nil {
		metrics = calling.NewMetrics(opts.Registerer)
	}

	clientConfig := &calling.CallingClientConfig{
		Identity:  identity,
		Channel:   client.signaling,
		Backend:   client.api,
		Media:     media,
		Factory:   factory,
		Notifier:  opts.Notifier,
		Navigator: opts.Navigator,
		Metrics:   metrics,
		Logger:    logger,
	}
	// A nil *history.Store must not reach the interface
	if client.history != nil {
		clientConfig.History = client.history
	}

	client.calling, err = calling.NewCallingClient(opts.Calling, clientConfig)
	if err != nil {
		client.closeHistory()
		return nil, fmt.Errorf("failed to create calling client: %w", err)
	}
	return client, nil
}

// Identity returns the local user and device
func (c *Client) Identity() calling.Identity { return c.identity }

// Core returns the REST client
func (c *Client) Core() *chatsdk.Client { return c.core }

// Signaling returns the websocket signaling channel
func (c *Client) Signaling() *mercury.Client { return c.signaling }

// Calling returns the calling client
func (c *Client) Calling() *calling.CallingClient { return c.calling }

// History returns the local call history, or nil when disabled
func (c *Client) History() *history.Store { return c.history }

// Connect opens the signaling channel and starts routing call events.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("client is closed")
	}

	// Handlers go in first so nothing delivered during connect is lost
	c.calling.Start()
	if err := c.signaling.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect signaling: %w", err)
	}
	return nil
}

// Close ends any active call, disconnects signaling, and closes the
// history database. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if err := c.calling.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.signaling.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	if err := c.closeHistory(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) closeHistory() error {
	if c.history == nil {
		return nil
	}
	return c.history.Close()
}
