/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling implements one-to-one and group voice/video calls over a
// signaling channel.
// It includes the call state machine (Session), the mesh orchestrator
// (GroupCall), incoming call arbitration (IncomingRegistry), call logging
// (Reporter), and the Client that ties them together.
package calling

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// deps are the collaborators shared by every call the Client creates.
type deps struct {
	identity Identity
	channel  signaling.Channel
	backend  Backend
	media    MediaDevices
	factory  ConnectionFactory
	clock    clock.Clock
	reporter *Reporter
	metrics  *Metrics
	logger   logrus.FieldLogger
	config   *Config
}

// requestContext bounds a background request by the configured timeout.
func (d *deps) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d.config.RequestTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d.config.RequestTimeout)
}

// send publishes ev, wrapping failures as ErrSignalingUnavailable.
func (d *deps) send(ctx context.Context, op, callID string, ev signaling.Event) error {
	ctx, cancel := d.requestContext(ctx)
	defer cancel()
	if err := d.channel.Send(ctx, ev); err != nil {
		return newError(ErrSignalingUnavailable, op, callID, err)
	}
	return nil
}

// iceServers asks the backend for ICE servers, falling back to the
// configured defaults.
func (d *deps) iceServers(ctx context.Context) []webrtc.ICEServer {
	servers, err := d.backend.ICEServers(ctx)
	if err != nil || len(servers) == 0 {
		if err != nil {
			d.logger.WithError(err).Debug("Using default ICE servers")
		}
		return d.config.ICEServers
	}
	return servers
}

func (d *deps) report(entry CallLogEntry) {
	if entry.At.IsZero() {
		entry.At = d.clock.Now()
	}
	d.reporter.Report(entry)
}
