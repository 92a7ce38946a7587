/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// peerHooks receives callbacks from a PeerEntry's connection. Each hook gets
// the entry so owners can tell a replaced entry from the current one.
type peerHooks struct {
	onCandidate func(*PeerEntry, signaling.ICECandidate)
	onState     func(*PeerEntry, ConnectionState)
	onTrack     func(*PeerEntry, RemoteTrack)
}

// PeerEntry is one negotiated media link to a single remote participant.
//
// Remote ICE candidates received before the remote description is applied
// are queued and flushed, in arrival order, right after it is applied.
type PeerEntry struct {
	remoteID string
	conn     PeerConnection
	logger   logrus.FieldLogger

	mu             sync.Mutex
	remoteSet      bool
	awaitingAnswer bool
	pending        []signaling.ICECandidate
	senders        map[TrackKind]TrackSender
	closed         bool

	stateMu sync.Mutex
	state   ConnectionState

	closeOnce sync.Once
}

func newPeerEntry(remoteID string, conn PeerConnection, hooks peerHooks, logger logrus.FieldLogger) *PeerEntry {
	p := &PeerEntry{
		remoteID: remoteID,
		conn:     conn,
		logger:   logger.WithField("remote_id", remoteID),
		senders:  make(map[TrackKind]TrackSender),
		state:    ConnectionStateNew,
	}

	conn.OnICECandidate(func(c signaling.ICECandidate) {
		if hooks.onCandidate != nil && !p.isClosed() {
			hooks.onCandidate(p, c)
		}
	})
	conn.OnConnectionStateChange(func(s ConnectionState) {
		if !p.setState(s) {
			return
		}
		if hooks.onState != nil {
			hooks.onState(p, s)
		}
	})
	conn.OnTrack(func(t RemoteTrack) {
		if hooks.onTrack != nil && !p.isClosed() {
			hooks.onTrack(p, t)
		}
	})
	return p
}

// RemoteID returns the participant this entry connects to
func (p *PeerEntry) RemoteID() string { return p.remoteID }

// State returns the last observed connection state
func (p *PeerEntry) State() ConnectionState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// setState records s and reports whether it changed.
func (p *PeerEntry) setState(s ConnectionState) bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == s || p.state == ConnectionStateClosed {
		return false
	}
	p.state = s
	return true
}

func (p *PeerEntry) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// AttachStream attaches every track of stream
func (p *PeerEntry) AttachStream(stream *LocalStream) error {
	if stream == nil {
		return nil
	}
	for _, t := range stream.Tracks() {
		if _, err := p.AttachTrack(t); err != nil {
			return err
		}
	}
	return nil
}

// AttachTrack sends t to the peer. When a sender of the same kind already
// exists the track is swapped in place; otherwise a new sender is added and
// added reports true, meaning the link must be renegotiated.
func (p *PeerEntry) AttachTrack(t LocalTrack) (added bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, fmt.Errorf("peer %s is closed", p.remoteID)
	}

	if sender, ok := p.senders[t.Kind()]; ok {
		if err := sender.ReplaceTrack(t); err != nil {
			return false, fmt.Errorf("failed to replace %s track: %w", t.Kind(), err)
		}
		return false, nil
	}

	sender, err := p.conn.AddTrack(t)
	if err != nil {
		return false, err
	}
	p.senders[t.Kind()] = sender
	return true, nil
}

// CreateOffer creates and applies a local offer
func (p *PeerEntry) CreateOffer(ctx context.Context) (signaling.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return signaling.SessionDescription{}, fmt.Errorf("peer %s is closed", p.remoteID)
	}
	sd, err := p.conn.CreateOffer(ctx)
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	p.awaitingAnswer = true
	return sd, nil
}

// CreateAnswer creates and applies a local answer to the applied remote offer
func (p *PeerEntry) CreateAnswer(ctx context.Context) (signaling.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return signaling.SessionDescription{}, fmt.Errorf("peer %s is closed", p.remoteID)
	}
	return p.conn.CreateAnswer(ctx)
}

// ApplyRemoteDescription sets the remote offer or answer and flushes queued
// candidates. An answer that arrives when no offer is outstanding is a
// redelivery and is ignored.
func (p *PeerEntry) ApplyRemoteDescription(sd signaling.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("peer %s is closed", p.remoteID)
	}
	if sd.Type == "answer" && !p.awaitingAnswer {
		p.logger.Debug("Ignoring duplicate SDP answer")
		return nil
	}

	if err := p.conn.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("failed to set remote %s: %w", sd.Type, err)
	}
	if sd.Type == "answer" {
		p.awaitingAnswer = false
	}
	p.remoteSet = true

	queued := p.pending
	p.pending = nil
	for _, c := range queued {
		if err := p.conn.AddICECandidate(c); err != nil {
			p.logger.WithError(err).Warn("Failed to apply queued ICE candidate")
		}
	}
	if len(queued) > 0 {
		p.logger.WithField("count", len(queued)).Debug("Flushed queued ICE candidates")
	}
	return nil
}

// AddRemoteCandidate applies c, or queues it until the remote description is set
func (p *PeerEntry) AddRemoteCandidate(c signaling.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		return nil
	}
	return p.conn.AddICECandidate(c)
}

// PendingCandidates returns the number of queued remote candidates
func (p *PeerEntry) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close tears down the connection. Later calls are no-ops.
func (p *PeerEntry) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.pending = nil
		p.mu.Unlock()

		p.stateMu.Lock()
		p.state = ConnectionStateClosed
		p.stateMu.Unlock()

		if err := p.conn.Close(); err != nil {
			p.logger.WithError(err).Debug("Error closing peer connection")
		}
	})
}
