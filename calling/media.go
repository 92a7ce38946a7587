/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// TrackKind is the media kind of a track
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// LocalTrack is a captured local track. Disabling a track keeps it attached
// to every peer connection but stops its media.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// RemoteTrack is a track received from a peer
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
}

// LocalStream groups the local tracks owned by the active call.
type LocalStream struct {
	mu     sync.Mutex
	tracks []LocalTrack
}

// NewLocalStream creates a stream from already captured tracks
func NewLocalStream(tracks ...LocalTrack) *LocalStream {
	return &LocalStream{tracks: tracks}
}

// Tracks returns a snapshot of the stream's tracks
func (s *LocalStream) Tracks() []LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Track returns the first track of the given kind, or nil
func (s *LocalStream) Track(kind TrackKind) LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// AddTrack appends a track to the stream
func (s *LocalStream) AddTrack(t LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Stop stops every track. It is safe to call more than once.
func (s *LocalStream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// MediaConstraints selects which local tracks to capture
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaDevices opens local capture devices
type MediaDevices interface {
	GetLocalStream(ctx context.Context, constraints MediaConstraints) (*LocalStream, error)
}

// TrackSender is the outbound side of an attached track
type TrackSender interface {
	ReplaceTrack(track LocalTrack) error
}

// PeerConnection is the negotiated media link to one remote participant.
// CreateOffer and CreateAnswer also apply the result as local description.
type PeerConnection interface {
	AddTrack(track LocalTrack) (TrackSender, error)
	CreateOffer(ctx context.Context) (signaling.SessionDescription, error)
	CreateAnswer(ctx context.Context) (signaling.SessionDescription, error)
	SetRemoteDescription(sd signaling.SessionDescription) error
	AddICECandidate(candidate signaling.ICECandidate) error
	OnICECandidate(fn func(signaling.ICECandidate))
	OnConnectionStateChange(fn func(ConnectionState))
	OnTrack(fn func(RemoteTrack))
	Close() error
}

// ConnectionFactory creates peer connections
type ConnectionFactory interface {
	NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error)
}

// ---- Static sample tracks ----

// StaticTrack is a LocalTrack backed by a pion sample track. The
// application writes encoded samples; writes are dropped while disabled.
type StaticTrack struct {
	kind    TrackKind
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

// NewStaticTrack creates an opus audio or VP8 video track
func NewStaticTrack(kind TrackKind, streamID string) (*StaticTrack, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case TrackKindAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case TrackKindVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, fmt.Errorf("unsupported track kind %q", kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(capability, string(kind)+"-"+uuid.New().String(), streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	t := &StaticTrack{kind: kind, track: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *StaticTrack) ID() string              { return t.track.ID() }
func (t *StaticTrack) Kind() TrackKind         { return t.kind }
func (t *StaticTrack) Enabled() bool           { return t.enabled.Load() }
func (t *StaticTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *StaticTrack) Stop()                   { t.stopped.Store(true) }

// Stopped reports whether Stop was called
func (t *StaticTrack) Stopped() bool { return t.stopped.Load() }

// TrackLocal returns the pion track to attach to a peer connection
func (t *StaticTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// WriteSample forwards one encoded sample to every attached peer.
func (t *StaticTrack) WriteSample(data []byte, duration time.Duration) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// StaticDevices hands out StaticTracks. Applications feed them from their
// own capture pipeline.
type StaticDevices struct {
	StreamID string
}

// GetLocalStream creates one StaticTrack per requested kind
func (d *StaticDevices) GetLocalStream(ctx context.Context, constraints MediaConstraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !constraints.Audio && !constraints.Video {
		return nil, errors.New("no media requested")
	}

	streamID := d.StreamID
	if streamID == "" {
		streamID = "chatcall"
	}

	stream := NewLocalStream()
	if constraints.Audio {
		t, err := NewStaticTrack(TrackKindAudio, streamID)
		if err != nil {
			return nil, err
		}
		stream.AddTrack(t)
	}
	if constraints.Video {
		t, err := NewStaticTrack(TrackKindVideo, streamID)
		if err != nil {
			return nil, err
		}
		stream.AddTrack(t)
	}
	return stream, nil
}
