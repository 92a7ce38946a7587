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

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

// PionFactory creates pion-backed peer connections sharing one API
// (codecs and interceptors are registered once).
type PionFactory struct {
	api    *webrtc.API
	logger logrus.FieldLogger
}

// NewPionFactory registers the default codecs and interceptors (RTCP
// reports, NACK, TWCC) and returns a factory.
func NewPionFactory(logger logrus.FieldLogger) (*PionFactory, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)
	return &PionFactory{api: api, logger: logger}, nil
}

// NewPeerConnection creates a connection using the given ICE servers
func (f *PionFactory) NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionConnection{pc: pc, logger: f.logger}, nil
}

type pionConnection struct {
	pc     *webrtc.PeerConnection
	logger logrus.FieldLogger
	mu     sync.Mutex
}

// trackLocalProvider is implemented by tracks that can be attached to pion
type trackLocalProvider interface {
	TrackLocal() webrtc.TrackLocal
}

func (c *pionConnection) AddTrack(track LocalTrack) (TrackSender, error) {
	provider, ok := track.(trackLocalProvider)
	if !ok {
		return nil, fmt.Errorf("track %s cannot be attached to a pion connection", track.ID())
	}

	sender, err := c.pc.AddTrack(provider.TrackLocal())
	if err != nil {
		return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}

	// Read RTCP from the sender so interceptors keep running
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return &pionSender{sender: sender}, nil
}

func (c *pionConnection) CreateOffer(ctx context.Context) (signaling.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *pionConnection) CreateAnswer(ctx context.Context) (signaling.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *pionConnection) SetRemoteDescription(sd signaling.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sdpType := webrtc.NewSDPType(sd.Type)
	if sdpType == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", sd.Type)
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sd.SDP})
}

func (c *pionConnection) AddICECandidate(candidate signaling.ICECandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
}

func (c *pionConnection) OnICECandidate(fn func(signaling.ICECandidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		fn(signaling.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (c *pionConnection) OnConnectionStateChange(fn func(ConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(connectionStateFromPion(s))
	})
}

func (c *pionConnection) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			// Ask the sender for a keyframe so rendering can start immediately
			if err := c.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			}); err != nil {
				c.logger.WithError(err).Debug("Failed to send PLI")
			}
		}
		fn(&PionRemoteTrack{track: track})
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

type pionSender struct {
	sender *webrtc.RTPSender
}

func (s *pionSender) ReplaceTrack(track LocalTrack) error {
	if track == nil {
		return s.sender.ReplaceTrack(nil)
	}
	provider, ok := track.(trackLocalProvider)
	if !ok {
		return fmt.Errorf("track %s cannot be attached to a pion connection", track.ID())
	}
	return s.sender.ReplaceTrack(provider.TrackLocal())
}

// PionRemoteTrack wraps a received pion track
type PionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *PionRemoteTrack) ID() string { return t.track.ID() }

func (t *PionRemoteTrack) Kind() TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return TrackKindVideo
	}
	return TrackKindAudio
}

// Remote returns the underlying pion track for reading RTP
func (t *PionRemoteTrack) Remote() *webrtc.TrackRemote { return t.track }

func connectionStateFromPion(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNew
	}
}
