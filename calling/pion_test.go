/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

func TestPionOfferAnswer(t *testing.T) {
	factory, err := NewPionFactory(quietLogger())
	require.NoError(t, err)

	caller, err := factory.NewPeerConnection(nil)
	require.NoError(t, err)
	defer caller.Close()
	callee, err := factory.NewPeerConnection(nil)
	require.NoError(t, err)
	defer callee.Close()

	devices := &StaticDevices{StreamID: "test"}
	stream, err := devices.GetLocalStream(context.Background(), MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, stream.Tracks(), 2)

	for _, track := range stream.Tracks() {
		sender, err := caller.AddTrack(track)
		require.NoError(t, err)
		require.NotNil(t, sender)
	}

	ctx := context.Background()
	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.True(t, strings.Contains(offer.SDP, "m=audio"))
	assert.True(t, strings.Contains(offer.SDP, "m=video"))

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, caller.SetRemoteDescription(answer))

	// Writes are dropped silently once the track is disabled
	video := stream.Track(TrackKindVideo).(*StaticTrack)
	video.SetEnabled(false)
	assert.NoError(t, video.WriteSample([]byte{0x00}, 33*time.Millisecond))
	stream.Stop()
	assert.True(t, video.Stopped())
}

func TestPionRejectsBadInput(t *testing.T) {
	factory, err := NewPionFactory(nil)
	require.NoError(t, err)
	conn, err := factory.NewPeerConnection(nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Error(t, conn.SetRemoteDescription(signaling.SessionDescription{Type: "bogus", SDP: "v=0"}))

	_, err = conn.AddTrack(newFakeTrack("mic", TrackKindAudio))
	assert.Error(t, err, "only pion-backed tracks can be attached")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = conn.CreateOffer(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticDevicesRequiresMedia(t *testing.T) {
	devices := &StaticDevices{}
	_, err := devices.GetLocalStream(context.Background(), MediaConstraints{})
	assert.Error(t, err)

	stream, err := devices.GetLocalStream(context.Background(), MediaConstraints{Audio: true})
	require.NoError(t, err)
	assert.Nil(t, stream.Track(TrackKindVideo))
	assert.NotNil(t, stream.Track(TrackKindAudio))

	_, err = NewStaticTrack("screen", "s")
	assert.Error(t, err)
}

func TestConnectionStateFromPion(t *testing.T) {
	tests := map[webrtc.PeerConnectionState]ConnectionState{
		webrtc.PeerConnectionStateNew:          ConnectionStateNew,
		webrtc.PeerConnectionStateConnecting:   ConnectionStateConnecting,
		webrtc.PeerConnectionStateConnected:    ConnectionStateConnected,
		webrtc.PeerConnectionStateDisconnected: ConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed:       ConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:       ConnectionStateClosed,
		webrtc.PeerConnectionStateUnknown:      ConnectionStateNew,
	}
	for in, want := range tests {
		assert.Equal(t, want, connectionStateFromPion(in), in.String())
	}
}
