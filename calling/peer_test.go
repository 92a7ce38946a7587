/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

func newTestEntry(t *testing.T, hooks peerHooks) (*PeerEntry, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	return newPeerEntry("bob", conn, hooks, quietLogger()), conn
}

func TestPeerEntryQueuesCandidatesUntilRemoteDescription(t *testing.T) {
	entry, conn := newTestEntry(t, peerHooks{})

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, entry.AddRemoteCandidate(candidate(c)))
	}
	assert.Equal(t, 3, entry.PendingCandidates())
	assert.Empty(t, conn.Candidates(), "nothing may reach the connection before the remote description")

	require.NoError(t, entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "offer", SDP: "remote"}))
	assert.Equal(t, []string{"c1", "c2", "c3"}, conn.Candidates())
	assert.Zero(t, entry.PendingCandidates())

	require.NoError(t, entry.AddRemoteCandidate(candidate("c4")))
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, conn.Candidates())
}

func TestPeerEntryIgnoresUnsolicitedAnswer(t *testing.T) {
	entry, conn := newTestEntry(t, peerHooks{})

	require.NoError(t, entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "answer", SDP: "late"}))
	conn.mu.Lock()
	assert.Nil(t, conn.remote)
	conn.mu.Unlock()

	_, err := entry.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "answer", SDP: "a1"}))

	// A redelivered answer is dropped instead of failing the connection
	conn.setRemoteErr = errors.New("wrong state")
	assert.NoError(t, entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "answer", SDP: "a1"}))
}

func TestPeerEntryRemoteDescriptionFailure(t *testing.T) {
	entry, conn := newTestEntry(t, peerHooks{})
	conn.setRemoteErr = errors.New("bad sdp")

	require.NoError(t, entry.AddRemoteCandidate(candidate("c1")))
	err := entry.ApplyRemoteDescription(signaling.SessionDescription{Type: "offer", SDP: "broken"})
	require.Error(t, err)
	assert.Equal(t, 1, entry.PendingCandidates(), "queued candidates survive a failed description")
}

func TestPeerEntryAttachTrack(t *testing.T) {
	entry, conn := newTestEntry(t, peerHooks{})

	added, err := entry.AttachTrack(newFakeTrack("a1", TrackKindAudio))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = entry.AttachTrack(newFakeTrack("a2", TrackKindAudio))
	require.NoError(t, err)
	assert.False(t, added, "same kind replaces the existing sender")
	assert.Equal(t, 1, conn.replaced)

	added, err = entry.AttachTrack(newFakeTrack("v1", TrackKindVideo))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, conn.tracks, 2)
}

func TestPeerEntryHooksAndClose(t *testing.T) {
	var states []ConnectionState
	var candidates []string
	var tracks []string
	entry, conn := newTestEntry(t, peerHooks{
		onCandidate: func(p *PeerEntry, c signaling.ICECandidate) { candidates = append(candidates, c.Candidate) },
		onState:     func(p *PeerEntry, s ConnectionState) { states = append(states, s) },
		onTrack:     func(p *PeerEntry, tr RemoteTrack) { tracks = append(tracks, tr.ID()) },
	})

	conn.fireCandidate(candidate("local-1"))
	conn.fireState(ConnectionStateConnecting)
	conn.fireState(ConnectionStateConnecting)
	conn.fireState(ConnectionStateConnected)
	conn.fireTrack(fakeRemoteTrack{id: "remote-audio", kind: TrackKindAudio})

	assert.Equal(t, []string{"local-1"}, candidates)
	assert.Equal(t, []ConnectionState{ConnectionStateConnecting, ConnectionStateConnected}, states)
	assert.Equal(t, []string{"remote-audio"}, tracks)
	assert.Equal(t, ConnectionStateConnected, entry.State())

	entry.Close()
	entry.Close()
	assert.True(t, conn.Closed())
	assert.Equal(t, ConnectionStateClosed, entry.State())

	// Nothing is reported after close
	conn.fireState(ConnectionStateFailed)
	conn.fireCandidate(candidate("local-2"))
	assert.Len(t, states, 2)
	assert.Len(t, candidates, 1)

	_, err := entry.AttachTrack(newFakeTrack("a1", TrackKindAudio))
	assert.Error(t, err)
	_, err = entry.CreateOffer(context.Background())
	assert.Error(t, err)
}
