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
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ---- Signaling ----

type fakeChannel struct {
	*signaling.Dispatcher

	mu      sync.Mutex
	sent    []signaling.Event
	sendErr error
}

func newFakeChannel() *fakeChannel {
	c := &fakeChannel{Dispatcher: signaling.NewDispatcher(0, quietLogger())}
	c.SetState(signaling.StateConnected)
	return c
}

func (c *fakeChannel) Send(ctx context.Context, ev signaling.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, ev)
	return nil
}

// inject delivers ev as if it arrived from the server
func (c *fakeChannel) inject(t *testing.T, ev signaling.Event) {
	t.Helper()
	env, err := signaling.Encode(ev)
	require.NoError(t, err)
	c.Dispatch(env)
}

func (c *fakeChannel) Sent() []signaling.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.Event(nil), c.sent...)
}

func (c *fakeChannel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// sentOf returns the sent events of type T, in send order
func sentOf[T signaling.Event](c *fakeChannel) []T {
	var out []T
	for _, ev := range c.Sent() {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

// ---- Backend ----

type statusUpdate struct {
	CallID   string
	Status   CallStatus
	Duration time.Duration
}

type fakeBackend struct {
	mu sync.Mutex

	seq          int
	createErr    error
	createBlock  chan struct{}
	blocked      int
	creates      []CreateCallRequest
	updates      []statusUpdate
	groupErr     error
	groupRecord  *GroupCallRecord
	joinRecord   *GroupCallRecord
	joined       []string
	left         []string
	endedGroups  []string
	logs         []CallLogEntry
	logErr       error
	iceServers   []webrtc.ICEServer
	iceServerErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (b *fakeBackend) CreateCall(ctx context.Context, req *CreateCallRequest) (*CallRecord, error) {
	b.mu.Lock()
	block := b.createBlock
	if block != nil {
		b.blocked++
	}
	b.mu.Unlock()
	if block != nil {
		<-block
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates = append(b.creates, *req)
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.seq++
	return &CallRecord{
		ID:       fmt.Sprintf("call-%d", b.seq),
		CalleeID: req.CalleeID,
		CallType: req.CallType,
		Status:   "ringing",
	}, nil
}

func (b *fakeBackend) UpdateCallStatus(ctx context.Context, callID string, status CallStatus, duration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, statusUpdate{CallID: callID, Status: status, Duration: duration})
	return b.logErr
}

func (b *fakeBackend) CreateGroupCall(ctx context.Context, conversationID string, callType CallType) (*GroupCallRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groupErr != nil {
		return nil, b.groupErr
	}
	if b.groupRecord != nil {
		return b.groupRecord, nil
	}
	b.seq++
	return &GroupCallRecord{
		ID:             fmt.Sprintf("group-%d", b.seq),
		ConversationID: conversationID,
		CallType:       callType,
	}, nil
}

func (b *fakeBackend) JoinGroupCall(ctx context.Context, groupCallID string) (*GroupCallRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joined = append(b.joined, groupCallID)
	if b.groupErr != nil {
		return nil, b.groupErr
	}
	if b.joinRecord != nil {
		return b.joinRecord, nil
	}
	return &GroupCallRecord{ID: groupCallID}, nil
}

func (b *fakeBackend) LeaveGroupCall(ctx context.Context, groupCallID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.left = append(b.left, groupCallID)
	return nil
}

func (b *fakeBackend) EndGroupCall(ctx context.Context, groupCallID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endedGroups = append(b.endedGroups, groupCallID)
	return nil
}

func (b *fakeBackend) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.iceServers, b.iceServerErr
}

func (b *fakeBackend) LogCallEvent(ctx context.Context, entry *CallLogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, *entry)
	return b.logErr
}

func (b *fakeBackend) Blocked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked
}

func (b *fakeBackend) Logs() []CallLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CallLogEntry(nil), b.logs...)
}

func (b *fakeBackend) Updates() []statusUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]statusUpdate(nil), b.updates...)
}

// hasLog reports whether an entry with event was logged for callID
func (b *fakeBackend) hasLog(callID, event string) bool {
	for _, e := range b.Logs() {
		if e.CallID == callID && e.Event == event {
			return true
		}
	}
	return false
}

// ---- Media ----

type fakeTrack struct {
	id      string
	kind    TrackKind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newFakeTrack(id string, kind TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string              { return t.id }
func (t *fakeTrack) Kind() TrackKind         { return t.kind }
func (t *fakeTrack) Enabled() bool           { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *fakeTrack) Stop()                   { t.stopped.Store(true) }

type fakeMedia struct {
	mu       sync.Mutex
	err      error
	seq      int
	requests []MediaConstraints
	tracks   []*fakeTrack
}

func (m *fakeMedia) GetLocalStream(ctx context.Context, c MediaConstraints) (*LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	if m.err != nil {
		return nil, m.err
	}
	stream := NewLocalStream()
	if c.Audio {
		m.seq++
		t := newFakeTrack(fmt.Sprintf("audio-%d", m.seq), TrackKindAudio)
		m.tracks = append(m.tracks, t)
		stream.AddTrack(t)
	}
	if c.Video {
		m.seq++
		t := newFakeTrack(fmt.Sprintf("video-%d", m.seq), TrackKindVideo)
		m.tracks = append(m.tracks, t)
		stream.AddTrack(t)
	}
	return stream, nil
}

// allStopped reports whether every captured track was stopped
func (m *fakeMedia) allStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks {
		if !t.stopped.Load() {
			return false
		}
	}
	return true
}

// ---- Peer connections ----

type fakeRemoteTrack struct {
	id   string
	kind TrackKind
}

func (t fakeRemoteTrack) ID() string      { return t.id }
func (t fakeRemoteTrack) Kind() TrackKind { return t.kind }

type fakeSender struct {
	conn  *fakeConn
	track LocalTrack
}

func (s *fakeSender) ReplaceTrack(track LocalTrack) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.track = track
	s.conn.replaced++
	return nil
}

type fakeConn struct {
	mu           sync.Mutex
	tracks       []LocalTrack
	replaced     int
	offers       int
	answers      int
	remote       *signaling.SessionDescription
	candidates   []signaling.ICECandidate
	closed       bool
	setRemoteErr error

	onCandidate func(signaling.ICECandidate)
	onState     func(ConnectionState)
	onTrack     func(RemoteTrack)
}

func (c *fakeConn) AddTrack(track LocalTrack) (TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return &fakeSender{conn: c, track: track}, nil
}

func (c *fakeConn) CreateOffer(ctx context.Context) (signaling.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return signaling.SessionDescription{Type: "offer", SDP: fmt.Sprintf("v=0 offer %d", c.offers)}, nil
}

func (c *fakeConn) CreateAnswer(ctx context.Context) (signaling.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil || c.remote.Type != "offer" {
		return signaling.SessionDescription{}, errors.New("no remote offer")
	}
	c.answers++
	return signaling.SessionDescription{Type: "answer", SDP: fmt.Sprintf("v=0 answer %d", c.answers)}, nil
}

func (c *fakeConn) SetRemoteDescription(sd signaling.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setRemoteErr != nil {
		return c.setRemoteErr
	}
	c.remote = &sd
	return nil
}

// AddICECandidate fails without a remote description, like a real stack
func (c *fakeConn) AddICECandidate(candidate signaling.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(signaling.ICECandidate)) { c.onCandidate = fn }
func (c *fakeConn) OnConnectionStateChange(fn func(ConnectionState)) {
	c.onState = fn
}
func (c *fakeConn) OnTrack(fn func(RemoteTrack)) { c.onTrack = fn }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) fireState(s ConnectionState)              { c.onState(s) }
func (c *fakeConn) fireCandidate(cand signaling.ICECandidate) { c.onCandidate(cand) }
func (c *fakeConn) fireTrack(t RemoteTrack)                   { c.onTrack(t) }

func (c *fakeConn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.Candidate
	}
	return out
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

type fakeFactory struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
}

func (f *fakeFactory) NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) Conns() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

// ---- Presentation ----

type fakeNotifier struct {
	mu      sync.Mutex
	shown   []IncomingCall
	cleared int
}

func (n *fakeNotifier) ShowIncomingCall(call IncomingCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, call)
}

func (n *fakeNotifier) ClearAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared++
}

func (n *fakeNotifier) Shown() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.shown)
}

func (n *fakeNotifier) Cleared() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cleared
}

type fakeNavigator struct {
	mu      sync.Mutex
	opened  []ActiveCall
	notices []string
}

func (n *fakeNavigator) OpenCall(call ActiveCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, call)
}

func (n *fakeNavigator) CloseCall(notice string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// live counts opened calls that have not ended
func (n *fakeNavigator) live() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, call := range n.opened {
		if !call.Ended() {
			count++
		}
	}
	return count
}

func (n *fakeNavigator) Notices() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...)
}

// ---- Harness ----

type harness struct {
	clock     *clock.Mock
	channel   *fakeChannel
	backend   *fakeBackend
	media     *fakeMedia
	factory   *fakeFactory
	notifier  *fakeNotifier
	navigator *fakeNavigator
	metrics   *Metrics
	client    *CallingClient
}

func newHarness(t *testing.T, userID, deviceID string) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewMock(),
		channel:   newFakeChannel(),
		backend:   newFakeBackend(),
		media:     &fakeMedia{},
		factory:   &fakeFactory{},
		notifier:  &fakeNotifier{},
		navigator: &fakeNavigator{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	client, err := NewCallingClient(DefaultConfig(), &CallingClientConfig{
		Identity:  Identity{UserID: userID, DeviceID: deviceID, DisplayName: userID},
		Channel:   h.channel,
		Backend:   h.backend,
		Media:     h.media,
		Factory:   h.factory,
		Notifier:  h.notifier,
		Navigator: h.navigator,
		Clock:     h.clock,
		Metrics:   h.metrics,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	client.Start()
	h.client = client
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })
	return h
}

// fire advances the mock clock and lets timer callbacks run
func (h *harness) fire(d time.Duration) {
	h.clock.Add(d)
}

// lastConn returns the most recently created peer connection
func (h *harness) lastConn(t *testing.T) *fakeConn {
	t.Helper()
	conns := h.factory.Conns()
	require.NotEmpty(t, conns)
	return conns[len(conns)-1]
}

func candidate(s string) signaling.ICECandidate {
	return signaling.ICECandidate{Candidate: s}
}
