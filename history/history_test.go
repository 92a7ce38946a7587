/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package history

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/chatcall-go-sdk/calling"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "calls.db")
	store, err := Open(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestRecordAndRecent(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.Record(ctx, &calling.CallLogEntry{
		CallID: "call-1", Event: calling.LogCallStarted, Direction: calling.CallDirectionOutgoing,
		CallType: calling.CallTypeVideo, PeerID: "bob", At: base,
	}))
	require.NoError(t, store.Record(ctx, &calling.CallLogEntry{
		CallID: "call-1", Event: calling.LogCallEnded, Direction: calling.CallDirectionOutgoing,
		CallType: calling.CallTypeVideo, PeerID: "bob", Status: calling.CallStatusCompleted,
		Reason: "local_hangup", Duration: 10 * time.Second, At: base.Add(12 * time.Second),
	}))
	require.NoError(t, store.Record(ctx, &calling.CallLogEntry{
		CallID: "group-1", Event: calling.LogCallStarted, IsGroupCall: true, At: base.Add(time.Minute),
	}))

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "group-1", recent[0].CallID)
	assert.True(t, recent[0].IsGroupCall)

	ended := recent[1]
	assert.Equal(t, calling.LogCallEnded, ended.Event)
	assert.Equal(t, calling.CallStatusCompleted, ended.Status)
	assert.Equal(t, 10*time.Second, ended.Duration)
	assert.Equal(t, calling.CallTypeVideo, ended.CallType)
	assert.Equal(t, "local_hangup", ended.Reason)
	assert.True(t, ended.At.Equal(base.Add(12*time.Second)))

	all, err := store.ForCall(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, calling.LogCallStarted, all[0].Event)
}

func TestRecordIgnoresDuplicates(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	entry := &calling.CallLogEntry{CallID: "call-1", Event: calling.LogCallEnded, Status: calling.CallStatusCompleted}
	require.NoError(t, store.Record(ctx, entry))
	entry.Status = calling.CallStatusMissed
	require.NoError(t, store.Record(ctx, entry))

	// Entries without a call ID never collide
	require.NoError(t, store.Record(ctx, &calling.CallLogEntry{Event: calling.LogCallFailed}))
	require.NoError(t, store.Record(ctx, &calling.CallLogEntry{Event: calling.LogCallFailed}))
	require.NoError(t, store.Record(ctx, nil))

	rows, err := store.ForCall(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, calling.CallStatusCompleted, rows[0].Status, "the first entry wins")

	recent, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, &calling.CallLogEntry{CallID: "call-1", Event: calling.LogIncomingMissed}))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Record(ctx, &calling.CallLogEntry{CallID: "call-2", Event: calling.LogCallStarted}), ErrClosed)
	_, err := store.Recent(ctx, 10)
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, calling.LogIncomingMissed, rows[0].Event)
}

func TestStoreBacksReporter(t *testing.T) {
	store, _ := openTestStore(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r := calling.NewReporter(nopBackend{}, store, nil, logger)
	r.Report(calling.CallLogEntry{CallID: "call-1", Event: calling.LogCallStarted})
	r.Report(calling.CallLogEntry{CallID: "call-1", Event: calling.LogCallEnded, Status: calling.CallStatusCompleted})
	r.Close()

	rows, err := store.ForCall(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

type nopBackend struct{}

func (nopBackend) CreateCall(context.Context, *calling.CreateCallRequest) (*calling.CallRecord, error) {
	return &calling.CallRecord{}, nil
}
func (nopBackend) UpdateCallStatus(context.Context, string, calling.CallStatus, time.Duration) error {
	return nil
}
func (nopBackend) CreateGroupCall(context.Context, string, calling.CallType) (*calling.GroupCallRecord, error) {
	return &calling.GroupCallRecord{}, nil
}
func (nopBackend) JoinGroupCall(context.Context, string) (*calling.GroupCallRecord, error) {
	return &calling.GroupCallRecord{}, nil
}
func (nopBackend) LeaveGroupCall(context.Context, string) error              { return nil }
func (nopBackend) EndGroupCall(context.Context, string) error                { return nil }
func (nopBackend) ICEServers(context.Context) ([]webrtc.ICEServer, error)    { return nil, nil }
func (nopBackend) LogCallEvent(context.Context, *calling.CallLogEntry) error { return nil }
