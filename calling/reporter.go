/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Call log event names
const (
	LogCallStarted      = "call_started"
	LogCallConnected    = "call_connected"
	LogCallEnded        = "call_ended"
	LogCallFailed       = "call_failed"
	LogIncomingAccepted = "incoming_accepted"
	LogIncomingRejected = "incoming_rejected"
	LogIncomingMissed   = "incoming_missed"
	LogGroupStarted     = "group_call_started"
	LogGroupJoined      = "group_call_joined"
	LogGroupLeft        = "group_call_left"
	LogGroupEnded       = "group_call_ended"
)

// CallLogEntry is one call log record
type CallLogEntry struct {
	CallID string
	Event  string

	// AttendanceID tells apart two stays of the local user in the same
	// group call. Empty for one-to-one calls.
	AttendanceID string

	Direction   CallDirection
	CallType    CallType
	PeerID      string
	Status      CallStatus
	Reason      string
	Duration    time.Duration
	IsGroupCall bool
	At          time.Time
}

// dedupKey identifies an entry for deduplication. Entries without a callId
// have none.
func (e *CallLogEntry) dedupKey() string {
	if e.CallID == "" {
		return ""
	}
	key := e.CallID + "|" + e.Event
	if e.AttendanceID != "" {
		key += "|" + e.AttendanceID
	}
	return key
}

// terminal reports whether the entry closes a one-to-one call record
func (e *CallLogEntry) terminal() bool {
	return e.CallID != "" && !e.IsGroupCall && (e.Event == LogCallEnded || e.Event == LogCallFailed)
}

// HistoryStore keeps a local copy of the call log
type HistoryStore interface {
	Record(ctx context.Context, entry *CallLogEntry) error
}

// Reporter delivers call log entries in the background. Report never blocks
// and delivery failures only reach the log.
type Reporter struct {
	backend Backend
	store   HistoryStore
	logger  logrus.FieldLogger
	timeout time.Duration

	queue chan *CallLogEntry
	seen  *lru.Cache[string, struct{}]

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewReporter starts a reporter. backend and store may be nil.
func NewReporter(backend Backend, store HistoryStore, config *Config, logger logrus.FieldLogger) *Reporter {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	size := config.ReporterQueueSize
	if size <= 0 {
		size = 256
	}
	seen, _ := lru.New[string, struct{}](4096)

	r := &Reporter{
		backend: backend,
		store:   store,
		logger:  logger,
		timeout: config.RequestTimeout,
		queue:   make(chan *CallLogEntry, size),
		seen:    seen,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Report queues entry. Entries repeating a (callId, event) pair are dropped,
// as are entries reported while the queue is full or after Close. Group
// entries are keyed per attendance so a rejoin is logged again. Entries
// without a callId (a call that failed before the backend assigned one) are
// never deduplicated and only reach the history store.
func (r *Reporter) Report(entry CallLogEntry) {
	if r == nil {
		return
	}
	if key := entry.dedupKey(); key != "" {
		if seen, _ := r.seen.ContainsOrAdd(key, struct{}{}); seen {
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- &entry:
	default:
		r.logger.WithFields(logrus.Fields{
			"call_id": entry.CallID,
			"event":   entry.Event,
		}).Warn("Call log queue full, dropping entry")
	}
}

// Close stops accepting entries and waits for queued ones to be delivered.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Reporter) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.deliver(entry)
	}
}

func (r *Reporter) deliver(entry *CallLogEntry) {
	log := r.logger.WithFields(logrus.Fields{
		"call_id": entry.CallID,
		"event":   entry.Event,
	})

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	switch {
	case r.backend == nil:
	case entry.CallID == "":
		log.Debug("No call id, keeping the entry local")
	default:
		if err := r.backend.LogCallEvent(ctx, entry); err != nil {
			log.WithError(err).Warn("Failed to log call event")
		}
		if entry.terminal() {
			err := r.backend.UpdateCallStatus(ctx, entry.CallID, entry.Status, entry.Duration)
			if IsStaleEvent(err) {
				log.WithError(err).Debug("Call already closed on backend")
			} else if err != nil {
				log.WithError(err).Warn("Failed to update call status")
			}
		}
	}
	if r.store != nil {
		if err := r.store.Record(ctx, entry); err != nil {
			log.WithError(err).Warn("Failed to record call history")
		}
	}
}
