/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Send while the channel is down.
var ErrNotConnected = errors.New("signaling channel not connected")

// ConnState is the connection state of a Channel.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Handler receives a decoded signaling event.
type Handler func(Event)

// Channel is a persistent, at-least-once event channel. Delivery is ordered
// per event kind but not across kinds.
type Channel interface {
	// Send publishes an event. It fails fast with ErrNotConnected when the
	// channel is down; nothing is queued.
	Send(ctx context.Context, ev Event) error
	// On registers a handler for an event name (or NameAny) and returns a
	// function that removes it.
	On(name Name, handler Handler) (off func())
	State() ConnState
	OnStateChange(fn func(ConnState)) (off func())
}

// DefaultDedupSize is the number of envelope IDs remembered for dedup.
const DefaultDedupSize = 4096

type handlerEntry struct {
	fn Handler
}

type stateEntry struct {
	fn func(ConnState)
}

// Dispatcher decodes envelopes, drops redelivered ones, and fans events out
// to registered handlers. Transports embed it to implement the receiving
// half of Channel.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Name][]*handlerEntry
	watchers []*stateEntry
	state    ConnState
	seen     *lru.Cache[string, struct{}]
	logger   logrus.FieldLogger
}

// NewDispatcher creates a dispatcher remembering up to dedupSize envelope IDs.
func NewDispatcher(dedupSize int, logger logrus.FieldLogger) *Dispatcher {
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	seen, _ := lru.New[string, struct{}](dedupSize)
	return &Dispatcher{
		handlers: make(map[Name][]*handlerEntry),
		state:    StateDisconnected,
		seen:     seen,
		logger:   logger,
	}
}

// On registers a handler for name.
func (d *Dispatcher) On(name Name, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	entry := &handlerEntry{fn: handler}

	d.mu.Lock()
	d.handlers[name] = append(d.handlers[name], entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		list := d.handlers[name]
		for i, h := range list {
			if h == entry {
				d.handlers[name] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(d.handlers[name]) == 0 {
			delete(d.handlers, name)
		}
	}
}

// OnStateChange registers a connection state observer.
func (d *Dispatcher) OnStateChange(fn func(ConnState)) func() {
	if fn == nil {
		return func() {}
	}
	entry := &stateEntry{fn: fn}

	d.mu.Lock()
	d.watchers = append(d.watchers, entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, w := range d.watchers {
			if w == entry {
				d.watchers = append(d.watchers[:i:i], d.watchers[i+1:]...)
				break
			}
		}
	}
}

// State returns the last state set by the transport.
func (d *Dispatcher) State() ConnState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetState records a new state and notifies observers if it changed.
func (d *Dispatcher) SetState(state ConnState) {
	d.mu.Lock()
	if d.state == state {
		d.mu.Unlock()
		return
	}
	d.state = state
	watchers := make([]*stateEntry, len(d.watchers))
	copy(watchers, d.watchers)
	d.mu.Unlock()

	for _, w := range watchers {
		w.fn(state)
	}
}

// Dispatch delivers one envelope. It reports false when the envelope was a
// duplicate or could not be decoded. Handlers run on the caller's goroutine,
// in registration order.
func (d *Dispatcher) Dispatch(env *Envelope) bool {
	if env.ID != "" {
		if seen, _ := d.seen.ContainsOrAdd(env.ID, struct{}{}); seen {
			d.logger.WithFields(logrus.Fields{
				"envelope_id": env.ID,
				"event":       env.Event,
			}).Debug("Dropping redelivered signaling event")
			return false
		}
	}

	ev, err := Decode(env)
	if err != nil {
		d.logger.WithError(err).WithField("event", env.Event).Warn("Dropping undecodable signaling event")
		return false
	}

	d.mu.RLock()
	handlers := make([]*handlerEntry, 0, len(d.handlers[env.Event])+len(d.handlers[NameAny]))
	handlers = append(handlers, d.handlers[env.Event]...)
	handlers = append(handlers, d.handlers[NameAny]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		h.fn(ev)
	}
	return true
}

// HandlerCount returns the number of handlers registered for name.
func (d *Dispatcher) HandlerCount(name Name) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name])
}
