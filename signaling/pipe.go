/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"context"
	"sync"
)

// PipeEnd is one side of an in-process signaling link created by NewPipe.
// Envelopes sent on one end are dispatched on the other end, in send order,
// on a dedicated goroutine.
type PipeEnd struct {
	*Dispatcher

	peer   *PipeEnd
	inbox  chan *Envelope
	done   chan struct{}
	closer *sync.Once
}

// NewPipe returns two connected ends. Useful for local loopback calls and tests.
func NewPipe() (*PipeEnd, *PipeEnd) {
	once := &sync.Once{}
	done := make(chan struct{})
	a := &PipeEnd{Dispatcher: NewDispatcher(0, nil), inbox: make(chan *Envelope, 256), done: done, closer: once}
	b := &PipeEnd{Dispatcher: NewDispatcher(0, nil), inbox: make(chan *Envelope, 256), done: done, closer: once}
	a.peer, b.peer = b, a

	go a.run()
	go b.run()

	a.SetState(StateConnected)
	b.SetState(StateConnected)
	return a, b
}

// Send encodes ev and queues it for the other end.
func (p *PipeEnd) Send(ctx context.Context, ev Event) error {
	if p.State() != StateConnected {
		return ErrNotConnected
	}
	env, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.peer.deliver(ctx, env)
}

// Redeliver queues an already-encoded envelope for the other end again, as
// an at-least-once transport would.
func (p *PipeEnd) Redeliver(ctx context.Context, env *Envelope) error {
	return p.peer.deliver(ctx, env)
}

// Close disconnects both ends.
func (p *PipeEnd) Close() {
	p.closer.Do(func() {
		close(p.done)
		p.SetState(StateDisconnected)
		p.peer.SetState(StateDisconnected)
	})
}

func (p *PipeEnd) deliver(ctx context.Context, env *Envelope) error {
	select {
	case p.inbox <- env:
		return nil
	case <-p.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) run() {
	for {
		select {
		case env := <-p.inbox:
			p.Dispatch(env)
		case <-p.done:
			return
		}
	}
}
