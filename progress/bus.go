// Package progress implements the in-process lifecycle event multicast
// described in spec.md §4.8. Unlike the teacher's hooks.Bus, which fans out
// synchronously and fails fast on the first subscriber error, this bus is
// best-effort: a slow or erroring subscriber must never block producers or
// other subscribers, and delivery is at most once per subscriber per event.
package progress

import (
	"context"
	"sync"
)

// Kind enumerates the lifecycle event kinds a run may emit (spec.md §4.8).
type Kind string

const (
	KindLayerStart        Kind = "layer-start"
	KindLayerEmpty        Kind = "layer-empty"
	KindLayerSkipped      Kind = "layer-skipped"
	KindLayerComplete     Kind = "layer-complete"
	KindJobStatus         Kind = "job-status"
	KindError             Kind = "error"
	KindExecutionComplete Kind = "execution-complete"
)

// Event is one lifecycle notification. Fields not relevant to Kind are
// left zero-valued.
type Event struct {
	Kind       Kind
	MovieID    string
	Revision   int
	LayerIndex int
	LayerCount int
	JobID      string
	Status     string // succeeded|failed|skipped, for KindJobStatus
	Message    string
	Err        error
}

// Subscriber receives Events published to a Bus. Handle must not block for
// long: the bus delivers on a per-subscriber buffered channel and drops
// events for a subscriber whose channel is full, rather than letting it
// stall the publisher.
type Subscriber func(Event)

type subscription struct {
	ch     chan Event
	done   chan struct{}
	closed sync.Once
}

// Bus multiplexes lifecycle events to any number of subscribers. Publish
// never blocks: each subscriber has a bounded mailbox, and a full mailbox
// silently drops the event for that subscriber only (spec.md §4.8: "a slow
// subscriber may drop events but must not block producers or other
// subscribers").
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

// NewBus returns a ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// mailboxSize bounds how many undelivered events a slow subscriber may
// accumulate before further events are dropped for it.
const mailboxSize = 64

// Subscribe registers fn to receive every event published after this call,
// delivered on its own goroutine so a slow fn cannot delay other
// subscribers. The returned func unregisters fn; it is safe to call more
// than once.
func (b *Bus) Subscribe(ctx context.Context, fn Subscriber) func() {
	sub := &subscription{ch: make(chan Event, mailboxSize), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case e := <-sub.ch:
				fn(e)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		sub.closed.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Publish delivers event to every currently registered subscriber without
// blocking on any of them. Subscriber panics are not recovered here:
// callers that need isolation should recover inside their own Subscriber.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// mailbox full: drop for this subscriber, per spec.md §4.8.
		}
	}
}
