// Package eventbus provides fan-out delivery of task events to subscribers.
package eventbus

import (
	"sync"

	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// queueSize bounds each subscriber's buffer. When a subscriber falls this
// far behind, the oldest buffered event is dropped to make room.
const queueSize = 64

// Bus delivers task events to subscribers. Subscribers joining mid-run see
// only future events; the bus does not replay.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.TaskEvent
	all  []chan *model.TaskEvent
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string][]chan *model.TaskEvent),
	}
}

// Subscribe creates a channel that receives events for one task.
func (b *Bus) Subscribe(taskID string) chan *model.TaskEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.TaskEvent, queueSize)
	b.subs[taskID] = append(b.subs[taskID], ch)
	return ch
}

// SubscribeAll creates a channel that receives every event on the bus.
func (b *Bus) SubscribeAll() chan *model.TaskEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.TaskEvent, queueSize)
	b.all = append(b.all, ch)
	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe and
// closes it.
func (b *Bus) Unsubscribe(taskID string, ch chan *model.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[taskID]
	for i, s := range subs {
		if s == ch {
			b.subs[taskID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// UnsubscribeAll removes a channel previously returned by SubscribeAll and
// closes it.
func (b *Bus) UnsubscribeAll(ch chan *model.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.all {
		if s == ch {
			b.all = append(b.all[:i], b.all[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers an event to every subscriber. Delivery is best-effort:
// a slow subscriber loses its oldest buffered event rather than blocking
// the publisher or the other subscribers.
func (b *Bus) Publish(event *model.TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.TaskID] {
		offer(ch, event)
	}
	for _, ch := range b.all {
		offer(ch, event)
	}
}

// offer enqueues without blocking, dropping the oldest buffered event when
// the queue is full.
func offer(ch chan *model.TaskEvent, event *model.TaskEvent) {
	for {
		select {
		case ch <- event:
			return
		default:
		}
		select {
		case <-ch: // drop oldest
		default:
		}
	}
}
