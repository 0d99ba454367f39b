package dispatcher

import (
	"context"
	"sync"

	"github.com/garyjia/procurement-approval/internal/domain/event"
)

type deferredKey struct{}

type queuedEvent struct {
	dispatcher Dispatcher
	evt        *event.Event
}

// Deferred holds events published inside a unit of work until the caller
// knows whether that work was committed.
type Deferred struct {
	mu     sync.Mutex
	queued []queuedEvent
	done   bool
}

// Defer returns a context under which Publish queues events on the returned
// Deferred. A context that already defers keeps its queue.
func Defer(ctx context.Context) (context.Context, *Deferred) {
	if q, ok := ctx.Value(deferredKey{}).(*Deferred); ok {
		return ctx, q
	}
	q := &Deferred{}
	return context.WithValue(ctx, deferredKey{}, q), q
}

// Publish dispatches evt asynchronously, or queues it when ctx defers events
func Publish(ctx context.Context, d Dispatcher, evt *event.Event) {
	if d == nil || evt == nil {
		return
	}
	if q, ok := ctx.Value(deferredKey{}).(*Deferred); ok && q.add(d, evt) {
		return
	}
	d.DispatchAsync(ctx, evt)
}

func (q *Deferred) add(d Dispatcher, evt *event.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done {
		return false
	}
	q.queued = append(q.queued, queuedEvent{dispatcher: d, evt: evt})
	return true
}

// Len returns the number of queued events
func (q *Deferred) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// Flush dispatches the queued events in publish order. Later Publish calls
// on the deferring context dispatch immediately.
func (q *Deferred) Flush(ctx context.Context) {
	for _, qe := range q.close() {
		qe.dispatcher.DispatchAsync(ctx, qe.evt)
	}
}

// Discard drops the queued events
func (q *Deferred) Discard() {
	q.close()
}

func (q *Deferred) close() []queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	queued := q.queued
	q.queued = nil
	q.done = true
	return queued
}
