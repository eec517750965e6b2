// Package fanout delivers collection snapshots of a networked realtime
// store to local subscribers. Change notifications only name the changed
// collection; each subscriber re-reads it and receives a full snapshot.
package fanout

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/realtime"
)

// Fetcher reads the current snapshot value of a collection.
type Fetcher func(ctx context.Context, path string) ([]byte, error)

// Hub tracks subscriptions of one store.
type Hub struct {
	fetch Fetcher
	lg    *zap.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
}

type subscription struct {
	id     uint64
	path   string
	fn     realtime.Listener
	signal chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewHub creates a Hub reading snapshots with fetch.
func NewHub(fetch Fetcher, lg *zap.Logger) *Hub {
	return &Hub{fetch: fetch, lg: lg, subs: map[uint64]*subscription{}}
}

// Subscribe registers fn for path. The current snapshot is delivered
// asynchronously, followed by a snapshot after each notification. ctx only
// carries values; the subscription lives until Unsubscribe.
func (h *Hub) Subscribe(ctx context.Context, path string, fn realtime.Listener) realtime.Handle {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		path:   realtime.Clean(path),
		fn:     fn,
		signal: make(chan struct{}, 1),
		cancel: cancel,
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	sub.notify()
	go h.run(ctx, sub)
	return realtime.Handle{ID: sub.id, Path: sub.path}
}

// Unsubscribe stops delivery to handle. It waits for an in-progress
// delivery, so nothing reaches the listener once it returns.
func (h *Hub) Unsubscribe(handle realtime.Handle) error {
	h.mu.Lock()
	sub, ok := h.subs[handle.ID]
	delete(h.subs, handle.ID)
	h.mu.Unlock()
	if !ok {
		return realtime.ErrUnknownHandle
	}

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	sub.cancel()
	return nil
}

// Notify schedules a snapshot for every subscriber of path. Notifications
// that arrive while a snapshot is pending are coalesced into it.
func (h *Hub) Notify(path string) {
	path = realtime.Clean(path)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.path == path {
			sub.notify()
		}
	}
}

// NotifyAll schedules a snapshot for every subscriber, for example after
// the change feed reconnected and notifications may have been lost.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.notify()
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[uint64]*subscription{}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		sub.cancel()
	}
}

func (h *Hub) run(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.signal:
		}

		value, err := h.fetch(ctx, sub.path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.lg.Warn("Fetch snapshot failed",
				zap.String("path", sub.path),
				zap.Uint64("subscription", sub.id),
				zap.Error(err),
			)
			continue
		}
		sub.deliver(realtime.Snapshot{Path: sub.path, Value: value})
	}
}

func (s *subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) deliver(snap realtime.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(snap)
}
