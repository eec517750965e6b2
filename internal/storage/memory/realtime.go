// Package memory provides in-process implementations of the auth provider,
// realtime store and blob store. They back the "memory" backend mode and the
// tests of the packages built on them.
package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/catalog-sync/internal/domain/realtime"
)

var _ realtime.Store = (*RealtimeStore)(nil)

// RealtimeStore keeps collections in memory and delivers snapshots
// synchronously from the goroutine that performed the write.
type RealtimeStore struct {
	// deliverMu orders mutations together with their deliveries, so every
	// subscriber sees snapshots in mutation order.
	deliverMu sync.Mutex

	mu          sync.Mutex
	collections map[string]*collection
	subs        map[uint64]*subscription
	nextID      uint64
	failure     error
}

type collection struct {
	keys   []string
	values map[string][]byte
}

type subscription struct {
	id   uint64
	path string
	fn   realtime.Listener

	mu     sync.Mutex
	closed bool
}

// NewRealtimeStore creates an empty store.
func NewRealtimeStore() *RealtimeStore {
	return &RealtimeStore{
		collections: map[string]*collection{},
		subs:        map[uint64]*subscription{},
	}
}

// FailWrites makes every subsequent mutation fail with err. A nil err
// restores normal operation.
func (s *RealtimeStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Subscriptions returns the number of live subscriptions on path.
func (s *RealtimeStore) Subscriptions(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = realtime.Clean(path)
	n := 0
	for _, sub := range s.subs {
		if sub.path == path {
			n++
		}
	}
	return n
}

// Get returns the stored value at path.
func (s *RealtimeStore) Get(path string) ([]byte, bool) {
	parent, key, err := realtime.Split(path)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[parent]
	if !ok {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Subscribe implements realtime.Store.
func (s *RealtimeStore) Subscribe(_ context.Context, path string, fn realtime.Listener) (realtime.Handle, error) {
	path = realtime.Clean(path)
	if path == "" {
		return realtime.Handle{}, errors.New("empty path")
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.nextID++
	sub := &subscription{id: s.nextID, path: path, fn: fn}
	s.subs[sub.id] = sub
	value := s.snapshotLocked(path)
	s.mu.Unlock()

	sub.deliver(realtime.Snapshot{Path: path, Value: value})
	return realtime.Handle{ID: sub.id, Path: path}, nil
}

// Unsubscribe implements realtime.Store.
func (s *RealtimeStore) Unsubscribe(h realtime.Handle) error {
	s.mu.Lock()
	sub, ok := s.subs[h.ID]
	delete(s.subs, h.ID)
	s.mu.Unlock()
	if !ok {
		return realtime.ErrUnknownHandle
	}

	// Waits for an in-progress delivery to this subscription.
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	return nil
}

// Write implements realtime.Store.
func (s *RealtimeStore) Write(_ context.Context, path string, value []byte) error {
	if err := realtime.Validate(value); err != nil {
		return err
	}
	return s.mutate(path, func(c *collection, key string) error {
		c.put(key, append([]byte(nil), value...))
		return nil
	})
}

// Update implements realtime.Store.
func (s *RealtimeStore) Update(_ context.Context, path string, partial []byte) error {
	return s.mutate(path, func(c *collection, key string) error {
		merged, err := realtime.MergeObject(c.values[key], partial)
		if err != nil {
			return err
		}
		c.put(key, merged)
		return nil
	})
}

// Remove implements realtime.Store.
func (s *RealtimeStore) Remove(_ context.Context, path string) error {
	return s.mutate(path, func(c *collection, key string) error {
		c.remove(key)
		return nil
	})
}

// GenerateKey implements realtime.Store.
func (s *RealtimeStore) GenerateKey(string) string {
	return realtime.NewKey()
}

func (s *RealtimeStore) mutate(path string, apply func(c *collection, key string) error) error {
	parent, key, err := realtime.Split(path)
	if err != nil {
		return err
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.failure != nil {
		err := s.failure
		s.mu.Unlock()
		return err
	}
	c, ok := s.collections[parent]
	if !ok {
		c = &collection{values: map[string][]byte{}}
		s.collections[parent] = c
	}
	if err := apply(c, key); err != nil {
		s.mu.Unlock()
		return err
	}
	if len(c.keys) == 0 {
		delete(s.collections, parent)
	}
	value := s.snapshotLocked(parent)
	var targets []*subscription
	for _, sub := range s.subs {
		if sub.path == parent {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	snap := realtime.Snapshot{Path: parent, Value: value}
	for _, sub := range targets {
		sub.deliver(snap)
	}
	return nil
}

func (s *RealtimeStore) snapshotLocked(path string) []byte {
	c, ok := s.collections[path]
	if !ok {
		return nil
	}
	entries := make([]realtime.Entry, len(c.keys))
	for i, k := range c.keys {
		entries[i] = realtime.Entry{Key: k, Value: c.values[k]}
	}
	return realtime.EncodeCollection(entries)
}

func (c *collection) put(key string, value []byte) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

func (c *collection) remove(key string) {
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

func (sub *subscription) deliver(snap realtime.Snapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.fn(snap)
}
