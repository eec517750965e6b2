// Package redis implements the realtime store on Redis. Each collection is
// a hash of child values plus a sorted set holding the insertion order of
// the children; changes are announced on a pub/sub channel.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/realtime"
	"github.com/xenking/catalog-sync/internal/storage/fanout"
)

// ChangesChannel carries the parent path of every change.
const ChangesChannel = "realtime:changes"

const maxUpdateAttempts = 16

var _ realtime.Store = (*RealtimeStore)(nil)

// RealtimeStore keeps collections in Redis. Listen must be running for
// changes to be delivered to subscribers.
type RealtimeStore struct {
	rdb    redis.UniversalClient
	prefix string
	hub    *fanout.Hub
	lg     *zap.Logger
}

// NewRealtimeStore returns a store whose keys start with prefix.
func NewRealtimeStore(rdb redis.UniversalClient, prefix string, lg *zap.Logger) *RealtimeStore {
	s := &RealtimeStore{rdb: rdb, prefix: prefix, lg: lg}
	s.hub = fanout.NewHub(s.snapshot, lg)
	return s
}

func (s *RealtimeStore) valuesKey(parent string) string { return s.prefix + parent }

func (s *RealtimeStore) orderKey(parent string) string { return s.prefix + parent + ":order" }

// Subscribe implements realtime.Store.
func (s *RealtimeStore) Subscribe(ctx context.Context, path string, fn realtime.Listener) (realtime.Handle, error) {
	if realtime.Clean(path) == "" {
		return realtime.Handle{}, errors.New("empty path")
	}
	return s.hub.Subscribe(ctx, path, fn), nil
}

// Unsubscribe implements realtime.Store.
func (s *RealtimeStore) Unsubscribe(h realtime.Handle) error {
	return s.hub.Unsubscribe(h)
}

// Write implements realtime.Store.
func (s *RealtimeStore) Write(ctx context.Context, path string, value []byte) error {
	if err := realtime.Validate(value); err != nil {
		return err
	}
	parent, key, err := realtime.Split(path)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		s.put(ctx, p, parent, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}

// Update implements realtime.Store. The read-merge-write runs under WATCH
// and is retried when the child changes concurrently.
func (s *RealtimeStore) Update(ctx context.Context, path string, partial []byte) error {
	parent, key, err := realtime.Split(path)
	if err != nil {
		return err
	}
	valuesKey := s.valuesKey(parent)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			base, err := tx.HGet(ctx, valuesKey, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			merged, err := realtime.MergeObject(base, partial)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				s.put(ctx, p, parent, key, merged)
				return nil
			})
			return err
		}, valuesKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("updating %q: %w", path, err)
	}
	return nil
}

// Remove implements realtime.Store.
func (s *RealtimeStore) Remove(ctx context.Context, path string) error {
	parent, key, err := realtime.Split(path)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.valuesKey(parent), key)
		p.ZRem(ctx, s.orderKey(parent), key)
		p.Publish(ctx, ChangesChannel, parent)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing %q: %w", path, err)
	}
	return nil
}

// GenerateKey implements realtime.Store.
func (s *RealtimeStore) GenerateKey(string) string {
	return realtime.NewKey()
}

// Listen consumes change announcements until ctx is done, resubscribing
// with backoff after errors.
func (s *RealtimeStore) Listen(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.lg.Warn("Change feed interrupted", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// Close cancels every subscription.
func (s *RealtimeStore) Close() {
	s.hub.Close()
}

func (s *RealtimeStore) listenOnce(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, ChangesChannel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", ChangesChannel, err)
	}
	s.hub.NotifyAll()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		s.hub.Notify(msg.Payload)
	}
}

func (s *RealtimeStore) put(ctx context.Context, p redis.Pipeliner, parent, key string, value []byte) {
	p.HSet(ctx, s.valuesKey(parent), key, value)
	p.ZAddNX(ctx, s.orderKey(parent), redis.Z{Score: float64(time.Now().UnixMicro()), Member: key})
	p.Publish(ctx, ChangesChannel, parent)
}

func (s *RealtimeStore) snapshot(ctx context.Context, path string) ([]byte, error) {
	keys, err := s.rdb.ZRange(ctx, s.orderKey(path), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", path, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.rdb.HMGet(ctx, s.valuesKey(path), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	entries := make([]realtime.Entry, 0, len(keys))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Removed between ZRANGE and HMGET.
			continue
		}
		entries = append(entries, realtime.Entry{Key: keys[i], Value: []byte(str)})
	}
	return realtime.EncodeCollection(entries), nil
}
