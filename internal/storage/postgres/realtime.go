package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/realtime"
	"github.com/xenking/catalog-sync/internal/storage/fanout"
)

// ChangesChannel is the LISTEN channel the realtime_nodes trigger notifies
// with the parent path of every changed row.
const ChangesChannel = "realtime_changes"

const (
	listChildrenSQL = `SELECT key, value FROM realtime_nodes WHERE parent = $1 ORDER BY position`

	writeNodeSQL = `INSERT INTO realtime_nodes (parent, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (parent, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	// JSONB || shallow-merges objects.
	updateNodeSQL = `INSERT INTO realtime_nodes (parent, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (parent, key) DO UPDATE SET value = realtime_nodes.value || EXCLUDED.value, updated_at = now()`

	removeNodeSQL = `DELETE FROM realtime_nodes WHERE parent = $1 AND key = $2`

	sumPricesSQL = `SELECT COALESCE(SUM((value->>'price')::numeric), 0) FROM realtime_nodes
		WHERE parent = $1 AND jsonb_typeof(value->'price') IN ('number', 'string') AND value->>'price' <> ''`
)

var _ realtime.Store = (*RealtimeStore)(nil)

// RealtimeStore stores collections in the realtime_nodes table. Subscribers
// are notified through LISTEN/NOTIFY; Listen must be running for changes to
// be delivered.
type RealtimeStore struct {
	pool *pgxpool.Pool
	hub  *fanout.Hub
	lg   *zap.Logger
}

// NewRealtimeStore returns a RealtimeStore that uses the given pool.
func NewRealtimeStore(pool *pgxpool.Pool, lg *zap.Logger) *RealtimeStore {
	s := &RealtimeStore{pool: pool, lg: lg}
	s.hub = fanout.NewHub(s.snapshot, lg)
	return s
}

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
	return s.exec(ctx, writeNodeSQL, path, value)
}

// Update implements realtime.Store.
func (s *RealtimeStore) Update(ctx context.Context, path string, partial []byte) error {
	// Rejects non-object partials before they reach the || operator.
	merged, err := realtime.MergeObject(nil, partial)
	if err != nil {
		return err
	}
	return s.exec(ctx, updateNodeSQL, path, merged)
}

// Remove implements realtime.Store.
func (s *RealtimeStore) Remove(ctx context.Context, path string) error {
	parent, key, err := realtime.Split(path)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, removeNodeSQL, parent, key); err != nil {
		return fmt.Errorf("removing %q: %w", path, err)
	}
	return nil
}

// GenerateKey implements realtime.Store.
func (s *RealtimeStore) GenerateKey(string) string {
	return realtime.NewKey()
}

// SumPrices returns the total price of the products stored under the
// collection path. Children without a price are skipped.
func (s *RealtimeStore) SumPrices(ctx context.Context, path string) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := s.pool.QueryRow(ctx, sumPricesSQL, realtime.Clean(path)).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("summing prices of %q: %w", path, err)
	}
	return total, nil
}

// Listen consumes change notifications until ctx is done. After a lost
// connection it reconnects and resynchronizes every subscriber.
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
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangesChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listening on %s: %w", ChangesChannel, err)
	}
	// Changes made while the feed was down are not replayed.
	s.hub.NotifyAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("waiting for notification: %w", err)
		}
		s.hub.Notify(n.Payload)
	}
}

func (s *RealtimeStore) exec(ctx context.Context, sql, path string, value []byte) error {
	parent, key, err := realtime.Split(path)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql, parent, key, value); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}

func (s *RealtimeStore) snapshot(ctx context.Context, path string) ([]byte, error) {
	rows, err := s.pool.Query(ctx, listChildrenSQL, path)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", path, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (realtime.Entry, error) {
		var e realtime.Entry
		err := row.Scan(&e.Key, &e.Value)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", path, err)
	}
	return realtime.EncodeCollection(entries), nil
}
