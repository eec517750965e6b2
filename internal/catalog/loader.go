// Package catalog keeps one live subscription to the product collection of
// the current identity and republishes it as normalized snapshots.
package catalog

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/blob"
	"github.com/xenking/catalog-sync/internal/domain/product"
	"github.com/xenking/catalog-sync/internal/domain/realtime"
)

// Snapshot is the catalog of one identity at a point in time. IdentityID is
// empty after Detach. Err is set when the latest backend delivery could not
// be read; Products then holds the last good value.
type Snapshot struct {
	Seq        uint64
	IdentityID string
	Products   []product.Product
	Err        error
}

// Handle identifies an attachment. Handles are compared by pointer.
type Handle struct {
	token      uint64
	identityID string
}

// IdentityID returns the identity the handle is attached to.
func (h *Handle) IdentityID() string { return h.identityID }

// Listener receives catalog snapshots. Listeners run while the loader
// serializes deliveries and must not call back into the Loader.
type Listener func(Snapshot)

// Option configures a Loader.
type Option func(*Loader)

// WithMeterProvider sets the meter provider used for catalog metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(l *Loader) { l.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider used for write spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Loader) { l.tracer = tp.Tracer("catalog") }
}

// WithClock overrides the clock used for product timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// Loader attaches to at most one identity's collection at a time.
type Loader struct {
	store realtime.Store
	blobs blob.Store
	lg    *zap.Logger

	now           func() time.Time
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	metrics       *loaderMetrics

	// attachMu serializes Attach and Detach.
	attachMu sync.Mutex
	// deliverMu serializes publications, so listeners observe snapshots in
	// Seq order and nothing is published for a handle once Detach returns.
	deliverMu sync.Mutex

	mu        sync.Mutex
	active    *attachment
	tokens    uint64
	seq       uint64
	latest    Snapshot
	listeners []listener
	nextID    uint64
}

type attachment struct {
	handle *Handle
	sub    realtime.Handle
	ready  bool
}

type listener struct {
	id uint64
	fn Listener
}

// NewLoader creates a Loader over the realtime store and blob store.
func NewLoader(store realtime.Store, blobs blob.Store, lg *zap.Logger, opts ...Option) (*Loader, error) {
	l := &Loader{
		store:         store,
		blobs:         blobs,
		lg:            lg,
		now:           time.Now,
		tracer:        tracenoop.NewTracerProvider().Tracer("catalog"),
		meterProvider: metricnoop.NewMeterProvider(),
		latest:        Snapshot{Products: []product.Product{}},
	}
	for _, o := range opts {
		o(l)
	}
	m, err := newLoaderMetrics(l.meterProvider.Meter("catalog"))
	if err != nil {
		return nil, err
	}
	l.metrics = m
	return l, nil
}

// Attach subscribes to identityID's collection. Attaching the identity that
// is already attached returns the existing handle without a new backend
// subscription. Attaching another identity detaches the current one first
// and publishes an empty catalog for the new identity before any of its
// data.
func (l *Loader) Attach(ctx context.Context, identityID string) (*Handle, error) {
	l.attachMu.Lock()
	defer l.attachMu.Unlock()

	l.mu.Lock()
	if a := l.active; a != nil && a.handle.identityID == identityID {
		l.mu.Unlock()
		l.metrics.attach(ctx, true)
		return a.handle, nil
	}
	l.mu.Unlock()

	l.deliverMu.Lock()
	l.mu.Lock()
	prev := l.active
	l.tokens++
	h := &Handle{token: l.tokens, identityID: identityID}
	l.active = &attachment{handle: h}
	listeners := l.publishLocked(Snapshot{IdentityID: identityID, Products: []product.Product{}})
	cur := copySnapshot(l.latest)
	l.mu.Unlock()
	notify(listeners, cur)
	l.deliverMu.Unlock()

	if prev != nil {
		l.release(prev)
	}

	path := product.CollectionPath(identityID)
	sub, err := l.store.Subscribe(ctx, path, func(s realtime.Snapshot) {
		l.deliver(h, s)
	})
	if err != nil {
		l.mu.Lock()
		if l.active != nil && l.active.handle == h {
			l.active = nil
		}
		l.mu.Unlock()
		return nil, &apperr.PersistenceError{Code: apperr.ReadFailed, Path: path, Err: err}
	}

	l.mu.Lock()
	stillActive := l.active != nil && l.active.handle == h
	if stillActive {
		l.active.sub = sub
		l.active.ready = true
	}
	l.mu.Unlock()
	if !stillActive {
		_ = l.store.Unsubscribe(sub)
	}

	l.metrics.attach(ctx, false)
	l.lg.Debug("Attached catalog", zap.String("identity", identityID), zap.Uint64("handle", h.token))
	return h, nil
}

// Detach releases h. Detaching a stale handle is a no-op. After Detach
// returns no snapshot for h is published; an empty, identity-less snapshot
// is published instead.
func (l *Loader) Detach(h *Handle) {
	if h == nil {
		return
	}
	l.attachMu.Lock()
	defer l.attachMu.Unlock()

	l.deliverMu.Lock()
	l.mu.Lock()
	a := l.active
	if a == nil || a.handle != h {
		l.mu.Unlock()
		l.deliverMu.Unlock()
		return
	}
	l.active = nil
	listeners := l.publishLocked(Snapshot{Products: []product.Product{}})
	cur := copySnapshot(l.latest)
	l.mu.Unlock()
	notify(listeners, cur)
	l.deliverMu.Unlock()

	l.release(a)
	l.lg.Debug("Detached catalog", zap.String("identity", h.identityID), zap.Uint64("handle", h.token))
}

// Active returns the current handle, or nil.
func (l *Loader) Active() *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return nil
	}
	return l.active.handle
}

// Current returns the latest published snapshot.
func (l *Loader) Current() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copySnapshot(l.latest)
}

// Subscribe registers fn and immediately delivers the latest snapshot. The
// returned func removes fn.
func (l *Loader) Subscribe(fn Listener) (cancel func()) {
	l.deliverMu.Lock()
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners = append(l.listeners, listener{id: id, fn: fn})
	cur := copySnapshot(l.latest)
	l.mu.Unlock()
	fn(cur)
	l.deliverMu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, ls := range l.listeners {
			if ls.id == id {
				l.listeners = append(l.listeners[:i:i], l.listeners[i+1:]...)
				return
			}
		}
	}
}

// deliver publishes a backend snapshot for h unless h was detached in the
// meantime.
func (l *Loader) deliver(h *Handle, s realtime.Snapshot) {
	ctx := context.Background()
	products, err := product.Normalize(s.Value)

	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	if l.active == nil || l.active.handle != h {
		l.mu.Unlock()
		l.metrics.snapshot(ctx, "discarded")
		l.lg.Debug("Discarding snapshot for detached handle",
			zap.String("identity", h.identityID),
			zap.Uint64("handle", h.token),
		)
		return
	}

	snap := Snapshot{IdentityID: h.identityID}
	if err != nil {
		l.lg.Warn("Malformed catalog snapshot", zap.String("path", s.Path), zap.Error(err))
		snap.Products = l.latest.Products
		snap.Err = &apperr.PersistenceError{Code: apperr.ReadFailed, Path: s.Path, Err: err}
		l.metrics.snapshot(ctx, "malformed")
	} else {
		snap.Products = l.ownedBy(h.identityID, products)
		l.metrics.snapshot(ctx, "delivered")
	}
	listeners := l.publishLocked(snap)
	cur := copySnapshot(l.latest)
	l.mu.Unlock()

	notify(listeners, cur)
}

// ownedBy drops products that belong to another identity and fills in the
// owner of records written without one.
func (l *Loader) ownedBy(identityID string, products []product.Product) []product.Product {
	out := products[:0]
	for _, p := range products {
		switch p.UserID {
		case "":
			p.UserID = identityID
		case identityID:
		default:
			l.lg.Warn("Dropping product of another identity",
				zap.String("identity", identityID),
				zap.String("owner", p.UserID),
				zap.String("product", p.ID),
			)
			continue
		}
		out = append(out, p)
	}
	return out
}

// publishLocked records snap as the latest snapshot and returns the
// listeners to notify. l.mu and l.deliverMu must be held.
func (l *Loader) publishLocked(snap Snapshot) []listener {
	l.seq++
	snap.Seq = l.seq
	l.latest = snap
	out := make([]listener, len(l.listeners))
	copy(out, l.listeners)
	return out
}

func (l *Loader) release(a *attachment) {
	if !a.ready {
		return
	}
	if err := l.store.Unsubscribe(a.sub); err != nil {
		l.lg.Warn("Unsubscribe failed", zap.String("path", a.sub.Path), zap.Error(err))
	}
}

func notify(listeners []listener, snap Snapshot) {
	for _, ls := range listeners {
		ls.fn(copySnapshot(snap))
	}
}

func copySnapshot(s Snapshot) Snapshot {
	products := make([]product.Product, len(s.Products))
	copy(products, s.Products)
	s.Products = products
	return s
}
