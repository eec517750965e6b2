// Package session owns the current authenticated identity and publishes an
// ordered stream of identity changes.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/identity"
)

// ErrSignedOut is returned by operations that need a current identity.
var ErrSignedOut = errors.New("not signed in")

// Event announces an identity change. Identity is nil after sign-out or
// session expiry. Seq increases by one for every event of a Store.
type Event struct {
	Seq      uint64
	Identity *identity.Identity
}

// SignedIn reports whether the event carries an identity.
func (e Event) SignedIn() bool { return e.Identity != nil }

// Handler receives identity changes.
type Handler func(Event)

// Store tracks the identity of one client session. It is safe for
// concurrent use.
//
// Events are delivered to handlers in emission order. An event emitted by a
// handler (for example a sign-out triggered from a reaction) is queued and
// delivered after the current delivery completes, so handlers never observe
// events out of order and no event is dropped.
type Store struct {
	auth identity.Authenticator
	lg   *zap.Logger

	mu       sync.Mutex
	current  *identity.Identity
	seq      uint64
	handlers []subscriber
	nextSub  uint64
	pending  []Event
	emitting bool

	stopWatch func()
}

type subscriber struct {
	id uint64
	fn Handler
}

// New creates a signed-out Store backed by auth. Provider-initiated identity
// changes (revoked or expired sessions) are fed into the event stream.
func New(auth identity.Authenticator, lg *zap.Logger) *Store {
	s := &Store{auth: auth, lg: lg}
	s.stopWatch = auth.OnIdentityChanged(s.providerChanged)
	return s
}

// Close stops listening to provider changes. Subscribers are kept.
func (s *Store) Close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
}

// Current returns a copy of the current identity, or nil when signed out.
func (s *Store) Current() *identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.current)
}

// Subscribe registers fn for subsequent identity changes. Handlers run in
// registration order. The returned func removes fn.
func (s *Store) Subscribe(fn Handler) (cancel func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.handlers = append(s.handlers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, h := range s.handlers {
				if h.id == id {
					s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// SignIn verifies creds with the provider and makes the result the current
// identity. Empty fields fail with a ValidationError before the provider is
// called.
func (s *Store) SignIn(ctx context.Context, creds identity.Credentials) (identity.Identity, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" {
		return identity.Identity{}, apperr.Missing("email")
	}
	if creds.Password == "" {
		return identity.Identity{}, apperr.Missing("password")
	}

	id, err := s.auth.SignIn(ctx, creds)
	if err != nil {
		return identity.Identity{}, asAuthError(err)
	}

	s.lg.Info("Signed in", zap.String("identity", id.ID))
	s.set(&id)
	return id, nil
}

// Register creates an account. It does not change the current identity:
// the new user signs in explicitly afterwards.
func (s *Store) Register(ctx context.Context, reg identity.Registration) (identity.Identity, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	reg.DisplayName = strings.TrimSpace(reg.DisplayName)
	switch {
	case reg.Email == "":
		return identity.Identity{}, apperr.Missing("email")
	case reg.Password == "":
		return identity.Identity{}, apperr.Missing("password")
	case reg.DisplayName == "":
		return identity.Identity{}, apperr.Missing("displayName")
	}

	id, err := s.auth.SignUp(ctx, reg)
	if err != nil {
		return identity.Identity{}, asAuthError(err)
	}
	s.lg.Info("Registered", zap.String("identity", id.ID))
	return id, nil
}

// SignOut clears the current identity. The remote invalidation is best
// effort: its failure is logged and the local state is cleared regardless.
// A sign-in that completes while the remote call runs is kept.
func (s *Store) SignOut(ctx context.Context) {
	cur := s.Current()
	if cur == nil {
		return
	}
	if err := s.auth.SignOut(ctx, cur.SessionID); err != nil {
		s.lg.Warn("Remote sign-out failed", zap.String("identity", cur.ID), zap.Error(err))
	}
	if !s.swap(func(c *identity.Identity) bool { return sameSession(c, cur) }, nil) {
		s.lg.Debug("Identity changed during sign-out", zap.String("identity", cur.ID))
		return
	}
	s.lg.Info("Signed out", zap.String("identity", cur.ID))
}

// UpdateDisplayName changes the display name of the current identity
// without emitting an identity change.
func (s *Store) UpdateDisplayName(ctx context.Context, name string) (identity.Identity, error) {
	return s.amend(ctx, func(ctx context.Context, id string) error {
		return s.auth.UpdateDisplayName(ctx, id, name)
	}, func(i *identity.Identity) { i.DisplayName = name })
}

// UpdateEmail changes the email of the current identity without emitting an
// identity change.
func (s *Store) UpdateEmail(ctx context.Context, email string) (identity.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return identity.Identity{}, apperr.Missing("email")
	}
	return s.amend(ctx, func(ctx context.Context, id string) error {
		return s.auth.UpdateEmail(ctx, id, email)
	}, func(i *identity.Identity) { i.Email = email })
}

// UpdatePassword changes the password of the current identity.
func (s *Store) UpdatePassword(ctx context.Context, password string) (identity.Identity, error) {
	if password == "" {
		return identity.Identity{}, apperr.Missing("password")
	}
	return s.amend(ctx, func(ctx context.Context, id string) error {
		return s.auth.UpdatePassword(ctx, id, password)
	}, func(*identity.Identity) {})
}

// amend runs call for the current identity and applies change to the stored
// identity if it is still current when the call returns.
func (s *Store) amend(
	ctx context.Context,
	call func(ctx context.Context, id string) error,
	change func(*identity.Identity),
) (identity.Identity, error) {
	cur := s.Current()
	if cur == nil {
		return identity.Identity{}, ErrSignedOut
	}
	if err := call(ctx, cur.ID); err != nil {
		return identity.Identity{}, asAuthError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !sameSession(s.current, cur) {
		return identity.Identity{}, ErrSignedOut
	}
	change(s.current)
	return *clone(s.current), nil
}

func (s *Store) providerChanged(sessionID string, current *identity.Identity) {
	ours := func(c *identity.Identity) bool { return c != nil && c.SessionID == sessionID }
	if current == nil {
		if s.swap(ours, nil) {
			s.lg.Info("Session ended by provider", zap.String("session", sessionID))
		}
		return
	}
	next := clone(current)
	next.SessionID = sessionID
	s.swap(ours, next)
}

// set stores next as the current identity and emits the change.
func (s *Store) set(next *identity.Identity) {
	s.swap(func(*identity.Identity) bool { return true }, next)
}

// swap replaces the current identity with next and emits the change, if
// match accepts the current identity. It reports whether it did.
func (s *Store) swap(match func(cur *identity.Identity) bool, next *identity.Identity) bool {
	s.mu.Lock()
	if !match(s.current) {
		s.mu.Unlock()
		return false
	}
	s.current = clone(next)
	s.seq++
	s.pending = append(s.pending, Event{Seq: s.seq, Identity: clone(next)})
	if s.emitting {
		// The goroutine already delivering will pick the event up.
		s.mu.Unlock()
		return true
	}
	s.emitting = true
	s.mu.Unlock()

	s.drain()
	return true
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		handlers := make([]subscriber, len(s.handlers))
		copy(handlers, s.handlers)
		s.mu.Unlock()

		for _, h := range handlers {
			h.fn(Event{Seq: ev.Seq, Identity: clone(ev.Identity)})
		}
	}
}

func asAuthError(err error) error {
	var ae *apperr.AuthError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.NewAuthError(apperr.AuthOther, err)
}

func sameSession(a, b *identity.Identity) bool {
	return a != nil && b != nil && a.ID == b.ID && a.SessionID == b.SessionID
}

func clone(i *identity.Identity) *identity.Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
