package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/pkg/password"
)

var _ identity.Authenticator = (*Authenticator)(nil)

// Authenticator is an in-memory auth provider with Argon2id password
// hashes. Sessions expire ttl after sign-in and are ended by CheckSessions.
type Authenticator struct {
	params password.Params
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	byEmail  map[string]*account
	byID     map[string]*account
	sessions map[string]memSession
	watchers map[uint64]func(string, *identity.Identity)
	nextW    uint64
}

type memSession struct {
	userID  string
	expires time.Time // zero: never
}

type account struct {
	id       identity.Identity
	hash     string
	disabled bool
}

// NewAuthenticator creates an empty provider hashing with params. Zero ttl
// disables session expiry.
func NewAuthenticator(params password.Params, ttl time.Duration) *Authenticator {
	return &Authenticator{
		params:   params,
		ttl:      ttl,
		now:      time.Now,
		byEmail:  map[string]*account{},
		byID:     map[string]*account{},
		sessions: map[string]memSession{},
		watchers: map[uint64]func(string, *identity.Identity){},
	}
}

// SignIn implements identity.Authenticator.
func (a *Authenticator) SignIn(_ context.Context, creds identity.Credentials) (identity.Identity, error) {
	email, ok := identity.NormalizeEmail(creds.Email)
	if !ok {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthInvalidEmail, nil)
	}

	a.mu.Lock()
	acc, ok := a.byEmail[email]
	var (
		hash     string
		disabled bool
		id       identity.Identity
	)
	if ok {
		hash, disabled, id = acc.hash, acc.disabled, acc.id
	}
	a.mu.Unlock()

	if !ok {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthUserNotFound, nil)
	}
	if disabled {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthUserDisabled, nil)
	}
	match, err := password.Verify(creds.Password, hash)
	if err != nil {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthOther, err)
	}
	if !match {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthWrongPassword, nil)
	}

	sess := memSession{userID: id.ID}
	if a.ttl > 0 {
		sess.expires = a.now().Add(a.ttl)
	}
	id.SessionID = uuid.NewString()
	a.mu.Lock()
	a.sessions[id.SessionID] = sess
	a.mu.Unlock()
	return id, nil
}

// SignUp implements identity.Authenticator.
func (a *Authenticator) SignUp(_ context.Context, reg identity.Registration) (identity.Identity, error) {
	email, ok := identity.NormalizeEmail(reg.Email)
	if !ok {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthInvalidEmail, nil)
	}
	if password.Weak(reg.Password) {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthWeakPassword, nil)
	}
	hash, err := password.Hash(reg.Password, a.params)
	if err != nil {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthOther, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byEmail[email]; ok {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthEmailInUse, nil)
	}
	acc := &account{
		id: identity.Identity{
			ID:          uuid.New().String(),
			Email:       email,
			DisplayName: reg.DisplayName,
		},
		hash: hash,
	}
	a.byEmail[email] = acc
	a.byID[acc.id.ID] = acc
	return acc.id, nil
}

// SignOut implements identity.Authenticator.
func (a *Authenticator) SignOut(_ context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
	return nil
}

// OnIdentityChanged implements identity.Authenticator.
func (a *Authenticator) OnIdentityChanged(fn func(string, *identity.Identity)) func() {
	a.mu.Lock()
	a.nextW++
	id := a.nextW
	a.watchers[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.watchers, id)
	}
}

// Watch runs CheckSessions every interval until ctx is done.
func (a *Authenticator) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.CheckSessions()
		}
	}
}

// CheckSessions ends expired sessions and the sessions of disabled
// accounts, announcing each to the watchers.
func (a *Authenticator) CheckSessions() {
	a.mu.Lock()
	now := a.now()
	var ended []string
	for id, sess := range a.sessions {
		acc, ok := a.byID[sess.userID]
		expired := !sess.expires.IsZero() && !now.Before(sess.expires)
		if !ok || acc.disabled || expired {
			delete(a.sessions, id)
			ended = append(ended, id)
		}
	}
	watchers := a.watchersLocked()
	a.mu.Unlock()

	for _, id := range ended {
		for _, w := range watchers {
			w(id, nil)
		}
	}
}

// Disable blocks future sign-ins of the user id and ends its sessions.
func (a *Authenticator) Disable(id string) {
	a.mu.Lock()
	acc, ok := a.byID[id]
	if ok {
		acc.disabled = true
	}
	a.mu.Unlock()

	if ok {
		a.CheckSessions()
	}
}

// UpdateDisplayName implements identity.Authenticator.
func (a *Authenticator) UpdateDisplayName(_ context.Context, id, name string) error {
	return a.update(id, func(acc *account) error {
		acc.id.DisplayName = name
		return nil
	})
}

// UpdateEmail implements identity.Authenticator.
func (a *Authenticator) UpdateEmail(_ context.Context, id, email string) error {
	email, ok := identity.NormalizeEmail(email)
	if !ok {
		return apperr.NewAuthError(apperr.AuthInvalidEmail, nil)
	}
	return a.update(id, func(acc *account) error {
		if other, ok := a.byEmail[email]; ok && other != acc {
			return apperr.NewAuthError(apperr.AuthEmailInUse, nil)
		}
		delete(a.byEmail, acc.id.Email)
		acc.id.Email = email
		a.byEmail[email] = acc
		return nil
	})
}

// UpdatePassword implements identity.Authenticator.
func (a *Authenticator) UpdatePassword(_ context.Context, id, pw string) error {
	if password.Weak(pw) {
		return apperr.NewAuthError(apperr.AuthWeakPassword, nil)
	}
	hash, err := password.Hash(pw, a.params)
	if err != nil {
		return apperr.NewAuthError(apperr.AuthOther, err)
	}
	return a.update(id, func(acc *account) error {
		acc.hash = hash
		return nil
	})
}

func (a *Authenticator) update(id string, fn func(*account) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.byID[id]
	if !ok {
		return apperr.NewAuthError(apperr.AuthUserNotFound, nil)
	}
	return fn(acc)
}

func (a *Authenticator) watchersLocked() []func(string, *identity.Identity) {
	out := make([]func(string, *identity.Identity), 0, len(a.watchers))
	for _, w := range a.watchers {
		out = append(out, w)
	}
	return out
}
