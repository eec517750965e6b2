package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/pkg/password"
)

const (
	getUserByEmailSQL = `SELECT id::text, email, display_name, photo_url, password_hash, disabled
		FROM users WHERE email = $1`

	createUserSQL = `INSERT INTO users (id, email, display_name, password_hash) VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING`

	createSessionSQL = `INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`

	revokeSessionSQL = `UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`

	revokeUserSessionsSQL = `UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`

	// endedSessionsSQL returns the ids in $1 that no longer name an open
	// session of an enabled user.
	endedSessionsSQL = `SELECT t.id::text FROM unnest($1::uuid[]) AS t(id)
		WHERE NOT EXISTS (
			SELECT 1 FROM sessions s JOIN users u ON u.id = s.user_id
			WHERE s.id = t.id
				AND s.revoked_at IS NULL
				AND (s.expires_at IS NULL OR s.expires_at > now())
				AND NOT u.disabled
		)`

	disableUserSQL = `UPDATE users SET disabled = true WHERE email = $1 RETURNING id::text`

	updateDisplayNameSQL = `UPDATE users SET display_name = $2 WHERE id = $1`
	updateEmailSQL       = `UPDATE users SET email = $2 WHERE id = $1`
	updatePasswordSQL    = `UPDATE users SET password_hash = $2 WHERE id = $1`

	uniqueViolation = "23505"
)

var _ identity.Authenticator = (*Authenticator)(nil)

// Authenticator is an email/password auth provider backed by the users and
// sessions tables.
//
// Sessions opened by this process are checked by Watch. A session that was
// revoked, expired or belongs to a disabled account is announced to the
// OnIdentityChanged watchers.
type Authenticator struct {
	pool   *pgxpool.Pool
	params password.Params
	ttl    time.Duration
	lg     *zap.Logger

	mu       sync.Mutex
	live     map[string]struct{}
	watchers map[uint64]func(string, *identity.Identity)
	nextW    uint64
}

// NewAuthenticator returns an Authenticator that uses the given pool.
// Sessions expire ttl after sign-in; zero disables expiry.
func NewAuthenticator(pool *pgxpool.Pool, params password.Params, ttl time.Duration, lg *zap.Logger) *Authenticator {
	return &Authenticator{
		pool:     pool,
		params:   params,
		ttl:      ttl,
		lg:       lg,
		live:     map[string]struct{}{},
		watchers: map[uint64]func(string, *identity.Identity){},
	}
}

type userRow struct {
	identity identity.Identity
	hash     string
	disabled bool
}

// SignIn implements identity.Authenticator.
func (a *Authenticator) SignIn(ctx context.Context, creds identity.Credentials) (identity.Identity, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return identity.Identity{}, err
	}

	var u userRow
	err = a.pool.QueryRow(ctx, getUserByEmailSQL, email).Scan(
		&u.identity.ID, &u.identity.Email, &u.identity.DisplayName, &u.identity.PhotoURL,
		&u.hash, &u.disabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Identity{}, apperr.NewAuthError(apperr.AuthUserNotFound, nil)
		}
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthOther, fmt.Errorf("finding user: %w", err))
	}
	if u.disabled {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthUserDisabled, nil)
	}
	ok, err := password.Verify(creds.Password, u.hash)
	if err != nil {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthOther, err)
	}
	if !ok {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthWrongPassword, nil)
	}

	var expires *time.Time
	if a.ttl > 0 {
		t := time.Now().Add(a.ttl)
		expires = &t
	}
	sessionID := uuid.NewString()
	if _, err := a.pool.Exec(ctx, createSessionSQL, sessionID, u.identity.ID, expires); err != nil {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthOther, fmt.Errorf("creating session: %w", err))
	}

	a.mu.Lock()
	a.live[sessionID] = struct{}{}
	a.mu.Unlock()

	u.identity.SessionID = sessionID
	return u.identity, nil
}

// SignUp implements identity.Authenticator.
func (a *Authenticator) SignUp(ctx context.Context, reg identity.Registration) (identity.Identity, error) {
	email, err := normalizeEmail(reg.Email)
	if err != nil {
		return identity.Identity{}, err
	}
	if password.Weak(reg.Password) {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthWeakPassword, nil)
	}
	hash, err := password.Hash(reg.Password, a.params)
	if err != nil {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthOther, err)
	}

	id := identity.Identity{ID: uuid.NewString(), Email: email, DisplayName: reg.DisplayName}
	tag, err := a.pool.Exec(ctx, createUserSQL, id.ID, id.Email, id.DisplayName, hash)
	if err != nil {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthOther, fmt.Errorf("creating user: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return identity.Identity{}, apperr.NewAuthError(apperr.AuthEmailInUse, nil)
	}
	return id, nil
}

// SignOut implements identity.Authenticator. It revokes the session
// created by SignIn; other sessions of the user stay open.
func (a *Authenticator) SignOut(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	delete(a.live, sessionID)
	a.mu.Unlock()

	if _, err := a.pool.Exec(ctx, revokeSessionSQL, sessionID); err != nil {
		return fmt.Errorf("revoking session %q: %w", sessionID, err)
	}
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

// Watch checks the sessions opened by this process every interval until ctx
// is done. A failed check is logged and retried on the next tick.
func (a *Authenticator) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.CheckSessions(ctx); err != nil && ctx.Err() == nil {
				a.lg.Warn("Session check failed", zap.Error(err))
			}
		}
	}
}

// CheckSessions ends the live sessions that were revoked, expired or whose
// account was disabled, and announces each of them to the watchers.
func (a *Authenticator) CheckSessions(ctx context.Context) error {
	a.mu.Lock()
	ids := make([]uuid.UUID, 0, len(a.live))
	for id := range a.live {
		if u, err := uuid.Parse(id); err == nil {
			ids = append(ids, u)
		}
	}
	a.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	rows, err := a.pool.Query(ctx, endedSessionsSQL, ids)
	if err != nil {
		return fmt.Errorf("checking sessions: %w", err)
	}
	ended, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("checking sessions: %w", err)
	}

	a.mu.Lock()
	gone := ended[:0]
	for _, id := range ended {
		if _, ok := a.live[id]; ok {
			delete(a.live, id)
			gone = append(gone, id)
		}
	}
	watchers := make([]func(string, *identity.Identity), 0, len(a.watchers))
	for _, w := range a.watchers {
		watchers = append(watchers, w)
	}
	a.mu.Unlock()

	for _, id := range gone {
		a.lg.Info("Session ended", zap.String("session", id))
		for _, w := range watchers {
			w(id, nil)
		}
	}
	return nil
}

// Disable blocks the account with the given email and revokes all of its
// sessions. Servers end the affected live sessions on their next check.
func (a *Authenticator) Disable(ctx context.Context, email string) error {
	email, ok := identity.NormalizeEmail(email)
	if !ok {
		return apperr.NewAuthError(apperr.AuthInvalidEmail, nil)
	}
	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, disableUserSQL, email).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NewAuthError(apperr.AuthUserNotFound, nil)
			}
			return err
		}
		_, err := tx.Exec(ctx, revokeUserSessionsSQL, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("disabling %q: %w", email, err)
	}
	a.lg.Info("Account disabled", zap.String("email", email))
	return nil
}

// UpdateDisplayName implements identity.Authenticator.
func (a *Authenticator) UpdateDisplayName(ctx context.Context, id, name string) error {
	return a.update(ctx, updateDisplayNameSQL, id, name)
}

// UpdateEmail implements identity.Authenticator.
func (a *Authenticator) UpdateEmail(ctx context.Context, id, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	return a.update(ctx, updateEmailSQL, id, email)
}

// UpdatePassword implements identity.Authenticator.
func (a *Authenticator) UpdatePassword(ctx context.Context, id, pw string) error {
	if password.Weak(pw) {
		return apperr.NewAuthError(apperr.AuthWeakPassword, nil)
	}
	hash, err := password.Hash(pw, a.params)
	if err != nil {
		return apperr.NewAuthError(apperr.AuthOther, err)
	}
	return a.update(ctx, updatePasswordSQL, id, hash)
}

func (a *Authenticator) update(ctx context.Context, sql, id, value string) error {
	tag, err := a.pool.Exec(ctx, sql, id, value)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.NewAuthError(apperr.AuthEmailInUse, nil)
		}
		return apperr.NewAuthError(apperr.AuthOther, fmt.Errorf("updating user %q: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewAuthError(apperr.AuthUserNotFound, nil)
	}
	return nil
}

func normalizeEmail(s string) (string, error) {
	email, ok := identity.NormalizeEmail(s)
	if !ok {
		return "", apperr.NewAuthError(apperr.AuthInvalidEmail, nil)
	}
	return email, nil
}
