package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/pkg/password"
)

// Cheap parameters keep the hashing fast in tests.
var testParams = password.Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestAuthenticator_SignUpSignIn(t *testing.T) {
	ctx := context.Background()
	a := NewAuthenticator(testParams, 0)

	created, err := a.SignUp(ctx, identity.Registration{Email: " Ana@Example.com ", Password: "secret1", DisplayName: "Ana"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ana@example.com", created.Email)

	got, err := a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, got.SessionID)
	got.SessionID = ""
	assert.Equal(t, created, got)
}

func TestAuthenticator_Errors(t *testing.T) {
	ctx := context.Background()
	a := NewAuthenticator(testParams, 0)
	_, err := a.SignUp(ctx, identity.Registration{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		code apperr.AuthCode
	}{
		{"invalid email", func() error {
			_, err := a.SignIn(ctx, identity.Credentials{Email: "nope", Password: "x"})
			return err
		}, apperr.AuthInvalidEmail},
		{"unknown user", func() error {
			_, err := a.SignIn(ctx, identity.Credentials{Email: "bob@example.com", Password: "secret1"})
			return err
		}, apperr.AuthUserNotFound},
		{"wrong password", func() error {
			_, err := a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret2"})
			return err
		}, apperr.AuthWrongPassword},
		{"email in use", func() error {
			_, err := a.SignUp(ctx, identity.Registration{Email: "ana@example.com", Password: "secret1"})
			return err
		}, apperr.AuthEmailInUse},
		{"weak password", func() error {
			_, err := a.SignUp(ctx, identity.Registration{Email: "new@example.com", Password: "123"})
			return err
		}, apperr.AuthWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, apperr.IsAuth(err, tt.code), "got %v", err)
		})
	}
}

func TestAuthenticator_Disable(t *testing.T) {
	ctx := context.Background()
	a := NewAuthenticator(testParams, 0)
	_, err := a.SignUp(ctx, identity.Registration{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	first, err := a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	second, err := a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)

	var changed []string
	cancel := a.OnIdentityChanged(func(id string, cur *identity.Identity) {
		assert.Nil(t, cur)
		changed = append(changed, id)
	})
	a.Disable(first.ID)
	assert.ElementsMatch(t, []string{first.SessionID, second.SessionID}, changed)

	_, err = a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret1"})
	assert.True(t, apperr.IsAuth(err, apperr.AuthUserDisabled))

	cancel()
	a.Disable(first.ID)
	assert.Len(t, changed, 2)
}

func TestAuthenticator_SessionExpiry(t *testing.T) {
	ctx := context.Background()
	a := NewAuthenticator(testParams, time.Hour)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	_, err := a.SignUp(ctx, identity.Registration{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	old, err := a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)
	fresh, err := a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	signedOut, err := a.SignIn(ctx, identity.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, a.SignOut(ctx, signedOut.SessionID))

	var ended []string
	cancel := a.OnIdentityChanged(func(id string, _ *identity.Identity) { ended = append(ended, id) })
	defer cancel()

	a.CheckSessions()
	assert.Empty(t, ended)

	now = now.Add(31 * time.Minute)
	a.CheckSessions()
	assert.Equal(t, []string{old.SessionID}, ended)

	now = now.Add(time.Hour)
	a.CheckSessions()
	a.CheckSessions()
	assert.Equal(t, []string{old.SessionID, fresh.SessionID}, ended)
}

func TestAuthenticator_Updates(t *testing.T) {
	ctx := context.Background()
	a := NewAuthenticator(testParams, 0)
	u, err := a.SignUp(ctx, identity.Registration{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = a.SignUp(ctx, identity.Registration{Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, a.UpdateDisplayName(ctx, u.ID, "Ana María"))
	require.NoError(t, a.UpdateEmail(ctx, u.ID, "ana.maria@example.com"))
	require.NoError(t, a.UpdatePassword(ctx, u.ID, "secret9"))

	got, err := a.SignIn(ctx, identity.Credentials{Email: "ana.maria@example.com", Password: "secret9"})
	require.NoError(t, err)
	assert.Equal(t, "Ana María", got.DisplayName)

	err = a.UpdateEmail(ctx, u.ID, "bob@example.com")
	assert.True(t, apperr.IsAuth(err, apperr.AuthEmailInUse))
	err = a.UpdatePassword(ctx, u.ID, "1")
	assert.True(t, apperr.IsAuth(err, apperr.AuthWeakPassword))
	err = a.UpdateDisplayName(ctx, "missing", "x")
	assert.True(t, apperr.IsAuth(err, apperr.AuthUserNotFound))
}
