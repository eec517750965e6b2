package apperr

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestLocalize(t *testing.T) {
	wrapped := func(err error) error { return fmt.Errorf("save product: %w", err) }

	for _, tt := range []struct {
		name   string
		locale Locale
		err    error
		want   string
	}{
		{
			name:   "WrongPassword",
			locale: English,
			err:    NewAuthError(AuthWrongPassword, nil),
			want:   "The password is incorrect.",
		},
		{
			name:   "EmailInUseSpanish",
			locale: Spanish,
			err:    wrapped(NewAuthError(AuthEmailInUse, errors.New("duplicate"))),
			want:   "El correo ya está en uso.",
		},
		{
			name:   "MissingField",
			locale: English,
			err:    Missing("name"),
			want:   "All fields are required.",
		},
		{
			name:   "PasswordMismatch",
			locale: Spanish,
			err:    &ValidationError{Code: PasswordMismatch},
			want:   "Las contraseñas no coinciden.",
		},
		{
			name:   "UploadInsidePersistence",
			locale: English,
			err: &PersistenceError{Code: WriteFailed, Path: "products/u1/p1", Err: &UploadError{
				Code: TransferFailed, Path: "product_images/u1/p1", Err: errors.New("reset"),
			}},
			want: "Could not upload the image. Please try again.",
		},
		{
			name:   "ReadFailed",
			locale: English,
			err:    &PersistenceError{Code: ReadFailed, Path: "products/u1", Err: errors.New("denied")},
			want:   "Could not load your products. Please try again.",
		},
		{
			name:   "WriteFailed",
			locale: English,
			err:    wrapped(&PersistenceError{Code: WriteFailed, Path: "products/u1/p1", Err: errors.New("denied")}),
			want:   "Could not save your changes. Please try again.",
		},
		{
			name:   "Unknown",
			locale: Spanish,
			err:    errors.New("boom"),
			want:   "Ocurrió un error. Intenta de nuevo.",
		},
		{
			name:   "UnknownLocaleFallsBack",
			locale: Locale("fr"),
			err:    NewAuthError(AuthUserDisabled, nil),
			want:   "This account has been disabled.",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.locale.Localize(tt.err))
		})
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, "Invitado", Spanish.Text(KeyGuestName))
	assert.Equal(t, "Guest", English.Text(KeyGuestName))
	assert.Equal(t, "no.such.key", Spanish.Text("no.such.key"))
}

func TestParseLocale(t *testing.T) {
	assert.Equal(t, Spanish, ParseLocale("es"))
	assert.Equal(t, English, ParseLocale("en"))
	assert.Equal(t, English, ParseLocale("de"))
}

func TestPredicates(t *testing.T) {
	err := fmt.Errorf("login: %w", NewAuthError(AuthUserNotFound, nil))
	assert.True(t, IsAuth(err, AuthUserNotFound))
	assert.False(t, IsAuth(err, AuthWrongPassword))
	assert.False(t, IsAuth(errors.New("plain"), AuthOther))

	assert.True(t, IsValidation(Missing("email"), MissingRequiredField))
	assert.False(t, IsValidation(Missing("email"), PasswordMismatch))

	assert.Equal(t, "auth: wrong-password", NewAuthError(AuthWrongPassword, nil).Error())
	assert.Equal(t, "validation: missing-required-field: email", Missing("email").Error())
}
