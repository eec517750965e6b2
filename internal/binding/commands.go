package binding

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/catalog"
	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/internal/domain/product"
	"github.com/xenking/catalog-sync/internal/profile"
	"github.com/xenking/catalog-sync/internal/session"
	"github.com/xenking/catalog-sync/pkg/password"
)

// Commands report failures through the Presenter and Haptics and never
// return them. Each reads the current identity once, when it starts.

// Login signs in. Navigation to the home route follows from the identity
// change.
func (b *Binder) Login(ctx context.Context, email, password string) {
	if _, err := b.session.SignIn(ctx, identity.Credentials{Email: email, Password: password}); err != nil {
		b.fail(apperr.KeyLoginErrorTitle, err)
		return
	}
	b.alert(apperr.KeyLoginOKTitle, b.locale.Text(apperr.KeyLoginOK))
	b.haptics.Notify(FeedbackSuccess)
}

// Register creates an account and routes to the login screen. The new
// account is not signed in.
func (b *Binder) Register(ctx context.Context, email, password, displayName string) {
	reg := identity.Registration{Email: email, Password: password, DisplayName: displayName}
	if _, err := b.session.Register(ctx, reg); err != nil {
		b.fail(apperr.KeyRegisterErrorTitle, err)
		return
	}
	b.alert(apperr.KeyRegisterOKTitle, b.locale.Text(apperr.KeyRegisterOK))
	b.haptics.Notify(FeedbackSuccess)
	b.navigate(RouteLogin)
}

// Logout signs out. It cannot fail.
func (b *Binder) Logout(ctx context.Context) {
	b.session.SignOut(ctx)
	b.haptics.Notify(FeedbackSuccess)
}

// QuickAdd creates a product from the home screen form.
func (b *Binder) QuickAdd(ctx context.Context, name, description string) {
	cur := b.session.Current()
	if cur == nil {
		b.lg.Debug("Quick add without identity")
		return
	}
	d := product.Draft{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if _, err := b.catalog.AddProduct(ctx, cur.ID, d); err != nil {
		b.fail(apperr.KeyErrorTitle, err)
		return
	}
	b.haptics.Notify(FeedbackImpactMedium)
}

// SaveProduct creates or edits a product, uploading its image first when
// one is attached. It returns the product key on success.
func (b *Binder) SaveProduct(ctx context.Context, req catalog.SaveRequest) (string, bool) {
	cur := b.session.Current()
	if cur == nil {
		b.lg.Debug("Save product without identity")
		return "", false
	}
	key, err := b.catalog.SaveProduct(ctx, cur.ID, req)
	if err != nil {
		b.fail(apperr.KeyErrorTitle, err)
		return "", false
	}
	b.haptics.Notify(FeedbackImpactMedium)
	return key, true
}

// DeleteProduct asks for confirmation and removes the product.
func (b *Binder) DeleteProduct(ctx context.Context, productID string) {
	cur := b.session.Current()
	if cur == nil {
		return
	}
	choice, err := b.presenter.Confirm(ctx, Dialog{
		Header:  b.locale.Text(apperr.KeyDeleteTitle),
		Message: b.locale.Text(apperr.KeyDeleteConfirm),
		Buttons: []Button{
			{ID: ButtonCancel, Text: b.locale.Text(apperr.KeyCancel), Role: RoleCancel},
			{ID: ButtonDelete, Text: b.locale.Text(apperr.KeyDelete), Role: RoleDestructive},
		},
	})
	if err != nil {
		b.lg.Debug("Delete confirmation aborted", zap.Error(err))
		return
	}
	if choice != ButtonDelete {
		return
	}
	if err := b.catalog.DeleteProduct(ctx, cur.ID, productID); err != nil {
		b.fail(apperr.KeyErrorTitle, err)
		return
	}
	b.haptics.Notify(FeedbackError)
}

// ProfileUpdate is the profile edit form.
type ProfileUpdate struct {
	DisplayName     string
	Email           string
	NewPassword     string
	ConfirmPassword string
}

// UpdateProfile applies changed fields in order: display name, email,
// password. The whole form is validated before the auth provider is
// called. When a later step fails, the fields already saved are still
// republished so the profile matches the account. On success the profile
// is republished without an identity change and the client returns home.
func (b *Binder) UpdateProfile(ctx context.Context, u ProfileUpdate) {
	cur := b.session.Current()
	if cur == nil {
		b.fail(apperr.KeyErrorTitle, session.ErrSignedOut)
		return
	}
	u, err := validateProfileUpdate(u)
	if err != nil {
		b.fail(apperr.KeyErrorTitle, err)
		return
	}

	var steps []func() (identity.Identity, error)
	if u.DisplayName != cur.DisplayName {
		steps = append(steps, func() (identity.Identity, error) {
			return b.session.UpdateDisplayName(ctx, u.DisplayName)
		})
	}
	if u.Email != cur.Email {
		steps = append(steps, func() (identity.Identity, error) {
			return b.session.UpdateEmail(ctx, u.Email)
		})
	}
	if u.NewPassword != "" {
		steps = append(steps, func() (identity.Identity, error) {
			return b.session.UpdatePassword(ctx, u.NewPassword)
		})
	}

	updated := *cur
	for i, step := range steps {
		next, err := step()
		if err != nil {
			if i > 0 {
				b.profiles.ApplyExternalUpdate(profile.FromIdentity(updated))
			}
			b.fail(apperr.KeyErrorTitle, err)
			return
		}
		updated = next
	}

	b.profiles.ApplyExternalUpdate(profile.FromIdentity(updated))
	b.alert(apperr.KeyProfileOKTitle, b.locale.Text(apperr.KeyProfileOK))
	b.haptics.Notify(FeedbackImpactMedium)
	b.navigate(RouteHome)
}

// validateProfileUpdate checks the profile form without calling the auth
// provider and returns it with the name trimmed and the email normalized.
func validateProfileUpdate(u ProfileUpdate) (ProfileUpdate, error) {
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	switch {
	case u.DisplayName == "":
		return u, apperr.Missing("displayName")
	case strings.TrimSpace(u.Email) == "":
		return u, apperr.Missing("email")
	case u.NewPassword != u.ConfirmPassword:
		return u, &apperr.ValidationError{Code: apperr.PasswordMismatch, Field: "confirmPassword"}
	}
	email, ok := identity.NormalizeEmail(u.Email)
	if !ok {
		return u, apperr.NewAuthError(apperr.AuthInvalidEmail, nil)
	}
	u.Email = email
	if u.NewPassword != "" && password.Weak(u.NewPassword) {
		return u, apperr.NewAuthError(apperr.AuthWeakPassword, nil)
	}
	return u, nil
}

// Search filters the rendered catalog by product name.
func (b *Binder) Search(ctx context.Context, query string) error {
	return b.loop.Do(ctx, func() {
		b.query = query
		b.renderCatalog(b.latest)
	})
}

// OpenMenu shows the options action sheet and runs the chosen action.
func (b *Binder) OpenMenu(ctx context.Context) {
	choice, err := b.presenter.ActionSheet(ctx, Dialog{
		Header: b.locale.Text(apperr.KeyMenuTitle),
		Buttons: []Button{
			{ID: ButtonEditProfile, Text: b.locale.Text(apperr.KeyMenuEditProfile)},
			{ID: ButtonLogout, Text: b.locale.Text(apperr.KeyMenuLogout), Role: RoleDestructive},
			{ID: ButtonCancel, Text: b.locale.Text(apperr.KeyCancel), Role: RoleCancel},
		},
	})
	if err != nil {
		b.lg.Debug("Menu aborted", zap.Error(err))
		return
	}
	switch choice {
	case ButtonEditProfile:
		b.navigate(RouteProfileEdit)
	case ButtonLogout:
		b.Logout(ctx)
	}
}

// Resume handles the client returning to the foreground. It runs on the
// loop so it cannot race an identity change being applied.
func (b *Binder) Resume(ctx context.Context) error {
	return b.loop.Do(ctx, func() {
		if b.identityID == "" {
			return
		}
		h, err := b.resume.Resume(b.ctx)
		if err != nil {
			b.fail(apperr.KeyErrorTitle, err)
			return
		}
		if h != nil && h.IdentityID() == b.identityID {
			b.handle = h
		}
	})
}
