// Package binding connects the session, profile and catalog components of
// one client to its view, and turns user commands into backend calls.
package binding

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/catalog"
	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/internal/domain/product"
	"github.com/xenking/catalog-sync/internal/loop"
	"github.com/xenking/catalog-sync/internal/profile"
	"github.com/xenking/catalog-sync/internal/resume"
	"github.com/xenking/catalog-sync/internal/session"
)

// Dialog button IDs.
const (
	ButtonOK          = "ok"
	ButtonCancel      = "cancel"
	ButtonDelete      = "delete"
	ButtonEditProfile = "edit-profile"
	ButtonLogout      = "logout"
)

// Params are the collaborators of a Binder.
type Params struct {
	Session   *session.Store
	Profiles  *profile.Cache
	Catalog   *catalog.Loader
	Resume    *resume.Controller
	Loop      *loop.Loop
	View      View
	Presenter Presenter
	Haptics   Haptics
	Logger    *zap.Logger

	Locale apperr.Locale
	// DefaultPhotoURL is shown for identities without a photo.
	DefaultPhotoURL string
}

// Binder is the view binding layer of one client. Reactions to session,
// profile and catalog changes run on the event loop; commands run on the
// caller's goroutine and hand view updates to the loop.
type Binder struct {
	session   *session.Store
	profiles  *profile.Cache
	catalog   *catalog.Loader
	resume    *resume.Controller
	loop      *loop.Loop
	view      View
	presenter Presenter
	haptics   Haptics
	lg        *zap.Logger
	locale    apperr.Locale
	photo     string

	// Owned by the loop.
	ctx        context.Context
	identityID string
	handle     *catalog.Handle
	catalogSeq uint64
	latest     catalog.Snapshot
	query      string
}

// New creates a Binder. Call Run to start it.
func New(p Params) *Binder {
	lg := p.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Binder{
		session:   p.Session,
		profiles:  p.Profiles,
		catalog:   p.Catalog,
		resume:    p.Resume,
		loop:      p.Loop,
		view:      p.View,
		presenter: p.Presenter,
		haptics:   p.Haptics,
		lg:        lg,
		locale:    p.Locale,
		photo:     p.DefaultPhotoURL,
	}
}

// Run subscribes to the components and processes reactions until ctx is
// done. On return every subscription is released.
func (b *Binder) Run(ctx context.Context) error {
	b.ctx = ctx

	cancels := []func(){
		b.session.Subscribe(func(ev session.Event) {
			b.post(func() { b.onIdentity(ev) })
		}),
		b.profiles.Subscribe(func(p profile.Profile, ok bool) {
			b.post(func() { b.onProfile(p, ok) })
		}),
		b.catalog.Subscribe(func(s catalog.Snapshot) {
			b.post(func() { b.onCatalog(s) })
		}),
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		b.catalog.Detach(b.catalog.Active())
		b.session.Close()
	}()

	b.post(func() {
		if b.session.Current() == nil {
			b.view.Navigate(RouteLogin)
		}
	})
	return b.loop.Run(ctx)
}

// Sync waits until every reaction queued before the call has run.
func (b *Binder) Sync(ctx context.Context) error {
	return b.loop.Do(ctx, func() {})
}

func (b *Binder) post(fn func()) {
	if err := b.loop.Post(fn); err != nil {
		b.lg.Debug("Dropping reaction after close", zap.Error(err))
	}
}

// onIdentity reacts to an identity change: profile refresh, then catalog
// attach, then render.
func (b *Binder) onIdentity(ev session.Event) {
	cur := b.session.Current()
	if !sameIdentity(ev, cur) {
		// A later event for the identity that replaced this one is queued.
		b.lg.Debug("Skipping superseded identity event", zap.Uint64("seq", ev.Seq))
		return
	}
	if ev.Identity == nil {
		b.signedOut()
		return
	}

	id := *ev.Identity
	prev := b.identityID
	b.identityID = id.ID

	b.profiles.RefreshFrom(id)
	h, err := b.catalog.Attach(b.ctx, id.ID)
	if err != nil {
		b.fail(apperr.KeyErrorTitle, err)
	}
	b.handle = h

	b.renderProfile()
	b.renderCatalog(b.catalog.Current())
	if prev != id.ID {
		b.view.Navigate(RouteHome)
	}
}

func (b *Binder) signedOut() {
	b.catalog.Detach(b.catalog.Active())
	b.handle = nil
	b.identityID = ""
	b.query = ""
	b.latest = catalog.Snapshot{}
	b.profiles.Clear()

	b.renderProfile()
	b.view.RenderCatalog(CatalogView{Seq: b.catalogSeq, Products: []product.Product{}})
	b.view.Navigate(RouteLogin)
}

func sameIdentity(ev session.Event, cur *identity.Identity) bool {
	return idOf(ev.Identity) == idOf(cur)
}

func idOf(i *identity.Identity) string {
	if i == nil {
		return ""
	}
	return i.ID
}

func (b *Binder) onProfile(p profile.Profile, ok bool) {
	if ok && p.IdentityID != b.identityID {
		return
	}
	b.renderProfile()
}

func (b *Binder) renderProfile() {
	p, ok := b.profiles.Current()
	if !ok || p.IdentityID != b.identityID {
		b.view.RenderProfile(ProfileView{})
		return
	}
	v := ProfileView{SignedIn: true, DisplayName: p.DisplayName, PhotoURL: p.PhotoURL}
	if v.DisplayName == "" {
		v.DisplayName = b.locale.Text(apperr.KeyGuestName)
	}
	if v.PhotoURL == "" {
		v.PhotoURL = b.photo
	}
	b.view.RenderProfile(v)
}

func (b *Binder) onCatalog(s catalog.Snapshot) {
	if s.Seq <= b.catalogSeq || s.IdentityID != b.identityID {
		return
	}
	b.renderCatalog(s)
	if s.Err != nil {
		b.fail(apperr.KeyErrorTitle, s.Err)
	}
}

func (b *Binder) renderCatalog(s catalog.Snapshot) {
	if s.IdentityID != b.identityID {
		return
	}
	b.catalogSeq = s.Seq
	b.latest = s
	v := CatalogView{
		Seq:        s.Seq,
		IdentityID: s.IdentityID,
		Query:      b.query,
		Products:   filterByName(s.Products, b.query),
		Total:      len(s.Products),
	}
	if s.Err != nil {
		v.Error = b.locale.Localize(s.Err)
	}
	b.view.RenderCatalog(v)
}

// filterByName keeps products whose name contains query, ignoring case.
func filterByName(products []product.Product, query string) []product.Product {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return products
	}
	out := make([]product.Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), query) {
			out = append(out, p)
		}
	}
	return out
}

// fail reports err to the user. It is safe to call from any goroutine.
func (b *Binder) fail(titleKey string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	b.lg.Info("Command failed", zap.String("title", titleKey), zap.Error(err))
	b.alert(titleKey, b.locale.Localize(err))
	b.haptics.Notify(FeedbackError)
}

func (b *Binder) alert(titleKey, message string) {
	d := Dialog{
		Header:  b.locale.Text(titleKey),
		Message: message,
		Buttons: []Button{{ID: ButtonOK, Text: b.locale.Text(apperr.KeyOK)}},
	}
	b.post(func() { b.presenter.Alert(d) })
}

func (b *Binder) navigate(r Route) {
	b.post(func() { b.view.Navigate(r) })
}
