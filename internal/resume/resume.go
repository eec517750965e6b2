// Package resume re-drives the current identity into the catalog loader
// when the client returns to the foreground.
package resume

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/catalog"
	"github.com/xenking/catalog-sync/internal/domain/identity"
)

// IdentitySource yields the current identity, or nil when signed out.
type IdentitySource interface {
	Current() *identity.Identity
}

// Attacher attaches the catalog of an identity. Attach must be idempotent
// for the identity that is already attached.
type Attacher interface {
	Attach(ctx context.Context, identityID string) (*catalog.Handle, error)
}

var _ Attacher = (*catalog.Loader)(nil)

// Controller handles foreground-resume signals.
type Controller struct {
	session IdentitySource
	catalog Attacher
	lg      *zap.Logger
}

// New creates a Controller.
func New(session IdentitySource, catalog Attacher, lg *zap.Logger) *Controller {
	return &Controller{session: session, catalog: catalog, lg: lg}
}

// Resume attaches the catalog of the current identity. It does nothing when
// nobody is signed in and never re-runs the login flow.
func (c *Controller) Resume(ctx context.Context) (*catalog.Handle, error) {
	cur := c.session.Current()
	if cur == nil {
		c.lg.Debug("Resume without identity")
		return nil, nil
	}
	h, err := c.catalog.Attach(ctx, cur.ID)
	if err != nil {
		return nil, err
	}
	c.lg.Debug("Resumed catalog", zap.String("identity", cur.ID))
	return h, nil
}
