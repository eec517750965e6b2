package binding

import (
	"context"

	"github.com/xenking/catalog-sync/internal/domain/product"
)

// Route is a client screen.
type Route string

// Client routes.
const (
	RouteLogin       Route = "login"
	RouteRegister    Route = "register"
	RouteHome        Route = "home"
	RouteProfileEdit Route = "profile-edit"
)

// Feedback is a haptic notification kind.
type Feedback string

// Haptic feedback kinds.
const (
	FeedbackSuccess      Feedback = "success"
	FeedbackError        Feedback = "error"
	FeedbackImpactMedium Feedback = "impact-medium"
)

// Role styles a dialog button.
type Role string

// Button roles.
const (
	RoleDefault     Role = ""
	RoleCancel      Role = "cancel"
	RoleDestructive Role = "destructive"
)

// Button is a dialog button. ID is returned when the button is chosen.
type Button struct {
	ID   string
	Text string
	Role Role
}

// Dialog is an alert, confirmation or action sheet.
type Dialog struct {
	Header  string
	Message string
	Buttons []Button
}

// ProfileView is the rendered profile header.
type ProfileView struct {
	SignedIn    bool
	DisplayName string
	PhotoURL    string
}

// CatalogView is the rendered product list after the search filter.
type CatalogView struct {
	Seq        uint64
	IdentityID string
	Query      string
	Products   []product.Product
	Total      int
	Error      string
}

// View renders state pushed by the Binder. Calls come from the Binder's
// event loop, one at a time.
type View interface {
	RenderProfile(ProfileView)
	RenderCatalog(CatalogView)
	Navigate(Route)
}

// Presenter shows dialogs. Alert is not awaited. Confirm and ActionSheet
// block until the user picks a button and return its ID; a dismissed dialog
// yields the ID of its cancel button.
type Presenter interface {
	Alert(Dialog)
	Confirm(ctx context.Context, d Dialog) (string, error)
	ActionSheet(ctx context.Context, d Dialog) (string, error)
}

// Haptics plays feedback. It never blocks.
type Haptics interface {
	Notify(Feedback)
}
