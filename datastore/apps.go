package datastore

import (
	"context"

	"github.com/oasishq/oasis"
)

// AppSummary is an App with listing projections attached.
type AppSummary struct {
	oasis.App
	// ReleaseCount is the number of releases in any state.
	ReleaseCount int64 `json:"release_count"`
	// LatestVersion is the version of the most recently published release,
	// compared by pub_date then semver. Nil when nothing is published.
	LatestVersion *string `json:"latest_version,omitempty"`
}

// AppListOpts bounds and filters an app listing.
type AppListOpts struct {
	Page Page
	// Search filters by substring match on slug and name.
	Search string
}

// AppStore is the app registry.
type AppStore interface {
	// CreateApp persists a new app. A duplicate slug reports ErrConflict.
	CreateApp(ctx context.Context, app *oasis.App) error
	// AppByID fetches an app by id, reporting ErrNotFound when absent.
	AppByID(ctx context.Context, id string) (*oasis.App, error)
	// AppBySlug fetches an app by slug, reporting ErrNotFound when absent.
	AppBySlug(ctx context.Context, slug string) (*oasis.App, error)
	// ListApps returns a page of apps with projections, plus the total
	// count of matching rows.
	ListApps(ctx context.Context, opts AppListOpts) ([]AppSummary, int64, error)
	// UpdateApp updates name, description, and public key in place and
	// bumps updated_at.
	UpdateApp(ctx context.Context, app *oasis.App) error
	// DeleteApp removes an app and everything beneath it. An app with a
	// published release reports ErrConflict. The returned keys are the
	// storage keys of every object that belonged to the app, for
	// best-effort deletion by the caller.
	DeleteApp(ctx context.Context, id string) (storageKeys []string, _ error)
}
