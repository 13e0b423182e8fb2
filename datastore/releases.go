package datastore

import (
	"context"
	"time"

	"github.com/oasishq/oasis"
)

// ReleaseListOpts bounds and filters a release listing.
type ReleaseListOpts struct {
	AppID string
	// Status filters to one lifecycle state when set.
	Status oasis.ReleaseStatus
	Page   Page
}

// ReleaseStore is the release catalog.
//
// The transition methods are guarded: they only apply when the release is in
// a state the transition is legal from, and report ErrConflict otherwise.
// Concurrent callers race cleanly on the row condition.
type ReleaseStore interface {
	// CreateRelease persists a new draft release. A duplicate
	// (app_id, version) reports ErrConflict.
	CreateRelease(ctx context.Context, r *oasis.Release) error
	// ReleaseByID fetches a release by id.
	ReleaseByID(ctx context.Context, id string) (*oasis.Release, error)
	// ReleaseByVersion fetches a release by (app_id, version).
	ReleaseByVersion(ctx context.Context, appID, version string) (*oasis.Release, error)
	// ListReleases returns a page of releases ordered by created_at desc,
	// plus the total count of matching rows.
	ListReleases(ctx context.Context, opts ReleaseListOpts) ([]oasis.Release, int64, error)
	// PublishedReleases returns every published release of an app, for
	// update resolution. No pagination; the resolver needs them all.
	PublishedReleases(ctx context.Context, appID string) ([]oasis.Release, error)
	// UpdateReleaseNotes edits notes in any lifecycle state.
	UpdateReleaseNotes(ctx context.Context, id string, notes *string) (*oasis.Release, error)
	// PublishRelease transitions draft to published and sets pub_date to
	// now the first time.
	PublishRelease(ctx context.Context, id string, now time.Time) (*oasis.Release, error)
	// ArchiveRelease transitions draft or published to archived. pub_date
	// is left alone.
	ArchiveRelease(ctx context.Context, id string) (*oasis.Release, error)
	// DeleteRelease removes a draft release and its artifact and installer
	// rows. The returned keys are the storage keys of the removed rows for
	// best-effort object deletion by the caller. Non-draft releases report
	// ErrConflict.
	DeleteRelease(ctx context.Context, id string) (storageKeys []string, _ error)
}
