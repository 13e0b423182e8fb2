// Package catalog owns the app registry, the release lifecycle, and the
// upload protocol that attaches artifacts and installers to releases.
//
// Operations here coordinate two independent stores, the database and the
// object store, without distributed transactions. Rows hold the truth;
// object deletion is best-effort and logged, and unconfirmed upload slots
// are acceptable residue reclaimed by replace_existing or operator action.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
	"github.com/oasishq/oasis/internal/objstore"
)

// Store is the slice of the datastore the catalog uses.
type Store interface {
	datastore.AppStore
	datastore.ReleaseStore
	datastore.ArtifactStore
	datastore.InstallerStore
}

// Service is the catalog engine.
type Service struct {
	store   Store
	objects objstore.Store
}

// New returns a Service over the given stores.
func New(store Store, objects objstore.Store) *Service {
	return &Service{store: store, objects: objects}
}

// CreateAppParams is the app creation payload.
type CreateAppParams struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	PublicKey   *string `json:"public_key,omitempty"`
}

// UpdateAppParams is the partial app update payload. Nil members are left
// alone; an explicit empty string clears description or public key.
type UpdateAppParams struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	PublicKey   *string `json:"public_key,omitempty"`
}

// CreateApp registers a new app.
func (s *Service) CreateApp(ctx context.Context, p CreateAppParams) (*oasis.App, error) {
	const op = `catalog/Service.CreateApp`
	if err := oasis.ValidateSlug(p.Slug); err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	if p.Name == "" {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "app name is required"}
	}
	pub := normalizeOptional(p.PublicKey)
	if pub != nil {
		if err := oasis.ValidatePublicKey(*pub); err != nil {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
		}
	}
	now := time.Now().UTC()
	app := &oasis.App{
		ID:          oasis.NewID(),
		Slug:        p.Slug,
		Name:        p.Name,
		Description: normalizeOptional(p.Description),
		PublicKey:   pub,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateApp(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// App fetches an app by id.
func (s *Service) App(ctx context.Context, id string) (*oasis.App, error) {
	return s.store.AppByID(ctx, id)
}

// AppBySlug fetches an app by slug.
func (s *Service) AppBySlug(ctx context.Context, slug string) (*oasis.App, error) {
	return s.store.AppBySlug(ctx, slug)
}

// ListApps returns a page of apps with listing projections.
func (s *Service) ListApps(ctx context.Context, opts datastore.AppListOpts) ([]datastore.AppSummary, int64, error) {
	return s.store.ListApps(ctx, opts)
}

// UpdateApp applies a partial update.
func (s *Service) UpdateApp(ctx context.Context, id string, p UpdateAppParams) (*oasis.App, error) {
	const op = `catalog/Service.UpdateApp`
	app, err := s.store.AppByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		if *p.Name == "" {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "app name cannot be cleared"}
		}
		app.Name = *p.Name
	}
	if p.Description != nil {
		app.Description = normalizeOptional(p.Description)
	}
	if p.PublicKey != nil {
		pub := normalizeOptional(p.PublicKey)
		if pub != nil {
			if err := oasis.ValidatePublicKey(*pub); err != nil {
				return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
			}
		}
		app.PublicKey = pub
	}
	app.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateApp(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// DeleteApp removes an app, its drafts and archived releases, and their
// stored objects. Apps with published releases are refused.
func (s *Service) DeleteApp(ctx context.Context, id string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "catalog/Service.DeleteApp")
	keys, err := s.store.DeleteApp(ctx, id)
	if err != nil {
		return err
	}
	s.deleteObjects(ctx, keys)
	return nil
}

// CreateRelease opens a new draft.
func (s *Service) CreateRelease(ctx context.Context, appID, version string, notes *string) (*oasis.Release, error) {
	const op = `catalog/Service.CreateRelease`
	if _, err := oasis.ParseVersion(version); err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	if _, err := s.store.AppByID(ctx, appID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rel := &oasis.Release{
		ID:        oasis.NewID(),
		AppID:     appID,
		Version:   version,
		Notes:     normalizeOptional(notes),
		Status:    oasis.ReleaseDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRelease(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// Release fetches a release and verifies it belongs to the app. Routing is
// by app slug, so a real release id under the wrong app must be
// indistinguishable from a missing one.
func (s *Service) Release(ctx context.Context, appID, releaseID string) (*oasis.Release, error) {
	const op = `catalog/Service.Release`
	rel, err := s.store.ReleaseByID(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if rel.AppID != appID {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: fmt.Sprintf("no release %q for this app", releaseID)}
	}
	return rel, nil
}

// ListReleases returns a page of an app's releases.
func (s *Service) ListReleases(ctx context.Context, opts datastore.ReleaseListOpts) ([]oasis.Release, int64, error) {
	const op = `catalog/Service.ListReleases`
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("unknown release status %q", opts.Status)}
	}
	return s.store.ListReleases(ctx, opts)
}

// UpdateReleaseNotes edits release notes in any lifecycle state.
func (s *Service) UpdateReleaseNotes(ctx context.Context, appID, releaseID string, notes *string) (*oasis.Release, error) {
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	return s.store.UpdateReleaseNotes(ctx, releaseID, normalizeOptional(notes))
}

// PublishRelease transitions a draft to published.
func (s *Service) PublishRelease(ctx context.Context, appID, releaseID string) (*oasis.Release, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "catalog/Service.PublishRelease")
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	rel, err := s.store.PublishRelease(ctx, releaseID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Str("release", rel.ID).
		Str("version", rel.Version).
		Msg("release published")
	return rel, nil
}

// ArchiveRelease retires a draft or published release from update
// resolution.
func (s *Service) ArchiveRelease(ctx context.Context, appID, releaseID string) (*oasis.Release, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "catalog/Service.ArchiveRelease")
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	rel, err := s.store.ArchiveRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Str("release", rel.ID).
		Str("version", rel.Version).
		Msg("release archived")
	return rel, nil
}

// DeleteRelease removes a draft release, its rows, and its stored objects.
func (s *Service) DeleteRelease(ctx context.Context, appID, releaseID string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "catalog/Service.DeleteRelease")
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return err
	}
	keys, err := s.store.DeleteRelease(ctx, releaseID)
	if err != nil {
		return err
	}
	s.deleteObjects(ctx, keys)
	return nil
}

// deleteObjects removes orphaned objects after their rows are gone.
// Failures leave garbage in the bucket and a log line, never an error for
// the caller.
func (s *Service) deleteObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			zlog.Warn(ctx).
				Str("key", key).
				Err(err).
				Msg("failed to delete stored object")
		}
	}
}

// normalizeOptional folds empty strings into absent.
func normalizeOptional(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}
