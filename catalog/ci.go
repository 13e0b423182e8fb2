package catalog

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/oasishq/oasis"
)

// headLimit bounds concurrent object-store probes during a CI import.
const headLimit = 4

// ImportParams is the one-shot CI release payload. Every referenced object
// must already be uploaded under its storage key before the call.
type ImportParams struct {
	Version     string            `json:"version"`
	Notes       *string           `json:"notes,omitempty"`
	Artifacts   []ImportArtifact  `json:"artifacts"`
	Installers  []ImportInstaller `json:"installers,omitempty"`
	AutoPublish bool              `json:"auto_publish,omitempty"`
}

// ImportArtifact links one already-uploaded update payload.
type ImportArtifact struct {
	Platform   string `json:"platform"`
	Signature  string `json:"signature"`
	StorageKey string `json:"r2_key"`
}

// ImportInstaller links one already-uploaded installer. Filename defaults
// to the basename of the storage key.
type ImportInstaller struct {
	Platform    string  `json:"platform"`
	Filename    string  `json:"filename,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	StorageKey  string  `json:"r2_key"`
}

// ImportRelease creates a release and links its pre-uploaded objects as
// confirmed artifacts and installers in one call.
//
// Every object is verified with a HEAD before anything is written, so an
// import that fails verification persists nothing. Row inserts after that
// point are not atomic as a group; a mid-import storage outage can leave a
// partial draft release, which the caller repairs by deleting it.
func (s *Service) ImportRelease(ctx context.Context, appID string, p ImportParams) (*oasis.Release, error) {
	const op = `catalog/Service.ImportRelease`
	ctx = zlog.ContextWithValues(ctx, "component", op)

	// All the cheap validation happens before any storage probe.
	if _, err := oasis.ParseVersion(p.Version); err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	if len(p.Artifacts) == 0 {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "import needs at least one artifact"}
	}
	artifacts := make([]importRow, len(p.Artifacts))
	seen := map[oasis.Platform]struct{}{}
	for i, a := range p.Artifacts {
		platform, err := artifactPlatform(op, a.Platform)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[platform]; ok {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("duplicate artifact platform %s", platform)}
		}
		seen[platform] = struct{}{}
		if a.StorageKey == "" {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("artifact %s has no r2_key", platform)}
		}
		artifacts[i] = importRow{platform: platform, key: a.StorageKey}
	}
	installers := make([]importRow, len(p.Installers))
	seen = map[oasis.Platform]struct{}{}
	for i, in := range p.Installers {
		platform, err := installerPlatform(op, in.Platform)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[platform]; ok {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("duplicate installer platform %s", platform)}
		}
		seen[platform] = struct{}{}
		if in.StorageKey == "" {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("installer %s has no r2_key", platform)}
		}
		filename := in.Filename
		if filename == "" {
			filename = path.Base(in.StorageKey)
		}
		if err := oasis.ValidateFilename(filename); err != nil {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
		}
		installers[i] = importRow{platform: platform, key: in.StorageKey, filename: filename}
	}

	if err := s.verifyImport(ctx, op, artifacts, installers); err != nil {
		return nil, err
	}

	rel, err := s.CreateRelease(ctx, appID, p.Version, p.Notes)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i, row := range artifacts {
		a := &oasis.Artifact{
			ID:          oasis.NewID(),
			ReleaseID:   rel.ID,
			Platform:    row.platform,
			Signature:   normalizeOptional(&p.Artifacts[i].Signature),
			StorageKey:  &artifacts[i].key,
			DownloadURL: &row.url,
			FileSize:    &artifacts[i].size,
			CreatedAt:   now,
		}
		if err := s.store.CreateArtifact(ctx, a); err != nil {
			return nil, err
		}
	}
	for i, row := range installers {
		inst := &oasis.Installer{
			ID:          oasis.NewID(),
			ReleaseID:   rel.ID,
			Platform:    row.platform,
			Filename:    row.filename,
			DisplayName: normalizeOptional(p.Installers[i].DisplayName),
			StorageKey:  &installers[i].key,
			DownloadURL: &row.url,
			FileSize:    &installers[i].size,
			CreatedAt:   now,
		}
		if err := s.store.CreateInstaller(ctx, inst); err != nil {
			return nil, err
		}
	}
	if p.AutoPublish {
		rel, err = s.PublishRelease(ctx, appID, rel.ID)
		if err != nil {
			return nil, err
		}
	}
	zlog.Info(ctx).
		Str("release", rel.ID).
		Str("version", rel.Version).
		Int("artifacts", len(artifacts)).
		Int("installers", len(installers)).
		Bool("published", p.AutoPublish).
		Msg("ci import complete")
	return rel, nil
}

type importRow struct {
	platform oasis.Platform
	key      string
	filename string
	size     int64
	url      string
}

// verifyImport HEADs every referenced object and fills in sizes and
// download URLs. Rows are written to disjoint indices, so no lock.
func (s *Service) verifyImport(ctx context.Context, op string, groups ...[]importRow) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(headLimit)
	for _, rows := range groups {
		for i := range rows {
			row := &rows[i]
			g.Go(func() error {
				info, err := s.objects.Head(ctx, row.key)
				if err != nil {
					return fmt.Errorf("%s: object %q for %s: %w", op, row.key, row.platform, err)
				}
				url, err := s.resolveDownloadURL(ctx, row.key)
				if err != nil {
					return fmt.Errorf("%s: resolving download for %q: %w", op, row.key, err)
				}
				row.size = info.Size
				row.url = url
				return nil
			})
		}
	}
	return g.Wait()
}
