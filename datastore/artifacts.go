package datastore

import (
	"context"

	"github.com/oasishq/oasis"
)

// ConfirmAttrs carries the write-through values of a confirmed upload.
type ConfirmAttrs struct {
	DownloadURL string
	FileSize    int64
	// Signature is only meaningful for artifacts.
	Signature *string
	Checksum  *oasis.Checksum
}

// ArtifactStore holds update payloads, keyed uniquely by
// (release_id, platform).
type ArtifactStore interface {
	// CreateArtifact persists an artifact row. A duplicate
	// (release_id, platform) reports ErrConflict.
	CreateArtifact(ctx context.Context, a *oasis.Artifact) error
	// ArtifactByID fetches an artifact by id.
	ArtifactByID(ctx context.Context, id string) (*oasis.Artifact, error)
	// ArtifactByPlatform fetches the artifact of a release for one
	// platform.
	ArtifactByPlatform(ctx context.Context, releaseID string, p oasis.Platform) (*oasis.Artifact, error)
	// ListArtifacts returns every artifact of a release.
	ListArtifacts(ctx context.Context, releaseID string) ([]oasis.Artifact, error)
	// ConfirmArtifact moves a pending artifact to confirmed. A row that is
	// not pending reports ErrConflict.
	ConfirmArtifact(ctx context.Context, id string, attrs ConfirmAttrs) (*oasis.Artifact, error)
	// DeleteArtifact removes the row. Object deletion is the caller's
	// best-effort concern.
	DeleteArtifact(ctx context.Context, id string) error
}

// InstallerStore holds end-user installers, keyed uniquely by
// (release_id, platform) over the broader installer platform set.
type InstallerStore interface {
	// CreateInstaller persists an installer row. A duplicate
	// (release_id, platform) reports ErrConflict.
	CreateInstaller(ctx context.Context, i *oasis.Installer) error
	// InstallerByID fetches an installer by id.
	InstallerByID(ctx context.Context, id string) (*oasis.Installer, error)
	// InstallerByPlatform fetches the installer of a release for one
	// platform. No fallback logic here; that is the resolver's job.
	InstallerByPlatform(ctx context.Context, releaseID string, p oasis.Platform) (*oasis.Installer, error)
	// ListInstallers returns every installer of a release.
	ListInstallers(ctx context.Context, releaseID string) ([]oasis.Installer, error)
	// ConfirmInstaller moves a pending installer to confirmed. A row that
	// is not pending reports ErrConflict.
	ConfirmInstaller(ctx context.Context, id string, attrs ConfirmAttrs) (*oasis.Installer, error)
	// DeleteInstaller removes the row.
	DeleteInstaller(ctx context.Context, id string) error
}
