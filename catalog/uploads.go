package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
	"github.com/oasishq/oasis/internal/objstore"
)

// PresignParams describes the upload slot to reserve.
type PresignParams struct {
	Platform string `json:"platform"`
	Filename string `json:"filename"`
	// ContentType defaults to application/octet-stream. The URL is signed
	// over it, so the PUT must repeat it exactly.
	ContentType string `json:"content_type,omitempty"`
	// DisplayName is carried through for installers and ignored for
	// artifacts.
	DisplayName *string `json:"display_name,omitempty"`
	// ReplaceExisting tears down an existing row and object for the same
	// (release, platform) slot instead of failing with a conflict. This is
	// the recovery path after a crash between upload and confirmation.
	ReplaceExisting bool `json:"replace_existing,omitempty"`
}

// PresignGrant is a reserved upload window.
type PresignGrant struct {
	ID           string
	StorageKey   string
	PresignedURL string
	ContentType  string
}

// ConfirmParams is the write-through payload of a completed upload.
type ConfirmParams struct {
	// Signature is the update signature over the artifact bytes. Ignored
	// for installers.
	Signature *string `json:"signature,omitempty"`
	Checksum  *string `json:"checksum,omitempty"`
}

// DirectArtifactParams registers an externally-hosted artifact. No object
// is stored; the two-phase protocol is bypassed entirely.
type DirectArtifactParams struct {
	Platform    string  `json:"platform"`
	DownloadURL string  `json:"download_url"`
	Signature   *string `json:"signature,omitempty"`
	Checksum    *string `json:"checksum,omitempty"`
	FileSize    *int64  `json:"file_size,omitempty"`
}

// DirectInstallerParams registers an externally-hosted installer.
type DirectInstallerParams struct {
	Platform    string  `json:"platform"`
	DownloadURL string  `json:"download_url"`
	Filename    string  `json:"filename"`
	DisplayName *string `json:"display_name,omitempty"`
	Checksum    *string `json:"checksum,omitempty"`
	FileSize    *int64  `json:"file_size,omitempty"`
}

// PresignArtifact reserves an upload slot for a platform's update payload
// and returns a one-hour PUT URL for it.
func (s *Service) PresignArtifact(ctx context.Context, appID, releaseID string, p PresignParams) (*PresignGrant, error) {
	const op = `catalog/Service.PresignArtifact`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	platform, err := artifactPlatform(op, p.Platform)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ArtifactByPlatform(ctx, releaseID, platform)
	switch {
	case err == nil:
		if !p.ReplaceExisting {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrConflict, Message: fmt.Sprintf("release already has a %s artifact", platform)}
		}
		if err := s.replaceSlot(ctx, existing.StorageKey, func() error { return s.store.DeleteArtifact(ctx, existing.ID) }); err != nil {
			return nil, err
		}
	case errors.Is(err, oasis.ErrNotFound):
	default:
		return nil, err
	}

	grant, err := s.reserveUpload(ctx, op, appID, releaseID, p, objstore.ReleaseKey)
	if err != nil {
		return nil, err
	}
	a := &oasis.Artifact{
		ID:         grant.ID,
		ReleaseID:  releaseID,
		Platform:   platform,
		StorageKey: &grant.StorageKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateArtifact(ctx, a); err != nil {
		// Concurrent presigns race on the (release, platform) constraint;
		// the loser sees the conflict.
		return nil, err
	}
	zlog.Info(ctx).
		Str("artifact", a.ID).
		Str("release", releaseID).
		Str("platform", string(platform)).
		Msg("upload slot reserved")
	return grant, nil
}

// ConfirmArtifact completes the two-phase upload: it checks the object is
// really in the bucket, resolves the download URL, and writes it through.
func (s *Service) ConfirmArtifact(ctx context.Context, appID, releaseID, artifactID string, p ConfirmParams) (*oasis.Artifact, error) {
	const op = `catalog/Service.ConfirmArtifact`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	art, err := s.artifact(ctx, appID, releaseID, artifactID)
	if err != nil {
		return nil, err
	}
	if !art.Pending() {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrConflict, Code: "not_pending", Message: "artifact is not awaiting confirmation"}
	}
	ck, err := parseOptionalChecksum(op, p.Checksum)
	if err != nil {
		return nil, err
	}
	attrs, err := s.verifyUpload(ctx, op, *art.StorageKey)
	if err != nil {
		return nil, err
	}
	attrs.Signature = normalizeOptional(p.Signature)
	attrs.Checksum = ck
	confirmed, err := s.store.ConfirmArtifact(ctx, artifactID, attrs)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Str("artifact", confirmed.ID).
		Int64("size", attrs.FileSize).
		Msg("artifact confirmed")
	return confirmed, nil
}

// CreateArtifact registers an externally-hosted artifact, immediately
// serviceable.
func (s *Service) CreateArtifact(ctx context.Context, appID, releaseID string, p DirectArtifactParams) (*oasis.Artifact, error) {
	const op = `catalog/Service.CreateArtifact`
	platform, err := artifactPlatform(op, p.Platform)
	if err != nil {
		return nil, err
	}
	if err := validateDownloadURL(op, p.DownloadURL); err != nil {
		return nil, err
	}
	ck, err := parseOptionalChecksum(op, p.Checksum)
	if err != nil {
		return nil, err
	}
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	a := &oasis.Artifact{
		ID:          oasis.NewID(),
		ReleaseID:   releaseID,
		Platform:    platform,
		Signature:   normalizeOptional(p.Signature),
		DownloadURL: &p.DownloadURL,
		FileSize:    p.FileSize,
		Checksum:    ck,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateArtifact(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Artifacts lists a release's artifacts.
func (s *Service) Artifacts(ctx context.Context, appID, releaseID string) ([]oasis.Artifact, error) {
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	return s.store.ListArtifacts(ctx, releaseID)
}

// DeleteArtifact removes the row and best-effort deletes the object.
func (s *Service) DeleteArtifact(ctx context.Context, appID, releaseID, artifactID string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "catalog/Service.DeleteArtifact")
	art, err := s.artifact(ctx, appID, releaseID, artifactID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteArtifact(ctx, artifactID); err != nil {
		return err
	}
	if art.StorageKey != nil {
		s.deleteObjects(ctx, []string{*art.StorageKey})
	}
	zlog.Info(ctx).Str("artifact", artifactID).Msg("artifact deleted")
	return nil
}

// PresignInstaller reserves an upload slot for an end-user installer.
// Installers allow the broader platform set and carry a display filename.
func (s *Service) PresignInstaller(ctx context.Context, appID, releaseID string, p PresignParams) (*PresignGrant, error) {
	const op = `catalog/Service.PresignInstaller`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	platform, err := installerPlatform(op, p.Platform)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.InstallerByPlatform(ctx, releaseID, platform)
	switch {
	case err == nil:
		if !p.ReplaceExisting {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrConflict, Message: fmt.Sprintf("release already has a %s installer", platform)}
		}
		if err := s.replaceSlot(ctx, existing.StorageKey, func() error { return s.store.DeleteInstaller(ctx, existing.ID) }); err != nil {
			return nil, err
		}
	case errors.Is(err, oasis.ErrNotFound):
	default:
		return nil, err
	}

	grant, err := s.reserveUpload(ctx, op, appID, releaseID, p, objstore.InstallerKey)
	if err != nil {
		return nil, err
	}
	inst := &oasis.Installer{
		ID:          grant.ID,
		ReleaseID:   releaseID,
		Platform:    platform,
		Filename:    p.Filename,
		DisplayName: normalizeOptional(p.DisplayName),
		StorageKey:  &grant.StorageKey,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateInstaller(ctx, inst); err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Str("installer", inst.ID).
		Str("release", releaseID).
		Str("platform", string(platform)).
		Msg("upload slot reserved")
	return grant, nil
}

// ConfirmInstaller completes an installer upload.
func (s *Service) ConfirmInstaller(ctx context.Context, appID, releaseID, installerID string, p ConfirmParams) (*oasis.Installer, error) {
	const op = `catalog/Service.ConfirmInstaller`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	inst, err := s.installer(ctx, appID, releaseID, installerID)
	if err != nil {
		return nil, err
	}
	if !inst.Pending() {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrConflict, Code: "not_pending", Message: "installer is not awaiting confirmation"}
	}
	ck, err := parseOptionalChecksum(op, p.Checksum)
	if err != nil {
		return nil, err
	}
	attrs, err := s.verifyUpload(ctx, op, *inst.StorageKey)
	if err != nil {
		return nil, err
	}
	attrs.Checksum = ck
	confirmed, err := s.store.ConfirmInstaller(ctx, installerID, attrs)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Str("installer", confirmed.ID).
		Int64("size", attrs.FileSize).
		Msg("installer confirmed")
	return confirmed, nil
}

// CreateInstaller registers an externally-hosted installer.
func (s *Service) CreateInstaller(ctx context.Context, appID, releaseID string, p DirectInstallerParams) (*oasis.Installer, error) {
	const op = `catalog/Service.CreateInstaller`
	platform, err := installerPlatform(op, p.Platform)
	if err != nil {
		return nil, err
	}
	if err := validateDownloadURL(op, p.DownloadURL); err != nil {
		return nil, err
	}
	if err := oasis.ValidateFilename(p.Filename); err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	ck, err := parseOptionalChecksum(op, p.Checksum)
	if err != nil {
		return nil, err
	}
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	inst := &oasis.Installer{
		ID:          oasis.NewID(),
		ReleaseID:   releaseID,
		Platform:    platform,
		Filename:    p.Filename,
		DisplayName: normalizeOptional(p.DisplayName),
		DownloadURL: &p.DownloadURL,
		FileSize:    p.FileSize,
		Checksum:    ck,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateInstaller(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Installers lists a release's installers.
func (s *Service) Installers(ctx context.Context, appID, releaseID string) ([]oasis.Installer, error) {
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	return s.store.ListInstallers(ctx, releaseID)
}

// DeleteInstaller removes the row and best-effort deletes the object.
func (s *Service) DeleteInstaller(ctx context.Context, appID, releaseID, installerID string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "catalog/Service.DeleteInstaller")
	inst, err := s.installer(ctx, appID, releaseID, installerID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInstaller(ctx, installerID); err != nil {
		return err
	}
	if inst.StorageKey != nil {
		s.deleteObjects(ctx, []string{*inst.StorageKey})
	}
	zlog.Info(ctx).Str("installer", installerID).Msg("installer deleted")
	return nil
}

// reserveUpload builds the object key and mints the PUT URL shared by both
// presign paths. The row insert stays with the caller; its uniqueness
// constraint is what serializes racing presigns.
func (s *Service) reserveUpload(ctx context.Context, op, appID, releaseID string, p PresignParams, buildKey func(slug, version, filename string) string) (*PresignGrant, error) {
	if err := oasis.ValidateFilename(p.Filename); err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	app, err := s.store.AppByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	rel, err := s.Release(ctx, appID, releaseID)
	if err != nil {
		return nil, err
	}
	key := buildKey(app.Slug, rel.Version, p.Filename)
	put, err := s.objects.PresignPut(ctx, key, contentType, objstore.PutTTL)
	if err != nil {
		return nil, err
	}
	return &PresignGrant{
		ID:           oasis.NewID(),
		StorageKey:   key,
		PresignedURL: put,
		ContentType:  contentType,
	}, nil
}

// replaceSlot tears down the row and object of a slot being re-presigned.
// The object delete is best-effort; the row delete is not.
func (s *Service) replaceSlot(ctx context.Context, storageKey *string, deleteRow func() error) error {
	if storageKey != nil {
		s.deleteObjects(ctx, []string{*storageKey})
	}
	return deleteRow()
}

// verifyUpload checks the object actually landed and resolves the download
// URL that will be served for it.
func (s *Service) verifyUpload(ctx context.Context, op, key string) (datastore.ConfirmAttrs, error) {
	info, err := s.objects.Head(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, oasis.ErrNotFound):
		return datastore.ConfirmAttrs{}, &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrNotFound,
			Code:    "not_found_in_storage",
			Message: fmt.Sprintf("nothing uploaded at %q", key),
			Inner:   err,
		}
	default:
		return datastore.ConfirmAttrs{}, err
	}
	url, err := s.resolveDownloadURL(ctx, key)
	if err != nil {
		return datastore.ConfirmAttrs{}, err
	}
	return datastore.ConfirmAttrs{DownloadURL: url, FileSize: info.Size}, nil
}

// resolveDownloadURL prefers the permanent public URL and falls back to a
// long-lived signed GET.
func (s *Service) resolveDownloadURL(ctx context.Context, key string) (string, error) {
	if url, ok := s.objects.PublicURL(key); ok {
		return url, nil
	}
	return s.objects.PresignGet(ctx, key, objstore.GetTTL)
}

// artifact fetches an artifact and verifies the whole ownership chain.
func (s *Service) artifact(ctx context.Context, appID, releaseID, artifactID string) (*oasis.Artifact, error) {
	const op = `catalog/Service.artifact`
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	art, err := s.store.ArtifactByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if art.ReleaseID != releaseID {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: fmt.Sprintf("no artifact %q for this release", artifactID)}
	}
	return art, nil
}

// installer fetches an installer and verifies the whole ownership chain.
func (s *Service) installer(ctx context.Context, appID, releaseID, installerID string) (*oasis.Installer, error) {
	const op = `catalog/Service.installer`
	if _, err := s.Release(ctx, appID, releaseID); err != nil {
		return nil, err
	}
	inst, err := s.store.InstallerByID(ctx, installerID)
	if err != nil {
		return nil, err
	}
	if inst.ReleaseID != releaseID {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: fmt.Sprintf("no installer %q for this release", installerID)}
	}
	return inst, nil
}

func artifactPlatform(op, in string) (oasis.Platform, error) {
	p := oasis.Platform(strings.ToLower(strings.TrimSpace(in)))
	if !p.ValidForArtifact() {
		return "", &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("%q is not an artifact platform", in)}
	}
	return p, nil
}

func installerPlatform(op, in string) (oasis.Platform, error) {
	p := oasis.Platform(strings.ToLower(strings.TrimSpace(in)))
	if !p.ValidForInstaller() {
		return "", &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("%q is not an installer platform", in)}
	}
	return p, nil
}

func parseOptionalChecksum(op string, s *string) (*oasis.Checksum, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	ck, err := oasis.ParseChecksum(*s)
	if err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	return &ck, nil
}

func validateDownloadURL(op, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("download_url %q is not an absolute http(s) URL", raw)}
	}
	return nil
}
