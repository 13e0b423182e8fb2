package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

func scanArtifact(row scanner, a *oasis.Artifact) error {
	var ck *string
	err := row.Scan(
		&a.ID, &a.ReleaseID, (*string)(&a.Platform), &a.Signature,
		&a.StorageKey, &a.DownloadURL, &a.FileSize, &ck, &a.CreatedAt)
	if err != nil {
		return err
	}
	if ck != nil {
		c, err := oasis.ParseChecksum(*ck)
		if err != nil {
			return fmt.Errorf("malformed checksum in database: %w", err)
		}
		a.Checksum = &c
	}
	return nil
}

// ChecksumArg readies an optional checksum for binding. Passing a nil
// *Checksum straight through would make pgx call Value on a nil receiver.
func checksumArg(c *oasis.Checksum) any {
	if c == nil {
		return nil
	}
	return *c
}

// CreateArtifact implements [datastore.ArtifactStore].
func (s *Store) CreateArtifact(ctx context.Context, a *oasis.Artifact) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CreateArtifact")
	const op = `datastore/postgres/Store.CreateArtifact`
	query, done := getQuery(ctx, "createartifact", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.ReleaseID, string(a.Platform), a.Signature, a.StorageKey,
		a.DownloadURL, a.FileSize, checksumArg(a.Checksum), a.CreatedAt)
	switch {
	case err == nil:
	case isUniqueViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: fmt.Sprintf("release already has a %s artifact", a.Platform),
			Inner:   err,
		}
	case isForeignKeyViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      op,
			Message: fmt.Sprintf("no release with id %q", a.ReleaseID),
			Inner:   err,
		}
	default:
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	zlog.Info(ctx).
		Str("artifact_id", a.ID).
		Str("release_id", a.ReleaseID).
		Str("platform", string(a.Platform)).
		Msg("artifact created")
	return nil
}

// ArtifactByID implements [datastore.ArtifactStore].
func (s *Store) ArtifactByID(ctx context.Context, id string) (_ *oasis.Artifact, err error) {
	query, done := getQuery(ctx, "artifactbyid", &err)
	defer done()

	var a oasis.Artifact
	err = scanArtifact(s.pool.QueryRow(ctx, query, id), &a)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.ArtifactByID`,
			Message: fmt.Sprintf("no artifact with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve artifact: %w", err)
	}
	return &a, nil
}

// ArtifactByPlatform implements [datastore.ArtifactStore].
func (s *Store) ArtifactByPlatform(ctx context.Context, releaseID string, p oasis.Platform) (_ *oasis.Artifact, err error) {
	query, done := getQuery(ctx, "artifactbyplatform", &err)
	defer done()

	var a oasis.Artifact
	err = scanArtifact(s.pool.QueryRow(ctx, query, releaseID, string(p)), &a)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.ArtifactByPlatform`,
			Message: fmt.Sprintf("no %s artifact for this release", p),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve artifact: %w", err)
	}
	return &a, nil
}

// ListArtifacts implements [datastore.ArtifactStore].
func (s *Store) ListArtifacts(ctx context.Context, releaseID string) (_ []oasis.Artifact, err error) {
	query, done := getQuery(ctx, "listartifacts", &err)
	defer done()

	rows, err := s.pool.Query(ctx, query, releaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	out := []oasis.Artifact{}
	for rows.Next() {
		var a oasis.Artifact
		if err := scanArtifact(rows, &a); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}
	return out, nil
}

// ConfirmArtifact implements [datastore.ArtifactStore].
//
// The update is guarded on the pending state, so double confirmation and
// confirmation of direct artifacts both come back as conflicts.
func (s *Store) ConfirmArtifact(ctx context.Context, id string, attrs datastore.ConfirmAttrs) (_ *oasis.Artifact, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ConfirmArtifact")
	const op = `datastore/postgres/Store.ConfirmArtifact`
	query, done := getQuery(ctx, "confirmartifact", &err)
	defer done()

	var a oasis.Artifact
	err = scanArtifact(s.pool.QueryRow(ctx, query,
		id, attrs.DownloadURL, attrs.FileSize, attrs.Signature, checksumArg(attrs.Checksum)), &a)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		if _, lerr := s.ArtifactByID(ctx, id); lerr != nil {
			return nil, lerr
		}
		return nil, &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: "artifact is not awaiting confirmation",
		}
	default:
		return nil, fmt.Errorf("failed to confirm artifact: %w", err)
	}
	zlog.Info(ctx).
		Str("artifact_id", id).
		Int64("file_size", attrs.FileSize).
		Msg("artifact confirmed")
	return &a, nil
}

// DeleteArtifact implements [datastore.ArtifactStore].
func (s *Store) DeleteArtifact(ctx context.Context, id string) (err error) {
	query, done := getQuery(ctx, "deleteartifact", &err)
	defer done()

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.DeleteArtifact`,
			Message: fmt.Sprintf("no artifact with id %q", id),
		}
	}
	return nil
}
