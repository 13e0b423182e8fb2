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

func scanInstaller(row scanner, in *oasis.Installer) error {
	var ck *string
	err := row.Scan(
		&in.ID, &in.ReleaseID, (*string)(&in.Platform), &in.Filename, &in.DisplayName,
		&in.StorageKey, &in.DownloadURL, &in.FileSize, &ck, &in.CreatedAt)
	if err != nil {
		return err
	}
	if ck != nil {
		c, err := oasis.ParseChecksum(*ck)
		if err != nil {
			return fmt.Errorf("malformed checksum in database: %w", err)
		}
		in.Checksum = &c
	}
	return nil
}

// CreateInstaller implements [datastore.InstallerStore].
func (s *Store) CreateInstaller(ctx context.Context, in *oasis.Installer) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CreateInstaller")
	const op = `datastore/postgres/Store.CreateInstaller`
	query, done := getQuery(ctx, "createinstaller", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		in.ID, in.ReleaseID, string(in.Platform), in.Filename, in.DisplayName,
		in.StorageKey, in.DownloadURL, in.FileSize, checksumArg(in.Checksum), in.CreatedAt)
	switch {
	case err == nil:
	case isUniqueViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: fmt.Sprintf("release already has a %s installer", in.Platform),
			Inner:   err,
		}
	case isForeignKeyViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      op,
			Message: fmt.Sprintf("no release with id %q", in.ReleaseID),
			Inner:   err,
		}
	default:
		return fmt.Errorf("failed to create installer: %w", err)
	}
	zlog.Info(ctx).
		Str("installer_id", in.ID).
		Str("release_id", in.ReleaseID).
		Str("platform", string(in.Platform)).
		Str("filename", in.Filename).
		Msg("installer created")
	return nil
}

// InstallerByID implements [datastore.InstallerStore].
func (s *Store) InstallerByID(ctx context.Context, id string) (_ *oasis.Installer, err error) {
	query, done := getQuery(ctx, "installerbyid", &err)
	defer done()

	var in oasis.Installer
	err = scanInstaller(s.pool.QueryRow(ctx, query, id), &in)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.InstallerByID`,
			Message: fmt.Sprintf("no installer with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve installer: %w", err)
	}
	return &in, nil
}

// InstallerByPlatform implements [datastore.InstallerStore].
func (s *Store) InstallerByPlatform(ctx context.Context, releaseID string, p oasis.Platform) (_ *oasis.Installer, err error) {
	query, done := getQuery(ctx, "installerbyplatform", &err)
	defer done()

	var in oasis.Installer
	err = scanInstaller(s.pool.QueryRow(ctx, query, releaseID, string(p)), &in)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.InstallerByPlatform`,
			Message: fmt.Sprintf("no %s installer for this release", p),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve installer: %w", err)
	}
	return &in, nil
}

// ListInstallers implements [datastore.InstallerStore].
func (s *Store) ListInstallers(ctx context.Context, releaseID string) (_ []oasis.Installer, err error) {
	query, done := getQuery(ctx, "listinstallers", &err)
	defer done()

	rows, err := s.pool.Query(ctx, query, releaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installers: %w", err)
	}
	defer rows.Close()

	out := []oasis.Installer{}
	for rows.Next() {
		var in oasis.Installer
		if err := scanInstaller(rows, &in); err != nil {
			return nil, fmt.Errorf("failed to scan installer: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read installers: %w", err)
	}
	return out, nil
}

// ConfirmInstaller implements [datastore.InstallerStore].
func (s *Store) ConfirmInstaller(ctx context.Context, id string, attrs datastore.ConfirmAttrs) (_ *oasis.Installer, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ConfirmInstaller")
	const op = `datastore/postgres/Store.ConfirmInstaller`
	query, done := getQuery(ctx, "confirminstaller", &err)
	defer done()

	var in oasis.Installer
	err = scanInstaller(s.pool.QueryRow(ctx, query,
		id, attrs.DownloadURL, attrs.FileSize, checksumArg(attrs.Checksum)), &in)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		if _, lerr := s.InstallerByID(ctx, id); lerr != nil {
			return nil, lerr
		}
		return nil, &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: "installer is not awaiting confirmation",
		}
	default:
		return nil, fmt.Errorf("failed to confirm installer: %w", err)
	}
	zlog.Info(ctx).
		Str("installer_id", id).
		Int64("file_size", attrs.FileSize).
		Msg("installer confirmed")
	return &in, nil
}

// DeleteInstaller implements [datastore.InstallerStore].
func (s *Store) DeleteInstaller(ctx context.Context, id string) (err error) {
	query, done := getQuery(ctx, "deleteinstaller", &err)
	defer done()

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete installer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.DeleteInstaller`,
			Message: fmt.Sprintf("no installer with id %q", id),
		}
	}
	return nil
}
