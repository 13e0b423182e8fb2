package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
)

func scanAPIKey(row scanner, k *oasis.APIKey) error {
	return row.Scan(
		&k.ID, &k.Name, &k.KeyHash, (*string)(&k.Scope), &k.AppID,
		&k.LastUsedAt, &k.CreatedAt, &k.RevokedAt)
}

func scanPublicKey(row scanner, k *oasis.PublicAPIKey) error {
	return row.Scan(
		&k.ID, &k.AppID, &k.Name, &k.KeyHash, &k.KeyPrefix,
		&k.LastUsedAt, &k.CreatedAt, &k.RevokedAt)
}

// CreateAPIKey implements [datastore.KeyStore].
func (s *Store) CreateAPIKey(ctx context.Context, k *oasis.APIKey) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CreateAPIKey")
	query, done := getQuery(ctx, "createapikey", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		k.ID, k.Name, k.KeyHash, string(k.Scope), k.AppID, k.CreatedAt)
	switch {
	case err == nil:
	case isForeignKeyViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.CreateAPIKey`,
			Message: "no app with the given id",
			Inner:   err,
		}
	default:
		return fmt.Errorf("failed to create api key: %w", err)
	}
	zlog.Info(ctx).
		Str("key_id", k.ID).
		Str("scope", string(k.Scope)).
		Msg("api key created")
	return nil
}

// APIKeyByHash implements [datastore.KeyStore].
func (s *Store) APIKeyByHash(ctx context.Context, hash string) (_ *oasis.APIKey, err error) {
	query, done := getQuery(ctx, "apikeybyhash", &err)
	defer done()

	var k oasis.APIKey
	err = scanAPIKey(s.pool.QueryRow(ctx, query, hash), &k)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.APIKeyByHash`,
			Message: "no api key with the given hash",
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve api key: %w", err)
	}
	return &k, nil
}

// ListAPIKeys implements [datastore.KeyStore].
func (s *Store) ListAPIKeys(ctx context.Context) (_ []oasis.APIKey, err error) {
	query, done := getQuery(ctx, "listapikeys", &err)
	defer done()

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	out := []oasis.APIKey{}
	for rows.Next() {
		var k oasis.APIKey
		if err := scanAPIKey(rows, &k); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read api keys: %w", err)
	}
	return out, nil
}

// RevokeAPIKey implements [datastore.KeyStore].
//
// Revoking an already-revoked key is a no-op, not an error, so revocation is
// safe to retry.
func (s *Store) RevokeAPIKey(ctx context.Context, id string, now time.Time) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.RevokeAPIKey")
	query, done := getQuery(ctx, "revokeapikey", &err)
	defer done()

	tag, err := s.pool.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = func() (err error) {
			query, done := getQuery(ctx, "apikeybyid", &err)
			defer done()
			var k oasis.APIKey
			return scanAPIKey(s.pool.QueryRow(ctx, query, id), &k)
		}()
		switch {
		case err == nil: // already revoked
		case errors.Is(err, pgx.ErrNoRows):
			return &oasis.Error{
				Kind:    oasis.ErrNotFound,
				Op:      `datastore/postgres/Store.RevokeAPIKey`,
				Message: fmt.Sprintf("no api key with id %q", id),
				Inner:   err,
			}
		default:
			return fmt.Errorf("failed to retrieve api key: %w", err)
		}
	}
	zlog.Info(ctx).
		Str("key_id", id).
		Msg("api key revoked")
	return nil
}

// TouchAPIKey implements [datastore.KeyStore].
func (s *Store) TouchAPIKey(ctx context.Context, id string, now time.Time) (err error) {
	query, done := getQuery(ctx, "touchapikey", &err)
	defer done()

	if _, err = s.pool.Exec(ctx, query, id, now); err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// CreatePublicKey implements [datastore.KeyStore].
func (s *Store) CreatePublicKey(ctx context.Context, k *oasis.PublicAPIKey) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CreatePublicKey")
	query, done := getQuery(ctx, "createpublickey", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		k.ID, k.AppID, k.Name, k.KeyHash, k.KeyPrefix, k.CreatedAt)
	switch {
	case err == nil:
	case isForeignKeyViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.CreatePublicKey`,
			Message: fmt.Sprintf("no app with id %q", k.AppID),
			Inner:   err,
		}
	default:
		return fmt.Errorf("failed to create public key: %w", err)
	}
	zlog.Info(ctx).
		Str("key_id", k.ID).
		Str("app_id", k.AppID).
		Msg("public key created")
	return nil
}

// PublicKeyByHash implements [datastore.KeyStore].
func (s *Store) PublicKeyByHash(ctx context.Context, hash string) (_ *oasis.PublicAPIKey, err error) {
	query, done := getQuery(ctx, "publickeybyhash", &err)
	defer done()

	var k oasis.PublicAPIKey
	err = scanPublicKey(s.pool.QueryRow(ctx, query, hash), &k)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.PublicKeyByHash`,
			Message: "no public key with the given hash",
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve public key: %w", err)
	}
	return &k, nil
}

// ListPublicKeys implements [datastore.KeyStore].
func (s *Store) ListPublicKeys(ctx context.Context, appID string) (_ []oasis.PublicAPIKey, err error) {
	query, done := getQuery(ctx, "listpublickeys", &err)
	defer done()

	rows, err := s.pool.Query(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list public keys: %w", err)
	}
	defer rows.Close()

	out := []oasis.PublicAPIKey{}
	for rows.Next() {
		var k oasis.PublicAPIKey
		if err := scanPublicKey(rows, &k); err != nil {
			return nil, fmt.Errorf("failed to scan public key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read public keys: %w", err)
	}
	return out, nil
}

// RevokePublicKey implements [datastore.KeyStore].
func (s *Store) RevokePublicKey(ctx context.Context, id string, now time.Time) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.RevokePublicKey")
	query, done := getQuery(ctx, "revokepublickey", &err)
	defer done()

	tag, err := s.pool.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to revoke public key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = func() (err error) {
			query, done := getQuery(ctx, "publickeybyid", &err)
			defer done()
			var k oasis.PublicAPIKey
			return scanPublicKey(s.pool.QueryRow(ctx, query, id), &k)
		}()
		switch {
		case err == nil: // already revoked
		case errors.Is(err, pgx.ErrNoRows):
			return &oasis.Error{
				Kind:    oasis.ErrNotFound,
				Op:      `datastore/postgres/Store.RevokePublicKey`,
				Message: fmt.Sprintf("no public key with id %q", id),
				Inner:   err,
			}
		default:
			return fmt.Errorf("failed to retrieve public key: %w", err)
		}
	}
	zlog.Info(ctx).
		Str("key_id", id).
		Msg("public key revoked")
	return nil
}

// TouchPublicKey implements [datastore.KeyStore].
func (s *Store) TouchPublicKey(ctx context.Context, id string, now time.Time) (err error) {
	query, done := getQuery(ctx, "touchpublickey", &err)
	defer done()

	if _, err = s.pool.Exec(ctx, query, id, now); err != nil {
		return fmt.Errorf("failed to touch public key: %w", err)
	}
	return nil
}
