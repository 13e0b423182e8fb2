// Package auth mints and verifies the bearer credentials for the admin, CI,
// and SDK surfaces.
//
// Two kinds exist: high-privilege keys for the admin and CI surfaces
// ("uk_live_" prefix, optionally confined to one app) and per-app public
// keys embedded in shipped clients ("pk_" prefix, crash and feedback ingest
// only). Only SHA-256 hashes are stored; the plaintext is returned exactly
// once at creation.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

// BearerPrefix starts every admin and CI key.
const BearerPrefix = "uk_live_"

// PublicPrefix starts every SDK key.
const PublicPrefix = "pk_"

// How long a detached last_used_at write may take.
const touchTimeout = 5 * time.Second

// Store is the slice of the datastore the auth service uses.
type Store interface {
	datastore.KeyStore
	AppByID(ctx context.Context, id string) (*oasis.App, error)
}

// Service issues, authenticates, and revokes keys.
type Service struct {
	store Store
}

// New returns a Service over the given store.
func New(store Store) *Service {
	return &Service{store: store}
}

// CreateKey mints an admin or CI key. CI keys must name the app they are
// confined to; admin keys must not. The returned plaintext is shown to the
// caller once and is not recoverable afterwards.
func (s *Service) CreateKey(ctx context.Context, name string, scope oasis.KeyScope, appID *string) (string, *oasis.APIKey, error) {
	const op = `auth/Service.CreateKey`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	switch {
	case name == "":
		return "", nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "key name is required"}
	case !scope.Valid():
		return "", nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("unknown key scope %q", scope)}
	case scope == oasis.ScopeCI && appID == nil:
		return "", nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "ci keys must be bound to an app"}
	case scope == oasis.ScopeAdmin && appID != nil:
		return "", nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "admin keys cannot be bound to an app"}
	}
	if appID != nil {
		if _, err := s.store.AppByID(ctx, *appID); err != nil {
			return "", nil, err
		}
	}

	suffix, err := randHex(16)
	if err != nil {
		return "", nil, &oasis.Error{Op: op, Kind: oasis.ErrInternal, Message: "failed to generate key material", Inner: err}
	}
	token := BearerPrefix + suffix
	key := &oasis.APIKey{
		ID:        oasis.NewID(),
		Name:      name,
		KeyHash:   hashToken(token),
		Scope:     scope,
		AppID:     appID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	zlog.Info(ctx).
		Str("key", key.ID).
		Str("scope", string(scope)).
		Msg("api key created")
	return token, key, nil
}

// CreatePublicKey mints an SDK key for an app. The app slug is baked into
// the plaintext for operator legibility; authorization never trusts it.
func (s *Service) CreatePublicKey(ctx context.Context, appID, name string) (string, *oasis.PublicAPIKey, error) {
	const op = `auth/Service.CreatePublicKey`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	if name == "" {
		return "", nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "key name is required"}
	}
	app, err := s.store.AppByID(ctx, appID)
	if err != nil {
		return "", nil, err
	}

	suffix, err := randHex(8)
	if err != nil {
		return "", nil, &oasis.Error{Op: op, Kind: oasis.ErrInternal, Message: "failed to generate key material", Inner: err}
	}
	token := PublicPrefix + app.Slug + "_" + suffix
	prefix := token
	if len(prefix) > 24 {
		prefix = prefix[:24]
	}
	key := &oasis.PublicAPIKey{
		ID:        oasis.NewID(),
		AppID:     app.ID,
		Name:      name,
		KeyHash:   hashToken(token),
		KeyPrefix: prefix,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePublicKey(ctx, key); err != nil {
		return "", nil, err
	}
	zlog.Info(ctx).
		Str("key", key.ID).
		Str("app", app.ID).
		Msg("public key created")
	return token, key, nil
}

// AuthenticateBearer resolves an admin or CI token. Every failure mode is
// reported as unauthorized; callers never learn whether a key exists.
func (s *Service) AuthenticateBearer(ctx context.Context, token string) (*oasis.APIKey, error) {
	const op = `auth/Service.AuthenticateBearer`
	if !strings.HasPrefix(token, BearerPrefix) {
		return nil, errUnauthorized(op, "malformed api key")
	}
	key, err := s.store.APIKeyByHash(ctx, hashToken(token))
	switch {
	case err == nil:
	case errors.Is(err, oasis.ErrNotFound):
		return nil, errUnauthorized(op, "unknown api key")
	default:
		return nil, err
	}
	if key.Revoked() {
		return nil, errUnauthorized(op, "api key has been revoked")
	}
	s.touch(key.ID, s.store.TouchAPIKey)
	return key, nil
}

// AuthenticatePublic resolves an SDK token to its key. The slug embedded in
// the plaintext is ignored; the app binding comes from the stored record.
func (s *Service) AuthenticatePublic(ctx context.Context, token string) (*oasis.PublicAPIKey, error) {
	const op = `auth/Service.AuthenticatePublic`
	if !strings.HasPrefix(token, PublicPrefix) {
		return nil, errUnauthorized(op, "malformed api key")
	}
	key, err := s.store.PublicKeyByHash(ctx, hashToken(token))
	switch {
	case err == nil:
	case errors.Is(err, oasis.ErrNotFound):
		return nil, errUnauthorized(op, "unknown api key")
	default:
		return nil, err
	}
	if key.Revoked() {
		return nil, errUnauthorized(op, "api key has been revoked")
	}
	s.touch(key.ID, s.store.TouchPublicKey)
	return key, nil
}

// RevokeKey revokes an admin or CI key. Revoking twice is a no-op.
func (s *Service) RevokeKey(ctx context.Context, id string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "auth/Service.RevokeKey")
	if err := s.store.RevokeAPIKey(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	zlog.Info(ctx).Str("key", id).Msg("api key revoked")
	return nil
}

// RevokePublicKey revokes an SDK key. Revoking twice is a no-op.
func (s *Service) RevokePublicKey(ctx context.Context, id string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "auth/Service.RevokePublicKey")
	if err := s.store.RevokePublicKey(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	zlog.Info(ctx).Str("key", id).Msg("public key revoked")
	return nil
}

// ListKeys returns every admin and CI key, hashes excluded by the entity's
// JSON shape.
func (s *Service) ListKeys(ctx context.Context) ([]oasis.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}

// ListPublicKeys returns an app's SDK keys.
func (s *Service) ListPublicKeys(ctx context.Context, appID string) ([]oasis.PublicAPIKey, error) {
	return s.store.ListPublicKeys(ctx, appID)
}

// touch records a successful authentication without holding up the request.
// The write runs on a detached context so request cancellation cannot lose
// it; a key revoked in the same instant keeping its timestamp is accepted.
func (s *Service) touch(id string, fn func(context.Context, string, time.Time) error) {
	now := time.Now().UTC()
	go func() {
		ctx, done := context.WithTimeout(context.Background(), touchTimeout)
		defer done()
		if err := fn(ctx, id, now); err != nil {
			zlog.Debug(ctx).
				Str("key", id).
				Err(err).
				Msg("failed to record key use")
		}
	}()
}

func errUnauthorized(op, msg string) error {
	return &oasis.Error{Op: op, Kind: oasis.ErrUnauthorized, Message: msg}
}

func randHex(nbytes int) (string, error) {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
