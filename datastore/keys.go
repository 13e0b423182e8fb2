package datastore

import (
	"context"
	"time"

	"github.com/oasishq/oasis"
)

// KeyStore is the credential store for both key kinds.
//
// Lookups are by SHA-256 hash of the plaintext; the plaintext never reaches
// the store. Touch methods are called fire-and-forget by the auth layer and
// must be cheap.
type KeyStore interface {
	// CreateAPIKey persists a new admin or CI key.
	CreateAPIKey(ctx context.Context, k *oasis.APIKey) error
	// APIKeyByHash fetches a key by plaintext hash, revoked or not.
	APIKeyByHash(ctx context.Context, hash string) (*oasis.APIKey, error)
	// ListAPIKeys returns every admin and CI key, newest first.
	ListAPIKeys(ctx context.Context) ([]oasis.APIKey, error)
	// RevokeAPIKey marks a key revoked. Already-revoked keys are left
	// alone.
	RevokeAPIKey(ctx context.Context, id string, now time.Time) error
	// TouchAPIKey records a successful authentication.
	TouchAPIKey(ctx context.Context, id string, now time.Time) error

	// CreatePublicKey persists a new SDK key.
	CreatePublicKey(ctx context.Context, k *oasis.PublicAPIKey) error
	// PublicKeyByHash fetches an SDK key by plaintext hash, revoked or not.
	PublicKeyByHash(ctx context.Context, hash string) (*oasis.PublicAPIKey, error)
	// ListPublicKeys returns every SDK key of an app, newest first.
	ListPublicKeys(ctx context.Context, appID string) ([]oasis.PublicAPIKey, error)
	// RevokePublicKey marks an SDK key revoked.
	RevokePublicKey(ctx context.Context, id string, now time.Time) error
	// TouchPublicKey records a successful authentication.
	TouchPublicKey(ctx context.Context, id string, now time.Time) error
}
