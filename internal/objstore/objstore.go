// Package objstore is the gateway to the bucket holding uploaded release
// artifacts and installers.
//
// The server never proxies object bytes. Uploads and downloads go straight
// to the bucket via presigned URLs, so the only remote calls made here are
// metadata operations.
package objstore

import (
	"context"
	"time"

	"github.com/oasishq/oasis"
)

// PutTTL bounds how long an issued upload URL stays valid.
const PutTTL = 1 * time.Hour

// GetTTL is the lifetime of download URLs minted for buckets that have no
// public base URL.
const GetTTL = 7 * 24 * time.Hour

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size int64
}

// Store is the object-store surface the rest of the system uses.
type Store interface {
	// PresignPut returns a URL that accepts a single PUT of the named key.
	// The uploader must send the same Content-Type the URL was signed for.
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// PresignGet returns a URL that serves the object for the given TTL.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// PublicURL reports the permanent URL for a key when the bucket is
	// fronted by a public base URL.
	PublicURL(key string) (string, bool)
	// Head stats an object.
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes an object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ReleaseKey is the canonical object key for a release artifact.
func ReleaseKey(slug, version, filename string) string {
	return slug + "/releases/" + version + "/" + filename
}

// InstallerKey is the canonical object key for a full installer.
func InstallerKey(slug, version, filename string) string {
	return slug + "/installers/" + version + "/" + filename
}

// NewDisabled returns a Store for deployments without object storage. Every
// remote operation fails with ErrStorageUnavailable; apps served entirely
// from externally-hosted download URLs never reach it.
func NewDisabled() Store { return disabled{} }

type disabled struct{}

var _ Store = disabled{}

func (disabled) PresignPut(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	return "", errDisabled("PresignPut")
}

func (disabled) PresignGet(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errDisabled("PresignGet")
}

func (disabled) PublicURL(_ string) (string, bool) { return "", false }

func (disabled) Head(_ context.Context, _ string) (ObjectInfo, error) {
	return ObjectInfo{}, errDisabled("Head")
}

func (disabled) Exists(_ context.Context, _ string) (bool, error) {
	return false, errDisabled("Exists")
}

func (disabled) Delete(_ context.Context, _ string) error {
	return errDisabled("Delete")
}

func errDisabled(op string) error {
	return &oasis.Error{
		Op:      "objstore/" + op,
		Kind:    oasis.ErrStorageUnavailable,
		Message: "object storage is not configured",
	}
}
