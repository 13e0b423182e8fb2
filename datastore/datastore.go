// Package datastore holds the storage interfaces consumed by the oasis
// services, along with the option and projection types their methods take.
//
// The canonical implementation lives in the postgres subpackage.
package datastore

// Page bounds a listing call. The zero value asks for the first page at the
// default size.
type Page struct {
	// Limit is the page size. Zero means DefaultPageSize; values above
	// MaxPageSize are clamped.
	Limit int
	// Offset is the number of rows to skip.
	Offset int
}

// Paging bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Bound returns the effective limit and offset.
func (p Page) Bound() (limit, offset int) {
	limit = p.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Store aggregates every storage interface the services need. The postgres
// implementation satisfies all of them over one pool.
type Store interface {
	AppStore
	ReleaseStore
	ArtifactStore
	InstallerStore
	KeyStore
	CrashStore
	FeedbackStore
	EventStore
}
