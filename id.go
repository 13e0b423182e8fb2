package oasis

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// NewID mints an identifier for a newly created entity.
//
// IDs are 26-character Crockford base32 ULIDs and sort lexicographically by
// creation time, which keeps "newest first" listings cheap.
func NewID() string {
	return ulid.Make().String()
}

// ValidateID reports whether s is a well-formed entity identifier.
func ValidateID(s string) error {
	if _, err := ulid.ParseStrict(s); err != nil {
		return fmt.Errorf("invalid id %q: %w", s, err)
	}
	return nil
}
