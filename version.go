package oasis

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ParseVersion parses a release version.
//
// Versions are strict semver: MAJOR.MINOR.PATCH, optional pre-release and
// build metadata, no "v" prefix, no partial forms. Pre-releases order below
// the same core version; build metadata is ignored for ordering.
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// CompareVersions orders two version strings per [ParseVersion] semantics.
// It reports -1, 0, or 1 in the manner of [strings.Compare].
func CompareVersions(a, b string) (int, error) {
	av, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	bv, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return av.Compare(bv), nil
}
