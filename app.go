package oasis

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// App is the root entity. Releases, keys, crash groups, and feedback all hang
// off an App and are removed with it.
type App struct {
	ID          string  `json:"id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	// PublicKey is the update-signing verification key. Its presence
	// toggles signed-update enforcement: once set, unsigned artifacts are
	// never served to updaters.
	PublicKey *string   `json:"public_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var slugRE = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$`)

// ValidateSlug checks an app slug: 2 to 50 characters, lowercase letters,
// digits, and single hyphens, starting with a letter and ending with a letter
// or digit.
func ValidateSlug(s string) error {
	switch {
	case len(s) < 2 || len(s) > 50:
		return fmt.Errorf("slug must be 2..50 characters, got %d", len(s))
	case strings.Contains(s, "--"):
		return fmt.Errorf("slug %q contains consecutive hyphens", s)
	case !slugRE.MatchString(s):
		return fmt.Errorf("slug %q is malformed", s)
	}
	return nil
}

// ValidatePublicKey checks the shape of an update-signing key at the API
// boundary. Accepted forms are raw Ed25519 material in standard base64, a
// raw minisign public key (algorithm, key id, Ed25519 key), or a base64'd
// minisign key file as emitted by the Tauri signer. Values already persisted
// are served untouched regardless of form.
func ValidatePublicKey(s string) error {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("public key is not valid base64: %w", err)
	}
	switch {
	case len(raw) == ed25519.PublicKeySize:
	case len(raw) == ed25519.PublicKeySize+10:
		// Minisign wire form: 2-byte algorithm, 8-byte key id, then the key.
	case bytes.HasPrefix(raw, []byte("untrusted comment:")):
	default:
		return fmt.Errorf("public key is %d bytes decoded; want raw Ed25519, minisign, or a minisign key file", len(raw))
	}
	return nil
}
