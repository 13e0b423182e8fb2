package oasis

import "time"

// KeyScope is the privilege class of an APIKey.
type KeyScope string

const (
	// ScopeAdmin keys act on every app.
	ScopeAdmin KeyScope = "admin"
	// ScopeCI keys are confined to the single app they were minted for.
	ScopeCI KeyScope = "ci"
)

func (s KeyScope) Valid() bool {
	switch s {
	case ScopeAdmin, ScopeCI:
		return true
	}
	return false
}

// APIKey is a high-privilege bearer credential for the admin and CI surfaces.
//
// The plaintext (format "uk_live_" plus 32 hex characters) is returned
// exactly once at creation. Only the SHA-256 hash is stored, and the hash
// never leaves the process.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	Scope      KeyScope   `json:"scope"`
	AppID      *string    `json:"app_id,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool { return k.RevokedAt != nil }

// AllowsApp reports whether the key may act on the given app. Admin keys
// act on every app; CI keys only on the one they were minted for.
func (k *APIKey) AllowsApp(appID string) bool {
	if k.Scope == ScopeAdmin {
		return true
	}
	return k.AppID != nil && *k.AppID == appID
}

// PublicAPIKey is a low-privilege per-app credential embedded in shipped
// clients, authorized only for feedback and crash ingest.
//
// The plaintext format is "pk_<app-slug>_" plus 16 hex characters. The slug
// inside the token is informational only; authorization binds to AppID via
// the hash lookup. KeyPrefix holds the first 24 plaintext characters for
// display.
type PublicAPIKey struct {
	ID         string     `json:"id"`
	AppID      string     `json:"app_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k *PublicAPIKey) Revoked() bool { return k.RevokedAt != nil }
