package oasis

import (
	"encoding/json"
	"time"
)

// Feedback is a free-form user submission from an embedded SDK. It shares
// the crash-ingest auth path but is never grouped or aggregated.
type Feedback struct {
	ID          string          `json:"id"`
	AppID       string          `json:"app_id"`
	PublicKeyID string          `json:"public_key_id"`
	Message     string          `json:"message"`
	Rating      *int            `json:"rating,omitempty"`
	UserID      *string         `json:"user_id,omitempty"`
	AppVersion  *string         `json:"app_version,omitempty"`
	Platform    *string         `json:"platform,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
