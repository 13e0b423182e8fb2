package oasis

import "time"

// Artifact is a platform-targeted update payload belonging to one Release.
//
// Lifecycle is derived from nullability. A reserved upload slot has
// StorageKey set and no DownloadURL (pending). Confirmation fills in
// DownloadURL (confirmed); only confirmed artifacts are visible to the update
// resolver. An externally-hosted artifact has DownloadURL and no StorageKey
// (direct).
type Artifact struct {
	ID          string    `json:"id"`
	ReleaseID   string    `json:"release_id"`
	Platform    Platform  `json:"platform"`
	Signature   *string   `json:"signature,omitempty"`
	StorageKey  *string   `json:"storage_key,omitempty"`
	DownloadURL *string   `json:"download_url,omitempty"`
	FileSize    *int64    `json:"file_size,omitempty"`
	Checksum    *Checksum `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pending reports whether the artifact is an unconfirmed upload slot.
func (a *Artifact) Pending() bool {
	return a.StorageKey != nil && a.DownloadURL == nil
}

// Confirmed reports whether the artifact is serviceable.
func (a *Artifact) Confirmed() bool {
	return a.DownloadURL != nil
}
