package oasis

import "time"

// ReleaseStatus is the lifecycle state of a Release.
type ReleaseStatus string

// Release lifecycle states. The only transitions are draft to published,
// draft or published to archived. Archived is terminal, and only drafts may
// be deleted.
const (
	ReleaseDraft     ReleaseStatus = "draft"
	ReleasePublished ReleaseStatus = "published"
	ReleaseArchived  ReleaseStatus = "archived"
)

func (s ReleaseStatus) Valid() bool {
	switch s {
	case ReleaseDraft, ReleasePublished, ReleaseArchived:
		return true
	}
	return false
}

// Release is a versioned bundle of artifacts and installers under an App.
type Release struct {
	ID      string        `json:"id"`
	AppID   string        `json:"app_id"`
	Version string        `json:"version"`
	Notes   *string       `json:"notes,omitempty"`
	Status  ReleaseStatus `json:"status"`
	// PubDate is set the first time the release enters published and
	// survives archival, so "was ever published" stays answerable.
	PubDate   *time.Time `json:"pub_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
