package oasis

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates download telemetry rows.
type EventKind string

const (
	// EventUpdate is a served update manifest.
	EventUpdate EventKind = "update"
	// EventInstaller is a served installer download.
	EventInstaller EventKind = "installer"
)

// DownloadEvent records one served update manifest or installer download.
//
// Recording is fire-and-forget on the hot path; a failure to record never
// affects the client response. SubjectID is the artifact or installer that
// was served, per Kind.
type DownloadEvent struct {
	Ref       uuid.UUID `json:"ref"`
	Kind      EventKind `json:"kind"`
	AppID     string    `json:"app_id"`
	SubjectID string    `json:"subject_id"`
	Platform  Platform  `json:"platform"`
	Version   string    `json:"version"`
	At        time.Time `json:"at"`
}
