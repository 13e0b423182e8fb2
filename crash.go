package oasis

import (
	"encoding/json"
	"time"
)

// CrashGroupStatus is the triage state of a CrashGroup.
type CrashGroupStatus string

const (
	CrashNew           CrashGroupStatus = "new"
	CrashInvestigating CrashGroupStatus = "investigating"
	CrashResolved      CrashGroupStatus = "resolved"
	CrashIgnored       CrashGroupStatus = "ignored"
)

func (s CrashGroupStatus) Valid() bool {
	switch s {
	case CrashNew, CrashInvestigating, CrashResolved, CrashIgnored:
		return true
	}
	return false
}

// Severity classifies a single crash report.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityWarning, SeverityError, SeverityFatal:
		return true
	}
	return false
}

// CrashGroup aggregates crash reports sharing a fingerprint.
//
// ErrorType and ErrorMessage are captured from the first occurrence and never
// updated. Status resolved holds exactly when ResolvedAt is set; a report
// arriving against a resolved group re-opens it to new.
type CrashGroup struct {
	ID                 string           `json:"id"`
	AppID              string           `json:"app_id"`
	Fingerprint        string           `json:"fingerprint"`
	ErrorType          string           `json:"error_type"`
	ErrorMessage       string           `json:"error_message"`
	OccurrenceCount    int64            `json:"occurrence_count"`
	AffectedUsersCount int64            `json:"affected_users_count"`
	FirstSeenAt        time.Time        `json:"first_seen_at"`
	LastSeenAt         time.Time        `json:"last_seen_at"`
	AffectedVersions   []string         `json:"affected_versions"`
	AffectedPlatforms  []string         `json:"affected_platforms"`
	Status             CrashGroupStatus `json:"status"`
	Assignee           *string          `json:"assignee,omitempty"`
	ResolutionNotes    *string          `json:"resolution_notes,omitempty"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// StackFrame is one entry in a crash report's stack trace, outermost frame
// first. All members are optional; SDKs send what they have.
type StackFrame struct {
	File     *string `json:"file,omitempty"`
	Line     *int    `json:"line,omitempty"`
	Column   *int    `json:"column,omitempty"`
	Function *string `json:"function,omitempty"`
	IsNative bool    `json:"is_native,omitempty"`
}

// Breadcrumb is a client-recorded event preceding a crash.
type Breadcrumb struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CrashReport is one ingested crash event.
//
// DeviceInfo and AppState are opaque publisher JSON and are stored and served
// without interpretation. Platform is the string the SDK reported, not the
// closed Platform enum; crash telemetry accepts whatever shipped.
type CrashReport struct {
	ID           string          `json:"id"`
	AppID        string          `json:"app_id"`
	CrashGroupID string          `json:"crash_group_id"`
	PublicKeyID  string          `json:"public_key_id"`
	ErrorType    string          `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
	StackTrace   []StackFrame    `json:"stack_trace"`
	AppVersion   string          `json:"app_version"`
	Platform     string          `json:"platform"`
	OSVersion    *string         `json:"os_version,omitempty"`
	DeviceInfo   json.RawMessage `json:"device_info,omitempty"`
	AppState     json.RawMessage `json:"app_state,omitempty"`
	Breadcrumbs  []Breadcrumb    `json:"breadcrumbs,omitempty"`
	Fingerprint  string          `json:"fingerprint"`
	Severity     Severity        `json:"severity"`
	UserID       *string         `json:"user_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
