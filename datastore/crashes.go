package datastore

import (
	"context"
	"time"

	"github.com/oasishq/oasis"
)

// StatsWindow is a rolling aggregation window for crash statistics.
type StatsWindow string

// Supported windows.
const (
	Window24h StatsWindow = "24h"
	Window7d  StatsWindow = "7d"
	Window30d StatsWindow = "30d"
	Window90d StatsWindow = "90d"
)

func (w StatsWindow) Valid() bool {
	switch w {
	case Window24h, Window7d, Window30d, Window90d:
		return true
	}
	return false
}

// Duration returns the window length.
func (w StatsWindow) Duration() time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	case Window90d:
		return 90 * 24 * time.Hour
	}
	return 0
}

// DayCount is one bucket of the per-day crash histogram.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

// FieldCount counts reports sharing one field value.
type FieldCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// CrashStats aggregates crash activity over a rolling window.
type CrashStats struct {
	Window       StatsWindow       `json:"window"`
	TotalReports int64             `json:"total_reports"`
	TotalGroups  int64             `json:"total_groups"`
	ByDay        []DayCount        `json:"by_day"`
	ByVersion    []FieldCount      `json:"by_version"`
	ByPlatform   []FieldCount      `json:"by_platform"`
	TopGroups    []oasis.CrashGroup `json:"top_groups"`
}

// CrashGroupListOpts bounds and filters a crash-group listing.
type CrashGroupListOpts struct {
	AppID string
	// Status filters to one triage state when set.
	Status oasis.CrashGroupStatus
	Page   Page
}

// CrashGroupUpdate carries a triage edit. Nil members are left unchanged;
// setting Status to resolved stamps resolved_at, any other status clears it.
type CrashGroupUpdate struct {
	Status          *oasis.CrashGroupStatus
	Assignee        *string
	ResolutionNotes *string
}

// CrashStore is the crash-ingest and triage store.
type CrashStore interface {
	// UpsertCrashReport runs the grouped-ingest protocol in one
	// transaction, serialized per fingerprint: find or create the group,
	// bump its aggregates, and insert the report row. The returned group
	// reflects the post-ingest state.
	//
	// The report must arrive with ID, AppID, PublicKeyID, Fingerprint,
	// Severity, and CreatedAt populated.
	UpsertCrashReport(ctx context.Context, r *oasis.CrashReport) (*oasis.CrashGroup, error)
	// CrashGroupByID fetches a group by id.
	CrashGroupByID(ctx context.Context, id string) (*oasis.CrashGroup, error)
	// ListCrashGroups returns a page of groups ordered by last_seen_at
	// desc, plus the total count of matching rows.
	ListCrashGroups(ctx context.Context, opts CrashGroupListOpts) ([]oasis.CrashGroup, int64, error)
	// UpdateCrashGroup applies a triage edit and returns the updated
	// group. An invalid status reports ErrValidation.
	UpdateCrashGroup(ctx context.Context, id string, upd CrashGroupUpdate, now time.Time) (*oasis.CrashGroup, error)
	// ListCrashReports returns a page of reports in a group, newest first,
	// plus the total count.
	ListCrashReports(ctx context.Context, groupID string, page Page) ([]oasis.CrashReport, int64, error)
	// CrashReportByID fetches a single report by id.
	CrashReportByID(ctx context.Context, id string) (*oasis.CrashReport, error)
	// CrashStats aggregates an app's crash activity over the window.
	CrashStats(ctx context.Context, appID string, window StatsWindow, topN int) (*CrashStats, error)
}
