// Package ingest receives SDK telemetry: crash reports, which are
// fingerprinted and folded into groups, and free-form user feedback. It
// also serves the triage surface over what it ingested.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

var crashCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "oasis",
	Subsystem: "ingest",
	Name:      "crashes_total",
	Help:      "Crash submissions, by outcome.",
}, []string{"outcome"})

// defaultTopGroups is how many top crash groups a stats response carries.
const defaultTopGroups = 10

// Store is the slice of the datastore the ingest pipeline uses.
type Store interface {
	datastore.CrashStore
	datastore.FeedbackStore
}

// Service is the telemetry pipeline.
type Service struct {
	store Store
}

// New returns a Service over the given store.
func New(store Store) *Service {
	return &Service{store: store}
}

// CrashParams is the SDK crash submission payload.
type CrashParams struct {
	ErrorType    string             `json:"error_type"`
	ErrorMessage string             `json:"error_message"`
	StackTrace   []oasis.StackFrame `json:"stack_trace"`
	AppVersion   string             `json:"app_version"`
	Platform     string             `json:"platform"`
	OSVersion    *string            `json:"os_version,omitempty"`
	DeviceInfo   json.RawMessage    `json:"device_info,omitempty"`
	AppState     json.RawMessage    `json:"app_state,omitempty"`
	Breadcrumbs  []oasis.Breadcrumb `json:"breadcrumbs,omitempty"`
	Severity     string             `json:"severity,omitempty"`
	UserID       *string            `json:"user_id,omitempty"`
}

// SubmitCrash fingerprints one crash and folds it into its group.
//
// Platform and version are free-form strings here: they describe whatever
// the SDK runs on and feed the group's affected sets, unlike the closed
// platform vocabulary the catalog enforces on artifacts.
func (s *Service) SubmitCrash(ctx context.Context, appID, publicKeyID string, p CrashParams) (*oasis.CrashReport, *oasis.CrashGroup, error) {
	const op = `ingest/Service.SubmitCrash`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	switch {
	case p.ErrorType == "":
		return nil, nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "error_type is required"}
	case p.ErrorMessage == "":
		return nil, nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "error_message is required"}
	case p.AppVersion == "":
		return nil, nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "app_version is required"}
	case p.Platform == "":
		return nil, nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "platform is required"}
	}
	severity := oasis.Severity(p.Severity)
	if p.Severity == "" {
		severity = oasis.SeverityError
	}
	if !severity.Valid() {
		return nil, nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("unknown severity %q", p.Severity)}
	}

	report := &oasis.CrashReport{
		ID:           oasis.NewID(),
		AppID:        appID,
		PublicKeyID:  publicKeyID,
		ErrorType:    p.ErrorType,
		ErrorMessage: p.ErrorMessage,
		StackTrace:   p.StackTrace,
		AppVersion:   p.AppVersion,
		Platform:     p.Platform,
		OSVersion:    normalizeOptional(p.OSVersion),
		DeviceInfo:   p.DeviceInfo,
		AppState:     p.AppState,
		Breadcrumbs:  p.Breadcrumbs,
		Fingerprint:  Fingerprint(p.ErrorType, p.StackTrace),
		Severity:     severity,
		UserID:       normalizeOptional(p.UserID),
		CreatedAt:    time.Now().UTC(),
	}
	group, err := s.store.UpsertCrashReport(ctx, report)
	if err != nil {
		crashCounter.WithLabelValues("error").Inc()
		return nil, nil, err
	}
	if group.OccurrenceCount == 1 {
		crashCounter.WithLabelValues("new_group").Inc()
	} else {
		crashCounter.WithLabelValues("recurrence").Inc()
	}
	zlog.Info(ctx).
		Str("report", report.ID).
		Str("group", group.ID).
		Str("fingerprint", report.Fingerprint).
		Int64("occurrences", group.OccurrenceCount).
		Msg("crash report ingested")
	return report, group, nil
}

// CrashGroup fetches one group, scoped to the app.
func (s *Service) CrashGroup(ctx context.Context, appID, groupID string) (*oasis.CrashGroup, error) {
	const op = `ingest/Service.CrashGroup`
	g, err := s.store.CrashGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	// Routing is by app slug; a real group id under the wrong app must be
	// indistinguishable from a missing one.
	if g.AppID != appID {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: fmt.Sprintf("no crash group %q for this app", groupID)}
	}
	return g, nil
}

// ListCrashGroups returns a page of an app's groups.
func (s *Service) ListCrashGroups(ctx context.Context, opts datastore.CrashGroupListOpts) ([]oasis.CrashGroup, int64, error) {
	const op = `ingest/Service.ListCrashGroups`
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	return s.store.ListCrashGroups(ctx, opts)
}

// UpdateCrashGroup applies a triage edit.
func (s *Service) UpdateCrashGroup(ctx context.Context, appID, groupID string, upd datastore.CrashGroupUpdate) (*oasis.CrashGroup, error) {
	const op = `ingest/Service.UpdateCrashGroup`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("unknown status %q", *upd.Status)}
	}
	if _, err := s.CrashGroup(ctx, appID, groupID); err != nil {
		return nil, err
	}
	g, err := s.store.UpdateCrashGroup(ctx, groupID, upd, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	ev := zlog.Info(ctx).Str("group", g.ID).Str("status", string(g.Status))
	if g.Assignee != nil {
		ev = ev.Str("assignee", *g.Assignee)
	}
	ev.Msg("crash group updated")
	return g, nil
}

// ListCrashReports returns a page of a group's reports, newest first.
func (s *Service) ListCrashReports(ctx context.Context, appID, groupID string, page datastore.Page) ([]oasis.CrashReport, int64, error) {
	if _, err := s.CrashGroup(ctx, appID, groupID); err != nil {
		return nil, 0, err
	}
	return s.store.ListCrashReports(ctx, groupID, page)
}

// CrashReport fetches one report, scoped to the app.
func (s *Service) CrashReport(ctx context.Context, appID, reportID string) (*oasis.CrashReport, error) {
	const op = `ingest/Service.CrashReport`
	r, err := s.store.CrashReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.AppID != appID {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: fmt.Sprintf("no crash report %q for this app", reportID)}
	}
	return r, nil
}

// CrashStats aggregates an app's crash activity over a rolling window.
func (s *Service) CrashStats(ctx context.Context, appID string, window datastore.StatsWindow) (*datastore.CrashStats, error) {
	const op = `ingest/Service.CrashStats`
	if window == "" {
		window = datastore.Window7d
	}
	if !window.Valid() {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("unknown stats window %q", window)}
	}
	return s.store.CrashStats(ctx, appID, window, defaultTopGroups)
}

// FeedbackParams is the SDK feedback submission payload.
type FeedbackParams struct {
	Message    string          `json:"message"`
	Rating     *int            `json:"rating,omitempty"`
	UserID     *string         `json:"user_id,omitempty"`
	AppVersion *string         `json:"app_version,omitempty"`
	Platform   *string         `json:"platform,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// SubmitFeedback persists one feedback submission.
func (s *Service) SubmitFeedback(ctx context.Context, appID, publicKeyID string, p FeedbackParams) (*oasis.Feedback, error) {
	const op = `ingest/Service.SubmitFeedback`
	ctx = zlog.ContextWithValues(ctx, "component", op)
	if p.Message == "" {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: "message is required"}
	}
	if p.Rating != nil && (*p.Rating < 1 || *p.Rating > 5) {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: fmt.Sprintf("rating %d is out of the 1..5 range", *p.Rating)}
	}
	f := &oasis.Feedback{
		ID:          oasis.NewID(),
		AppID:       appID,
		PublicKeyID: publicKeyID,
		Message:     p.Message,
		Rating:      p.Rating,
		UserID:      normalizeOptional(p.UserID),
		AppVersion:  normalizeOptional(p.AppVersion),
		Platform:    normalizeOptional(p.Platform),
		Metadata:    p.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateFeedback(ctx, f); err != nil {
		return nil, err
	}
	zlog.Info(ctx).Str("feedback", f.ID).Msg("feedback recorded")
	return f, nil
}

// ListFeedback returns a page of an app's feedback, newest first.
func (s *Service) ListFeedback(ctx context.Context, appID string, page datastore.Page) ([]oasis.Feedback, int64, error) {
	return s.store.ListFeedback(ctx, appID, page)
}

// DeleteFeedback removes one submission, scoped to the app.
func (s *Service) DeleteFeedback(ctx context.Context, appID, feedbackID string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "ingest/Service.DeleteFeedback")
	if err := s.store.DeleteFeedback(ctx, feedbackID, appID); err != nil {
		return err
	}
	zlog.Info(ctx).Str("feedback", feedbackID).Msg("feedback deleted")
	return nil
}

func normalizeOptional(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}
