package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

var (
	crashGroupsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oasis",
			Subsystem: "datastore_postgres",
			Name:      "crashgroups_total",
			Help:      "Total number of database queries issued in the crash group list and update methods.",
		},
		[]string{"query"},
	)
	crashGroupsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oasis",
			Subsystem: "datastore_postgres",
			Name:      "crashgroups_duration_seconds",
			Help:      "The duration of all queries issued in the crash group list and update methods.",
		},
		[]string{"query"},
	)
)

func scanCrashGroup(row scanner, g *oasis.CrashGroup) error {
	return row.Scan(
		&g.ID, &g.AppID, &g.Fingerprint, &g.ErrorType, &g.ErrorMessage,
		&g.OccurrenceCount, &g.AffectedUsersCount, &g.FirstSeenAt, &g.LastSeenAt,
		&g.AffectedVersions, &g.AffectedPlatforms, (*string)(&g.Status),
		&g.Assignee, &g.ResolutionNotes, &g.ResolvedAt, &g.CreatedAt, &g.UpdatedAt)
}

func scanCrashReport(row scanner, r *oasis.CrashReport) error {
	var stack, device, state, crumbs []byte
	err := row.Scan(
		&r.ID, &r.AppID, &r.CrashGroupID, &r.PublicKeyID, &r.ErrorType, &r.ErrorMessage,
		&stack, &r.AppVersion, &r.Platform, &r.OSVersion, &device, &state, &crumbs,
		&r.Fingerprint, (*string)(&r.Severity), &r.UserID, &r.CreatedAt)
	if err != nil {
		return err
	}
	if len(stack) != 0 {
		if err := json.Unmarshal(stack, &r.StackTrace); err != nil {
			return fmt.Errorf("malformed stack trace in database: %w", err)
		}
	}
	if len(crumbs) != 0 {
		if err := json.Unmarshal(crumbs, &r.Breadcrumbs); err != nil {
			return fmt.Errorf("malformed breadcrumbs in database: %w", err)
		}
	}
	r.DeviceInfo = device
	r.AppState = state
	return nil
}

// jsonbArg readies opaque publisher JSON for binding, mapping absent to NULL.
func jsonbArg(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// UpsertCrashReport implements [datastore.CrashStore].
//
// The whole protocol runs in one transaction holding a per-fingerprint
// advisory lock, so two reports for the same group arriving together cannot
// double-create the group or lose an aggregate bump. Group timestamps come
// from the report's CreatedAt, keeping the write deterministic per input.
func (s *Store) UpsertCrashReport(ctx context.Context, r *oasis.CrashReport) (_ *oasis.CrashGroup, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.UpsertCrashReport")

	stackTrace := r.StackTrace
	if stackTrace == nil {
		stackTrace = []oasis.StackFrame{}
	}
	stack, err := json.Marshal(stackTrace)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stack trace: %w", err)
	}
	var crumbs []byte
	if len(r.Breadcrumbs) != 0 {
		crumbs, err = json.Marshal(r.Breadcrumbs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal breadcrumbs: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockFingerprint(ctx, tx, r.Fingerprint); err != nil {
		return nil, err
	}

	var group oasis.CrashGroup
	found := true
	err = func() (err error) {
		query, done := getQuery(ctx, "crashgroupbyfingerprint", &err)
		defer done()
		err = scanCrashGroup(tx.QueryRow(ctx, query, r.Fingerprint), &group)
		if errors.Is(err, pgx.ErrNoRows) {
			// A miss is the first-occurrence path, not a failure.
			found = false
			err = nil
		}
		return err
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to look up crash group: %w", err)
	}

	switch {
	case !found:
		var users int64
		if r.UserID != nil {
			users = 1
		}
		group = oasis.CrashGroup{
			ID:                 oasis.NewID(),
			AppID:              r.AppID,
			Fingerprint:        r.Fingerprint,
			ErrorType:          r.ErrorType,
			ErrorMessage:       r.ErrorMessage,
			OccurrenceCount:    1,
			AffectedUsersCount: users,
			FirstSeenAt:        r.CreatedAt,
			LastSeenAt:         r.CreatedAt,
			AffectedVersions:   []string{r.AppVersion},
			AffectedPlatforms:  []string{r.Platform},
			Status:             oasis.CrashNew,
			CreatedAt:          r.CreatedAt,
			UpdatedAt:          r.CreatedAt,
		}
		err = func() (err error) {
			query, done := getQuery(ctx, "insertcrashgroup", &err)
			defer done()
			_, err = tx.Exec(ctx, query,
				group.ID, group.AppID, group.Fingerprint, group.ErrorType, group.ErrorMessage,
				users, r.CreatedAt, r.AppVersion, r.Platform)
			return err
		}()
		if err != nil {
			return nil, fmt.Errorf("failed to create crash group: %w", err)
		}
		zlog.Info(ctx).
			Str("crash_group_id", group.ID).
			Str("fingerprint", group.Fingerprint).
			Str("error_type", group.ErrorType).
			Msg("crash group created")
	default:
		// The affected-users count only moves when this report carries a
		// user the group has not seen before.
		var userDelta int64
		if r.UserID != nil {
			var seen bool
			err = func() (err error) {
				query, done := getQuery(ctx, "crashuserseen", &err)
				defer done()
				return tx.QueryRow(ctx, query, group.ID, *r.UserID).Scan(&seen)
			}()
			if err != nil {
				return nil, fmt.Errorf("failed to probe affected users: %w", err)
			}
			if !seen {
				userDelta = 1
			}
		}
		err = func() (err error) {
			query, done := getQuery(ctx, "bumpcrashgroup", &err)
			defer done()
			return scanCrashGroup(tx.QueryRow(ctx, query,
				group.ID, userDelta, r.AppVersion, r.Platform, r.CreatedAt), &group)
		}()
		if err != nil {
			return nil, fmt.Errorf("failed to bump crash group: %w", err)
		}
	}

	r.CrashGroupID = group.ID
	err = func() (err error) {
		query, done := getQuery(ctx, "insertcrashreport", &err)
		defer done()
		_, err = tx.Exec(ctx, query,
			r.ID, r.AppID, r.CrashGroupID, r.PublicKeyID, r.ErrorType, r.ErrorMessage, stack,
			r.AppVersion, r.Platform, r.OSVersion, jsonbArg(r.DeviceInfo), jsonbArg(r.AppState), crumbs,
			r.Fingerprint, string(r.Severity), r.UserID, r.CreatedAt)
		return err
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to insert crash report: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("unable to commit transaction: %w", err)
	}
	return &group, nil
}

// CrashGroupByID implements [datastore.CrashStore].
func (s *Store) CrashGroupByID(ctx context.Context, id string) (_ *oasis.CrashGroup, err error) {
	query, done := getQuery(ctx, "crashgroupbyid", &err)
	defer done()

	var g oasis.CrashGroup
	err = scanCrashGroup(s.pool.QueryRow(ctx, query, id), &g)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.CrashGroupByID`,
			Message: fmt.Sprintf("no crash group with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve crash group: %w", err)
	}
	return &g, nil
}

// ListCrashGroups implements [datastore.CrashStore].
//
// Dynamic because of the optional status filter; see ListApps.
func (s *Store) ListCrashGroups(ctx context.Context, opts datastore.CrashGroupListOpts) ([]oasis.CrashGroup, int64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ListCrashGroups")
	listSQL, countSQL, err := buildListCrashGroupsQuery(opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list crash groups: %w", err)
	}
	defer rows.Close()

	out := []oasis.CrashGroup{}
	for rows.Next() {
		var g oasis.CrashGroup
		if err := scanCrashGroup(rows, &g); err != nil {
			return nil, 0, fmt.Errorf("failed to scan crash group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read crash groups: %w", err)
	}
	crashGroupsCounter.WithLabelValues("list").Add(1)
	crashGroupsDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())

	var total int64
	start = time.Now()
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count crash groups: %w", err)
	}
	crashGroupsCounter.WithLabelValues("count").Add(1)
	crashGroupsDuration.WithLabelValues("count").Observe(time.Since(start).Seconds())

	return out, total, nil
}

// UpdateCrashGroup implements [datastore.CrashStore].
func (s *Store) UpdateCrashGroup(ctx context.Context, id string, upd datastore.CrashGroupUpdate, now time.Time) (*oasis.CrashGroup, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.UpdateCrashGroup")
	const op = `datastore/postgres/Store.UpdateCrashGroup`

	if upd.Status != nil && !upd.Status.Valid() {
		return nil, &oasis.Error{
			Kind:    oasis.ErrValidation,
			Op:      op,
			Message: fmt.Sprintf("unknown crash group status %q", *upd.Status),
		}
	}
	query, err := buildUpdateCrashGroupQuery(id, upd, now)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var g oasis.CrashGroup
	err = scanCrashGroup(s.pool.QueryRow(ctx, query), &g)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      op,
			Message: fmt.Sprintf("no crash group with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to update crash group: %w", err)
	}
	crashGroupsCounter.WithLabelValues("update").Add(1)
	crashGroupsDuration.WithLabelValues("update").Observe(time.Since(start).Seconds())

	zlog.Info(ctx).
		Str("crash_group_id", id).
		Str("status", string(g.Status)).
		Msg("crash group updated")
	return &g, nil
}

// ListCrashReports implements [datastore.CrashStore].
func (s *Store) ListCrashReports(ctx context.Context, groupID string, page datastore.Page) (reports []oasis.CrashReport, total int64, err error) {
	limit, offset := page.Bound()
	reports = []oasis.CrashReport{}

	err = func() (err error) {
		query, done := getQuery(ctx, "listcrashreports", &err)
		defer done()
		rows, err := s.pool.Query(ctx, query, groupID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r oasis.CrashReport
			if err := scanCrashReport(rows, &r); err != nil {
				return err
			}
			reports = append(reports, r)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list crash reports: %w", err)
	}

	err = func() (err error) {
		query, done := getQuery(ctx, "countcrashreports", &err)
		defer done()
		return s.pool.QueryRow(ctx, query, groupID).Scan(&total)
	}()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count crash reports: %w", err)
	}
	return reports, total, nil
}

// CrashReportByID implements [datastore.CrashStore].
func (s *Store) CrashReportByID(ctx context.Context, id string) (_ *oasis.CrashReport, err error) {
	query, done := getQuery(ctx, "crashreportbyid", &err)
	defer done()

	var r oasis.CrashReport
	err = scanCrashReport(s.pool.QueryRow(ctx, query, id), &r)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.CrashReportByID`,
			Message: fmt.Sprintf("no crash report with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve crash report: %w", err)
	}
	return &r, nil
}
