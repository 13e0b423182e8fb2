package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

var (
	listReleasesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oasis",
			Subsystem: "datastore_postgres",
			Name:      "listreleases_total",
			Help:      "Total number of database queries issued in the ListReleases method.",
		},
		[]string{"query"},
	)
	listReleasesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oasis",
			Subsystem: "datastore_postgres",
			Name:      "listreleases_duration_seconds",
			Help:      "The duration of all queries issued in the ListReleases method.",
		},
		[]string{"query"},
	)
)

func scanRelease(row scanner, r *oasis.Release) error {
	return row.Scan(
		&r.ID, &r.AppID, &r.Version, &r.Notes, (*string)(&r.Status),
		&r.PubDate, &r.CreatedAt, &r.UpdatedAt)
}

// CreateRelease implements [datastore.ReleaseStore].
func (s *Store) CreateRelease(ctx context.Context, r *oasis.Release) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CreateRelease")
	const op = `datastore/postgres/Store.CreateRelease`
	query, done := getQuery(ctx, "createrelease", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.AppID, r.Version, r.Notes, string(r.Status), r.CreatedAt)
	switch {
	case err == nil:
	case isUniqueViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: fmt.Sprintf("version %q already exists for this app", r.Version),
			Inner:   err,
		}
	case isForeignKeyViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      op,
			Message: fmt.Sprintf("no app with id %q", r.AppID),
			Inner:   err,
		}
	default:
		return fmt.Errorf("failed to create release: %w", err)
	}
	zlog.Info(ctx).
		Str("release_id", r.ID).
		Str("app_id", r.AppID).
		Str("version", r.Version).
		Msg("release created")
	return nil
}

// ReleaseByID implements [datastore.ReleaseStore].
func (s *Store) ReleaseByID(ctx context.Context, id string) (_ *oasis.Release, err error) {
	query, done := getQuery(ctx, "releasebyid", &err)
	defer done()

	var r oasis.Release
	err = scanRelease(s.pool.QueryRow(ctx, query, id), &r)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.ReleaseByID`,
			Message: fmt.Sprintf("no release with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve release: %w", err)
	}
	return &r, nil
}

// ReleaseByVersion implements [datastore.ReleaseStore].
func (s *Store) ReleaseByVersion(ctx context.Context, appID, version string) (_ *oasis.Release, err error) {
	query, done := getQuery(ctx, "releasebyversion", &err)
	defer done()

	var r oasis.Release
	err = scanRelease(s.pool.QueryRow(ctx, query, appID, version), &r)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.ReleaseByVersion`,
			Message: fmt.Sprintf("no release %q for this app", version),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve release: %w", err)
	}
	return &r, nil
}

// ListReleases implements [datastore.ReleaseStore].
//
// Dynamic because of the optional status filter; see ListApps.
func (s *Store) ListReleases(ctx context.Context, opts datastore.ReleaseListOpts) ([]oasis.Release, int64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ListReleases")
	listSQL, countSQL, err := buildListReleasesQuery(opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	out := []oasis.Release{}
	for rows.Next() {
		var r oasis.Release
		if err := scanRelease(rows, &r); err != nil {
			return nil, 0, fmt.Errorf("failed to scan release: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read releases: %w", err)
	}
	listReleasesCounter.WithLabelValues("list").Add(1)
	listReleasesDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())

	var total int64
	start = time.Now()
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count releases: %w", err)
	}
	listReleasesCounter.WithLabelValues("count").Add(1)
	listReleasesDuration.WithLabelValues("count").Observe(time.Since(start).Seconds())

	return out, total, nil
}

// PublishedReleases implements [datastore.ReleaseStore].
func (s *Store) PublishedReleases(ctx context.Context, appID string) (_ []oasis.Release, err error) {
	query, done := getQuery(ctx, "publishedreleases", &err)
	defer done()

	rows, err := s.pool.Query(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list published releases: %w", err)
	}
	defer rows.Close()

	out := []oasis.Release{}
	for rows.Next() {
		var r oasis.Release
		if err := scanRelease(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read releases: %w", err)
	}
	return out, nil
}

// UpdateReleaseNotes implements [datastore.ReleaseStore].
func (s *Store) UpdateReleaseNotes(ctx context.Context, id string, notes *string) (_ *oasis.Release, err error) {
	query, done := getQuery(ctx, "updatereleasenotes", &err)
	defer done()

	var r oasis.Release
	err = scanRelease(s.pool.QueryRow(ctx, query, id, notes, time.Now().UTC()), &r)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.UpdateReleaseNotes`,
			Message: fmt.Sprintf("no release with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to update release notes: %w", err)
	}
	return &r, nil
}

// PublishRelease implements [datastore.ReleaseStore].
//
// The update is guarded on status so concurrent publishers race cleanly;
// whoever loses sees zero rows and reports the conflict.
func (s *Store) PublishRelease(ctx context.Context, id string, now time.Time) (_ *oasis.Release, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.PublishRelease")
	const op = `datastore/postgres/Store.PublishRelease`
	query, done := getQuery(ctx, "publishrelease", &err)
	defer done()

	var r oasis.Release
	err = scanRelease(s.pool.QueryRow(ctx, query, id, now), &r)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		// The guard did not match. Tell a missing release apart from an
		// illegal transition.
		cur, lerr := s.ReleaseByID(ctx, id)
		if lerr != nil {
			return nil, lerr
		}
		return nil, &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: fmt.Sprintf("release is %s, only drafts can be published", cur.Status),
		}
	default:
		return nil, fmt.Errorf("failed to publish release: %w", err)
	}
	zlog.Info(ctx).
		Str("release_id", id).
		Str("version", r.Version).
		Msg("release published")
	return &r, nil
}

// ArchiveRelease implements [datastore.ReleaseStore].
func (s *Store) ArchiveRelease(ctx context.Context, id string) (_ *oasis.Release, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ArchiveRelease")
	const op = `datastore/postgres/Store.ArchiveRelease`
	query, done := getQuery(ctx, "archiverelease", &err)
	defer done()

	var r oasis.Release
	err = scanRelease(s.pool.QueryRow(ctx, query, id, time.Now().UTC()), &r)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		if _, lerr := s.ReleaseByID(ctx, id); lerr != nil {
			return nil, lerr
		}
		return nil, &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: "release is already archived",
		}
	default:
		return nil, fmt.Errorf("failed to archive release: %w", err)
	}
	zlog.Info(ctx).
		Str("release_id", id).
		Str("version", r.Version).
		Msg("release archived")
	return &r, nil
}

// DeleteRelease implements [datastore.ReleaseStore].
func (s *Store) DeleteRelease(ctx context.Context, id string) (storageKeys []string, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.DeleteRelease")
	const op = `datastore/postgres/Store.DeleteRelease`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = func() (err error) {
		query, done := getQuery(ctx, "releasestoragekeys", &err)
		defer done()
		rows, err := tx.Query(ctx, query, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return err
			}
			storageKeys = append(storageKeys, key)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to collect storage keys: %w", err)
	}

	var tag pgconn.CommandTag
	err = func() (err error) {
		query, done := getQuery(ctx, "deleterelease", &err)
		defer done()
		tag, err = tx.Exec(ctx, query, id)
		return err
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to delete release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The guard only deletes drafts. Tell a missing release apart
		// from an illegal state.
		cur, lerr := s.ReleaseByID(ctx, id)
		if lerr != nil {
			return nil, lerr
		}
		return nil, &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: fmt.Sprintf("release is %s, only drafts can be deleted", cur.Status),
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("unable to commit transaction: %w", err)
	}
	zlog.Info(ctx).
		Str("release_id", id).
		Int("objects", len(storageKeys)).
		Msg("release deleted")
	return storageKeys, nil
}
