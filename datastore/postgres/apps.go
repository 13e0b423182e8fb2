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
	listAppsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oasis",
			Subsystem: "datastore_postgres",
			Name:      "listapps_total",
			Help:      "Total number of database queries issued in the ListApps method.",
		},
		[]string{"query"},
	)
	listAppsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oasis",
			Subsystem: "datastore_postgres",
			Name:      "listapps_duration_seconds",
			Help:      "The duration of all queries issued in the ListApps method.",
		},
		[]string{"query"},
	)
)

func scanApp(r scanner, a *oasis.App) error {
	return r.Scan(&a.ID, &a.Slug, &a.Name, &a.Description, &a.PublicKey, &a.CreatedAt, &a.UpdatedAt)
}

// CreateApp implements [datastore.AppStore].
func (s *Store) CreateApp(ctx context.Context, app *oasis.App) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CreateApp")
	query, done := getQuery(ctx, "createapp", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		app.ID, app.Slug, app.Name, app.Description, app.PublicKey, app.CreatedAt)
	switch {
	case err == nil:
	case isUniqueViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      `datastore/postgres/Store.CreateApp`,
			Message: fmt.Sprintf("app slug %q already exists", app.Slug),
			Inner:   err,
		}
	default:
		return fmt.Errorf("failed to create app: %w", err)
	}
	zlog.Info(ctx).
		Str("app_id", app.ID).
		Str("slug", app.Slug).
		Msg("app created")
	return nil
}

// AppByID implements [datastore.AppStore].
func (s *Store) AppByID(ctx context.Context, id string) (_ *oasis.App, err error) {
	query, done := getQuery(ctx, "appbyid", &err)
	defer done()

	var a oasis.App
	err = scanApp(s.pool.QueryRow(ctx, query, id), &a)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.AppByID`,
			Message: fmt.Sprintf("no app with id %q", id),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve app: %w", err)
	}
	return &a, nil
}

// AppBySlug implements [datastore.AppStore].
func (s *Store) AppBySlug(ctx context.Context, slug string) (_ *oasis.App, err error) {
	query, done := getQuery(ctx, "appbyslug", &err)
	defer done()

	var a oasis.App
	err = scanApp(s.pool.QueryRow(ctx, query, slug), &a)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.AppBySlug`,
			Message: fmt.Sprintf("no app with slug %q", slug),
			Inner:   err,
		}
	default:
		return nil, fmt.Errorf("failed to retrieve app: %w", err)
	}
	return &a, nil
}

// ListApps implements [datastore.AppStore].
//
// The page and count queries are built dynamically because of the optional
// search filter, so this method carries its own metrics instead of going
// through the embedded-query path.
func (s *Store) ListApps(ctx context.Context, opts datastore.AppListOpts) ([]datastore.AppSummary, int64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ListApps")
	listSQL, countSQL, err := buildListAppsQuery(opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	out := []datastore.AppSummary{}
	for rows.Next() {
		var a datastore.AppSummary
		err := rows.Scan(
			&a.ID, &a.Slug, &a.Name, &a.Description, &a.PublicKey,
			&a.CreatedAt, &a.UpdatedAt, &a.ReleaseCount)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan app: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read apps: %w", err)
	}
	listAppsCounter.WithLabelValues("list").Add(1)
	listAppsDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())

	var total int64
	start = time.Now()
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count apps: %w", err)
	}
	listAppsCounter.WithLabelValues("count").Add(1)
	listAppsDuration.WithLabelValues("count").Observe(time.Since(start).Seconds())

	if err := s.attachLatestVersions(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AttachLatestVersions fills the LatestVersion projection for each summary by
// picking, per app, the published release with the newest pub_date, breaking
// ties by semver. The comparison happens here rather than in SQL so that
// pre-release ordering is correct.
func (s *Store) attachLatestVersions(ctx context.Context, page []datastore.AppSummary) (err error) {
	if len(page) == 0 {
		return nil
	}
	query, done := getQuery(ctx, "applatestversions", &err)
	defer done()

	ids := make([]string, len(page))
	idx := make(map[string]*datastore.AppSummary, len(page))
	for i := range page {
		ids[i] = page[i].ID
		idx[page[i].ID] = &page[i]
	}

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to query latest versions: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		version string
		pubDate time.Time
	}
	best := make(map[string]candidate, len(page))
	for rows.Next() {
		var appID, version string
		var pubDate time.Time
		if err := rows.Scan(&appID, &version, &pubDate); err != nil {
			return fmt.Errorf("failed to scan release version: %w", err)
		}
		cur, ok := best[appID]
		switch {
		case !ok, pubDate.After(cur.pubDate):
			best[appID] = candidate{version: version, pubDate: pubDate}
		case pubDate.Equal(cur.pubDate):
			if c, cerr := oasis.CompareVersions(version, cur.version); cerr == nil && c > 0 {
				best[appID] = candidate{version: version, pubDate: pubDate}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read release versions: %w", err)
	}

	for id, c := range best {
		v := c.version
		idx[id].LatestVersion = &v
	}
	return nil
}

// UpdateApp implements [datastore.AppStore].
func (s *Store) UpdateApp(ctx context.Context, app *oasis.App) (err error) {
	query, done := getQuery(ctx, "updateapp", &err)
	defer done()

	tag, err := s.pool.Exec(ctx, query,
		app.ID, app.Name, app.Description, app.PublicKey, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update app: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.UpdateApp`,
			Message: fmt.Sprintf("no app with id %q", app.ID),
		}
	}
	return nil
}

// DeleteApp implements [datastore.AppStore].
func (s *Store) DeleteApp(ctx context.Context, id string) (storageKeys []string, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.DeleteApp")
	const op = `datastore/postgres/Store.DeleteApp`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var published int64
	err = func() (err error) {
		query, done := getQuery(ctx, "apppublishedcount", &err)
		defer done()
		return tx.QueryRow(ctx, query, id).Scan(&published)
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to count published releases: %w", err)
	}
	if published > 0 {
		return nil, &oasis.Error{
			Kind:    oasis.ErrConflict,
			Op:      op,
			Message: fmt.Sprintf("app has %d published releases, archive them first", published),
		}
	}

	err = func() (err error) {
		query, done := getQuery(ctx, "appstoragekeys", &err)
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
		query, done := getQuery(ctx, "deleteapp", &err)
		defer done()
		tag, err = tx.Exec(ctx, query, id)
		return err
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to delete app: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      op,
			Message: fmt.Sprintf("no app with id %q", id),
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("unable to commit transaction: %w", err)
	}
	zlog.Info(ctx).
		Str("app_id", id).
		Int("objects", len(storageKeys)).
		Msg("app deleted")
	return storageKeys, nil
}
