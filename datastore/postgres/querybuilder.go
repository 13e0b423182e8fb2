package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

// escapeLike neutralizes LIKE metacharacters in user-supplied search text so
// a search for "50%" matches the literal string.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// buildListAppsQuery creates the page and count queries for ListApps. The
// page query carries a release_count subselect per row.
func buildListAppsQuery(opts datastore.AppListOpts) (listSQL, countSQL string, err error) {
	psql := goqu.Dialect("postgres")
	exps := []goqu.Expression{}
	if opts.Search != "" {
		pat := "%" + escapeLike(opts.Search) + "%"
		exps = append(exps, goqu.Or(
			goqu.C("slug").ILike(pat),
			goqu.C("name").ILike(pat),
		))
	}

	limit, offset := opts.Page.Bound()
	sel := psql.Select(
		"id",
		"slug",
		"name",
		"description",
		"public_key",
		"created_at",
		"updated_at",
		goqu.L("(SELECT COUNT(*) FROM release r WHERE r.app_id = app.id)").As("release_count"),
	).
		From("app").
		Where(exps...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset))
	listSQL, _, err = sel.ToSQL()
	if err != nil {
		return "", "", err
	}

	cnt := psql.Select(goqu.COUNT(goqu.Star())).From("app").Where(exps...)
	countSQL, _, err = cnt.ToSQL()
	if err != nil {
		return "", "", err
	}
	return listSQL, countSQL, nil
}

// buildListReleasesQuery creates the page and count queries for ListReleases.
func buildListReleasesQuery(opts datastore.ReleaseListOpts) (listSQL, countSQL string, err error) {
	psql := goqu.Dialect("postgres")
	exps := []goqu.Expression{goqu.Ex{"app_id": opts.AppID}}
	if opts.Status != "" {
		exps = append(exps, goqu.Ex{"status": string(opts.Status)})
	}

	limit, offset := opts.Page.Bound()
	sel := psql.Select(
		"id",
		"app_id",
		"version",
		"notes",
		"status",
		"pub_date",
		"created_at",
		"updated_at",
	).
		From("release").
		Where(exps...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset))
	listSQL, _, err = sel.ToSQL()
	if err != nil {
		return "", "", err
	}

	cnt := psql.Select(goqu.COUNT(goqu.Star())).From("release").Where(exps...)
	countSQL, _, err = cnt.ToSQL()
	if err != nil {
		return "", "", err
	}
	return listSQL, countSQL, nil
}

// buildListCrashGroupsQuery creates the page and count queries for
// ListCrashGroups.
func buildListCrashGroupsQuery(opts datastore.CrashGroupListOpts) (listSQL, countSQL string, err error) {
	psql := goqu.Dialect("postgres")
	exps := []goqu.Expression{goqu.Ex{"app_id": opts.AppID}}
	if opts.Status != "" {
		exps = append(exps, goqu.Ex{"status": string(opts.Status)})
	}

	limit, offset := opts.Page.Bound()
	sel := psql.Select(
		"id",
		"app_id",
		"fingerprint",
		"error_type",
		"error_message",
		"occurrence_count",
		"affected_users_count",
		"first_seen_at",
		"last_seen_at",
		"affected_versions",
		"affected_platforms",
		"status",
		"assignee",
		"resolution_notes",
		"resolved_at",
		"created_at",
		"updated_at",
	).
		From("crash_group").
		Where(exps...).
		Order(goqu.C("last_seen_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset))
	listSQL, _, err = sel.ToSQL()
	if err != nil {
		return "", "", err
	}

	cnt := psql.Select(goqu.COUNT(goqu.Star())).From("crash_group").Where(exps...)
	countSQL, _, err = cnt.ToSQL()
	if err != nil {
		return "", "", err
	}
	return listSQL, countSQL, nil
}

// buildUpdateCrashGroupQuery creates the dynamic triage UPDATE for
// UpdateCrashGroup. Nil members of upd are left out of the SET list; an
// empty string clears the column. Moving to resolved stamps resolved_at,
// moving anywhere else clears it.
func buildUpdateCrashGroupQuery(id string, upd datastore.CrashGroupUpdate, now time.Time) (string, error) {
	rec := goqu.Record{"updated_at": now}
	if upd.Status != nil {
		rec["status"] = string(*upd.Status)
		if *upd.Status == oasis.CrashResolved {
			rec["resolved_at"] = now
		} else {
			rec["resolved_at"] = nil
		}
	}
	if upd.Assignee != nil {
		if *upd.Assignee == "" {
			rec["assignee"] = nil
		} else {
			rec["assignee"] = *upd.Assignee
		}
	}
	if upd.ResolutionNotes != nil {
		if *upd.ResolutionNotes == "" {
			rec["resolution_notes"] = nil
		} else {
			rec["resolution_notes"] = *upd.ResolutionNotes
		}
	}

	q := goqu.Dialect("postgres").
		Update("crash_group").
		Set(rec).
		Where(goqu.Ex{"id": id}).
		Returning(
			"id",
			"app_id",
			"fingerprint",
			"error_type",
			"error_message",
			"occurrence_count",
			"affected_users_count",
			"first_seen_at",
			"last_seen_at",
			"affected_versions",
			"affected_platforms",
			"status",
			"assignee",
			"resolution_notes",
			"resolved_at",
			"created_at",
			"updated_at",
		)
	sql, _, err := q.ToSQL()
	if err != nil {
		return "", fmt.Errorf("failed to build update query: %w", err)
	}
	return sql, nil
}
