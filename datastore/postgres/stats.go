package postgres

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

// CrashStats implements [datastore.CrashStore].
//
// The aggregates are independent reads over the same window, so they fan out
// on the pool concurrently and the first failure cancels the rest.
func (s *Store) CrashStats(ctx context.Context, appID string, window datastore.StatsWindow, topN int) (*datastore.CrashStats, error) {
	if !window.Valid() {
		return nil, &oasis.Error{
			Kind:    oasis.ErrValidation,
			Op:      `datastore/postgres/Store.CrashStats`,
			Message: fmt.Sprintf("unknown stats window %q", window),
		}
	}
	if topN <= 0 {
		topN = 5
	}
	since := time.Now().UTC().Add(-window.Duration())

	out := datastore.CrashStats{
		Window:     window,
		ByDay:      []datastore.DayCount{},
		ByVersion:  []datastore.FieldCount{},
		ByPlatform: []datastore.FieldCount{},
		TopGroups:  []oasis.CrashGroup{},
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		query, done := getQuery(ctx, "statstotals", &err)
		defer done()
		err = s.pool.QueryRow(ctx, query, appID, since).Scan(&out.TotalReports, &out.TotalGroups)
		if err != nil {
			return fmt.Errorf("failed to aggregate totals: %w", err)
		}
		return nil
	})
	eg.Go(func() (err error) {
		query, done := getQuery(ctx, "statsbyday", &err)
		defer done()
		rows, err := s.pool.Query(ctx, query, appID, since)
		if err != nil {
			return fmt.Errorf("failed to aggregate by day: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var d datastore.DayCount
			if err := rows.Scan(&d.Day, &d.Count); err != nil {
				return fmt.Errorf("failed to scan day bucket: %w", err)
			}
			out.ByDay = append(out.ByDay, d)
		}
		return rows.Err()
	})
	eg.Go(func() (err error) {
		query, done := getQuery(ctx, "statsbyversion", &err)
		defer done()
		rows, err := s.pool.Query(ctx, query, appID, since)
		if err != nil {
			return fmt.Errorf("failed to aggregate by version: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var f datastore.FieldCount
			if err := rows.Scan(&f.Value, &f.Count); err != nil {
				return fmt.Errorf("failed to scan version bucket: %w", err)
			}
			out.ByVersion = append(out.ByVersion, f)
		}
		return rows.Err()
	})
	eg.Go(func() (err error) {
		query, done := getQuery(ctx, "statsbyplatform", &err)
		defer done()
		rows, err := s.pool.Query(ctx, query, appID, since)
		if err != nil {
			return fmt.Errorf("failed to aggregate by platform: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var f datastore.FieldCount
			if err := rows.Scan(&f.Value, &f.Count); err != nil {
				return fmt.Errorf("failed to scan platform bucket: %w", err)
			}
			out.ByPlatform = append(out.ByPlatform, f)
		}
		return rows.Err()
	})
	eg.Go(func() (err error) {
		query, done := getQuery(ctx, "statstopgroups", &err)
		defer done()
		rows, err := s.pool.Query(ctx, query, appID, since, topN)
		if err != nil {
			return fmt.Errorf("failed to rank crash groups: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var g oasis.CrashGroup
			if err := scanCrashGroup(rows, &g); err != nil {
				return fmt.Errorf("failed to scan crash group: %w", err)
			}
			out.TopGroups = append(out.TopGroups, g)
		}
		return rows.Err()
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
