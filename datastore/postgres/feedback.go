package postgres

import (
	"context"
	"fmt"

	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

func scanFeedback(row scanner, f *oasis.Feedback) error {
	var meta []byte
	err := row.Scan(
		&f.ID, &f.AppID, &f.PublicKeyID, &f.Message, &f.Rating,
		&f.UserID, &f.AppVersion, &f.Platform, &meta, &f.CreatedAt)
	if err != nil {
		return err
	}
	f.Metadata = meta
	return nil
}

// CreateFeedback implements [datastore.FeedbackStore].
func (s *Store) CreateFeedback(ctx context.Context, f *oasis.Feedback) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CreateFeedback")
	query, done := getQuery(ctx, "createfeedback", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		f.ID, f.AppID, f.PublicKeyID, f.Message, f.Rating,
		f.UserID, f.AppVersion, f.Platform, jsonbArg(f.Metadata), f.CreatedAt)
	switch {
	case err == nil:
	case isForeignKeyViolation(err):
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.CreateFeedback`,
			Message: fmt.Sprintf("no app with id %q", f.AppID),
			Inner:   err,
		}
	default:
		return fmt.Errorf("failed to create feedback: %w", err)
	}
	zlog.Debug(ctx).
		Str("feedback_id", f.ID).
		Str("app_id", f.AppID).
		Msg("feedback recorded")
	return nil
}

// ListFeedback implements [datastore.FeedbackStore].
func (s *Store) ListFeedback(ctx context.Context, appID string, page datastore.Page) (items []oasis.Feedback, total int64, err error) {
	limit, offset := page.Bound()
	items = []oasis.Feedback{}

	err = func() (err error) {
		query, done := getQuery(ctx, "listfeedback", &err)
		defer done()
		rows, err := s.pool.Query(ctx, query, appID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f oasis.Feedback
			if err := scanFeedback(rows, &f); err != nil {
				return err
			}
			items = append(items, f)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list feedback: %w", err)
	}

	err = func() (err error) {
		query, done := getQuery(ctx, "countfeedback", &err)
		defer done()
		return s.pool.QueryRow(ctx, query, appID).Scan(&total)
	}()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return items, total, nil
}

// DeleteFeedback implements [datastore.FeedbackStore].
func (s *Store) DeleteFeedback(ctx context.Context, id, appID string) (err error) {
	query, done := getQuery(ctx, "deletefeedback", &err)
	defer done()

	tag, err := s.pool.Exec(ctx, query, id, appID)
	if err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &oasis.Error{
			Kind:    oasis.ErrNotFound,
			Op:      `datastore/postgres/Store.DeleteFeedback`,
			Message: fmt.Sprintf("no feedback with id %q", id),
		}
	}
	return nil
}
