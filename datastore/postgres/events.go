package postgres

import (
	"context"
	"fmt"

	"github.com/oasishq/oasis"
)

// RecordDownloadEvent implements [datastore.EventStore].
func (s *Store) RecordDownloadEvent(ctx context.Context, ev *oasis.DownloadEvent) (err error) {
	query, done := getQuery(ctx, "insertdownloadevent", &err)
	defer done()

	_, err = s.pool.Exec(ctx, query,
		ev.Ref.String(), string(ev.Kind), ev.AppID, ev.SubjectID, string(ev.Platform), ev.Version, ev.At)
	if err != nil {
		return fmt.Errorf("failed to record download event: %w", err)
	}
	return nil
}
