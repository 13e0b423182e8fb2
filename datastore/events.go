package datastore

import (
	"context"

	"github.com/oasishq/oasis"
)

// EventStore records download telemetry.
type EventStore interface {
	// RecordDownloadEvent inserts one event row. Callers treat failures as
	// log-only; nothing user-visible depends on this write.
	RecordDownloadEvent(ctx context.Context, ev *oasis.DownloadEvent) error
}
