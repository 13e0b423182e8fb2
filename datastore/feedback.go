package datastore

import (
	"context"

	"github.com/oasishq/oasis"
)

// FeedbackStore holds SDK feedback submissions.
type FeedbackStore interface {
	// CreateFeedback persists a submission.
	CreateFeedback(ctx context.Context, f *oasis.Feedback) error
	// ListFeedback returns a page of an app's feedback, newest first, plus
	// the total count.
	ListFeedback(ctx context.Context, appID string, page Page) ([]oasis.Feedback, int64, error)
	// DeleteFeedback removes a submission. The id is scoped to the app, so
	// an id under the wrong app reports ErrNotFound.
	DeleteFeedback(ctx context.Context, id, appID string) error
}
