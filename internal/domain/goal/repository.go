package goal

import (
	"context"
	"time"
)

// Repository persists daily goals. Stores enforce a unique (user, date) key.
type Repository interface {
	// Get returns shared.ErrGoalNotFound when no goal exists for the date.
	Get(ctx context.Context, userID string, date time.Time) (*DailyGoal, error)

	// Create inserts a goal. A (user, date) conflict returns an error
	// matching shared.ErrAlreadyExists.
	Create(ctx context.Context, g *DailyGoal) error

	// MarkCompleted sets the completion flag if not already set.
	MarkCompleted(ctx context.Context, id string, at time.Time) error

	// ListBetween returns goals whose date lies in [from, to], by date.
	ListBetween(ctx context.Context, userID string, from, to time.Time) ([]DailyGoal, error)
}
