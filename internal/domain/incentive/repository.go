package incentive

import (
	"context"
	"time"
)

// Repository persists unlocks. (user, kind) is unique.
type Repository interface {
	ListByUser(ctx context.Context, userID string) ([]Unlock, error)

	// Create fails with shared.ErrAlreadyExists when the kind is already unlocked.
	Create(ctx context.Context, u Unlock) error

	Get(ctx context.Context, userID string, kind Kind) (Unlock, error)

	// MarkClaimed fails with shared.ErrAlreadyClaimed on a second claim.
	MarkClaimed(ctx context.Context, userID string, kind Kind, at time.Time) error
}
