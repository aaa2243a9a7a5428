package skill

import (
	"context"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// Repository persists skill snapshots.
type Repository interface {
	// Get returns an error matching shared.ErrNotFound if no snapshot exists.
	Get(ctx context.Context, userID string, skill shared.Skill) (Snapshot, error)

	// ListByUser returns all snapshots of a user.
	ListByUser(ctx context.Context, userID string) ([]Snapshot, error)

	// Save upserts the snapshot.
	Save(ctx context.Context, s Snapshot) error
}
