package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// IncentiveRepository implements incentive.Repository.
type IncentiveRepository struct {
	db *gorm.DB
}

var _ incentive.Repository = (*IncentiveRepository)(nil)

func (r *IncentiveRepository) ListByUser(ctx context.Context, userID string) ([]incentive.Unlock, error) {
	var models []unlockModel
	if err := dbFor(ctx, r.db).Where("user_id = ?", userID).Order("unlocked_at, kind").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	out := make([]incentive.Unlock, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// Create fails with ErrAlreadyExists when the kind is already unlocked.
func (r *IncentiveRepository) Create(ctx context.Context, u incentive.Unlock) error {
	m := newUnlockModel(u)
	if err := dbFor(ctx, r.db).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("incentive", "Create", shared.ErrAlreadyExists, "incentive already unlocked")
		}
		return fmt.Errorf("failed to create unlock: %w", err)
	}
	return nil
}

func (r *IncentiveRepository) Get(ctx context.Context, userID string, kind incentive.Kind) (incentive.Unlock, error) {
	return getUnlock(dbFor(ctx, r.db), userID, kind)
}

// MarkClaimed applies Unlock.Claim inside a transaction and writes the result back.
func (r *IncentiveRepository) MarkClaimed(ctx context.Context, userID string, kind incentive.Kind, at time.Time) error {
	return dbFor(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		u, err := getUnlock(tx, userID, kind)
		if err != nil {
			return err
		}
		if err := u.Claim(at); err != nil {
			return err
		}
		err = tx.Model(&unlockModel{}).Where("user_id = ? AND kind = ?", userID, string(kind)).Updates(map[string]any{
			"claimed":    true,
			"claimed_at": toNanos(*u.ClaimedAt),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to mark claimed: %w", err)
		}
		return nil
	})
}

func getUnlock(q *gorm.DB, userID string, kind incentive.Kind) (incentive.Unlock, error) {
	var m unlockModel
	if err := q.Where("user_id = ? AND kind = ?", userID, string(kind)).First(&m).Error; err != nil {
		if isNotFound(err) {
			return incentive.Unlock{}, shared.ErrUnlockNotFound
		}
		return incentive.Unlock{}, fmt.Errorf("failed to get unlock: %w", err)
	}
	return m.toDomain(), nil
}
