package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// IncentiveRepository implements incentive.Repository for PostgreSQL.
type IncentiveRepository struct {
	conn *Connection
}

var _ incentive.Repository = (*IncentiveRepository)(nil)

const unlockColumns = `id, user_id, kind, unlocked_at, criteria, claimed, claimed_at`

// ListByUser returns unlocks ordered by time, then kind.
func (r *IncentiveRepository) ListByUser(ctx context.Context, userID string) ([]incentive.Unlock, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+unlockColumns+` FROM incentive_unlocks
		WHERE user_id = $1 ORDER BY unlocked_at, kind
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	defer rows.Close()

	var out []incentive.Unlock
	for rows.Next() {
		u, err := scanUnlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Create inserts an unlock; the (user_id, kind) constraint rejects duplicates.
func (r *IncentiveRepository) Create(ctx context.Context, u incentive.Unlock) error {
	criteria, err := json.Marshal(u.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO incentive_unlocks (`+unlockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.UserID, string(u.Kind), u.UnlockedAt, criteria, u.Claimed, u.ClaimedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("incentive", "Create", shared.ErrAlreadyExists, "incentive already unlocked")
		}
		return fmt.Errorf("failed to create unlock: %w", err)
	}
	return nil
}

// Get returns one unlock.
func (r *IncentiveRepository) Get(ctx context.Context, userID string, kind incentive.Kind) (incentive.Unlock, error) {
	return r.get(ctx, r.conn, userID, kind, "")
}

func (r *IncentiveRepository) get(ctx context.Context, q Querier, userID string, kind incentive.Kind, suffix string) (incentive.Unlock, error) {
	row := q.QueryRow(ctx, `SELECT `+unlockColumns+` FROM incentive_unlocks WHERE user_id = $1 AND kind = $2`+suffix,
		userID, string(kind))
	u, err := scanUnlock(row)
	if err != nil {
		if IsNoRows(err) {
			return incentive.Unlock{}, shared.ErrUnlockNotFound
		}
		return incentive.Unlock{}, fmt.Errorf("failed to get unlock: %w", err)
	}
	return u, nil
}

// MarkClaimed locks the row, applies Unlock.Claim and writes the result back.
func (r *IncentiveRepository) MarkClaimed(ctx context.Context, userID string, kind incentive.Kind, at time.Time) error {
	return r.conn.WithTx(ctx, writeTx, func(tx pgx.Tx) error {
		u, err := r.get(ctx, tx, userID, kind, " FOR UPDATE")
		if err != nil {
			return err
		}
		if err := u.Claim(at); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE incentive_unlocks SET claimed = TRUE, claimed_at = $1
			WHERE user_id = $2 AND kind = $3
		`, u.ClaimedAt, userID, string(kind))
		if err != nil {
			return fmt.Errorf("failed to mark claimed: %w", err)
		}
		return nil
	})
}

func scanUnlock(row rowScanner) (incentive.Unlock, error) {
	var (
		u        incentive.Unlock
		kind     string
		criteria []byte
	)
	if err := row.Scan(&u.ID, &u.UserID, &kind, &u.UnlockedAt, &criteria, &u.Claimed, &u.ClaimedAt); err != nil {
		return incentive.Unlock{}, err
	}
	u.Kind = incentive.Kind(kind)
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &u.Criteria); err != nil {
			return incentive.Unlock{}, fmt.Errorf("failed to unmarshal criteria: %w", err)
		}
	}
	u.UnlockedAt = u.UnlockedAt.UTC()
	return u, nil
}
