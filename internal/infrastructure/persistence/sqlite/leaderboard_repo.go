package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository and leaderboard.StatsReader.
type LeaderboardRepository struct {
	db *gorm.DB
}

var (
	_ leaderboard.Repository  = (*LeaderboardRepository)(nil)
	_ leaderboard.StatsReader = (*LeaderboardRepository)(nil)
)

// entryBatchSize keeps one INSERT under SQLite's bound-parameter limit.
const entryBatchSize = 200

// CohortStats reads completions, goals and streaks of all members inside one
// transaction, so the whole cohort is ranked on a single snapshot.
func (r *LeaderboardRepository) CohortStats(ctx context.Context, members []*learner.User, w leaderboard.Window) ([]leaderboard.MemberStats, error) {
	if len(members) == 0 {
		return nil, nil
	}
	ids := make([]string, len(members))
	for i, u := range members {
		ids[i] = u.ID
	}

	var out []leaderboard.MemberStats
	err := dbFor(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		hist, err := histories(tx, ids, w.Start(), w.End())
		if err != nil {
			return err
		}
		goals, err := goalsBetween(tx, ids, w.From, w.To)
		if err != nil {
			return err
		}
		streaks, err := currentStreaks(tx, ids)
		if err != nil {
			return err
		}

		out = make([]leaderboard.MemberStats, 0, len(members))
		for _, u := range members {
			out = append(out, leaderboard.CollectStats(u, hist[u.ID], goals[u.ID], streaks[u.ID], w))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cohort stats: %w", err)
	}
	return out, nil
}

// ReplaceCohort deletes and rewrites one epoch of a cohort in a single transaction.
func (r *LeaderboardRepository) ReplaceCohort(ctx context.Context, cohort leaderboard.CohortKey, epoch leaderboard.Epoch, entries []leaderboard.Entry) error {
	key := cohort.String()
	return dbFor(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cohort = ? AND epoch = ?", key, int64(epoch)).Delete(&entryModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear epoch: %w", err)
		}

		if len(entries) > 0 {
			models := make([]entryModel, len(entries))
			for i, e := range entries {
				models[i] = newEntryModel(cohort, epoch, e)
			}
			if err := tx.CreateInBatches(&models, entryBatchSize).Error; err != nil {
				return fmt.Errorf("failed to write entries: %w", err)
			}
		}

		mark := epochModel{Cohort: key, Epoch: int64(epoch), Members: len(entries), RebuiltAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&mark).Error; err != nil {
			return fmt.Errorf("failed to mark epoch: %w", err)
		}
		return nil
	})
}

// Current returns the latest epoch of the cohort.
func (r *LeaderboardRepository) Current(ctx context.Context, cohort leaderboard.CohortKey) (leaderboard.Board, error) {
	key := cohort.String()
	db := dbFor(ctx, r.db)

	var latest sql.NullInt64
	if err := db.Model(&epochModel{}).Where("cohort = ?", key).Select("MAX(epoch)").Row().Scan(&latest); err != nil {
		return leaderboard.Board{}, fmt.Errorf("failed to find current epoch: %w", err)
	}
	if !latest.Valid {
		return leaderboard.Board{}, shared.NewDomainError("leaderboard", "Current", shared.ErrNotFound, "cohort has no epoch")
	}

	entries, err := r.entries(db.Where("cohort = ? AND epoch = ?", key, latest.Int64).Order("rank, user_id"))
	if err != nil {
		return leaderboard.Board{}, err
	}
	return leaderboard.Board{Cohort: cohort, Epoch: leaderboard.Epoch(latest.Int64), Entries: entries}, nil
}

// PreviousRanks returns ranks of the latest epoch strictly before the given one.
func (r *LeaderboardRepository) PreviousRanks(ctx context.Context, cohort leaderboard.CohortKey, before leaderboard.Epoch) (map[string]leaderboard.Rank, error) {
	key := cohort.String()
	db := dbFor(ctx, r.db)

	out := make(map[string]leaderboard.Rank)
	var prev sql.NullInt64
	err := db.Model(&epochModel{}).Where("cohort = ? AND epoch < ?", key, int64(before)).Select("MAX(epoch)").Row().Scan(&prev)
	if err != nil {
		return nil, fmt.Errorf("failed to find previous epoch: %w", err)
	}
	if !prev.Valid {
		return out, nil
	}

	entries, err := r.entries(db.Where("cohort = ? AND epoch = ?", key, prev.Int64))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		out[e.UserID] = e.Rank
	}
	return out, nil
}

// UserEntry returns the user's entry from the most recent epoch they appear in.
func (r *LeaderboardRepository) UserEntry(ctx context.Context, userID string) (leaderboard.Entry, error) {
	var m entryModel
	err := dbFor(ctx, r.db).Where("user_id = ?", userID).Order("epoch DESC").First(&m).Error
	if err != nil {
		if isNotFound(err) {
			return leaderboard.Entry{}, shared.NewDomainError("leaderboard", "UserEntry", shared.ErrNotFound, "user is not ranked")
		}
		return leaderboard.Entry{}, fmt.Errorf("failed to get user entry: %w", err)
	}
	return m.toDomain(), nil
}

func (r *LeaderboardRepository) entries(q *gorm.DB) ([]leaderboard.Entry, error) {
	var models []entryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	out := make([]leaderboard.Entry, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}
