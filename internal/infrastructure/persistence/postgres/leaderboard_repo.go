package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository and
// leaderboard.StatsReader for PostgreSQL.
type LeaderboardRepository struct {
	conn *Connection
}

var (
	_ leaderboard.Repository  = (*LeaderboardRepository)(nil)
	_ leaderboard.StatsReader = (*LeaderboardRepository)(nil)
)

const entryColumns = `epoch, user_id, target_bucket, timeline, consistency, active_score, streak_score,
	completion_score, current_streak, rank, previous_rank`

// CohortStats reads completions, goals and streaks of all members inside one
// read-only repeatable-read transaction, so a completion committed mid-rebuild
// is seen by either every query or none.
func (r *LeaderboardRepository) CohortStats(ctx context.Context, members []*learner.User, w leaderboard.Window) ([]leaderboard.MemberStats, error) {
	if len(members) == 0 {
		return nil, nil
	}
	ids := make([]string, len(members))
	for i, u := range members {
		ids[i] = u.ID
	}

	var out []leaderboard.MemberStats
	err := r.conn.WithTx(ctx, snapshotTx, func(tx pgx.Tx) error {
		histories, err := windowHistories(ctx, tx, ids, w)
		if err != nil {
			return err
		}
		goals, err := queryGoals(ctx, tx, `
			SELECT `+goalColumns+` FROM daily_goals
			WHERE user_id = ANY($1) AND goal_date BETWEEN $2 AND $3
			ORDER BY user_id, goal_date
		`, ids, w.From, w.To)
		if err != nil {
			return err
		}
		byUser := make(map[string][]goal.DailyGoal)
		for _, g := range goals {
			byUser[g.UserID] = append(byUser[g.UserID], g)
		}
		streaks, err := currentStreaks(ctx, tx, ids)
		if err != nil {
			return err
		}

		out = make([]leaderboard.MemberStats, 0, len(members))
		for _, u := range members {
			out = append(out, leaderboard.CollectStats(u, histories[u.ID], byUser[u.ID], streaks[u.ID], w))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cohort stats: %w", err)
	}
	return out, nil
}

func windowHistories(ctx context.Context, q Querier, ids []string, w leaderboard.Window) (map[string]activity.History, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, activity_id, skill, score, minutes_spent, completed_at
		FROM completions
		WHERE user_id = ANY($1) AND completed_at BETWEEN $2 AND $3
		ORDER BY user_id, completed_at, id
	`, ids, w.Start(), w.End())
	if err != nil {
		return nil, fmt.Errorf("failed to query window completions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]activity.History, len(ids))
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out[c.UserID] = append(out[c.UserID], c)
	}
	return out, rows.Err()
}

// ReplaceCohort deletes and rewrites one epoch of a cohort in a single transaction.
func (r *LeaderboardRepository) ReplaceCohort(ctx context.Context, cohort leaderboard.CohortKey, epoch leaderboard.Epoch, entries []leaderboard.Entry) error {
	key := cohort.String()
	return r.conn.WithTx(ctx, writeTx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_entries WHERE cohort = $1 AND epoch = $2`, key, int64(epoch)); err != nil {
			return fmt.Errorf("failed to clear epoch: %w", err)
		}

		if len(entries) > 0 {
			rows := make([][]any, len(entries))
			for i, e := range entries {
				rows[i] = []any{key, int64(epoch), e.UserID, cohort.TargetBucket, string(cohort.Timeline),
					e.Consistency, e.ActiveScore, e.StreakScore, e.CompletionScore, e.CurrentStreak,
					int(e.Rank), int(e.PreviousRank)}
			}
			_, err := tx.CopyFrom(ctx, pgx.Identifier{"leaderboard_entries"},
				[]string{"cohort", "epoch", "user_id", "target_bucket", "timeline", "consistency", "active_score",
					"streak_score", "completion_score", "current_streak", "rank", "previous_rank"},
				pgx.CopyFromRows(rows))
			if err != nil {
				return fmt.Errorf("failed to write entries: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO leaderboard_epochs (cohort, epoch, members, rebuilt_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (cohort, epoch) DO UPDATE SET members = EXCLUDED.members, rebuilt_at = EXCLUDED.rebuilt_at
		`, key, int64(epoch), len(entries), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to mark epoch: %w", err)
		}
		return nil
	})
}

// Current returns the latest epoch of the cohort.
func (r *LeaderboardRepository) Current(ctx context.Context, cohort leaderboard.CohortKey) (leaderboard.Board, error) {
	key := cohort.String()
	var epoch int64
	err := r.conn.QueryRow(ctx, `SELECT MAX(epoch) FROM leaderboard_epochs WHERE cohort = $1 HAVING COUNT(*) > 0`, key).Scan(&epoch)
	if err != nil {
		if IsNoRows(err) {
			return leaderboard.Board{}, shared.NewDomainError("leaderboard", "Current", shared.ErrNotFound, "cohort has no epoch")
		}
		return leaderboard.Board{}, fmt.Errorf("failed to find current epoch: %w", err)
	}

	entries, err := r.entries(ctx, `
		SELECT `+entryColumns+` FROM leaderboard_entries
		WHERE cohort = $1 AND epoch = $2 ORDER BY rank, user_id
	`, key, epoch)
	if err != nil {
		return leaderboard.Board{}, err
	}
	return leaderboard.Board{Cohort: cohort, Epoch: leaderboard.Epoch(epoch), Entries: entries}, nil
}

// PreviousRanks returns ranks of the latest epoch strictly before the given one.
func (r *LeaderboardRepository) PreviousRanks(ctx context.Context, cohort leaderboard.CohortKey, before leaderboard.Epoch) (map[string]leaderboard.Rank, error) {
	key := cohort.String()
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, rank FROM leaderboard_entries
		WHERE cohort = $1 AND epoch = (
			SELECT MAX(epoch) FROM leaderboard_epochs WHERE cohort = $1 AND epoch < $2
		)
	`, key, int64(before))
	if err != nil {
		return nil, fmt.Errorf("failed to query previous ranks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]leaderboard.Rank)
	for rows.Next() {
		var (
			id   string
			rank int
		)
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan rank: %w", err)
		}
		out[id] = leaderboard.Rank(rank)
	}
	return out, rows.Err()
}

// UserEntry returns the user's entry from the most recent epoch they appear in.
func (r *LeaderboardRepository) UserEntry(ctx context.Context, userID string) (leaderboard.Entry, error) {
	entries, err := r.entries(ctx, `
		SELECT `+entryColumns+` FROM leaderboard_entries
		WHERE user_id = $1 ORDER BY epoch DESC LIMIT 1
	`, userID)
	if err != nil {
		return leaderboard.Entry{}, err
	}
	if len(entries) == 0 {
		return leaderboard.Entry{}, shared.NewDomainError("leaderboard", "UserEntry", shared.ErrNotFound, "user is not ranked")
	}
	return entries[0], nil
}

func (r *LeaderboardRepository) entries(ctx context.Context, query string, args ...any) ([]leaderboard.Entry, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []leaderboard.Entry
	for rows.Next() {
		var (
			e              leaderboard.Entry
			epoch          int64
			timeline       string
			rank, previous int
		)
		if err := rows.Scan(&epoch, &e.UserID, &e.Cohort.TargetBucket, &timeline, &e.Consistency, &e.ActiveScore,
			&e.StreakScore, &e.CompletionScore, &e.CurrentStreak, &rank, &previous); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Epoch = leaderboard.Epoch(epoch)
		e.Cohort.Timeline = leaderboard.Timeline(timeline)
		e.Rank = leaderboard.Rank(rank)
		e.PreviousRank = leaderboard.Rank(previous)
		out = append(out, e)
	}
	return out, rows.Err()
}
