package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY GOALS
// ══════════════════════════════════════════════════════════════════════════════

// GoalRepository implements goal.Repository for PostgreSQL.
type GoalRepository struct {
	conn *Connection
}

var _ goal.Repository = (*GoalRepository)(nil)

const goalColumns = `id, user_id, goal_date, activity_id, skill, rationale, completed, completed_at, assigned_at`

// Get returns the goal for a civil date.
func (r *GoalRepository) Get(ctx context.Context, userID string, date time.Time) (*goal.DailyGoal, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+goalColumns+` FROM daily_goals WHERE user_id = $1 AND goal_date = $2`, userID, date)
	g, err := scanGoal(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrGoalNotFound
		}
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	return &g, nil
}

// Create inserts a goal; the (user_id, goal_date) constraint rejects a second one.
func (r *GoalRepository) Create(ctx context.Context, g *goal.DailyGoal) error {
	rationale, err := json.Marshal(g.Rationale)
	if err != nil {
		return fmt.Errorf("failed to marshal rationale: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO daily_goals (`+goalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, g.ID, g.UserID, g.Date, g.ActivityID, string(g.Skill), rationale, g.Completed, g.CompletedAt, g.AssignedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("goal", "Create", shared.ErrAlreadyExists, "goal already assigned for date")
		}
		return fmt.Errorf("failed to create goal: %w", err)
	}
	return nil
}

// MarkCompleted sets the completion flag once; later calls keep the first timestamp.
func (r *GoalRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE daily_goals SET completed = TRUE, completed_at = COALESCE(completed_at, $1)
		WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark goal completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrGoalNotFound
	}
	return nil
}

// ListBetween returns goals dated within [from, to].
func (r *GoalRepository) ListBetween(ctx context.Context, userID string, from, to time.Time) ([]goal.DailyGoal, error) {
	return queryGoals(ctx, r.conn, `
		SELECT `+goalColumns+` FROM daily_goals
		WHERE user_id = $1 AND goal_date BETWEEN $2 AND $3
		ORDER BY goal_date
	`, userID, from, to)
}

func queryGoals(ctx context.Context, q Querier, query string, args ...any) ([]goal.DailyGoal, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var out []goal.DailyGoal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGoal(row rowScanner) (goal.DailyGoal, error) {
	var (
		g         goal.DailyGoal
		skillName string
		rationale []byte
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Date, &g.ActivityID, &skillName, &rationale,
		&g.Completed, &g.CompletedAt, &g.AssignedAt); err != nil {
		return goal.DailyGoal{}, err
	}
	g.Skill = shared.Skill(skillName)
	if len(rationale) > 0 {
		if err := json.Unmarshal(rationale, &g.Rationale); err != nil {
			return goal.DailyGoal{}, fmt.Errorf("failed to unmarshal rationale: %w", err)
		}
	}
	g.AssignedAt = g.AssignedAt.UTC()
	return g, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	conn *Connection
}

var _ streak.Repository = (*StreakRepository)(nil)

// Get loads the streak row together with its history.
func (r *StreakRepository) Get(ctx context.Context, userID string) (streak.State, error) {
	var (
		st                               streak.State
		status                           string
		lastActive, start, lastProcessed *time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT user_id, current_length, longest_length, last_active_date, streak_start,
			   last_processed_date, recovery_uses, status
		FROM streaks WHERE user_id = $1
	`, userID).Scan(&st.UserID, &st.Current, &st.Longest, &lastActive, &start, &lastProcessed, &st.RecoveryUses, &status)
	if err != nil {
		if IsNoRows(err) {
			return streak.State{}, shared.NewDomainError("streak", "Get", shared.ErrNotFound, "streak not found")
		}
		return streak.State{}, fmt.Errorf("failed to get streak: %w", err)
	}
	st.Status = streak.Status(status)
	st.LastActiveDate = derefTime(lastActive)
	st.StreakStart = derefTime(start)
	st.LastProcessedDate = derefTime(lastProcessed)

	rows, err := r.conn.Query(ctx, `
		SELECT kind, record_date, length FROM streak_history
		WHERE user_id = $1 ORDER BY id
	`, userID)
	if err != nil {
		return streak.State{}, fmt.Errorf("failed to query streak history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec  streak.Record
			kind string
		)
		if err := rows.Scan(&kind, &rec.Date, &rec.Length); err != nil {
			return streak.State{}, fmt.Errorf("failed to scan streak record: %w", err)
		}
		rec.Kind = streak.RecordKind(kind)
		st.History = append(st.History, rec)
	}
	return st, rows.Err()
}

// Save writes the state row and appends the new history records in one
// transaction. The row is only replaced while its last_processed_date still
// equals expected; a stale writer gets shared.ErrConcurrentModification and
// its history records are discarded with the transaction.
func (r *StreakRepository) Save(ctx context.Context, st streak.State, expected time.Time, appended []streak.Record) error {
	return r.conn.WithTx(ctx, writeTx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO streaks (user_id, current_length, longest_length, last_active_date, streak_start,
				last_processed_date, recovery_uses, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				current_length = EXCLUDED.current_length,
				longest_length = EXCLUDED.longest_length,
				last_active_date = EXCLUDED.last_active_date,
				streak_start = EXCLUDED.streak_start,
				last_processed_date = EXCLUDED.last_processed_date,
				recovery_uses = EXCLUDED.recovery_uses,
				status = EXCLUDED.status,
				updated_at = NOW()
			WHERE streaks.last_processed_date IS NOT DISTINCT FROM $9::date
		`, st.UserID, st.Current, st.Longest, nullTime(st.LastActiveDate), nullTime(st.StreakStart),
			nullTime(st.LastProcessedDate), st.RecoveryUses, string(st.Status), nullTime(expected))
		if err != nil {
			return fmt.Errorf("failed to save streak: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.NewDomainError("streak", "Save", shared.ErrConcurrentModification,
				"streak was advanced by another writer")
		}

		if len(appended) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, rec := range appended {
			batch.Queue(`INSERT INTO streak_history (user_id, kind, record_date, length) VALUES ($1, $2, $3, $4)`,
				st.UserID, string(rec.Kind), rec.Date, rec.Length)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to append streak history: %w", err)
		}
		return nil
	})
}

// currentStreaks returns current lengths for the given users.
func currentStreaks(ctx context.Context, q Querier, userIDs []string) (map[string]int, error) {
	rows, err := q.Query(ctx, `SELECT user_id, current_length FROM streaks WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query streaks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int, len(userIDs))
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan streak: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// SKILL SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// SkillRepository implements skill.Repository for PostgreSQL.
type SkillRepository struct {
	conn *Connection
}

var _ skill.Repository = (*SkillRepository)(nil)

const snapshotColumns = `user_id, skill, level, recent_scores, applied_count, updated_at`

// Get returns one snapshot.
func (r *SkillRepository) Get(ctx context.Context, userID string, sk shared.Skill) (skill.Snapshot, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM skill_snapshots WHERE user_id = $1 AND skill = $2`,
		userID, string(sk))
	snap, err := scanSnapshot(row)
	if err != nil {
		if IsNoRows(err) {
			return skill.Snapshot{}, shared.NewDomainError("skill", "Get", shared.ErrNotFound, "skill snapshot not found")
		}
		return skill.Snapshot{}, fmt.Errorf("failed to get skill snapshot: %w", err)
	}
	return snap, nil
}

// ListByUser returns the user's snapshots ordered by skill.
func (r *SkillRepository) ListByUser(ctx context.Context, userID string) ([]skill.Snapshot, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+snapshotColumns+` FROM skill_snapshots WHERE user_id = $1 ORDER BY skill`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list skill snapshots: %w", err)
	}
	defer rows.Close()

	var out []skill.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Save upserts the snapshot.
func (r *SkillRepository) Save(ctx context.Context, s skill.Snapshot) error {
	scores := make([]int32, len(s.RecentScores))
	for i, v := range s.RecentScores {
		scores[i] = int32(v)
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO skill_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, skill) DO UPDATE SET
			level = EXCLUDED.level,
			recent_scores = EXCLUDED.recent_scores,
			applied_count = EXCLUDED.applied_count,
			updated_at = EXCLUDED.updated_at
	`, s.UserID, string(s.Skill), s.Level, scores, s.AppliedCount, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save skill snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(row rowScanner) (skill.Snapshot, error) {
	var (
		s         skill.Snapshot
		skillName string
		scores    []int32
	)
	if err := row.Scan(&s.UserID, &skillName, &s.Level, &scores, &s.AppliedCount, &s.UpdatedAt); err != nil {
		return skill.Snapshot{}, err
	}
	s.Skill = shared.Skill(skillName)
	s.RecentScores = make([]int, len(scores))
	for i, v := range scores {
		s.RecentScores[i] = int(v)
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
