package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements activity.Catalog for PostgreSQL.
type CatalogRepository struct {
	conn *Connection
}

var _ activity.Catalog = (*CatalogRepository)(nil)

const activityColumns = `seq, id, title, skill, difficulty, duration_minutes, points`

// Add inserts an activity; seq is assigned by the sequence.
func (r *CatalogRepository) Add(ctx context.Context, a *activity.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}

	err := r.conn.QueryRow(ctx, `
		INSERT INTO activities (id, title, skill, difficulty, duration_minutes, points)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`, a.ID, a.Title, string(a.Skill), string(a.Difficulty), a.DurationMinutes, a.Points).Scan(&a.Seq)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("activity", "Add", shared.ErrAlreadyExists, "activity already exists")
		}
		return fmt.Errorf("failed to add activity: %w", err)
	}
	return nil
}

// Get returns an activity by ID.
func (r *CatalogRepository) Get(ctx context.Context, id string) (*activity.Activity, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1`, id)
	a, err := scanActivity(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrActivityNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return &a, nil
}

// List returns the catalog in insertion order.
func (r *CatalogRepository) List(ctx context.Context) ([]activity.Activity, error) {
	return r.list(ctx, `SELECT `+activityColumns+` FROM activities ORDER BY seq`)
}

// ListBySkill returns one skill's activities in insertion order.
func (r *CatalogRepository) ListBySkill(ctx context.Context, skill shared.Skill) ([]activity.Activity, error) {
	return r.list(ctx, `SELECT `+activityColumns+` FROM activities WHERE skill = $1 ORDER BY seq`, string(skill))
}

func (r *CatalogRepository) list(ctx context.Context, query string, args ...any) ([]activity.Activity, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var out []activity.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActivity(row rowScanner) (activity.Activity, error) {
	var (
		a               activity.Activity
		skill, difficulty string
	)
	if err := row.Scan(&a.Seq, &a.ID, &a.Title, &skill, &difficulty, &a.DurationMinutes, &a.Points); err != nil {
		return activity.Activity{}, err
	}
	a.Skill = shared.Skill(skill)
	a.Difficulty = activity.Difficulty(difficulty)
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETIONS
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRepository implements activity.CompletionLog for PostgreSQL.
type CompletionRepository struct {
	conn *Connection
}

var _ activity.CompletionLog = (*CompletionRepository)(nil)

// Append inserts a completion. Rows are never updated.
func (r *CompletionRepository) Append(ctx context.Context, c activity.Completion) error {
	if err := c.Validate(); err != nil {
		return err
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO completions (id, user_id, activity_id, skill, score, minutes_spent, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.UserID, c.ActivityID, string(c.Skill), c.Score, c.MinutesSpent, c.CompletedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("activity", "Append", shared.ErrAlreadyExists, "completion already recorded")
		}
		if IsForeignKeyViolation(err) {
			return shared.ErrUserNotFound
		}
		return fmt.Errorf("failed to append completion: %w", err)
	}
	return nil
}

// History returns the user's completions at or before asOf.
func (r *CompletionRepository) History(ctx context.Context, userID string, asOf time.Time) (activity.History, error) {
	return queryHistory(ctx, r.conn, userID, asOf)
}

func queryHistory(ctx context.Context, q Querier, userID string, asOf time.Time) (activity.History, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, activity_id, skill, score, minutes_spent, completed_at
		FROM completions
		WHERE user_id = $1 AND completed_at <= $2
		ORDER BY completed_at, id
	`, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out activity.History
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCompletion(row rowScanner) (activity.Completion, error) {
	var (
		c     activity.Completion
		skill string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.ActivityID, &skill, &c.Score, &c.MinutesSpent, &c.CompletedAt); err != nil {
		return activity.Completion{}, fmt.Errorf("failed to scan completion: %w", err)
	}
	c.Skill = shared.Skill(skill)
	c.CompletedAt = c.CompletedAt.UTC()
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceRepository implements activity.AttendanceLog for PostgreSQL.
type AttendanceRepository struct {
	conn *Connection
}

var _ activity.AttendanceLog = (*AttendanceRepository)(nil)

// AddSession inserts a group session.
func (r *AttendanceRepository) AddSession(ctx context.Context, s activity.GroupSession) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO group_sessions (id, title, skill, scheduled_at)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.Title, string(s.Skill), s.ScheduledAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("activity", "AddSession", shared.ErrAlreadyExists, "session already exists")
		}
		return fmt.Errorf("failed to add session: %w", err)
	}
	return nil
}

// RecordAttendance is idempotent per (session, user).
func (r *AttendanceRepository) RecordAttendance(ctx context.Context, a activity.Attendance) error {
	if err := a.Validate(); err != nil {
		return err
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO attendance (session_id, user_id, participation, attended_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id) DO NOTHING
	`, a.SessionID, a.UserID, a.Participation, a.AttendedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.NewDomainError("activity", "RecordAttendance", shared.ErrNotFound, "session or user not found")
		}
		return fmt.Errorf("failed to record attendance: %w", err)
	}
	return nil
}

// Attendance returns the user's attendance at or before asOf.
func (r *AttendanceRepository) Attendance(ctx context.Context, userID string, asOf time.Time) ([]activity.Attendance, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT session_id, user_id, participation, attended_at
		FROM attendance
		WHERE user_id = $1 AND attended_at <= $2
		ORDER BY session_id
	`, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var out []activity.Attendance
	for rows.Next() {
		var a activity.Attendance
		if err := rows.Scan(&a.SessionID, &a.UserID, &a.Participation, &a.AttendedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		a.AttendedAt = a.AttendedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
