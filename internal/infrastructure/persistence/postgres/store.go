package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// Store bundles the repositories over one connection pool.
type Store struct {
	conn *Connection
}

// NewStore creates a Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

var _ shared.Transactor = (*Store)(nil)

// WithinTx implements shared.Transactor: repository calls made with the
// context fn receives run in one read-committed transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.conn.withinTx(ctx, fn)
}

func (s *Store) Users() *UserRepository             { return &UserRepository{s.conn} }
func (s *Store) Catalog() *CatalogRepository        { return &CatalogRepository{s.conn} }
func (s *Store) Completions() *CompletionRepository { return &CompletionRepository{s.conn} }
func (s *Store) Attendance() *AttendanceRepository  { return &AttendanceRepository{s.conn} }
func (s *Store) Goals() *GoalRepository             { return &GoalRepository{s.conn} }
func (s *Store) Streaks() *StreakRepository         { return &StreakRepository{s.conn} }
func (s *Store) Skills() *SkillRepository           { return &SkillRepository{s.conn} }
func (s *Store) Leaderboard() *LeaderboardRepository {
	return &LeaderboardRepository{s.conn}
}
func (s *Store) Incentives() *IncentiveRepository { return &IncentiveRepository{s.conn} }

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements learner.Repository for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

var _ learner.Repository = (*UserRepository)(nil)

const userColumns = `id, username, target_score, timeline_days, skill_levels, points, activities_completed, created_at`

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *learner.User) error {
	levels, err := json.Marshal(u.SkillLevels)
	if err != nil {
		return fmt.Errorf("failed to marshal skill levels: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Username, u.TargetScore, u.TimelineDays, levels, u.Points, u.ActivitiesCompleted, u.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID returns a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*learner.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// Update stores points, the completion counter and skill levels.
func (r *UserRepository) Update(ctx context.Context, u *learner.User) error {
	levels, err := json.Marshal(u.SkillLevels)
	if err != nil {
		return fmt.Errorf("failed to marshal skill levels: %w", err)
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE users SET
			skill_levels = $1,
			points = $2,
			activities_completed = $3
		WHERE id = $4
	`, levels, u.Points, u.ActivitiesCompleted, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// List returns all users ordered by CreatedAt, then ID.
func (r *UserRepository) List(ctx context.Context) ([]*learner.User, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*learner.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*learner.User, error) {
	var (
		u      learner.User
		levels []byte
	)
	if err := row.Scan(&u.ID, &u.Username, &u.TargetScore, &u.TimelineDays, &levels,
		&u.Points, &u.ActivitiesCompleted, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.SkillLevels = make(map[shared.Skill]float64)
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &u.SkillLevels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal skill levels: %w", err)
		}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
