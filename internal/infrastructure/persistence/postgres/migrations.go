package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMigrationFailed wraps every failed migration step.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// migrationLockKey is the pg_advisory_lock key held while migrating, so two
// workers started at once do not apply the same version twice.
const migrationLockKey int64 = 0x1EA9_0001

// Migration is one schema version.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies the embedded migrations, tracked in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over all embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

// Migrate applies every pending migration in version order, each in its own
// transaction, and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	ran := 0
	err := m.locked(ctx, func(pc *pgxpool.Conn, applied []int) error {
		for _, mig := range m.migrations {
			if slices.Contains(applied, mig.Version) {
				continue
			}
			err := pgx.BeginTxFunc(ctx, pc, writeTx, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
			}
			ran++
		}
		return nil
	})
	return ran, err
}

// Rollback reverts the latest applied migration and returns its version,
// or 0 when nothing is applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	version := 0
	err := m.locked(ctx, func(pc *pgxpool.Conn, applied []int) error {
		if len(applied) == 0 {
			return nil
		}
		last := applied[len(applied)-1]
		i := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == last })
		if i < 0 {
			return fmt.Errorf("%w: version %d is applied but unknown to this build", ErrMigrationFailed, last)
		}
		mig := m.migrations[i]
		err := pgx.BeginTxFunc(ctx, pc, writeTx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: rollback %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		version = mig.Version
		return nil
	})
	return version, err
}

// locked holds the migration advisory lock on one pooled connection and
// passes fn the applied versions in ascending order.
func (m *Migrator) locked(ctx context.Context, fn func(pc *pgxpool.Conn, applied []int) error) error {
	pc, err := m.conn.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer pc.Release()

	if _, err := pc.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	defer func() {
		_, _ = pc.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := pc.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := pc.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	return fn(pc, applied)
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_learners", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_activity_log", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_progress", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_leaderboard", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEARNERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    username VARCHAR(100) NOT NULL UNIQUE,
    target_score NUMERIC(3,1) NOT NULL,
    timeline_days INTEGER NOT NULL,
    skill_levels JSONB NOT NULL DEFAULT '{}'::jsonb,
    points INTEGER NOT NULL DEFAULT 0,
    activities_completed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_target CHECK (target_score >= 0 AND target_score <= 9),
    CONSTRAINT valid_timeline CHECK (timeline_days > 0),
    CONSTRAINT valid_points CHECK (points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_users_created ON users(created_at, id);
`

const migration001Down = `
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CATALOG, COMPLETIONS, GROUP SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS activities (
    seq BIGSERIAL UNIQUE,
    id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(200) NOT NULL,
    skill VARCHAR(20) NOT NULL,
    difficulty VARCHAR(20) NOT NULL,
    duration_minutes INTEGER NOT NULL,
    points INTEGER NOT NULL,

    CONSTRAINT valid_skill CHECK (skill IN ('reading', 'writing', 'listening', 'speaking')),
    CONSTRAINT valid_difficulty CHECK (difficulty IN ('beginner', 'intermediate', 'advanced')),
    CONSTRAINT valid_duration CHECK (duration_minutes > 0)
);

CREATE INDEX IF NOT EXISTS idx_activities_skill ON activities(skill, seq);

-- Append-only: rows are never updated.
CREATE TABLE IF NOT EXISTS completions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    activity_id VARCHAR(64) NOT NULL,
    skill VARCHAR(20) NOT NULL,
    score INTEGER NOT NULL,
    minutes_spent INTEGER NOT NULL DEFAULT 0,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100),
    CONSTRAINT valid_minutes CHECK (minutes_spent >= 0)
);

CREATE INDEX IF NOT EXISTS idx_completions_user_time ON completions(user_id, completed_at);

CREATE TABLE IF NOT EXISTS group_sessions (
    id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(200) NOT NULL,
    skill VARCHAR(20) NOT NULL,
    scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance (
    session_id VARCHAR(64) NOT NULL REFERENCES group_sessions(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    participation DOUBLE PRECISION NOT NULL,
    attended_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (session_id, user_id),
    CONSTRAINT valid_participation CHECK (participation >= 0 AND participation <= 1)
);

CREATE INDEX IF NOT EXISTS idx_attendance_user ON attendance(user_id, attended_at);
`

const migration002Down = `
DROP TABLE IF EXISTS attendance;
DROP TABLE IF EXISTS group_sessions;
DROP TABLE IF EXISTS completions;
DROP TABLE IF EXISTS activities;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: GOALS, STREAKS, SKILLS, INCENTIVES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS daily_goals (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    goal_date DATE NOT NULL,
    activity_id VARCHAR(64) NOT NULL,
    skill VARCHAR(20) NOT NULL,
    rationale JSONB NOT NULL DEFAULT '{}'::jsonb,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    assigned_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT unique_goal_per_day UNIQUE (user_id, goal_date)
);

CREATE TABLE IF NOT EXISTS streaks (
    user_id VARCHAR(64) PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    current_length INTEGER NOT NULL DEFAULT 0,
    longest_length INTEGER NOT NULL DEFAULT 0,
    last_active_date DATE,
    streak_start DATE,
    last_processed_date DATE,
    recovery_uses INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'no_streak',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_streak_status CHECK (status IN ('no_streak', 'active', 'at_risk', 'broken')),
    CONSTRAINT valid_longest CHECK (longest_length >= current_length)
);

-- Append-only history of breaks, milestones and recoveries.
CREATE TABLE IF NOT EXISTS streak_history (
    id BIGSERIAL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    kind VARCHAR(20) NOT NULL,
    record_date DATE NOT NULL,
    length INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_streak_history_user ON streak_history(user_id, id);

CREATE TABLE IF NOT EXISTS skill_snapshots (
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    skill VARCHAR(20) NOT NULL,
    level DOUBLE PRECISION NOT NULL,
    recent_scores INTEGER[] NOT NULL DEFAULT '{}',
    applied_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, skill)
);

CREATE TABLE IF NOT EXISTS incentive_unlocks (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    kind VARCHAR(40) NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL,
    criteria JSONB NOT NULL DEFAULT '{}'::jsonb,
    claimed BOOLEAN NOT NULL DEFAULT FALSE,
    claimed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT unique_unlock UNIQUE (user_id, kind)
);
`

const migration003Down = `
DROP TABLE IF EXISTS incentive_unlocks;
DROP TABLE IF EXISTS skill_snapshots;
DROP TABLE IF EXISTS streak_history;
DROP TABLE IF EXISTS streaks;
DROP TABLE IF EXISTS daily_goals;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- One row per (cohort, epoch, user). Past epochs are kept for rank movement.
CREATE TABLE IF NOT EXISTS leaderboard_entries (
    cohort VARCHAR(40) NOT NULL,
    epoch BIGINT NOT NULL,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    target_bucket NUMERIC(3,1) NOT NULL,
    timeline VARCHAR(20) NOT NULL,
    consistency DOUBLE PRECISION NOT NULL,
    active_score DOUBLE PRECISION NOT NULL,
    streak_score DOUBLE PRECISION NOT NULL,
    completion_score DOUBLE PRECISION NOT NULL,
    current_streak INTEGER NOT NULL,
    rank INTEGER NOT NULL,
    previous_rank INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (cohort, epoch, user_id)
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_rank ON leaderboard_entries(cohort, epoch, rank);
CREATE INDEX IF NOT EXISTS idx_leaderboard_user ON leaderboard_entries(user_id, epoch DESC);

-- Marks an epoch as rebuilt even when the cohort has no members.
CREATE TABLE IF NOT EXISTS leaderboard_epochs (
    cohort VARCHAR(40) NOT NULL,
    epoch BIGINT NOT NULL,
    members INTEGER NOT NULL,
    rebuilt_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (cohort, epoch)
);
`

const migration004Down = `
DROP TABLE IF EXISTS leaderboard_epochs;
DROP TABLE IF EXISTS leaderboard_entries;
`
