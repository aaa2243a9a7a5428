// Package sqlite implements every repository port on an embedded SQLite
// database through gorm. It backs the leap CLI.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const latestSchemaVersion = 1

// Store owns the gorm handle and hands out repositories.
type Store struct {
	db            *gorm.DB
	log           *logger.Logger
	schemaVersion int
}

// Open opens (or creates) the database at path and brings its schema up to date.
func Open(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// One connection: an in-memory database lives and dies with its
	// connection, and SQLite serialises writers anyway.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := configureDB(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s := &Store{db: db, log: log.Named("sqlite")}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s.log.Debug("sqlite store opened", logger.String("path", path), logger.Int("schema_version", s.schemaVersion))
	return s, nil
}

func configureDB(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("failed to run %s: %w", pragma, err)
		}
	}
	return nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&userModel{},
		&activityModel{},
		&completionModel{},
		&groupSessionModel{},
		&attendanceModel{},
		&goalModel{},
		&streakModel{},
		&streakRecordModel{},
		&skillModel{},
		&entryModel{},
		&epochModel{},
		&unlockModel{},
	)
}

// migrate runs AutoMigrate behind a schema_version gate.
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&schemaMeta{}); err != nil {
		return fmt.Errorf("failed to create schema_meta: %w", err)
	}

	var meta schemaMeta
	err := s.db.First(&meta, 1).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to read schema_meta: %w", err)
		}
		meta = schemaMeta{ID: 1}
		if err := s.db.Create(&meta).Error; err != nil {
			return fmt.Errorf("failed to init schema_meta: %w", err)
		}
	}

	s.schemaVersion = meta.SchemaVersion
	if meta.SchemaVersion > latestSchemaVersion {
		return fmt.Errorf("database schema_version=%d is newer than supported %d", meta.SchemaVersion, latestSchemaVersion)
	}

	// AutoMigrate is additive, so it also runs on an up-to-date schema.
	if err := autoMigrate(s.db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	if meta.SchemaVersion < latestSchemaVersion {
		meta.SchemaVersion = latestSchemaVersion
		if err := s.db.Save(&meta).Error; err != nil {
			return fmt.Errorf("failed to write schema_meta: %w", err)
		}
		s.log.Info("sqlite schema upgraded", logger.Int("schema_version", latestSchemaVersion))
	}
	s.schemaVersion = meta.SchemaVersion
	return nil
}

// SchemaVersion returns the schema version after Open.
func (s *Store) SchemaVersion() int { return s.schemaVersion }

// DB exposes the gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txKey struct{}

// dbFor returns the transaction opened by WithinTx for ctx, or db. The pool
// holds a single connection, so a repository call made outside the open
// transaction would wait for it forever.
func dbFor(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

var _ shared.Transactor = (*Store)(nil)

// WithinTx implements shared.Transactor. Nested calls become savepoints.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return dbFor(ctx, s.db).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Store) Users() *UserRepository             { return &UserRepository{db: s.db} }
func (s *Store) Catalog() *CatalogRepository        { return &CatalogRepository{db: s.db} }
func (s *Store) Completions() *CompletionRepository { return &CompletionRepository{db: s.db} }
func (s *Store) Attendance() *AttendanceRepository  { return &AttendanceRepository{db: s.db} }
func (s *Store) Goals() *GoalRepository             { return &GoalRepository{db: s.db} }
func (s *Store) Streaks() *StreakRepository         { return &StreakRepository{db: s.db} }
func (s *Store) Skills() *SkillRepository           { return &SkillRepository{db: s.db} }
func (s *Store) Incentives() *IncentiveRepository   { return &IncentiveRepository{db: s.db} }
func (s *Store) Leaderboard() *LeaderboardRepository {
	return &LeaderboardRepository{db: s.db}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Instants are stored as Unix nanoseconds; zero time is stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n).UTC()
	return &t
}
