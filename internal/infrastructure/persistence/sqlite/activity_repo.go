package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements learner.Repository.
type UserRepository struct {
	db *gorm.DB
}

var _ learner.Repository = (*UserRepository)(nil)

func (r *UserRepository) Create(ctx context.Context, u *learner.User) error {
	m := newUserModel(u)
	if err := dbFor(ctx, r.db).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*learner.User, error) {
	var m userModel
	if err := dbFor(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return m.toDomain(), nil
}

// Update rewrites the mutable columns; the username and creation time stay.
func (r *UserRepository) Update(ctx context.Context, u *learner.User) error {
	m := newUserModel(u)
	res := dbFor(ctx, r.db).Model(&userModel{}).Where("id = ?", u.ID).
		Select("target_score", "timeline_days", "skill_levels", "points", "activities_completed").
		Updates(&m)
	if res.Error != nil {
		return fmt.Errorf("failed to update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]*learner.User, error) {
	var models []userModel
	if err := dbFor(ctx, r.db).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]*learner.User, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements activity.Catalog.
type CatalogRepository struct {
	db *gorm.DB
}

var _ activity.Catalog = (*CatalogRepository)(nil)

// Add inserts the activity and sets its Seq to the catalog position.
func (r *CatalogRepository) Add(ctx context.Context, a *activity.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m := activityModel{
		ID:              a.ID,
		Title:           a.Title,
		Skill:           string(a.Skill),
		Difficulty:      string(a.Difficulty),
		DurationMinutes: a.DurationMinutes,
		Points:          a.Points,
	}
	if err := dbFor(ctx, r.db).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("activity", "Add", shared.ErrAlreadyExists, "activity already exists")
		}
		return fmt.Errorf("failed to add activity: %w", err)
	}
	a.Seq = m.Seq
	return nil
}

func (r *CatalogRepository) Get(ctx context.Context, id string) (*activity.Activity, error) {
	var m activityModel
	if err := dbFor(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, shared.ErrActivityNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	a := m.toDomain()
	return &a, nil
}

func (r *CatalogRepository) List(ctx context.Context) ([]activity.Activity, error) {
	return r.find(dbFor(ctx, r.db))
}

func (r *CatalogRepository) ListBySkill(ctx context.Context, sk shared.Skill) ([]activity.Activity, error) {
	return r.find(dbFor(ctx, r.db).Where("skill = ?", string(sk)))
}

func (r *CatalogRepository) find(q *gorm.DB) ([]activity.Activity, error) {
	var models []activityModel
	if err := q.Order("seq").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	out := make([]activity.Activity, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETIONS
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRepository implements activity.CompletionLog.
type CompletionRepository struct {
	db *gorm.DB
}

var _ activity.CompletionLog = (*CompletionRepository)(nil)

// Append stores a completion of an existing user.
func (r *CompletionRepository) Append(ctx context.Context, c activity.Completion) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return dbFor(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userModel{}).Where("id = ?", c.UserID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if n == 0 {
			return shared.ErrUserNotFound
		}
		m := newCompletionModel(c)
		if err := tx.Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				return shared.NewDomainError("activity", "Append", shared.ErrAlreadyExists, "completion already recorded")
			}
			return fmt.Errorf("failed to append completion: %w", err)
		}
		return nil
	})
}

// History returns the user's completions up to and including asOf.
func (r *CompletionRepository) History(ctx context.Context, userID string, asOf time.Time) (activity.History, error) {
	histories, err := histories(dbFor(ctx, r.db), []string{userID}, time.Time{}, asOf)
	if err != nil {
		return nil, err
	}
	return histories[userID], nil
}

// histories loads completions of users with from <= completed_at <= to,
// ordered the way activity.SortHistory orders them. A zero from is unbounded.
func histories(q *gorm.DB, userIDs []string, from, to time.Time) (map[string]activity.History, error) {
	if len(userIDs) == 0 {
		return map[string]activity.History{}, nil
	}
	q = q.Where("user_id IN ? AND completed_at <= ?", userIDs, to.UnixNano())
	if !from.IsZero() {
		q = q.Where("completed_at >= ?", from.UnixNano())
	}

	var models []completionModel
	if err := q.Order("user_id, completed_at, id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}

	out := make(map[string]activity.History, len(userIDs))
	for _, m := range models {
		out[m.UserID] = append(out[m.UserID], m.toDomain())
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceRepository implements activity.AttendanceLog.
type AttendanceRepository struct {
	db *gorm.DB
}

var _ activity.AttendanceLog = (*AttendanceRepository)(nil)

// AddSession creates or replaces a group session.
func (r *AttendanceRepository) AddSession(ctx context.Context, s activity.GroupSession) error {
	m := groupSessionModel{
		ID:          s.ID,
		Title:       s.Title,
		Skill:       string(s.Skill),
		ScheduledAt: toNanos(s.ScheduledAt),
	}
	err := dbFor(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to add group session: %w", err)
	}
	return nil
}

// RecordAttendance is idempotent per (session, user); the first record wins.
func (r *AttendanceRepository) RecordAttendance(ctx context.Context, a activity.Attendance) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return dbFor(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&groupSessionModel{}).Where("id = ?", a.SessionID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check group session: %w", err)
		}
		if n == 0 {
			return shared.NewDomainError("activity", "RecordAttendance", shared.ErrNotFound, "group session not found")
		}
		m := attendanceModel{
			SessionID:     a.SessionID,
			UserID:        a.UserID,
			Participation: a.Participation,
			AttendedAt:    toNanos(a.AttendedAt),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
			return fmt.Errorf("failed to record attendance: %w", err)
		}
		return nil
	})
}

func (r *AttendanceRepository) Attendance(ctx context.Context, userID string, asOf time.Time) ([]activity.Attendance, error) {
	var models []attendanceModel
	err := dbFor(ctx, r.db).
		Where("user_id = ? AND attended_at <= ?", userID, asOf.UnixNano()).
		Order("session_id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	out := make([]activity.Attendance, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}
