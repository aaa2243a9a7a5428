package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY GOALS
// ══════════════════════════════════════════════════════════════════════════════

// GoalRepository implements goal.Repository.
type GoalRepository struct {
	db *gorm.DB
}

var _ goal.Repository = (*GoalRepository)(nil)

func (r *GoalRepository) Get(ctx context.Context, userID string, date time.Time) (*goal.DailyGoal, error) {
	var m goalModel
	err := dbFor(ctx, r.db).
		Where("user_id = ? AND goal_date = ?", userID, timeutil.FormatDate(date)).
		First(&m).Error
	if err != nil {
		if isNotFound(err) {
			return nil, shared.ErrGoalNotFound
		}
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	g, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create fails with ErrAlreadyExists when the user already has a goal that day.
func (r *GoalRepository) Create(ctx context.Context, g *goal.DailyGoal) error {
	m := newGoalModel(g)
	if err := dbFor(ctx, r.db).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("goal", "Create", shared.ErrAlreadyExists, "goal already assigned for date")
		}
		return fmt.Errorf("failed to create goal: %w", err)
	}
	return nil
}

// MarkCompleted keeps the first completion time.
func (r *GoalRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return dbFor(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var m goalModel
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if isNotFound(err) {
				return shared.ErrGoalNotFound
			}
			return fmt.Errorf("failed to load goal: %w", err)
		}
		g, err := m.toDomain()
		if err != nil {
			return err
		}
		if !g.MarkCompleted(at) {
			return nil
		}
		err = tx.Model(&goalModel{}).Where("id = ?", id).Updates(map[string]any{
			"completed":    true,
			"completed_at": toNanos(*g.CompletedAt),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to mark goal completed: %w", err)
		}
		return nil
	})
}

func (r *GoalRepository) ListBetween(ctx context.Context, userID string, from, to time.Time) ([]goal.DailyGoal, error) {
	goals, err := goalsBetween(dbFor(ctx, r.db), []string{userID}, from, to)
	if err != nil {
		return nil, err
	}
	return goals[userID], nil
}

// goalsBetween returns goals per user with from <= date <= to, by date.
func goalsBetween(q *gorm.DB, userIDs []string, from, to time.Time) (map[string][]goal.DailyGoal, error) {
	var models []goalModel
	err := q.Where("user_id IN ? AND goal_date BETWEEN ? AND ?", userIDs, timeutil.FormatDate(from), timeutil.FormatDate(to)).
		Order("user_id, goal_date").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	out := make(map[string][]goal.DailyGoal, len(userIDs))
	for _, m := range models {
		g, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out[g.UserID] = append(out[g.UserID], g)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository.
type StreakRepository struct {
	db *gorm.DB
}

var _ streak.Repository = (*StreakRepository)(nil)

// Get loads the streak row together with its history.
func (r *StreakRepository) Get(ctx context.Context, userID string) (streak.State, error) {
	db := dbFor(ctx, r.db)

	var m streakModel
	if err := db.Where("user_id = ?", userID).First(&m).Error; err != nil {
		if isNotFound(err) {
			return streak.State{}, shared.NewDomainError("streak", "Get", shared.ErrNotFound, "streak not found")
		}
		return streak.State{}, fmt.Errorf("failed to get streak: %w", err)
	}

	st := streak.State{
		UserID:       m.UserID,
		Current:      m.CurrentLength,
		Longest:      m.LongestLength,
		RecoveryUses: m.RecoveryUses,
		Status:       streak.Status(m.Status),
	}
	var err error
	if st.LastActiveDate, err = parseDay(m.LastActiveDate); err != nil {
		return streak.State{}, err
	}
	if st.StreakStart, err = parseDay(m.StreakStart); err != nil {
		return streak.State{}, err
	}
	if st.LastProcessedDate, err = parseDay(m.LastProcessedDate); err != nil {
		return streak.State{}, err
	}

	var records []streakRecordModel
	if err := db.Where("user_id = ?", userID).Order("id").Find(&records).Error; err != nil {
		return streak.State{}, fmt.Errorf("failed to query streak history: %w", err)
	}
	for _, rec := range records {
		day, err := parseDay(rec.RecordDate)
		if err != nil {
			return streak.State{}, err
		}
		st.History = append(st.History, streak.Record{Kind: streak.RecordKind(rec.Kind), Date: day, Length: rec.Length})
	}
	return st, nil
}

// Save writes the state row and appends the new history records in one
// transaction, guarded by the last_processed_date the caller read. A stale
// writer gets shared.ErrConcurrentModification and writes nothing.
func (r *StreakRepository) Save(ctx context.Context, st streak.State, expected time.Time, appended []streak.Record) error {
	return dbFor(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		m := streakModel{
			UserID:            st.UserID,
			CurrentLength:     st.Current,
			LongestLength:     st.Longest,
			LastActiveDate:    formatDay(st.LastActiveDate),
			StreakStart:       formatDay(st.StreakStart),
			LastProcessedDate: formatDay(st.LastProcessedDate),
			RecoveryUses:      st.RecoveryUses,
			Status:            string(st.Status),
		}
		res := tx.Model(&streakModel{}).
			Where("user_id = ? AND last_processed_date = ?", st.UserID, formatDay(expected)).
			Updates(map[string]any{
				"current_length":      m.CurrentLength,
				"longest_length":      m.LongestLength,
				"last_active_date":    m.LastActiveDate,
				"streak_start":        m.StreakStart,
				"last_processed_date": m.LastProcessedDate,
				"recovery_uses":       m.RecoveryUses,
				"status":              m.Status,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to save streak: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			created := int64(0)
			if expected.IsZero() {
				ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
				if ins.Error != nil {
					return fmt.Errorf("failed to save streak: %w", ins.Error)
				}
				created = ins.RowsAffected
			}
			if created == 0 {
				return shared.NewDomainError("streak", "Save", shared.ErrConcurrentModification,
					"streak was advanced by another writer")
			}
		}

		if len(appended) == 0 {
			return nil
		}
		records := make([]streakRecordModel, len(appended))
		for i, rec := range appended {
			records[i] = streakRecordModel{
				UserID:     st.UserID,
				Kind:       string(rec.Kind),
				RecordDate: formatDay(rec.Date),
				Length:     rec.Length,
			}
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to append streak history: %w", err)
		}
		return nil
	})
}

// currentStreaks returns current lengths for the given users.
func currentStreaks(q *gorm.DB, userIDs []string) (map[string]int, error) {
	var models []streakModel
	if err := q.Select("user_id", "current_length").Where("user_id IN ?", userIDs).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query streaks: %w", err)
	}
	out := make(map[string]int, len(models))
	for _, m := range models {
		out[m.UserID] = m.CurrentLength
	}
	return out, nil
}

func formatDay(day time.Time) string {
	if day.IsZero() {
		return ""
	}
	return timeutil.FormatDate(day)
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return timeutil.ParseDate(value)
}

// ══════════════════════════════════════════════════════════════════════════════
// SKILL SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// SkillRepository implements skill.Repository.
type SkillRepository struct {
	db *gorm.DB
}

var _ skill.Repository = (*SkillRepository)(nil)

func (r *SkillRepository) Get(ctx context.Context, userID string, sk shared.Skill) (skill.Snapshot, error) {
	var m skillModel
	err := dbFor(ctx, r.db).Where("user_id = ? AND skill = ?", userID, string(sk)).First(&m).Error
	if err != nil {
		if isNotFound(err) {
			return skill.Snapshot{}, shared.NewDomainError("skill", "Get", shared.ErrNotFound, "skill snapshot not found")
		}
		return skill.Snapshot{}, fmt.Errorf("failed to get skill snapshot: %w", err)
	}
	return m.toDomain(), nil
}

// ListByUser returns the user's snapshots ordered by skill.
func (r *SkillRepository) ListByUser(ctx context.Context, userID string) ([]skill.Snapshot, error) {
	var models []skillModel
	if err := dbFor(ctx, r.db).Where("user_id = ?", userID).Order("skill").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list skill snapshots: %w", err)
	}
	out := make([]skill.Snapshot, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// Save upserts the snapshot.
func (r *SkillRepository) Save(ctx context.Context, s skill.Snapshot) error {
	m := newSkillModel(s)
	if err := dbFor(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to save skill snapshot: %w", err)
	}
	return nil
}
