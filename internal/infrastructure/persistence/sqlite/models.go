package sqlite

import (
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// Instants are int64 Unix nanoseconds; calendar days are YYYY-MM-DD text.

type schemaMeta struct {
	ID            uint `gorm:"primaryKey"`
	SchemaVersion int
}

func (schemaMeta) TableName() string { return "schema_meta" }

// ══════════════════════════════════════════════════════════════════════════════
// LEARNERS AND ACTIVITY LOG
// ══════════════════════════════════════════════════════════════════════════════

type userModel struct {
	ID                  string             `gorm:"primaryKey;size:64"`
	Username            string             `gorm:"size:100;uniqueIndex"`
	TargetScore         float64            `gorm:"not null"`
	TimelineDays        int                `gorm:"not null"`
	SkillLevels         map[string]float64 `gorm:"serializer:json;type:text"`
	Points              int                `gorm:"not null;default:0"`
	ActivitiesCompleted int                `gorm:"not null;default:0"`
	CreatedAt           int64              `gorm:"index;autoCreateTime:false"`
}

func (userModel) TableName() string { return "users" }

func newUserModel(u *learner.User) userModel {
	levels := make(map[string]float64, len(u.SkillLevels))
	for sk, v := range u.SkillLevels {
		levels[string(sk)] = v
	}
	return userModel{
		ID:                  u.ID,
		Username:            u.Username,
		TargetScore:         u.TargetScore,
		TimelineDays:        u.TimelineDays,
		SkillLevels:         levels,
		Points:              u.Points,
		ActivitiesCompleted: u.ActivitiesCompleted,
		CreatedAt:           toNanos(u.CreatedAt),
	}
}

func (m userModel) toDomain() *learner.User {
	levels := make(map[shared.Skill]float64, len(m.SkillLevels))
	for sk, v := range m.SkillLevels {
		levels[shared.Skill(sk)] = v
	}
	return &learner.User{
		ID:                  m.ID,
		Username:            m.Username,
		TargetScore:         m.TargetScore,
		TimelineDays:        m.TimelineDays,
		SkillLevels:         levels,
		Points:              m.Points,
		ActivitiesCompleted: m.ActivitiesCompleted,
		CreatedAt:           fromNanos(m.CreatedAt),
	}
}

type activityModel struct {
	Seq             int64  `gorm:"primaryKey;autoIncrement"`
	ID              string `gorm:"size:64;uniqueIndex"`
	Title           string `gorm:"size:255"`
	Skill           string `gorm:"size:20;index"`
	Difficulty      string `gorm:"size:20"`
	DurationMinutes int
	Points          int
}

func (activityModel) TableName() string { return "activities" }

func (m activityModel) toDomain() activity.Activity {
	return activity.Activity{
		ID:              m.ID,
		Title:           m.Title,
		Skill:           shared.Skill(m.Skill),
		Difficulty:      activity.Difficulty(m.Difficulty),
		DurationMinutes: m.DurationMinutes,
		Points:          m.Points,
		Seq:             m.Seq,
	}
}

type completionModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	UserID       string `gorm:"size:64;index:idx_completions_user_time,priority:1"`
	ActivityID   string `gorm:"size:64"`
	Skill        string `gorm:"size:20"`
	Score        int
	MinutesSpent int
	CompletedAt  int64 `gorm:"index:idx_completions_user_time,priority:2"`
}

func (completionModel) TableName() string { return "completions" }

func newCompletionModel(c activity.Completion) completionModel {
	return completionModel{
		ID:           c.ID,
		UserID:       c.UserID,
		ActivityID:   c.ActivityID,
		Skill:        string(c.Skill),
		Score:        c.Score,
		MinutesSpent: c.MinutesSpent,
		CompletedAt:  toNanos(c.CompletedAt),
	}
}

func (m completionModel) toDomain() activity.Completion {
	return activity.Completion{
		ID:           m.ID,
		UserID:       m.UserID,
		ActivityID:   m.ActivityID,
		Skill:        shared.Skill(m.Skill),
		Score:        m.Score,
		MinutesSpent: m.MinutesSpent,
		CompletedAt:  fromNanos(m.CompletedAt),
	}
}

type groupSessionModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Title       string `gorm:"size:255"`
	Skill       string `gorm:"size:20"`
	ScheduledAt int64
}

func (groupSessionModel) TableName() string { return "group_sessions" }

type attendanceModel struct {
	SessionID     string `gorm:"primaryKey;size:64"`
	UserID        string `gorm:"primaryKey;size:64;index"`
	Participation float64
	AttendedAt    int64
}

func (attendanceModel) TableName() string { return "attendance" }

func (m attendanceModel) toDomain() activity.Attendance {
	return activity.Attendance{
		SessionID:     m.SessionID,
		UserID:        m.UserID,
		Participation: m.Participation,
		AttendedAt:    fromNanos(m.AttendedAt),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

type goalModel struct {
	ID          string         `gorm:"primaryKey;size:64"`
	UserID      string         `gorm:"size:64;uniqueIndex:idx_goal_user_day,priority:1"`
	GoalDate    string         `gorm:"size:10;uniqueIndex:idx_goal_user_day,priority:2"`
	ActivityID  string         `gorm:"size:64"`
	Skill       string         `gorm:"size:20"`
	Rationale   goal.Rationale `gorm:"serializer:json;type:text"`
	Completed   bool
	CompletedAt *int64
	AssignedAt  int64
}

func (goalModel) TableName() string { return "daily_goals" }

func newGoalModel(g *goal.DailyGoal) goalModel {
	return goalModel{
		ID:          g.ID,
		UserID:      g.UserID,
		GoalDate:    timeutil.FormatDate(g.Date),
		ActivityID:  g.ActivityID,
		Skill:       string(g.Skill),
		Rationale:   g.Rationale,
		Completed:   g.Completed,
		CompletedAt: toNanosPtr(g.CompletedAt),
		AssignedAt:  toNanos(g.AssignedAt),
	}
}

func (m goalModel) toDomain() (goal.DailyGoal, error) {
	date, err := timeutil.ParseDate(m.GoalDate)
	if err != nil {
		return goal.DailyGoal{}, err
	}
	return goal.DailyGoal{
		ID:          m.ID,
		UserID:      m.UserID,
		Date:        date,
		ActivityID:  m.ActivityID,
		Skill:       shared.Skill(m.Skill),
		Rationale:   m.Rationale,
		Completed:   m.Completed,
		CompletedAt: fromNanosPtr(m.CompletedAt),
		AssignedAt:  fromNanos(m.AssignedAt),
	}, nil
}

type streakModel struct {
	UserID            string `gorm:"primaryKey;size:64"`
	CurrentLength     int
	LongestLength     int
	LastActiveDate    string `gorm:"size:10"`
	StreakStart       string `gorm:"size:10"`
	LastProcessedDate string `gorm:"size:10"`
	RecoveryUses      int
	Status            string `gorm:"size:20"`
	UpdatedAt         time.Time
}

func (streakModel) TableName() string { return "streaks" }

type streakRecordModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	UserID     string `gorm:"size:64;index"`
	Kind       string `gorm:"size:20"`
	RecordDate string `gorm:"size:10"`
	Length     int
}

func (streakRecordModel) TableName() string { return "streak_history" }

type skillModel struct {
	UserID       string  `gorm:"primaryKey;size:64"`
	Skill        string  `gorm:"primaryKey;size:20"`
	Level        float64 `gorm:"not null"`
	RecentScores []int   `gorm:"serializer:json;type:text"`
	AppliedCount int
	UpdatedAt    int64 `gorm:"autoUpdateTime:false"`
}

func (skillModel) TableName() string { return "skill_snapshots" }

func newSkillModel(s skill.Snapshot) skillModel {
	return skillModel{
		UserID:       s.UserID,
		Skill:        string(s.Skill),
		Level:        s.Level,
		RecentScores: append([]int{}, s.RecentScores...),
		AppliedCount: s.AppliedCount,
		UpdatedAt:    toNanos(s.UpdatedAt),
	}
}

func (m skillModel) toDomain() skill.Snapshot {
	return skill.Snapshot{
		UserID:       m.UserID,
		Skill:        shared.Skill(m.Skill),
		Level:        m.Level,
		RecentScores: append([]int{}, m.RecentScores...),
		AppliedCount: m.AppliedCount,
		UpdatedAt:    fromNanos(m.UpdatedAt),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD AND INCENTIVES
// ══════════════════════════════════════════════════════════════════════════════

type entryModel struct {
	Cohort          string `gorm:"primaryKey;size:40"`
	Epoch           int64  `gorm:"primaryKey"`
	UserID          string `gorm:"primaryKey;size:64;index"`
	TargetBucket    float64
	Timeline        string `gorm:"size:20"`
	Consistency     float64
	ActiveScore     float64
	StreakScore     float64
	CompletionScore float64
	CurrentStreak   int
	Rank            int
	PreviousRank    int
}

func (entryModel) TableName() string { return "leaderboard_entries" }

func newEntryModel(cohort leaderboard.CohortKey, epoch leaderboard.Epoch, e leaderboard.Entry) entryModel {
	return entryModel{
		Cohort:          cohort.String(),
		Epoch:           int64(epoch),
		UserID:          e.UserID,
		TargetBucket:    cohort.TargetBucket,
		Timeline:        string(cohort.Timeline),
		Consistency:     e.Consistency,
		ActiveScore:     e.ActiveScore,
		StreakScore:     e.StreakScore,
		CompletionScore: e.CompletionScore,
		CurrentStreak:   e.CurrentStreak,
		Rank:            int(e.Rank),
		PreviousRank:    int(e.PreviousRank),
	}
}

func (m entryModel) toDomain() leaderboard.Entry {
	return leaderboard.Entry{
		Epoch:           leaderboard.Epoch(m.Epoch),
		UserID:          m.UserID,
		Cohort:          leaderboard.CohortKey{TargetBucket: m.TargetBucket, Timeline: leaderboard.Timeline(m.Timeline)},
		Consistency:     m.Consistency,
		ActiveScore:     m.ActiveScore,
		StreakScore:     m.StreakScore,
		CompletionScore: m.CompletionScore,
		CurrentStreak:   m.CurrentStreak,
		Rank:            leaderboard.Rank(m.Rank),
		PreviousRank:    leaderboard.Rank(m.PreviousRank),
	}
}

// epochModel marks that a cohort was rebuilt for an epoch, even with no members.
type epochModel struct {
	Cohort    string `gorm:"primaryKey;size:40"`
	Epoch     int64  `gorm:"primaryKey"`
	Members   int
	RebuiltAt time.Time
}

func (epochModel) TableName() string { return "leaderboard_epochs" }

type unlockModel struct {
	ID         string             `gorm:"primaryKey;size:64"`
	UserID     string             `gorm:"size:64;uniqueIndex:idx_unlock_user_kind,priority:1"`
	Kind       string             `gorm:"size:40;uniqueIndex:idx_unlock_user_kind,priority:2"`
	UnlockedAt int64              `gorm:"index"`
	Criteria   incentive.Criteria `gorm:"serializer:json;type:text"`
	Claimed    bool
	ClaimedAt  *int64
}

func (unlockModel) TableName() string { return "incentive_unlocks" }

func newUnlockModel(u incentive.Unlock) unlockModel {
	return unlockModel{
		ID:         u.ID,
		UserID:     u.UserID,
		Kind:       string(u.Kind),
		UnlockedAt: toNanos(u.UnlockedAt),
		Criteria:   u.Criteria,
		Claimed:    u.Claimed,
		ClaimedAt:  toNanosPtr(u.ClaimedAt),
	}
}

func (m unlockModel) toDomain() incentive.Unlock {
	return incentive.Unlock{
		ID:         m.ID,
		UserID:     m.UserID,
		Kind:       incentive.Kind(m.Kind),
		UnlockedAt: fromNanos(m.UnlockedAt),
		Criteria:   m.Criteria,
		Claimed:    m.Claimed,
		ClaimedAt:  fromNanosPtr(m.ClaimedAt),
	}
}
