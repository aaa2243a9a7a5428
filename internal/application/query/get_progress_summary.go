package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS SUMMARY QUERY
// Сводка прогресса пользователя: серия, навыки, цель дня, поощрения,
// позиция в рейтинге и статистика активности.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressSummaryQuery содержит параметры запроса.
type GetProgressSummaryQuery struct {
	UserID string

	// AsOf - момент, на который строится сводка (нулевое значение - сейчас).
	AsOf time.Time
}

// Validate проверяет корректность параметров запроса.
func (q GetProgressSummaryQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// ActivityStats - статистика выполнений.
type ActivityStats struct {
	TotalCompletions int `json:"total_completions"`
	// Last7Days - выполнения за последние 7 дней, включая сегодня.
	Last7Days int `json:"last_7_days"`
	// ActiveDaysLast30 - дни с активностью из последних 30.
	ActiveDaysLast30 int `json:"active_days_last_30"`
	// AverageScore округлён до 0.1; 0, если выполнений нет.
	AverageScore float64 `json:"average_score"`
}

// SkillDTO - прогресс по одному навыку.
type SkillDTO struct {
	Skill        string  `json:"skill"`
	Level        float64 `json:"level"`
	Target       float64 `json:"target"`
	Gap          float64 `json:"gap"`
	Attempts     int     `json:"attempts"`
	RecentScores []int   `json:"recent_scores,omitempty"`
}

// StreakDTO - состояние серии.
type StreakDTO struct {
	Current           int    `json:"current"`
	Longest           int    `json:"longest"`
	Status            string `json:"status"`
	DaysSinceActivity int    `json:"days_since_activity"`
	AtRisk            bool   `json:"at_risk"`
	RecoveryUses      int    `json:"recovery_uses"`
	Milestones        []int  `json:"milestones_reached"`
	MilestonesEarned  []int  `json:"milestones_earned"`
	NextMilestone     int    `json:"next_milestone,omitempty"`
	DaysToNext        int    `json:"days_to_next,omitempty"`
}

// GoalDTO - цель дня.
type GoalDTO struct {
	Date       string `json:"date"`
	ActivityID string `json:"activity_id"`
	Skill      string `json:"skill"`
	Completed  bool   `json:"completed"`
}

// IncentiveDTO - открытое поощрение.
type IncentiveDTO struct {
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	UnlockedAt time.Time `json:"unlocked_at"`
	Claimed    bool      `json:"claimed"`
}

// RankDTO - позиция в рейтинге когорты.
type RankDTO struct {
	Cohort      string  `json:"cohort"`
	Epoch       int64   `json:"epoch"`
	Rank        int     `json:"rank"`
	Consistency float64 `json:"consistency"`
}

// ProgressSummary - результат запроса.
type ProgressSummary struct {
	UserID              string         `json:"user_id"`
	Username            string         `json:"username"`
	TargetScore         float64        `json:"target_score"`
	TimelineDays        int            `json:"timeline_days"`
	Points              int            `json:"points"`
	ActivitiesCompleted int            `json:"activities_completed"`
	Streak              StreakDTO      `json:"streak"`
	Skills              []SkillDTO     `json:"skills"`
	TodayGoal           *GoalDTO       `json:"today_goal,omitempty"`
	Incentives          []IncentiveDTO `json:"incentives"`
	Leaderboard         *RankDTO       `json:"leaderboard,omitempty"`
	Stats               ActivityStats  `json:"stats"`
}

// GetProgressSummaryHandler обрабатывает запрос сводки.
type GetProgressSummaryHandler struct {
	users       learner.Repository
	streaks     streak.Repository
	tracker     *streak.Tracker
	completions activity.CompletionLog
	skills      skill.Repository
	goals       goal.Repository
	incentives  incentive.Repository
	boards      leaderboard.Repository
}

// NewGetProgressSummaryHandler создаёт обработчик. boards может быть nil.
func NewGetProgressSummaryHandler(
	users learner.Repository,
	streaks streak.Repository,
	tracker *streak.Tracker,
	completions activity.CompletionLog,
	skills skill.Repository,
	goals goal.Repository,
	incentives incentive.Repository,
	boards leaderboard.Repository,
) *GetProgressSummaryHandler {
	return &GetProgressSummaryHandler{
		users:       users,
		streaks:     streaks,
		tracker:     tracker,
		completions: completions,
		skills:      skills,
		goals:       goals,
		incentives:  incentives,
		boards:      boards,
	}
}

// Handle выполняет запрос.
func (h *GetProgressSummaryHandler) Handle(ctx context.Context, q GetProgressSummaryQuery) (*ProgressSummary, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_progress_summary: validation failed: %w", err)
	}
	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	loc := h.tracker.Config().Location
	today := timeutil.CivilDate(asOf, loc)

	user, err := h.users.GetByID(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: failed to get user: %w", err)
	}

	out := &ProgressSummary{
		UserID:              user.ID,
		Username:            user.Username,
		TargetScore:         user.TargetScore,
		TimelineDays:        user.TimelineDays,
		Points:              user.Points,
		ActivitiesCompleted: user.ActivitiesCompleted,
	}

	state, err := h.streaks.Get(ctx, q.UserID)
	switch {
	case shared.IsNotFound(err):
		state = streak.NewState(q.UserID)
	case err != nil:
		return nil, fmt.Errorf("get_progress_summary: failed to get streak: %w", err)
	}
	out.Streak = toStreakDTO(h.tracker.Describe(state, today))

	history, err := h.completions.History(ctx, q.UserID, asOf)
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: failed to load history: %w", err)
	}
	out.Stats = activityStats(history, today, loc)

	if out.Skills, err = h.skillSummary(ctx, user, history); err != nil {
		return nil, err
	}

	g, err := h.goals.Get(ctx, q.UserID, today)
	switch {
	case err == nil:
		out.TodayGoal = &GoalDTO{
			Date:       timeutil.FormatDate(g.Date),
			ActivityID: g.ActivityID,
			Skill:      string(g.Skill),
			Completed:  g.Completed,
		}
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("get_progress_summary: failed to get goal: %w", err)
	}

	unlocks, err := h.incentives.ListByUser(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: failed to list incentives: %w", err)
	}
	out.Incentives = make([]IncentiveDTO, 0, len(unlocks))
	for _, u := range unlocks {
		out.Incentives = append(out.Incentives, IncentiveDTO{
			Kind:       string(u.Kind),
			Title:      u.Kind.Title(),
			UnlockedAt: u.UnlockedAt,
			Claimed:    u.Claimed,
		})
	}

	if h.boards != nil {
		entry, err := h.boards.UserEntry(ctx, q.UserID)
		switch {
		case err == nil:
			out.Leaderboard = &RankDTO{
				Cohort:      entry.Cohort.String(),
				Epoch:       int64(entry.Epoch),
				Rank:        int(entry.Rank),
				Consistency: entry.Consistency,
			}
		case !shared.IsNotFound(err):
			return nil, fmt.Errorf("get_progress_summary: failed to get rank: %w", err)
		}
	}

	return out, nil
}

func (h *GetProgressSummaryHandler) skillSummary(ctx context.Context, user *learner.User, history activity.History) ([]SkillDTO, error) {
	stored, err := h.skills.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: failed to list skills: %w", err)
	}
	snapshots := make(map[shared.Skill]skill.Snapshot, len(stored))
	for _, s := range stored {
		snapshots[s.Skill] = s
	}

	tracked := user.TrackedSkills()
	for _, sk := range tracked {
		if _, ok := snapshots[sk]; !ok {
			snapshots[sk] = skill.NewSnapshot(user.ID, sk, user.Level(sk))
		}
	}

	attempts := make(map[shared.Skill]int)
	for _, c := range history {
		attempts[c.Skill]++
	}

	progress := skill.Summary(user.TargetScore, tracked, snapshots, attempts)
	out := make([]SkillDTO, 0, len(progress))
	for _, p := range progress {
		out = append(out, SkillDTO{
			Skill:        string(p.Skill),
			Level:        p.Level,
			Target:       p.Target,
			Gap:          p.Gap,
			Attempts:     p.Attempts,
			RecentScores: p.RecentScores,
		})
	}
	return out, nil
}

func toStreakDTO(info streak.Info) StreakDTO {
	return StreakDTO{
		Current:           info.Current,
		Longest:           info.Longest,
		Status:            string(info.Status),
		DaysSinceActivity: info.DaysSinceActivity,
		AtRisk:            info.AtRisk,
		RecoveryUses:      info.RecoveryUses,
		Milestones:        info.Reached,
		MilestonesEarned:  info.Earned,
		NextMilestone:     info.NextMilestone,
		DaysToNext:        info.DaysToNext,
	}
}

func activityStats(history activity.History, today time.Time, loc *time.Location) ActivityStats {
	stats := ActivityStats{TotalCompletions: len(history)}
	if len(history) == 0 {
		return stats
	}

	weekStart := timeutil.AddDays(today, -6)
	sum := 0
	for _, c := range history {
		sum += c.Score
		if !timeutil.CivilDate(c.CompletedAt, loc).Before(weekStart) {
			stats.Last7Days++
		}
	}
	stats.AverageScore = math.Round(float64(sum)/float64(len(history))*10) / 10
	stats.ActiveDaysLast30 = history.ActiveDays(loc).CountBetween(timeutil.AddDays(today, -29), today)
	return stats
}
