package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/persistence/memory"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

func TestGetProgressSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	today := timeutil.Date(2025, time.March, 12)

	require.NoError(t, store.Users().Create(ctx, &learner.User{
		ID:                  "u1",
		Username:            "amina",
		TargetScore:         7.0,
		TimelineDays:        60,
		Points:              120,
		ActivitiesCompleted: 3,
		SkillLevels:         map[shared.Skill]float64{shared.SkillReading: 5.0, shared.SkillWriting: 6.5},
		CreatedAt:           today.AddDate(0, 0, -20),
	}))

	scores := []int{70, 85, 90}
	for i, s := range scores {
		require.NoError(t, store.Completions().Append(ctx, activity.Completion{
			ID:          string(rune('a' + i)),
			UserID:      "u1",
			ActivityID:  "r1",
			Skill:       shared.SkillReading,
			Score:       s,
			CompletedAt: today.AddDate(0, 0, -i*5).Add(10 * time.Hour),
		}))
	}

	require.NoError(t, store.Streaks().Save(ctx, streak.State{
		UserID:            "u1",
		Current:           3,
		Longest:           9,
		LastActiveDate:    today.AddDate(0, 0, -1),
		StreakStart:       today.AddDate(0, 0, -3),
		LastProcessedDate: today.AddDate(0, 0, -1),
		Status:            streak.StatusActive,
		History:           []streak.Record{{Kind: streak.RecordMilestone, Date: today.AddDate(0, 0, -10), Length: 7}},
	}, time.Time{}, nil))
	require.NoError(t, store.Skills().Save(ctx, skill.Snapshot{
		UserID: "u1", Skill: shared.SkillReading, Level: 5.04, RecentScores: []int{70, 85, 90}, AppliedCount: 3,
	}))
	require.NoError(t, store.Goals().Create(ctx, &goal.DailyGoal{
		ID: "g1", UserID: "u1", Date: today, ActivityID: "r1", Skill: shared.SkillReading,
	}))
	require.NoError(t, store.Incentives().Create(ctx, incentive.Unlock{
		ID: "i1", UserID: "u1", Kind: incentive.KindCounselingTier1, UnlockedAt: today.AddDate(0, 0, -2),
	}))
	require.NoError(t, store.Leaderboard().ReplaceCohort(ctx, leaderboard.CohortKey{TargetBucket: 7, Timeline: leaderboard.TimelineMedium},
		leaderboard.EpochOf(today), []leaderboard.Entry{{
			Epoch: leaderboard.EpochOf(today), UserID: "u1", Rank: 2, Consistency: 41.5,
			Cohort: leaderboard.CohortKey{TargetBucket: 7, Timeline: leaderboard.TimelineMedium},
		}}))

	h := NewGetProgressSummaryHandler(store.Users(), store.Streaks(), streak.NewTracker(streak.DefaultConfig()),
		store.Completions(), store.Skills(), store.Goals(), store.Incentives(), store.Leaderboard())

	out, err := h.Handle(ctx, GetProgressSummaryQuery{UserID: "u1", AsOf: today.Add(18 * time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, "amina", out.Username)
	assert.Equal(t, 120, out.Points)

	assert.Equal(t, 3, out.Streak.Current)
	assert.Equal(t, 9, out.Streak.Longest)
	assert.Empty(t, out.Streak.Milestones)
	assert.Equal(t, []int{7}, out.Streak.MilestonesEarned, "earned in an earlier streak")
	assert.Equal(t, 7, out.Streak.NextMilestone)
	assert.Equal(t, 4, out.Streak.DaysToNext)
	assert.True(t, out.Streak.AtRisk, "no activity yet on a weekday")

	assert.Equal(t, 3, out.Stats.TotalCompletions)
	assert.Equal(t, 2, out.Stats.Last7Days)
	assert.Equal(t, 3, out.Stats.ActiveDaysLast30)
	assert.InDelta(t, 81.7, out.Stats.AverageScore, 1e-9)

	require.Len(t, out.Skills, 2)
	assert.Equal(t, "reading", out.Skills[0].Skill)
	assert.InDelta(t, 5.0, out.Skills[0].Level, 1e-9)
	assert.Equal(t, 3, out.Skills[0].Attempts)
	assert.Equal(t, "writing", out.Skills[1].Skill)
	assert.InDelta(t, 0.5, out.Skills[1].Gap, 1e-9)

	require.NotNil(t, out.TodayGoal)
	assert.Equal(t, "2025-03-12", out.TodayGoal.Date)
	assert.False(t, out.TodayGoal.Completed)

	require.Len(t, out.Incentives, 1)
	assert.Equal(t, "career_counseling_tier_1", out.Incentives[0].Kind)

	require.NotNil(t, out.Leaderboard)
	assert.Equal(t, 2, out.Leaderboard.Rank)
	assert.Equal(t, "7.0:medium_term", out.Leaderboard.Cohort)
}

func TestGetProgressSummary_NewUser(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u, err := learner.NewUser(learner.NewUserParams{ID: "u2", Username: "bo", TargetScore: 6.5, TimelineDays: 30, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.Users().Create(ctx, u))

	h := NewGetProgressSummaryHandler(store.Users(), store.Streaks(), streak.NewTracker(streak.DefaultConfig()),
		store.Completions(), store.Skills(), store.Goals(), store.Incentives(), nil)

	out, err := h.Handle(ctx, GetProgressSummaryQuery{UserID: "u2"})
	require.NoError(t, err)
	assert.Zero(t, out.Streak.Current)
	assert.Equal(t, string(streak.StatusNoStreak), out.Streak.Status)
	assert.Len(t, out.Skills, 4)
	assert.Nil(t, out.TodayGoal)
	assert.Nil(t, out.Leaderboard)
	assert.Empty(t, out.Incentives)
}
