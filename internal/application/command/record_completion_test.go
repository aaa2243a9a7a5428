package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
)

func TestRecordCompletion_CompletesMatchingGoalOnce(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 15)
	f.addActivity(t, "w1", shared.SkillWriting, 10, 5)

	assigned, err := f.assign.Handle(context.Background(), AssignDailyGoalCommand{UserID: "u1", AsOf: at(day0, 9)})
	require.NoError(t, err)
	require.Equal(t, "r1", assigned.Goal.ActivityID)

	other := f.complete(t, "u1", "w1", 70, at(day0, 10))
	assert.False(t, other.GoalCompleted)
	assert.Equal(t, 5, other.PointsEarned)

	hit := f.complete(t, "u1", "r1", 85, at(day0, 11))
	assert.True(t, hit.GoalCompleted)
	assert.Equal(t, 20, hit.TotalPoints)
	assert.Equal(t, 2, hit.TotalActivities)

	repeat := f.complete(t, "u1", "r1", 90, at(day0, 12))
	assert.False(t, repeat.GoalCompleted, "a goal completes only once")

	g, err := f.store.Goals().Get(context.Background(), "u1", day0)
	require.NoError(t, err)
	assert.True(t, g.Completed)
	require.NotNil(t, g.CompletedAt)
	assert.Equal(t, at(day0, 11), *g.CompletedAt)

	u, err := f.store.Users().GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 35, u.Points)
	assert.Equal(t, 3, u.ActivitiesCompleted)
}

func TestRecordCompletion_SkillUpdatesOnEveryFifthAttempt(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)

	for i := 0; i < 4; i++ {
		res := f.complete(t, "u1", "r1", 95, at(day0, 9+i))
		assert.False(t, res.SkillUpdated, "attempt %d", i+1)
	}

	fifth := f.complete(t, "u1", "r1", 95, at(day0, 14))
	require.True(t, fifth.SkillUpdated)
	assert.InDelta(t, 5.0, fifth.OldLevel, 1e-9)
	// five scores of 95: delta 0.3, smoothed by 0.3
	assert.InDelta(t, 5.09, fifth.NewLevel, 1e-9)
	assert.Contains(t, eventTypes(fifth.Events), shared.EventSkillLevelChanged)

	sixth := f.complete(t, "u1", "r1", 95, at(day0, 15))
	assert.False(t, sixth.SkillUpdated)

	u, err := f.store.Users().GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.InDelta(t, 5.09, u.Level(shared.SkillReading), 1e-9)

	snap, err := f.store.Skills().Get(context.Background(), "u1", shared.SkillReading)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.AppliedCount)
	assert.Equal(t, []int{95, 95, 95, 95, 95}, snap.RecentScores)
}

func TestRecordCompletion_SevenDayStreakUnlocksFirstCounseling(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)

	var last *RecordCompletionResult
	for i := 0; i < 7; i++ {
		last = f.complete(t, "u1", "r1", 75, at(day0.AddDate(0, 0, i), 10))
		if i < 6 {
			assert.Empty(t, last.Unlocked, "day %d", i+1)
		}
	}

	assert.Equal(t, 7, last.CurrentStreak)
	require.Len(t, last.Unlocked, 1)
	assert.Equal(t, incentive.KindCounselingTier1, last.Unlocked[0].Kind)
	assert.Equal(t, 7, last.Unlocked[0].Criteria.Streak)
	assert.Contains(t, eventTypes(last.Events), shared.EventStreakMilestone)
	assert.Contains(t, eventTypes(last.Events), shared.EventIncentiveUnlocked)

	st, err := f.store.Streaks().Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, streak.StatusActive, st.Status)
	assert.Equal(t, []int{7}, st.Milestones())
}

func TestRecordCompletion_Rejects(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)
	ctx := context.Background()

	_, err := f.record.Handle(ctx, RecordCompletionCommand{UserID: "u1", ActivityID: "r1", Score: 101})
	assert.ErrorIs(t, err, shared.ErrInvalidScore)

	_, err = f.record.Handle(ctx, RecordCompletionCommand{UserID: "u1", ActivityID: "r1", Score: 50, MinutesSpent: -1})
	assert.True(t, shared.IsValidation(err))

	_, err = f.record.Handle(ctx, RecordCompletionCommand{UserID: "u1", ActivityID: "missing", Score: 50, CompletedAt: at(day0, 9)})
	assert.True(t, shared.IsNotFound(err))

	history, err := f.store.Completions().History(ctx, "u1", at(day0, 23))
	require.NoError(t, err)
	assert.Empty(t, history)
}

// brokenUpdates fails every user update, after the other ingestion writes ran.
type brokenUpdates struct {
	learner.Repository
}

func (brokenUpdates) Update(context.Context, *learner.User) error {
	return shared.ErrServiceUnavailable
}

func TestRecordCompletion_FailedUserUpdateRollsBackIngestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)
	for i := 0; i < 4; i++ {
		f.complete(t, "u1", "r1", 95, at(day0, 9+i))
	}
	day1 := day0.AddDate(0, 0, 1)
	require.NoError(t, f.store.Goals().Create(ctx, &goal.DailyGoal{
		ID: "g1", UserID: "u1", Date: day1, ActivityID: "r1", Skill: shared.SkillReading,
	}))

	broken := NewRecordCompletionHandler(RecordCompletionDeps{
		Users:       brokenUpdates{f.store.Users()},
		Catalog:     f.store.Catalog(),
		Completions: f.store.Completions(),
		Goals:       f.store.Goals(),
		Skills:      f.store.Skills(),
		Estimator:   skill.NewEstimator(skill.DefaultConfig()),
		Streaks:     f.advance,
		Incentives:  f.evaluate,
		Tx:          f.store,
		Publisher:   f.bus,
	})
	cmd := RecordCompletionCommand{UserID: "u1", ActivityID: "r1", Score: 95, MinutesSpent: 10, CompletedAt: at(day1, 10)}
	_, err := broken.Handle(ctx, cmd)
	require.ErrorIs(t, err, shared.ErrServiceUnavailable)

	history, err := f.store.Completions().History(ctx, "u1", at(day1, 23))
	require.NoError(t, err)
	assert.Len(t, history, 4, "the completion is not kept")

	g, err := f.store.Goals().Get(ctx, "u1", day1)
	require.NoError(t, err)
	assert.False(t, g.Completed)

	_, err = f.store.Skills().Get(ctx, "u1", shared.SkillReading)
	assert.True(t, shared.IsNotFound(err), "the fifth-attempt estimate is not kept")

	u, err := f.store.Users().GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, u.Points)
	assert.Equal(t, 4, f.bus.count(shared.EventActivityCompleted))

	// The caller retries once the store is healthy again.
	res, err := f.record.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.GoalCompleted)
	assert.True(t, res.SkillUpdated)
	assert.Equal(t, 50, res.TotalPoints)
}
