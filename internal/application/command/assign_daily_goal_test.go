package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

func TestAssignDailyGoal_PicksLargestGapAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, day0, map[shared.Skill]float64{
		shared.SkillReading: 4.0,
		shared.SkillWriting: 6.0,
	})
	f.addActivity(t, "w1", shared.SkillWriting, 10, 10)
	f.addActivity(t, "r-long", shared.SkillReading, 25, 10)
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)

	ctx := context.Background()
	first, err := f.assign.Handle(ctx, AssignDailyGoalCommand{UserID: "u1", AsOf: at(day0, 9)})
	require.NoError(t, err)
	require.True(t, first.Created)

	assert.Equal(t, shared.SkillReading, first.Goal.Skill)
	assert.Equal(t, "r1", first.Goal.ActivityID, "25 minute activity is outside the duration filter")
	assert.Equal(t, day0, first.Goal.Date)
	// reading: gap 3 * 2 + never-practised penalty 3
	assert.InDelta(t, 9.0, first.Scores[shared.SkillReading], 1e-9)
	assert.InDelta(t, 5.0, first.Scores[shared.SkillWriting], 1e-9)

	again, err := f.assign.Handle(ctx, AssignDailyGoalCommand{UserID: "u1", AsOf: at(day0, 20)})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Goal.ID, again.Goal.ID)
	assert.Empty(t, again.Events)

	assert.Equal(t, 1, f.bus.count(shared.EventGoalAssigned))
}

func TestAssignDailyGoal_NewGoalNextDay(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, day0, map[shared.Skill]float64{shared.SkillReading: 4.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)
	f.addActivity(t, "r2", shared.SkillReading, 10, 10)

	ctx := context.Background()
	first, err := f.assign.Handle(ctx, AssignDailyGoalCommand{UserID: "u1", AsOf: at(day0, 9)})
	require.NoError(t, err)
	f.complete(t, "u1", "r1", 80, at(day0, 12))

	next, err := f.assign.Handle(ctx, AssignDailyGoalCommand{UserID: "u1", AsOf: at(day0.AddDate(0, 0, 1), 9)})
	require.NoError(t, err)
	assert.True(t, next.Created)
	assert.NotEqual(t, first.Goal.ID, next.Goal.ID)
	assert.Equal(t, "r2", next.Goal.ActivityID, "r1 was completed within the last 24 hours")
}

func TestAssignDailyGoal_NoEligibleActivity(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, day0, map[shared.Skill]float64{shared.SkillSpeaking: 3.0})
	f.addActivity(t, "w1", shared.SkillWriting, 10, 10)

	_, err := f.assign.Handle(context.Background(), AssignDailyGoalCommand{UserID: "u1", AsOf: at(day0, 9)})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNoEligibleActivity)
	assert.True(t, shared.IsPermanent(err))

	_, err = f.store.Goals().Get(context.Background(), "u1", day0)
	assert.True(t, shared.IsNotFound(err), "nothing is stored on failure")
}

func TestAssignDailyGoal_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.assign.Handle(context.Background(), AssignDailyGoalCommand{})
	assert.Error(t, err)

	_, err = f.assign.Handle(context.Background(), AssignDailyGoalCommand{UserID: "ghost", AsOf: time.Now()})
	assert.True(t, shared.IsNotFound(err))
}
