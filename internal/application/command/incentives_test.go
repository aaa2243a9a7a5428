package command

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

func TestEvaluateIncentives_UnlocksOnceByPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Users().Create(ctx, &learner.User{
		ID: "u1", Username: "u1", TargetScore: 7, TimelineDays: 60, Points: 500, CreatedAt: day0,
	}))

	first, err := f.evaluate.Handle(ctx, EvaluateIncentivesCommand{UserID: "u1", AsOf: at(day0, 12)})
	require.NoError(t, err)
	require.Len(t, first.Unlocked, 1)
	assert.Equal(t, incentive.KindCounselingTier1, first.Unlocked[0].Kind)
	assert.Equal(t, incentive.UnlockID("u1", incentive.KindCounselingTier1), first.Unlocked[0].ID)

	second, err := f.evaluate.Handle(ctx, EvaluateIncentivesCommand{UserID: "u1", AsOf: at(day0, 13)})
	require.NoError(t, err)
	assert.Empty(t, second.Unlocked)
	assert.Equal(t, 1, f.bus.count(shared.EventIncentiveUnlocked))
}

func TestEvaluateIncentives_GroupPriorityFromAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", 7.0, 60, day0, map[shared.Skill]float64{shared.SkillSpeaking: 5})

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, f.store.Attendance().AddSession(ctx, activity.GroupSession{
			ID: id, Title: id, Skill: shared.SkillSpeaking, ScheduledAt: at(day0, 18),
		}))
		require.NoError(t, f.store.Attendance().RecordAttendance(ctx, activity.Attendance{
			SessionID: id, UserID: "u1", Participation: 0.8, AttendedAt: at(day0.AddDate(0, 0, i), 18),
		}))
	}

	early, err := f.evaluate.Handle(ctx, EvaluateIncentivesCommand{UserID: "u1", AsOf: at(day0.AddDate(0, 0, 3), 20)})
	require.NoError(t, err)
	assert.Empty(t, early.Unlocked, "four sessions attended")
	assert.Equal(t, 4, early.Input.SessionsAttended)

	res, err := f.evaluate.Handle(ctx, EvaluateIncentivesCommand{UserID: "u1", AsOf: at(day0.AddDate(0, 0, 4), 20)})
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, incentive.KindGroupPriority, res.Unlocked[0].Kind)
	assert.InDelta(t, 0.8, res.Unlocked[0].Criteria.AvgParticipation, 1e-9)
}

func TestClaimIncentive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Users().Create(ctx, &learner.User{
		ID: "u1", Username: "u1", TargetScore: 7, TimelineDays: 60, Points: 600, CreatedAt: day0,
	}))
	_, err := f.evaluate.Handle(ctx, EvaluateIncentivesCommand{UserID: "u1", AsOf: at(day0, 12)})
	require.NoError(t, err)

	claimed, err := f.claim.Handle(ctx, ClaimIncentiveCommand{
		UserID: "u1", Kind: string(incentive.KindCounselingTier1), At: at(day0, 14),
	})
	require.NoError(t, err)
	assert.True(t, claimed.Unlock.Claimed)
	require.NotNil(t, claimed.Unlock.ClaimedAt)
	assert.Equal(t, at(day0, 14), *claimed.Unlock.ClaimedAt)

	stored, err := f.store.Incentives().Get(ctx, "u1", incentive.KindCounselingTier1)
	require.NoError(t, err)
	assert.True(t, stored.Claimed)

	_, err = f.claim.Handle(ctx, ClaimIncentiveCommand{UserID: "u1", Kind: string(incentive.KindCounselingTier1)})
	assert.ErrorIs(t, err, shared.ErrAlreadyClaimed)

	_, err = f.claim.Handle(ctx, ClaimIncentiveCommand{UserID: "u1", Kind: string(incentive.KindPremiumContent)})
	assert.True(t, shared.IsNotFound(err), "not unlocked yet")

	_, err = f.claim.Handle(ctx, ClaimIncentiveCommand{UserID: "u1", Kind: "free_exam"})
	assert.ErrorIs(t, err, shared.ErrUnknownIncentive)
	assert.Equal(t, 1, f.bus.count(shared.EventIncentiveClaimed))
}
