package incentive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

var now = time.Date(2025, 2, 10, 18, 0, 0, 0, time.UTC)

func kindsOf(us []Unlock) []Kind {
	out := make([]Kind, len(us))
	for i, u := range us {
		out[i] = u.Kind
	}
	return out
}

func allSkills(n int) map[shared.Skill]int {
	m := make(map[shared.Skill]int)
	for _, sk := range shared.AllSkills() {
		m[sk] = n
	}
	return m
}

func TestEvaluate_Tier1ByStreakAlone(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	got := e.Evaluate(Input{UserID: "u1", Streak: 7, Activities: 25, Points: 450}, nil, now)

	require.Len(t, got, 1)
	assert.Equal(t, KindCounselingTier1, got[0].Kind)
	assert.Equal(t, now, got[0].UnlockedAt)
	assert.Equal(t, Criteria{Streak: 7, Activities: 25, Points: 450}, got[0].Criteria)
	assert.False(t, got[0].Claimed)
}

func TestEvaluate_Thresholds(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want []Kind
	}{
		{"nothing", Input{Streak: 6, Activities: 29, Points: 499}, nil},
		{"tier1 by activities", Input{Activities: 30}, []Kind{KindCounselingTier1}},
		{"tier1 by points", Input{Points: 500}, []Kind{KindCounselingTier1}},
		{"both tiers by points", Input{Points: 2000}, []Kind{KindCounselingTier1, KindCounselingTier2}},
		{"tier2 by activities", Input{Activities: 100}, []Kind{KindCounselingTier1, KindCounselingTier2}},
		{
			"premium needs every tracked skill",
			Input{Streak: 14, TrackedSkills: shared.AllSkills(), SkillAttempts: map[shared.Skill]int{
				shared.SkillListening: 5, shared.SkillReading: 5, shared.SkillSpeaking: 5, shared.SkillWriting: 4,
			}},
			[]Kind{KindCounselingTier1},
		},
		{
			"premium",
			Input{Streak: 14, TrackedSkills: shared.AllSkills(), SkillAttempts: allSkills(5)},
			[]Kind{KindCounselingTier1, KindPremiumContent},
		},
		{"premium without tracked skills", Input{Streak: 14}, []Kind{KindCounselingTier1}},
		{"group priority", Input{SessionsAttended: 5, AvgParticipation: 0.7}, []Kind{KindGroupPriority}},
		{"group participation too low", Input{SessionsAttended: 9, AvgParticipation: 0.69}, nil},
		{"group too few sessions", Input{SessionsAttended: 4, AvgParticipation: 1}, nil},
	}

	e := NewEvaluator(DefaultConfig())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.UserID = "u1"
			got := e.Evaluate(tc.in, nil, now)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, kindsOf(got))
		})
	}
}

func TestEvaluate_NeverReunlocks(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	in := Input{UserID: "u1", Streak: 40, TrackedSkills: shared.AllSkills(), SkillAttempts: allSkills(9)}

	first := e.Evaluate(in, nil, now)
	assert.Equal(t, []Kind{KindCounselingTier1, KindCounselingTier2, KindPremiumContent}, kindsOf(first))

	assert.Empty(t, e.Evaluate(in, first, now.Add(time.Hour)))

	partial := e.Evaluate(in, first[:1], now)
	assert.Equal(t, []Kind{KindCounselingTier2, KindPremiumContent}, kindsOf(partial))
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	in := Input{UserID: "u1", Points: 2500}
	assert.Equal(t, e.Evaluate(in, nil, now), e.Evaluate(in, nil, now))
	assert.Equal(t, UnlockID("u1", KindCounselingTier1), e.Evaluate(in, nil, now)[0].ID)
	assert.NotEqual(t, UnlockID("u1", KindCounselingTier1), UnlockID("u2", KindCounselingTier1))
}

func TestUnlockClaim(t *testing.T) {
	u := Unlock{UserID: "u1", Kind: KindGroupPriority}
	require.NoError(t, u.Claim(now))
	assert.True(t, u.Claimed)
	assert.Equal(t, now, *u.ClaimedAt)

	err := u.Claim(now.Add(time.Minute))
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)
	assert.Equal(t, now, *u.ClaimedAt)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("premium_content")
	require.NoError(t, err)
	assert.Equal(t, KindPremiumContent, k)

	_, err = ParseKind("free_lunch")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
