package goal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

var today = timeutil.Date(2025, time.March, 12)

func asOf() time.Time { return today.Add(9 * time.Hour) }

func user(target float64, levels map[shared.Skill]float64) *learner.User {
	return &learner.User{ID: "u1", Username: "amina", TargetScore: target, TimelineDays: 60, SkillLevels: levels}
}

func act(id string, skill shared.Skill, minutes int, seq int64) activity.Activity {
	return activity.Activity{ID: id, Title: id, Skill: skill, Difficulty: activity.DifficultyIntermediate, DurationMinutes: minutes, Points: 10, Seq: seq}
}

func done(activityID string, skill shared.Skill, at time.Time) activity.Completion {
	return activity.Completion{ID: activityID + at.String(), UserID: "u1", ActivityID: activityID, Skill: skill, Score: 80, CompletedAt: at}
}

func TestChoose_PrefersNeverPractisedLargerGap(t *testing.T) {
	u := user(7.0, map[shared.Skill]float64{shared.SkillReading: 4.0, shared.SkillWriting: 6.0})
	catalog := []activity.Activity{
		act("w1", shared.SkillWriting, 10, 1),
		act("r1", shared.SkillReading, 10, 2),
	}
	history := activity.History{done("w1", shared.SkillWriting, today.Add(-14*time.Hour))}

	d, err := NewAssigner(DefaultConfig()).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog, History: history})
	require.NoError(t, err)

	assert.Equal(t, shared.SkillReading, d.Skill)
	assert.Equal(t, "r1", d.Activity.ID)
	assert.InDelta(t, 3.0, d.Rationale.Gap, 1e-9)
	// never practised: max(0.1 observed, 30 days * 0.1)
	assert.InDelta(t, 3.0, d.Rationale.Penalty, 1e-9)
	assert.InDelta(t, 9.0, d.Rationale.Priority, 1e-9)
	assert.False(t, d.Rationale.Rotated)
	// writing: (1*2 + 0.1) halved for yesterday's practice
	assert.InDelta(t, 1.05, d.Scores[shared.SkillWriting], 1e-9)
}

func TestChoose_RotationSkippedForOnlySkillWithGap(t *testing.T) {
	u := user(6.0, map[shared.Skill]float64{shared.SkillReading: 6.5, shared.SkillWriting: 5.0})
	catalog := []activity.Activity{act("w1", shared.SkillWriting, 10, 1), act("r1", shared.SkillReading, 10, 2)}
	history := activity.History{
		done("r1", shared.SkillReading, today.Add(-5*24*time.Hour)),
		done("w1", shared.SkillWriting, today.Add(-12*time.Hour)),
	}

	d, err := NewAssigner(DefaultConfig()).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog, History: history})
	require.NoError(t, err)
	assert.Equal(t, shared.SkillWriting, d.Skill)
	assert.False(t, d.Rationale.Rotated)
	assert.InDelta(t, 2.1, d.Rationale.Priority, 1e-9)
}

func TestChoose_TieBreaksByGapThenName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecencyWeight = 0

	t.Run("larger gap wins on equal priority", func(t *testing.T) {
		// reading: gap 2 * 2 = 4, halved by rotation -> 2; listening: gap 1 * 2 = 2
		u := user(5.0, map[shared.Skill]float64{shared.SkillListening: 4.0, shared.SkillReading: 3.0})
		catalog := []activity.Activity{act("l1", shared.SkillListening, 10, 1), act("r1", shared.SkillReading, 10, 2)}
		history := activity.History{done("r1", shared.SkillReading, today.Add(-10*time.Hour))}

		d, err := NewAssigner(cfg).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog, History: history})
		require.NoError(t, err)
		assert.Equal(t, shared.SkillReading, d.Skill)
	})

	t.Run("name wins on equal gap", func(t *testing.T) {
		u := user(5.0, map[shared.Skill]float64{shared.SkillWriting: 3.0, shared.SkillSpeaking: 3.0})
		catalog := []activity.Activity{act("w1", shared.SkillWriting, 10, 1), act("s1", shared.SkillSpeaking, 10, 2)}

		d, err := NewAssigner(cfg).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog})
		require.NoError(t, err)
		assert.Equal(t, shared.SkillSpeaking, d.Skill)
	})
}

func TestChoose_ActivitySelection(t *testing.T) {
	u := user(7.0, map[shared.Skill]float64{shared.SkillReading: 4.0})

	t.Run("duration window is inclusive", func(t *testing.T) {
		catalog := []activity.Activity{
			act("too-short", shared.SkillReading, 4, 1),
			act("too-long", shared.SkillReading, 16, 2),
			act("max", shared.SkillReading, 15, 3),
		}
		d, err := NewAssigner(DefaultConfig()).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog})
		require.NoError(t, err)
		assert.Equal(t, "max", d.Activity.ID)
	})

	t.Run("fewest completions then catalog order", func(t *testing.T) {
		catalog := []activity.Activity{
			act("r1", shared.SkillReading, 10, 1),
			act("r2", shared.SkillReading, 10, 2),
			act("r3", shared.SkillReading, 10, 3),
		}
		old := today.Add(-5 * 24 * time.Hour)
		history := activity.History{
			done("r1", shared.SkillReading, old),
			done("r1", shared.SkillReading, old.Add(time.Hour)),
			done("r2", shared.SkillReading, old.Add(2*time.Hour)),
		}
		d, err := NewAssigner(DefaultConfig()).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog, History: history})
		require.NoError(t, err)
		assert.Equal(t, "r3", d.Activity.ID)
	})

	t.Run("recently completed excluded when alternative exists", func(t *testing.T) {
		catalog := []activity.Activity{act("r1", shared.SkillReading, 10, 1), act("r2", shared.SkillReading, 10, 2)}
		history := activity.History{
			done("r2", shared.SkillReading, today.Add(-10*24*time.Hour)),
			done("r2", shared.SkillReading, today.Add(-9*24*time.Hour)),
			done("r1", shared.SkillReading, asOf().Add(-2*time.Hour)),
		}
		d, err := NewAssigner(DefaultConfig()).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog, History: history})
		require.NoError(t, err)
		assert.Equal(t, "r2", d.Activity.ID)
	})

	t.Run("recent activity kept when it is the only one", func(t *testing.T) {
		catalog := []activity.Activity{act("r1", shared.SkillReading, 10, 1)}
		history := activity.History{done("r1", shared.SkillReading, asOf().Add(-time.Hour))}
		d, err := NewAssigner(DefaultConfig()).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog, History: history})
		require.NoError(t, err)
		assert.Equal(t, "r1", d.Activity.ID)
	})
}

func TestChoose_NoEligibleActivity(t *testing.T) {
	u := user(7.0, map[shared.Skill]float64{shared.SkillReading: 4.0})
	catalog := []activity.Activity{act("w1", shared.SkillWriting, 10, 1), act("r-long", shared.SkillReading, 40, 2)}

	_, err := NewAssigner(DefaultConfig()).Choose(Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNoEligibleActivity)
	assert.True(t, shared.IsPermanent(err))

	_, err = NewAssigner(DefaultConfig()).Choose(Input{User: user(7.0, nil), Today: today, AsOf: asOf(), Catalog: catalog})
	assert.ErrorIs(t, err, shared.ErrNoEligibleActivity)
}

func TestChoose_Deterministic(t *testing.T) {
	u := user(7.5, map[shared.Skill]float64{
		shared.SkillListening: 5, shared.SkillReading: 5, shared.SkillSpeaking: 5, shared.SkillWriting: 5,
	})
	catalog := []activity.Activity{
		act("l1", shared.SkillListening, 10, 1), act("r1", shared.SkillReading, 10, 2),
		act("s1", shared.SkillSpeaking, 10, 3), act("w1", shared.SkillWriting, 10, 4),
	}
	in := Input{User: u, Today: today, AsOf: asOf(), Catalog: catalog}
	a := NewAssigner(DefaultConfig())

	first, err := a.Choose(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := a.Choose(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, shared.SkillListening, first.Skill)
}
