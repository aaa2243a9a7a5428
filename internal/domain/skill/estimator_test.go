package skill

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

var at = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func window(scores ...int) activity.History {
	h := make(activity.History, len(scores))
	for i, s := range scores {
		h[i] = activity.Completion{
			ID:          string(rune('a' + i)),
			UserID:      "u1",
			ActivityID:  "r1",
			Skill:       shared.SkillReading,
			Score:       s,
			CompletedAt: at.Add(time.Duration(i-len(scores)) * time.Hour),
		}
	}
	return h
}

func TestAdjustmentTiers(t *testing.T) {
	cases := []struct {
		score int
		want  float64
	}{
		{100, 0.3}, {90, 0.3}, {89, 0.2}, {80, 0.2}, {79, 0.1}, {70, 0.1},
		{69, 0.0}, {60, 0.0}, {59, -0.1}, {50, -0.1}, {49, -0.2}, {0, -0.2},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, Adjustment(tc.score), 1e-12, "score %d", tc.score)
	}
}

func TestUpdate_SmoothsTowardWindowAverage(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	s := NewSnapshot("u1", shared.SkillReading, 5.0)

	got := e.Update(s, window(95, 92, 88, 91, 85, 60, 55, 70, 65, 72), 10, at)

	// mean adjustment is 1.4 / 10 = 0.14; 0.7*5 + 0.3*(5+0.14) = 5.042
	assert.InDelta(t, 5.042, got.Level, 1e-9)
	assert.Equal(t, []int{95, 92, 88, 91, 85, 60, 55, 70, 65, 72}, got.RecentScores)
	assert.Equal(t, 10, got.AppliedCount)
	assert.Equal(t, at, got.UpdatedAt)
}

func TestUpdate_UsesMostRecentWindowOnly(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	s := NewSnapshot("u1", shared.SkillReading, 5.0)

	// The two oldest scores fall out of the 10-wide window.
	got := e.Update(s, window(0, 0, 95, 95, 95, 95, 95, 95, 95, 95, 95, 95), 12, at)
	assert.Len(t, got.RecentScores, 10)
	assert.InDelta(t, 5.0+0.3*0.3, got.Level, 1e-9)
}

func TestUpdate_ClampsChangeAndBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChange = 0.05
	e := NewEstimator(cfg)

	up := e.Update(NewSnapshot("u1", shared.SkillReading, 5.0), window(95, 95, 95), 5, at)
	assert.InDelta(t, 5.05, up.Level, 1e-9)

	down := e.Update(NewSnapshot("u1", shared.SkillReading, 5.0), window(10, 10, 10), 5, at)
	assert.InDelta(t, 4.95, down.Level, 1e-9)

	d := NewEstimator(DefaultConfig())
	assert.Equal(t, 9.0, d.Update(NewSnapshot("u1", shared.SkillReading, 9.0), window(99, 99), 5, at).Level)
	assert.Equal(t, 0.0, d.Update(NewSnapshot("u1", shared.SkillReading, 0.0), window(5, 5), 5, at).Level)
}

func TestUpdate_Idempotent(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	s := NewSnapshot("u1", shared.SkillWriting, 6.3)
	w := window(81, 44, 73, 90)

	first := e.Update(s, w, 5, at)
	second := e.Update(s, w, 5, at)
	assert.Equal(t, first, second)
}

func TestUpdate_EmptyWindowKeepsLevel(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	got := e.Update(NewSnapshot("u1", shared.SkillSpeaking, 4.5), nil, 0, at)
	assert.Equal(t, 4.5, got.Level)
}

func TestUpdate_BoundsHoldForRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cfg := DefaultConfig()
	cfg.Alpha = 1.0
	cfg.MaxChange = 0.5
	e := NewEstimator(cfg)

	for i := 0; i < 2000; i++ {
		level := rng.Float64() * 9
		scores := make([]int, 1+rng.Intn(15))
		for j := range scores {
			scores[j] = rng.Intn(101)
		}
		got := e.Update(NewSnapshot("u1", shared.SkillListening, level), window(scores...), 5, at)

		assert.GreaterOrEqual(t, got.Level, 0.0)
		assert.LessOrEqual(t, got.Level, 9.0)
		assert.LessOrEqual(t, math.Abs(got.Level-level), 0.5+1e-12)
	}
}

func TestShouldUpdate(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	s := NewSnapshot("u1", shared.SkillReading, 5)

	assert.False(t, e.ShouldUpdate(s, 4))
	assert.True(t, e.ShouldUpdate(s, 5))
	assert.False(t, e.ShouldUpdate(s, 6))

	s.AppliedCount = 5
	assert.False(t, e.ShouldUpdate(s, 5), "same trigger is never applied twice")
	assert.True(t, e.ShouldUpdate(s, 10))
}

func TestSummary(t *testing.T) {
	snaps := map[shared.Skill]Snapshot{
		shared.SkillReading: {Level: 5.04, RecentScores: []int{80}},
		shared.SkillWriting: {Level: 7.5},
	}
	out := Summary(7.0, []shared.Skill{shared.SkillReading, shared.SkillWriting}, snaps,
		map[shared.Skill]int{shared.SkillReading: 6})

	assert.Len(t, out, 2)
	assert.Equal(t, 5.0, out[0].Level)
	assert.Equal(t, 2.0, out[0].Gap)
	assert.Equal(t, 6, out[0].Attempts)
	assert.Equal(t, 0.0, out[1].Gap)
}
