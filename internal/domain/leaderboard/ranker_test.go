package leaderboard

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
)

var base = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserID
	}
	return out
}

func TestScore_Components(t *testing.T) {
	r := NewRanker(DefaultConfig())

	e := r.Score(MemberStats{UserID: "u1", ActiveDays: 15, CurrentStreak: 45, GoalsAssigned: 4, GoalsCompleted: 3})
	assert.Equal(t, 20.0, e.ActiveScore)
	assert.Equal(t, 30.0, e.StreakScore, "streak is capped at the period length")
	assert.Equal(t, 22.5, e.CompletionScore)
	assert.Equal(t, 72.5, e.Consistency)

	none := r.Score(MemberStats{UserID: "u2", ActiveDays: 3})
	assert.Equal(t, 0.0, none.CompletionScore, "no assigned goals scores zero")
	assert.Equal(t, 4.0, none.Consistency)
}

func TestScore_RoundsToCents(t *testing.T) {
	r := NewRanker(DefaultConfig())
	e := r.Score(MemberStats{UserID: "u1", ActiveDays: 7, CurrentStreak: 1, GoalsAssigned: 3, GoalsCompleted: 1})
	// 9.333… + 1 + 10
	assert.Equal(t, 20.33, e.Consistency)
}

func TestScore_NeverExceedsHundred(t *testing.T) {
	r := NewRanker(DefaultConfig())
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		assigned := rng.Intn(40)
		completed := 0
		if assigned > 0 {
			completed = rng.Intn(assigned + 1)
		}
		e := r.Score(MemberStats{
			UserID:         "u",
			ActiveDays:     rng.Intn(31),
			CurrentStreak:  rng.Intn(400),
			GoalsAssigned:  assigned,
			GoalsCompleted: completed,
		})
		assert.LessOrEqual(t, e.Consistency, 100.0)
		assert.GreaterOrEqual(t, e.Consistency, 0.0)
	}
}

func TestRank_TieBreaks(t *testing.T) {
	r := NewRanker(DefaultConfig())

	members := []MemberStats{
		// c and d share score, streak and tenure: user id decides.
		{UserID: "d", CreatedAt: base, ActiveDays: 10, CurrentStreak: 2},
		{UserID: "c", CreatedAt: base, ActiveDays: 10, CurrentStreak: 2},
		// b joined earlier than c/d with the same numbers.
		{UserID: "b", CreatedAt: base.Add(-time.Hour), ActiveDays: 10, CurrentStreak: 2},
		{UserID: "top", CreatedAt: base, ActiveDays: 30, CurrentStreak: 30, GoalsAssigned: 1, GoalsCompleted: 1},
	}
	got := r.Rank(members)

	require.Len(t, got, 4)
	assert.Equal(t, []string{"top", "b", "c", "d"}, ids(got))
	for i, e := range got {
		assert.Equal(t, Rank(i+1), e.Rank)
	}
	assert.Equal(t, 100.0, got[0].Consistency)
}

func TestRank_StreakBreaksScoreTie(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StreakWeight = 0
	r := NewRanker(cfg)

	got := r.Rank([]MemberStats{
		{UserID: "a", CreatedAt: base, ActiveDays: 5, CurrentStreak: 1},
		{UserID: "b", CreatedAt: base.Add(time.Hour), ActiveDays: 5, CurrentStreak: 4},
	})
	assert.Equal(t, []string{"b", "a"}, ids(got))
}

func TestRank_EmptyCohort(t *testing.T) {
	got := NewRanker(DefaultConfig()).Rank(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRank_Deterministic(t *testing.T) {
	r := NewRanker(DefaultConfig())
	members := make([]MemberStats, 0, 50)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		members = append(members, MemberStats{
			UserID:        string(rune('A' + i)),
			CreatedAt:     base.Add(time.Duration(rng.Intn(3)) * time.Hour),
			ActiveDays:    rng.Intn(5),
			CurrentStreak: rng.Intn(3),
		})
	}
	first := r.Rank(members)

	shuffled := append([]MemberStats(nil), members...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	assert.Equal(t, first, r.Rank(shuffled))

	seen := make(map[Rank]bool)
	for _, e := range first {
		assert.False(t, seen[e.Rank], "duplicate rank %d", e.Rank)
		seen[e.Rank] = true
	}
}

func TestCohortFor(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		target   float64
		timeline int
		want     CohortKey
	}{
		{6.7, 28, CohortKey{6.5, TimelineShort}},
		{7.0, 29, CohortKey{7.0, TimelineMedium}},
		{7.4, 84, CohortKey{7.0, TimelineMedium}},
		{5.5, 85, CohortKey{5.5, TimelineLong}},
	}
	for _, tc := range cases {
		u := &learner.User{ID: "u", TargetScore: tc.target, TimelineDays: tc.timeline}
		assert.Equal(t, tc.want, cfg.CohortFor(u), "target %.1f timeline %d", tc.target, tc.timeline)
	}
}

func TestParseCohortKey(t *testing.T) {
	key := CohortKey{TargetBucket: 6.5, Timeline: TimelineMedium}
	assert.Equal(t, "6.5:medium_term", key.String())

	parsed, err := ParseCohortKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	assert.Equal(t, "7.0:short_term", CohortKey{TargetBucket: 7, Timeline: TimelineShort}.String())

	_, err = ParseCohortKey("6.5")
	assert.Error(t, err)
	_, err = ParseCohortKey("6.5:forever")
	assert.Error(t, err)
}

func TestParseCohortKey_NarrowBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetBucketWidth = 0.25

	for _, target := range []float64{6.25, 6.7, 7.75, 8.9} {
		key := cfg.CohortFor(&learner.User{ID: "u", TargetScore: target, TimelineDays: 60})
		parsed, err := ParseCohortKey(key.String())
		require.NoError(t, err)
		assert.Equal(t, key, parsed, "target %v encodes as %s", target, key)
	}
	assert.Equal(t, "6.25:medium_term", CohortKey{TargetBucket: 6.25, Timeline: TimelineMedium}.String())

	cfg.TargetBucketWidth = 0.1
	assert.Equal(t, "6.7:medium_term", cfg.CohortFor(&learner.User{ID: "u", TargetScore: 6.75, TimelineDays: 60}).String())
}

func TestStampAndChange(t *testing.T) {
	entries := []Entry{{UserID: "a", Rank: 1}, {UserID: "b", Rank: 2}}
	key := CohortKey{TargetBucket: 7, Timeline: TimelineShort}

	Stamp(entries, key, EpochOf(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)), map[string]Rank{"a": 3})

	assert.Equal(t, Epoch(20250309), entries[0].Epoch)
	assert.Equal(t, key, entries[1].Cohort)
	assert.Equal(t, RankChange(2), entries[0].Change())
	assert.True(t, entries[1].IsNew())
	assert.Equal(t, RankChange(0), entries[1].Change())
}

func TestBoardPage(t *testing.T) {
	b := Board{Entries: []Entry{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}}}
	assert.Equal(t, []string{"b", "c"}, ids(b.Page(1, 10)))
	assert.Equal(t, []string{"a"}, ids(b.Page(0, 1)))
	assert.Nil(t, b.Page(5, 1))
}
