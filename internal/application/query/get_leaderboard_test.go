package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/persistence/memory"
	"github.com/leap-ielts/leap-engagement/pkg/circuitbreaker"
)

var cohort = leaderboard.CohortKey{TargetBucket: 6.5, Timeline: leaderboard.TimelineShort}

type brokenCache struct{ calls int }

func (c *brokenCache) StoreCohort(context.Context, leaderboard.Board) error {
	c.calls++
	return errors.New("redis: connection refused")
}

func (c *brokenCache) GetCohort(context.Context, leaderboard.CohortKey, int, int) (leaderboard.Board, error) {
	c.calls++
	return leaderboard.Board{}, errors.New("redis: connection refused")
}

func seedBoard(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	entries := make([]leaderboard.Entry, n)
	for i := range entries {
		entries[i] = leaderboard.Entry{
			Epoch:        20250317,
			UserID:       string(rune('a' + i)),
			Cohort:       cohort,
			Consistency:  float64(100 - i*10),
			Rank:         leaderboard.Rank(i + 1),
			PreviousRank: leaderboard.Rank(n - i),
		}
	}
	require.NoError(t, store.Leaderboard().ReplaceCohort(context.Background(), cohort, 20250317, entries))
}

func TestGetLeaderboard_FromRepository(t *testing.T) {
	store := memory.NewStore()
	seedBoard(t, store, 5)
	h := NewGetLeaderboardHandler(store.Leaderboard(), nil, nil, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Cohort: cohort, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "6.5:short_term", res.Cohort)
	assert.Equal(t, int64(20250317), res.Epoch)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, 2, res.Entries[0].Rank)
	assert.Equal(t, "b", res.Entries[0].UserID)
	assert.Equal(t, 2, res.Entries[0].RankChange)
}

func TestGetLeaderboard_CacheHit(t *testing.T) {
	store := memory.NewStore()
	seedBoard(t, store, 3)
	h := NewGetLeaderboardHandler(store.Leaderboard(), store.Leaderboard(), nil, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Cohort: cohort})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Len(t, res.Entries, 3)
}

func TestGetLeaderboard_BrokenCacheFallsBack(t *testing.T) {
	store := memory.NewStore()
	seedBoard(t, store, 3)
	cache := &brokenCache{}
	breaker := circuitbreaker.CacheBreaker(nil)
	h := NewGetLeaderboardHandler(store.Leaderboard(), cache, breaker, nil)

	for i := 0; i < 10; i++ {
		res, err := h.Handle(context.Background(), GetLeaderboardQuery{Cohort: cohort})
		require.NoError(t, err)
		assert.False(t, res.FromCache)
		assert.Len(t, res.Entries, 3)
	}
	assert.Less(t, cache.calls, 20, "open breaker stops calling the cache")
}

func TestGetLeaderboard_UnknownCohortIsEmpty(t *testing.T) {
	h := NewGetLeaderboardHandler(memory.NewStore().Leaderboard(), nil, nil, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Cohort: cohort})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Zero(t, res.Epoch)
}

func TestGetLeaderboardQuery_Validate(t *testing.T) {
	q := GetLeaderboardQuery{Cohort: cohort, Limit: 500}
	require.NoError(t, q.Validate())
	assert.Equal(t, 100, q.Limit)

	q = GetLeaderboardQuery{Cohort: cohort}
	require.NoError(t, q.Validate())
	assert.Equal(t, 20, q.Limit)

	q = GetLeaderboardQuery{Cohort: leaderboard.CohortKey{TargetBucket: 6.5, Timeline: "forever"}}
	assert.Error(t, q.Validate())

	q = GetLeaderboardQuery{Cohort: cohort, Offset: -1}
	assert.Error(t, q.Validate())
}
