package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "leap:lock:cohort:6.5:short_term", LockKey("cohort:6.5:short_term"))
	assert.Equal(t, "leap:events:streak.extended", PubSubChannel("streak.extended"))
	assert.Equal(t, "leap:events:*", Pattern())
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}

func TestCachedEntry_KeepsRankMovement(t *testing.T) {
	cohort := leaderboard.CohortKey{TargetBucket: 7, Timeline: leaderboard.TimelineLong}
	in := leaderboard.Entry{
		Epoch: 20250301, UserID: "u1", Cohort: cohort,
		Consistency: 62.5, ActiveScore: 20, StreakScore: 12.5, CompletionScore: 30,
		CurrentStreak: 5, Rank: 2, PreviousRank: 4,
	}

	out := toCachedEntry(in).toDomain(cohort, 20250301)
	assert.Equal(t, in, out)
	assert.Equal(t, leaderboard.RankChange(2), out.Change())
}

func TestNewCache_UnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 1
	cfg.MaxRetries = -1
	cfg.DialTimeout = 200 * time.Millisecond

	_, err := NewCache(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheConnection)
}
