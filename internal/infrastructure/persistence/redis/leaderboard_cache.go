package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache keeps the current epoch of each cohort in Redis.
//
// Layout per cohort:
//   - Sorted set "leap:leaderboard:rank:{cohort}" maps userID -> rank
//   - Hash "leap:leaderboard:info:{cohort}" maps userID -> entry JSON
//   - String "leap:leaderboard:meta:{cohort}" holds the epoch metadata
//
// A page is one ZRANGE plus one HMGET.
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)

const (
	keyLeaderboardRank = PrefixLeaderboard + "rank:"
	keyLeaderboardInfo = PrefixLeaderboard + "info:"
	keyLeaderboardMeta = PrefixLeaderboard + "meta:"
)

// LeaderboardMeta describes the cached epoch.
type LeaderboardMeta struct {
	Cohort   string    `json:"cohort"`
	Epoch    int64     `json:"epoch"`
	Members  int       `json:"members"`
	StoredAt time.Time `json:"stored_at"`
}

// cachedEntry is the JSON shape of one entry in the info hash.
type cachedEntry struct {
	UserID          string  `json:"user_id"`
	Consistency     float64 `json:"consistency"`
	ActiveScore     float64 `json:"active_score"`
	StreakScore     float64 `json:"streak_score"`
	CompletionScore float64 `json:"completion_score"`
	CurrentStreak   int     `json:"current_streak"`
	Rank            int     `json:"rank"`
	PreviousRank    int     `json:"previous_rank"`
}

func toCachedEntry(e leaderboard.Entry) cachedEntry {
	return cachedEntry{
		UserID:          e.UserID,
		Consistency:     e.Consistency,
		ActiveScore:     e.ActiveScore,
		StreakScore:     e.StreakScore,
		CompletionScore: e.CompletionScore,
		CurrentStreak:   e.CurrentStreak,
		Rank:            int(e.Rank),
		PreviousRank:    int(e.PreviousRank),
	}
}

func (c cachedEntry) toDomain(cohort leaderboard.CohortKey, epoch leaderboard.Epoch) leaderboard.Entry {
	return leaderboard.Entry{
		Epoch:           epoch,
		UserID:          c.UserID,
		Cohort:          cohort,
		Consistency:     c.Consistency,
		ActiveScore:     c.ActiveScore,
		StreakScore:     c.StreakScore,
		CompletionScore: c.CompletionScore,
		CurrentStreak:   c.CurrentStreak,
		Rank:            leaderboard.Rank(c.Rank),
		PreviousRank:    leaderboard.Rank(c.PreviousRank),
	}
}

// NewLeaderboardCache creates a LeaderboardCache.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache, ttl: cache.ttl}
}

// StoreCohort replaces the cached board in one MULTI/EXEC.
func (l *LeaderboardCache) StoreCohort(ctx context.Context, board leaderboard.Board) error {
	cohort := board.Cohort.String()
	rankKey := keyLeaderboardRank + cohort
	infoKey := keyLeaderboardInfo + cohort
	metaKey := keyLeaderboardMeta + cohort

	meta, err := json.Marshal(LeaderboardMeta{
		Cohort:   cohort,
		Epoch:    int64(board.Epoch),
		Members:  len(board.Entries),
		StoredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	zMembers := make([]redis.Z, 0, len(board.Entries))
	hashData := make(map[string]any, len(board.Entries))
	for _, e := range board.Entries {
		data, err := json.Marshal(toCachedEntry(e))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		zMembers = append(zMembers, redis.Z{Score: float64(e.Rank), Member: e.UserID})
		hashData[e.UserID] = data
	}

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, rankKey, infoKey)
	if len(zMembers) > 0 {
		pipe.ZAdd(ctx, rankKey, zMembers...)
		pipe.HSet(ctx, infoKey, hashData)
		pipe.Expire(ctx, rankKey, l.ttl)
		pipe.Expire(ctx, infoKey, l.ttl)
	}
	pipe.Set(ctx, metaKey, meta, l.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store leaderboard %s: %w", cohort, err)
	}
	return nil
}

// GetCohort returns one page of the cached board. A missing board is
// reported as shared.ErrNotFound so callers can tell a miss from an outage.
func (l *LeaderboardCache) GetCohort(ctx context.Context, cohort leaderboard.CohortKey, offset, limit int) (leaderboard.Board, error) {
	key := cohort.String()

	var meta LeaderboardMeta
	if err := l.cache.getJSON(ctx, keyLeaderboardMeta+key, &meta); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return leaderboard.Board{}, shared.WrapError("leaderboard", "GetCohort", shared.ErrNotFound, "cohort not cached", err)
		}
		return leaderboard.Board{}, err
	}

	board := leaderboard.Board{Cohort: cohort, Epoch: leaderboard.Epoch(meta.Epoch), Entries: []leaderboard.Entry{}}
	if meta.Members == 0 || limit <= 0 || offset >= meta.Members {
		return board, nil
	}

	ids, err := l.cache.Client().ZRange(ctx, keyLeaderboardRank+key, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return leaderboard.Board{}, fmt.Errorf("failed to read ranks: %w", err)
	}
	if len(ids) == 0 {
		// Meta outlived the sorted set; treat it as a miss.
		return leaderboard.Board{}, shared.NewDomainError("leaderboard", "GetCohort", shared.ErrNotFound, "cohort cache incomplete")
	}

	values, err := l.cache.Client().HMGet(ctx, keyLeaderboardInfo+key, ids...).Result()
	if err != nil {
		return leaderboard.Board{}, fmt.Errorf("failed to read entries: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return leaderboard.Board{}, shared.NewDomainError("leaderboard", "GetCohort", shared.ErrNotFound,
				"entry missing for "+ids[i])
		}
		var ce cachedEntry
		if err := json.Unmarshal([]byte(raw), &ce); err != nil {
			return leaderboard.Board{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		board.Entries = append(board.Entries, ce.toDomain(cohort, board.Epoch))
	}
	return board, nil
}

// Invalidate drops the cached board of a cohort.
func (l *LeaderboardCache) Invalidate(ctx context.Context, cohort leaderboard.CohortKey) error {
	key := cohort.String()
	return l.cache.Client().Del(ctx, keyLeaderboardRank+key, keyLeaderboardInfo+key, keyLeaderboardMeta+key).Err()
}
