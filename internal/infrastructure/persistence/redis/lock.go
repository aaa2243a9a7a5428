package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CohortLocker implements leaderboard.Locker with SET NX PX.
type CohortLocker struct {
	cache *Cache
}

var _ leaderboard.Locker = (*CohortLocker)(nil)

// NewCohortLocker creates a CohortLocker.
func NewCohortLocker(cache *Cache) *CohortLocker {
	return &CohortLocker{cache: cache}
}

// TryLock acquires the rebuild lock of a cohort. The returned unlock is a
// no-op once the TTL has passed and someone else holds the lock.
func (l *CohortLocker) TryLock(ctx context.Context, cohort leaderboard.CohortKey, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	key := LockKey("cohort:" + cohort.String())
	token := uuid.NewString()

	ok, err := l.cache.Client().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, shared.NewDomainError("leaderboard", "Lock", shared.ErrConcurrentModification,
			"cohort "+cohort.String()+" is being rebuilt")
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
