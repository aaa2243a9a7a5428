package leaderboard

import (
	"context"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// StatsReader собирает статистику участников когорты.
// Все участники читаются из одного согласованного снимка данных,
// чтобы рейтинг не смешивал устаревшее и свежее состояние.
type StatsReader interface {
	CohortStats(ctx context.Context, members []*learner.User, w Window) ([]MemberStats, error)
}

// Repository хранит записи рейтинга по эпохам.
type Repository interface {
	// ReplaceCohort атомарно заменяет записи когорты в эпохе: либо все, либо ничего.
	// Записи прошлых эпох сохраняются.
	ReplaceCohort(ctx context.Context, cohort CohortKey, epoch Epoch, entries []Entry) error

	// Current возвращает последнюю эпоху когорты (shared.ErrNotFound, если её нет).
	Current(ctx context.Context, cohort CohortKey) (Board, error)

	// PreviousRanks возвращает ранги последней эпохи строго до before.
	PreviousRanks(ctx context.Context, cohort CohortKey, before Epoch) (map[string]Rank, error)

	// UserEntry возвращает последнюю запись пользователя в любой когорте.
	UserEntry(ctx context.Context, userID string) (Entry, error)
}

// Cache - быстрый read-model рейтинга.
type Cache interface {
	StoreCohort(ctx context.Context, board Board) error
	// GetCohort возвращает shared.ErrNotFound при промахе.
	GetCohort(ctx context.Context, cohort CohortKey, offset, limit int) (Board, error)
}

// Locker не даёт двум процессам одновременно пересчитывать одну когорту.
type Locker interface {
	// TryLock возвращает shared.ErrConcurrentModification, если блокировка занята.
	TryLock(ctx context.Context, cohort CohortKey, ttl time.Duration) (unlock func(context.Context) error, err error)
}
