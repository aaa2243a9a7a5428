package memory

import (
	"context"
	"sort"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository, leaderboard.StatsReader
// and leaderboard.Cache. The cache view reads the same epochs as the repository.
type LeaderboardRepository struct{ s *Store }

var (
	_ leaderboard.Repository  = (*LeaderboardRepository)(nil)
	_ leaderboard.StatsReader = (*LeaderboardRepository)(nil)
	_ leaderboard.Cache       = (*LeaderboardRepository)(nil)
)

// CohortStats reads every member under one read lock, which gives the
// whole cohort a single consistent snapshot.
func (r *LeaderboardRepository) CohortStats(_ context.Context, members []*learner.User, w leaderboard.Window) ([]leaderboard.MemberStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	asOf := w.End()
	out := make([]leaderboard.MemberStats, 0, len(members))
	for _, u := range members {
		history := r.s.historyLocked(u.ID, asOf)
		goals := r.s.goalsBetweenLocked(u.ID, w.From, w.To)
		current := 0
		if st, ok := r.s.streaks[u.ID]; ok {
			current = st.Current
		}
		out = append(out, leaderboard.CollectStats(u, history, goals, current, w))
	}
	return out, nil
}

func (r *LeaderboardRepository) ReplaceCohort(_ context.Context, cohort leaderboard.CohortKey, epoch leaderboard.Epoch, entries []leaderboard.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := cohort.String()
	if r.s.boards[k] == nil {
		r.s.boards[k] = make(map[leaderboard.Epoch][]leaderboard.Entry)
	}
	r.s.boards[k][epoch] = append([]leaderboard.Entry{}, entries...)
	return nil
}

func (r *LeaderboardRepository) Current(_ context.Context, cohort leaderboard.CohortKey) (leaderboard.Board, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	epochs := r.s.boards[cohort.String()]
	var latest leaderboard.Epoch
	for e := range epochs {
		if e > latest {
			latest = e
		}
	}
	if latest == 0 {
		return leaderboard.Board{}, shared.NewDomainError("leaderboard", "Current", shared.ErrNotFound, "cohort has no epoch")
	}
	return leaderboard.Board{
		Cohort:  cohort,
		Epoch:   latest,
		Entries: append([]leaderboard.Entry{}, epochs[latest]...),
	}, nil
}

func (r *LeaderboardRepository) PreviousRanks(_ context.Context, cohort leaderboard.CohortKey, before leaderboard.Epoch) (map[string]leaderboard.Rank, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	epochs := r.s.boards[cohort.String()]
	var prev leaderboard.Epoch
	for e := range epochs {
		if e < before && e > prev {
			prev = e
		}
	}
	out := make(map[string]leaderboard.Rank)
	for _, e := range epochs[prev] {
		out[e.UserID] = e.Rank
	}
	return out, nil
}

func (r *LeaderboardRepository) UserEntry(_ context.Context, userID string) (leaderboard.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var (
		found bool
		best  leaderboard.Entry
	)
	for _, epochs := range r.s.boards {
		for epoch, entries := range epochs {
			if found && epoch <= best.Epoch {
				continue
			}
			for _, e := range entries {
				if e.UserID == userID {
					best, found = e, true
					break
				}
			}
		}
	}
	if !found {
		return leaderboard.Entry{}, shared.NewDomainError("leaderboard", "UserEntry", shared.ErrNotFound, "user is not ranked")
	}
	return best, nil
}

// StoreCohort is a no-op: the cache view serves the stored epochs directly.
func (r *LeaderboardRepository) StoreCohort(context.Context, leaderboard.Board) error {
	return nil
}

func (r *LeaderboardRepository) GetCohort(ctx context.Context, cohort leaderboard.CohortKey, offset, limit int) (leaderboard.Board, error) {
	board, err := r.Current(ctx, cohort)
	if err != nil {
		return leaderboard.Board{}, err
	}
	board.Entries = board.Page(offset, limit)
	return board, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCKER
// ══════════════════════════════════════════════════════════════════════════════

// Locker implements leaderboard.Locker with expiring in-process locks.
type Locker struct{ s *Store }

var _ leaderboard.Locker = (*Locker)(nil)

func (l *Locker) TryLock(_ context.Context, cohort leaderboard.CohortKey, ttl time.Duration) (func(context.Context) error, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	k := cohort.String()
	now := l.s.now()
	if exp, ok := l.s.locks[k]; ok && now.Before(exp) {
		return nil, shared.NewDomainError("leaderboard", "TryLock", shared.ErrConcurrentModification, "cohort rebuild already running")
	}
	l.s.locks[k] = now.Add(ttl)
	return func(context.Context) error {
		l.s.mu.Lock()
		defer l.s.mu.Unlock()
		delete(l.s.locks, k)
		return nil
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INCENTIVES
// ══════════════════════════════════════════════════════════════════════════════

// IncentiveRepository implements incentive.Repository.
type IncentiveRepository struct{ s *Store }

var _ incentive.Repository = (*IncentiveRepository)(nil)

func (r *IncentiveRepository) ListByUser(_ context.Context, userID string) ([]incentive.Unlock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []incentive.Unlock
	for _, u := range r.s.unlocks {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (r *IncentiveRepository) Create(_ context.Context, u incentive.Unlock) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key(u.UserID, string(u.Kind))
	if _, ok := r.s.unlocks[k]; ok {
		return shared.NewDomainError("incentive", "Create", shared.ErrAlreadyExists, "incentive already unlocked")
	}
	r.s.unlocks[k] = u
	return nil
}

func (r *IncentiveRepository) Get(_ context.Context, userID string, kind incentive.Kind) (incentive.Unlock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.unlocks[key(userID, string(kind))]
	if !ok {
		return incentive.Unlock{}, shared.ErrUnlockNotFound
	}
	return u, nil
}

func (r *IncentiveRepository) MarkClaimed(_ context.Context, userID string, kind incentive.Kind, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key(userID, string(kind))
	u, ok := r.s.unlocks[k]
	if !ok {
		return shared.ErrUnlockNotFound
	}
	if err := u.Claim(at); err != nil {
		return err
	}
	r.s.unlocks[k] = u
	return nil
}
