package memory

import (
	"context"
	"maps"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

var _ shared.Transactor = (*Store)(nil)

// WithinTx implements shared.Transactor. Transactions run one at a time; a
// failed one restores every table to the state it found. Writes made outside
// a transaction while one is open are rolled back with it.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	saved := s.tablesLocked()
	s.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			s.restore(saved)
			panic(r)
		}
		if err != nil {
			s.restore(saved)
		}
	}()
	return fn(ctx)
}

// tablesLocked copies every table WithinTx can roll back. Completion slices
// are append-only and keep their backing arrays.
func (s *Store) tablesLocked() *Store {
	c := &Store{
		activities: s.activities[:len(s.activities):len(s.activities)],
		history:    maps.Clone(s.history),
		sessions:   maps.Clone(s.sessions),
		attendance: make(map[string]map[string]activity.Attendance, len(s.attendance)),
		users:      make(map[string]*learner.User, len(s.users)),
		goals:      make(map[string]*goal.DailyGoal, len(s.goals)),
		goalByDay:  maps.Clone(s.goalByDay),
		streaks:    maps.Clone(s.streaks),
		skills:     maps.Clone(s.skills),
		boards:     make(map[string]map[leaderboard.Epoch][]leaderboard.Entry, len(s.boards)),
		unlocks:    maps.Clone(s.unlocks),
	}
	for id, u := range s.users {
		c.users[id] = u.Clone()
	}
	for id, g := range s.goals {
		cp := *g
		c.goals[id] = &cp
	}
	for user, sessions := range s.attendance {
		c.attendance[user] = maps.Clone(sessions)
	}
	for cohort, epochs := range s.boards {
		c.boards[cohort] = maps.Clone(epochs)
	}
	return c
}

func (s *Store) restore(saved *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = saved.users
	s.activities = saved.activities
	s.history = saved.history
	s.sessions = saved.sessions
	s.attendance = saved.attendance
	s.goals = saved.goals
	s.goalByDay = saved.goalByDay
	s.streaks = saved.streaks
	s.skills = saved.skills
	s.boards = saved.boards
	s.unlocks = saved.unlocks
}
