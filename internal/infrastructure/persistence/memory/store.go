// Package memory implements every repository port in process memory.
// It backs the command tests and the "--db :memory:" mode of the CLI.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// Store holds all data behind one lock.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	users      map[string]*learner.User
	activities []activity.Activity
	history    map[string][]activity.Completion
	sessions   map[string]activity.GroupSession
	attendance map[string]map[string]activity.Attendance
	goals      map[string]*goal.DailyGoal
	goalByDay  map[string]string
	streaks    map[string]streak.State
	skills     map[string]skill.Snapshot
	boards     map[string]map[leaderboard.Epoch][]leaderboard.Entry
	unlocks    map[string]incentive.Unlock
	locks      map[string]time.Time

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:      make(map[string]*learner.User),
		history:    make(map[string][]activity.Completion),
		sessions:   make(map[string]activity.GroupSession),
		attendance: make(map[string]map[string]activity.Attendance),
		goals:      make(map[string]*goal.DailyGoal),
		goalByDay:  make(map[string]string),
		streaks:    make(map[string]streak.State),
		skills:     make(map[string]skill.Snapshot),
		boards:     make(map[string]map[leaderboard.Epoch][]leaderboard.Entry),
		unlocks:    make(map[string]incentive.Unlock),
		locks:      make(map[string]time.Time),
		now:        time.Now,
	}
}

func key(parts ...string) string { return strings.Join(parts, "|") }

// Repositories returns typed views over the store.
func (s *Store) Users() *UserRepository             { return &UserRepository{s} }
func (s *Store) Catalog() *CatalogRepository        { return &CatalogRepository{s} }
func (s *Store) Completions() *CompletionRepository { return &CompletionRepository{s} }
func (s *Store) Attendance() *AttendanceRepository  { return &AttendanceRepository{s} }
func (s *Store) Goals() *GoalRepository             { return &GoalRepository{s} }
func (s *Store) Streaks() *StreakRepository         { return &StreakRepository{s} }
func (s *Store) Skills() *SkillRepository           { return &SkillRepository{s} }
func (s *Store) Leaderboard() *LeaderboardRepository {
	return &LeaderboardRepository{s}
}
func (s *Store) Incentives() *IncentiveRepository { return &IncentiveRepository{s} }
func (s *Store) Locker() *Locker                  { return &Locker{s} }

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements learner.Repository.
type UserRepository struct{ s *Store }

var _ learner.Repository = (*UserRepository)(nil)

func (r *UserRepository) Create(_ context.Context, u *learner.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return shared.ErrUserAlreadyExists
	}
	for _, existing := range r.s.users {
		if existing.Username == u.Username {
			return shared.ErrUserAlreadyExists
		}
	}
	r.s.users[u.ID] = u.Clone()
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*learner.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (r *UserRepository) Update(_ context.Context, u *learner.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; !ok {
		return shared.ErrUserNotFound
	}
	r.s.users[u.ID] = u.Clone()
	return nil
}

func (r *UserRepository) List(_ context.Context) ([]*learner.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*learner.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG, COMPLETIONS, ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements activity.Catalog.
type CatalogRepository struct{ s *Store }

var _ activity.Catalog = (*CatalogRepository)(nil)

func (r *CatalogRepository) Add(_ context.Context, a *activity.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.activities {
		if existing.ID == a.ID {
			return shared.NewDomainError("activity", "Add", shared.ErrAlreadyExists, "activity already exists")
		}
	}
	a.Seq = int64(len(r.s.activities) + 1)
	r.s.activities = append(r.s.activities, *a)
	return nil
}

func (r *CatalogRepository) Get(_ context.Context, id string) (*activity.Activity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.activities {
		if a.ID == id {
			a := a
			return &a, nil
		}
	}
	return nil, shared.ErrActivityNotFound
}

func (r *CatalogRepository) List(_ context.Context) ([]activity.Activity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]activity.Activity(nil), r.s.activities...), nil
}

func (r *CatalogRepository) ListBySkill(_ context.Context, sk shared.Skill) ([]activity.Activity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []activity.Activity
	for _, a := range r.s.activities {
		if a.Skill == sk {
			out = append(out, a)
		}
	}
	return out, nil
}

// CompletionRepository implements activity.CompletionLog.
type CompletionRepository struct{ s *Store }

var _ activity.CompletionLog = (*CompletionRepository)(nil)

func (r *CompletionRepository) Append(_ context.Context, c activity.Completion) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.history[c.UserID] = append(r.s.history[c.UserID], c)
	return nil
}

func (r *CompletionRepository) History(_ context.Context, userID string, asOf time.Time) (activity.History, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.historyLocked(userID, asOf), nil
}

func (s *Store) historyLocked(userID string, asOf time.Time) activity.History {
	return activity.SortHistory(append([]activity.Completion(nil), s.history[userID]...)).Until(asOf)
}

// AttendanceRepository implements activity.AttendanceLog.
type AttendanceRepository struct{ s *Store }

var _ activity.AttendanceLog = (*AttendanceRepository)(nil)

func (r *AttendanceRepository) AddSession(_ context.Context, gs activity.GroupSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[gs.ID] = gs
	return nil
}

func (r *AttendanceRepository) RecordAttendance(_ context.Context, a activity.Attendance) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[a.SessionID]; !ok {
		return shared.NewDomainError("activity", "RecordAttendance", shared.ErrNotFound, "group session not found")
	}
	if r.s.attendance[a.UserID] == nil {
		r.s.attendance[a.UserID] = make(map[string]activity.Attendance)
	}
	r.s.attendance[a.UserID][a.SessionID] = a
	return nil
}

func (r *AttendanceRepository) Attendance(_ context.Context, userID string, asOf time.Time) ([]activity.Attendance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []activity.Attendance
	for _, a := range r.s.attendance[userID] {
		if !a.AttendedAt.After(asOf) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GOALS, STREAKS, SKILLS
// ══════════════════════════════════════════════════════════════════════════════

// GoalRepository implements goal.Repository.
type GoalRepository struct{ s *Store }

var _ goal.Repository = (*GoalRepository)(nil)

func (r *GoalRepository) Get(_ context.Context, userID string, date time.Time) (*goal.DailyGoal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.goalByDay[key(userID, timeutil.FormatDate(date))]
	if !ok {
		return nil, shared.ErrGoalNotFound
	}
	g := *r.s.goals[id]
	return &g, nil
}

func (r *GoalRepository) Create(_ context.Context, g *goal.DailyGoal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key(g.UserID, timeutil.FormatDate(g.Date))
	if _, ok := r.s.goalByDay[k]; ok {
		return shared.NewDomainError("goal", "Create", shared.ErrAlreadyExists, "goal already assigned for date")
	}
	stored := *g
	r.s.goals[g.ID] = &stored
	r.s.goalByDay[k] = g.ID
	return nil
}

func (r *GoalRepository) MarkCompleted(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.goals[id]
	if !ok {
		return shared.ErrGoalNotFound
	}
	g.MarkCompleted(at)
	return nil
}

func (r *GoalRepository) ListBetween(_ context.Context, userID string, from, to time.Time) ([]goal.DailyGoal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.goalsBetweenLocked(userID, from, to), nil
}

func (s *Store) goalsBetweenLocked(userID string, from, to time.Time) []goal.DailyGoal {
	var out []goal.DailyGoal
	for _, g := range s.goals {
		if g.UserID == userID && !g.Date.Before(from) && !g.Date.After(to) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// StreakRepository implements streak.Repository.
type StreakRepository struct{ s *Store }

var _ streak.Repository = (*StreakRepository)(nil)

func (r *StreakRepository) Get(_ context.Context, userID string) (streak.State, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.streaks[userID]
	if !ok {
		return streak.State{}, shared.NewDomainError("streak", "Get", shared.ErrNotFound, "streak not found")
	}
	st.History = append([]streak.Record(nil), st.History...)
	return st, nil
}

func (r *StreakRepository) Save(_ context.Context, st streak.State, expected time.Time, _ []streak.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.streaks[st.UserID]
	if (ok && !current.LastProcessedDate.Equal(expected)) || (!ok && !expected.IsZero()) {
		return shared.NewDomainError("streak", "Save", shared.ErrConcurrentModification,
			"streak was advanced by another writer")
	}
	st.History = append([]streak.Record(nil), st.History...)
	r.s.streaks[st.UserID] = st
	return nil
}

// SkillRepository implements skill.Repository.
type SkillRepository struct{ s *Store }

var _ skill.Repository = (*SkillRepository)(nil)

func (r *SkillRepository) Get(_ context.Context, userID string, sk shared.Skill) (skill.Snapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	snap, ok := r.s.skills[key(userID, string(sk))]
	if !ok {
		return skill.Snapshot{}, shared.NewDomainError("skill", "Get", shared.ErrNotFound, "skill snapshot not found")
	}
	return snap, nil
}

func (r *SkillRepository) ListByUser(_ context.Context, userID string) ([]skill.Snapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []skill.Snapshot
	for _, snap := range r.s.skills {
		if snap.UserID == userID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Skill < out[j].Skill })
	return out, nil
}

func (r *SkillRepository) Save(_ context.Context, snap skill.Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snap.RecentScores = append([]int(nil), snap.RecentScores...)
	r.s.skills[key(snap.UserID, string(snap.Skill))] = snap
	return nil
}
