package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/persistence/memory"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// Monday.
var day0 = timeutil.Date(2025, time.March, 3)

func at(day time.Time, hour int) time.Time {
	return day.Add(time.Duration(hour) * time.Hour)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

func eventTypes(events []shared.Event) []shared.EventType {
	out := make([]shared.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType())
	}
	return out
}

type fixture struct {
	store *memory.Store
	bus   *recordingPublisher

	assign   *AssignDailyGoalHandler
	advance  *AdvanceStreakHandler
	evaluate *EvaluateIncentivesHandler
	claim    *ClaimIncentiveHandler
	record   *RecordCompletionHandler
	rebuild  *RebuildLeaderboardHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	bus := &recordingPublisher{}

	f := &fixture{store: store, bus: bus}
	f.assign = NewAssignDailyGoalHandler(store.Users(), store.Catalog(), store.Completions(), store.Goals(),
		goal.NewAssigner(goal.DefaultConfig()), bus, nil)
	f.advance = NewAdvanceStreakHandler(store.Users(), store.Completions(), store.Streaks(),
		streak.NewTracker(streak.DefaultConfig()), bus, nil)
	f.evaluate = NewEvaluateIncentivesHandler(store.Users(), store.Streaks(), store.Completions(), store.Attendance(),
		store.Incentives(), incentive.NewEvaluator(incentive.DefaultConfig()), bus, nil)
	f.claim = NewClaimIncentiveHandler(store.Incentives(), bus, nil)
	f.record = NewRecordCompletionHandler(RecordCompletionDeps{
		Users:       store.Users(),
		Catalog:     store.Catalog(),
		Completions: store.Completions(),
		Goals:       store.Goals(),
		Skills:      store.Skills(),
		Estimator:   skill.NewEstimator(skill.DefaultConfig()),
		Streaks:     f.advance,
		Incentives:  f.evaluate,
		Tx:          store,
		Publisher:   bus,
	})
	f.rebuild = NewRebuildLeaderboardHandler(store.Users(), store.Leaderboard(), store.Leaderboard(), nil, store.Locker(),
		leaderboard.NewRanker(leaderboard.DefaultConfig()), bus, nil, RebuildLeaderboardConfig{})
	return f
}

func (f *fixture) addUser(t *testing.T, id string, target float64, timeline int, created time.Time, levels map[shared.Skill]float64) *learner.User {
	t.Helper()
	u := &learner.User{
		ID:           id,
		Username:     id,
		TargetScore:  target,
		TimelineDays: timeline,
		SkillLevels:  levels,
		CreatedAt:    created,
	}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) addActivity(t *testing.T, id string, sk shared.Skill, minutes, points int) {
	t.Helper()
	require.NoError(t, f.store.Catalog().Add(context.Background(), &activity.Activity{
		ID:              id,
		Title:           id,
		Skill:           sk,
		Difficulty:      activity.DifficultyIntermediate,
		DurationMinutes: minutes,
		Points:          points,
	}))
}

func (f *fixture) complete(t *testing.T, userID, activityID string, score int, when time.Time) *RecordCompletionResult {
	t.Helper()
	res, err := f.record.Handle(context.Background(), RecordCompletionCommand{
		UserID:       userID,
		ActivityID:   activityID,
		Score:        score,
		MinutesSpent: 10,
		CompletedAt:  when,
	})
	require.NoError(t, err)
	return res
}
