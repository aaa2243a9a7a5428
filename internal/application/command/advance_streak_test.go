package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
)

func TestAdvanceStreak_WeekdayGapBreaks(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)

	f.complete(t, "u1", "r1", 80, at(day0, 10))
	tue := f.complete(t, "u1", "r1", 80, at(day0.AddDate(0, 0, 1), 10))
	require.Equal(t, 2, tue.CurrentStreak)

	thu := at(day0.AddDate(0, 0, 3), 9)
	res, err := f.advance.Handle(context.Background(), AdvanceStreakCommand{UserID: "u1", AsOf: thu})
	require.NoError(t, err)

	assert.Equal(t, 1, res.DaysProcessed, "only Wednesday is closed")
	assert.Equal(t, 2, res.Previous)
	assert.Equal(t, 0, res.State.Current)
	assert.Equal(t, 2, res.State.Longest)
	assert.Equal(t, streak.StatusBroken, res.State.Status)
	assert.Equal(t, []shared.EventType{shared.EventStreakBroken}, eventTypes(res.Events))

	again, err := f.advance.Handle(context.Background(), AdvanceStreakCommand{UserID: "u1", AsOf: thu})
	require.NoError(t, err)
	assert.Zero(t, again.DaysProcessed)
	assert.Empty(t, again.Events)
	assert.Equal(t, 1, f.bus.count(shared.EventStreakBroken))
}

func TestAdvanceStreak_WeekendRecovery(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)

	for i := 0; i < 5; i++ {
		f.complete(t, "u1", "r1", 80, at(day0.AddDate(0, 0, i), 10))
	}

	nextMonday := day0.AddDate(0, 0, 7)
	res, err := f.advance.Handle(context.Background(), AdvanceStreakCommand{UserID: "u1", AsOf: at(nextMonday, 9)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.DaysProcessed)
	assert.Equal(t, 5, res.State.Current)
	assert.Equal(t, streak.StatusAtRisk, res.State.Status)
	assert.Empty(t, res.Events)

	monday := f.complete(t, "u1", "r1", 80, at(nextMonday, 10))
	assert.Equal(t, 6, monday.CurrentStreak)

	var extended *shared.StreakExtendedEvent
	for _, e := range monday.Events {
		if ev, ok := e.(shared.StreakExtendedEvent); ok {
			extended = &ev
		}
	}
	require.NotNil(t, extended)
	assert.True(t, extended.Recovered)

	st, err := f.store.Streaks().Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.RecoveryUses)
}

func TestAdvanceStreak_NoActivityYet(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), nil)

	res, err := f.advance.Handle(context.Background(), AdvanceStreakCommand{UserID: "u1", AsOf: at(day0, 20)})
	require.NoError(t, err)
	assert.Zero(t, res.DaysProcessed, "an unfinished day is never processed")
	assert.Equal(t, streak.StatusNoStreak, res.State.Status)

	_, err = f.store.Streaks().Get(context.Background(), "u1")
	assert.True(t, shared.IsNotFound(err))
}

// racingStreaks lets a rival advance land between the handler's read and its save.
type racingStreaks struct {
	streak.Repository
	rival func()
	saves int
}

func (r *racingStreaks) Save(ctx context.Context, s streak.State, expected time.Time, appended []streak.Record) error {
	r.saves++
	if r.rival != nil {
		rival := r.rival
		r.rival = nil
		rival()
	}
	return r.Repository.Save(ctx, s, expected, appended)
}

func TestAdvanceStreak_ConcurrentAdvanceWritesHistoryOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", 7.0, 60, at(day0, 8), map[shared.Skill]float64{shared.SkillReading: 5.0})
	f.addActivity(t, "r1", shared.SkillReading, 10, 10)
	f.complete(t, "u1", "r1", 80, at(day0, 10))
	f.complete(t, "u1", "r1", 80, at(day0.AddDate(0, 0, 1), 10))

	thu := at(day0.AddDate(0, 0, 3), 9)
	repo := &racingStreaks{Repository: f.store.Streaks()}
	repo.rival = func() {
		_, err := f.advance.Handle(ctx, AdvanceStreakCommand{UserID: "u1", AsOf: thu})
		require.NoError(t, err)
	}
	h := NewAdvanceStreakHandler(f.store.Users(), f.store.Completions(), repo,
		streak.NewTracker(streak.DefaultConfig()), f.bus, nil)

	res, err := h.Handle(ctx, AdvanceStreakCommand{UserID: "u1", AsOf: thu})
	require.NoError(t, err)
	assert.Zero(t, res.DaysProcessed, "the rerun sees Wednesday already closed")
	assert.Equal(t, 1, repo.saves)

	st, err := f.store.Streaks().Get(ctx, "u1")
	require.NoError(t, err)
	breaks := 0
	for _, rec := range st.History {
		if rec.Kind == streak.RecordBreak {
			breaks++
		}
	}
	assert.Equal(t, 1, breaks)
	assert.Equal(t, 1, f.bus.count(shared.EventStreakBroken))
}

func TestStreakSave_RejectsStaleWriter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := f.store.Streaks()

	st := streak.NewState("u1")
	st.Current, st.Status, st.LastProcessedDate = 1, streak.StatusActive, day0
	require.NoError(t, repo.Save(ctx, st, time.Time{}, nil))

	tue := st
	tue.Current, tue.LastProcessedDate = 2, day0.AddDate(0, 0, 1)
	require.NoError(t, repo.Save(ctx, tue, day0, nil))

	// Still holding Monday's view: must not move the processed day back.
	err := repo.Save(ctx, st, time.Time{}, nil)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
	err = repo.Save(ctx, tue, day0, nil)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Current)
	assert.True(t, got.LastProcessedDate.Equal(day0.AddDate(0, 0, 1)))
}
