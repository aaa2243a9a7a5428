package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// 2024-12-30 is a Monday; 2025-01-03 is a Friday.
var (
	monday  = timeutil.Date(2024, time.December, 30)
	friday  = timeutil.Date(2025, time.January, 3)
	created = monday.Add(8 * time.Hour)
)

func days(ds ...time.Time) activity.DaySet {
	set := make(activity.DaySet)
	for _, d := range ds {
		set.Add(d)
	}
	return set
}

func span(from time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = timeutil.AddDays(from, i)
	}
	return out
}

func kinds(rs []Record) []RecordKind {
	out := make([]RecordKind, len(rs))
	for i, r := range rs {
		out[i] = r.Kind
	}
	return out
}

func TestAdvance_WeekendRecovery(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	nextMonday := timeutil.AddDays(friday, 3)
	active := days(append(span(monday, 5), nextMonday)...)

	// By Sunday the idle Saturday has been processed and the window is open.
	sat, err := tr.Advance(NewState("u1"), created, active, timeutil.AddDays(friday, 2))
	require.NoError(t, err)
	assert.Equal(t, 5, sat.State.Current)
	assert.Equal(t, StatusAtRisk, sat.State.Status)
	assert.True(t, tr.Risk(sat.State, timeutil.AddDays(friday, 2)))

	// Monday completion resolves it.
	mon, err := tr.Advance(sat.State, created, active, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, 6, mon.State.Current)
	assert.Equal(t, StatusActive, mon.State.Status)
	assert.Equal(t, 1, mon.State.RecoveryUses)
	assert.Equal(t, []RecordKind{RecordRecovery}, kinds(mon.Appended))
	assert.True(t, mon.Extended())
}

func TestAdvance_FridayToTuesdayBreaks(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	active := days(span(monday, 5)...)
	tuesday := timeutil.AddDays(friday, 4)

	out, err := tr.Advance(NewState("u1"), created, active, tuesday)
	require.NoError(t, err)

	assert.Equal(t, 0, out.State.Current)
	assert.Equal(t, 5, out.State.Longest)
	assert.Equal(t, StatusBroken, out.State.Status)
	assert.Equal(t, 0, out.State.RecoveryUses)
	require.Len(t, out.Appended, 1)
	assert.Equal(t, Record{Kind: RecordBreak, Date: timeutil.AddDays(friday, 3), Length: 5}, out.Appended[0])
}

func TestAdvance_WeekendItselfNeverBreaks(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	// Active Mon-Sat, Sunday off, Monday back.
	nextMonday := timeutil.AddDays(friday, 3)
	active := days(append(span(monday, 6), nextMonday)...)

	out, err := tr.Advance(NewState("u1"), created, active, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, 7, out.State.Current)
	assert.Equal(t, StatusActive, out.State.Status)
	assert.Contains(t, kinds(out.Appended), RecordMilestone)
	assert.Zero(t, out.State.RecoveryUses, "Saturday was active, nothing to recover")
}

func TestAdvance_SundayAfterIdleSaturdayIsNoRecovery(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	sunday := timeutil.AddDays(friday, 2)
	nextMonday := timeutil.AddDays(friday, 3)
	active := days(append(span(monday, 5), sunday, nextMonday)...)

	sun, err := tr.Advance(NewState("u1"), created, active, sunday)
	require.NoError(t, err)
	assert.Equal(t, 6, sun.State.Current)
	assert.Equal(t, StatusActive, sun.State.Status)
	assert.Zero(t, sun.State.RecoveryUses)
	assert.NotContains(t, kinds(sun.Appended), RecordRecovery)

	mon, err := tr.Advance(sun.State, created, active, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, 7, mon.State.Current)
	assert.Zero(t, mon.State.RecoveryUses)
}

func TestAdvance_WeekdayGapBreaks(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	active := days(monday, timeutil.AddDays(monday, 1), friday)

	out, err := tr.Advance(NewState("u1"), created, active, friday)
	require.NoError(t, err)

	assert.Equal(t, 1, out.State.Current)
	assert.Equal(t, 2, out.State.Longest)
	assert.Equal(t, []RecordKind{RecordBreak}, kinds(out.Appended))
	assert.Equal(t, friday, out.State.StreakStart)
}

func TestAdvance_BrokenRestartsThroughNoStreak(t *testing.T) {
	s := State{UserID: "u1", Status: StatusBroken, LastProcessedDate: monday}
	next, added := Transition(s, timeutil.AddDays(monday, 1), true, DefaultConfig())

	assert.Empty(t, added)
	assert.Equal(t, 1, next.Current)
	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, StatusBroken, s.Status, "input state is not mutated")

	idle, added := Transition(State{UserID: "u1", Status: StatusBroken}, monday, false, DefaultConfig())
	assert.Empty(t, added)
	assert.Equal(t, StatusBroken, idle.Status)
}

func TestAdvance_MilestonesRecordedOnce(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	active := days(span(monday, 31)...)
	today := timeutil.AddDays(monday, 30)

	out, err := tr.Advance(NewState("u1"), created, active, today)
	require.NoError(t, err)
	assert.Equal(t, 31, out.State.Current)
	assert.Equal(t, []int{7, 14, 30}, out.State.Milestones())

	again, err := tr.Advance(out.State, created, active, today)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
	assert.Empty(t, again.Appended)
	assert.Equal(t, out.State, again.State)
}

func TestAdvance_TodayOnlyCountsWhenActive(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tuesday := timeutil.AddDays(monday, 1)

	// Morning: no completion yet today; Monday processed only.
	morning, err := tr.Advance(NewState("u1"), created, days(monday), tuesday)
	require.NoError(t, err)
	assert.Equal(t, 1, morning.State.Current)
	assert.Equal(t, monday, morning.State.LastProcessedDate)
	assert.True(t, tr.Risk(morning.State, tuesday))

	// Evening: a completion arrives.
	evening, err := tr.Advance(morning.State, created, days(monday, tuesday), tuesday)
	require.NoError(t, err)
	assert.Equal(t, 2, evening.State.Current)
	assert.Equal(t, tuesday, evening.State.LastProcessedDate)
	assert.False(t, tr.Risk(evening.State, tuesday))
}

func TestAdvance_WeekendRecoveryDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WeekendRecovery = false
	tr := NewTracker(cfg)

	out, err := tr.Advance(NewState("u1"), created, days(span(monday, 5)...), timeutil.AddDays(friday, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, out.State.Current)
	assert.Equal(t, StatusBroken, out.State.Status)
}

func TestAdvance_InconsistentState(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	_, err := tr.Advance(State{UserID: "u1", Status: StatusActive, Current: 1, LastActiveDate: timeutil.AddDays(monday, -3)},
		created, days(), friday)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInconsistentState)

	_, err = tr.Advance(State{UserID: "u1", Status: StatusActive, Current: 10, LastActiveDate: monday},
		created, days(), friday)
	assert.ErrorIs(t, err, shared.ErrInconsistentState)
}

func TestAdvance_StreakNeverExceedsAccountAge(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	today := timeutil.AddDays(monday, 20)
	out, err := tr.Advance(NewState("u1"), created, days(span(timeutil.AddDays(monday, -10), 40)...), today)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.State.Current, timeutil.DaysBetween(monday, today)+1)
	assert.Equal(t, 21, out.State.Current)
}

func TestDescribe(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	s := State{UserID: "u1", Current: 9, Longest: 12, LastActiveDate: monday, Status: StatusActive,
		History: []Record{
			{Kind: RecordMilestone, Date: timeutil.AddDays(monday, -20), Length: 7},
			{Kind: RecordBreak, Date: timeutil.AddDays(monday, -15), Length: 12},
			{Kind: RecordMilestone, Date: timeutil.AddDays(monday, -2), Length: 7},
		}}

	info := tr.Describe(s, timeutil.AddDays(monday, 1))
	assert.Equal(t, []int{7}, info.Reached)
	assert.Equal(t, []int{7, 7}, info.Earned)
	assert.Equal(t, 14, info.NextMilestone)
	assert.Equal(t, 5, info.DaysToNext)
	assert.Equal(t, 1, info.DaysSinceActivity)

	assert.Equal(t, -1, tr.Describe(NewState("u2"), monday).DaysSinceActivity)
}
