package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCivilDate_UsesZoneMidnight(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*3600)
	// 21:00 UTC on Jan 1 is already Jan 2 in UTC+5.
	instant := time.Date(2025, 1, 1, 21, 0, 0, 0, time.UTC)

	assert.Equal(t, Date(2025, 1, 2), CivilDate(instant, almaty))
	assert.Equal(t, Date(2025, 1, 1), CivilDate(instant, time.UTC))
}

func TestDaysBetweenAndWeekdays(t *testing.T) {
	fri := Date(2025, 1, 3)
	mon := Date(2025, 1, 6)

	assert.Equal(t, 3, DaysBetween(fri, mon))
	assert.Equal(t, -3, DaysBetween(mon, fri))
	assert.True(t, IsWeekend(AddDays(fri, 1)))
	assert.True(t, IsWeekend(AddDays(fri, 2)))
	assert.False(t, IsWeekend(mon))
	assert.True(t, IsMonday(mon))
	assert.Equal(t, fri, PreviousFriday(mon))
	assert.Equal(t, fri, PreviousFriday(fri))
}

func TestParseInstant(t *testing.T) {
	ts, err := ParseInstant("2025-01-03T10:00:00Z", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC), ts)

	end, err := ParseInstant("2025-01-03", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, Date(2025, 1, 3), CivilDate(end, time.UTC))
	assert.Equal(t, 23, end.Hour())

	_, err = ParseInstant("yesterday", time.UTC)
	assert.Error(t, err)
}
