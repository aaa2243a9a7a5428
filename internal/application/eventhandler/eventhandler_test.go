package eventhandler

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/messaging"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

var at = time.Date(2025, time.March, 17, 23, 0, 0, 0, time.UTC)

func TestAuditHandler_LogsPayload(t *testing.T) {
	var buf bytes.Buffer
	opts := logger.DefaultOptions()
	opts.Output = &buf
	opts.AddCaller = false
	h := NewAuditHandler(logger.New(opts))

	require.NoError(t, h.Handle(shared.NewStreakMilestoneEvent("u1", 7, at)))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "event", line["msg"])
	assert.Equal(t, "streak.milestone", line["event_type"])
	assert.Equal(t, "u1", line["aggregate_id"])
}

func TestOnRankChanged_Filters(t *testing.T) {
	tests := []struct {
		name      string
		old, new  int
		notable   bool
		enteredTo int
	}{
		{"new to board", 0, 1, false, 0},
		{"small move", 8, 7, false, 0},
		{"big move", 20, 14, true, 0},
		{"big drop", 4, 9, true, 0},
		{"enters top 3", 4, 3, true, 3},
		{"takes first", 2, 1, true, 1},
		{"stays in top", 3, 2, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Movement
			h := NewOnRankChangedHandler(DefaultRankChangedConfig(), func(m Movement) { got = append(got, m) }, nil)

			require.NoError(t, h.Handle(shared.NewRankChangedEvent("u1", tt.old, tt.new, "6.5:short_term", at)))
			if !tt.notable {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.enteredTo, got[0].EnteredTop)
			assert.Equal(t, "6.5:short_term", got[0].Cohort)
		})
	}
}

func TestOnRankChanged_RegistersOnBus(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var got []Movement
	h := NewOnRankChangedHandler(DefaultRankChangedConfig(), func(m Movement) { got = append(got, m) }, nil)
	require.NoError(t, h.Register(bus))

	require.NoError(t, bus.Publish(shared.NewStreakMilestoneEvent("u1", 7, at)))
	require.NoError(t, bus.Publish(shared.NewRankChangedEvent("u1", 12, 2, "7.0:long_term", at)))

	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].EnteredTop)
}
