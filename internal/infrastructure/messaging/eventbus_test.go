package messaging

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

var now = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var extended, all int
	require.NoError(t, bus.Subscribe(shared.EventStreakExtended, func(shared.Event) error { extended++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewStreakExtendedEvent("u1", 3, false, now)))
	require.NoError(t, bus.Publish(shared.NewStreakMilestoneEvent("u1", 7, now)))

	assert.Equal(t, 1, extended)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.HandlerSuccess)
}

func TestInMemoryEventBus_HandlerFailuresAreNotReturned(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	assert.NoError(t, bus.Publish(shared.NewStreakMilestoneEvent("u1", 7, now)))
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = true
	bus := NewInMemoryEventBus(cfg)

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { n.Add(1); return nil }))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewStreakExtendedEvent("u1", i, false, now)))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(10), n.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewStreakExtendedEvent("u1", 1, false, now)), ErrEventBusClosed)
}

type failingPublisher struct{}

func (failingPublisher) Publish(shared.Event) error { return errors.New("redis down") }

func TestFanout_PublishesToAll(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()
	var got int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { got++; return nil }))

	err := Fanout{failingPublisher{}, nil, bus}.Publish(shared.NewStreakMilestoneEvent("u1", 14, now))
	assert.EqualError(t, err, "redis down")
	assert.Equal(t, 1, got)
}
