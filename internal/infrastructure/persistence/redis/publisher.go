package redis

import (
	"context"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// EventPublisher fans domain events out on per-type pub/sub channels.
// Subscribers receive shared.EventEnvelope JSON.
type EventPublisher struct {
	cache   *Cache
	timeout time.Duration
}

var _ shared.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(cache *Cache) *EventPublisher {
	return &EventPublisher{cache: cache, timeout: 2 * time.Second}
}

// Publish implements shared.EventPublisher.
func (p *EventPublisher) Publish(event shared.Event) error {
	env, err := shared.NewEnvelope(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.cache.publishJSON(ctx, PubSubChannel(string(env.Type)), env)
}

// Pattern matches every channel the publisher writes to.
func Pattern() string {
	return PrefixPubSub + "*"
}
