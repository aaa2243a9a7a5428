package command

import (
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// publishAll sends events best-effort. A failed publish is logged, never returned.
func publishAll(p shared.EventPublisher, log *logger.Logger, events []shared.Event) {
	for _, event := range events {
		if err := p.Publish(event); err != nil {
			log.Warn("failed to publish event",
				logger.String("type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// asOfOrNow returns t, or the current UTC time when t is zero.
func asOfOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
