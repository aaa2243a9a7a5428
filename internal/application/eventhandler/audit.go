// Package eventhandler содержит подписчиков на доменные события.
// Они не меняют состояние движка: только журналируют и фильтруют
// события для внешних потребителей.
package eventhandler

import (
	"sort"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUDIT LOG
// ═══════════════════════════════════════════════════════════════════════════

// AuditHandler пишет каждое событие одной строкой структурированного лога.
type AuditHandler struct {
	log *logger.Logger
}

// NewAuditHandler создаёт обработчик.
func NewAuditHandler(log *logger.Logger) *AuditHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditHandler{log: log.Named("audit")}
}

// Handle реализует shared.EventHandler.
func (h *AuditHandler) Handle(event shared.Event) error {
	payload := event.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]logger.Field, 0, len(keys)+2)
	fields = append(fields,
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()),
	)
	for _, k := range keys {
		fields = append(fields, logger.Any(k, payload[k]))
	}
	h.log.Info("event", fields...)
	return nil
}

// Register подписывает обработчик на все события.
func (h *AuditHandler) Register(sub shared.EventSubscriber) error {
	return sub.SubscribeAll(h.Handle)
}
