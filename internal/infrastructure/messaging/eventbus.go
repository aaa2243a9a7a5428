// Package messaging implements the in-process event bus. Commands publish
// domain events here; subscribers (audit log, rank notifications) react to
// them, and Fanout mirrors them onto Redis when that is configured.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ErrEventBusClosed is returned by Publish and Subscribe after Close.
var ErrEventBusClosed = errors.New("event bus is closed")

var errNilHandler = errors.New("event handler is nil")

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode makes Publish return before handlers run.
	AsyncMode bool
	// WorkerPoolSize bounds concurrently running async handlers.
	WorkerPoolSize int
	Logger         *logger.Logger
}

func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{WorkerPoolSize: 4}
}

// InMemoryEventBus delivers every event to the handlers of its type and to
// the catch-all handlers. Handler errors and panics are logged and counted;
// delivery is best-effort and never fails the publisher.
type InMemoryEventBus struct {
	async bool
	slots *semaphore.Weighted
	log   *logger.Logger
	stats *EventBusMetrics

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed   bool
	pending  sync.WaitGroup
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	return &InMemoryEventBus{
		async:  cfg.AsyncMode,
		slots:  semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		log:    cfg.Logger.Named("eventbus"),
		stats:  NewEventBusMetrics(),
		byType: make(map[shared.EventType][]shared.EventHandler),
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
		b.log.Debug("subscribed handler", logger.String("event_type", string(eventType)))
	})
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() { b.catchAll = append(b.catchAll, handler) })
}

func (b *InMemoryEventBus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register()
	return nil
}

// Publish implements shared.EventPublisher.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.catchAll))
	targets = append(append(targets, typed...), b.catchAll...)
	// Counted under the read lock so Close cannot slip in before Add.
	if b.async {
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	b.stats.RecordPublish(event.EventType())
	for _, h := range targets {
		if !b.async {
			b.deliver(event, h)
			continue
		}
		go func() {
			defer b.pending.Done()
			_ = b.slots.Acquire(context.Background(), 1)
			defer b.slots.Release(1)
			b.deliver(event, h)
		}()
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := safeCall(h, event)
	b.stats.RecordHandlerExecution(err == nil)
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
	}
}

func safeCall(h shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(event)
}

// Close rejects further use and waits until every async delivery has run.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()
	return nil
}

func (b *InMemoryEventBus) Metrics() *EventBusMetrics { return b.stats }

// Fanout publishes every event to several publishers. A failing publisher
// does not stop the others; the errors are joined.
type Fanout []shared.EventPublisher

func (f Fanout) Publish(event shared.Event) error {
	var errs []error
	for _, p := range f {
		if p != nil {
			if err := p.Publish(event); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts published events and handler outcomes.
type EventBusMetrics struct {
	published sync.Map // shared.EventType -> *atomic.Int64
	ok, bad   atomic.Int64
}

func NewEventBusMetrics() *EventBusMetrics { return &EventBusMetrics{} }

func (m *EventBusMetrics) RecordPublish(t shared.EventType) {
	c, _ := m.published.LoadOrStore(t, new(atomic.Int64))
	c.(*atomic.Int64).Add(1)
}

func (m *EventBusMetrics) RecordHandlerExecution(success bool) {
	if success {
		m.ok.Add(1)
	} else {
		m.bad.Add(1)
	}
}

type EventBusMetricsSnapshot struct {
	Published       map[shared.EventType]int64
	TotalPublished  int64
	HandlerSuccess  int64
	HandlerFailures int64
}

func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	s := EventBusMetricsSnapshot{
		Published:       map[shared.EventType]int64{},
		HandlerSuccess:  m.ok.Load(),
		HandlerFailures: m.bad.Load(),
	}
	m.published.Range(func(k, v any) bool {
		n := v.(*atomic.Int64).Load()
		s.Published[k.(shared.EventType)] = n
		s.TotalPublished += n
		return true
	})
	return s
}
