package eventhandler

import (
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RANK CHANGED
// Отбирает заметные перемещения в рейтинге: сдвиг на MinRankChange мест
// и больше или вход в один из топов.
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedConfig содержит пороги.
type RankChangedConfig struct {
	// MinRankChange - минимальный сдвиг, о котором стоит сообщать.
	MinRankChange int

	// TopNMilestones - пороги входа в топ, например [3, 10].
	TopNMilestones []int
}

// DefaultRankChangedConfig возвращает пороги по умолчанию.
func DefaultRankChangedConfig() RankChangedConfig {
	return RankChangedConfig{
		MinRankChange:  3,
		TopNMilestones: []int{1, 3, 10},
	}
}

// Movement - заметное перемещение, отобранное обработчиком.
type Movement struct {
	UserID  string
	Cohort  string
	OldRank int
	NewRank int
	// EnteredTop - порог топа, в который вошёл пользователь (0 - не вошёл).
	EnteredTop int
}

// OnRankChangedHandler фильтрует события смены ранга.
type OnRankChangedHandler struct {
	config RankChangedConfig
	notify func(Movement)
	log    *logger.Logger
}

// NewOnRankChangedHandler создаёт обработчик. notify может быть nil:
// тогда перемещения только журналируются.
func NewOnRankChangedHandler(config RankChangedConfig, notify func(Movement), log *logger.Logger) *OnRankChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnRankChangedHandler{config: config, notify: notify, log: log.Named("rank_changed")}
}

// Handle реализует shared.EventHandler.
func (h *OnRankChangedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.RankChangedEvent)
	if !ok {
		return nil
	}

	m, notable := h.evaluate(e)
	if !notable {
		return nil
	}

	h.log.Info("notable rank movement",
		logger.UserID(m.UserID),
		logger.Cohort(m.Cohort),
		logger.Int("old_rank", m.OldRank),
		logger.Int("new_rank", m.NewRank),
		logger.Int("entered_top", m.EnteredTop),
	)
	if h.notify != nil {
		h.notify(m)
	}
	return nil
}

// Register подписывает обработчик на смену ранга.
func (h *OnRankChangedHandler) Register(sub shared.EventSubscriber) error {
	return sub.Subscribe(shared.EventRankChanged, h.Handle)
}

func (h *OnRankChangedHandler) evaluate(e shared.RankChangedEvent) (Movement, bool) {
	m := Movement{
		UserID:  e.AggregateID(),
		Cohort:  e.Cohort,
		OldRank: e.OldRank,
		NewRank: e.NewRank,
	}

	// Новичок в рейтинге (OldRank 0) не считается перемещением.
	if e.OldRank <= 0 {
		return m, false
	}

	for _, top := range h.config.TopNMilestones {
		if e.NewRank <= top && e.OldRank > top {
			m.EnteredTop = top
			break
		}
	}

	delta := e.OldRank - e.NewRank
	if delta < 0 {
		delta = -delta
	}
	return m, m.EnteredTop > 0 || delta >= h.config.MinRankChange
}
