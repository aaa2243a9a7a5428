// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/circuitbreaker"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Возвращает страницу рейтинга когорты. Сначала читается кеш (за circuit
// breaker), при промахе или недоступности кеша - основное хранилище.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса рейтинга.
type GetLeaderboardQuery struct {
	Cohort leaderboard.CohortKey

	// Limit - количество записей (по умолчанию 20, максимум 100).
	Limit int

	// Offset - смещение для пагинации.
	Offset int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if !q.Cohort.Timeline.IsValid() {
		return fmt.Errorf("unknown timeline bucket %q", q.Cohort.Timeline)
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

// LeaderboardEntryDTO - запись рейтинга для вывода.
type LeaderboardEntryDTO struct {
	Rank            int     `json:"rank"`
	UserID          string  `json:"user_id"`
	Consistency     float64 `json:"consistency"`
	ActiveScore     float64 `json:"active_score"`
	StreakScore     float64 `json:"streak_score"`
	CompletionScore float64 `json:"completion_score"`
	CurrentStreak   int     `json:"current_streak"`

	// RankChange - изменение позиции (+ вверх, - вниз, 0 стабильно).
	RankChange int  `json:"rank_change"`
	IsNew      bool `json:"is_new"`
}

// GetLeaderboardResult содержит результат запроса.
type GetLeaderboardResult struct {
	Cohort  string                `json:"cohort"`
	Epoch   int64                 `json:"epoch"`
	Entries []LeaderboardEntryDTO `json:"entries"`

	// FromCache - ответ получен из кеша.
	FromCache bool `json:"from_cache"`
}

// GetLeaderboardHandler обрабатывает запросы рейтинга.
type GetLeaderboardHandler struct {
	boards  leaderboard.Repository
	cache   leaderboard.Cache
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewGetLeaderboardHandler создаёт обработчик. cache может быть nil.
func NewGetLeaderboardHandler(
	boards leaderboard.Repository,
	cache leaderboard.Cache,
	breaker *circuitbreaker.CircuitBreaker,
	log *logger.Logger,
) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	if cache != nil && breaker == nil {
		breaker = circuitbreaker.CacheBreaker(nil)
	}
	return &GetLeaderboardHandler{
		boards:  boards,
		cache:   cache,
		breaker: breaker,
		log:     log.Named("get_leaderboard"),
	}
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_leaderboard: validation failed: %w", err)
	}

	if board, ok := h.fromCache(ctx, q); ok {
		return toLeaderboardResult(board, board.Entries, true), nil
	}

	board, err := h.boards.Current(ctx, q.Cohort)
	if err != nil {
		if shared.IsNotFound(err) {
			// Когорта ещё не пересчитывалась - пустой рейтинг, не ошибка.
			return &GetLeaderboardResult{Cohort: q.Cohort.String(), Entries: []LeaderboardEntryDTO{}}, nil
		}
		return nil, fmt.Errorf("get_leaderboard: failed to read board: %w", err)
	}

	h.warmCache(ctx, board)
	return toLeaderboardResult(board, board.Page(q.Offset, q.Limit), false), nil
}

func (h *GetLeaderboardHandler) fromCache(ctx context.Context, q GetLeaderboardQuery) (leaderboard.Board, bool) {
	if h.cache == nil {
		return leaderboard.Board{}, false
	}
	var board leaderboard.Board
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		board, err = h.cache.GetCohort(ctx, q.Cohort, q.Offset, q.Limit)
		if shared.IsNotFound(err) {
			// Промах не считается отказом кеша.
			return nil
		}
		return err
	})
	if err != nil {
		h.log.Warn("leaderboard cache unavailable", logger.Cohort(q.Cohort.String()), logger.Err(err))
		return leaderboard.Board{}, false
	}
	return board, board.Epoch != 0
}

func (h *GetLeaderboardHandler) warmCache(ctx context.Context, board leaderboard.Board) {
	if h.cache == nil {
		return
	}
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.cache.StoreCohort(ctx, board)
	})
	if err != nil {
		h.log.Debug("leaderboard cache not warmed", logger.Cohort(board.Cohort.String()), logger.Err(err))
	}
}

func toLeaderboardResult(board leaderboard.Board, page []leaderboard.Entry, fromCache bool) *GetLeaderboardResult {
	out := &GetLeaderboardResult{
		Cohort:    board.Cohort.String(),
		Epoch:     int64(board.Epoch),
		Entries:   make([]LeaderboardEntryDTO, 0, len(page)),
		FromCache: fromCache,
	}
	for _, e := range page {
		out.Entries = append(out.Entries, LeaderboardEntryDTO{
			Rank:            int(e.Rank),
			UserID:          e.UserID,
			Consistency:     e.Consistency,
			ActiveScore:     e.ActiveScore,
			StreakScore:     e.StreakScore,
			CompletionScore: e.CompletionScore,
			CurrentStreak:   e.CurrentStreak,
			RankChange:      int(e.Change()),
			IsNew:           e.IsNew(),
		})
	}
	return out
}
