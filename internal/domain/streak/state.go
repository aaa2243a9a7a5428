// Package streak ведёт серию последовательных активных дней ученика.
//
// Серия реализована как явный конечный автомат из четырёх состояний:
//
//	no_streak → active → at_risk → active   (восстановление в выходные)
//	                   ↘ broken  → no_streak → active
//
// Функция перехода Transition применяется ровно один раз к каждому
// прошедшему календарному дню, что позволяет проверять граничные случаи
// выходных изолированно.
package streak

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status - состояние автомата серии.
type Status string

const (
	StatusNoStreak Status = "no_streak"
	StatusActive   Status = "active"
	StatusAtRisk   Status = "at_risk"
	StatusBroken   Status = "broken"
)

// IsValid проверяет значение статуса.
func (s Status) IsValid() bool {
	switch s {
	case StatusNoStreak, StatusActive, StatusAtRisk, StatusBroken:
		return true
	}
	return false
}

// Alive - серия продолжается (active или at_risk).
func (s Status) Alive() bool {
	return s == StatusActive || s == StatusAtRisk
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// RecordKind - тип записи в истории серии.
type RecordKind string

const (
	RecordBreak     RecordKind = "break"
	RecordMilestone RecordKind = "milestone"
	RecordRecovery  RecordKind = "recovery"
)

// Record - неизменяемая запись истории: обрыв, веха или восстановление.
type Record struct {
	Kind RecordKind
	// Date - календарный день, на котором произошло событие.
	Date time.Time
	// Length - длина серии: потерянная при обрыве, достигнутая для вехи.
	Length int
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние серии пользователя.
type State struct {
	UserID string

	// Current - текущая длина серии.
	Current int

	// Longest - лучшая серия за всё время.
	Longest int

	// LastActiveDate - последний день с выполненным заданием (нулевое значение - не было).
	LastActiveDate time.Time

	// StreakStart - первый день текущей серии.
	StreakStart time.Time

	// LastProcessedDate - последний обработанный день (нулевое значение - ни одного).
	LastProcessedDate time.Time

	// RecoveryUses - сколько раз серия пережила выходные без занятий.
	RecoveryUses int

	Status Status

	// History - журнал только на добавление.
	History []Record
}

// NewState создаёт пустую серию.
func NewState(userID string) State {
	return State{UserID: userID, Status: StatusNoStreak}
}

// HasProcessed проверяет, был ли день уже обработан.
func (s State) HasProcessed(day time.Time) bool {
	return !s.LastProcessedDate.IsZero() && !day.After(s.LastProcessedDate)
}

// Milestones возвращает достигнутые вехи из истории.
func (s State) Milestones() []int {
	var out []int
	for _, r := range s.History {
		if r.Kind == RecordMilestone {
			out = append(out, r.Length)
		}
	}
	return out
}

func (s State) clone() State {
	c := s
	c.History = append([]Record(nil), s.History...)
	return c
}
