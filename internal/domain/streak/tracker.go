package streak

import (
	"fmt"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// Config - параметры трекера.
type Config struct {
	// Milestones - пороги вех в днях, по возрастанию.
	Milestones []int

	// WeekendRecovery - разрешить выходным не обрывать серию.
	WeekendRecovery bool

	Location *time.Location
}

// DefaultConfig возвращает значения по умолчанию: вехи 7, 14, 30.
func DefaultConfig() Config {
	return Config{
		Milestones:      []int{7, 14, 30},
		WeekendRecovery: true,
		Location:        time.UTC,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION
// ══════════════════════════════════════════════════════════════════════════════

// Transition применяет правило перехода к одному дню.
// Возвращает новое состояние и записи, добавленные в историю за этот день.
// Функция чистая: входное состояние не изменяется.
func Transition(s State, day time.Time, active bool, cfg Config) (State, []Record) {
	next := s.clone()
	var added []Record

	switch {
	case active:
		// Восстановление - только будний день после выходных целиком без
		// занятий. Занятие в воскресенье после пустой субботы просто
		// продолжает серию.
		recovered := next.Status == StatusAtRisk && !timeutil.IsWeekend(day) &&
			next.LastActiveDate.Before(timeutil.AddDays(day, -2))
		if next.Status == StatusBroken {
			next.Status = StatusNoStreak
		}
		if next.Current == 0 {
			next.StreakStart = day
		}
		prev := next.Current
		next.Current++
		next.Status = StatusActive
		next.LastActiveDate = day
		if next.Current > next.Longest {
			next.Longest = next.Current
		}
		if recovered {
			next.RecoveryUses++
			added = append(added, Record{Kind: RecordRecovery, Date: day, Length: next.Current})
		}
		for _, m := range cfg.Milestones {
			if prev < m && next.Current >= m {
				added = append(added, Record{Kind: RecordMilestone, Date: day, Length: m})
			}
		}

	case !next.Status.Alive():
		// Нет серии - нечего обрывать.

	case cfg.WeekendRecovery && timeutil.IsWeekend(day):
		// Выходные никогда не обрывают серию, но открывают окно риска до понедельника.
		next.Status = StatusAtRisk

	default:
		added = append(added, Record{Kind: RecordBreak, Date: day, Length: next.Current})
		next.Current = 0
		next.StreakStart = time.Time{}
		next.Status = StatusBroken
	}

	next.LastProcessedDate = day
	next.History = append(next.History, added...)
	return next, added
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// Outcome - результат продвижения серии.
type Outcome struct {
	State State

	// Previous - длина серии до продвижения.
	Previous int

	// Appended - записи истории, добавленные в этом вызове.
	Appended []Record

	// Processed - сколько дней было обработано (0 - повторный вызов).
	Processed int
}

// Extended сообщает, выросла ли серия.
func (o Outcome) Extended() bool {
	return o.State.Current > o.Previous
}

// Tracker продвигает серию по календарным дням.
type Tracker struct {
	cfg Config
}

// NewTracker создаёт трекер.
func NewTracker(cfg Config) *Tracker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Tracker{cfg: cfg}
}

// Config возвращает конфигурацию трекера.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Advance обрабатывает каждый прошедший день от LastProcessedDate+1 до вчера.
// Сегодняшний день обрабатывается, только если в нём уже есть активность,
// поэтому незавершённый день никогда не обрывает серию.
// Повторный вызов для уже обработанных дней ничего не меняет.
func (t *Tracker) Advance(s State, createdAt time.Time, active activity.DaySet, today time.Time) (Outcome, error) {
	if err := t.Validate(s, createdAt, today); err != nil {
		return Outcome{}, err
	}

	out := Outcome{State: s, Previous: s.Current}
	start := timeutil.CivilDate(createdAt, t.cfg.Location)
	if !s.LastProcessedDate.IsZero() {
		start = timeutil.AddDays(s.LastProcessedDate, 1)
	}

	for day := start; day.Before(today); day = timeutil.AddDays(day, 1) {
		var added []Record
		out.State, added = Transition(out.State, day, active.Has(day), t.cfg)
		out.Appended = append(out.Appended, added...)
		out.Processed++
	}

	if !out.State.HasProcessed(today) && !today.Before(start) && active.Has(today) {
		var added []Record
		out.State, added = Transition(out.State, today, true, t.cfg)
		out.Appended = append(out.Appended, added...)
		out.Processed++
	}

	return out, nil
}

// Validate проверяет инварианты хранимого состояния. Нарушение - это ошибка
// целостности данных: она возвращается вызывающему и не исправляется.
func (t *Tracker) Validate(s State, createdAt time.Time, today time.Time) error {
	created := timeutil.CivilDate(createdAt, t.cfg.Location)

	if !s.LastActiveDate.IsZero() && s.LastActiveDate.Before(created) {
		return shared.WrapError("streak", "Validate", shared.ErrInconsistentState,
			"last active date precedes account creation",
			fmt.Errorf("user %s: last active %s, created %s", s.UserID,
				timeutil.FormatDate(s.LastActiveDate), timeutil.FormatDate(created)))
	}

	maxLen := timeutil.DaysBetween(created, today) + 1
	if maxLen < 0 {
		maxLen = 0
	}
	if s.Current < 0 || s.Current > maxLen {
		return shared.WrapError("streak", "Validate", shared.ErrInconsistentState,
			"streak length exceeds days since account creation",
			fmt.Errorf("user %s: streak %d, max %d", s.UserID, s.Current, maxLen))
	}

	if s.Status != "" && !s.Status.IsValid() {
		return shared.WrapError("streak", "Validate", shared.ErrInconsistentState,
			"unknown streak status", fmt.Errorf("%q", s.Status))
	}
	return nil
}

// Risk - рекомендательный флаг для уведомлений: серия жива, сегодня ещё нет
// активности, и пропуск сегодняшнего дня её оборвёт (или окно выходных уже открыто).
func (t *Tracker) Risk(s State, today time.Time) bool {
	if !s.Status.Alive() || s.Current == 0 {
		return false
	}
	if s.LastActiveDate.Equal(today) {
		return false
	}
	if s.Status == StatusAtRisk {
		return true
	}
	return !(t.cfg.WeekendRecovery && timeutil.IsWeekend(today))
}

// Info - сводка по серии для отчётов о прогрессе.
type Info struct {
	Current        int
	Longest        int
	LastActiveDate time.Time
	// DaysSinceActivity равно -1, если активности не было.
	DaysSinceActivity int
	AtRisk            bool
	RecoveryUses      int
	Status            Status
	// Reached - вехи, пройденные текущей серией.
	Reached []int
	// Earned - все вехи из истории, в порядке достижения (с повторами по сериям).
	Earned []int
	// NextMilestone - ближайшая недостигнутая веха (0 - все достигнуты).
	NextMilestone int
	DaysToNext    int
}

// Describe собирает сводку по серии.
func (t *Tracker) Describe(s State, today time.Time) Info {
	info := Info{
		Current:           s.Current,
		Longest:           s.Longest,
		LastActiveDate:    s.LastActiveDate,
		DaysSinceActivity: -1,
		AtRisk:            t.Risk(s, today),
		RecoveryUses:      s.RecoveryUses,
		Status:            s.Status,
		Earned:            s.Milestones(),
	}
	if !s.LastActiveDate.IsZero() {
		info.DaysSinceActivity = timeutil.DaysBetween(s.LastActiveDate, today)
	}
	for _, m := range t.cfg.Milestones {
		if s.Current >= m {
			info.Reached = append(info.Reached, m)
			continue
		}
		if info.NextMilestone == 0 {
			info.NextMilestone = m
			info.DaysToNext = m - s.Current
		}
	}
	return info
}
