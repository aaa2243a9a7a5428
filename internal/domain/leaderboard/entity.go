// Package leaderboard содержит доменную модель рейтинга регулярности.
// Пользователи сравниваются только внутри когорты: одинаковый целевой балл
// (с точностью до корзины) и сопоставимый срок подготовки.
package leaderboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет позицию в рейтинге когорты. Начинается с 1.
type Rank int

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// RankChange - изменение позиции между эпохами.
// Положительное значение = подъём, отрицательное = падение.
type RankChange int

// String возвращает строковое представление изменения.
func (rc RankChange) String() string {
	switch {
	case rc > 0:
		return fmt.Sprintf("+%d", rc)
	case rc < 0:
		return fmt.Sprintf("%d", rc)
	default:
		return "±0"
	}
}

// Timeline - корзина срока подготовки.
type Timeline string

const (
	TimelineShort  Timeline = "short_term"
	TimelineMedium Timeline = "medium_term"
	TimelineLong   Timeline = "long_term"
)

// IsValid проверяет корректность корзины.
func (t Timeline) IsValid() bool {
	switch t {
	case TimelineShort, TimelineMedium, TimelineLong:
		return true
	}
	return false
}

// CohortKey идентифицирует когорту: корзина целевого балла × корзина срока.
type CohortKey struct {
	TargetBucket float64
	Timeline     Timeline
}

// String возвращает ключ вида "6.5:short_term". Он же используется в хранилищах,
// поэтому корзина кодируется без потерь: ParseCohortKey(k.String()) == k
// при любой ширине корзины (6.25, 6.75...).
func (k CohortKey) String() string {
	bucket := strconv.FormatFloat(k.TargetBucket, 'f', -1, 64)
	if !strings.Contains(bucket, ".") {
		bucket += ".0"
	}
	return bucket + ":" + string(k.Timeline)
}

// ParseCohortKey разбирает ключ, полученный из CohortKey.String.
func ParseCohortKey(s string) (CohortKey, error) {
	bucket, timeline, ok := strings.Cut(s, ":")
	if !ok {
		return CohortKey{}, shared.NewDomainError("leaderboard", "ParseCohortKey", shared.ErrInvalidInput,
			fmt.Sprintf("cohort key %q must look like 6.5:short_term", s))
	}
	target, err := strconv.ParseFloat(bucket, 64)
	if err != nil {
		return CohortKey{}, shared.WrapError("leaderboard", "ParseCohortKey", shared.ErrInvalidInput, "bad target bucket", err)
	}
	key := CohortKey{TargetBucket: target, Timeline: Timeline(timeline)}
	if !key.Timeline.IsValid() {
		return CohortKey{}, shared.NewDomainError("leaderboard", "ParseCohortKey", shared.ErrInvalidInput,
			fmt.Sprintf("unknown timeline bucket %q", timeline))
	}
	return key, nil
}

// Epoch - номер эпохи пересчёта: дата as-of в виде YYYYMMDD.
type Epoch int64

// EpochOf возвращает эпоху для календарного дня.
func EpochOf(day time.Time) Epoch {
	y, m, d := day.Date()
	return Epoch(y*10000 + int(m)*100 + d)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// Config - параметры расчёта регулярности и границы когорт.
type Config struct {
	// PeriodDays - скользящее окно расчёта.
	PeriodDays int

	ActiveWeight     float64
	StreakWeight     float64
	CompletionWeight float64

	// TargetBucketWidth - ширина корзины целевого балла.
	TargetBucketWidth float64

	// ShortTermDays и MediumTermDays - верхние границы корзин срока (включительно).
	ShortTermDays  int
	MediumTermDays int
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		PeriodDays:        30,
		ActiveWeight:      40,
		StreakWeight:      30,
		CompletionWeight:  30,
		TargetBucketWidth: 0.5,
		ShortTermDays:     28,
		MediumTermDays:    84,
	}
}

// CohortFor вычисляет когорту пользователя.
func (c Config) CohortFor(u *learner.User) CohortKey {
	width := c.TargetBucketWidth
	if width <= 0 {
		width = 0.5
	}
	// Округление убирает хвосты вида 6.7000000000000002 при ширине 0.1.
	bucket := math.Round(math.Floor(u.TargetScore/width+1e-9)*width*1e6) / 1e6

	timeline := TimelineLong
	switch {
	case u.TimelineDays <= c.ShortTermDays:
		timeline = TimelineShort
	case u.TimelineDays <= c.MediumTermDays:
		timeline = TimelineMedium
	}
	return CohortKey{TargetBucket: bucket, Timeline: timeline}
}

// Window - окно расчёта статистики для эпохи: [From, To] включительно.
type Window struct {
	From     time.Time
	To       time.Time
	Location *time.Location
}

// WindowFor возвращает окно из PeriodDays дней, заканчивающееся днём asOf.
func (c Config) WindowFor(asOf time.Time, loc *time.Location) Window {
	return Window{
		From:     asOf.AddDate(0, 0, -(c.PeriodDays - 1)),
		To:       asOf,
		Location: loc,
	}
}

// Start - первый момент окна в часовом поясе Location.
func (w Window) Start() time.Time {
	return timeutil.StartOfDay(w.From, w.Location)
}

// End - последний момент окна (включительно).
func (w Window) End() time.Time {
	return timeutil.StartOfDay(timeutil.AddDays(w.To, 1), w.Location).Add(-time.Nanosecond)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

// MemberStats - входные данные одного участника когорты за окно.
type MemberStats struct {
	UserID         string
	CreatedAt      time.Time
	ActiveDays     int
	CurrentStreak  int
	GoalsAssigned  int
	GoalsCompleted int
}

// Entry - запись рейтинга одного пользователя в эпохе.
type Entry struct {
	Epoch           Epoch
	UserID          string
	Cohort          CohortKey
	Consistency     float64
	ActiveScore     float64
	StreakScore     float64
	CompletionScore float64
	CurrentStreak   int
	Rank            Rank
	// PreviousRank - ранг в предыдущей эпохе; 0, если пользователя там не было.
	PreviousRank Rank
}

// Change возвращает изменение ранга относительно прошлой эпохи.
func (e Entry) Change() RankChange {
	if e.PreviousRank == 0 {
		return 0
	}
	return RankChange(e.PreviousRank - e.Rank)
}

// IsNew возвращает true, если в прошлой эпохе пользователя не было.
func (e Entry) IsNew() bool {
	return e.PreviousRank == 0
}

// Board - рейтинг одной когорты в одной эпохе, отсортированный по рангу.
type Board struct {
	Cohort  CohortKey
	Epoch   Epoch
	Entries []Entry
}

// Page возвращает срез записей [offset, offset+limit).
func (b Board) Page(offset, limit int) []Entry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(b.Entries) {
		return nil
	}
	end := len(b.Entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return b.Entries[offset:end]
}
