package leaderboard

import (
	"math"
	"sort"
)

// Ranker считает регулярность участников и упорядочивает когорту.
// Чистая функция: одинаковый вход всегда даёт одинаковый порядок.
type Ranker struct {
	cfg Config
}

// NewRanker создаёт Ranker.
func NewRanker(cfg Config) *Ranker {
	if cfg.PeriodDays <= 0 {
		cfg.PeriodDays = 30
	}
	return &Ranker{cfg: cfg}
}

// Config возвращает параметры ранжирования.
func (r *Ranker) Config() Config {
	return r.cfg
}

// Score считает компоненты регулярности одного участника.
func (r *Ranker) Score(m MemberStats) Entry {
	period := float64(r.cfg.PeriodDays)

	active := math.Min(float64(m.ActiveDays), period) / period * r.cfg.ActiveWeight
	streak := math.Min(float64(m.CurrentStreak), period) / period * r.cfg.StreakWeight

	completion := 0.0
	if m.GoalsAssigned > 0 {
		ratio := math.Min(float64(m.GoalsCompleted)/float64(m.GoalsAssigned), 1)
		completion = ratio * r.cfg.CompletionWeight
	}

	return Entry{
		UserID:          m.UserID,
		Consistency:     round2(active + streak + completion),
		ActiveScore:     round2(active),
		StreakScore:     round2(streak),
		CompletionScore: round2(completion),
		CurrentStreak:   m.CurrentStreak,
	}
}

// Rank возвращает записи когорты с плотными рангами 1..N.
// Пустая когорта - пустой результат, не ошибка.
//
// Порядок: регулярность по убыванию, затем длина серии по убыванию,
// затем более ранняя регистрация, затем UserID.
func (r *Ranker) Rank(members []MemberStats) []Entry {
	if len(members) == 0 {
		return []Entry{}
	}

	type scored struct {
		entry   Entry
		created int64
	}
	rows := make([]scored, len(members))
	for i, m := range members {
		rows[i] = scored{entry: r.Score(m), created: m.CreatedAt.UnixNano()}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.entry.Consistency != b.entry.Consistency {
			return a.entry.Consistency > b.entry.Consistency
		}
		if a.entry.CurrentStreak != b.entry.CurrentStreak {
			return a.entry.CurrentStreak > b.entry.CurrentStreak
		}
		if a.created != b.created {
			return a.created < b.created
		}
		return a.entry.UserID < b.entry.UserID
	})

	out := make([]Entry, len(rows))
	for i, row := range rows {
		row.entry.Rank = Rank(i + 1)
		out[i] = row.entry
	}
	return out
}

// Stamp проставляет эпоху, когорту и прошлые ранги.
func Stamp(entries []Entry, cohort CohortKey, epoch Epoch, previous map[string]Rank) []Entry {
	for i := range entries {
		entries[i].Cohort = cohort
		entries[i].Epoch = epoch
		entries[i].PreviousRank = previous[entries[i].UserID]
	}
	return entries
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
