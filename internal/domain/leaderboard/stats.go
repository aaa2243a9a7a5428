package leaderboard

import (
	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
)

// CollectStats сводит сырые данные одного участника в MemberStats.
// history и goals могут выходить за окно: лишнее отбрасывается здесь.
func CollectStats(u *learner.User, history activity.History, goals []goal.DailyGoal, currentStreak int, w Window) MemberStats {
	m := MemberStats{
		UserID:        u.ID,
		CreatedAt:     u.CreatedAt,
		ActiveDays:    history.ActiveDays(w.Location).CountBetween(w.From, w.To),
		CurrentStreak: currentStreak,
	}
	for _, g := range goals {
		if g.Date.Before(w.From) || g.Date.After(w.To) {
			continue
		}
		m.GoalsAssigned++
		if g.Completed {
			m.GoalsCompleted++
		}
	}
	return m
}
