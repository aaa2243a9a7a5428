// Package goal picks one practice activity per user per calendar day.
package goal

import (
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// Rationale records why a skill won the day.
type Rationale struct {
	Gap      float64 `json:"gap"`
	Penalty  float64 `json:"penalty"`
	Priority float64 `json:"priority"`
	// Rotated is true when the chosen skill's priority was halved for
	// having been practised the day before.
	Rotated bool `json:"rotated"`
}

// DailyGoal is the single goal of a user for a civil date. Once created it
// only changes to mark completion.
type DailyGoal struct {
	ID          string
	UserID      string
	Date        time.Time
	ActivityID  string
	Skill       shared.Skill
	Rationale   Rationale
	Completed   bool
	CompletedAt *time.Time
	AssignedAt  time.Time
}

// MarkCompleted flips the completion flag. Returns false if it was already set.
func (g *DailyGoal) MarkCompleted(at time.Time) bool {
	if g.Completed {
		return false
	}
	g.Completed = true
	g.CompletedAt = &at
	return true
}

// Matches reports whether a completion of activityID fulfils this goal.
func (g *DailyGoal) Matches(activityID string) bool {
	return g.ActivityID == activityID
}
