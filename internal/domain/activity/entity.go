// Package activity defines the practice catalog, the append-only completion
// log and group-session attendance. Everything here is read-only input to
// the engine algorithms.
package activity

import (
	"sort"
	"strings"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// Difficulty is the activity tier.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// IsValid checks the tier.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Activity is an immutable catalog entry.
type Activity struct {
	ID              string
	Title           string
	Skill           shared.Skill
	Difficulty      Difficulty
	DurationMinutes int
	Points          int
	// Seq is the catalog insertion order, assigned by the store.
	Seq int64
}

// Validate checks an activity before it is added to the catalog.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidID, "activity id is required")
	}
	if strings.TrimSpace(a.Title) == "" {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidInput, "title is required")
	}
	if !a.Skill.IsValid() {
		return shared.ErrUnknownSkill
	}
	if !a.Difficulty.IsValid() {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidInput, "unknown difficulty")
	}
	if a.DurationMinutes <= 0 {
		return shared.NewDomainError("activity", "Validate", shared.ErrValueOutOfRange, "duration must be positive")
	}
	if a.Points < 0 {
		return shared.NewDomainError("activity", "Validate", shared.ErrValueOutOfRange, "points cannot be negative")
	}
	return nil
}

// Completion is an immutable record of a finished activity. Skill is copied
// from the activity at ingestion so history reads never join the catalog.
type Completion struct {
	ID           string
	UserID       string
	ActivityID   string
	Skill        shared.Skill
	Score        int
	MinutesSpent int
	CompletedAt  time.Time
}

// Validate is the ingestion boundary check.
func (c Completion) Validate() error {
	if c.UserID == "" || c.ActivityID == "" {
		return shared.NewDomainError("activity", "ValidateCompletion", shared.ErrInvalidID, "user and activity are required")
	}
	if !c.Skill.IsValid() {
		return shared.ErrUnknownSkill
	}
	if err := shared.ValidateScore(c.Score); err != nil {
		return err
	}
	if c.MinutesSpent < 0 {
		return shared.NewDomainError("activity", "ValidateCompletion", shared.ErrValueOutOfRange, "minutes spent cannot be negative")
	}
	return nil
}

// History is a user's completions ordered by CompletedAt ascending.
type History []Completion

// SortHistory orders completions by time, then ID for equal timestamps.
func SortHistory(cs []Completion) History {
	h := History(cs)
	sort.SliceStable(h, func(i, j int) bool {
		if h[i].CompletedAt.Equal(h[j].CompletedAt) {
			return h[i].ID < h[j].ID
		}
		return h[i].CompletedAt.Before(h[j].CompletedAt)
	})
	return h
}

// Until returns the prefix of the history at or before t.
func (h History) Until(t time.Time) History {
	i := sort.Search(len(h), func(i int) bool { return h[i].CompletedAt.After(t) })
	return h[:i]
}

// ForSkill filters the history to one skill, keeping order.
func (h History) ForSkill(skill shared.Skill) History {
	out := make(History, 0, len(h))
	for _, c := range h {
		if c.Skill == skill {
			out = append(out, c)
		}
	}
	return out
}

// Recent returns up to n most recent completions, oldest first.
func (h History) Recent(n int) History {
	if n <= 0 || len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// CountByActivity counts completions per activity ID.
func (h History) CountByActivity() map[string]int {
	out := make(map[string]int)
	for _, c := range h {
		out[c.ActivityID]++
	}
	return out
}

// ActiveDays returns the set of civil dates in loc with at least one completion.
func (h History) ActiveDays(loc *time.Location) DaySet {
	out := make(DaySet)
	for _, c := range h {
		out.Add(timeutil.CivilDate(c.CompletedAt, loc))
	}
	return out
}

// DaySet is a set of civil dates keyed by YYYY-MM-DD.
type DaySet map[string]struct{}

// Add inserts a civil date.
func (s DaySet) Add(day time.Time) {
	s[timeutil.FormatDate(day)] = struct{}{}
}

// Has reports whether the civil date is in the set.
func (s DaySet) Has(day time.Time) bool {
	_, ok := s[timeutil.FormatDate(day)]
	return ok
}

// CountBetween counts members in [from, to].
func (s DaySet) CountBetween(from, to time.Time) int {
	n := 0
	for d := from; !d.After(to); d = timeutil.AddDays(d, 1) {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// GroupSession is a scheduled live study group.
type GroupSession struct {
	ID          string
	Title       string
	Skill       shared.Skill
	ScheduledAt time.Time
}

// Attendance records one user's participation in a session.
type Attendance struct {
	SessionID string
	UserID    string
	// Participation is the fraction of the session the user took part in, 0–1.
	Participation float64
	AttendedAt    time.Time
}

// Validate checks the participation ratio.
func (a Attendance) Validate() error {
	if a.SessionID == "" || a.UserID == "" {
		return shared.NewDomainError("activity", "ValidateAttendance", shared.ErrInvalidID, "session and user are required")
	}
	if a.Participation < 0 || a.Participation > 1 {
		return shared.NewDomainError("activity", "ValidateAttendance", shared.ErrValueOutOfRange, "participation must be between 0 and 1")
	}
	return nil
}
