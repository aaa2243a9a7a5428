// Package skill estimates a 0–9 band level per skill from recent scores.
//
// The estimator is a pure function of a snapshot and a completion window:
// running it twice on the same input returns the same level, which is what
// reconciliation jobs and tests rely on.
package skill

import (
	"math"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// Config holds the estimator parameters.
type Config struct {
	// Window is how many recent completions feed one update.
	Window int
	// TriggerCount: an update runs after every TriggerCount-th completion of a skill.
	TriggerCount int
	// Alpha is the exponential smoothing factor.
	Alpha float64
	// MaxChange caps one update in either direction.
	MaxChange float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Window:       10,
		TriggerCount: 5,
		Alpha:        0.3,
		MaxChange:    0.5,
	}
}

// Snapshot is the stored per-user, per-skill estimate.
type Snapshot struct {
	UserID string
	Skill  shared.Skill
	Level  float64
	// RecentScores holds up to Window most recent raw scores, oldest first.
	RecentScores []int
	// AppliedCount is the completion count the level was last computed at.
	AppliedCount int
	UpdatedAt    time.Time
}

// NewSnapshot starts a snapshot at the given level.
func NewSnapshot(userID string, skill shared.Skill, level float64) Snapshot {
	return Snapshot{UserID: userID, Skill: skill, Level: shared.ClampBand(level)}
}

// Adjustment maps a 0–100 score to its tier adjustment.
func Adjustment(score int) float64 {
	switch {
	case score >= 90:
		return 0.3
	case score >= 80:
		return 0.2
	case score >= 70:
		return 0.1
	case score >= 60:
		return 0.0
	case score >= 50:
		return -0.1
	default:
		return -0.2
	}
}

// Estimator applies the smoothing update.
type Estimator struct {
	cfg Config
}

// NewEstimator creates an Estimator.
func NewEstimator(cfg Config) *Estimator {
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.TriggerCount <= 0 {
		cfg.TriggerCount = 1
	}
	return &Estimator{cfg: cfg}
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// ShouldUpdate reports whether the count-th completion of a skill triggers an
// update that the snapshot has not applied yet.
func (e *Estimator) ShouldUpdate(s Snapshot, count int) bool {
	return count > 0 && count%e.cfg.TriggerCount == 0 && count > s.AppliedCount
}

// Update recomputes the level from the window. window must hold completions
// of s.Skill, oldest first; only the last Window entries are used.
// count is the total completion count of the skill the window ends at.
func (e *Estimator) Update(s Snapshot, window activity.History, count int, at time.Time) Snapshot {
	recent := window.Recent(e.cfg.Window)

	next := s
	next.RecentScores = make([]int, len(recent))
	for i, c := range recent {
		next.RecentScores[i] = c.Score
	}
	next.AppliedCount = count
	next.UpdatedAt = at

	if len(recent) == 0 {
		return next
	}

	sum := 0.0
	for _, c := range recent {
		sum += Adjustment(c.Score)
	}
	delta := sum / float64(len(recent))

	current := s.Level
	proposed := (1-e.cfg.Alpha)*current + e.cfg.Alpha*(current+delta)

	change := proposed - current
	if math.Abs(change) > e.cfg.MaxChange {
		change = math.Copysign(e.cfg.MaxChange, change)
	}
	next.Level = shared.ClampBand(current + change)
	return next
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Progress summarises one skill for reporting.
type Progress struct {
	Skill        shared.Skill
	Level        float64
	Target       float64
	Gap          float64
	Attempts     int
	RecentScores []int
}

// Summary reports every tracked skill of a user against the target.
func Summary(target float64, skills []shared.Skill, snapshots map[shared.Skill]Snapshot, attempts map[shared.Skill]int) []Progress {
	out := make([]Progress, 0, len(skills))
	for _, sk := range skills {
		snap := snapshots[sk]
		out = append(out, Progress{
			Skill:        sk,
			Level:        round(snap.Level, 1),
			Target:       target,
			Gap:          round(math.Max(0, target-snap.Level), 1),
			Attempts:     attempts[sk],
			RecentScores: snap.RecentScores,
		})
	}
	return out
}
