package incentive

import (
	"time"

	"github.com/google/uuid"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// Threshold is an "any of" rule: one satisfied field is enough.
// A zero field is ignored.
type Threshold struct {
	Streak     int
	Activities int
	Points     int
}

func (t Threshold) met(in Input) bool {
	return (t.Streak > 0 && in.Streak >= t.Streak) ||
		(t.Activities > 0 && in.Activities >= t.Activities) ||
		(t.Points > 0 && in.Points >= t.Points)
}

// Config holds the unlock thresholds.
type Config struct {
	Tier1 Threshold
	Tier2 Threshold

	PremiumStreak        int
	PremiumSkillAttempts int

	GroupSessions      int
	GroupParticipation float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Tier1:                Threshold{Streak: 7, Activities: 30, Points: 500},
		Tier2:                Threshold{Streak: 30, Activities: 100, Points: 2000},
		PremiumStreak:        14,
		PremiumSkillAttempts: 5,
		GroupSessions:        5,
		GroupParticipation:   0.7,
	}
}

// Input is everything the evaluator looks at for one user.
type Input struct {
	UserID        string
	Streak        int
	Activities    int
	Points        int
	SkillAttempts map[shared.Skill]int
	TrackedSkills []shared.Skill

	SessionsAttended int
	AvgParticipation float64
}

func (in Input) minSkillAttempts() int {
	if len(in.TrackedSkills) == 0 {
		return 0
	}
	lowest := -1
	for _, sk := range in.TrackedSkills {
		n := in.SkillAttempts[sk]
		if lowest < 0 || n < lowest {
			lowest = n
		}
	}
	return lowest
}

func (in Input) criteria() Criteria {
	return Criteria{
		Streak:           in.Streak,
		Activities:       in.Activities,
		Points:           in.Points,
		MinSkillAttempts: in.minSkillAttempts(),
		SessionsAttended: in.SessionsAttended,
		AvgParticipation: in.AvgParticipation,
	}
}

// Evaluator checks unlock criteria.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// UnlockID derives a stable ID from the (user, kind) key.
func UnlockID(userID string, kind Kind) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("leap/incentive/"+userID+"/"+string(kind))).String()
}

// Met reports whether the criteria of kind are satisfied, regardless of
// earlier unlocks.
func (e *Evaluator) Met(kind Kind, in Input) bool {
	switch kind {
	case KindCounselingTier1:
		return e.cfg.Tier1.met(in)
	case KindCounselingTier2:
		return e.cfg.Tier2.met(in)
	case KindPremiumContent:
		// A user with no tracked skill cannot satisfy "every skill".
		return len(in.TrackedSkills) > 0 &&
			in.Streak >= e.cfg.PremiumStreak &&
			in.minSkillAttempts() >= e.cfg.PremiumSkillAttempts
	case KindGroupPriority:
		return in.SessionsAttended >= e.cfg.GroupSessions &&
			in.AvgParticipation >= e.cfg.GroupParticipation
	}
	return false
}

// Evaluate returns the kinds newly unlocked by in. Kinds present in existing
// are never returned again, so repeated calls on the same state are no-ops
// once the first result is persisted.
func (e *Evaluator) Evaluate(in Input, existing []Unlock, now time.Time) []Unlock {
	have := make(map[Kind]bool, len(existing))
	for _, u := range existing {
		have[u.Kind] = true
	}

	var out []Unlock
	for _, kind := range AllKinds() {
		if have[kind] || !e.Met(kind, in) {
			continue
		}
		out = append(out, Unlock{
			ID:         UnlockID(in.UserID, kind),
			UserID:     in.UserID,
			Kind:       kind,
			UnlockedAt: now,
			Criteria:   in.criteria(),
		})
	}
	return out
}
