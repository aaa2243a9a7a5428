// Package incentive decides which rewards a learner has earned.
package incentive

import (
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// Kind names an incentive.
type Kind string

const (
	KindCounselingTier1 Kind = "career_counseling_tier_1"
	KindCounselingTier2 Kind = "career_counseling_tier_2"
	KindPremiumContent  Kind = "premium_content"
	KindGroupPriority   Kind = "group_priority"
)

// AllKinds returns every kind in evaluation order.
func AllKinds() []Kind {
	return []Kind{KindCounselingTier1, KindCounselingTier2, KindPremiumContent, KindGroupPriority}
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind validates a raw kind name.
func ParseKind(v string) (Kind, error) {
	k := Kind(v)
	if !k.IsValid() {
		return "", shared.ErrUnknownIncentive
	}
	return k, nil
}

// Title is the human-readable name.
func (k Kind) Title() string {
	switch k {
	case KindCounselingTier1:
		return "Career counseling session (tier 1)"
	case KindCounselingTier2:
		return "Career counseling package (tier 2)"
	case KindPremiumContent:
		return "Premium study content"
	case KindGroupPriority:
		return "Priority group session booking"
	}
	return string(k)
}

// Criteria is the snapshot of the learner numbers that triggered an unlock.
type Criteria struct {
	Streak           int     `json:"streak"`
	Activities       int     `json:"activities"`
	Points           int     `json:"points"`
	MinSkillAttempts int     `json:"min_skill_attempts"`
	SessionsAttended int     `json:"sessions_attended"`
	AvgParticipation float64 `json:"avg_participation"`
}

// Unlock is created once per (user, kind). Only the claim fields change later.
type Unlock struct {
	ID         string
	UserID     string
	Kind       Kind
	UnlockedAt time.Time
	Criteria   Criteria
	Claimed    bool
	ClaimedAt  *time.Time
}

// Claim marks the unlock as used.
func (u *Unlock) Claim(at time.Time) error {
	if u.Claimed {
		return shared.ErrAlreadyClaimed
	}
	u.Claimed = true
	u.ClaimedAt = &at
	return nil
}
