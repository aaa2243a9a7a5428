package shared

import (
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// Skill Value Object
// ══════════════════════════════════════════════════════════════════════════════

// Skill is one of the four IELTS skills.
type Skill string

const (
	SkillListening Skill = "listening"
	SkillReading   Skill = "reading"
	SkillSpeaking  Skill = "speaking"
	SkillWriting   Skill = "writing"
)

// AllSkills returns the tracked skills in lexicographic order.
func AllSkills() []Skill {
	return []Skill{SkillListening, SkillReading, SkillSpeaking, SkillWriting}
}

// IsValid checks if the skill is one of the tracked skills.
func (s Skill) IsValid() bool {
	switch s {
	case SkillListening, SkillReading, SkillSpeaking, SkillWriting:
		return true
	}
	return false
}

// String returns the string representation.
func (s Skill) String() string {
	return string(s)
}

// ParseSkill parses a skill name case-insensitively.
func ParseSkill(v string) (Skill, error) {
	s := Skill(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", WrapError("activity", "ParseSkill", ErrInvalidInput, "unknown skill", fmt.Errorf("%q", v))
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// Band Score Value Object
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinBand and MaxBand bound every skill level and target score.
	MinBand = 0.0
	MaxBand = 9.0
)

// ClampBand clamps a level into [MinBand, MaxBand].
func ClampBand(v float64) float64 {
	if v < MinBand {
		return MinBand
	}
	if v > MaxBand {
		return MaxBand
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// Completion Score Value Object
// ══════════════════════════════════════════════════════════════════════════════

const (
	MinScore = 0
	MaxScore = 100
)

// ValidateScore rejects scores outside 0–100.
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return WrapError("activity", "ValidateScore", ErrInvalidScore,
			"completion score rejected", fmt.Errorf("got %d", score))
	}
	return nil
}
