package learner

import (
	"sort"
	"strings"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER
// ══════════════════════════════════════════════════════════════════════════════

// User - ученик, готовящийся к IELTS.
type User struct {
	// ID - UUID пользователя.
	ID string

	// Username - уникальное имя.
	Username string

	// TargetScore - целевой балл (0.0–9.0).
	TargetScore float64

	// TimelineDays - длительность подготовки в днях.
	TimelineDays int

	// SkillLevels - текущий уровень по каждому навыку.
	SkillLevels map[shared.Skill]float64

	// Points - накопленные очки.
	Points int

	// ActivitiesCompleted - сколько заданий выполнено всего.
	ActivitiesCompleted int

	// CreatedAt - момент регистрации.
	CreatedAt time.Time
}

// NewUserParams - параметры для создания пользователя.
type NewUserParams struct {
	ID           string
	Username     string
	TargetScore  float64
	TimelineDays int
	CreatedAt    time.Time
}

// NewUser создаёт пользователя с нулевыми уровнями по всем навыкам.
func NewUser(p NewUserParams) (*User, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.NewDomainError("learner", "NewUser", shared.ErrInvalidID, "user id is required")
	}
	if strings.TrimSpace(p.Username) == "" {
		return nil, shared.NewDomainError("learner", "NewUser", shared.ErrInvalidInput, "username is required")
	}
	if p.TargetScore < shared.MinBand || p.TargetScore > shared.MaxBand {
		return nil, shared.ErrInvalidTarget
	}
	if p.TimelineDays <= 0 {
		return nil, shared.NewDomainError("learner", "NewUser", shared.ErrValueOutOfRange, "timeline must be positive")
	}

	levels := make(map[shared.Skill]float64, 4)
	for _, s := range shared.AllSkills() {
		levels[s] = 0
	}

	return &User{
		ID:           p.ID,
		Username:     strings.TrimSpace(p.Username),
		TargetScore:  p.TargetScore,
		TimelineDays: p.TimelineDays,
		SkillLevels:  levels,
		CreatedAt:    p.CreatedAt,
	}, nil
}

// Level возвращает уровень навыка (0 если навык ещё не оценивался).
func (u *User) Level(skill shared.Skill) float64 {
	if u.SkillLevels == nil {
		return 0
	}
	return u.SkillLevels[skill]
}

// SetLevel устанавливает уровень с ограничением [0, 9].
func (u *User) SetLevel(skill shared.Skill, level float64) {
	if u.SkillLevels == nil {
		u.SkillLevels = make(map[shared.Skill]float64, 4)
	}
	u.SkillLevels[skill] = shared.ClampBand(level)
}

// RecordCompletion начисляет очки и увеличивает счётчик заданий.
func (u *User) RecordCompletion(points int) {
	if points > 0 {
		u.Points += points
	}
	u.ActivitiesCompleted++
}

// TrackedSkills - навыки, по которым ведётся учёт, в лексикографическом порядке.
func (u *User) TrackedSkills() []shared.Skill {
	out := make([]shared.Skill, 0, len(u.SkillLevels))
	for s := range u.SkillLevels {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone возвращает глубокую копию.
func (u *User) Clone() *User {
	c := *u
	c.SkillLevels = make(map[shared.Skill]float64, len(u.SkillLevels))
	for k, v := range u.SkillLevels {
		c.SkillLevels[k] = v
	}
	return &c
}
