package goal

import (
	"math"
	"sort"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

const epsilon = 1e-9

// ErrNoEligibleActivity is returned when nothing in the catalog fits the
// chosen skill. Retrying with the same inputs yields the same result.
var ErrNoEligibleActivity = shared.NewDomainError("goal", "Assign", shared.ErrNoEligibleActivity,
	"no activity satisfies the goal filter")

// Config holds the assignment parameters.
type Config struct {
	GapMultiplier float64
	RecencyWeight float64
	// NeverPracticedDays is the day count charged to a skill with no history.
	NeverPracticedDays int
	// RotationFactor scales the priority of yesterday's skill.
	RotationFactor float64
	MinDuration    int
	MaxDuration    int
	// RecentWindow excludes activities completed this recently.
	RecentWindow time.Duration
	Location     *time.Location
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GapMultiplier:      2.0,
		RecencyWeight:      0.1,
		NeverPracticedDays: 30,
		RotationFactor:     0.5,
		MinDuration:        5,
		MaxDuration:        15,
		RecentWindow:       24 * time.Hour,
		Location:           time.UTC,
	}
}

// Input is everything the assigner needs, read as of AsOf.
type Input struct {
	User *learner.User
	// Today is the civil date the goal is for.
	Today time.Time
	AsOf  time.Time
	// Catalog must be in insertion order.
	Catalog []activity.Activity
	History activity.History
}

// Decision is the chosen skill and activity.
type Decision struct {
	Skill     shared.Skill
	Activity  activity.Activity
	Rationale Rationale
	// Scores holds every skill's adjusted priority, for logging.
	Scores map[shared.Skill]float64
}

// Assigner implements the daily goal decision. It holds no state besides
// its configuration and is safe for concurrent use.
type Assigner struct {
	cfg Config
}

// NewAssigner creates an Assigner.
func NewAssigner(cfg Config) *Assigner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Assigner{cfg: cfg}
}

// Config returns the assigner configuration.
func (a *Assigner) Config() Config {
	return a.cfg
}

type skillScore struct {
	skill    shared.Skill
	gap      float64
	penalty  float64
	priority float64
	rotated  bool
}

// Choose selects the skill and the activity for Today.
func (a *Assigner) Choose(in Input) (Decision, error) {
	skills := in.User.TrackedSkills()
	if len(skills) == 0 {
		return Decision{}, ErrNoEligibleActivity
	}

	scores := a.scoreSkills(in, skills)
	best := pickSkill(scores)

	chosen, ok := a.pickActivity(in, best.skill)
	if !ok {
		return Decision{}, ErrNoEligibleActivity
	}

	all := make(map[shared.Skill]float64, len(scores))
	for _, s := range scores {
		all[s.skill] = s.priority
	}

	return Decision{
		Skill:    best.skill,
		Activity: chosen,
		Rationale: Rationale{
			Gap:      best.gap,
			Penalty:  best.penalty,
			Priority: best.priority,
			Rotated:  best.rotated,
		},
		Scores: all,
	}, nil
}

func (a *Assigner) scoreSkills(in Input, skills []shared.Skill) []skillScore {
	yesterday := timeutil.AddDays(in.Today, -1)
	lastPractised := make(map[shared.Skill]time.Time)
	practisedYesterday := make(map[shared.Skill]bool)
	for _, c := range in.History {
		day := timeutil.CivilDate(c.CompletedAt, a.cfg.Location)
		lastPractised[c.Skill] = day
		if day.Equal(yesterday) {
			practisedYesterday[c.Skill] = true
		}
	}

	scores := make([]skillScore, 0, len(skills))
	maxPenalty := 0.0
	var never []int
	for _, s := range skills {
		sc := skillScore{
			skill: s,
			gap:   math.Max(0, in.User.TargetScore-in.User.Level(s)),
		}
		if last, ok := lastPractised[s]; ok {
			days := timeutil.DaysBetween(last, in.Today)
			if days < 0 {
				days = 0
			}
			sc.penalty = a.cfg.RecencyWeight * float64(days)
			maxPenalty = math.Max(maxPenalty, sc.penalty)
		} else {
			never = append(never, len(scores))
		}
		scores = append(scores, sc)
	}

	neverPenalty := math.Max(maxPenalty, a.cfg.RecencyWeight*float64(a.cfg.NeverPracticedDays))
	for _, i := range never {
		scores[i].penalty = neverPenalty
	}

	withGap := 0
	for _, sc := range scores {
		if sc.gap > epsilon {
			withGap++
		}
	}

	for i := range scores {
		sc := &scores[i]
		sc.priority = sc.gap*a.cfg.GapMultiplier + sc.penalty

		onlyGap := withGap == 1 && sc.gap > epsilon
		if practisedYesterday[sc.skill] && !onlyGap {
			sc.priority *= a.cfg.RotationFactor
			sc.rotated = true
		}
	}

	return scores
}

// pickSkill orders by priority desc, raw gap desc, then skill name.
func pickSkill(scores []skillScore) skillScore {
	sorted := make([]skillScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if math.Abs(a.priority-b.priority) > epsilon {
			return a.priority > b.priority
		}
		if math.Abs(a.gap-b.gap) > epsilon {
			return a.gap > b.gap
		}
		return a.skill < b.skill
	})
	return sorted[0]
}

func (a *Assigner) pickActivity(in Input, skill shared.Skill) (activity.Activity, bool) {
	var candidates []activity.Activity
	for _, act := range in.Catalog {
		if act.Skill != skill {
			continue
		}
		if act.DurationMinutes < a.cfg.MinDuration || act.DurationMinutes > a.cfg.MaxDuration {
			continue
		}
		candidates = append(candidates, act)
	}
	if len(candidates) == 0 {
		return activity.Activity{}, false
	}

	cutoff := in.AsOf.Add(-a.cfg.RecentWindow)
	recent := make(map[string]bool)
	for _, c := range in.History {
		if c.CompletedAt.After(cutoff) && !c.CompletedAt.After(in.AsOf) {
			recent[c.ActivityID] = true
		}
	}
	fresh := make([]activity.Activity, 0, len(candidates))
	for _, act := range candidates {
		if !recent[act.ID] {
			fresh = append(fresh, act)
		}
	}
	if len(fresh) > 0 {
		candidates = fresh
	}

	counts := in.History.CountByActivity()
	best := candidates[0]
	for _, act := range candidates[1:] {
		ca, cb := counts[act.ID], counts[best.ID]
		if ca < cb || (ca == cb && act.Seq < best.Seq) {
			best = act
		}
	}
	return best, true
}
