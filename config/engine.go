package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
)

// EngineEnvPrefix prefixes environment overrides, e.g.
// LEAP_ENGINE_STREAK_WEEKEND_RECOVERY=false.
const EngineEnvPrefix = "LEAP_ENGINE"

// Engine holds the tunable parameters of the engagement components.
type Engine struct {
	Goal        GoalParams        `mapstructure:"goal"`
	Streak      StreakParams      `mapstructure:"streak"`
	Skill       SkillParams       `mapstructure:"skill"`
	Leaderboard LeaderboardParams `mapstructure:"leaderboard"`
	Incentive   IncentiveParams   `mapstructure:"incentive"`
}

type GoalParams struct {
	GapMultiplier      float64       `mapstructure:"gap_multiplier"`
	RecencyWeight      float64       `mapstructure:"recency_weight"`
	NeverPracticedDays int           `mapstructure:"never_practiced_days"`
	RotationFactor     float64       `mapstructure:"rotation_factor"`
	MinDuration        int           `mapstructure:"min_duration"`
	MaxDuration        int           `mapstructure:"max_duration"`
	RecentWindow       time.Duration `mapstructure:"recent_window"`
}

type StreakParams struct {
	Milestones      []int `mapstructure:"milestones"`
	WeekendRecovery bool  `mapstructure:"weekend_recovery"`
}

type SkillParams struct {
	Window       int     `mapstructure:"window"`
	TriggerCount int     `mapstructure:"trigger_count"`
	Alpha        float64 `mapstructure:"alpha"`
	MaxChange    float64 `mapstructure:"max_change"`
}

type LeaderboardParams struct {
	PeriodDays        int     `mapstructure:"period_days"`
	ActiveWeight      float64 `mapstructure:"active_weight"`
	StreakWeight      float64 `mapstructure:"streak_weight"`
	CompletionWeight  float64 `mapstructure:"completion_weight"`
	TargetBucketWidth float64 `mapstructure:"target_bucket_width"`
	ShortTermDays     int     `mapstructure:"short_term_days"`
	MediumTermDays    int     `mapstructure:"medium_term_days"`
}

type TierParams struct {
	Streak     int `mapstructure:"streak"`
	Activities int `mapstructure:"activities"`
	Points     int `mapstructure:"points"`
}

type IncentiveParams struct {
	Tier1                TierParams `mapstructure:"tier1"`
	Tier2                TierParams `mapstructure:"tier2"`
	PremiumStreak        int        `mapstructure:"premium_streak"`
	PremiumSkillAttempts int        `mapstructure:"premium_skill_attempts"`
	GroupSessions        int        `mapstructure:"group_sessions"`
	GroupParticipation   float64    `mapstructure:"group_participation"`
}

// LoadEngine reads engine parameters from configPath, or from engine.yaml
// in ./config or the working directory when configPath is empty. A missing
// default file is not an error; a missing explicit file is.
func LoadEngine(configPath string) (*Engine, error) {
	v := viper.New()

	setEngineDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("engine")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EngineEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read engine config: %w", err)
		}
	}

	var e Engine
	if err := v.Unmarshal(&e); err != nil {
		return nil, fmt.Errorf("failed to decode engine config: %w", err)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}

	return &e, nil
}

// DefaultEngine returns the built-in parameters.
func DefaultEngine() *Engine {
	g := goal.DefaultConfig()
	s := streak.DefaultConfig()
	sk := skill.DefaultConfig()
	lb := leaderboard.DefaultConfig()
	in := incentive.DefaultConfig()

	return &Engine{
		Goal: GoalParams{
			GapMultiplier:      g.GapMultiplier,
			RecencyWeight:      g.RecencyWeight,
			NeverPracticedDays: g.NeverPracticedDays,
			RotationFactor:     g.RotationFactor,
			MinDuration:        g.MinDuration,
			MaxDuration:        g.MaxDuration,
			RecentWindow:       g.RecentWindow,
		},
		Streak: StreakParams{
			Milestones:      append([]int(nil), s.Milestones...),
			WeekendRecovery: s.WeekendRecovery,
		},
		Skill: SkillParams{
			Window:       sk.Window,
			TriggerCount: sk.TriggerCount,
			Alpha:        sk.Alpha,
			MaxChange:    sk.MaxChange,
		},
		Leaderboard: LeaderboardParams{
			PeriodDays:        lb.PeriodDays,
			ActiveWeight:      lb.ActiveWeight,
			StreakWeight:      lb.StreakWeight,
			CompletionWeight:  lb.CompletionWeight,
			TargetBucketWidth: lb.TargetBucketWidth,
			ShortTermDays:     lb.ShortTermDays,
			MediumTermDays:    lb.MediumTermDays,
		},
		Incentive: IncentiveParams{
			Tier1:                TierParams(in.Tier1),
			Tier2:                TierParams(in.Tier2),
			PremiumStreak:        in.PremiumStreak,
			PremiumSkillAttempts: in.PremiumSkillAttempts,
			GroupSessions:        in.GroupSessions,
			GroupParticipation:   in.GroupParticipation,
		},
	}
}

func setEngineDefaults(v *viper.Viper) {
	d := DefaultEngine()

	v.SetDefault("goal.gap_multiplier", d.Goal.GapMultiplier)
	v.SetDefault("goal.recency_weight", d.Goal.RecencyWeight)
	v.SetDefault("goal.never_practiced_days", d.Goal.NeverPracticedDays)
	v.SetDefault("goal.rotation_factor", d.Goal.RotationFactor)
	v.SetDefault("goal.min_duration", d.Goal.MinDuration)
	v.SetDefault("goal.max_duration", d.Goal.MaxDuration)
	v.SetDefault("goal.recent_window", d.Goal.RecentWindow)

	v.SetDefault("streak.milestones", d.Streak.Milestones)
	v.SetDefault("streak.weekend_recovery", d.Streak.WeekendRecovery)

	v.SetDefault("skill.window", d.Skill.Window)
	v.SetDefault("skill.trigger_count", d.Skill.TriggerCount)
	v.SetDefault("skill.alpha", d.Skill.Alpha)
	v.SetDefault("skill.max_change", d.Skill.MaxChange)

	v.SetDefault("leaderboard.period_days", d.Leaderboard.PeriodDays)
	v.SetDefault("leaderboard.active_weight", d.Leaderboard.ActiveWeight)
	v.SetDefault("leaderboard.streak_weight", d.Leaderboard.StreakWeight)
	v.SetDefault("leaderboard.completion_weight", d.Leaderboard.CompletionWeight)
	v.SetDefault("leaderboard.target_bucket_width", d.Leaderboard.TargetBucketWidth)
	v.SetDefault("leaderboard.short_term_days", d.Leaderboard.ShortTermDays)
	v.SetDefault("leaderboard.medium_term_days", d.Leaderboard.MediumTermDays)

	v.SetDefault("incentive.tier1.streak", d.Incentive.Tier1.Streak)
	v.SetDefault("incentive.tier1.activities", d.Incentive.Tier1.Activities)
	v.SetDefault("incentive.tier1.points", d.Incentive.Tier1.Points)
	v.SetDefault("incentive.tier2.streak", d.Incentive.Tier2.Streak)
	v.SetDefault("incentive.tier2.activities", d.Incentive.Tier2.Activities)
	v.SetDefault("incentive.tier2.points", d.Incentive.Tier2.Points)
	v.SetDefault("incentive.premium_streak", d.Incentive.PremiumStreak)
	v.SetDefault("incentive.premium_skill_attempts", d.Incentive.PremiumSkillAttempts)
	v.SetDefault("incentive.group_sessions", d.Incentive.GroupSessions)
	v.SetDefault("incentive.group_participation", d.Incentive.GroupParticipation)
}

// Validate checks the parameters for values the components cannot work with.
func (e *Engine) Validate() error {
	var errs []string

	if e.Goal.MinDuration <= 0 || e.Goal.MaxDuration < e.Goal.MinDuration {
		errs = append(errs, "goal durations must satisfy 0 < min_duration <= max_duration")
	}
	if e.Goal.NeverPracticedDays < 0 {
		errs = append(errs, "goal.never_practiced_days must not be negative")
	}

	if len(e.Streak.Milestones) == 0 {
		errs = append(errs, "streak.milestones must not be empty")
	}
	for _, m := range e.Streak.Milestones {
		if m <= 0 {
			errs = append(errs, "streak.milestones must be positive")
			break
		}
	}

	if e.Skill.Window <= 0 || e.Skill.TriggerCount <= 0 {
		errs = append(errs, "skill.window and skill.trigger_count must be positive")
	}
	if e.Skill.Alpha <= 0 || e.Skill.Alpha > 1 {
		errs = append(errs, "skill.alpha must be in (0, 1]")
	}
	if e.Skill.MaxChange <= 0 {
		errs = append(errs, "skill.max_change must be positive")
	}

	lb := e.Leaderboard
	if lb.PeriodDays <= 0 {
		errs = append(errs, "leaderboard.period_days must be positive")
	}
	if lb.ActiveWeight < 0 || lb.StreakWeight < 0 || lb.CompletionWeight < 0 {
		errs = append(errs, "leaderboard weights must not be negative")
	}
	if lb.TargetBucketWidth <= 0 {
		errs = append(errs, "leaderboard.target_bucket_width must be positive")
	}
	if lb.ShortTermDays <= 0 || lb.MediumTermDays <= lb.ShortTermDays {
		errs = append(errs, "leaderboard timeline buckets must satisfy 0 < short_term_days < medium_term_days")
	}

	if e.Incentive.GroupParticipation < 0 || e.Incentive.GroupParticipation > 1 {
		errs = append(errs, "incentive.group_participation must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("engine configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GoalConfig builds the goal assigner configuration for loc.
func (e *Engine) GoalConfig(loc *time.Location) goal.Config {
	return goal.Config{
		GapMultiplier:      e.Goal.GapMultiplier,
		RecencyWeight:      e.Goal.RecencyWeight,
		NeverPracticedDays: e.Goal.NeverPracticedDays,
		RotationFactor:     e.Goal.RotationFactor,
		MinDuration:        e.Goal.MinDuration,
		MaxDuration:        e.Goal.MaxDuration,
		RecentWindow:       e.Goal.RecentWindow,
		Location:           orUTC(loc),
	}
}

// StreakConfig builds the streak tracker configuration for loc.
// Milestones are sorted and deduplicated.
func (e *Engine) StreakConfig(loc *time.Location) streak.Config {
	ms := append([]int(nil), e.Streak.Milestones...)
	sort.Ints(ms)
	out := ms[:0]
	for _, m := range ms {
		if len(out) == 0 || m != out[len(out)-1] {
			out = append(out, m)
		}
	}
	return streak.Config{
		Milestones:      out,
		WeekendRecovery: e.Streak.WeekendRecovery,
		Location:        orUTC(loc),
	}
}

func (e *Engine) SkillConfig() skill.Config {
	return skill.Config(e.Skill)
}

func (e *Engine) LeaderboardConfig() leaderboard.Config {
	return leaderboard.Config(e.Leaderboard)
}

func (e *Engine) IncentiveConfig() incentive.Config {
	return incentive.Config{
		Tier1:                incentive.Threshold(e.Incentive.Tier1),
		Tier2:                incentive.Threshold(e.Incentive.Tier2),
		PremiumStreak:        e.Incentive.PremiumStreak,
		PremiumSkillAttempts: e.Incentive.PremiumSkillAttempts,
		GroupSessions:        e.Incentive.GroupSessions,
		GroupParticipation:   e.Incentive.GroupParticipation,
	}
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
