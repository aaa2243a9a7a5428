package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/application/command"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// Pass names, in the order the cycle runs them.
const (
	PassStreaks     = "advance_streaks"
	PassGoals       = "assign_goals"
	PassLeaderboard = "rebuild_leaderboards"
	PassIncentives  = "evaluate_incentives"
)

// CycleHandlers are the per-unit operations of the daily cycle.
type CycleHandlers struct {
	Advance  *command.AdvanceStreakHandler
	Assign   *command.AssignDailyGoalHandler
	Rebuild  *command.RebuildLeaderboardHandler
	Evaluate *command.EvaluateIncentivesHandler
}

// Cycle is the daily batch: close elapsed streak days, assign today's
// goals, rebuild every cohort, then evaluate incentives on the fresh streaks.
type Cycle struct {
	runner   *Runner
	users    learner.Repository
	handlers CycleHandlers
	log      *logger.Logger
}

// CycleReport collects the report of every pass that ran.
type CycleReport struct {
	AsOf   time.Time
	Passes []Report
}

// Failed returns the number of failed units across all passes.
func (r CycleReport) Failed() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Failed()
	}
	return n
}

// NewCycle creates a Cycle.
func NewCycle(runner *Runner, users learner.Repository, handlers CycleHandlers, log *logger.Logger) *Cycle {
	if log == nil {
		log = logger.Nop()
	}
	return &Cycle{
		runner:   runner,
		users:    users,
		handlers: handlers,
		log:      log.Named("cycle"),
	}
}

// Run executes the four passes for asOf. Failed units are reported and do
// not stop later passes; only a cancelled context ends the cycle early.
func (c *Cycle) Run(ctx context.Context, asOf time.Time) (CycleReport, error) {
	report := CycleReport{AsOf: asOf}

	users, err := c.users.List(ctx)
	if err != nil {
		return report, fmt.Errorf("cycle: failed to list users: %w", err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	c.log.Info("daily cycle started", logger.Date(asOf), logger.Int("users", len(ids)))

	cohorts := &cohortIndex{list: c.handlers.Rebuild.Cohorts}
	passes := []struct {
		name string
		keys func(context.Context) ([]string, error)
		fn   func(context.Context, string) error
	}{
		{PassStreaks, staticKeys(ids), func(ctx context.Context, id string) error {
			_, err := c.handlers.Advance.Handle(ctx, command.AdvanceStreakCommand{UserID: id, AsOf: asOf})
			return err
		}},
		{PassGoals, staticKeys(ids), func(ctx context.Context, id string) error {
			_, err := c.handlers.Assign.Handle(ctx, command.AssignDailyGoalCommand{UserID: id, AsOf: asOf})
			return err
		}},
		{PassLeaderboard, cohorts.keys, func(ctx context.Context, key string) error {
			cohort, err := cohorts.lookup(key)
			if err != nil {
				return err
			}
			_, err = c.handlers.Rebuild.RebuildCohort(ctx, cohort, asOf)
			return err
		}},
		{PassIncentives, staticKeys(ids), func(ctx context.Context, id string) error {
			_, err := c.handlers.Evaluate.Handle(ctx, command.EvaluateIncentivesCommand{UserID: id, AsOf: asOf})
			return err
		}},
	}

	for _, p := range passes {
		keys, err := p.keys(ctx)
		if err != nil {
			return report, fmt.Errorf("cycle: %s: %w", p.name, err)
		}
		r, err := c.runner.Run(ctx, p.name, keys, p.fn)
		report.Passes = append(report.Passes, r)
		if err != nil {
			return report, fmt.Errorf("cycle: %s interrupted: %w", p.name, err)
		}
	}

	c.log.Info("daily cycle finished", logger.Date(asOf), logger.Int("failed", report.Failed()))
	return report, nil
}

// cohortIndex remembers the CohortKey behind every unit key of the
// leaderboard pass, so a unit rebuilds exactly the cohort that was listed.
type cohortIndex struct {
	list   func(context.Context) ([]leaderboard.CohortKey, error)
	byName map[string]leaderboard.CohortKey
}

func (ci *cohortIndex) keys(ctx context.Context) ([]string, error) {
	cohorts, err := ci.list(ctx)
	if err != nil {
		return nil, err
	}
	ci.byName = make(map[string]leaderboard.CohortKey, len(cohorts))
	keys := make([]string, 0, len(cohorts))
	for _, k := range cohorts {
		ci.byName[k.String()] = k
		keys = append(keys, k.String())
	}
	return keys, nil
}

func (ci *cohortIndex) lookup(key string) (leaderboard.CohortKey, error) {
	if k, ok := ci.byName[key]; ok {
		return k, nil
	}
	return leaderboard.ParseCohortKey(key)
}

func staticKeys(keys []string) func(context.Context) ([]string, error) {
	return func(context.Context) ([]string, error) { return keys, nil }
}
