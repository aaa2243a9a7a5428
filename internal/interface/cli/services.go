package cli

import (
	"fmt"
	"io"

	"github.com/leap-ielts/leap-engagement/config"
	"github.com/leap-ielts/leap-engagement/internal/application/batch"
	"github.com/leap-ielts/leap-engagement/internal/application/command"
	"github.com/leap-ielts/leap-engagement/internal/application/eventhandler"
	"github.com/leap-ielts/leap-engagement/internal/application/query"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/messaging"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/persistence/sqlite"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVICES
// Handlers of one invocation, wired over the SQLite store and an in-process
// event bus.
// ══════════════════════════════════════════════════════════════════════════════

type services struct {
	store *sqlite.Store
	bus   *messaging.InMemoryEventBus

	ranker  *leaderboard.Ranker
	tracker *streak.Tracker

	record   *command.RecordCompletionHandler
	assign   *command.AssignDailyGoalHandler
	advance  *command.AdvanceStreakHandler
	rebuild  *command.RebuildLeaderboardHandler
	evaluate *command.EvaluateIncentivesHandler
	claim    *command.ClaimIncentiveHandler

	board    *query.GetLeaderboardHandler
	progress *query.GetProgressSummaryHandler

	cycle *batch.Cycle
}

// services opens the store and builds the handlers on first use.
func (a *app) services(out io.Writer) (*services, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	store, err := sqlite.Open(a.dbPath, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: a.log})
	if err := a.subscribe(bus, out); err != nil {
		_ = store.Close()
		return nil, err
	}

	eng := a.engine
	assigner := goal.NewAssigner(eng.GoalConfig(a.loc))
	tracker := streak.NewTracker(eng.StreakConfig(a.loc))
	estimator := skill.NewEstimator(eng.SkillConfig())
	ranker := leaderboard.NewRanker(eng.LeaderboardConfig())
	evaluator := incentive.NewEvaluator(eng.IncentiveConfig())

	users := store.Users()
	completions := store.Completions()
	boards := store.Leaderboard()

	advance := command.NewAdvanceStreakHandler(users, completions, store.Streaks(), tracker, bus, a.log)
	evaluate := command.NewEvaluateIncentivesHandler(users, store.Streaks(), completions, store.Attendance(), store.Incentives(), evaluator, bus, a.log)
	assign := command.NewAssignDailyGoalHandler(users, store.Catalog(), completions, store.Goals(), assigner, bus, a.log)
	// A single process owns the file, so cohort rebuilds need no lock and no cache.
	rebuild := command.NewRebuildLeaderboardHandler(users, boards, boards, nil, nil, ranker, bus, a.log,
		command.RebuildLeaderboardConfig{Location: a.loc})

	svc := &services{
		store:    store,
		bus:      bus,
		ranker:   ranker,
		tracker:  tracker,
		advance:  advance,
		evaluate: evaluate,
		assign:   assign,
		rebuild:  rebuild,
		record: command.NewRecordCompletionHandler(command.RecordCompletionDeps{
			Users:       users,
			Catalog:     store.Catalog(),
			Completions: completions,
			Goals:       store.Goals(),
			Skills:      store.Skills(),
			Estimator:   estimator,
			Streaks:     advance,
			Incentives:  evaluate,
			Tx:          store,
			Publisher:   bus,
			Logger:      a.log,
			Location:    a.loc,
		}),
		claim:    command.NewClaimIncentiveHandler(store.Incentives(), bus, a.log),
		board:    query.NewGetLeaderboardHandler(boards, nil, nil, a.log),
		progress: query.NewGetProgressSummaryHandler(users, store.Streaks(), tracker, completions, store.Skills(), store.Goals(), store.Incentives(), boards),
	}

	runner := batch.NewRunner(batch.Config{
		Concurrency: a.cfg.Worker.Concurrency,
		Attempts:    a.cfg.Worker.RetryAttempts,
		Backoff:     a.cfg.Worker.RetryDelay,
	}, a.log)
	svc.cycle = batch.NewCycle(runner, users, batch.CycleHandlers{
		Advance:  advance,
		Assign:   assign,
		Rebuild:  rebuild,
		Evaluate: evaluate,
	}, a.log)

	a.svc = svc
	return svc, nil
}

// subscribe attaches the optional event consumers selected by feature flags.
func (a *app) subscribe(bus *messaging.InMemoryEventBus, out io.Writer) error {
	flags := a.cfg.Features
	if flags == nil {
		flags = config.LoadFeatureFlags()
	}

	if flags.Enabled(config.FeatureAuditLog) {
		if err := eventhandler.NewAuditHandler(a.log).Register(bus); err != nil {
			return fmt.Errorf("failed to register audit handler: %w", err)
		}
	}

	notify := func(m eventhandler.Movement) {
		if flags.EnabledFor(config.FeatureNotifyRankChange, m.UserID) {
			fmt.Fprintln(out, formatMovement(m))
		}
	}
	onRank := eventhandler.NewOnRankChangedHandler(eventhandler.DefaultRankChangedConfig(), notify, a.log)
	if err := onRank.Register(bus); err != nil {
		return fmt.Errorf("failed to register rank handler: %w", err)
	}
	return nil
}

func (s *services) close() error {
	if err := s.bus.Close(); err != nil {
		_ = s.store.Close()
		return err
	}
	return s.store.Close()
}
