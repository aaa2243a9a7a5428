// Package main - точка входа для ежедневного прогона LEAP Engagement Engine.
//
// Worker запускается раз в сутки внешним планировщиком (cron, k8s CronJob),
// выполняет один цикл и завершается:
// - закрывает прошедшие дни серий всех учеников
// - назначает цели на сегодня
// - пересчитывает рейтинги когорт
// - проверяет и выдаёт награды
//
// Данные хранятся в PostgreSQL, Redis используется для кеша рейтингов,
// блокировок пересчёта когорт и трансляции доменных событий.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leap-ielts/leap-engagement/config"
	"github.com/leap-ielts/leap-engagement/internal/application/batch"
	"github.com/leap-ielts/leap-engagement/internal/application/command"
	"github.com/leap-ielts/leap-engagement/internal/application/eventhandler"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/messaging"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/persistence/postgres"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/persistence/redis"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
		os.Exit(1)
	}
}

// run собирает зависимости и выполняет один ежедневный цикл.
func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	engine, err := config.LoadEngine(cfg.App.EngineConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load engine config: %w", err)
	}

	loc := cfg.App.Location
	if loc == nil {
		loc = time.UTC
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.NewFromSettings(cfg.App.LogFormat, cfg.App.LogLevel).Named("worker")
	defer log.Sync()

	log.Info("starting LEAP worker",
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
		logger.String("timezone", loc.String()),
	)

	asOf := time.Now().In(loc)
	if cfg.Worker.AsOf != "" {
		if asOf, err = timeutil.ParseInstant(cfg.Worker.AsOf, loc); err != nil {
			return fmt.Errorf("invalid WORKER_AS_OF: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to PostgreSQL...")

	conn, err := postgres.NewConnection(ctx, cfg.Database.Postgres())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. МИГРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	applied, err := postgres.NewMigrator(conn).Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database ready", logger.Int("migrations_applied", applied))

	store := postgres.NewStore(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	flags := cfg.Features
	if flags == nil {
		flags = config.LoadFeatureFlags()
	}

	var (
		boardCache leaderboard.Cache
		locker     leaderboard.Locker
		redisPub   shared.EventPublisher
	)
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(cfg.Redis.Cache())
		if err != nil {
			// Рейтинги всё равно сохраняются в PostgreSQL.
			log.Warn("redis unavailable, continuing without cache and locks", logger.Err(err))
		} else {
			defer cache.Close()
			locker = redis.NewCohortLocker(cache)
			if flags.Enabled(config.FeatureLeaderboardCache) {
				boardCache = redis.NewLeaderboardCache(cache)
			}
			if flags.Enabled(config.FeatureEventsFanout) {
				redisPub = redis.NewEventPublisher(cache)
			}
			log.Info("redis connected", logger.String("addr", cfg.Redis.Cache().Addr()))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: cfg.Worker.Concurrency,
		Logger:         log,
	})

	if flags.Enabled(config.FeatureAuditLog) {
		if err := eventhandler.NewAuditHandler(log).Register(bus); err != nil {
			return fmt.Errorf("failed to register audit handler: %w", err)
		}
	}
	notify := func(m eventhandler.Movement) {
		if flags.EnabledFor(config.FeatureNotifyRankChange, m.UserID) {
			log.Info("rank movement",
				logger.UserID(m.UserID),
				logger.Cohort(m.Cohort),
				logger.Int("old_rank", m.OldRank),
				logger.Int("new_rank", m.NewRank),
			)
		}
	}
	if err := eventhandler.NewOnRankChangedHandler(eventhandler.DefaultRankChangedConfig(), notify, log).Register(bus); err != nil {
		return fmt.Errorf("failed to register rank handler: %w", err)
	}

	var publisher shared.EventPublisher = bus
	if redisPub != nil {
		publisher = messaging.Fanout{bus, redisPub}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ДОМЕННЫЕ СЕРВИСЫ И ОБРАБОТЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	users := store.Users()
	completions := store.Completions()
	boards := store.Leaderboard()

	advance := command.NewAdvanceStreakHandler(users, completions, store.Streaks(),
		streak.NewTracker(engine.StreakConfig(loc)), publisher, log)
	assign := command.NewAssignDailyGoalHandler(users, store.Catalog(), completions, store.Goals(),
		goal.NewAssigner(engine.GoalConfig(loc)), publisher, log)
	rebuild := command.NewRebuildLeaderboardHandler(users, boards, boards, boardCache, locker,
		leaderboard.NewRanker(engine.LeaderboardConfig()), publisher, log,
		command.RebuildLeaderboardConfig{LockTTL: cfg.Worker.LockTTL, Location: loc})
	evaluate := command.NewEvaluateIncentivesHandler(users, store.Streaks(), completions, store.Attendance(),
		store.Incentives(), incentive.NewEvaluator(engine.IncentiveConfig()), publisher, log)

	runner := batch.NewRunner(batch.Config{
		Concurrency: cfg.Worker.Concurrency,
		Attempts:    cfg.Worker.RetryAttempts,
		Backoff:     cfg.Worker.RetryDelay,
	}, log)
	cycle := batch.NewCycle(runner, users, batch.CycleHandlers{
		Advance:  advance,
		Assign:   assign,
		Rebuild:  rebuild,
		Evaluate: evaluate,
	}, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ЕЖЕДНЕВНЫЙ ЦИКЛ
	// ─────────────────────────────────────────────────────────────────────────
	runCycle := func(ctx context.Context, asOf time.Time) error {
		log.Info("daily cycle started", logger.Date(timeutil.CivilDate(asOf, loc)))
		report, err := cycle.Run(ctx, asOf)
		logReport(log, report)
		if err != nil {
			return fmt.Errorf("daily cycle: %w", err)
		}
		if n := report.Failed(); n > 0 {
			return fmt.Errorf("daily cycle finished with %d failure(s)", n)
		}
		log.Info("daily cycle completed successfully")
		return nil
	}

	workCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- runCycle(workCtx, asOf) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-done:
	case sig := <-sigCh:
		// ─────────────────────────────────────────────────────────────────
		// 9. GRACEFUL SHUTDOWN
		// ─────────────────────────────────────────────────────────────────
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
		log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
		stop()

		select {
		case runErr = <-done:
		case <-time.After(cfg.App.ShutdownTimeout):
			return errors.New("daily cycle did not stop within the shutdown timeout")
		}
	}

	if err := bus.Close(); err != nil {
		log.Warn("failed to close event bus", logger.Err(err))
	}
	if runErr != nil {
		return runErr
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// logReport пишет итоги каждого прохода и все неудачные ключи.
func logReport(log *logger.Logger, report batch.CycleReport) {
	for _, p := range report.Passes {
		log.Info("pass finished",
			logger.Operation(p.Name),
			logger.Int("total", p.Total),
			logger.Int("succeeded", p.Succeeded),
			logger.Int("failed", p.Failed()),
			logger.Latency(p.Duration),
		)
		for _, f := range p.Failures {
			log.Warn("key failed", logger.Operation(p.Name), logger.String("key", f.Key), logger.Err(f.Err))
		}
	}
}
