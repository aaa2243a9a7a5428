package command

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD COMMAND
// Recomputes the consistency ranking of one or all cohorts for the as-of
// epoch. Each cohort is read from one snapshot and written all-or-nothing.
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardCommand contains the data to rebuild rankings.
type RebuildLeaderboardCommand struct {
	// Cohort limits the rebuild to one cohort; nil rebuilds all of them.
	Cohort *leaderboard.CohortKey

	AsOf time.Time
}

// Validate validates the command.
func (c RebuildLeaderboardCommand) Validate() error {
	if c.Cohort != nil && !c.Cohort.Timeline.IsValid() {
		return fmt.Errorf("rebuild_leaderboard: invalid timeline bucket %q", c.Cohort.Timeline)
	}
	return nil
}

// RebuildLeaderboardResult contains the rebuilt boards.
type RebuildLeaderboardResult struct {
	Epoch  leaderboard.Epoch
	Boards []leaderboard.Board
	Events []shared.Event
}

// RebuildLeaderboardConfig contains handler settings.
type RebuildLeaderboardConfig struct {
	// LockTTL bounds how long one cohort rebuild may hold the lock.
	LockTTL  time.Duration
	Location *time.Location
}

// DefaultRebuildLeaderboardConfig returns default settings.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		LockTTL:  2 * time.Minute,
		Location: time.UTC,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardHandler handles the RebuildLeaderboardCommand.
type RebuildLeaderboardHandler struct {
	users          learner.Repository
	stats          leaderboard.StatsReader
	boards         leaderboard.Repository
	cache          leaderboard.Cache
	locker         leaderboard.Locker
	ranker         *leaderboard.Ranker
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	cfg            RebuildLeaderboardConfig
}

// NewRebuildLeaderboardHandler creates a new RebuildLeaderboardHandler.
// cache and locker are optional.
func NewRebuildLeaderboardHandler(
	users learner.Repository,
	stats leaderboard.StatsReader,
	boards leaderboard.Repository,
	cache leaderboard.Cache,
	locker leaderboard.Locker,
	ranker *leaderboard.Ranker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	cfg RebuildLeaderboardConfig,
) *RebuildLeaderboardHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = DefaultRebuildLeaderboardConfig().LockTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &RebuildLeaderboardHandler{
		users:          users,
		stats:          stats,
		boards:         boards,
		cache:          cache,
		locker:         locker,
		ranker:         ranker,
		eventPublisher: eventPublisher,
		log:            log.Named("rebuild_leaderboard"),
		cfg:            cfg,
	}
}

// Handle executes the rebuild leaderboard command.
func (h *RebuildLeaderboardHandler) Handle(ctx context.Context, cmd RebuildLeaderboardCommand) (*RebuildLeaderboardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("rebuild_leaderboard: validation failed: %w", err)
	}
	asOf := asOfOrNow(cmd.AsOf)
	today := timeutil.CivilDate(asOf, h.cfg.Location)

	users, err := h.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild_leaderboard: failed to list users: %w", err)
	}

	cohorts := h.groupByCohort(users)
	keys := make([]leaderboard.CohortKey, 0, len(cohorts))
	for key := range cohorts {
		if cmd.Cohort == nil || *cmd.Cohort == key {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	result := &RebuildLeaderboardResult{Epoch: leaderboard.EpochOf(today)}
	if cmd.Cohort != nil && len(keys) == 0 {
		// An empty cohort still gets an (empty) epoch.
		keys = append(keys, *cmd.Cohort)
	}

	for _, key := range keys {
		board, events, err := h.rebuildCohort(ctx, key, cohorts[key], today, asOf)
		if err != nil {
			return nil, err
		}
		result.Boards = append(result.Boards, board)
		result.Events = append(result.Events, events...)
	}

	publishAll(h.eventPublisher, h.log, result.Events)
	return result, nil
}

// RebuildCohort rebuilds a single cohort. It is the unit the batch runner
// schedules.
func (h *RebuildLeaderboardHandler) RebuildCohort(ctx context.Context, key leaderboard.CohortKey, asOf time.Time) (leaderboard.Board, error) {
	res, err := h.Handle(ctx, RebuildLeaderboardCommand{Cohort: &key, AsOf: asOf})
	if err != nil {
		return leaderboard.Board{}, err
	}
	return res.Boards[0], nil
}

// Cohorts lists the cohorts that currently have members.
func (h *RebuildLeaderboardHandler) Cohorts(ctx context.Context) ([]leaderboard.CohortKey, error) {
	users, err := h.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild_leaderboard: failed to list users: %w", err)
	}
	groups := h.groupByCohort(users)
	keys := make([]leaderboard.CohortKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (h *RebuildLeaderboardHandler) groupByCohort(users []*learner.User) map[leaderboard.CohortKey][]*learner.User {
	cfg := h.ranker.Config()
	out := make(map[leaderboard.CohortKey][]*learner.User)
	for _, u := range users {
		key := cfg.CohortFor(u)
		out[key] = append(out[key], u)
	}
	return out
}

func (h *RebuildLeaderboardHandler) rebuildCohort(
	ctx context.Context,
	key leaderboard.CohortKey,
	members []*learner.User,
	today, asOf time.Time,
) (leaderboard.Board, []shared.Event, error) {
	start := time.Now()
	log := h.log.With(logger.Cohort(key.String()))

	if h.locker != nil {
		unlock, err := h.locker.TryLock(ctx, key, h.cfg.LockTTL)
		if err != nil {
			return leaderboard.Board{}, nil, fmt.Errorf("rebuild_leaderboard: cohort %s: %w", key, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release cohort lock", logger.Err(err))
			}
		}()
	}

	epoch := leaderboard.EpochOf(today)
	window := h.ranker.Config().WindowFor(today, h.cfg.Location)

	stats, err := h.stats.CohortStats(ctx, members, window)
	if err != nil {
		return leaderboard.Board{}, nil, fmt.Errorf("rebuild_leaderboard: failed to read cohort stats: %w", err)
	}

	previous, err := h.boards.PreviousRanks(ctx, key, epoch)
	if err != nil {
		return leaderboard.Board{}, nil, fmt.Errorf("rebuild_leaderboard: failed to read previous ranks: %w", err)
	}

	entries := leaderboard.Stamp(h.ranker.Rank(stats), key, epoch, previous)
	if err := h.boards.ReplaceCohort(ctx, key, epoch, entries); err != nil {
		return leaderboard.Board{}, nil, fmt.Errorf("rebuild_leaderboard: failed to replace cohort: %w", err)
	}

	board := leaderboard.Board{Cohort: key, Epoch: epoch, Entries: entries}
	if h.cache != nil {
		if err := h.cache.StoreCohort(ctx, board); err != nil {
			log.Warn("failed to refresh leaderboard cache", logger.Err(err))
		}
	}

	events := []shared.Event{shared.NewLeaderboardRebuiltEvent(key.String(), int64(epoch), len(entries), asOf)}
	for _, e := range entries {
		if !e.IsNew() && e.PreviousRank != e.Rank {
			events = append(events, shared.NewRankChangedEvent(e.UserID, int(e.PreviousRank), int(e.Rank), key.String(), asOf))
		}
	}

	log.Info("cohort rebuilt",
		logger.Epoch(int64(epoch)),
		logger.Int("members", len(entries)),
		logger.Latency(time.Since(start)),
	)
	return board, events, nil
}
