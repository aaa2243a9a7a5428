package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
	"github.com/leap-ielts/leap-engagement/pkg/retry"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCE STREAK COMMAND
// Closes every elapsed day of one user's streak. Days already processed are
// skipped, so the command is safe to retry.
// ══════════════════════════════════════════════════════════════════════════════

// AdvanceStreakCommand contains the data to advance a streak.
type AdvanceStreakCommand struct {
	UserID string

	// AsOf is "now" for the streak; zero means the current time.
	AsOf time.Time
}

// Validate validates the command.
func (c AdvanceStreakCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("advance_streak: user_id is required")
	}
	return nil
}

// AdvanceStreakResult contains the new streak state.
type AdvanceStreakResult struct {
	State streak.State

	// Previous is the streak length before this call.
	Previous int

	// DaysProcessed is zero when nothing changed.
	DaysProcessed int

	Appended []streak.Record
	Events   []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// streakConflicts reruns an advance that lost the compare-and-set on save.
var streakConflicts = retry.New(
	retry.WithMaxAttempts(3),
	retry.WithInitialDelay(0),
	retry.WithRetryIf(func(err error) bool { return errors.Is(err, shared.ErrConcurrentModification) }),
)

// AdvanceStreakHandler handles the AdvanceStreakCommand.
type AdvanceStreakHandler struct {
	users          learner.Repository
	completions    activity.CompletionLog
	streaks        streak.Repository
	tracker        *streak.Tracker
	conflicts      *retry.Retrier
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewAdvanceStreakHandler creates a new AdvanceStreakHandler.
func NewAdvanceStreakHandler(
	users learner.Repository,
	completions activity.CompletionLog,
	streaks streak.Repository,
	tracker *streak.Tracker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *AdvanceStreakHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AdvanceStreakHandler{
		users:          users,
		completions:    completions,
		streaks:        streaks,
		tracker:        tracker,
		conflicts:      streakConflicts,
		eventPublisher: eventPublisher,
		log:            log.Named("advance_streak"),
	}
}

// Handle executes the advance streak command. When another writer advanced
// the same streak between our read and our save, the command starts over from
// the fresh state; the days it already closed are then skipped.
func (h *AdvanceStreakHandler) Handle(ctx context.Context, cmd AdvanceStreakCommand) (*AdvanceStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("advance_streak: validation failed: %w", err)
	}

	var result *AdvanceStreakResult
	err := h.conflicts.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = h.advance(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *AdvanceStreakHandler) advance(ctx context.Context, cmd AdvanceStreakCommand) (*AdvanceStreakResult, error) {
	asOf := asOfOrNow(cmd.AsOf)
	loc := h.tracker.Config().Location
	today := timeutil.CivilDate(asOf, loc)

	user, err := h.users.GetByID(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("advance_streak: failed to get user: %w", err)
	}

	state, err := h.streaks.Get(ctx, cmd.UserID)
	switch {
	case shared.IsNotFound(err):
		state = streak.NewState(cmd.UserID)
	case err != nil:
		return nil, fmt.Errorf("advance_streak: failed to get streak: %w", err)
	}

	history, err := h.completions.History(ctx, cmd.UserID, asOf)
	if err != nil {
		return nil, fmt.Errorf("advance_streak: failed to load history: %w", err)
	}

	out, err := h.tracker.Advance(state, user.CreatedAt, history.ActiveDays(loc), today)
	if err != nil {
		h.log.Error("streak state failed validation",
			logger.UserID(cmd.UserID),
			logger.Date(today),
			logger.StreakLength(state.Current),
			logger.Err(err),
		)
		return nil, fmt.Errorf("advance_streak: %w", err)
	}

	result := &AdvanceStreakResult{
		State:         out.State,
		Previous:      out.Previous,
		DaysProcessed: out.Processed,
		Appended:      out.Appended,
	}
	if out.Processed == 0 {
		return result, nil
	}

	if err := h.streaks.Save(ctx, out.State, state.LastProcessedDate, out.Appended); err != nil {
		return nil, fmt.Errorf("advance_streak: failed to save streak: %w", err)
	}

	result.Events = streakEvents(cmd.UserID, out, asOf)
	publishAll(h.eventPublisher, h.log, result.Events)

	h.log.Debug("streak advanced",
		logger.UserID(cmd.UserID),
		logger.Date(today),
		logger.StreakLength(out.State.Current),
		logger.Int("days", out.Processed),
	)
	return result, nil
}

func streakEvents(userID string, out streak.Outcome, at time.Time) []shared.Event {
	var events []shared.Event
	recovered := false
	for _, r := range out.Appended {
		switch r.Kind {
		case streak.RecordBreak:
			events = append(events, shared.NewStreakBrokenEvent(userID, r.Length, r.Date, at))
		case streak.RecordMilestone:
			events = append(events, shared.NewStreakMilestoneEvent(userID, r.Length, at))
		case streak.RecordRecovery:
			recovered = true
		}
	}
	if out.Extended() {
		events = append(events, shared.NewStreakExtendedEvent(userID, out.State.Current, recovered, at))
	}
	return events
}
