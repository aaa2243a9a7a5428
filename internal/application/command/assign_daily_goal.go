// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGN DAILY GOAL COMMAND
// Picks today's practice activity for one user. Calling it again for the
// same civil date returns the goal already stored for that date.
// ══════════════════════════════════════════════════════════════════════════════

// AssignDailyGoalCommand contains the data to assign a goal.
type AssignDailyGoalCommand struct {
	UserID string

	// AsOf is the moment history is read at; its civil date is the goal date.
	// Zero means now.
	AsOf time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AssignDailyGoalCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("assign_daily_goal: user_id is required")
	}
	return nil
}

// AssignDailyGoalResult contains the assigned goal.
type AssignDailyGoalResult struct {
	Goal *goal.DailyGoal

	// Created is false when an existing goal was returned.
	Created bool

	// Scores holds the adjusted priority of each skill (only when Created).
	Scores map[shared.Skill]float64

	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AssignDailyGoalHandler handles the AssignDailyGoalCommand.
type AssignDailyGoalHandler struct {
	users          learner.Repository
	catalog        activity.Catalog
	completions    activity.CompletionLog
	goals          goal.Repository
	assigner       *goal.Assigner
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewAssignDailyGoalHandler creates a new AssignDailyGoalHandler.
func NewAssignDailyGoalHandler(
	users learner.Repository,
	catalog activity.Catalog,
	completions activity.CompletionLog,
	goals goal.Repository,
	assigner *goal.Assigner,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *AssignDailyGoalHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AssignDailyGoalHandler{
		users:          users,
		catalog:        catalog,
		completions:    completions,
		goals:          goals,
		assigner:       assigner,
		eventPublisher: eventPublisher,
		log:            log.Named("assign_daily_goal"),
	}
}

// Handle executes the assign daily goal command.
func (h *AssignDailyGoalHandler) Handle(ctx context.Context, cmd AssignDailyGoalCommand) (*AssignDailyGoalResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("assign_daily_goal: validation failed: %w", err)
	}

	asOf := asOfOrNow(cmd.AsOf)
	today := timeutil.CivilDate(asOf, h.assigner.Config().Location)

	// Idempotency: an existing goal for the date wins.
	existing, err := h.goals.Get(ctx, cmd.UserID, today)
	if err == nil {
		return &AssignDailyGoalResult{Goal: existing}, nil
	}
	if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("assign_daily_goal: failed to read goal: %w", err)
	}

	user, err := h.users.GetByID(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("assign_daily_goal: failed to get user: %w", err)
	}

	catalog, err := h.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("assign_daily_goal: failed to list catalog: %w", err)
	}

	history, err := h.completions.History(ctx, cmd.UserID, asOf)
	if err != nil {
		return nil, fmt.Errorf("assign_daily_goal: failed to load history: %w", err)
	}

	decision, err := h.assigner.Choose(goal.Input{
		User:    user,
		Today:   today,
		AsOf:    asOf,
		Catalog: catalog,
		History: history,
	})
	if err != nil {
		h.log.Warn("no goal assigned", logger.UserID(cmd.UserID), logger.Date(today), logger.Err(err))
		return nil, fmt.Errorf("assign_daily_goal: %w", err)
	}

	g := &goal.DailyGoal{
		ID:         uuid.NewString(),
		UserID:     cmd.UserID,
		Date:       today,
		ActivityID: decision.Activity.ID,
		Skill:      decision.Skill,
		Rationale:  decision.Rationale,
		AssignedAt: asOf,
	}

	if err := h.goals.Create(ctx, g); err != nil {
		if !shared.IsAlreadyExists(err) {
			return nil, fmt.Errorf("assign_daily_goal: failed to save goal: %w", err)
		}
		// Lost a race with a concurrent assignment for the same date.
		winner, getErr := h.goals.Get(ctx, cmd.UserID, today)
		if getErr != nil {
			return nil, fmt.Errorf("assign_daily_goal: failed to re-read goal: %w", getErr)
		}
		return &AssignDailyGoalResult{Goal: winner}, nil
	}

	event := shared.NewGoalAssignedEvent(cmd.UserID, today, g.ActivityID, g.Skill, asOf)
	result := &AssignDailyGoalResult{
		Goal:    g,
		Created: true,
		Scores:  decision.Scores,
		Events:  []shared.Event{event},
	}
	publishAll(h.eventPublisher, h.log, result.Events)

	h.log.Debug("goal assigned",
		logger.UserID(cmd.UserID),
		logger.Date(today),
		logger.Skill(string(g.Skill)),
		logger.ActivityID(g.ActivityID),
		logger.Float64("priority", g.Rationale.Priority),
	)
	return result, nil
}
