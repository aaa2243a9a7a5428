package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/streak"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE INCENTIVES COMMAND
// Checks unlock criteria for one user and stores newly earned incentives.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateIncentivesCommand contains the data to evaluate incentives.
type EvaluateIncentivesCommand struct {
	UserID string
	AsOf   time.Time
}

// Validate validates the command.
func (c EvaluateIncentivesCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("evaluate_incentives: user_id is required")
	}
	return nil
}

// EvaluateIncentivesResult contains the newly unlocked incentives.
type EvaluateIncentivesResult struct {
	Unlocked []incentive.Unlock
	Input    incentive.Input
	Events   []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateIncentivesHandler handles the EvaluateIncentivesCommand.
type EvaluateIncentivesHandler struct {
	users          learner.Repository
	streaks        streak.Repository
	completions    activity.CompletionLog
	attendance     activity.AttendanceLog
	incentives     incentive.Repository
	evaluator      *incentive.Evaluator
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewEvaluateIncentivesHandler creates a new EvaluateIncentivesHandler.
func NewEvaluateIncentivesHandler(
	users learner.Repository,
	streaks streak.Repository,
	completions activity.CompletionLog,
	attendance activity.AttendanceLog,
	incentives incentive.Repository,
	evaluator *incentive.Evaluator,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *EvaluateIncentivesHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EvaluateIncentivesHandler{
		users:          users,
		streaks:        streaks,
		completions:    completions,
		attendance:     attendance,
		incentives:     incentives,
		evaluator:      evaluator,
		eventPublisher: eventPublisher,
		log:            log.Named("evaluate_incentives"),
	}
}

// Handle executes the evaluate incentives command.
func (h *EvaluateIncentivesHandler) Handle(ctx context.Context, cmd EvaluateIncentivesCommand) (*EvaluateIncentivesResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate_incentives: validation failed: %w", err)
	}
	asOf := asOfOrNow(cmd.AsOf)

	in, err := h.buildInput(ctx, cmd.UserID, asOf)
	if err != nil {
		return nil, err
	}

	existing, err := h.incentives.ListByUser(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("evaluate_incentives: failed to list unlocks: %w", err)
	}

	result := &EvaluateIncentivesResult{Input: in}
	for _, u := range h.evaluator.Evaluate(in, existing, asOf) {
		if err := h.incentives.Create(ctx, u); err != nil {
			if shared.IsAlreadyExists(err) {
				// Another evaluation stored it first.
				continue
			}
			return nil, fmt.Errorf("evaluate_incentives: failed to save unlock: %w", err)
		}
		result.Unlocked = append(result.Unlocked, u)
		result.Events = append(result.Events, shared.NewIncentiveUnlockedEvent(cmd.UserID, string(u.Kind), asOf))

		h.log.Info("incentive unlocked",
			logger.UserID(cmd.UserID),
			logger.IncentiveKind(string(u.Kind)),
		)
	}

	publishAll(h.eventPublisher, h.log, result.Events)
	return result, nil
}

func (h *EvaluateIncentivesHandler) buildInput(ctx context.Context, userID string, asOf time.Time) (incentive.Input, error) {
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return incentive.Input{}, fmt.Errorf("evaluate_incentives: failed to get user: %w", err)
	}

	current := 0
	state, err := h.streaks.Get(ctx, userID)
	switch {
	case err == nil:
		current = state.Current
	case !shared.IsNotFound(err):
		return incentive.Input{}, fmt.Errorf("evaluate_incentives: failed to get streak: %w", err)
	}

	history, err := h.completions.History(ctx, userID, asOf)
	if err != nil {
		return incentive.Input{}, fmt.Errorf("evaluate_incentives: failed to load history: %w", err)
	}
	attempts := make(map[shared.Skill]int)
	for _, c := range history {
		attempts[c.Skill]++
	}

	in := incentive.Input{
		UserID:        userID,
		Streak:        current,
		Activities:    user.ActivitiesCompleted,
		Points:        user.Points,
		SkillAttempts: attempts,
		TrackedSkills: user.TrackedSkills(),
	}

	if h.attendance != nil {
		records, err := h.attendance.Attendance(ctx, userID, asOf)
		if err != nil {
			return incentive.Input{}, fmt.Errorf("evaluate_incentives: failed to load attendance: %w", err)
		}
		in.SessionsAttended, in.AvgParticipation = summarizeAttendance(records)
	}
	return in, nil
}

func summarizeAttendance(records []activity.Attendance) (int, float64) {
	if len(records) == 0 {
		return 0, 0
	}
	sessions := make(map[string]struct{}, len(records))
	sum := 0.0
	for _, a := range records {
		sessions[a.SessionID] = struct{}{}
		sum += a.Participation
	}
	return len(sessions), sum / float64(len(records))
}
