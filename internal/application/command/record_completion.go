package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/domain/skill"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// Ingests one finished activity and runs everything that depends on it:
// points, today's goal, the skill estimate on every N-th attempt, the streak
// and incentive unlocks.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand contains the data to record a completion.
type RecordCompletionCommand struct {
	UserID       string
	ActivityID   string
	Score        int
	MinutesSpent int

	// CompletedAt defaults to now.
	CompletedAt time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordCompletionCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("record_completion: user_id is required")
	}
	if c.ActivityID == "" {
		return errors.New("record_completion: activity_id is required")
	}
	if err := shared.ValidateScore(c.Score); err != nil {
		return err
	}
	if c.MinutesSpent < 0 {
		return fmt.Errorf("record_completion: minutes_spent must not be negative: %w", shared.ErrInvalidInput)
	}
	return nil
}

// RecordCompletionResult contains the effects of one completion.
type RecordCompletionResult struct {
	Completion activity.Completion

	PointsEarned    int
	TotalPoints     int
	TotalActivities int

	// GoalCompleted is true when this completion fulfilled today's goal.
	GoalCompleted bool

	// SkillUpdated is true when the estimator ran; levels are then set.
	SkillUpdated bool
	OldLevel     float64
	NewLevel     float64

	CurrentStreak int
	Unlocked      []incentive.Unlock

	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionHandler handles the RecordCompletionCommand.
type RecordCompletionHandler struct {
	users          learner.Repository
	catalog        activity.Catalog
	completions    activity.CompletionLog
	goals          goal.Repository
	skills         skill.Repository
	estimator      *skill.Estimator
	streaks        *AdvanceStreakHandler
	incentives     *EvaluateIncentivesHandler
	tx             shared.Transactor
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	loc            *time.Location
}

// RecordCompletionDeps groups the collaborators of the handler.
type RecordCompletionDeps struct {
	Users       learner.Repository
	Catalog     activity.Catalog
	Completions activity.CompletionLog
	Goals       goal.Repository
	Skills      skill.Repository
	Estimator   *skill.Estimator
	Streaks     *AdvanceStreakHandler
	Incentives  *EvaluateIncentivesHandler
	// Tx makes the ingestion writes atomic; nil runs them one by one.
	Tx        shared.Transactor
	Publisher shared.EventPublisher
	Logger    *logger.Logger
	// Location decides the civil date of a completion.
	Location *time.Location
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler.
func NewRecordCompletionHandler(deps RecordCompletionDeps) *RecordCompletionHandler {
	if deps.Publisher == nil {
		deps.Publisher = shared.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Tx == nil {
		deps.Tx = shared.NopTransactor{}
	}
	return &RecordCompletionHandler{
		users:          deps.Users,
		catalog:        deps.Catalog,
		completions:    deps.Completions,
		goals:          deps.Goals,
		skills:         deps.Skills,
		estimator:      deps.Estimator,
		streaks:        deps.Streaks,
		incentives:     deps.Incentives,
		tx:             deps.Tx,
		eventPublisher: deps.Publisher,
		log:            deps.Logger.Named("record_completion"),
		loc:            deps.Location,
	}
}

// Handle executes the record completion command.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_completion: validation failed: %w", err)
	}
	at := asOfOrNow(cmd.CompletedAt)

	var (
		result *RecordCompletionResult
		user   *learner.User
		act    *activity.Activity
	)
	// The completion, goal, skill snapshot and points commit together.
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if user, err = h.users.GetByID(ctx, cmd.UserID); err != nil {
			return fmt.Errorf("record_completion: failed to get user: %w", err)
		}
		if act, err = h.catalog.Get(ctx, cmd.ActivityID); err != nil {
			return fmt.Errorf("record_completion: failed to get activity: %w", err)
		}
		result, err = h.ingest(ctx, cmd, user, act, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	publishAll(h.eventPublisher, h.log, result.Events)

	// The streak and incentive handlers publish their own events.
	streakRes, err := h.streaks.Handle(ctx, AdvanceStreakCommand{UserID: cmd.UserID, AsOf: at})
	if err != nil {
		return nil, fmt.Errorf("record_completion: %w", err)
	}
	result.CurrentStreak = streakRes.State.Current
	result.Events = append(result.Events, streakRes.Events...)

	incRes, err := h.incentives.Handle(ctx, EvaluateIncentivesCommand{UserID: cmd.UserID, AsOf: at})
	if err != nil {
		return nil, fmt.Errorf("record_completion: %w", err)
	}
	result.Unlocked = incRes.Unlocked
	result.Events = append(result.Events, incRes.Events...)

	h.log.Info("completion recorded",
		logger.UserID(cmd.UserID),
		logger.ActivityID(act.ID),
		logger.Skill(string(act.Skill)),
		logger.Int("score", cmd.Score),
		logger.Int("points", user.Points),
		logger.StreakLength(result.CurrentStreak),
	)
	return result, nil
}

func (h *RecordCompletionHandler) ingest(ctx context.Context, cmd RecordCompletionCommand, user *learner.User, act *activity.Activity, at time.Time) (*RecordCompletionResult, error) {
	c := activity.Completion{
		ID:           uuid.NewString(),
		UserID:       cmd.UserID,
		ActivityID:   act.ID,
		Skill:        act.Skill,
		Score:        cmd.Score,
		MinutesSpent: cmd.MinutesSpent,
		CompletedAt:  at,
	}
	if err := h.completions.Append(ctx, c); err != nil {
		return nil, fmt.Errorf("record_completion: failed to append completion: %w", err)
	}

	user.RecordCompletion(act.Points)
	result := &RecordCompletionResult{
		Completion:   c,
		PointsEarned: act.Points,
		Events: []shared.Event{
			shared.NewActivityCompletedEvent(cmd.UserID, act.ID, act.Skill, cmd.Score, act.Points, at),
		},
	}

	if err := h.completeGoal(ctx, cmd.UserID, act.ID, at, result); err != nil {
		return nil, err
	}
	if err := h.updateSkill(ctx, user, act.Skill, at, result); err != nil {
		return nil, err
	}

	if err := h.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("record_completion: failed to update user: %w", err)
	}
	result.TotalPoints = user.Points
	result.TotalActivities = user.ActivitiesCompleted
	return result, nil
}

func (h *RecordCompletionHandler) completeGoal(ctx context.Context, userID, activityID string, at time.Time, result *RecordCompletionResult) error {
	day := timeutil.CivilDate(at, h.loc)
	g, err := h.goals.Get(ctx, userID, day)
	if shared.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record_completion: failed to get goal: %w", err)
	}
	if !g.Matches(activityID) || !g.MarkCompleted(at) {
		return nil
	}
	if err := h.goals.MarkCompleted(ctx, g.ID, at); err != nil {
		return fmt.Errorf("record_completion: failed to complete goal: %w", err)
	}
	result.GoalCompleted = true
	return nil
}

func (h *RecordCompletionHandler) updateSkill(ctx context.Context, user *learner.User, sk shared.Skill, at time.Time, result *RecordCompletionResult) error {
	history, err := h.completions.History(ctx, user.ID, at)
	if err != nil {
		return fmt.Errorf("record_completion: failed to load history: %w", err)
	}
	window := history.ForSkill(sk)
	count := len(window)

	snap, err := h.skills.Get(ctx, user.ID, sk)
	switch {
	case shared.IsNotFound(err):
		snap = skill.NewSnapshot(user.ID, sk, user.Level(sk))
	case err != nil:
		return fmt.Errorf("record_completion: failed to get skill snapshot: %w", err)
	}

	if !h.estimator.ShouldUpdate(snap, count) {
		return nil
	}

	next := h.estimator.Update(snap, window, count, at)
	if err := h.skills.Save(ctx, next); err != nil {
		return fmt.Errorf("record_completion: failed to save skill snapshot: %w", err)
	}
	user.SetLevel(sk, next.Level)

	result.SkillUpdated = true
	result.OldLevel = snap.Level
	result.NewLevel = next.Level
	if next.Level != snap.Level {
		result.Events = append(result.Events,
			shared.NewSkillLevelChangedEvent(user.ID, sk, snap.Level, next.Level, at))
	}
	return nil
}
