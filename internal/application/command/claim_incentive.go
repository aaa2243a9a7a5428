package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/incentive"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM INCENTIVE COMMAND
// An unlocked incentive can be claimed exactly once.
// ══════════════════════════════════════════════════════════════════════════════

// ClaimIncentiveCommand contains the data to claim an incentive.
type ClaimIncentiveCommand struct {
	UserID string
	Kind   string
	At     time.Time
}

// Validate validates the command.
func (c ClaimIncentiveCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("claim_incentive: user_id is required")
	}
	if _, err := incentive.ParseKind(c.Kind); err != nil {
		return fmt.Errorf("claim_incentive: %w", err)
	}
	return nil
}

// ClaimIncentiveResult contains the claimed unlock.
type ClaimIncentiveResult struct {
	Unlock incentive.Unlock
	Events []shared.Event
}

// ClaimIncentiveHandler handles the ClaimIncentiveCommand.
type ClaimIncentiveHandler struct {
	incentives     incentive.Repository
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewClaimIncentiveHandler creates a new ClaimIncentiveHandler.
func NewClaimIncentiveHandler(incentives incentive.Repository, eventPublisher shared.EventPublisher, log *logger.Logger) *ClaimIncentiveHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ClaimIncentiveHandler{
		incentives:     incentives,
		eventPublisher: eventPublisher,
		log:            log.Named("claim_incentive"),
	}
}

// Handle executes the claim incentive command.
func (h *ClaimIncentiveHandler) Handle(ctx context.Context, cmd ClaimIncentiveCommand) (*ClaimIncentiveResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("claim_incentive: validation failed: %w", err)
	}
	kind := incentive.Kind(cmd.Kind)
	at := asOfOrNow(cmd.At)

	u, err := h.incentives.Get(ctx, cmd.UserID, kind)
	if err != nil {
		return nil, fmt.Errorf("claim_incentive: failed to get unlock: %w", err)
	}
	if err := u.Claim(at); err != nil {
		return nil, fmt.Errorf("claim_incentive: %w", err)
	}
	if err := h.incentives.MarkClaimed(ctx, cmd.UserID, kind, at); err != nil {
		return nil, fmt.Errorf("claim_incentive: failed to mark claimed: %w", err)
	}

	result := &ClaimIncentiveResult{
		Unlock: u,
		Events: []shared.Event{shared.NewIncentiveClaimedEvent(cmd.UserID, cmd.Kind, at)},
	}
	publishAll(h.eventPublisher, h.log, result.Events)

	h.log.Info("incentive claimed", logger.UserID(cmd.UserID), logger.IncentiveKind(cmd.Kind))
	return result, nil
}
