package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Goal events
	EventGoalAssigned EventType = "goal.assigned"

	// Activity events
	EventActivityCompleted EventType = "activity.completed"

	// Streak events
	EventStreakExtended  EventType = "streak.extended"
	EventStreakBroken    EventType = "streak.broken"
	EventStreakMilestone EventType = "streak.milestone"

	// Skill events
	EventSkillLevelChanged EventType = "skill.level_changed"

	// Leaderboard events
	EventLeaderboardRebuilt EventType = "leaderboard.rebuilt"
	EventRankChanged        EventType = "leaderboard.rank_changed"

	// Incentive events
	EventIncentiveUnlocked EventType = "incentive.unlocked"
	EventIncentiveClaimed  EventType = "incentive.claimed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. The timestamp is the engine's as-of
// instant rather than the wall clock so replays emit identical events.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Goal & Activity Events
// ═══════════════════════════════════════════════════════════════════════════

// GoalAssignedEvent is emitted when a new daily goal is created.
type GoalAssignedEvent struct {
	BaseEvent
	Date       time.Time `json:"date"`
	ActivityID string    `json:"activity_id"`
	Skill      Skill     `json:"skill"`
}

// Payload implements Event.
func (e GoalAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.AggregateId,
		"date":        e.Date.Format("2006-01-02"),
		"activity_id": e.ActivityID,
		"skill":       string(e.Skill),
	}
}

// NewGoalAssignedEvent creates a GoalAssignedEvent.
func NewGoalAssignedEvent(userID string, date time.Time, activityID string, skill Skill, at time.Time) GoalAssignedEvent {
	return GoalAssignedEvent{
		BaseEvent:  NewBaseEvent(EventGoalAssigned, userID, at),
		Date:       date,
		ActivityID: activityID,
		Skill:      skill,
	}
}

// ActivityCompletedEvent is emitted after a completion is recorded.
type ActivityCompletedEvent struct {
	BaseEvent
	ActivityID string `json:"activity_id"`
	Skill      Skill  `json:"skill"`
	Score      int    `json:"score"`
	Points     int    `json:"points"`
}

// Payload implements Event.
func (e ActivityCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.AggregateId,
		"activity_id": e.ActivityID,
		"skill":       string(e.Skill),
		"score":       e.Score,
		"points":      e.Points,
	}
}

// NewActivityCompletedEvent creates an ActivityCompletedEvent.
func NewActivityCompletedEvent(userID, activityID string, skill Skill, score, points int, at time.Time) ActivityCompletedEvent {
	return ActivityCompletedEvent{
		BaseEvent:  NewBaseEvent(EventActivityCompleted, userID, at),
		ActivityID: activityID,
		Skill:      skill,
		Score:      score,
		Points:     points,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakExtendedEvent is emitted when the streak grows.
type StreakExtendedEvent struct {
	BaseEvent
	Current   int  `json:"current"`
	Recovered bool `json:"recovered"`
}

// Payload implements Event.
func (e StreakExtendedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.AggregateId,
		"current":   e.Current,
		"recovered": e.Recovered,
	}
}

// NewStreakExtendedEvent creates a StreakExtendedEvent.
func NewStreakExtendedEvent(userID string, current int, recovered bool, at time.Time) StreakExtendedEvent {
	return StreakExtendedEvent{
		BaseEvent: NewBaseEvent(EventStreakExtended, userID, at),
		Current:   current,
		Recovered: recovered,
	}
}

// StreakBrokenEvent is emitted when a streak resets to zero.
type StreakBrokenEvent struct {
	BaseEvent
	PreviousStreak int       `json:"previous_streak"`
	Date           time.Time `json:"date"`
}

// Payload implements Event.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.AggregateId,
		"previous_streak": e.PreviousStreak,
		"date":            e.Date.Format("2006-01-02"),
	}
}

// NewStreakBrokenEvent creates a StreakBrokenEvent.
func NewStreakBrokenEvent(userID string, previous int, date, at time.Time) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userID, at),
		PreviousStreak: previous,
		Date:           date,
	}
}

// StreakMilestoneEvent is emitted once per milestone crossing.
type StreakMilestoneEvent struct {
	BaseEvent
	Days int `json:"days"`
}

// Payload implements Event.
func (e StreakMilestoneEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.AggregateId,
		"days":    e.Days,
	}
}

// NewStreakMilestoneEvent creates a StreakMilestoneEvent.
func NewStreakMilestoneEvent(userID string, days int, at time.Time) StreakMilestoneEvent {
	return StreakMilestoneEvent{
		BaseEvent: NewBaseEvent(EventStreakMilestone, userID, at),
		Days:      days,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Skill Events
// ═══════════════════════════════════════════════════════════════════════════

// SkillLevelChangedEvent is emitted when the estimator moves a level.
type SkillLevelChangedEvent struct {
	BaseEvent
	Skill    Skill   `json:"skill"`
	OldLevel float64 `json:"old_level"`
	NewLevel float64 `json:"new_level"`
}

// Payload implements Event.
func (e SkillLevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.AggregateId,
		"skill":     string(e.Skill),
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// NewSkillLevelChangedEvent creates a SkillLevelChangedEvent.
func NewSkillLevelChangedEvent(userID string, skill Skill, oldLevel, newLevel float64, at time.Time) SkillLevelChangedEvent {
	return SkillLevelChangedEvent{
		BaseEvent: NewBaseEvent(EventSkillLevelChanged, userID, at),
		Skill:     skill,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardRebuiltEvent is emitted after a cohort's entries are replaced.
type LeaderboardRebuiltEvent struct {
	BaseEvent
	Epoch   int64 `json:"epoch"`
	Members int   `json:"members"`
}

// Payload implements Event.
func (e LeaderboardRebuiltEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cohort":  e.AggregateId,
		"epoch":   e.Epoch,
		"members": e.Members,
	}
}

// NewLeaderboardRebuiltEvent creates a LeaderboardRebuiltEvent. The aggregate is the cohort key.
func NewLeaderboardRebuiltEvent(cohort string, epoch int64, members int, at time.Time) LeaderboardRebuiltEvent {
	return LeaderboardRebuiltEvent{
		BaseEvent: NewBaseEvent(EventLeaderboardRebuilt, cohort, at),
		Epoch:     epoch,
		Members:   members,
	}
}

// RankChangedEvent is emitted when a user's rank differs from the previous epoch.
type RankChangedEvent struct {
	BaseEvent
	OldRank int    `json:"old_rank"`
	NewRank int    `json:"new_rank"`
	Cohort  string `json:"cohort"`
}

// Payload implements Event.
func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.AggregateId,
		"old_rank": e.OldRank,
		"new_rank": e.NewRank,
		"cohort":   e.Cohort,
	}
}

// NewRankChangedEvent creates a RankChangedEvent.
func NewRankChangedEvent(userID string, oldRank, newRank int, cohort string, at time.Time) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent: NewBaseEvent(EventRankChanged, userID, at),
		OldRank:   oldRank,
		NewRank:   newRank,
		Cohort:    cohort,
	}
}

// MovedUp returns true if the user climbed (lower rank number is better).
func (e RankChangedEvent) MovedUp() bool {
	return e.NewRank < e.OldRank
}

// ═══════════════════════════════════════════════════════════════════════════
// Incentive Events
// ═══════════════════════════════════════════════════════════════════════════

// IncentiveEvent covers both unlock and claim.
type IncentiveEvent struct {
	BaseEvent
	Kind string `json:"kind"`
}

// Payload implements Event.
func (e IncentiveEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.AggregateId,
		"kind":    e.Kind,
	}
}

// NewIncentiveUnlockedEvent creates an unlock event.
func NewIncentiveUnlockedEvent(userID, kind string, at time.Time) IncentiveEvent {
	return IncentiveEvent{BaseEvent: NewBaseEvent(EventIncentiveUnlocked, userID, at), Kind: kind}
}

// NewIncentiveClaimedEvent creates a claim event.
func NewIncentiveClaimedEvent(userID, kind string, at time.Time) IncentiveEvent {
	return IncentiveEvent{BaseEvent: NewBaseEvent(EventIncentiveClaimed, userID, at), Kind: kind}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event's payload.
func NewEnvelope(event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Payload:     payload,
	}, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
