package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event routing keys as constants
const (
	// Session cleanup events
	EventTokenExpired        = "token.expired"
	EventEntityPurged        = "entity.purged"
	EventCleanupRunCompleted = "cleanup.run_completed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType   string    `json:"event_type"`
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	ServiceName string    `json:"service_name"`
}

// TokenExpiredEvent is published when an abandoned session token is removed
// while its entity (if any) stays alive.
type TokenExpiredEvent struct {
	BaseEvent
	Data TokenExpiredData `json:"data"`
}

type TokenExpiredData struct {
	TokenID   string    `json:"token_id"`
	ProductID string    `json:"product_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// EntityPurgedEvent is published when an orphaned entity is permanently
// deleted together with its token, relationship, and corpus items.
type EntityPurgedEvent struct {
	BaseEvent
	Data EntityPurgedData `json:"data"`
}

type EntityPurgedData struct {
	EntityID       string    `json:"entity_id"`
	TokenID        string    `json:"token_id"`
	ProductID      string    `json:"product_id"`
	RelationshipID string    `json:"relationship_id,omitempty"`
	PurgedAt       time.Time `json:"purged_at"`
}

// CleanupRunCompletedEvent carries the terminal tally of one cleanup run.
type CleanupRunCompletedEvent struct {
	BaseEvent
	Data CleanupRunCompletedData `json:"data"`
}

type CleanupRunCompletedData struct {
	RunID          string    `json:"run_id"`
	CandidatesSeen int       `json:"candidates_seen"`
	Deleted        int       `json:"deleted"`
	SkippedLive    int       `json:"skipped_live"`
	Errors         int       `json:"errors"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType:   eventType,
		EventID:     uuid.NewString(),
		Timestamp:   time.Now().UTC(), // Explicitly set to UTC
		ServiceName: "intake-service",
	}
}

// NewTokenExpiredEvent creates a token.expired event
func NewTokenExpiredEvent(tokenID, productID string, expiredAt time.Time) TokenExpiredEvent {
	return TokenExpiredEvent{
		BaseEvent: NewBaseEvent(EventTokenExpired),
		Data: TokenExpiredData{
			TokenID:   tokenID,
			ProductID: productID,
			ExpiredAt: expiredAt,
		},
	}
}

// NewEntityPurgedEvent creates an entity.purged event
func NewEntityPurgedEvent(entityID, tokenID, productID, relationshipID string, purgedAt time.Time) EntityPurgedEvent {
	return EntityPurgedEvent{
		BaseEvent: NewBaseEvent(EventEntityPurged),
		Data: EntityPurgedData{
			EntityID:       entityID,
			TokenID:        tokenID,
			ProductID:      productID,
			RelationshipID: relationshipID,
			PurgedAt:       purgedAt,
		},
	}
}

// NewCleanupRunCompletedEvent creates a cleanup.run_completed event
func NewCleanupRunCompletedEvent(runID string, candidatesSeen, deleted, skippedLive, errors int) CleanupRunCompletedEvent {
	return CleanupRunCompletedEvent{
		BaseEvent: NewBaseEvent(EventCleanupRunCompleted),
		Data: CleanupRunCompletedData{
			RunID:          runID,
			CandidatesSeen: candidatesSeen,
			Deleted:        deleted,
			SkippedLive:    skippedLive,
			Errors:         errors,
			CompletedAt:    time.Now().UTC(),
		},
	}
}
