package entity

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxProcessed  OutboxStatus = "processed"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxEvent is a transition fact written in the same transaction as the
// state change and relayed to the broker by the outbox worker.
type OutboxEvent struct {
	ID          uuid.UUID    `json:"id"`
	AggregateID uuid.UUID    `json:"aggregate_id"`
	Topic       string       `json:"topic"`
	Payload     []byte       `json:"payload"`
	Status      OutboxStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	RetryCount  int          `json:"retry_count"`
}
