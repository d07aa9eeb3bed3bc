package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ExternalEvent is the immutable record of one inbound notification or polled
// observation. Every delivery is stored as its own row; the durable store
// enforces that at most one row per idempotency key is ever processed.
type ExternalEvent struct {
	ID uuid.UUID `json:"id"`

	Source     EventSource `json:"source"`
	EventType  string      `json:"event_type"`
	ExternalID string      `json:"external_id"`
	Origin     EventOrigin `json:"origin"`

	Payload     []byte `json:"payload"`
	PayloadHash string `json:"payload_hash"`

	IdempotencyKey string `json:"idempotency_key"`

	Processed      bool       `json:"processed"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	ConflictReason *string    `json:"conflict_reason,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// IdempotencyKey derives the deterministic key identifying a unique external
// fact. It hashes the normalized event kind, not the raw provider event name,
// so provider aliases and polled observations of the same fact collapse to a
// single processed event.
func IdempotencyKey(source EventSource, kind, externalID string) string {
	h := sha256.New()
	h.Write([]byte(string(source)))
	h.Write([]byte{'|'})
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(externalID))

	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash is the content hash of a raw payload, stored for audit.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
