package entity

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry records one status transition. The ledger is append-only;
// entries are never mutated or deleted.
type AuditLogEntry struct {
	ID         uuid.UUID `json:"id"`
	ProposalID uuid.UUID `json:"proposal_id"`

	FromStatus  Status      `json:"from_status"`
	ToStatus    Status      `json:"to_status"`
	TriggeredBy EventOrigin `json:"triggered_by"`

	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
