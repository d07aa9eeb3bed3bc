package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
)

// CreateProposalRequest registers an approved credit proposal for
// formalization together with its repayment schedule.
type CreateProposalRequest struct {
	SignerName  string                     `json:"signer_name"`
	SignerEmail string                     `json:"signer_email"`
	PayerTaxID  string                     `json:"payer_tax_id"`
	Deadline    time.Time                  `json:"deadline"`
	Schedule    []CreateInstallmentRequest `json:"schedule"`
}

type CreateInstallmentRequest struct {
	Number      int       `json:"number"`
	DueDate     time.Time `json:"due_date"`
	AmountCents int64     `json:"amount_cents"`
}

// ProposalView is the read model returned by the proposal endpoints: the
// aggregate plus its installments and transition history.
type ProposalView struct {
	Proposal     *entity.Proposal        `json:"proposal"`
	Installments []*entity.Installment   `json:"installments"`
	Transitions  []*entity.AuditLogEntry `json:"transitions"`
	// NextStatuses lists the statuses reachable from the current one.
	NextStatuses []entity.Status `json:"next_statuses"`
}

// Observation is one external fact heading for the event store: a webhook
// delivery carrying its raw payload, or a polled provider state with no
// payload.
type Observation struct {
	EventType  string
	ExternalID string
	Payload    []byte
	Event      entity.DomainEvent
}

// ReconcileReport summarizes one poller cycle.
type ReconcileReport struct {
	StartedAt time.Time `json:"started_at"`
	Elapsed   string    `json:"elapsed"`

	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Errors   int `json:"errors"`

	// Conflicts counts event rows still flagged as conflicting with local
	// state. They stay unprocessed until an operator resolves them.
	Conflicts int `json:"conflicts"`

	// RepairedIDs carries the proposals whose state moved during the cycle.
	RepairedIDs []uuid.UUID `json:"repaired_ids,omitempty"`
}

// TransitionFact is the outbox payload published for every status change.
type TransitionFact struct {
	ProposalID uuid.UUID          `json:"proposal_id"`
	FromStatus entity.Status      `json:"from_status"`
	ToStatus   entity.Status      `json:"to_status"`
	EventKind  entity.EventKind   `json:"event_kind"`
	Origin     entity.EventOrigin `json:"origin"`
	OccurredAt time.Time          `json:"occurred_at"`
}
