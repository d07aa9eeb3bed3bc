package entity

import (
	"time"

	"github.com/google/uuid"
)

// Status is the proposal lifecycle status. Transitions form a closed set,
// see transition.go.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusPendingReview      Status = "pending_review"
	StatusApproved           Status = "approved"
	StatusDocumentGenerated  Status = "document_generated"
	StatusAwaitingSignature  Status = "awaiting_signature"
	StatusSignatureCompleted Status = "signature_completed"
	StatusCollectionsIssued  Status = "collections_issued"
	StatusPaymentPending     Status = "payment_pending"
	StatusFullyPaid          Status = "fully_paid"
	StatusCancelled          Status = "cancelled"
)

// IsTerminal reports whether no transition can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusFullyPaid || s == StatusCancelled
}

type Proposal struct {
	ID uuid.UUID `json:"id"`

	Status Status `json:"status"`

	// Signer and payer data feed the providers: the signature dispatch and
	// the collection issuance.
	SignerName  string `json:"signer_name"`
	SignerEmail string `json:"signer_email"`
	PayerTaxID  string `json:"payer_tax_id"`

	// SignatureDeadline bounds how long the envelope stays open.
	SignatureDeadline time.Time `json:"signature_deadline"`

	// SignatureRef is the e-signature envelope key, set once the document is
	// dispatched for signing.
	SignatureRef *string `json:"signature_ref,omitempty"`

	DocumentKey       *string `json:"document_key,omitempty"`
	SignedDocumentKey *string `json:"signed_document_key,omitempty"`
	SignedDocumentSHA *string `json:"signed_document_sha256,omitempty"`
	BookletKey        *string `json:"booklet_key,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "pending"
	InstallmentPaid      InstallmentStatus = "paid"
	InstallmentOverdue   InstallmentStatus = "overdue"
	InstallmentCancelled InstallmentStatus = "cancelled"
)

type Installment struct {
	ID         uuid.UUID `json:"id"`
	ProposalID uuid.UUID `json:"proposal_id"`

	Number      int               `json:"number"`
	DueDate     time.Time         `json:"due_date"`
	AmountCents int64             `json:"amount_cents"`
	Status      InstallmentStatus `json:"status"`

	// CollectionRef is the banking-provider collection identifier
	// (codigoSolicitacao), set when the boleto is issued.
	CollectionRef *string    `json:"collection_ref,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}
