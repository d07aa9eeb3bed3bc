package infrastructure

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
)

type (
	EventsSender interface {
		SendEvents(ctx context.Context, events []*entity.OutboxEvent) error
		Close() error
	}

	// SignatureProvider fronts the e-signature API: envelope creation and
	// dispatch, status queries for reconciliation, signed artifact download
	// and the envelope's signing history.
	SignatureProvider interface {
		Dispatch(ctx context.Context, req DispatchRequest) (envelopeKey string, err error)
		EnvelopeStatus(ctx context.Context, envelopeKey string) (*EnvelopeStatus, error)
		DownloadSignedDocument(ctx context.Context, envelopeKey string) ([]byte, error)
		EnvelopeEvents(ctx context.Context, envelopeKey string) ([]SigningEvent, error)
	}

	// BankingProvider fronts the collections API: boleto/PIX issuance per
	// installment, status queries for reconciliation, and the per-collection
	// PDF slip used for booklet assembly.
	BankingProvider interface {
		IssueCollection(ctx context.Context, req IssueCollectionRequest) (collectionRef string, err error)
		CollectionStatus(ctx context.Context, collectionRef string) (*CollectionStatus, error)
		CollectionPDF(ctx context.Context, collectionRef string) ([]byte, error)
	}

	// DocumentMerger concatenates single-page collection slips into one
	// booklet document.
	DocumentMerger interface {
		Merge(ctx context.Context, documents [][]byte) ([]byte, error)
	}
)

// DispatchRequest carries everything needed to put a generated credit
// agreement in front of a signer.
type DispatchRequest struct {
	ProposalID   uuid.UUID
	DocumentName string
	Document     []byte
	SignerName   string
	SignerEmail  string
	Deadline     time.Time
}

// EnvelopeStatus is the provider's view of one signature envelope. State is
// the provider's raw status string; the normalizer maps it to a domain event.
type EnvelopeStatus struct {
	Key       string
	State     string
	UpdatedAt time.Time
}

// SigningEvent is one entry of an envelope's audit trail: who did what to
// the envelope and when. The trail is archived with the signed document.
type SigningEvent struct {
	Name       string    `json:"name"`
	Signer     string    `json:"signer,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// IssueCollectionRequest carries the data for one installment's boleto/PIX
// collection. Reference travels to the provider as seuNumero and comes back
// verbatim in webhooks.
type IssueCollectionRequest struct {
	ProposalID    uuid.UUID
	InstallmentID uuid.UUID
	Reference     string
	AmountCents   int64
	DueDate       time.Time
	PayerName     string
	PayerTaxID    string
}

// CollectionStatus is the provider's view of one collection. Situation is
// the provider's raw situacao string; the normalizer maps it to a domain
// event.
type CollectionStatus struct {
	Ref             string
	Situation       string
	PaidAmountCents int64
	PaidAt          *time.Time
	PaymentMethod   string
}
