package entity

import "time"

// EventSource identifies which external system produced an event.
type EventSource string

const (
	SourceSignatureProvider EventSource = "signature-provider"
	SourceBankingProvider   EventSource = "banking-provider"
	SourceInternal          EventSource = "internal"
)

// EventOrigin records which channel delivered an event.
type EventOrigin string

const (
	OriginWebhook EventOrigin = "webhook"
	OriginPoll    EventOrigin = "poll"
	OriginManual  EventOrigin = "manual"
	OriginSystem  EventOrigin = "system"
)

// EventKind enumerates the domain events the state machine understands.
// Provider payloads outside this set normalize to EventNoOp, which is kept
// for audit and never rejected.
type EventKind string

const (
	EventDocumentReady              EventKind = "document_ready"
	EventSignatureDispatched        EventKind = "signature_dispatched"
	EventSignatureEnvelopeFinished  EventKind = "signature_envelope_finished"
	EventSignatureEnvelopeCancelled EventKind = "signature_envelope_cancelled"
	EventSignatureEnvelopeExpired   EventKind = "signature_envelope_expired"
	EventCollectionsIssued          EventKind = "collections_issued"
	EventCollectionPaid             EventKind = "collection_paid"
	EventCollectionOverdue          EventKind = "collection_overdue"
	EventCollectionCancelled        EventKind = "collection_cancelled"
	EventPendencyReverted           EventKind = "pendency_reverted"
	EventProposalCancelled          EventKind = "proposal_cancelled"
	EventNoOp                       EventKind = "noop"
)

// DomainEvent is the normalized form of one provider notification or internal
// trigger. Exactly one of EnvelopeKey/CollectionRef is meaningful depending on
// the kind; collection events target a single installment.
type DomainEvent struct {
	Kind   EventKind
	Source EventSource
	Origin EventOrigin

	// EnvelopeKey is the signature-provider envelope/document identifier.
	EnvelopeKey string

	// CollectionRef is the banking-provider collection identifier.
	CollectionRef string

	// Payment details, populated for EventCollectionPaid.
	PaidAmountCents int64
	PaidAt          *time.Time
	PaymentMethod   string

	OccurredAt time.Time
}

// IsCollectionLevel reports whether the event targets an installment rather
// than the proposal aggregate status.
func (e DomainEvent) IsCollectionLevel() bool {
	switch e.Kind {
	case EventCollectionPaid, EventCollectionOverdue, EventCollectionCancelled:
		return true
	}

	return false
}
