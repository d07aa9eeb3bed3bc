package entity

import (
	"fmt"

	"github.com/simpix/formalization/pkg/types/errs"
)

// transitionGraph defines every allowed status edge. A status missing from
// the map, or an empty edge list, means no transition may leave it.
var transitionGraph = map[Status][]Status{
	StatusDraft:              {StatusPendingReview, StatusCancelled},
	StatusPendingReview:      {StatusApproved, StatusCancelled},
	StatusApproved:           {StatusDocumentGenerated, StatusCancelled},
	StatusDocumentGenerated:  {StatusAwaitingSignature, StatusCancelled},
	StatusAwaitingSignature:  {StatusSignatureCompleted, StatusDocumentGenerated, StatusCancelled},
	StatusSignatureCompleted: {StatusCollectionsIssued, StatusCancelled},
	StatusCollectionsIssued:  {StatusPaymentPending, StatusFullyPaid, StatusCancelled},
	StatusPaymentPending:     {StatusFullyPaid, StatusCancelled},
	StatusFullyPaid:          {},
	StatusCancelled:          {},
}

// ValidTransition reports whether from -> to is an allowed edge.
func ValidTransition(from, to Status) bool {
	for _, next := range transitionGraph[from] {
		if next == to {
			return true
		}
	}

	return false
}

// PossibleTransitions returns the statuses reachable from the given one.
func PossibleTransitions(from Status) []Status {
	return transitionGraph[from]
}

// Decision is the outcome of evaluating one domain event against the current
// aggregate state. It carries everything the applier must persist: the next
// proposal status (equal to the current one when only an installment changes)
// and the follow-up jobs to enqueue in the same transaction.
type Decision struct {
	Next        Status
	EnqueueJobs []JobType

	// MarkInstallment, when non-empty, is the installment status to set for
	// the installment matched by the event's CollectionRef.
	MarkInstallment InstallmentStatus

	// RecomputeCompletion signals that the fully-paid check must be re-run
	// over the installments inside the transaction.
	RecomputeCompletion bool
}

// Decide is the pure state-machine table: given the current status and one
// event, it returns the decision or
// errs.ErrInvalidTransition when the event is not applicable from this state.
// It never touches storage.
func Decide(current Status, ev DomainEvent) (Decision, error) {
	switch ev.Kind {
	case EventDocumentReady:
		if current != StatusApproved {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: StatusDocumentGenerated, EnqueueJobs: []JobType{JobDispatchSignature}}, nil

	case EventSignatureDispatched:
		if current != StatusDocumentGenerated {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: StatusAwaitingSignature}, nil

	case EventSignatureEnvelopeFinished:
		if current != StatusAwaitingSignature {
			return Decision{}, invalid(current, ev)
		}
		return Decision{
			Next:        StatusSignatureCompleted,
			EnqueueJobs: []JobType{JobDownloadSignedDocument, JobIssueCollections},
		}, nil

	case EventSignatureEnvelopeCancelled, EventSignatureEnvelopeExpired:
		if current != StatusAwaitingSignature {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: StatusCancelled}, nil

	case EventCollectionsIssued:
		if current != StatusSignatureCompleted {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: StatusCollectionsIssued, EnqueueJobs: []JobType{JobGenerateBooklet}}, nil

	case EventCollectionPaid:
		if current != StatusCollectionsIssued && current != StatusPaymentPending {
			return Decision{}, invalid(current, ev)
		}
		// Next status depends on whether this was the last unpaid
		// installment; the applier resolves it inside the transaction.
		return Decision{
			Next:                current,
			MarkInstallment:     InstallmentPaid,
			RecomputeCompletion: true,
		}, nil

	case EventCollectionOverdue:
		if current != StatusCollectionsIssued && current != StatusPaymentPending {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: current, MarkInstallment: InstallmentOverdue}, nil

	case EventCollectionCancelled:
		if current != StatusCollectionsIssued && current != StatusPaymentPending {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: current, MarkInstallment: InstallmentCancelled}, nil

	case EventPendencyReverted:
		// Human-triggered revert only; never derived from a provider event.
		if current != StatusAwaitingSignature || ev.Origin != OriginManual {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: StatusDocumentGenerated}, nil

	case EventProposalCancelled:
		if current.IsTerminal() {
			return Decision{}, invalid(current, ev)
		}
		return Decision{Next: StatusCancelled}, nil

	case EventNoOp:
		return Decision{Next: current}, nil
	}

	return Decision{}, invalid(current, ev)
}

func invalid(current Status, ev DomainEvent) error {
	return fmt.Errorf("event %s from status %s: %w", ev.Kind, current, errs.ErrInvalidTransition)
}
