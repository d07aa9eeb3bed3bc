// Package normalizer maps raw provider payloads and polled provider state to
// normalized domain events. Parsing is pure; unknown event names map to the
// no-op kind so every delivery can still be recorded.
package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/types/errs"
)

// Notification is one parsed provider delivery: the raw record fields (type,
// external id) plus the normalized event to feed the state machine. The
// normalized kind, not the raw type, drives idempotency, so provider aliases
// for one fact collapse to one processed event.
type Notification struct {
	EventType  string
	ExternalID string

	Event entity.DomainEvent
}

type clickSignPayload struct {
	Event string `json:"event"`
	Data  struct {
		Document struct {
			Key        string `json:"key"`
			Status     string `json:"status"`
			FinishedAt string `json:"finished_at"`
		} `json:"document"`
	} `json:"data"`
	OccurredAt string `json:"occurred_at"`
}

// ParseClickSign normalizes one e-signature webhook delivery.
func ParseClickSign(payload []byte) (*Notification, error) {
	var p clickSignPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("ParseClickSign - json.Unmarshal: %w", errs.ErrMalformedPayload)
	}
	if p.Event == "" || p.Data.Document.Key == "" {
		return nil, fmt.Errorf("ParseClickSign: missing event or document key: %w", errs.ErrMalformedPayload)
	}

	occurredAt := parseTime(p.OccurredAt)

	ev := entity.DomainEvent{
		Kind:        mapClickSignEvent(p.Event),
		Source:      entity.SourceSignatureProvider,
		Origin:      entity.OriginWebhook,
		EnvelopeKey: p.Data.Document.Key,
		OccurredAt:  occurredAt,
	}

	return &Notification{
		EventType:  p.Event,
		ExternalID: p.Data.Document.Key,
		Event:      ev,
	}, nil
}

func mapClickSignEvent(name string) entity.EventKind {
	switch strings.ToLower(name) {
	case "auto_close", "document_closed":
		return entity.EventSignatureEnvelopeFinished
	case "cancel":
		return entity.EventSignatureEnvelopeCancelled
	case "deadline":
		return entity.EventSignatureEnvelopeExpired
	}

	return entity.EventNoOp
}

type interPayload struct {
	Evento   string `json:"evento"`
	Cobranca struct {
		CodigoSolicitacao string `json:"codigoSolicitacao"`
		SeuNumero         string `json:"seuNumero"`
		Situacao          string `json:"situacao"`
		ValorRecebido     string `json:"valorRecebido"`
		DataHoraSituacao  string `json:"dataHoraSituacao"`
		TipoCobranca      string `json:"tipoCobranca"`
	} `json:"cobranca"`
}

// ParseInter normalizes one banking webhook delivery. The situacao string,
// not the outer evento, decides the event kind.
func ParseInter(payload []byte) (*Notification, error) {
	var p interPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("ParseInter - json.Unmarshal: %w", errs.ErrMalformedPayload)
	}
	if p.Cobranca.CodigoSolicitacao == "" || p.Cobranca.Situacao == "" {
		return nil, fmt.Errorf("ParseInter: missing codigoSolicitacao or situacao: %w", errs.ErrMalformedPayload)
	}

	kind := mapSituacao(p.Cobranca.Situacao)

	ev := entity.DomainEvent{
		Kind:          kind,
		Source:        entity.SourceBankingProvider,
		Origin:        entity.OriginWebhook,
		CollectionRef: p.Cobranca.CodigoSolicitacao,
		OccurredAt:    parseTime(p.Cobranca.DataHoraSituacao),
	}

	if kind == entity.EventCollectionPaid {
		ev.PaidAmountCents = parseCents(p.Cobranca.ValorRecebido)
		ev.PaymentMethod = strings.ToLower(p.Cobranca.TipoCobranca)
		if !ev.OccurredAt.IsZero() {
			t := ev.OccurredAt
			ev.PaidAt = &t
		}
	}

	return &Notification{
		EventType:  strings.ToUpper(p.Cobranca.Situacao),
		ExternalID: p.Cobranca.CodigoSolicitacao,
		Event:      ev,
	}, nil
}

func mapSituacao(situacao string) entity.EventKind {
	switch strings.ToUpper(situacao) {
	case "RECEBIDO", "MARCADO_RECEBIDO":
		return entity.EventCollectionPaid
	case "ATRASADO":
		return entity.EventCollectionOverdue
	case "CANCELADO", "EXPIRADO":
		return entity.EventCollectionCancelled
	}

	return entity.EventNoOp
}

// FromEnvelopeState maps a polled e-signature envelope status to an event
// with poll origin. Running envelopes map to no-op.
func FromEnvelopeState(envelopeKey, state string, updatedAt time.Time) entity.DomainEvent {
	var kind entity.EventKind

	switch strings.ToLower(state) {
	case "closed", "finished":
		kind = entity.EventSignatureEnvelopeFinished
	case "canceled", "cancelled":
		kind = entity.EventSignatureEnvelopeCancelled
	case "expired":
		kind = entity.EventSignatureEnvelopeExpired
	default:
		kind = entity.EventNoOp
	}

	return entity.DomainEvent{
		Kind:        kind,
		Source:      entity.SourceSignatureProvider,
		Origin:      entity.OriginPoll,
		EnvelopeKey: envelopeKey,
		OccurredAt:  updatedAt,
	}
}

// FromCollectionState maps a polled collection status to an event with poll
// origin, reusing the webhook situacao mapping.
func FromCollectionState(collectionRef, situacao string, paidAmountCents int64, paidAt *time.Time, method string) entity.DomainEvent {
	kind := mapSituacao(situacao)

	ev := entity.DomainEvent{
		Kind:          kind,
		Source:        entity.SourceBankingProvider,
		Origin:        entity.OriginPoll,
		CollectionRef: collectionRef,
	}

	if paidAt != nil {
		ev.OccurredAt = *paidAt
	}

	if kind == entity.EventCollectionPaid {
		ev.PaidAmountCents = paidAmountCents
		ev.PaidAt = paidAt
		ev.PaymentMethod = strings.ToLower(method)
	}

	return ev
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}

func parseCents(s string) int64 {
	if s == "" {
		return 0
	}

	whole, frac, _ := strings.Cut(s, ".")

	var cents int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0
		}
		cents = cents*10 + int64(r-'0')
	}
	cents *= 100

	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var f int64
	for _, r := range frac {
		if r < '0' || r > '9' {
			return cents
		}
		f = f*10 + int64(r-'0')
	}

	return cents + f
}
