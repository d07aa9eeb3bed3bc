package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/types/errs"
)

func TestParseClickSign(t *testing.T) {
	tests := []struct {
		name     string
		event    string
		wantKind entity.EventKind
	}{
		{"auto close finishes envelope", "auto_close", entity.EventSignatureEnvelopeFinished},
		{"document closed finishes envelope", "document_closed", entity.EventSignatureEnvelopeFinished},
		{"cancel", "cancel", entity.EventSignatureEnvelopeCancelled},
		{"deadline expires", "deadline", entity.EventSignatureEnvelopeExpired},
		{"unknown event is noop", "sign", entity.EventNoOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(`{"event":"` + tt.event + `","data":{"document":{"key":"doc-123"}},"occurred_at":"2026-08-01T12:00:00Z"}`)

			n, err := ParseClickSign(payload)
			if err != nil {
				t.Fatalf("ParseClickSign: %v", err)
			}

			if n.Event.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", n.Event.Kind, tt.wantKind)
			}
			if n.Event.EnvelopeKey != "doc-123" {
				t.Errorf("envelope key = %s, want doc-123", n.Event.EnvelopeKey)
			}
			if n.Event.Origin != entity.OriginWebhook {
				t.Errorf("origin = %s, want webhook", n.Event.Origin)
			}
			if n.ExternalID != "doc-123" {
				t.Errorf("external id = %s, want doc-123", n.ExternalID)
			}
		})
	}
}

func TestParseClickSignMalformed(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{}`,
		`{"event":"auto_close","data":{"document":{}}}`,
	} {
		if _, err := ParseClickSign([]byte(payload)); !errors.Is(err, errs.ErrMalformedPayload) {
			t.Errorf("payload %q: err = %v, want ErrMalformedPayload", payload, err)
		}
	}
}

func TestParseInter(t *testing.T) {
	tests := []struct {
		name     string
		situacao string
		wantKind entity.EventKind
	}{
		{"recebido is paid", "RECEBIDO", entity.EventCollectionPaid},
		{"marcado recebido is paid", "MARCADO_RECEBIDO", entity.EventCollectionPaid},
		{"lowercase situacao accepted", "recebido", entity.EventCollectionPaid},
		{"atrasado is overdue", "ATRASADO", entity.EventCollectionOverdue},
		{"cancelado", "CANCELADO", entity.EventCollectionCancelled},
		{"expirado cancels", "EXPIRADO", entity.EventCollectionCancelled},
		{"unknown situacao is noop", "A_RECEBER", entity.EventNoOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(`{"evento":"cobranca.situacao","cobranca":{"codigoSolicitacao":"abc-1","seuNumero":"inst-1","situacao":"` + tt.situacao + `","valorRecebido":"150.50","dataHoraSituacao":"2026-08-02T10:30:00Z","tipoCobranca":"PIX"}}`)

			n, err := ParseInter(payload)
			if err != nil {
				t.Fatalf("ParseInter: %v", err)
			}

			if n.Event.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", n.Event.Kind, tt.wantKind)
			}
			if n.Event.CollectionRef != "abc-1" {
				t.Errorf("collection ref = %s, want abc-1", n.Event.CollectionRef)
			}
		})
	}
}

func TestParseInterPaymentDetails(t *testing.T) {
	payload := []byte(`{"cobranca":{"codigoSolicitacao":"abc-1","situacao":"RECEBIDO","valorRecebido":"150.50","dataHoraSituacao":"2026-08-02T10:30:00Z","tipoCobranca":"PIX"}}`)

	n, err := ParseInter(payload)
	if err != nil {
		t.Fatalf("ParseInter: %v", err)
	}

	if n.Event.PaidAmountCents != 15050 {
		t.Errorf("paid amount = %d, want 15050", n.Event.PaidAmountCents)
	}
	if n.Event.PaymentMethod != "pix" {
		t.Errorf("payment method = %s, want pix", n.Event.PaymentMethod)
	}
	if n.Event.PaidAt == nil || !n.Event.PaidAt.Equal(time.Date(2026, 8, 2, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("paid at = %v", n.Event.PaidAt)
	}
}

func TestIdempotencyKeyPerNormalizedKind(t *testing.T) {
	// Two statuses of one collection share the external id but must produce
	// distinct idempotency keys.
	paid := []byte(`{"cobranca":{"codigoSolicitacao":"abc-1","situacao":"RECEBIDO","dataHoraSituacao":"2026-08-02T10:30:00Z"}}`)
	overdue := []byte(`{"cobranca":{"codigoSolicitacao":"abc-1","situacao":"ATRASADO","dataHoraSituacao":"2026-08-01T00:00:00Z"}}`)

	n1, err := ParseInter(paid)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := ParseInter(overdue)
	if err != nil {
		t.Fatal(err)
	}

	k1 := entity.IdempotencyKey(n1.Event.Source, string(n1.Event.Kind), n1.ExternalID)
	k2 := entity.IdempotencyKey(n2.Event.Source, string(n2.Event.Kind), n2.ExternalID)

	if k1 == k2 {
		t.Errorf("idempotency keys collide across situacao changes: %s", k1)
	}

	// A webhook and a poll observing the same provider fact share one key,
	// even when the provider spells the fact differently.
	w, err := ParseClickSign(clickSignBody("auto_close"))
	if err != nil {
		t.Fatal(err)
	}
	p := FromEnvelopeState("doc-123", "closed", time.Now())

	kw := entity.IdempotencyKey(w.Event.Source, string(w.Event.Kind), w.ExternalID)
	kp := entity.IdempotencyKey(p.Source, string(p.Kind), p.EnvelopeKey)

	if kw != kp {
		t.Errorf("webhook and poll keys differ for one fact: %s != %s", kw, kp)
	}
}

func clickSignBody(event string) []byte {
	return []byte(`{"event":"` + event + `","data":{"document":{"key":"doc-123"}},"occurred_at":"2026-08-01T12:00:00Z"}`)
}

func TestFromEnvelopeState(t *testing.T) {
	updated := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		state    string
		wantKind entity.EventKind
	}{
		{"closed", entity.EventSignatureEnvelopeFinished},
		{"finished", entity.EventSignatureEnvelopeFinished},
		{"canceled", entity.EventSignatureEnvelopeCancelled},
		{"expired", entity.EventSignatureEnvelopeExpired},
		{"running", entity.EventNoOp},
	}

	for _, tt := range tests {
		ev := FromEnvelopeState("env-1", tt.state, updated)

		if ev.Kind != tt.wantKind {
			t.Errorf("state %s: kind = %s, want %s", tt.state, ev.Kind, tt.wantKind)
		}
		if ev.Origin != entity.OriginPoll {
			t.Errorf("state %s: origin = %s, want poll", tt.state, ev.Origin)
		}
	}
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"150.50", 15050},
		{"150.5", 15050},
		{"150", 15000},
		{"0.01", 1},
		{"1234.567", 123456},
	}

	for _, tt := range tests {
		if got := parseCents(tt.in); got != tt.want {
			t.Errorf("parseCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
