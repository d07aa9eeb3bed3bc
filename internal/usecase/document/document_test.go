package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/infrastructure"
	"github.com/simpix/formalization/internal/repo"
	"github.com/simpix/formalization/internal/usecase"
)

type stubProposalRepo struct {
	repo.ProposalRepo

	proposal  *entity.Proposal
	signedKey string
	signedSHA string
}

func (s *stubProposalRepo) GetByID(_ context.Context, _ uuid.UUID) (*entity.Proposal, error) {
	return s.proposal, nil
}

func (s *stubProposalRepo) SetSignatureRef(_ context.Context, _ uuid.UUID, ref string) error {
	s.proposal.SignatureRef = &ref
	return nil
}

func (s *stubProposalRepo) SetSignedDocument(_ context.Context, _ uuid.UUID, key, sha256Hex string) error {
	s.signedKey = key
	s.signedSHA = sha256Hex
	return nil
}

type stubDocumentRepo struct {
	repo.DocumentRepo

	objects map[string][]byte
}

func (s *stubDocumentRepo) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}

	return data, nil
}

func (s *stubDocumentRepo) Upload(_ context.Context, key string, data []byte, _ string) error {
	s.objects[key] = data
	return nil
}

func (s *stubDocumentRepo) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

type stubSignature struct {
	infrastructure.SignatureProvider

	dispatched []infrastructure.DispatchRequest
	envelope   string
	artifact   []byte
	trail      []infrastructure.SigningEvent
	downloads  int
}

func (s *stubSignature) Dispatch(_ context.Context, req infrastructure.DispatchRequest) (string, error) {
	s.dispatched = append(s.dispatched, req)
	return s.envelope, nil
}

func (s *stubSignature) DownloadSignedDocument(_ context.Context, _ string) ([]byte, error) {
	s.downloads++
	return s.artifact, nil
}

func (s *stubSignature) EnvelopeEvents(_ context.Context, _ string) ([]infrastructure.SigningEvent, error) {
	return s.trail, nil
}

type stubAuditRepo struct {
	repo.AuditRepo

	entries []*entity.AuditLogEntry
}

func (s *stubAuditRepo) Append(_ context.Context, entry *entity.AuditLogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

// applier captures internal events instead of running the state machine.
type applier struct {
	usecase.ProposalUseCase

	applied []entity.DomainEvent
}

func (a *applier) ApplyInternal(_ context.Context, _ uuid.UUID, ev entity.DomainEvent, _ []byte) error {
	a.applied = append(a.applied, ev)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(_ interface{}, _ ...interface{}) {}
func (nopLogger) Info(_ string, _ ...interface{})       {}
func (nopLogger) Warn(_ string, _ ...interface{})       {}
func (nopLogger) Error(_ interface{}, _ ...interface{}) {}
func (nopLogger) Fatal(_ interface{}, _ ...interface{}) {}

func strPtr(s string) *string { return &s }

func newEnv(proposal *entity.Proposal) (*DocumentUseCase, *stubProposalRepo, *stubDocumentRepo, *stubSignature, *applier, *stubAuditRepo) {
	proposals := &stubProposalRepo{proposal: proposal}
	documents := &stubDocumentRepo{objects: map[string][]byte{}}
	signature := &stubSignature{
		envelope: "env-1",
		artifact: []byte("%PDF-1.7 signed"),
		trail: []infrastructure.SigningEvent{
			{Name: "sign", Signer: "maria@example.com", OccurredAt: time.Now()},
			{Name: "close", OccurredAt: time.Now()},
		},
	}
	app := &applier{}
	audit := &stubAuditRepo{}

	return New(proposals, documents, audit, signature, app, nopLogger{}), proposals, documents, signature, app, audit
}

func TestDispatchSignature(t *testing.T) {
	proposal := &entity.Proposal{
		ID:          uuid.New(),
		Status:      entity.StatusDocumentGenerated,
		SignerName:  "Maria Souza",
		SignerEmail: "maria@example.com",
		DocumentKey: strPtr("proposals/x/ccb.pdf"),
	}

	uc, repo, documents, signature, app, _ := newEnv(proposal)
	documents.objects["proposals/x/ccb.pdf"] = []byte("%PDF-1.7 agreement")

	job := &entity.Job{ID: uuid.New(), Type: entity.JobDispatchSignature, ProposalID: proposal.ID}
	if err := uc.DispatchSignature(context.Background(), job); err != nil {
		t.Fatalf("DispatchSignature: %v", err)
	}

	if len(signature.dispatched) != 1 {
		t.Fatalf("dispatched %d envelopes, want 1", len(signature.dispatched))
	}
	req := signature.dispatched[0]
	if req.SignerEmail != "maria@example.com" || string(req.Document) != "%PDF-1.7 agreement" {
		t.Errorf("dispatch request = %+v", req)
	}
	if repo.proposal.SignatureRef == nil || *repo.proposal.SignatureRef != "env-1" {
		t.Errorf("signature ref = %v, want env-1", repo.proposal.SignatureRef)
	}
	if len(app.applied) != 1 || app.applied[0].Kind != entity.EventSignatureDispatched {
		t.Errorf("applied = %+v, want one signature_dispatched", app.applied)
	}
}

func TestDispatchSignatureSkipsOtherStatuses(t *testing.T) {
	proposal := &entity.Proposal{ID: uuid.New(), Status: entity.StatusAwaitingSignature}
	uc, _, _, signature, app, _ := newEnv(proposal)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobDispatchSignature, ProposalID: proposal.ID}
	if err := uc.DispatchSignature(context.Background(), job); err != nil {
		t.Fatalf("DispatchSignature: %v", err)
	}

	if len(signature.dispatched) != 0 || len(app.applied) != 0 {
		t.Errorf("skipped job still touched provider or state machine")
	}
}

func TestDispatchSignatureResumesAfterPartialRun(t *testing.T) {
	// Ref already persisted but the transition never happened: the retry must
	// not create a second envelope.
	proposal := &entity.Proposal{
		ID:           uuid.New(),
		Status:       entity.StatusDocumentGenerated,
		SignatureRef: strPtr("env-existing"),
	}
	uc, _, _, signature, app, _ := newEnv(proposal)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobDispatchSignature, ProposalID: proposal.ID}
	if err := uc.DispatchSignature(context.Background(), job); err != nil {
		t.Fatalf("DispatchSignature: %v", err)
	}

	if len(signature.dispatched) != 0 {
		t.Errorf("retry created a second envelope")
	}
	if len(app.applied) != 1 || app.applied[0].Kind != entity.EventSignatureDispatched {
		t.Errorf("applied = %+v, want the replayed transition", app.applied)
	}
}

func TestDownloadSignedDocument(t *testing.T) {
	proposal := &entity.Proposal{
		ID:           uuid.New(),
		Status:       entity.StatusSignatureCompleted,
		SignatureRef: strPtr("env-1"),
	}
	uc, repo, documents, signature, _, audit := newEnv(proposal)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobDownloadSignedDocument, ProposalID: proposal.ID}
	if err := uc.DownloadSignedDocument(context.Background(), job); err != nil {
		t.Fatalf("DownloadSignedDocument: %v", err)
	}

	wantKey := "proposals/" + proposal.ID.String() + "/signed-ccb.pdf"
	if repo.signedKey != wantKey {
		t.Errorf("signed key = %q, want %q", repo.signedKey, wantKey)
	}

	sum := sha256.Sum256(signature.artifact)
	if repo.signedSHA != hex.EncodeToString(sum[:]) {
		t.Errorf("sha = %q, want content hash", repo.signedSHA)
	}
	if string(documents.objects[wantKey]) != string(signature.artifact) {
		t.Errorf("stored artifact differs from downloaded one")
	}

	// The archive leaves a ledger entry carrying the hash and the
	// envelope's signing history.
	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit.entries))
	}
	var record archiveRecord
	if err := json.Unmarshal(audit.entries[0].Metadata, &record); err != nil {
		t.Fatalf("json.Unmarshal metadata: %v", err)
	}
	if record.SHA256 != repo.signedSHA || record.Key != wantKey {
		t.Errorf("archive record = %+v", record)
	}
	if len(record.SigningEvents) != len(signature.trail) {
		t.Errorf("signing events = %d, want %d", len(record.SigningEvents), len(signature.trail))
	}
}

func TestDownloadSignedDocumentShortCircuits(t *testing.T) {
	key := "proposals/p/signed-ccb.pdf"
	proposal := &entity.Proposal{
		ID:                uuid.New(),
		Status:            entity.StatusSignatureCompleted,
		SignatureRef:      strPtr("env-1"),
		SignedDocumentKey: strPtr(key),
	}
	uc, _, documents, signature, _, audit := newEnv(proposal)
	documents.objects[key] = []byte("%PDF already archived")

	job := &entity.Job{ID: uuid.New(), Type: entity.JobDownloadSignedDocument, ProposalID: proposal.ID}
	if err := uc.DownloadSignedDocument(context.Background(), job); err != nil {
		t.Fatalf("DownloadSignedDocument: %v", err)
	}

	if signature.downloads != 0 {
		t.Errorf("retry hit the provider despite an archived artifact")
	}
	if len(audit.entries) != 0 {
		t.Errorf("short-circuit still appended an audit entry")
	}
}

func TestDownloadSignedDocumentRejectsNonPDF(t *testing.T) {
	proposal := &entity.Proposal{
		ID:           uuid.New(),
		Status:       entity.StatusSignatureCompleted,
		SignatureRef: strPtr("env-1"),
	}
	uc, repo, _, signature, _, audit := newEnv(proposal)
	signature.artifact = []byte(`{"error":"not ready"}`)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobDownloadSignedDocument, ProposalID: proposal.ID}
	if err := uc.DownloadSignedDocument(context.Background(), job); err == nil {
		t.Fatal("expected error for non-PDF artifact")
	}

	if repo.signedKey != "" {
		t.Errorf("rejected artifact was still persisted")
	}
	if len(audit.entries) != 0 {
		t.Errorf("rejected artifact still appended an audit entry")
	}
}
