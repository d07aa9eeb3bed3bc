package collection

import (
	"bytes"
	"context"
	"fmt"
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

	proposal   *entity.Proposal
	bookletKey string
}

func (s *stubProposalRepo) GetByID(_ context.Context, _ uuid.UUID) (*entity.Proposal, error) {
	return s.proposal, nil
}

func (s *stubProposalRepo) SetBookletKey(_ context.Context, _ uuid.UUID, key string) error {
	s.bookletKey = key
	return nil
}

type stubInstallmentRepo struct {
	repo.InstallmentRepo

	installments []*entity.Installment
}

func (s *stubInstallmentRepo) ListByProposal(_ context.Context, _ uuid.UUID) ([]*entity.Installment, error) {
	return s.installments, nil
}

func (s *stubInstallmentRepo) SetCollectionRef(_ context.Context, id uuid.UUID, ref string) error {
	for _, inst := range s.installments {
		if inst.ID == id {
			inst.CollectionRef = &ref
		}
	}
	return nil
}

type stubDocumentRepo struct {
	repo.DocumentRepo

	objects map[string][]byte
}

func (s *stubDocumentRepo) Upload(_ context.Context, key string, data []byte, _ string) error {
	s.objects[key] = data
	return nil
}

func (s *stubDocumentRepo) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

type stubBanking struct {
	infrastructure.BankingProvider

	issued []infrastructure.IssueCollectionRequest
	pdfs   map[string][]byte
}

func (s *stubBanking) IssueCollection(_ context.Context, req infrastructure.IssueCollectionRequest) (string, error) {
	s.issued = append(s.issued, req)
	return fmt.Sprintf("col-%03d", len(s.issued)), nil
}

func (s *stubBanking) CollectionPDF(_ context.Context, ref string) ([]byte, error) {
	pdf, ok := s.pdfs[ref]
	if !ok {
		return nil, fmt.Errorf("no pdf for %s", ref)
	}

	return pdf, nil
}

// joiner is a merge stand-in that concatenates inputs, keeping order visible.
type joiner struct{}

func (joiner) Merge(_ context.Context, documents [][]byte) ([]byte, error) {
	return bytes.Join(documents, []byte("|")), nil
}

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

func schedule(proposalID uuid.UUID, n int) []*entity.Installment {
	out := make([]*entity.Installment, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &entity.Installment{
			ID:          uuid.New(),
			ProposalID:  proposalID,
			Number:      i,
			DueDate:     time.Now().AddDate(0, i, 0),
			AmountCents: 10000,
			Status:      entity.InstallmentPending,
		})
	}

	return out
}

func TestIssueCollectionsIssuesOnlyMissing(t *testing.T) {
	proposal := &entity.Proposal{
		ID:         uuid.New(),
		Status:     entity.StatusSignatureCompleted,
		SignerName: "Maria Souza",
		PayerTaxID: "12345678901",
	}
	installments := schedule(proposal.ID, 3)
	installments[0].CollectionRef = strPtr("col-existing")

	banking := &stubBanking{}
	app := &applier{}
	uc := New(
		&stubProposalRepo{proposal: proposal},
		&stubInstallmentRepo{installments: installments},
		&stubDocumentRepo{objects: map[string][]byte{}},
		banking,
		joiner{},
		app,
		nopLogger{},
	)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobIssueCollections, ProposalID: proposal.ID}
	if err := uc.IssueCollections(context.Background(), job); err != nil {
		t.Fatalf("IssueCollections: %v", err)
	}

	if len(banking.issued) != 2 {
		t.Fatalf("issued %d collections, want 2", len(banking.issued))
	}
	for _, inst := range installments {
		if inst.CollectionRef == nil {
			t.Errorf("installment %d left without collection ref", inst.Number)
		}
	}
	if len(app.applied) != 1 || app.applied[0].Kind != entity.EventCollectionsIssued {
		t.Errorf("applied = %+v, want one collections_issued", app.applied)
	}
}

func TestIssueCollectionsSkipsOtherStatuses(t *testing.T) {
	proposal := &entity.Proposal{ID: uuid.New(), Status: entity.StatusAwaitingSignature}
	banking := &stubBanking{}
	app := &applier{}
	uc := New(
		&stubProposalRepo{proposal: proposal},
		&stubInstallmentRepo{},
		&stubDocumentRepo{objects: map[string][]byte{}},
		banking,
		joiner{},
		app,
		nopLogger{},
	)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobIssueCollections, ProposalID: proposal.ID}
	if err := uc.IssueCollections(context.Background(), job); err != nil {
		t.Fatalf("IssueCollections: %v", err)
	}

	if len(banking.issued) != 0 || len(app.applied) != 0 {
		t.Errorf("skipped job still touched provider or state machine")
	}
}

func TestInstallmentReferenceFitsProviderLimit(t *testing.T) {
	proposal := &entity.Proposal{ID: uuid.New()}
	inst := &entity.Installment{Number: 360}

	ref := installmentReference(proposal, inst)
	if len(ref) > 15 {
		t.Errorf("reference %q is %d chars, provider caps at 15", ref, len(ref))
	}
}

func TestGenerateBooklet(t *testing.T) {
	proposal := &entity.Proposal{ID: uuid.New(), Status: entity.StatusCollectionsIssued}
	installments := schedule(proposal.ID, 3)
	banking := &stubBanking{pdfs: map[string][]byte{}}
	for i, inst := range installments {
		ref := fmt.Sprintf("col-%d", i+1)
		inst.CollectionRef = &ref
		banking.pdfs[ref] = []byte(fmt.Sprintf("slip-%d", i+1))
	}

	proposals := &stubProposalRepo{proposal: proposal}
	documents := &stubDocumentRepo{objects: map[string][]byte{}}
	uc := New(
		proposals,
		&stubInstallmentRepo{installments: installments},
		documents,
		banking,
		joiner{},
		&applier{},
		nopLogger{},
	)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobGenerateBooklet, ProposalID: proposal.ID}
	if err := uc.GenerateBooklet(context.Background(), job); err != nil {
		t.Fatalf("GenerateBooklet: %v", err)
	}

	wantKey := "proposals/" + proposal.ID.String() + "/carne.pdf"
	if proposals.bookletKey != wantKey {
		t.Errorf("booklet key = %q, want %q", proposals.bookletKey, wantKey)
	}
	if got := string(documents.objects[wantKey]); got != "slip-1|slip-2|slip-3" {
		t.Errorf("booklet = %q, slips out of order or missing", got)
	}
}

func TestGenerateBookletShortCircuits(t *testing.T) {
	key := "proposals/p/carne.pdf"
	proposal := &entity.Proposal{
		ID:         uuid.New(),
		Status:     entity.StatusCollectionsIssued,
		BookletKey: strPtr(key),
	}
	banking := &stubBanking{pdfs: map[string][]byte{}}
	documents := &stubDocumentRepo{objects: map[string][]byte{key: []byte("existing")}}
	uc := New(
		&stubProposalRepo{proposal: proposal},
		&stubInstallmentRepo{},
		documents,
		banking,
		joiner{},
		&applier{},
		nopLogger{},
	)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobGenerateBooklet, ProposalID: proposal.ID}
	if err := uc.GenerateBooklet(context.Background(), job); err != nil {
		t.Fatalf("GenerateBooklet: %v", err)
	}

	if string(documents.objects[key]) != "existing" {
		t.Errorf("existing booklet was overwritten")
	}
}

func TestGenerateBookletRequiresAllRefs(t *testing.T) {
	proposal := &entity.Proposal{ID: uuid.New(), Status: entity.StatusCollectionsIssued}
	installments := schedule(proposal.ID, 2)
	installments[0].CollectionRef = strPtr("col-1")

	uc := New(
		&stubProposalRepo{proposal: proposal},
		&stubInstallmentRepo{installments: installments},
		&stubDocumentRepo{objects: map[string][]byte{}},
		&stubBanking{pdfs: map[string][]byte{"col-1": []byte("slip-1")}},
		joiner{},
		&applier{},
		nopLogger{},
	)

	job := &entity.Job{ID: uuid.New(), Type: entity.JobGenerateBooklet, ProposalID: proposal.ID}
	if err := uc.GenerateBooklet(context.Background(), job); err == nil {
		t.Fatal("expected error when a collection ref is missing")
	}
}
