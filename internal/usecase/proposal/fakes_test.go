package proposal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/types/errs"
)

// In-memory repository fakes. They mirror the store semantics the use case
// relies on: the processed-key uniqueness for events and the paid guard for
// installments live in the real schema, so the fakes enforce them too.

type fakeTransactor struct{}

func (fakeTransactor) WithinTransaction(ctx context.Context, f func(ctx context.Context) error) error {
	return f(ctx)
}

type fakeProposalRepo struct {
	proposals map[uuid.UUID]*entity.Proposal
}

func newFakeProposalRepo() *fakeProposalRepo {
	return &fakeProposalRepo{proposals: map[uuid.UUID]*entity.Proposal{}}
}

func (r *fakeProposalRepo) Create(_ context.Context, p *entity.Proposal) error {
	cp := *p
	r.proposals[p.ID] = &cp
	return nil
}

func (r *fakeProposalRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Proposal, error) {
	p, ok := r.proposals[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProposalRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Proposal, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeProposalRepo) GetIDBySignatureRef(_ context.Context, ref string) (uuid.UUID, error) {
	for _, p := range r.proposals {
		if p.SignatureRef != nil && *p.SignatureRef == ref {
			return p.ID, nil
		}
	}
	return uuid.Nil, errs.ErrRecordNotFound
}

func (r *fakeProposalRepo) UpdateStatus(_ context.Context, id uuid.UUID, status entity.Status) error {
	p, ok := r.proposals[id]
	if !ok {
		return errs.ErrRecordNotFound
	}
	p.Status = status
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

func (r *fakeProposalRepo) SetDocumentKey(_ context.Context, id uuid.UUID, key string) error {
	r.proposals[id].DocumentKey = &key
	return nil
}

func (r *fakeProposalRepo) SetSignatureRef(_ context.Context, id uuid.UUID, ref string) error {
	r.proposals[id].SignatureRef = &ref
	return nil
}

func (r *fakeProposalRepo) SetSignedDocument(_ context.Context, id uuid.UUID, key, sha string) error {
	r.proposals[id].SignedDocumentKey = &key
	r.proposals[id].SignedDocumentSHA = &sha
	return nil
}

func (r *fakeProposalRepo) SetBookletKey(_ context.Context, id uuid.UUID, key string) error {
	r.proposals[id].BookletKey = &key
	return nil
}

func (r *fakeProposalRepo) SelectStale(_ context.Context, statuses []entity.Status, olderThan time.Time, limit int) ([]*entity.Proposal, error) {
	var out []*entity.Proposal
	for _, p := range r.proposals {
		for _, s := range statuses {
			if p.Status == s && p.UpdatedAt.Before(olderThan) {
				cp := *p
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeInstallmentRepo struct {
	installments map[uuid.UUID]*entity.Installment
}

func newFakeInstallmentRepo() *fakeInstallmentRepo {
	return &fakeInstallmentRepo{installments: map[uuid.UUID]*entity.Installment{}}
}

func (r *fakeInstallmentRepo) CreateBatch(_ context.Context, installments []*entity.Installment) error {
	for _, inst := range installments {
		cp := *inst
		r.installments[inst.ID] = &cp
	}
	return nil
}

func (r *fakeInstallmentRepo) ListByProposal(_ context.Context, proposalID uuid.UUID) ([]*entity.Installment, error) {
	var out []*entity.Installment
	for _, inst := range r.installments {
		if inst.ProposalID == proposalID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *fakeInstallmentRepo) GetByCollectionRef(_ context.Context, ref string) (*entity.Installment, error) {
	for _, inst := range r.installments {
		if inst.CollectionRef != nil && *inst.CollectionRef == ref {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, errs.ErrRecordNotFound
}

func (r *fakeInstallmentRepo) SetStatus(_ context.Context, id uuid.UUID, status entity.InstallmentStatus, paidAt *time.Time) error {
	inst, ok := r.installments[id]
	if !ok {
		return errs.ErrRecordNotFound
	}
	inst.Status = status
	inst.PaidAt = paidAt
	return nil
}

func (r *fakeInstallmentRepo) SetCollectionRef(_ context.Context, id uuid.UUID, ref string) error {
	r.installments[id].CollectionRef = &ref
	return nil
}

func (r *fakeInstallmentRepo) CountUnpaid(_ context.Context, proposalID uuid.UUID) (int, error) {
	count := 0
	for _, inst := range r.installments {
		if inst.ProposalID == proposalID && inst.Status != entity.InstallmentPaid {
			count++
		}
	}
	return count, nil
}

type fakeEventRepo struct {
	events    map[uuid.UUID]*entity.ExternalEvent
	processed map[string]bool
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		events:    map[uuid.UUID]*entity.ExternalEvent{},
		processed: map[string]bool{},
	}
}

func (r *fakeEventRepo) Create(_ context.Context, event *entity.ExternalEvent) error {
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.ExternalEvent, error) {
	event, ok := r.events[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	cp := *event
	return &cp, nil
}

func (r *fakeEventRepo) ClaimProcessed(_ context.Context, id uuid.UUID) error {
	event, ok := r.events[id]
	if !ok {
		return errs.ErrRecordNotFound
	}
	if r.processed[event.IdempotencyKey] {
		return fmt.Errorf("claim %s: %w", event.IdempotencyKey, errs.ErrDuplicateEvent)
	}
	r.processed[event.IdempotencyKey] = true
	event.Processed = true
	now := time.Now()
	event.ProcessedAt = &now
	return nil
}

func (r *fakeEventRepo) MarkConflict(_ context.Context, id uuid.UUID, reason string) error {
	event, ok := r.events[id]
	if !ok {
		return errs.ErrRecordNotFound
	}
	// A conflicting event releases its claim so the key stays available.
	delete(r.processed, event.IdempotencyKey)
	event.Processed = false
	event.ConflictReason = &reason
	return nil
}

func (r *fakeEventRepo) ListConflicts(_ context.Context, limit int) ([]*entity.ExternalEvent, error) {
	var out []*entity.ExternalEvent
	for _, event := range r.events {
		if !event.Processed && event.ConflictReason != nil {
			cp := *event
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeJobRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*entity.Job{}}
}

func (r *fakeJobRepo) Create(_ context.Context, job *entity.Job) error {
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) FindPending(_ context.Context, proposalID uuid.UUID, jobType entity.JobType) (*entity.Job, error) {
	for _, job := range r.jobs {
		if job.ProposalID == proposalID && job.Type == jobType &&
			(job.Status == entity.JobWaiting || job.Status == entity.JobActive) {
			cp := *job
			return &cp, nil
		}
	}
	return nil, errs.ErrRecordNotFound
}

func (r *fakeJobRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*entity.Job, error) {
	var out []*entity.Job
	for _, job := range r.jobs {
		if job.Status == entity.JobWaiting && !job.NextRunAt.After(now) && len(out) < limit {
			job.Status = entity.JobActive
			started := time.Now()
			job.StartedAt = &started
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) RequeueStuck(_ context.Context, startedBefore time.Time) (int64, error) {
	var n int64
	for _, job := range r.jobs {
		if job.Status == entity.JobActive && job.StartedAt != nil && job.StartedAt.Before(startedBefore) {
			job.Status = entity.JobWaiting
			job.NextRunAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *fakeJobRepo) MarkCompleted(_ context.Context, id uuid.UUID, result []byte) error {
	job := r.jobs[id]
	job.Status = entity.JobCompleted
	job.Result = result
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (r *fakeJobRepo) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	job := r.jobs[id]
	job.Status = entity.JobFailed
	job.LastError = &lastError
	job.Attempts++
	return nil
}

func (r *fakeJobRepo) Reschedule(_ context.Context, id uuid.UUID, lastError string, nextRunAt time.Time) error {
	job := r.jobs[id]
	job.Status = entity.JobWaiting
	job.LastError = &lastError
	job.Attempts++
	job.NextRunAt = nextRunAt
	return nil
}

func (r *fakeJobRepo) CountByStatus(_ context.Context) (map[entity.JobStatus]int, error) {
	out := map[entity.JobStatus]int{}
	for _, job := range r.jobs {
		out[job.Status]++
	}
	return out, nil
}

func (r *fakeJobRepo) byType(jobType entity.JobType) []*entity.Job {
	var out []*entity.Job
	for _, job := range r.jobs {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

type fakeAuditRepo struct {
	entries []*entity.AuditLogEntry
}

func (r *fakeAuditRepo) Append(_ context.Context, entry *entity.AuditLogEntry) error {
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeAuditRepo) ListByProposal(_ context.Context, proposalID uuid.UUID) ([]*entity.AuditLogEntry, error) {
	var out []*entity.AuditLogEntry
	for _, entry := range r.entries {
		if entry.ProposalID == proposalID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeOutboxRepo struct {
	events []*entity.OutboxEvent
}

func (r *fakeOutboxRepo) Create(_ context.Context, event *entity.OutboxEvent) error {
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeOutboxRepo) GetPendingEvents(_ context.Context, _, limit int) ([]*entity.OutboxEvent, error) {
	var out []*entity.OutboxEvent
	for _, event := range r.events {
		if event.Status == entity.OutboxPending && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) MarkAsProcessingBatch(_ context.Context, ids uuid.UUIDs) error {
	return r.mark(ids, entity.OutboxProcessing)
}

func (r *fakeOutboxRepo) MarkAsProcessedBatch(_ context.Context, ids uuid.UUIDs) error {
	return r.mark(ids, entity.OutboxProcessed)
}

func (r *fakeOutboxRepo) mark(ids uuid.UUIDs, status entity.OutboxStatus) error {
	for _, event := range r.events {
		for _, id := range ids {
			if event.ID == id {
				event.Status = status
			}
		}
	}
	return nil
}

func (r *fakeOutboxRepo) IncrementRetryCountBatch(_ context.Context, ids uuid.UUIDs) error {
	for _, event := range r.events {
		for _, id := range ids {
			if event.ID == id {
				event.RetryCount++
			}
		}
	}
	return nil
}

func (r *fakeOutboxRepo) MarkMaxRetriesAsFailed(_ context.Context, maxRetries int) error {
	for _, event := range r.events {
		if event.RetryCount >= maxRetries && event.Status != entity.OutboxProcessed {
			event.Status = entity.OutboxFailed
		}
	}
	return nil
}

func (r *fakeOutboxRepo) DeleteOldProcessedAndFailed(_ context.Context) (int64, error) {
	return 0, nil
}

type fakeDocumentRepo struct {
	objects map[string][]byte
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{objects: map[string][]byte{}}
}

func (r *fakeDocumentRepo) Upload(_ context.Context, key string, data []byte, _ string) error {
	r.objects[key] = data
	return nil
}

func (r *fakeDocumentRepo) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := r.objects[key]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	return data, nil
}

func (r *fakeDocumentRepo) Exists(_ context.Context, key string) (bool, error) {
	_, ok := r.objects[key]
	return ok, nil
}

type nopLogger struct{}

func (nopLogger) Debug(_ interface{}, _ ...interface{}) {}
func (nopLogger) Info(_ string, _ ...interface{})       {}
func (nopLogger) Warn(_ string, _ ...interface{})       {}
func (nopLogger) Error(_ interface{}, _ ...interface{}) {}
func (nopLogger) Fatal(_ interface{}, _ ...interface{}) {}
