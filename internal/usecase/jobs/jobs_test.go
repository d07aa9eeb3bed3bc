package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/types/errs"
)

type memJobRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[uuid.UUID]*entity.Job{}}
}

func (r *memJobRepo) Create(_ context.Context, job *entity.Job) error {
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) FindPending(_ context.Context, proposalID uuid.UUID, jobType entity.JobType) (*entity.Job, error) {
	for _, job := range r.jobs {
		if job.ProposalID == proposalID && job.Type == jobType &&
			(job.Status == entity.JobWaiting || job.Status == entity.JobActive) {
			cp := *job
			return &cp, nil
		}
	}
	return nil, errs.ErrRecordNotFound
}

func (r *memJobRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*entity.Job, error) {
	var out []*entity.Job
	for _, job := range r.jobs {
		if job.Status == entity.JobWaiting && !job.NextRunAt.After(now) && len(out) < limit {
			job.Status = entity.JobActive
			started := now
			job.StartedAt = &started
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memJobRepo) RequeueStuck(_ context.Context, startedBefore time.Time) (int64, error) {
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

func (r *memJobRepo) MarkCompleted(_ context.Context, id uuid.UUID, result []byte) error {
	job := r.jobs[id]
	job.Status = entity.JobCompleted
	job.Result = result
	return nil
}

func (r *memJobRepo) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	job := r.jobs[id]
	job.Status = entity.JobFailed
	job.LastError = &lastError
	job.Attempts++
	return nil
}

func (r *memJobRepo) Reschedule(_ context.Context, id uuid.UUID, lastError string, nextRunAt time.Time) error {
	job := r.jobs[id]
	job.Status = entity.JobWaiting
	job.LastError = &lastError
	job.Attempts++
	job.NextRunAt = nextRunAt
	return nil
}

func (r *memJobRepo) CountByStatus(_ context.Context) (map[entity.JobStatus]int, error) {
	out := map[entity.JobStatus]int{}
	for _, job := range r.jobs {
		out[job.Status]++
	}
	return out, nil
}

type nopLogger struct{}

func (nopLogger) Debug(_ interface{}, _ ...interface{}) {}
func (nopLogger) Info(_ string, _ ...interface{})       {}
func (nopLogger) Warn(_ string, _ ...interface{})       {}
func (nopLogger) Error(_ interface{}, _ ...interface{}) {}
func (nopLogger) Fatal(_ interface{}, _ ...interface{}) {}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	uc := New(newMemJobRepo(), nopLogger{}, 4, time.Second)

	_, err := uc.Enqueue(context.Background(), "mine_bitcoin", uuid.New(), nil)
	if !errors.Is(err, errs.ErrUnknownJobType) {
		t.Errorf("err = %v, want ErrUnknownJobType", err)
	}
}

func TestEnqueueDedupsPending(t *testing.T) {
	repo := newMemJobRepo()
	uc := New(repo, nopLogger{}, 4, time.Second)
	ctx := context.Background()
	proposalID := uuid.New()

	first, err := uc.Enqueue(ctx, entity.JobIssueCollections, proposalID, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	second, err := uc.Enqueue(ctx, entity.JobIssueCollections, proposalID, nil)
	if err != nil {
		t.Fatalf("Enqueue (repeat): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat enqueue created job %s, want existing %s", second.ID, first.ID)
	}
	if len(repo.jobs) != 1 {
		t.Errorf("repo holds %d jobs, want 1", len(repo.jobs))
	}

	// A different type for the same proposal is not a duplicate.
	if _, err := uc.Enqueue(ctx, entity.JobGenerateBooklet, proposalID, nil); err != nil {
		t.Fatalf("Enqueue (other type): %v", err)
	}
	if len(repo.jobs) != 2 {
		t.Errorf("repo holds %d jobs, want 2", len(repo.jobs))
	}

	// Once the pending job settles, the type can be queued again.
	if err := repo.MarkCompleted(ctx, first.ID, nil); err != nil {
		t.Fatal(err)
	}
	third, err := uc.Enqueue(ctx, entity.JobIssueCollections, proposalID, nil)
	if err != nil {
		t.Fatalf("Enqueue (after completion): %v", err)
	}
	if third.ID == first.ID {
		t.Error("enqueue after completion returned the settled job")
	}
}

func TestClaimRespectsSchedule(t *testing.T) {
	repo := newMemJobRepo()
	uc := New(repo, nopLogger{}, 4, time.Second)
	ctx := context.Background()

	job, err := uc.Enqueue(ctx, entity.JobIssueCollections, uuid.New(), nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := uc.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != job.ID {
		t.Fatalf("claimed = %v, want the enqueued job", claimed)
	}

	// An active job is not claimable again.
	claimed, err = uc.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("second claim returned %d jobs, want 0", len(claimed))
	}
}

func TestSettleRetriesWithBackoffThenFails(t *testing.T) {
	repo := newMemJobRepo()
	uc := New(repo, nopLogger{}, 3, time.Second)
	ctx := context.Background()

	job, err := uc.Enqueue(ctx, entity.JobDispatchSignature, uuid.New(), nil)
	if err != nil {
		t.Fatal(err)
	}

	jobErr := errors.New("provider timeout")

	// Attempts 1 and 2 reschedule with growing delay.
	var lastDelay time.Duration
	for attempt := 1; attempt < 3; attempt++ {
		claimed, err := uc.ClaimDue(ctx, 1)
		if err != nil || len(claimed) != 1 {
			// The rescheduled run is in the future; pull it back to now.
			repo.jobs[job.ID].NextRunAt = time.Now()
			claimed, err = uc.ClaimDue(ctx, 1)
			if err != nil || len(claimed) != 1 {
				t.Fatalf("attempt %d: claim failed: %v", attempt, err)
			}
		}

		before := time.Now()
		if err := uc.Settle(ctx, claimed[0], jobErr); err != nil {
			t.Fatalf("Settle: %v", err)
		}

		stored, _ := uc.Get(ctx, job.ID)
		if stored.Status != entity.JobWaiting {
			t.Fatalf("attempt %d: status = %s, want waiting", attempt, stored.Status)
		}
		if stored.Attempts != attempt {
			t.Fatalf("attempt %d: attempts = %d", attempt, stored.Attempts)
		}

		delay := stored.NextRunAt.Sub(before)
		if delay <= lastDelay {
			t.Errorf("attempt %d: delay %s did not grow past %s", attempt, delay, lastDelay)
		}
		lastDelay = delay
	}

	// Third failure exhausts the budget.
	repo.jobs[job.ID].NextRunAt = time.Now()
	claimed, err := uc.ClaimDue(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("final claim: %v", err)
	}
	if err := uc.Settle(ctx, claimed[0], jobErr); err != nil {
		t.Fatalf("final Settle: %v", err)
	}

	stored, _ := uc.Get(ctx, job.ID)
	if stored.Status != entity.JobFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if stored.LastError == nil || *stored.LastError != jobErr.Error() {
		t.Errorf("last error = %v", stored.LastError)
	}
}

func TestRequeueStuckRecoversAbandonedJobs(t *testing.T) {
	repo := newMemJobRepo()
	uc := New(repo, nopLogger{}, 4, time.Second)
	ctx := context.Background()

	job, err := uc.Enqueue(ctx, entity.JobGenerateBooklet, uuid.New(), nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := uc.ClaimDue(ctx, 10); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	// Fresh active jobs stay where they are.
	n, err := uc.RequeueStuck(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("RequeueStuck: %v", err)
	}
	if n != 0 {
		t.Errorf("requeued %d fresh jobs, want 0", n)
	}

	old := time.Now().Add(-time.Hour)
	repo.jobs[job.ID].StartedAt = &old

	n, err = uc.RequeueStuck(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("RequeueStuck: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d jobs, want 1", n)
	}

	stored, _ := uc.Get(ctx, job.ID)
	if stored.Status != entity.JobWaiting {
		t.Errorf("status = %s, want waiting", stored.Status)
	}
	if stored.Attempts != 0 {
		t.Errorf("attempts = %d, abandonment must not consume the budget", stored.Attempts)
	}
}

func TestBackoffCap(t *testing.T) {
	if d := entity.Backoff(time.Second, 30); d != time.Hour {
		t.Errorf("backoff at attempt 30 = %s, want cap of 1h", d)
	}
	if d := entity.Backoff(time.Second, 1); d != 2*time.Second {
		t.Errorf("backoff at attempt 1 = %s, want 2s", d)
	}
}
