package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobDispatchSignature      JobType = "dispatch_signature"
	JobDownloadSignedDocument JobType = "download_signed_document"
	JobIssueCollections       JobType = "issue_collections"
	JobGenerateBooklet        JobType = "generate_booklet"
)

type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of asynchronous work. Handlers must be idempotent: delivery
// is at-least-once and a retried job re-runs its side effects.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Type       JobType   `json:"type"`
	ProposalID uuid.UUID `json:"proposal_id"`
	Payload    []byte    `json:"payload,omitempty"`

	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRunAt   time.Time `json:"next_run_at"`

	LastError *string `json:"last_error,omitempty"`
	Result    []byte  `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Backoff computes the delay before the next attempt: base * 2^attempt,
// capped so a misconfigured budget cannot schedule jobs into next week.
func Backoff(base time.Duration, attempt int) time.Duration {
	const maxDelay = time.Hour

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}

	return d
}
