package response

type Error struct {
	Error string `json:"error"`
}

type CreateProposal struct {
	ProposalID string `json:"proposal_id"`
	Status     string `json:"status"`
	Schedule   int    `json:"schedule"`
	CreatedAt  string `json:"created_at"`
}

type WebhookAck struct {
	EventID string `json:"event_id"`
}

type Job struct {
	JobID     string `json:"job_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	NextRunAt string `json:"next_run_at,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type JobCounts struct {
	Counts map[string]int `json:"counts"`
}
