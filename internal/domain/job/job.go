package job

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusDead       Status = "DEAD"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotFailed  = errors.New("job is not in a failed state")
)

// Job is one rule-action firing, created by the fan-out consumer and
// carried to completion (or exhaustion) by the executor.
type Job struct {
	ID          string          `json:"id"`
	EventID     string          `json:"eventId"`
	RuleID      string          `json:"ruleId"`
	ActionID    string          `json:"actionId"`
	Kind        string          `json:"kind"` // EMAIL | WEBHOOK
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	NextRunAt   *time.Time      `json:"nextRunAt,omitempty"`
	LastError   *string         `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// AttemptStatus is the outcome recorded for a single execution attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
	AttemptFailed    AttemptStatus = "FAILED"
)

// Attempt is an audit row written once per execution, win or lose.
type Attempt struct {
	ID         string          `json:"id"`
	JobID      string          `json:"jobId"`
	AttemptNo  int             `json:"attemptNo"`
	Status     AttemptStatus   `json:"status"`
	Error      *string         `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

type CreateRequest struct {
	EventID     string
	RuleID      string
	ActionID    string
	Kind        string
	Payload     json.RawMessage
	MaxAttempts int
}

// New creates a QUEUED job with zero attempts, the shape the fan-out
// consumer inserts inside its event transaction. The caller supplies the
// ID (the DB assigns it via RETURNING) so this is mostly a struct builder
// used for the in-memory side of the insert.
func New(req CreateRequest) Job {
	now := time.Now().UTC()

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return Job{
		EventID:     req.EventID,
		RuleID:      req.RuleID,
		ActionID:    req.ActionID,
		Kind:        req.Kind,
		Payload:     req.Payload,
		Status:      StatusQueued,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
