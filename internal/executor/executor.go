// Package executor consumes job execute messages, claims the
// corresponding row, runs the EMAIL or WEBHOOK action outside any
// transaction, and records the outcome — mirroring the prototype's
// run_job/execute/record_success/fail_job/finalize_event split.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sooh59599/zoohub/internal/broker"
	"github.com/sooh59599/zoohub/internal/domain/circuit"
	"github.com/sooh59599/zoohub/internal/domain/job"
	"github.com/sooh59599/zoohub/internal/jobs"
	"github.com/sooh59599/zoohub/internal/notifications"
	"github.com/sooh59599/zoohub/internal/observability"
	"github.com/sooh59599/zoohub/internal/webhook"
)

// JobsRepo is satisfied by *postgres.JobsRepo; kept narrow so tests can
// drive RunJob against a fake instead of a database.
type JobsRepo interface {
	ClaimNext(ctx context.Context, id string) (job.Job, error)
	RecordSuccess(ctx context.Context, j job.Job, result []byte) error
	RecordFailure(ctx context.Context, j job.Job, errMsg string, result []byte, retryBackoff time.Duration) error
	FinalizeEvent(ctx context.Context, eventID string) error
}

// JobCaller is satisfied by *webhook.Caller.
type JobCaller interface {
	Call(ctx context.Context, method, rawURL string, body any, headers map[string]string, idempotencyKey string) (int, string, error)
}

type Executor struct {
	broker   *broker.Client
	jobsRepo JobsRepo
	notifier notifications.Notifier
	caller   JobCaller
	metrics  *observability.JobMetrics
	log      *slog.Logger

	retryBackoff time.Duration
}

func New(brk *broker.Client, jobsRepo JobsRepo, notifier notifications.Notifier, caller JobCaller, metrics *observability.JobMetrics, retryBackoff time.Duration, log *slog.Logger) *Executor {
	return &Executor{
		broker:       brk,
		jobsRepo:     jobsRepo,
		notifier:     notifier,
		caller:       caller,
		metrics:      metrics,
		retryBackoff: retryBackoff,
		log:          log,
	}
}

// Run blocks consuming the jobs queue until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	deliveries, err := e.broker.ConsumeJobs("executor")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			e.handle(ctx, d)
		}
	}
}

func (e *Executor) handle(ctx context.Context, d amqp.Delivery) {
	var msg broker.JobMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		e.log.Error("executor.decode_failed", "error", err)
		_ = d.Nack(false, false)
		return
	}

	e.RunJob(ctx, msg.JobID)

	if err := d.Ack(false); err != nil {
		e.log.Error("executor.ack_failed", "error", err)
	}
}

// RunJob claims job id (a no-op if it's already claimed or terminal),
// executes it, and records the result. Exported so tests can drive a job
// end to end without going through AMQP.
func (e *Executor) RunJob(ctx context.Context, jobID string) {
	j, err := e.jobsRepo.ClaimNext(ctx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return
		}
		e.log.Error("executor.claim_failed", "job_id", jobID, "error", err)
		return
	}
	e.metrics.IncClaimed()

	start := time.Now()
	result, execErr := e.execute(ctx, j)
	e.metrics.ObserveDuration(time.Since(start))

	if execErr == nil {
		if err := e.jobsRepo.RecordSuccess(ctx, j, result); err != nil {
			e.log.Error("executor.record_success_failed", "job_id", j.ID, "error", err)
			return
		}
		e.metrics.IncDone()
	} else {
		var callErr *webhook.CallError
		var openErr circuit.ErrOpen
		resultObj := []byte("{}")
		if errors.As(execErr, &callErr) {
			resultObj, _ = json.Marshal(map[string]any{"kind": "WEBHOOK", "status": callErr.StatusCode, "response": callErr.ResponseText})
		} else if errors.As(execErr, &openErr) {
			resultObj, _ = json.Marshal(map[string]any{"kind": "WEBHOOK", "error": "circuit_open"})
		}

		if err := e.jobsRepo.RecordFailure(ctx, j, execErr.Error(), resultObj, e.retryBackoff); err != nil {
			e.log.Error("executor.record_failure_failed", "job_id", j.ID, "error", err)
			return
		}
		if j.Attempts+1 >= j.MaxAttempts {
			e.metrics.IncDeadLettered()
		} else {
			e.metrics.IncRetried()
		}
		e.metrics.IncFailed()
	}

	if err := e.jobsRepo.FinalizeEvent(ctx, j.EventID); err != nil {
		e.log.Error("executor.finalize_event_failed", "event_id", j.EventID, "error", err)
	}
}

func (e *Executor) execute(ctx context.Context, j job.Job) ([]byte, error) {
	switch jobs.Kind(j.Kind) {
	case jobs.KindEmail:
		return e.executeEmail(ctx, j)
	case jobs.KindWebhook:
		return e.executeWebhook(ctx, j)
	default:
		return nil, fmt.Errorf("unknown kind: %s", j.Kind)
	}
}

func (e *Executor) executeEmail(ctx context.Context, j job.Job) ([]byte, error) {
	payload, err := jobs.DecodePayload(jobs.KindEmail, j.Payload)
	if err != nil {
		return nil, err
	}
	p := payload.(jobs.EmailPayload)

	if err := e.notifier.SendEmail(ctx, notifications.SendEmailInput{To: p.To, Template: p.Template}); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"kind": "EMAIL", "to": p.To, "template": p.Template})
}

func (e *Executor) executeWebhook(ctx context.Context, j job.Job) ([]byte, error) {
	payload, err := jobs.DecodePayload(jobs.KindWebhook, j.Payload)
	if err != nil {
		return nil, err
	}
	p := payload.(jobs.WebhookPayload)

	method := p.Method
	if method == "" {
		method = "POST"
	}
	idem := fmt.Sprintf("%s:%s:%d", j.EventID, j.ID, j.Attempts+1)

	status, resp, err := e.caller.Call(ctx, method, p.URL, p.Body, p.Headers, idem)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"kind": "WEBHOOK", "status": status, "response": resp})
}
