package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sooh59599/zoohub/internal/domain/circuit"
	"github.com/sooh59599/zoohub/internal/domain/job"
	"github.com/sooh59599/zoohub/internal/jobs"
	"github.com/sooh59599/zoohub/internal/notifications"
	"github.com/sooh59599/zoohub/internal/observability"
	"github.com/sooh59599/zoohub/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobsRepo struct {
	job job.Job

	claimErr error

	recordSuccessCalled bool
	recordSuccessResult []byte
	recordSuccessErr    error

	recordFailureCalled bool
	recordFailureMsg    string
	recordFailureResult []byte
	recordFailureErr    error

	finalizeEventCalled bool
	finalizeEventErr    error
}

func (f *fakeJobsRepo) ClaimNext(ctx context.Context, id string) (job.Job, error) {
	if f.claimErr != nil {
		return job.Job{}, f.claimErr
	}
	return f.job, nil
}

func (f *fakeJobsRepo) RecordSuccess(ctx context.Context, j job.Job, result []byte) error {
	f.recordSuccessCalled = true
	f.recordSuccessResult = result
	return f.recordSuccessErr
}

func (f *fakeJobsRepo) RecordFailure(ctx context.Context, j job.Job, errMsg string, result []byte, retryBackoff time.Duration) error {
	f.recordFailureCalled = true
	f.recordFailureMsg = errMsg
	f.recordFailureResult = result
	return f.recordFailureErr
}

func (f *fakeJobsRepo) FinalizeEvent(ctx context.Context, eventID string) error {
	f.finalizeEventCalled = true
	return f.finalizeEventErr
}

type fakeNotifier struct {
	sendErr   error
	sendCalls int
}

func (f *fakeNotifier) SendEmail(ctx context.Context, in notifications.SendEmailInput) error {
	f.sendCalls++
	return f.sendErr
}

type fakeCaller struct {
	status  int
	resp    string
	callErr error
}

func (f *fakeCaller) Call(ctx context.Context, method, rawURL string, body any, headers map[string]string, idempotencyKey string) (int, string, error) {
	if f.callErr != nil {
		return 0, "", f.callErr
	}
	return f.status, f.resp, nil
}

func emailJob(eventID string, attempts, maxAttempts int) job.Job {
	payload, _ := jobs.EncodePayload(jobs.KindEmail, jobs.EmailPayload{To: "ops@example.com", Template: "order_created"})
	return job.Job{ID: "job-1", EventID: eventID, Kind: string(jobs.KindEmail), Payload: payload, Attempts: attempts, MaxAttempts: maxAttempts}
}

func webhookJob(eventID string, attempts, maxAttempts int) job.Job {
	payload, _ := jobs.EncodePayload(jobs.KindWebhook, jobs.WebhookPayload{Method: "POST", URL: "https://example.com/hook"})
	return job.Job{ID: "job-1", EventID: eventID, Kind: string(jobs.KindWebhook), Payload: payload, Attempts: attempts, MaxAttempts: maxAttempts}
}

func TestRunJob_EmailSuccessRecordsSuccessAndFinalizes(t *testing.T) {
	repo := &fakeJobsRepo{job: emailJob("evt-1", 0, 3)}
	notifier := &fakeNotifier{}
	exec := New(nil, repo, notifier, &fakeCaller{}, observability.NewJobMetrics(), time.Second, discardLogger())

	exec.RunJob(context.Background(), "job-1")

	if !repo.recordSuccessCalled {
		t.Fatal("expected RecordSuccess to be called")
	}
	if repo.recordFailureCalled {
		t.Fatal("expected RecordFailure not to be called")
	}
	if !repo.finalizeEventCalled {
		t.Fatal("expected FinalizeEvent to be called")
	}
	if notifier.sendCalls != 1 {
		t.Fatalf("expected notifier called once, got %d", notifier.sendCalls)
	}

	var result map[string]any
	if err := json.Unmarshal(repo.recordSuccessResult, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["kind"] != "EMAIL" || result["to"] != "ops@example.com" {
		t.Fatalf("unexpected result payload: %+v", result)
	}
}

func TestRunJob_WebhookSuccessRecordsSuccess(t *testing.T) {
	repo := &fakeJobsRepo{job: webhookJob("evt-1", 0, 3)}
	caller := &fakeCaller{status: 200, resp: `{"ok":true}`}
	exec := New(nil, repo, &fakeNotifier{}, caller, observability.NewJobMetrics(), time.Second, discardLogger())

	exec.RunJob(context.Background(), "job-1")

	if !repo.recordSuccessCalled {
		t.Fatal("expected RecordSuccess to be called")
	}
	var result map[string]any
	if err := json.Unmarshal(repo.recordSuccessResult, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["kind"] != "WEBHOOK" || int(result["status"].(float64)) != 200 {
		t.Fatalf("unexpected result payload: %+v", result)
	}
}

func TestRunJob_EmailFailureRecordsFailureNotSuccess(t *testing.T) {
	repo := &fakeJobsRepo{job: emailJob("evt-1", 0, 3)}
	notifier := &fakeNotifier{sendErr: errors.New("provider down")}
	exec := New(nil, repo, notifier, &fakeCaller{}, observability.NewJobMetrics(), time.Second, discardLogger())

	exec.RunJob(context.Background(), "job-1")

	if repo.recordSuccessCalled {
		t.Fatal("expected RecordSuccess not to be called on failure")
	}
	if !repo.recordFailureCalled {
		t.Fatal("expected RecordFailure to be called")
	}
	if repo.recordFailureMsg != "provider down" {
		t.Fatalf("expected failure message to propagate, got %q", repo.recordFailureMsg)
	}
	if !repo.finalizeEventCalled {
		t.Fatal("expected FinalizeEvent to still run after a failure")
	}
}

func TestRunJob_CircuitOpenRecordsFailureWithCircuitOpenResult(t *testing.T) {
	repo := &fakeJobsRepo{job: webhookJob("evt-1", 2, 3)}
	caller := &fakeCaller{callErr: circuit.ErrOpen{Key: "example.com"}}
	exec := New(nil, repo, &fakeNotifier{}, caller, observability.NewJobMetrics(), time.Second, discardLogger())

	exec.RunJob(context.Background(), "job-1")

	if !repo.recordFailureCalled {
		t.Fatal("expected RecordFailure to be called")
	}
	var result map[string]any
	if err := json.Unmarshal(repo.recordFailureResult, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["kind"] != "WEBHOOK" || result["error"] != "circuit_open" {
		t.Fatalf("unexpected result payload: %+v", result)
	}
}

func TestRunJob_CallErrorRecordsStatusAndResponseInResult(t *testing.T) {
	repo := &fakeJobsRepo{job: webhookJob("evt-1", 0, 3)}
	caller := &fakeCaller{callErr: &webhook.CallError{Message: "HTTP 500", StatusCode: 500, ResponseText: "boom"}}
	exec := New(nil, repo, &fakeNotifier{}, caller, observability.NewJobMetrics(), time.Second, discardLogger())

	exec.RunJob(context.Background(), "job-1")

	if !repo.recordFailureCalled {
		t.Fatal("expected RecordFailure to be called")
	}
	var result map[string]any
	if err := json.Unmarshal(repo.recordFailureResult, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["kind"] != "WEBHOOK" || result["status"] != float64(500) || result["response"] != "boom" {
		t.Fatalf("unexpected result payload: %+v", result)
	}
}

func TestRunJob_JobNotFoundIsANoOp(t *testing.T) {
	repo := &fakeJobsRepo{claimErr: job.ErrJobNotFound}
	exec := New(nil, repo, &fakeNotifier{}, &fakeCaller{}, observability.NewJobMetrics(), time.Second, discardLogger())

	exec.RunJob(context.Background(), "job-1")

	if repo.recordSuccessCalled || repo.recordFailureCalled || repo.finalizeEventCalled {
		t.Fatal("expected no repo writes when the job is already claimed/terminal")
	}
}
