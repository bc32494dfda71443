package retryscanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobsRepo struct {
	scanIDs     []string
	scanErr     error
	leasedIDs   []string
	leaseErr    error
	staleCount  int64
	staleErr    error
	leaseCalled bool
}

func (f *fakeJobsRepo) ScanRetryable(ctx context.Context, limit int) ([]string, error) {
	return f.scanIDs, f.scanErr
}

func (f *fakeJobsRepo) LeaseRetryable(ctx context.Context, ids []string, lease time.Duration) error {
	f.leaseCalled = true
	f.leasedIDs = ids
	return f.leaseErr
}

func (f *fakeJobsRepo) RequeueStaleProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return f.staleCount, f.staleErr
}

type fakePublisher struct {
	published []string
	publishErr error
}

func (f *fakePublisher) PublishJob(ctx context.Context, jobID string) error {
	f.published = append(f.published, jobID)
	return f.publishErr
}

func TestScanner_Tick_PublishesEachRetryableJob(t *testing.T) {
	repo := &fakeJobsRepo{scanIDs: []string{"job-1", "job-2"}}
	pub := &fakePublisher{}
	s := New(repo, pub, time.Second, time.Minute, discardLogger())

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	if !repo.leaseCalled {
		t.Fatal("expected LeaseRetryable to be called before publishing")
	}
	if len(repo.leasedIDs) != 2 {
		t.Fatalf("expected both ids leased, got %v", repo.leasedIDs)
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected both ids published, got %v", pub.published)
	}
}

func TestScanner_Tick_NoRetryableJobsSkipsLeaseAndPublish(t *testing.T) {
	repo := &fakeJobsRepo{scanIDs: nil}
	pub := &fakePublisher{}
	s := New(repo, pub, time.Second, time.Minute, discardLogger())

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if repo.leaseCalled {
		t.Fatal("expected LeaseRetryable not to be called when there's nothing to scan")
	}
	if len(pub.published) != 0 {
		t.Fatal("expected nothing published")
	}
}

func TestScanner_Tick_PublishFailureDoesNotFailTick(t *testing.T) {
	repo := &fakeJobsRepo{scanIDs: []string{"job-1"}}
	pub := &fakePublisher{publishErr: errors.New("broker down")}
	s := New(repo, pub, time.Second, time.Minute, discardLogger())

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick() should not fail the whole tick on a publish error, got %v", err)
	}
}

func TestScanner_Tick_ScanErrorStopsTickBeforeStaleSweep(t *testing.T) {
	repo := &fakeJobsRepo{scanErr: errors.New("db down"), staleCount: 5}
	pub := &fakePublisher{}
	s := New(repo, pub, time.Second, time.Minute, discardLogger())

	if err := s.tick(context.Background()); err == nil {
		t.Fatal("expected tick to propagate the scan error")
	}
}

func TestScanner_Tick_RunsStaleSweepAfterScan(t *testing.T) {
	repo := &fakeJobsRepo{scanIDs: nil, staleCount: 3}
	pub := &fakePublisher{}
	s := New(repo, pub, time.Second, time.Minute, discardLogger())

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
}
