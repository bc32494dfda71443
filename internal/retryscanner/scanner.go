// Package retryscanner periodically republishes FAILED jobs whose
// next_run_at has elapsed, and reclaims jobs stuck in PROCESSING past a
// staleness window after a crashed executor. Ported from the prototype's
// retry_scanner_loop/scan_and_enqueue, with the stale-processing sweep
// added as a supplement.
package retryscanner

import (
	"context"
	"log/slog"
	"time"
)

const (
	leaseWindow    = 60 * time.Second
	scanBatchLimit = 50
)

// JobsRepo is satisfied by *postgres.JobsRepo; kept narrow so tests can
// drive a tick against a fake instead of a database.
type JobsRepo interface {
	ScanRetryable(ctx context.Context, limit int) ([]string, error)
	LeaseRetryable(ctx context.Context, ids []string, lease time.Duration) error
	RequeueStaleProcessing(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// JobPublisher is satisfied by *broker.Client.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Scanner struct {
	jobsRepo   JobsRepo
	broker     JobPublisher
	interval   time.Duration
	staleAfter time.Duration
	log        *slog.Logger
}

func New(jobsRepo JobsRepo, brk JobPublisher, interval, staleAfter time.Duration, log *slog.Logger) *Scanner {
	return &Scanner{jobsRepo: jobsRepo, broker: brk, interval: interval, staleAfter: staleAfter, log: log}
}

// Run ticks every s.interval until ctx is cancelled, scanning for
// retryable and stale jobs on each tick.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.log.Error("retryscanner.tick_failed", "error", err)
			}
		}
	}
}

func (s *Scanner) tick(ctx context.Context) error {
	if err := s.scanAndEnqueue(ctx); err != nil {
		return err
	}
	return s.requeueStale(ctx)
}

func (s *Scanner) scanAndEnqueue(ctx context.Context) error {
	ids, err := s.jobsRepo.ScanRetryable(ctx, scanBatchLimit)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.jobsRepo.LeaseRetryable(ctx, ids, leaseWindow); err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.broker.PublishJob(ctx, id); err != nil {
			s.log.Error("retryscanner.publish_failed", "job_id", id, "error", err)
		}
	}
	s.log.Info("retryscanner.scan_enqueued", "count", len(ids))
	return nil
}

func (s *Scanner) requeueStale(ctx context.Context) error {
	n, err := s.jobsRepo.RequeueStaleProcessing(ctx, s.staleAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Warn("retryscanner.requeued_stale_processing", "count", n)
	}
	return nil
}
