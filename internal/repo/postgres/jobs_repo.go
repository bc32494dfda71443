package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sooh59599/zoohub/internal/domain/job"
	"github.com/sooh59599/zoohub/internal/observability"
	"github.com/sooh59599/zoohub/internal/utils"
)

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const jobCols = `id, event_id, rule_id, action_id, kind, payload, status, attempts, max_attempts, next_run_at, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var status string
	err := row.Scan(&j.ID, &j.EventID, &j.RuleID, &j.ActionID, &j.Kind, &j.Payload, &status,
		&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return job.Job{}, err
	}
	j.Status = job.Status(status)
	return j, nil
}

// CreateTx inserts a QUEUED job inside the fan-out consumer's event
// transaction and returns its generated ID, so the caller can collect all
// created IDs and publish them only after the transaction commits.
func (r *JobsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (string, error) {
	j := job.New(req)
	var id string

	err := r.observe("jobs.create_tx", func() error {
		return tx.QueryRow(ctx, `
			INSERT INTO jobs(event_id, rule_id, action_id, kind, status, attempts, max_attempts, payload, created_at, updated_at)
			VALUES ($1,$2,$3,$4,'QUEUED',0,$5,$6,NOW(),NOW())
			RETURNING id
		`, j.EventID, j.RuleID, j.ActionID, j.Kind, j.MaxAttempts, []byte(j.Payload)).Scan(&id)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClaimNext locks the row for the executor's phase A: only QUEUED or
// FAILED jobs whose next_run_at has elapsed (or is unset) are eligible,
// matching the prototype's run_job gate.
func (r *JobsRepo) ClaimNext(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.claim_next", func() error {
		row := r.pool.QueryRow(ctx, `
			WITH next AS (
				SELECT id FROM jobs
				WHERE id = $1
				  AND status IN ('QUEUED','FAILED')
				  AND (next_run_at IS NULL OR next_run_at <= NOW())
				FOR UPDATE SKIP LOCKED
			)
			UPDATE jobs SET status = 'PROCESSING', updated_at = NOW()
			WHERE id = (SELECT id FROM next)
			RETURNING `+jobCols, id)
		var scanErr error
		j, scanErr = scanJob(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

// RecordSuccess writes the SUCCEEDED attempt audit row and marks the job
// done, in one observed call (mirrors the prototype's single-DB-session
// record_success, but as two statements since pgx has no implicit
// connection-scoped transaction here — both run in the same session and
// either both land or the caller sees an error and the job stays
// PROCESSING for the stale-processing janitor to reclaim).
func (r *JobsRepo) RecordSuccess(ctx context.Context, j job.Job, result []byte) error {
	return r.observe("jobs.record_success", func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `
			INSERT INTO job_attempts(job_id, attempt_no, status, result, started_at, finished_at)
			VALUES ($1,$2,'SUCCEEDED',$3,NOW(),NOW())
		`, j.ID, j.Attempts+1, result); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = 'SUCCEEDED', attempts = attempts + 1, updated_at = NOW() WHERE id = $1
		`, j.ID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// RecordFailure writes the FAILED attempt audit row and transitions the
// job to FAILED (with a backoff next_run_at) or DEAD once max attempts are
// exhausted, exactly as the prototype's fail_job.
func (r *JobsRepo) RecordFailure(ctx context.Context, j job.Job, errMsg string, result []byte, retryBackoff time.Duration) error {
	nextAttempt := j.Attempts + 1
	isDead := nextAttempt >= j.MaxAttempts
	nextRun := time.Now().UTC().Add(retryBackoff)

	return r.observe("jobs.record_failure", func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `
			INSERT INTO job_attempts(job_id, attempt_no, status, error, result, started_at, finished_at)
			VALUES ($1,$2,'FAILED',$3,$4,NOW(),NOW())
		`, j.ID, nextAttempt, errMsg, result); err != nil {
			return err
		}

		status := "FAILED"
		var nextRunArg any = nextRun
		if isDead {
			status = "DEAD"
			nextRunArg = nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $2, attempts = $3, last_error = $4, next_run_at = $5, updated_at = NOW()
			WHERE id = $1
		`, j.ID, status, nextAttempt, errMsg, nextRunArg); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// FinalizeEvent recomputes an event's terminal status from its jobs in one
// statement: FAILED if any job went DEAD, unchanged while any job is still
// QUEUED/PROCESSING/FAILED, else DONE. Ported verbatim from the
// prototype's CASE expression.
func (r *JobsRepo) FinalizeEvent(ctx context.Context, eventID string) error {
	return r.observe("jobs.finalize_event", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE events e
			SET status = CASE
				WHEN EXISTS (SELECT 1 FROM jobs j WHERE j.event_id = e.id AND j.status = 'DEAD') THEN 'FAILED'
				WHEN EXISTS (SELECT 1 FROM jobs j WHERE j.event_id = e.id AND j.status IN ('QUEUED','PROCESSING','FAILED')) THEN e.status
				ELSE 'DONE'
			END
			WHERE e.id = $1
		`, eventID)
		return err
	})
}

// ScanRetryable returns up to limit FAILED jobs whose next_run_at has
// elapsed, ordered oldest-due-first, for the retry scanner.
func (r *JobsRepo) ScanRetryable(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.observe("jobs.scan_retryable", func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT id FROM jobs
			WHERE status = 'FAILED' AND next_run_at IS NOT NULL AND next_run_at <= NOW()
			ORDER BY next_run_at ASC LIMIT $1
		`, limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if serr := rows.Scan(&id); serr != nil {
				return serr
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// LeaseRetryable pushes next_run_at forward for the given FAILED jobs so a
// second scanner tick doesn't republish the same ids before the executor
// gets to them. Mirrors the prototype's "push next_run_at into the future"
// advisory lease.
func (r *JobsRepo) LeaseRetryable(ctx context.Context, ids []string, lease time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	secs := int64(lease.Seconds())
	if secs <= 0 {
		secs = 60
	}
	return r.observe("jobs.lease_retryable", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE jobs SET next_run_at = NOW() + ($2 * INTERVAL '1 second'), updated_at = NOW()
			WHERE id = ANY($1) AND status = 'FAILED'
		`, ids, secs)
		return err
	})
}

// RequeueStaleProcessing returns PROCESSING jobs stuck past staleAfter back
// to FAILED with an immediate next_run_at, so a crashed executor doesn't
// strand a job forever. Supplement to the prototype (open question #2).
func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	secs := int64(staleAfter.Seconds())
	if secs <= 0 {
		secs = 120
	}
	var rows int64
	err := r.observe("jobs.requeue_stale_processing", func() error {
		tag, e := r.pool.Exec(ctx, `
			UPDATE jobs SET status = 'FAILED', next_run_at = NOW(), updated_at = NOW()
			WHERE status = 'PROCESSING' AND updated_at < NOW() - ($1 * INTERVAL '1 second')
		`, secs)
		if e != nil {
			return e
		}
		rows = tag.RowsAffected()
		return nil
	})
	return rows, err
}

// List is the simple offset-paginated admin listing (vs. ListCursor's
// keyset pagination), matching the teacher admin handler's
// ?limit=&offset= contract.
func (r *JobsRepo) List(ctx context.Context, status *string, limit, offset int) ([]job.Job, error) {
	var rows pgx.Rows
	err := r.observe("jobs.admin.list", func() error {
		var qerr error
		if status == nil {
			rows, qerr = r.pool.Query(ctx, `SELECT `+jobCols+` FROM jobs ORDER BY updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
		} else {
			rows, qerr = r.pool.Query(ctx, `SELECT `+jobCols+` FROM jobs WHERE status = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, *status, limit, offset)
		}
		return qerr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]job.Job, 0, limit)
	for rows.Next() {
		j, serr := scanJob(rows)
		if serr != nil {
			return nil, serr
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.admin.get_by_id", func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = $1`, id)
		var serr error
		j, serr = scanJob(row)
		return serr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

func (r *JobsRepo) ListCursor(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	base := `SELECT ` + jobCols + ` FROM jobs`

	var conds []string
	var args []any
	argsPos := 1

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q := base
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limitPlusOne := limit + 1
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limitPlusOne)

	var rows pgx.Rows
	err = r.observe("jobs.admin.list_cursor", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]job.Job, 0, limit)
	for rows.Next() {
		j, serr := scanJob(rows)
		if serr != nil {
			return nil, nil, false, serr
		}
		out = append(out, j)
	}
	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]
		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}
	return out, nextCursor, hasMore, nil
}

// Retry sets a single FAILED (or DEAD) job back to QUEUED with next_run_at
// cleared, the admin "reprocess this one" action. It publishes no job
// message; the job runs when a job message for its id is next consumed.
func (r *JobsRepo) Retry(ctx context.Context, id string) error {
	var status string
	err := r.observe("jobs.admin.retry.check_status", func() error {
		return r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrJobNotFound
		}
		return err
	}
	if status != string(job.StatusFailed) && status != string(job.StatusDead) {
		return job.ErrJobNotFailed
	}

	return r.observe("jobs.admin.retry.requeue", func() error {
		_, e := r.pool.Exec(ctx, `
			UPDATE jobs SET status = 'QUEUED', next_run_at = NULL, last_error = NULL, updated_at = NOW()
			WHERE id = $1
		`, id)
		return e
	})
}

// RetryManyFailed bulk-requeues up to limit (capped at 500) DEAD jobs, the
// "reprocess-dead" admin sweep.
func (r *JobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var rows int64
	err := r.observe("jobs.admin.retry_many_failed", func() error {
		tag, e := r.pool.Exec(ctx, `
			WITH picked AS (
				SELECT id FROM jobs WHERE status = 'DEAD' ORDER BY updated_at DESC LIMIT $1
			)
			UPDATE jobs SET status = 'QUEUED', attempts = 0, next_run_at = NULL, last_error = NULL, updated_at = NOW()
			WHERE id IN (SELECT id FROM picked)
		`, limit)
		if e != nil {
			return e
		}
		rows = tag.RowsAffected()
		return nil
	})
	return rows, err
}
