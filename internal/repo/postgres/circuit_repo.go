package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sooh59599/zoohub/internal/domain/circuit"
	"github.com/sooh59599/zoohub/internal/observability"
)

type CircuitRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCircuitRepo(pool *pgxpool.Pool, prom *observability.Prom) *CircuitRepo {
	return &CircuitRepo{pool: pool, prom: prom}
}

func (r *CircuitRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanCircuitEntry(row pgx.Row) (circuit.Entry, error) {
	var e circuit.Entry
	var state string
	err := row.Scan(&e.Key, &state, &e.FailureCount, &e.OpenedAt, &e.LastFailureAt, &e.UpdatedAt)
	if err != nil {
		return circuit.Entry{}, err
	}
	e.State = circuit.State(state)
	return e, nil
}

// Get returns the breaker entry for key, or a fresh CLOSED entry with zero
// failure count if the destination has never tripped.
func (r *CircuitRepo) Get(ctx context.Context, key string) (circuit.Entry, error) {
	var e circuit.Entry
	err := r.observe("circuit.get", func() error {
		row := r.pool.QueryRow(ctx, `
			SELECT key, state, failure_count, opened_at, last_failure_at, updated_at
			FROM webhook_circuit WHERE key = $1
		`, key)
		var serr error
		e, serr = scanCircuitEntry(row)
		return serr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return circuit.Entry{Key: key, State: circuit.StateClosed}, nil
		}
		return circuit.Entry{}, err
	}
	return e, nil
}

// RecordSuccess resets a destination's failure count and closes the
// breaker, mirroring the prototype's on_success.
func (r *CircuitRepo) RecordSuccess(ctx context.Context, key string) error {
	return r.observe("circuit.record_success", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO webhook_circuit(key, state, failure_count, opened_at, last_failure_at, updated_at)
			VALUES ($1, 'CLOSED', 0, NULL, NULL, NOW())
			ON CONFLICT (key) DO UPDATE SET state = 'CLOSED', failure_count = 0, opened_at = NULL, updated_at = NOW()
		`, key)
		return err
	})
}

// RecordFailure increments the failure count and, once threshold is
// reached, opens the breaker. There is no HALF_OPEN state and no
// time-based recovery: the breaker only returns to CLOSED via
// RecordSuccess or an admin Reset.
func (r *CircuitRepo) RecordFailure(ctx context.Context, key string, threshold int) (circuit.Entry, error) {
	var e circuit.Entry
	err := r.observe("circuit.record_failure", func() error {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO webhook_circuit(key, state, failure_count, opened_at, last_failure_at, updated_at)
			VALUES ($1, 'CLOSED', 1, NULL, NOW(), NOW())
			ON CONFLICT (key) DO UPDATE SET
				failure_count = webhook_circuit.failure_count + 1,
				last_failure_at = NOW(),
				state = CASE WHEN webhook_circuit.failure_count + 1 >= $2 THEN 'OPEN' ELSE webhook_circuit.state END,
				opened_at = CASE WHEN webhook_circuit.failure_count + 1 >= $2 AND webhook_circuit.state = 'CLOSED' THEN NOW() ELSE webhook_circuit.opened_at END,
				updated_at = NOW()
			RETURNING key, state, failure_count, opened_at, last_failure_at, updated_at
		`, key, threshold)
		var serr error
		e, serr = scanCircuitEntry(row)
		return serr
	})
	return e, err
}

func (r *CircuitRepo) List(ctx context.Context) ([]circuit.Entry, error) {
	var out []circuit.Entry
	err := r.observe("circuit.admin.list", func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT key, state, failure_count, opened_at, last_failure_at, updated_at
			FROM webhook_circuit ORDER BY updated_at DESC
		`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		for rows.Next() {
			e, serr := scanCircuitEntry(rows)
			if serr != nil {
				return serr
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// Reset force-closes a breaker, the admin override for a destination the
// operator knows has recovered.
func (r *CircuitRepo) Reset(ctx context.Context, key string) error {
	return r.observe("circuit.admin.reset", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO webhook_circuit(key, state, failure_count, opened_at, last_failure_at, updated_at)
			VALUES ($1, 'CLOSED', 0, NULL, NULL, NOW())
			ON CONFLICT (key) DO UPDATE SET state = 'CLOSED', failure_count = 0, opened_at = NULL, updated_at = NOW()
		`, key)
		return err
	})
}
