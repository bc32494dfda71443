package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sooh59599/zoohub/internal/domain/event"
	"github.com/sooh59599/zoohub/internal/observability"
)

var ErrEventNotFound = errors.New("event not found")

type EventsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *EventsRepo {
	return &EventsRepo{pool: pool, prom: prom}
}

func (r *EventsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// GetByIdempotencyKey returns the event previously accepted with this key,
// or ErrEventNotFound if none exists. The ingest handler calls this first
// so a redelivered request with the same key never creates a second event.
func (r *EventsRepo) GetByIdempotencyKey(ctx context.Context, key string) (event.Event, error) {
	var e event.Event
	var subjectKind, subjectID string
	var err error

	err = r.observe("events.get_by_idempotency_key", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, source, type, subject_kind, subject_id, payload, status, occurred_at, received_at, idempotency_key
			FROM events WHERE idempotency_key = $1
		`, key).Scan(&e.ID, &e.Source, &e.Type, &subjectKind, &subjectID, &e.Payload, &e.Status, &e.OccurredAt, &e.ReceivedAt, &e.IdempotencyKey)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, ErrEventNotFound
		}
		return event.Event{}, err
	}

	e.Subject = event.Subject{Kind: subjectKind, ID: subjectID}
	return e, nil
}

// Create inserts an ACCEPTED event row. Returns ErrEventNotFound-adjacent
// unique-violation classification left to the caller (IsUniqueViolation),
// matching the ingest handler's check-then-insert idempotency contract.
func (r *EventsRepo) Create(ctx context.Context, e event.Event) error {
	return r.observe("events.create", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO events(id, source, type, subject_kind, subject_id, payload, status, occurred_at, received_at, idempotency_key)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, e.ID, e.Source, e.Type, e.Subject.Kind, e.Subject.ID, []byte(e.Payload), string(e.Status), e.OccurredAt, e.ReceivedAt, e.IdempotencyKey)
		return err
	})
}

func (r *EventsRepo) GetByID(ctx context.Context, id string) (event.Event, error) {
	var e event.Event
	var subjectKind, subjectID string
	var err error

	err = r.observe("events.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, source, type, subject_kind, subject_id, payload, status, occurred_at, received_at, idempotency_key
			FROM events WHERE id = $1
		`, id).Scan(&e.ID, &e.Source, &e.Type, &subjectKind, &subjectID, &e.Payload, &e.Status, &e.OccurredAt, &e.ReceivedAt, &e.IdempotencyKey)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, ErrEventNotFound
		}
		return event.Event{}, err
	}

	e.Subject = event.Subject{Kind: subjectKind, ID: subjectID}
	return e, nil
}

// MarkEventProcessingTx flips an event to PROCESSING inside the fan-out
// transaction, the first of the four steps the consumer performs.
func MarkEventProcessingTx(ctx context.Context, tx pgx.Tx, eventID string) error {
	_, err := tx.Exec(ctx, `UPDATE events SET status = 'PROCESSING' WHERE id = $1`, eventID)
	return err
}
