// Package fanout consumes ingested events off the events queue, matches
// them against the enabled rule set, renders each matching action's
// config into a job payload, and inserts the resulting jobs inside the
// event's own transaction before publishing them for the executor.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sooh59599/zoohub/internal/broker"
	"github.com/sooh59599/zoohub/internal/domain/job"
	"github.com/sooh59599/zoohub/internal/domain/rule"
	"github.com/sooh59599/zoohub/internal/repo/postgres"
	"github.com/sooh59599/zoohub/internal/ruleengine"
)

// RulesGetter is the one method the fan-out consumer needs from the
// rules cache: the current enabled rule set with actions.
type RulesGetter interface {
	Get(ctx context.Context) ([]rule.WithActions, error)
}

type Consumer struct {
	pool       *pgxpool.Pool
	broker     *broker.Client
	jobsRepo   *postgres.JobsRepo
	rules      RulesGetter
	maxAttempt int
	log        *slog.Logger
}

func NewConsumer(pool *pgxpool.Pool, brk *broker.Client, jobsRepo *postgres.JobsRepo, rules RulesGetter, maxAttempt int, log *slog.Logger) *Consumer {
	return &Consumer{pool: pool, broker: brk, jobsRepo: jobsRepo, rules: rules, maxAttempt: maxAttempt, log: log}
}

// Run blocks consuming the events queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.broker.ConsumeEvents("fanout")
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
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var msg broker.EventMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Error("fanout.decode_failed", "error", err)
		_ = d.Nack(false, false)
		return
	}

	created, err := c.createJobsForEvent(ctx, msg)
	if err != nil {
		c.log.Error("fanout.create_jobs_failed", "event_id", msg.EventID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	for _, jobID := range created {
		if err := c.broker.PublishJob(ctx, jobID); err != nil {
			c.log.Error("fanout.publish_job_failed", "job_id", jobID, "error", err)
		}
	}

	if err := d.Ack(false); err != nil {
		c.log.Error("fanout.ack_failed", "error", err)
	}
}

func (c *Consumer) createJobsForEvent(ctx context.Context, msg broker.EventMessage) ([]string, error) {
	rules, err := c.rules.Get(ctx)
	if err != nil {
		return nil, err
	}

	var payload, subject any
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return nil, err
		}
	}
	if len(msg.Subject) > 0 {
		if err := json.Unmarshal(msg.Subject, &subject); err != nil {
			return nil, err
		}
	}

	renderCtx := map[string]any{
		"eventId":    msg.EventID,
		"source":     msg.Source,
		"type":       msg.Type,
		"subject":    subject,
		"payload":    payload,
		"occurredAt": msg.OccurredAt,
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := postgres.MarkEventProcessingTx(ctx, tx, msg.EventID); err != nil {
		return nil, err
	}

	matched, err := matchAndRender(rules, ruleengine.EventFields{Source: msg.Source, Type: msg.Type}, renderCtx)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, m := range matched {
		id, err := c.jobsRepo.CreateTx(ctx, tx, jobCreateRequest(msg.EventID, m.ruleID, m.action, m.payload, c.maxAttempt))
		if err != nil {
			return nil, err
		}
		created = append(created, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return created, nil
}

// renderedAction is one action of one matching rule, already rendered
// against the event's context and ready to become a job row.
type renderedAction struct {
	ruleID  string
	action  rule.Action
	payload []byte
}

// matchAndRender matches every rule against fields and renders each
// matching rule's actions against renderCtx. Every action of every
// matching rule produces an entry here regardless of how its rendered
// payload looks; a template that resolves to an empty string is still a
// job the executor should attempt and report on, not a silent no-op.
func matchAndRender(rules []rule.WithActions, fields ruleengine.EventFields, renderCtx map[string]any) ([]renderedAction, error) {
	var out []renderedAction
	for _, rl := range rules {
		if !ruleengine.Match(rl.Rule, fields) {
			continue
		}

		for _, a := range rl.Actions {
			var cfg any
			if err := json.Unmarshal(a.Config, &cfg); err != nil {
				return nil, err
			}
			rendered := ruleengine.Render(cfg, renderCtx)
			renderedBytes, err := json.Marshal(rendered)
			if err != nil {
				return nil, err
			}
			out = append(out, renderedAction{ruleID: rl.ID, action: a, payload: renderedBytes})
		}
	}
	return out, nil
}

func jobCreateRequest(eventID, ruleID string, a rule.Action, payload []byte, maxAttempts int) job.CreateRequest {
	return job.CreateRequest{
		EventID:     eventID,
		RuleID:      ruleID,
		ActionID:    a.ID,
		Kind:        a.Kind,
		Payload:     payload,
		MaxAttempts: maxAttempts,
	}
}
