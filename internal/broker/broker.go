// Package broker wraps the AMQP 0-9-1 topology this hub runs on: a durable
// topic exchange for ingested events and a durable direct exchange for job
// execute messages, each bound to one durable queue.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sooh59599/zoohub/internal/queue/worker"
)

// Topology names every exchange/queue/routing-key this hub uses. Defaults
// match the original prototype's env-var defaults (zoo.events / zoo.jobs).
type Topology struct {
	EventsExchange   string
	EventsRoutingKey string
	EventsQueue      string

	JobsExchange   string
	JobsRoutingKey string
	JobsQueue      string
}

func DefaultTopology() Topology {
	return Topology{
		EventsExchange:   "zoo.events",
		EventsRoutingKey: "zoo.event.ingested",
		EventsQueue:      "zoo.events.q",
		JobsExchange:     "zoo.jobs",
		JobsRoutingKey:   "zoo.job.execute",
		JobsQueue:        "zoo.jobs.q",
	}
}

// Client owns one AMQP connection and one channel, declares the hub's
// exchanges/queues on Connect, and exposes typed publish helpers plus a
// raw Consume for the executor/fan-out consumers to range over.
type Client struct {
	url      string
	prefetch int
	topology Topology

	conn *amqp.Connection
	ch   *amqp.Channel
}

func New(url string, prefetch int, topology Topology) *Client {
	if prefetch <= 0 {
		prefetch = 50
	}
	return &Client{url: url, prefetch: prefetch, topology: topology}
}

// ConnectWithRetry calls Connect, retrying with the worker package's
// exponential backoff until it succeeds, ctx is cancelled, or maxAttempts
// dials have failed (maxAttempts <= 0 means no limit). RabbitMQ is
// commonly the last dependency up in local/dev compose stacks, so the
// two entrypoints call this instead of failing hard on the first dial.
func (c *Client) ConnectWithRetry(ctx context.Context, maxAttempts int) error {
	var lastErr error
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		if err := c.Connect(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect cancelled after %d attempts: %w", attempt+1, ctx.Err())
		case <-time.After(worker.ExponentialBackoff(attempt)):
		}
	}
	return fmt.Errorf("connect failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) Connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	t := c.topology

	if err := ch.ExchangeDeclare(t.EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare events exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(t.JobsExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare jobs exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(t.EventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare events queue: %w", err)
	}
	if err := ch.QueueBind(t.EventsQueue, t.EventsRoutingKey, t.EventsExchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bind events queue: %w", err)
	}

	if _, err := ch.QueueDeclare(t.JobsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare jobs queue: %w", err)
	}
	if err := ch.QueueBind(t.JobsQueue, t.JobsRoutingKey, t.JobsExchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bind jobs queue: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Client) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

type EventMessage struct {
	EventID        string          `json:"eventId"`
	Source         string          `json:"source"`
	Type           string          `json:"type"`
	Subject        json.RawMessage `json:"subject"`
	Payload        json.RawMessage `json:"payload"`
	OccurredAt     string          `json:"occurredAt"`
	ReceivedAt     string          `json:"receivedAt"`
}

type JobMessage struct {
	JobID string `json:"jobId"`
}

// PublishEvent publishes to the topic exchange with the fixed ingested
// routing key. Called strictly after the ingest transaction commits.
func (c *Client) PublishEvent(ctx context.Context, msg EventMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.publish(ctx, c.topology.EventsExchange, c.topology.EventsRoutingKey, body)
}

// PublishJob publishes to the direct exchange with the fixed execute
// routing key. Called strictly after the fan-out transaction commits, and
// again by the retry scanner for jobs it leases.
func (c *Client) PublishJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return err
	}
	return c.publish(ctx, c.topology.JobsExchange, c.topology.JobsRoutingKey, body)
}

func (c *Client) publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.ch.PublishWithContext(cctx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// ConsumeEvents and ConsumeJobs return raw delivery channels with manual
// ack: the caller acks on success and nacks-without-requeue on failure, so
// a failed job delivery never silently retries outside the DB-driven retry
// path.
func (c *Client) ConsumeEvents(consumerTag string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.topology.EventsQueue, consumerTag, false, false, false, false, nil)
}

func (c *Client) ConsumeJobs(consumerTag string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.topology.JobsQueue, consumerTag, false, false, false, false, nil)
}
