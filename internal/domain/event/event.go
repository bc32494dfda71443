package event

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusAccepted   Status = "ACCEPTED"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Subject identifies the entity an event is about, e.g. {"kind":"order","id":"o-1"}.
type Subject struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type Event struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	Type           string          `json:"type"`
	Subject        Subject         `json:"subject"`
	Payload        json.RawMessage `json:"payload"`
	Status         Status          `json:"status"`
	OccurredAt     time.Time       `json:"occurredAt"`
	ReceivedAt     time.Time       `json:"receivedAt"`
	IdempotencyKey *string         `json:"idempotencyKey,omitempty"`
}

type IngestRequest struct {
	Source         string          `json:"source" binding:"required"`
	Type           string          `json:"type" binding:"required"`
	Subject        Subject         `json:"subject" binding:"required"`
	Payload        json.RawMessage `json:"payload" binding:"required"`
	OccurredAt     *time.Time      `json:"occurredAt,omitempty"`
	IdempotencyKey *string         `json:"idempotencyKey,omitempty"`
}
