package event

import (
	"time"

	"github.com/google/uuid"
)

// NewFromIngestRequest builds an ACCEPTED event from an ingest request.
// occurredAt defaults to now when the caller omits it, per the ingest
// contract: the hub is the timestamp of record unless told otherwise.
func NewFromIngestRequest(req IngestRequest) Event {
	now := time.Now().UTC()

	occurredAt := now
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	return Event{
		ID:             uuid.NewString(),
		Source:         req.Source,
		Type:           req.Type,
		Subject:        req.Subject,
		Payload:        req.Payload,
		Status:         StatusAccepted,
		OccurredAt:     occurredAt,
		ReceivedAt:     now,
		IdempotencyKey: req.IdempotencyKey,
	}
}
