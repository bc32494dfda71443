package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sooh59599/zoohub/internal/broker"
	"github.com/sooh59599/zoohub/internal/config"
	"github.com/sooh59599/zoohub/internal/domain/event"
	"github.com/sooh59599/zoohub/internal/repo/postgres"
	"github.com/sooh59599/zoohub/internal/utils"
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, msg broker.EventMessage) error
}

// EventsRepo is satisfied by *postgres.EventsRepo; kept narrow so tests
// can fake it without a database.
type EventsRepo interface {
	GetByIdempotencyKey(ctx context.Context, key string) (event.Event, error)
	Create(ctx context.Context, e event.Event) error
	GetByID(ctx context.Context, id string) (event.Event, error)
}

type EventsHandler struct {
	repo      EventsRepo
	publisher EventPublisher
}

func NewEventsHandler(repo EventsRepo, publisher EventPublisher) *EventsHandler {
	return &EventsHandler{repo: repo, publisher: publisher}
}

type ingestResponse struct {
	EventID      string `json:"eventId"`
	Status       string `json:"status"`
	EnqueuedJobs int    `json:"enqueuedJobs"`
}

// IngestEvent implements POST /api/v1/events: check-then-insert on
// idempotencyKey, publish event.ingested strictly after the insert
// commits, and return 202 with the accepted event's id.
func (h *EventsHandler) IngestEvent(ctx *gin.Context) {
	var req event.IngestRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := h.repo.GetByIdempotencyKey(cctx, *req.IdempotencyKey)
		if err == nil {
			ctx.JSON(http.StatusAccepted, ingestResponse{EventID: existing.ID, Status: string(existing.Status), EnqueuedJobs: 0})
			return
		}
		if !errors.Is(err, postgres.ErrEventNotFound) {
			RespondInternal(ctx, "could not check idempotency key")
			return
		}
	}

	e := event.NewFromIngestRequest(req)

	if err := h.repo.Create(cctx, e); err != nil {
		if postgres.IsUniqueViolation(err) {
			RespondConflict(ctx, "duplicate_idempotency_key", "an event with this idempotency key already exists")
			return
		}
		slog.Default().ErrorContext(cctx, "events.create_failed", "error", err)
		RespondInternal(ctx, "could not create event")
		return
	}

	subjectRaw, err := json.Marshal(e.Subject)
	if err != nil {
		slog.Default().ErrorContext(cctx, "events.encode_subject_failed", "error", err)
		RespondInternal(ctx, "could not publish event")
		return
	}

	msg := broker.EventMessage{
		EventID:    e.ID,
		Source:     e.Source,
		Type:       e.Type,
		Subject:    subjectRaw,
		Payload:    e.Payload,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}

	if err := h.publisher.PublishEvent(cctx, msg); err != nil {
		slog.Default().ErrorContext(cctx, "events.publish_failed", "event_id", e.ID, "error", err)
		RespondInternal(ctx, "event accepted but could not be published")
		return
	}

	ctx.JSON(http.StatusAccepted, ingestResponse{EventID: e.ID, Status: string(e.Status), EnqueuedJobs: 0})
}

func (h *EventsHandler) GetEventByID(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	e, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrEventNotFound) {
			RespondNotFound(ctx, "event not found")
			return
		}
		RespondInternal(ctx, "could not fetch event")
		return
	}

	ctx.JSON(http.StatusOK, e)
}
