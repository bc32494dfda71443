package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sooh59599/zoohub/internal/broker"
	"github.com/sooh59599/zoohub/internal/domain/event"
	"github.com/sooh59599/zoohub/internal/http/handlers"
	"github.com/sooh59599/zoohub/internal/repo/postgres"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newUUID() string {
	return uuid.NewString()
}

type fakeEventsRepo struct {
	getByIdemFn func(ctx context.Context, key string) (event.Event, error)
	createFn    func(ctx context.Context, e event.Event) error
	getByIDFn   func(ctx context.Context, id string) (event.Event, error)
}

func (f *fakeEventsRepo) GetByIdempotencyKey(ctx context.Context, key string) (event.Event, error) {
	if f.getByIdemFn != nil {
		return f.getByIdemFn(ctx, key)
	}
	return event.Event{}, postgres.ErrEventNotFound
}

func (f *fakeEventsRepo) Create(ctx context.Context, e event.Event) error {
	if f.createFn != nil {
		return f.createFn(ctx, e)
	}
	return nil
}

func (f *fakeEventsRepo) GetByID(ctx context.Context, id string) (event.Event, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return event.Event{}, postgres.ErrEventNotFound
}

type fakePublisher struct {
	publishFn func(ctx context.Context, msg broker.EventMessage) error
	published []broker.EventMessage
}

func (f *fakePublisher) PublishEvent(ctx context.Context, msg broker.EventMessage) error {
	f.published = append(f.published, msg)
	if f.publishFn != nil {
		return f.publishFn(ctx, msg)
	}
	return nil
}

func setupRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Handle(method, path, h)
	return r
}

func TestIngestEventHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		repoSetup      func(*fakeEventsRepo)
		pubSetup       func(*fakePublisher)
		wantStatusCode int
		wantPublished  int
	}{
		{
			name: "success",
			body: `{
				"source": "orders",
				"type": "order.created",
				"subject": {"kind": "order", "id": "o-1"},
				"payload": {"amount": 42}
			}`,
			wantStatusCode: http.StatusAccepted,
			wantPublished:  1,
		},
		{
			name:           "validation_error_missing_fields",
			body:           `{"source": ""}`,
			wantStatusCode: http.StatusBadRequest,
			wantPublished:  0,
		},
		{
			name: "idempotent_replay_returns_existing",
			body: `{
				"source": "orders",
				"type": "order.created",
				"subject": {"kind": "order", "id": "o-1"},
				"payload": {"amount": 42},
				"idempotencyKey": "key-123"
			}`,
			repoSetup: func(f *fakeEventsRepo) {
				f.getByIdemFn = func(ctx context.Context, key string) (event.Event, error) {
					return event.Event{ID: "existing-id", Status: event.StatusDone}, nil
				}
				f.createFn = func(ctx context.Context, e event.Event) error {
					t.Fatalf("create should not be called on idempotent replay")
					return nil
				}
			},
			wantStatusCode: http.StatusAccepted,
			wantPublished:  0,
		},
		{
			name: "duplicate_idempotency_key_race",
			body: `{
				"source": "orders",
				"type": "order.created",
				"subject": {"kind": "order", "id": "o-1"},
				"payload": {"amount": 42},
				"idempotencyKey": "key-123"
			}`,
			repoSetup: func(f *fakeEventsRepo) {
				f.createFn = func(ctx context.Context, e event.Event) error {
					return &pgconn.PgError{Code: "23505"}
				}
			},
			wantStatusCode: http.StatusConflict,
			wantPublished:  0,
		},
		{
			name: "create_error",
			body: `{
				"source": "orders",
				"type": "order.created",
				"subject": {"kind": "order", "id": "o-1"},
				"payload": {"amount": 42}
			}`,
			repoSetup: func(f *fakeEventsRepo) {
				f.createFn = func(ctx context.Context, e event.Event) error {
					return errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
			wantPublished:  0,
		},
		{
			name: "publish_error_still_accepted_event_was_committed",
			body: `{
				"source": "orders",
				"type": "order.created",
				"subject": {"kind": "order", "id": "o-1"},
				"payload": {"amount": 42}
			}`,
			pubSetup: func(p *fakePublisher) {
				p.publishFn = func(ctx context.Context, msg broker.EventMessage) error {
					return errors.New("broker down")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
			wantPublished:  1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeEventsRepo{}
			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}
			pub := &fakePublisher{}
			if tt.pubSetup != nil {
				tt.pubSetup(pub)
			}

			h := handlers.NewEventsHandler(repo, pub)
			r := setupRouter(http.MethodPost, "/events", h.IngestEvent)

			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
			if len(pub.published) != tt.wantPublished {
				t.Fatalf("got %d published messages, want %d", len(pub.published), tt.wantPublished)
			}
		})
	}
}

func TestGetEventByIDHandler(t *testing.T) {
	now := time.Now().UTC()
	validID := newUUID()
	missingID := newUUID()

	tests := []struct {
		name           string
		id             string
		repoSetup      func(*fakeEventsRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			id:   validID,
			repoSetup: func(f *fakeEventsRepo) {
				f.getByIDFn = func(ctx context.Context, id string) (event.Event, error) {
					return event.Event{ID: id, Source: "orders", Type: "order.created", Status: event.StatusDone, ReceivedAt: now, OccurredAt: now}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "invalid_id",
			id:             "not-a-uuid",
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "not_found",
			id:   missingID,
			repoSetup: func(f *fakeEventsRepo) {
				f.getByIDFn = func(ctx context.Context, id string) (event.Event, error) {
					return event.Event{}, postgres.ErrEventNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "repo_error",
			id:   validID,
			repoSetup: func(f *fakeEventsRepo) {
				f.getByIDFn = func(ctx context.Context, id string) (event.Event, error) {
					return event.Event{}, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeEventsRepo{}
			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := handlers.NewEventsHandler(repo, &fakePublisher{})
			r := setupRouter(http.MethodGet, "/events/:id", h.GetEventByID)

			req := httptest.NewRequest(http.MethodGet, "/events/"+tt.id, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode == http.StatusOK {
				var resp event.Event
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.ID != tt.id {
					t.Fatalf("got id %q, want %q", resp.ID, tt.id)
				}
			}
		})
	}
}
