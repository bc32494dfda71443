package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sooh59599/zoohub/internal/config"
	"github.com/sooh59599/zoohub/internal/domain/circuit"
)

type CircuitRepo interface {
	List(ctx context.Context) ([]circuit.Entry, error)
	Reset(ctx context.Context, key string) error
}

type CircuitHandler struct {
	repo CircuitRepo
}

func NewCircuitHandler(repo CircuitRepo) *CircuitHandler {
	return &CircuitHandler{repo: repo}
}

// GET /admin/circuit
func (h *CircuitHandler) List(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	entries, err := h.repo.List(cctx)
	if err != nil {
		RespondInternal(ctx, "could not list circuit breakers")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"count": len(entries), "items": entries})
}

// POST /admin/circuit/:key/reset
func (h *CircuitHandler) Reset(ctx *gin.Context) {
	key := ctx.Param("key")
	if key == "" {
		RespondBadRequest(ctx, "invalid_key", "key is required")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Reset(cctx, key); err != nil {
		RespondInternal(ctx, "could not reset circuit breaker")
		return
	}

	ctx.Status(http.StatusNoContent)
}
