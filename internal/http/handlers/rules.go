package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sooh59599/zoohub/internal/config"
	"github.com/sooh59599/zoohub/internal/domain/rule"
	"github.com/sooh59599/zoohub/internal/jobs"
	"github.com/sooh59599/zoohub/internal/repo/postgres"
	"github.com/sooh59599/zoohub/internal/utils"
)

// validateActions rejects an action whose config is already malformed or
// missing its required fields at authoring time. It does not (and cannot)
// catch a template that only resolves empty for a particular event; that
// stays the fan-out consumer's problem, which always inserts the job
// regardless of how its rendered payload looks.
func validateActions(actions []rule.ActionRequest) error {
	for _, a := range actions {
		if err := jobs.ValidateEncoded(jobs.Kind(a.Kind), a.Config); err != nil {
			return err
		}
	}
	return nil
}

type RulesRepo interface {
	Create(ctx context.Context, req rule.CreateRequest) (rule.WithActions, error)
	List(ctx context.Context, enabled *bool) ([]rule.WithActions, error)
	Update(ctx context.Context, id string, req rule.UpdateRequest) (rule.WithActions, error)
	Delete(ctx context.Context, id string) error
}

// RulesCacheInvalidator is implemented by *rulescache.Cache; kept as a
// narrow interface here so this package doesn't need to import it.
type RulesCacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

type RulesHandler struct {
	repo  RulesRepo
	cache RulesCacheInvalidator
}

func NewRulesHandler(repo RulesRepo, cache RulesCacheInvalidator) *RulesHandler {
	return &RulesHandler{repo: repo, cache: cache}
}

func (h *RulesHandler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	_ = h.cache.Invalidate(ctx)
}

// POST /admin/rules
func (h *RulesHandler) Create(ctx *gin.Context) {
	var req rule.CreateRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if err := validateActions(req.Actions); err != nil {
		RespondBadRequest(ctx, "invalid_action_config", err.Error())
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	rl, err := h.repo.Create(cctx, req)
	if err != nil {
		RespondInternal(ctx, "could not create rule")
		return
	}

	h.invalidate(cctx)
	ctx.JSON(http.StatusCreated, rl)
}

// GET /admin/rules?enabled=true
func (h *RulesHandler) List(ctx *gin.Context) {
	var enabledPtr *bool
	if v := ctx.Query("enabled"); v != "" {
		b := v == "true"
		enabledPtr = &b
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	rules, err := h.repo.List(cctx, enabledPtr)
	if err != nil {
		RespondInternal(ctx, "could not list rules")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"count": len(rules), "items": rules})
}

// PATCH /admin/rules/:id
func (h *RulesHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "id must be a valid UUID")
		return
	}

	var req rule.UpdateRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if err := validateActions(req.Actions); err != nil {
		RespondBadRequest(ctx, "invalid_action_config", err.Error())
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	rl, err := h.repo.Update(cctx, id, req)
	if err != nil {
		if errors.Is(err, postgres.ErrRuleNotFound) {
			RespondNotFound(ctx, "rule not found")
			return
		}
		RespondInternal(ctx, "could not update rule")
		return
	}

	h.invalidate(cctx)
	ctx.JSON(http.StatusOK, rl)
}

// DELETE /admin/rules/:id
func (h *RulesHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Delete(cctx, id); err != nil {
		if errors.Is(err, postgres.ErrRuleNotFound) {
			RespondNotFound(ctx, "rule not found")
			return
		}
		RespondInternal(ctx, "could not delete rule")
		return
	}

	h.invalidate(cctx)
	ctx.Status(http.StatusNoContent)
}
