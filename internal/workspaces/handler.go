package workspaces

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/emailez/backend/internal/middleware"
	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/pkg/response"
)

// Getter loads a workspace.
type Getter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
}

// Handler handles workspace HTTP endpoints.
type Handler struct {
	repo Getter
}

// NewHandler creates a workspaces handler.
func NewHandler(repo Getter) *Handler {
	return &Handler{repo: repo}
}

// Current handles GET /v1/workspace. Returns the caller's workspace.
func (h *Handler) Current(c *gin.Context) {
	id, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Unauthorized(c, "missing workspace context")
		return
	}
	ws, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "workspace not found")
			return
		}
		response.Internal(c, "failed to load workspace")
		return
	}
	response.OK(c, ws)
}
