package emails

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/middleware"
	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/pkg/response"
)

// Service is the dispatch surface the handlers use.
type Service interface {
	EnqueueEmail(ctx context.Context, cmd dispatch.SendCommand) (*dispatch.EnqueueResult, error)
	RetryFailedEmails(ctx context.Context, workspaceID uuid.UUID, opts dispatch.RetryOptions) (int, error)
	GetEmail(ctx context.Context, workspaceID, emailID uuid.UUID) (*models.Email, error)
	ListEmails(ctx context.Context, workspaceID uuid.UUID, filter models.EmailFilter) ([]*models.Email, int, error)
}

// SendRequest is the body for POST /v1/emails.
type SendRequest struct {
	EmailConfigurationID string   `json:"email_configuration_id" binding:"required,uuid"`
	To                   []string `json:"to" binding:"required,min=1"`
	Cc                   []string `json:"cc"`
	Bcc                  []string `json:"bcc"`
	Subject              string   `json:"subject" binding:"required"`
	Body                 string   `json:"body"`
	IsHTML               bool     `json:"is_html"`
	DisplayName          string   `json:"display_name"`
}

// SendResponse is the 202 body for an accepted send.
type SendResponse struct {
	Accepted bool      `json:"accepted"`
	EmailID  uuid.UUID `json:"email_id"`
	JobID    string    `json:"job_id"`
	Message  string    `json:"message"`
}

// RetryRequest is the optional body for POST /v1/emails/retry-failed.
type RetryRequest struct {
	MaxRetries       int  `json:"max_retries" binding:"omitempty,min=1,max=100"`
	IncludePermanent bool `json:"include_permanent"`
}

// ListResponse is a page of email summaries.
type ListResponse struct {
	Items    []models.EmailSummary `json:"items"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// Handler handles email HTTP endpoints.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates an emails handler.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the email routes on an authenticated group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/emails", h.Send)
	g.POST("/emails/retry-failed", h.RetryFailed)
	g.GET("/emails", h.List)
	g.GET("/emails/:id", h.Get)
}

// Send handles POST /v1/emails. Returns 202 once the email is durably queued.
func (h *Handler) Send(c *gin.Context) {
	workspaceID, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Unauthorized(c, "missing workspace context")
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	configID, _ := uuid.Parse(req.EmailConfigurationID)

	res, err := h.svc.EnqueueEmail(c.Request.Context(), dispatch.SendCommand{
		WorkspaceID:     workspaceID,
		ConfigurationID: configID,
		To:              req.To,
		Cc:              req.Cc,
		Bcc:             req.Bcc,
		Subject:         req.Subject,
		Body:            req.Body,
		IsHTML:          req.IsHTML,
		DisplayName:     req.DisplayName,
	})
	if err != nil {
		h.rejection(c, err)
		return
	}
	response.Accepted(c, SendResponse{Accepted: res.Accepted, EmailID: res.EmailID, JobID: res.JobID, Message: res.Message})
}

func (h *Handler) rejection(c *gin.Context, err error) {
	var rej *dispatch.RejectionError
	if !errors.As(err, &rej) {
		h.logger.Error("enqueue email failed", zap.Error(err))
		response.Internal(c, "failed to queue email")
		return
	}
	switch {
	case errors.Is(err, dispatch.ErrConfigurationNotFound):
		response.Fail(c, http.StatusNotFound, response.CodeConfigurationNotFound, rej.Message)
	case errors.Is(err, dispatch.ErrWorkspaceNotActive):
		response.Forbidden(c, rej.Message)
	default:
		response.BadRequest(c, rej.Message)
	}
}

// RetryFailed handles POST /v1/emails/retry-failed.
func (h *Handler) RetryFailed(c *gin.Context) {
	workspaceID, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Unauthorized(c, "missing workspace context")
		return
	}
	var req RetryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	count, err := h.svc.RetryFailedEmails(c.Request.Context(), workspaceID, dispatch.RetryOptions{
		MaxRetries:       req.MaxRetries,
		IncludePermanent: req.IncludePermanent,
	})
	if err != nil {
		h.logger.Error("retry failed emails", zap.Error(err), zap.String("workspace_id", workspaceID.String()))
		response.Internal(c, "failed to retry emails")
		return
	}
	response.OK(c, gin.H{"retried_count": count})
}

// Get handles GET /v1/emails/:id.
func (h *Handler) Get(c *gin.Context) {
	workspaceID, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Unauthorized(c, "missing workspace context")
		return
	}
	emailID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid email id")
		return
	}
	email, err := h.svc.GetEmail(c.Request.Context(), workspaceID, emailID)
	if err != nil {
		if errors.Is(err, dispatch.ErrEmailNotFound) {
			response.NotFound(c, "email not found")
			return
		}
		h.logger.Error("get email", zap.Error(err), zap.String("email_id", emailID.String()))
		response.Internal(c, "failed to load email")
		return
	}
	response.OK(c, email)
}

// List handles GET /v1/emails?status=&recipient=&subject=&from=&to=&sort=&page=&page_size=.
func (h *Handler) List(c *gin.Context) {
	workspaceID, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Unauthorized(c, "missing workspace context")
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	items, total, err := h.svc.ListEmails(c.Request.Context(), workspaceID, filter)
	if err != nil {
		h.logger.Error("list emails", zap.Error(err), zap.String("workspace_id", workspaceID.String()))
		response.Internal(c, "failed to list emails")
		return
	}
	filter.Normalize()
	out := ListResponse{Items: make([]models.EmailSummary, 0, len(items)), Total: total, Page: filter.Page, PageSize: filter.PageSize}
	for _, e := range items {
		out.Items = append(out.Items, e.Summary())
	}
	response.OK(c, out)
}

func parseFilter(c *gin.Context) (models.EmailFilter, error) {
	var f models.EmailFilter
	if s := c.Query("status"); s != "" {
		f.Status = models.EmailStatus(strings.ToLower(s))
		if !f.Status.Valid() {
			return f, errors.New("invalid status")
		}
	}
	f.Recipient = strings.TrimSpace(c.Query("recipient"))
	f.Subject = strings.TrimSpace(c.Query("subject"))
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.QueuedFrom}, {"to", &f.QueuedTo}} {
		if v := c.Query(p.key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errors.New("invalid " + p.key + ": expected RFC3339")
			}
			*p.dst = &t
		}
	}
	switch strings.ToLower(c.DefaultQuery("sort", "desc")) {
	case "asc":
		f.Ascending = true
	case "desc":
	default:
		return f, errors.New("invalid sort: expected asc or desc")
	}
	var err error
	if f.Page, err = intQuery(c, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = intQuery(c, "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
