package emailconfigs

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailez/backend/internal/middleware"
	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/pkg/response"
)

// Store persists configurations.
type Store interface {
	Create(ctx context.Context, cfg *models.EmailConfiguration) error
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.EmailConfiguration, error)
}

// Encryptor protects SMTP passwords at rest.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

// CreateRequest is the body for POST /v1/email-configurations.
type CreateRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Host        string `json:"host" binding:"required,hostname_rfc1123|ip"`
	Port        int    `json:"port" binding:"required,min=1,max=65535"`
	UseTLS      bool   `json:"use_tls"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FromAddress string `json:"from_address" binding:"required,email"`
	DisplayName string `json:"display_name" binding:"max=255"`
}

// Handler handles email configuration HTTP endpoints.
type Handler struct {
	store  Store
	cipher Encryptor
	logger *zap.Logger
}

// NewHandler creates an email configurations handler.
func NewHandler(store Store, cipher Encryptor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, cipher: cipher, logger: logger}
}

// Register mounts the configuration routes on an authenticated group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/email-configurations", h.Create)
	g.GET("/email-configurations", h.List)
}

// Create handles POST /v1/email-configurations. The password is stored encrypted and never returned.
func (h *Handler) Create(c *gin.Context) {
	workspaceID, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Unauthorized(c, "missing workspace context")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Username != "" && req.Password == "" {
		response.BadRequest(c, "password required when username is set")
		return
	}
	encrypted := ""
	if req.Password != "" {
		var err error
		if encrypted, err = h.cipher.Encrypt(req.Password); err != nil {
			h.logger.Error("encrypt smtp password", zap.Error(err))
			response.Internal(c, "failed to store configuration")
			return
		}
	}
	cfg := &models.EmailConfiguration{
		WorkspaceID:       workspaceID,
		Name:              strings.TrimSpace(req.Name),
		Host:              strings.TrimSpace(req.Host),
		Port:              req.Port,
		UseTLS:            req.UseTLS,
		Username:          req.Username,
		EncryptedPassword: encrypted,
		FromAddress:       req.FromAddress,
		DisplayName:       req.DisplayName,
	}
	if err := h.store.Create(c.Request.Context(), cfg); err != nil {
		h.logger.Error("create email configuration", zap.Error(err), zap.String("workspace_id", workspaceID.String()))
		response.Internal(c, "failed to store configuration")
		return
	}
	response.Created(c, cfg)
}

// List handles GET /v1/email-configurations.
func (h *Handler) List(c *gin.Context) {
	workspaceID, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Unauthorized(c, "missing workspace context")
		return
	}
	list, err := h.store.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		response.Internal(c, "failed to load configurations")
		return
	}
	if list == nil {
		list = []*models.EmailConfiguration{}
	}
	response.OK(c, list)
}
