package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/emailez/backend/internal/auth"
	"github.com/emailez/backend/pkg/response"
)

const (
	// ContextWorkspaceID is the key for the authenticated workspace ID in gin context.
	ContextWorkspaceID = "workspace_id"
	// HeaderAPIKey carries "<prefix>.<secret>".
	HeaderAPIKey = "X-API-Key"
)

// KeyAuthenticator resolves an API key to its workspace.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (uuid.UUID, error)
}

// WorkspaceAuth authenticates the caller by API key or bearer JWT and sets ContextWorkspaceID.
func WorkspaceAuth(keys KeyAuthenticator, jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(HeaderAPIKey); key != "" {
			workspaceID, err := keys.Authenticate(c.Request.Context(), key)
			if err != nil {
				response.Unauthorized(c, "invalid api key")
				c.Abort()
				return
			}
			c.Set(ContextWorkspaceID, workspaceID)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing credentials")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextWorkspaceID, claims.WorkspaceID)
		c.Next()
	}
}

// WorkspaceID returns the authenticated workspace, or false when the request was not authenticated.
func WorkspaceID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextWorkspaceID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
