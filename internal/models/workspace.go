package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is the tenant that owns configurations, keys and emails.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey authenticates calls on behalf of a workspace. Only the bcrypt hash of the secret is stored.
type APIKey struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Prefix      string     `json:"prefix"`
	SecretHash  string     `json:"-"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
