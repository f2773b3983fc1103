package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailConfiguration is an SMTP identity a workspace sends as.
type EmailConfiguration struct {
	ID                uuid.UUID `json:"id"`
	WorkspaceID       uuid.UUID `json:"workspace_id"`
	Name              string    `json:"name"`
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	UseTLS            bool      `json:"use_tls"`
	Username          string    `json:"username"`
	EncryptedPassword string    `json:"-"`
	FromAddress       string    `json:"from_address"`
	DisplayName       string    `json:"display_name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
