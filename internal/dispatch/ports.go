package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/pkg/queue"
)

// Store persists email records. Every read is scoped by workspace.
type Store interface {
	// Create inserts the email and its pending outbox entry in one transaction.
	Create(ctx context.Context, e *models.Email) error
	Get(ctx context.Context, workspaceID, id uuid.UUID) (*models.Email, error)
	// Save writes e if its version is unchanged and bumps e.Version. Otherwise ErrVersionConflict.
	Save(ctx context.Context, e *models.Email) error
	// Requeue is Save plus a new outbox entry for e.JobID, in one transaction.
	Requeue(ctx context.Context, e *models.Email) error
	MarkDispatched(ctx context.Context, jobID string) error
	ListFailed(ctx context.Context, workspaceID uuid.UUID, maxAttempts int, includePermanent bool) ([]*models.Email, error)
	ListUndispatched(ctx context.Context, createdBefore time.Time, limit int) ([]OutboxEntry, error)
	List(ctx context.Context, workspaceID uuid.UUID, filter models.EmailFilter) ([]*models.Email, int, error)
}

// OutboxEntry is a job that must reach the queue.
type OutboxEntry struct {
	JobID        string
	EmailID      uuid.UUID
	WorkspaceID  uuid.UUID
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// ConfigLookup returns ErrConfigurationNotFound when the configuration is missing or belongs to another workspace.
type ConfigLookup interface {
	Get(ctx context.Context, workspaceID, configurationID uuid.UUID) (*models.EmailConfiguration, error)
}

type WorkspaceLookup interface {
	IsActive(ctx context.Context, workspaceID uuid.UUID) (bool, error)
}

// JobQueue submits send jobs to the background runner.
type JobQueue interface {
	EnqueueEmail(ctx context.Context, jobID string, payload queue.EmailPayload) (string, error)
}

// BodyArchive keeps full message bodies that did not fit the row snapshot.
type BodyArchive interface {
	PutBody(ctx context.Context, workspaceID, emailID uuid.UUID, body string) error
	GetBody(ctx context.Context, workspaceID, emailID uuid.UUID) (string, error)
}
