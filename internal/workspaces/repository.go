package workspaces

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emailez/backend/internal/models"
)

var ErrNotFound = errors.New("workspace not found")

// Repository handles workspace persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a workspaces repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create creates an active workspace.
func (r *Repository) Create(ctx context.Context, ws *models.Workspace) error {
	const q = `INSERT INTO workspaces (name, is_active)
		VALUES ($1, TRUE)
		RETURNING id, is_active, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, ws.Name).
		Scan(&ws.ID, &ws.IsActive, &ws.CreatedAt, &ws.UpdatedAt)
}

// GetByID returns a workspace by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	const q = `SELECT id, name, is_active, created_at, updated_at FROM workspaces WHERE id = $1`
	var ws models.Workspace
	err := r.pool.QueryRow(ctx, q, id).Scan(&ws.ID, &ws.Name, &ws.IsActive, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ws, nil
}

// IsActive reports whether the workspace exists and is active.
func (r *Repository) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM workspaces WHERE id = $1`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return active, nil
}

// SetActive enables or suspends a workspace.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE workspaces SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
