package emailconfigs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/models"
)

const columns = `id, workspace_id, name, host, port, use_tls, username, encrypted_password, from_address, display_name, created_at, updated_at`

// Repository handles email_configurations persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email configurations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ dispatch.ConfigLookup = (*Repository)(nil)

// Create inserts a configuration. EncryptedPassword must already be encrypted.
func (r *Repository) Create(ctx context.Context, cfg *models.EmailConfiguration) error {
	const q = `INSERT INTO email_configurations (workspace_id, name, host, port, use_tls, username, encrypted_password, from_address, display_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, cfg.WorkspaceID, cfg.Name, cfg.Host, cfg.Port, cfg.UseTLS, cfg.Username,
		cfg.EncryptedPassword, cfg.FromAddress, cfg.DisplayName).
		Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
}

// Get returns the configuration only if it belongs to the workspace.
func (r *Repository) Get(ctx context.Context, workspaceID, id uuid.UUID) (*models.EmailConfiguration, error) {
	q := `SELECT ` + columns + ` FROM email_configurations WHERE id = $1 AND workspace_id = $2`
	var cfg models.EmailConfiguration
	err := r.pool.QueryRow(ctx, q, id, workspaceID).Scan(&cfg.ID, &cfg.WorkspaceID, &cfg.Name, &cfg.Host, &cfg.Port,
		&cfg.UseTLS, &cfg.Username, &cfg.EncryptedPassword, &cfg.FromAddress, &cfg.DisplayName, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispatch.ErrConfigurationNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// ListByWorkspace returns the workspace's configurations by name.
func (r *Repository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.EmailConfiguration, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM email_configurations WHERE workspace_id = $1 ORDER BY name`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailConfiguration
	for rows.Next() {
		var cfg models.EmailConfiguration
		if err := rows.Scan(&cfg.ID, &cfg.WorkspaceID, &cfg.Name, &cfg.Host, &cfg.Port, &cfg.UseTLS, &cfg.Username,
			&cfg.EncryptedPassword, &cfg.FromAddress, &cfg.DisplayName, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &cfg)
	}
	return list, rows.Err()
}
