package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/pkg/utils"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

const (
	prefixBytes = 6
	secretBytes = 24
)

// Repository handles workspace API keys.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an API key repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ParseAPIKey splits "<prefix>.<secret>".
func ParseAPIKey(key string) (prefix, secret string, ok bool) {
	prefix, secret, ok = strings.Cut(strings.TrimSpace(key), ".")
	if !ok || prefix == "" || secret == "" {
		return "", "", false
	}
	return prefix, secret, true
}

// CreateAPIKey issues a key for the workspace. The plaintext key is returned once and never stored.
func (r *Repository) CreateAPIKey(ctx context.Context, workspaceID uuid.UUID) (string, *models.APIKey, error) {
	prefix, err := utils.RandomToken(prefixBytes)
	if err != nil {
		return "", nil, err
	}
	secret, err := utils.RandomToken(secretBytes)
	if err != nil {
		return "", nil, err
	}
	hash, err := utils.HashSecret(secret)
	if err != nil {
		return "", nil, fmt.Errorf("hash secret: %w", err)
	}
	key := &models.APIKey{WorkspaceID: workspaceID, Prefix: prefix, SecretHash: hash}
	const q = `INSERT INTO workspace_api_keys (workspace_id, prefix, secret_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	if err := r.pool.QueryRow(ctx, q, workspaceID, prefix, hash).Scan(&key.ID, &key.CreatedAt); err != nil {
		return "", nil, err
	}
	return prefix + "." + secret, key, nil
}

// Authenticate returns the workspace of a valid, unrevoked key.
func (r *Repository) Authenticate(ctx context.Context, apiKey string) (uuid.UUID, error) {
	prefix, secret, ok := ParseAPIKey(apiKey)
	if !ok {
		return uuid.Nil, ErrInvalidAPIKey
	}
	const q = `SELECT workspace_id, secret_hash FROM workspace_api_keys WHERE prefix = $1 AND revoked_at IS NULL`
	var workspaceID uuid.UUID
	var hash string
	if err := r.pool.QueryRow(ctx, q, prefix).Scan(&workspaceID, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrInvalidAPIKey
		}
		return uuid.Nil, err
	}
	if !utils.CheckSecret(secret, hash) {
		return uuid.Nil, ErrInvalidAPIKey
	}
	return workspaceID, nil
}

// Revoke disables a key by prefix.
func (r *Repository) Revoke(ctx context.Context, prefix string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE workspace_api_keys SET revoked_at = NOW() WHERE prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidAPIKey
	}
	return nil
}
