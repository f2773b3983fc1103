package emails

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/models"
)

const emailColumns = `id, workspace_id, email_configuration_id, from_address, to_addresses, cc_addresses, bcc_addresses,
	display_name, subject, is_html, body_html, body_plain_text, status, error_message, response_message, retryable,
	job_id, queued_at, sent_at, attempt_count, version, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// Repository handles emails and email_outbox persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an emails repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ dispatch.Store = (*Repository)(nil)

// Create inserts a new email and its outbox entry in one transaction.
func (r *Repository) Create(ctx context.Context, e *models.Email) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `INSERT INTO emails (id, workspace_id, email_configuration_id, from_address, to_addresses, cc_addresses,
			bcc_addresses, display_name, subject, is_html, body_html, body_plain_text, status, error_message,
			response_message, retryable, job_id, queued_at, sent_at, attempt_count, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1)
			RETURNING version, created_at, updated_at`
		err := tx.QueryRow(ctx, q,
			e.ID, e.WorkspaceID, e.EmailConfigurationID, e.FromAddress,
			nonNil(e.ToAddresses), nonNil(e.CcAddresses), nonNil(e.BccAddresses),
			e.DisplayName, e.Subject, e.IsHTML, e.BodyHTML, e.BodyPlainText, e.Status,
			e.ErrorMessage, e.ResponseMessage, e.Retryable, e.JobID, e.QueuedAt, e.SentAt, e.AttemptCount,
		).Scan(&e.Version, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert email: %w", err)
		}
		return insertOutbox(ctx, tx, e)
	})
}

// Get returns an email of the workspace or dispatch.ErrEmailNotFound.
func (r *Repository) Get(ctx context.Context, workspaceID, id uuid.UUID) (*models.Email, error) {
	q := `SELECT ` + emailColumns + ` FROM emails WHERE id = $1 AND workspace_id = $2`
	e, err := scanEmail(r.pool.QueryRow(ctx, q, id, workspaceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispatch.ErrEmailNotFound
		}
		return nil, err
	}
	return e, nil
}

// Save writes the mutable fields if the row version still matches e.Version.
func (r *Repository) Save(ctx context.Context, e *models.Email) error {
	return update(ctx, r.pool, e)
}

// Requeue saves e and records a pending outbox entry for its new job in one transaction.
func (r *Repository) Requeue(ctx context.Context, e *models.Email) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := update(ctx, tx, e); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, e)
	})
}

func update(ctx context.Context, db querier, e *models.Email) error {
	const q = `UPDATE emails SET status = $1, error_message = $2, response_message = $3, retryable = $4,
		job_id = $5, sent_at = $6, attempt_count = $7, version = version + 1, updated_at = NOW()
		WHERE id = $8 AND workspace_id = $9 AND version = $10
		RETURNING version, updated_at`
	err := db.QueryRow(ctx, q, e.Status, e.ErrorMessage, e.ResponseMessage, e.Retryable,
		e.JobID, e.SentAt, e.AttemptCount, e.ID, e.WorkspaceID, e.Version).
		Scan(&e.Version, &e.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update email: %w", err)
	}
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM emails WHERE id = $1 AND workspace_id = $2)`, e.ID, e.WorkspaceID).Scan(&exists); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if !exists {
		return dispatch.ErrEmailNotFound
	}
	return dispatch.ErrVersionConflict
}

func insertOutbox(ctx context.Context, db querier, e *models.Email) error {
	if e.JobID == nil {
		return nil
	}
	const q = `INSERT INTO email_outbox (job_id, email_id, workspace_id) VALUES ($1, $2, $3)`
	if _, err := db.Exec(ctx, q, *e.JobID, e.ID, e.WorkspaceID); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// MarkDispatched closes the outbox entry of a job.
func (r *Repository) MarkDispatched(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE email_outbox SET dispatched_at = NOW() WHERE job_id = $1 AND dispatched_at IS NULL`, jobID)
	return err
}

// ListFailed returns failed emails below the attempt ceiling, oldest first.
func (r *Repository) ListFailed(ctx context.Context, workspaceID uuid.UUID, maxAttempts int, includePermanent bool) ([]*models.Email, error) {
	q := `SELECT ` + emailColumns + ` FROM emails
		WHERE workspace_id = $1 AND status = 'failed' AND attempt_count < $2 AND (retryable OR $3)
		ORDER BY queued_at`
	rows, err := r.pool.Query(ctx, q, workspaceID, maxAttempts, includePermanent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEmails(rows)
}

// ListUndispatched returns pending outbox entries created at or before createdBefore.
func (r *Repository) ListUndispatched(ctx context.Context, createdBefore time.Time, limit int) ([]dispatch.OutboxEntry, error) {
	const q = `SELECT job_id, email_id, workspace_id, created_at, dispatched_at FROM email_outbox
		WHERE dispatched_at IS NULL AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []dispatch.OutboxEntry
	for rows.Next() {
		var o dispatch.OutboxEntry
		if err := rows.Scan(&o.JobID, &o.EmailID, &o.WorkspaceID, &o.CreatedAt, &o.DispatchedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// List returns one page of the workspace's emails matching filter, and the total match count.
func (r *Repository) List(ctx context.Context, workspaceID uuid.UUID, filter models.EmailFilter) ([]*models.Email, int, error) {
	where, args := filterClause(workspaceID, filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}
	args = append(args, filter.PageSize, filter.Offset())
	q := fmt.Sprintf(`SELECT %s FROM emails WHERE %s ORDER BY queued_at %s, id LIMIT $%d OFFSET $%d`,
		emailColumns, where, order, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collectEmails(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func filterClause(workspaceID uuid.UUID, f models.EmailFilter) (string, []any) {
	conds := []string{"workspace_id = $1"}
	args := []any{workspaceID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Recipient != "" {
		add("array_to_string(to_addresses, ',') ILIKE $%d", "%"+escapeLike(f.Recipient)+"%")
	}
	if f.Subject != "" {
		add("subject ILIKE $%d", "%"+escapeLike(f.Subject)+"%")
	}
	if f.QueuedFrom != nil {
		add("queued_at >= $%d", *f.QueuedFrom)
	}
	if f.QueuedTo != nil {
		add("queued_at <= $%d", *f.QueuedTo)
	}
	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func collectEmails(rows pgx.Rows) ([]*models.Email, error) {
	var list []*models.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func scanEmail(row scanner) (*models.Email, error) {
	var e models.Email
	err := row.Scan(&e.ID, &e.WorkspaceID, &e.EmailConfigurationID, &e.FromAddress, &e.ToAddresses, &e.CcAddresses,
		&e.BccAddresses, &e.DisplayName, &e.Subject, &e.IsHTML, &e.BodyHTML, &e.BodyPlainText, &e.Status,
		&e.ErrorMessage, &e.ResponseMessage, &e.Retryable, &e.JobID, &e.QueuedAt, &e.SentAt, &e.AttemptCount,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
