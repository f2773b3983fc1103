// Package dispatch accepts send requests, runs the send-and-log cycle for queued emails and
// re-queues failed ones.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailez/backend/internal/metrics"
	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/internal/transport"
	"github.com/emailez/backend/pkg/queue"
)

// DefaultMaxRetries is the attempt ceiling used by RetryFailedEmails when none is given.
const DefaultMaxRetries = 3

// SendCommand is an inbound send request. WorkspaceID comes from the authenticated caller.
type SendCommand struct {
	WorkspaceID     uuid.UUID `validate:"required"`
	ConfigurationID uuid.UUID `validate:"required"`
	To              []string  `validate:"required,min=1,dive,required,email"`
	Cc              []string  `validate:"omitempty,dive,required,email"`
	Bcc             []string  `validate:"omitempty,dive,required,email"`
	Subject         string    `validate:"required,max=998"`
	Body            string
	IsHTML          bool
	DisplayName     string `validate:"omitempty,max=255"`
}

func (c SendCommand) message() models.OutboundMessage {
	return models.OutboundMessage{
		To:          c.To,
		Cc:          c.Cc,
		Bcc:         c.Bcc,
		Subject:     c.Subject,
		Body:        c.Body,
		IsHTML:      c.IsHTML,
		DisplayName: c.DisplayName,
	}
}

// EnqueueResult is returned for an accepted send. Accepted means durably queued, not delivered.
type EnqueueResult struct {
	Accepted bool
	EmailID  uuid.UUID
	JobID    string
	Message  string
}

// SendJob is one invocation of the send step, as delivered by the runner.
type SendJob struct {
	JobID           string
	EmailID         uuid.UUID
	WorkspaceID     uuid.UUID
	ConfigurationID uuid.UUID
	Message         models.OutboundMessage
}

// RetryOptions controls RetryFailedEmails.
type RetryOptions struct {
	// MaxRetries excludes emails whose attempt count has reached it. Zero means the service default.
	MaxRetries int
	// IncludePermanent also re-queues failures classified as non-retryable.
	IncludePermanent bool
}

// Service is the dispatch core.
type Service struct {
	store      Store
	configs    ConfigLookup
	workspaces WorkspaceLookup
	jobs       JobQueue
	sender     transport.Sender
	archive    BodyArchive
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
	newJobID   func() string
	maxRetries int
}

// Option configures a Service.
type Option func(*Service)

// WithArchive stores full bodies that exceed the row snapshot and uses them on retry.
func WithArchive(a BodyArchive) Option {
	return func(s *Service) { s.archive = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithJobIDs overrides job id generation.
func WithJobIDs(gen func() string) Option {
	return func(s *Service) { s.newJobID = gen }
}

// WithMaxRetries sets the default attempt ceiling for RetryFailedEmails.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewService creates the dispatch service.
func NewService(store Store, configs ConfigLookup, workspaces WorkspaceLookup, jobs JobQueue, sender transport.Sender, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		configs:    configs,
		workspaces: workspaces,
		jobs:       jobs,
		sender:     sender,
		validate:   validator.New(),
		logger:     logger,
		now:        time.Now,
		newJobID:   uuid.NewString,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueEmail validates and persists a send request and submits its job.
// Rejections are returned as *RejectionError and leave nothing persisted.
func (s *Service) EnqueueEmail(ctx context.Context, cmd SendCommand) (*EnqueueResult, error) {
	if err := s.validate.Struct(cmd); err != nil {
		metrics.IncRejected("validation")
		return nil, reject(ErrInvalidRequest, "Invalid send request: "+err.Error())
	}

	cfg, err := s.configs.Get(ctx, cmd.WorkspaceID, cmd.ConfigurationID)
	if err != nil {
		if errors.Is(err, ErrConfigurationNotFound) {
			metrics.IncRejected("configuration_not_found")
			return nil, reject(ErrConfigurationNotFound, "Email configuration not found")
		}
		return nil, fmt.Errorf("lookup configuration: %w", err)
	}
	active, err := s.workspaces.IsActive(ctx, cmd.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("lookup workspace: %w", err)
	}
	if !active {
		metrics.IncRejected("workspace_not_active")
		return nil, reject(ErrWorkspaceNotActive, "Workspace not found or not active")
	}

	msg := cmd.message()
	email := models.NewQueuedEmail(cmd.WorkspaceID, cfg.ID, cfg.FromAddress, msg, s.now())
	jobID := s.newJobID()
	email.JobID = &jobID
	if err := s.store.Create(ctx, email); err != nil {
		return nil, fmt.Errorf("persist email: %w", err)
	}

	if s.archive != nil && email.BodyTruncated() {
		if err := s.archive.PutBody(ctx, email.WorkspaceID, email.ID, msg.Body); err != nil {
			s.logger.Warn("archive body failed", zap.Error(err), zap.String("email_id", email.ID.String()))
		}
	}

	if err := s.submit(ctx, email, jobID, msg); err != nil {
		s.logger.Warn("job submission failed, left for outbox sweeper",
			zap.Error(err), zap.String("email_id", email.ID.String()), zap.String("job_id", jobID))
	}
	metrics.IncEnqueued()
	s.logger.Info("email queued",
		zap.String("email_id", email.ID.String()),
		zap.String("workspace_id", email.WorkspaceID.String()),
		zap.String("job_id", jobID))
	return &EnqueueResult{Accepted: true, EmailID: email.ID, JobID: jobID, Message: "Email queued for sending"}, nil
}

// SendAndLog performs one send attempt for a queued email and records the outcome.
// It returns an error wrapping ErrRetryableFailure when the runner should try again.
func (s *Service) SendAndLog(ctx context.Context, job SendJob) error {
	log := s.logger.With(
		zap.String("email_id", job.EmailID.String()),
		zap.String("workspace_id", job.WorkspaceID.String()),
		zap.String("job_id", job.JobID))

	email, err := s.store.Get(ctx, job.WorkspaceID, job.EmailID)
	if err != nil {
		if errors.Is(err, ErrEmailNotFound) {
			log.Error("email record missing for send job")
			return fmt.Errorf("%w: %w", ErrNonRetryable, err)
		}
		return fmt.Errorf("load email: %w", err)
	}
	if email.Status == models.EmailStatusSent {
		log.Info("email already sent, skipping job")
		return nil
	}
	if !email.OwnedBy(job.JobID) {
		log.Info("job superseded by a newer submission, skipping")
		return nil
	}

	// A job cancelled before the attempt starts is not an attempt.
	if err := ctx.Err(); err != nil {
		log.Info("job cancelled before send attempt", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrRetryableFailure, err)
	}

	email.RecordAttempt(s.now())
	res := s.attempt(ctx, log, job)
	if res.Success {
		email.MarkSent(res.RawResponse)
	} else {
		email.MarkFailed(res.ErrorMessage, res.RawResponse, res.Retryable)
	}

	// The outcome is stored even when the job context was cancelled mid-send.
	if err := s.store.Save(context.WithoutCancel(ctx), email); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			log.Warn("email changed during send, leaving it to the other writer", zap.Int("attempt", email.AttemptCount))
			return nil
		}
		log.Error("persist send outcome failed", zap.Error(err))
		return fmt.Errorf("save email: %w", err)
	}

	if res.Success {
		log.Info("email sent", zap.Int("attempt", email.AttemptCount))
		return nil
	}
	log.Warn("email send failed",
		zap.Int("attempt", email.AttemptCount),
		zap.Bool("retryable", res.Retryable),
		zap.String("error", res.ErrorMessage))
	if res.Retryable {
		return fmt.Errorf("%w: %s", ErrRetryableFailure, res.ErrorMessage)
	}
	return nil
}

// attempt resolves the configuration and calls the transport. Panics become failed results.
func (s *Service) attempt(ctx context.Context, log *zap.Logger, job SendJob) (res transport.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("send panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = transport.Result{ErrorMessage: fmt.Sprintf("Unexpected error during send: %v", r)}
		}
		metrics.ObserveSend(outcome(res), time.Since(start))
	}()

	// Shutdown must not turn the lookup into a recorded failure.
	cfg, err := s.configs.Get(context.WithoutCancel(ctx), job.WorkspaceID, job.ConfigurationID)
	if err != nil {
		if errors.Is(err, ErrConfigurationNotFound) {
			return transport.Result{ErrorMessage: "Email configuration not found"}
		}
		return transport.Result{ErrorMessage: "Failed to load email configuration: " + err.Error(), Retryable: true}
	}
	return s.sender.Send(ctx, job.Message, cfg)
}

func outcome(res transport.Result) string {
	switch {
	case res.Success:
		return "sent"
	case res.Retryable:
		return "retryable"
	default:
		return "permanent"
	}
}

// RetryFailedEmails re-queues failed emails of a workspace whose attempt count is below
// opts.MaxRetries. It returns how many were re-queued.
func (s *Service) RetryFailedEmails(ctx context.Context, workspaceID uuid.UUID, opts RetryOptions) (int, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = s.maxRetries
	}
	failed, err := s.store.ListFailed(ctx, workspaceID, opts.MaxRetries, opts.IncludePermanent)
	if err != nil {
		return 0, fmt.Errorf("list failed emails: %w", err)
	}

	count := 0
	for _, email := range failed {
		if email.Status != models.EmailStatusFailed || email.AttemptCount >= opts.MaxRetries {
			continue
		}
		if !email.Retryable && !opts.IncludePermanent {
			continue
		}
		msg := s.rebuildMessage(ctx, email)
		jobID := s.newJobID()
		email.Requeue(jobID)
		if err := s.store.Requeue(ctx, email); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				s.logger.Info("email changed before re-queue, skipping", zap.String("email_id", email.ID.String()))
				continue
			}
			return count, fmt.Errorf("requeue email %s: %w", email.ID, err)
		}
		if err := s.submit(ctx, email, jobID, msg); err != nil {
			s.logger.Warn("retry job submission failed, left for outbox sweeper",
				zap.Error(err), zap.String("email_id", email.ID.String()), zap.String("job_id", jobID))
		}
		count++
	}

	metrics.AddRequeued(count)
	s.logger.Info("failed emails re-queued",
		zap.String("workspace_id", workspaceID.String()),
		zap.Int("count", count),
		zap.Int("max_retries", opts.MaxRetries))
	return count, nil
}

// SweepOutbox submits jobs whose outbox entries are older than olderThan and still undispatched.
func (s *Service) SweepOutbox(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	entries, err := s.store.ListUndispatched(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}

	swept := 0
	for _, entry := range entries {
		email, err := s.store.Get(ctx, entry.WorkspaceID, entry.EmailID)
		if err != nil && !errors.Is(err, ErrEmailNotFound) {
			return swept, fmt.Errorf("load email %s: %w", entry.EmailID, err)
		}
		if email == nil || email.Status != models.EmailStatusQueued || !email.OwnedBy(entry.JobID) {
			// Stale entry: the email is gone, already processed or owned by a newer job.
			if err := s.store.MarkDispatched(ctx, entry.JobID); err != nil {
				return swept, fmt.Errorf("close stale outbox entry %s: %w", entry.JobID, err)
			}
			continue
		}
		if err := s.submit(ctx, email, entry.JobID, s.rebuildMessage(ctx, email)); err != nil {
			return swept, err
		}
		swept++
	}

	if swept > 0 {
		metrics.AddOutboxSwept(swept)
		s.logger.Info("outbox swept", zap.Int("count", swept))
	}
	return swept, nil
}

// GetEmail returns one email of the workspace.
func (s *Service) GetEmail(ctx context.Context, workspaceID, emailID uuid.UUID) (*models.Email, error) {
	return s.store.Get(ctx, workspaceID, emailID)
}

// ListEmails returns a page of the workspace's emails and the total match count.
func (s *Service) ListEmails(ctx context.Context, workspaceID uuid.UUID, filter models.EmailFilter) ([]*models.Email, int, error) {
	filter.Normalize()
	return s.store.List(ctx, workspaceID, filter)
}

// submit pushes the job and closes its outbox entry.
func (s *Service) submit(ctx context.Context, email *models.Email, jobID string, msg models.OutboundMessage) error {
	payload := queue.EmailPayload{
		EmailID:         email.ID,
		WorkspaceID:     email.WorkspaceID,
		ConfigurationID: email.EmailConfigurationID,
		To:              msg.To,
		Cc:              msg.Cc,
		Bcc:             msg.Bcc,
		Subject:         msg.Subject,
		Body:            msg.Body,
		IsHTML:          msg.IsHTML,
		DisplayName:     msg.DisplayName,
	}
	if _, err := s.jobs.EnqueueEmail(ctx, jobID, payload); err != nil {
		return fmt.Errorf("submit job %s: %w", jobID, err)
	}
	if err := s.store.MarkDispatched(ctx, jobID); err != nil {
		s.logger.Warn("mark outbox dispatched failed", zap.Error(err), zap.String("job_id", jobID))
	}
	return nil
}

// rebuildMessage recovers the message for a resend, preferring the archived full body.
func (s *Service) rebuildMessage(ctx context.Context, email *models.Email) models.OutboundMessage {
	msg := email.Message()
	if s.archive == nil || !email.BodyTruncated() {
		return msg
	}
	body, err := s.archive.GetBody(ctx, email.WorkspaceID, email.ID)
	if err != nil {
		s.logger.Warn("archived body unavailable, resending snapshot", zap.Error(err), zap.String("email_id", email.ID.String()))
		return msg
	}
	msg.Body = body
	return msg
}

// JobFromPayload converts a queue payload into a SendJob.
func JobFromPayload(jobID string, p queue.EmailPayload) SendJob {
	return SendJob{
		JobID:           jobID,
		EmailID:         p.EmailID,
		WorkspaceID:     p.WorkspaceID,
		ConfigurationID: p.ConfigurationID,
		Message: models.OutboundMessage{
			To:          p.To,
			Cc:          p.Cc,
			Bcc:         p.Bcc,
			Subject:     p.Subject,
			Body:        p.Body,
			IsHTML:      p.IsHTML,
			DisplayName: p.DisplayName,
		},
	}
}
