package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEmails is the Redis list key for email jobs ready to run.
	QueueEmails = "worker:emails"
	// QueueEmailsDelayed is the sorted set of email jobs waiting for their retry time (score = unix ms).
	QueueEmailsDelayed = "worker:emails:delayed"
	// QueueDLQ is the dead-letter list for jobs that will not be run again.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of automatic re-runs after the first failure.
	MaxRetries = 3
	// DequeueTimeout bounds each blocking pop so workers notice shutdown.
	DequeueTimeout = 5 * time.Second
	// RetryBackoff is the pause after a Redis error in a worker loop.
	RetryBackoff = 2 * time.Second
	// PromoteBatch is the maximum number of delayed jobs moved per promotion.
	PromoteBatch = 100
)

// RetryDelays holds the wait before retry n (1-based).
var RetryDelays = []time.Duration{30 * time.Second, 120 * time.Second, 300 * time.Second}

// RetryDelay returns the wait before the given retry and whether that retry is allowed.
func RetryDelay(retry int) (time.Duration, bool) {
	if retry < 1 || retry > MaxRetries || retry > len(RetryDelays) {
		return 0, false
	}
	return RetryDelays[retry-1], true
}

// JobType identifies the job kind.
type JobType string

const (
	JobTypeSendEmail JobType = "send_email"
)

// EmailPayload is the payload for send jobs. It carries the full message body.
type EmailPayload struct {
	EmailID         uuid.UUID `json:"email_id"`
	WorkspaceID     uuid.UUID `json:"workspace_id"`
	ConfigurationID uuid.UUID `json:"configuration_id"`
	To              []string  `json:"to"`
	Cc              []string  `json:"cc,omitempty"`
	Bcc             []string  `json:"bcc,omitempty"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
	IsHTML          bool      `json:"is_html"`
	DisplayName     string    `json:"display_name,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	LastError string          `json:"last_error,omitempty"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, now: time.Now}
}

// EnqueueEmail pushes a send job. An empty jobID gets a generated one; the ID used is returned.
func (q *Queue) EnqueueEmail(ctx context.Context, jobID string, payload EmailPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}
	job := Job{
		ID:        jobID,
		Type:      JobTypeSendEmail,
		Payload:   body,
		Attempt:   0,
		CreatedAt: q.now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueEmails, raw).Err(); err != nil {
		return "", fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued email job", zap.String("job_id", job.ID), zap.String("email_id", payload.EmailID.String()))
	return job.ID, nil
}

// Dequeue blocks up to DequeueTimeout for a ready job. It returns nil, nil when none arrived.
// An entry that is not a job envelope is moved to the DLQ as-is.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, DequeueTimeout, QueueEmails).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("undecodable job moved to dlq", zap.String("raw", result[1]), zap.Error(err))
		if pErr := q.client.RPush(context.WithoutCancel(ctx), QueueDLQ, result[1]).Err(); pErr != nil {
			return nil, fmt.Errorf("dlq undecodable job: %w", pErr)
		}
		return nil, nil
	}
	return &job, nil
}

// Retry schedules the job's next attempt after its backoff delay. Once MaxRetries is used up the
// job is moved to the DLQ instead and scheduled is false.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (scheduled bool, err error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	delay, ok := RetryDelay(job.Attempt)
	if !ok {
		if err := q.Discard(ctx, job); err != nil {
			return false, err
		}
		return false, nil
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	runAt := q.now().Add(delay)
	if err := q.client.ZAdd(ctx, QueueEmailsDelayed, redis.Z{Score: float64(runAt.UnixMilli()), Member: raw}).Err(); err != nil {
		return false, fmt.Errorf("zadd: %w", err)
	}
	q.logger.Info("job retry scheduled", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Duration("delay", delay))
	return true, nil
}

// Discard parks the job on the DLQ. Jobs there are never run again.
func (q *Queue) Discard(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.String("last_error", job.LastError))
	return nil
}

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('RPUSH', KEYS[2], member)
end
return #due
`)

// PromoteDue moves delayed jobs whose retry time has passed onto the ready list.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.client, []string{QueueEmailsDelayed, QueueEmails}, q.now().UnixMilli(), PromoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	if n > 0 {
		q.logger.Debug("promoted delayed jobs", zap.Int("count", n))
	}
	return n, nil
}

// DecodeEmailPayload unmarshals a send job's payload.
func DecodeEmailPayload(job *Job) (EmailPayload, error) {
	var p EmailPayload
	if job.Type != JobTypeSendEmail {
		return p, fmt.Errorf("unknown job type: %s", job.Type)
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}
