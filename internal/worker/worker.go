package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/metrics"
	"github.com/emailez/backend/pkg/queue"
)

// Dispatcher runs one send attempt.
type Dispatcher interface {
	SendAndLog(ctx context.Context, job dispatch.SendJob) error
}

// JobQueue is the runner's view of the job queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) (bool, error)
	Discard(ctx context.Context, job *queue.Job) error
	PromoteDue(ctx context.Context) (int, error)
}

// Result of handling one job.
const (
	ResultDone      = "done"
	ResultRetry     = "retry_scheduled"
	ResultDiscarded = "discarded"
)

// EmailProcessor processes send jobs: decode payload, send and log, schedule retries on error.
type EmailProcessor struct {
	dispatcher Dispatcher
	queue      JobQueue
	logger     *zap.Logger
}

// NewEmailProcessor creates an email job processor.
func NewEmailProcessor(dispatcher Dispatcher, q JobQueue, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{dispatcher: dispatcher, queue: q, logger: logger}
}

// Process executes one send job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeEmailPayload(job)
	if err != nil {
		return fmt.Errorf("%w: %w", dispatch.ErrNonRetryable, err)
	}
	return p.dispatcher.SendAndLog(ctx, dispatch.JobFromPayload(job.ID, payload))
}

// Handle processes a job and applies the retry policy to its error.
func (p *EmailProcessor) Handle(ctx context.Context, job *queue.Job) string {
	err := p.Process(ctx, job)
	// Queue bookkeeping must finish even when shutdown cancelled ctx.
	qctx := context.WithoutCancel(ctx)
	result := ResultDone
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrNonRetryable):
		p.logger.Error("job failed permanently", zap.String("job_id", job.ID), zap.Error(err))
		job.LastError = err.Error()
		if dErr := p.queue.Discard(qctx, job); dErr != nil {
			p.logger.Error("discard failed", zap.String("job_id", job.ID), zap.Error(dErr))
		}
		result = ResultDiscarded
	default:
		p.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		scheduled, rErr := p.queue.Retry(qctx, job, err)
		if rErr != nil {
			p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(rErr))
		}
		if scheduled {
			result = ResultRetry
		} else {
			result = ResultDiscarded
		}
	}
	metrics.IncJobFinished(result)
	return result
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		p.Handle(ctx, job)
	}
}

// RunPromoter moves due delayed retries onto the ready list every interval.
func (p *EmailProcessor) RunPromoter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := p.queue.PromoteDue(ctx)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Warn("promote delayed jobs failed", zap.Error(err))
					}
					break
				}
				if n < queue.PromoteBatch {
					break
				}
			}
		}
	}
}

// Start runs n worker loops plus the promoter and blocks until ctx is cancelled and all loops return.
func (p *EmailProcessor) Start(ctx context.Context, n int, promoteInterval time.Duration) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.RunPromoter(ctx, promoteInterval)
	}()
	wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
