package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/notify"
	"github.com/spec-kit/servicedesk/internal/observability"
)

// JobQueue is the email backlog the worker drains.
type JobQueue interface {
	Enqueue(ctx context.Context, job notify.EmailJob) error
	Dequeue(ctx context.Context, timeout time.Duration) (*notify.EmailJob, error)
}

// Mailer delivers one email.
type Mailer interface {
	Enabled() bool
	Send(ctx context.Context, job notify.EmailJob) error
}

const maxRetryBackoff = time.Minute

// EmailWorker drains the email queue and delivers jobs, re-queueing failures
// after an exponential backoff.
type EmailWorker struct {
	queue        JobQueue
	mailer       Mailer
	maxRetries   int
	pollTimeout  time.Duration
	errBackoff   time.Duration
	retryBackoff time.Duration
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewEmailWorker builds a worker.
func NewEmailWorker(queue JobQueue, mailer Mailer, maxRetries int, metrics *observability.Metrics, logger *zap.Logger) *EmailWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailWorker{
		queue:        queue,
		mailer:       mailer,
		maxRetries:   maxRetries,
		pollTimeout:  5 * time.Second,
		errBackoff:   time.Second,
		retryBackoff: 2 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run processes jobs until ctx is cancelled.
func (w *EmailWorker) Run(ctx context.Context) {
	w.logger.Info("email worker started", zap.Bool("smtp_enabled", w.mailer.Enabled()))
	defer w.logger.Info("email worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue email job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, *job)
	}
}

func (w *EmailWorker) process(ctx context.Context, job notify.EmailJob) {
	if !w.mailer.Enabled() {
		w.metrics.RecordNotification("email", "dropped")
		w.logger.Info("smtp not configured; dropping email",
			zap.String("to", job.To),
			zap.String("subject", job.Subject),
			zap.String("notification_id", job.NotificationID))
		return
	}

	err := w.mailer.Send(ctx, job)
	if err == nil {
		w.metrics.RecordNotification("email", "sent")
		return
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown mid-send; keep the job for the next process.
		w.requeue(context.WithoutCancel(ctx), job)
		return
	}

	if job.Retries < w.maxRetries {
		job.Retries++
		delay := w.retryDelay(job.Retries)
		w.metrics.RecordNotification("email", "retried")
		w.logger.Warn("send email failed; retrying",
			zap.String("to", job.To),
			zap.Int("retries", job.Retries),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			w.requeue(context.WithoutCancel(ctx), job)
		case <-time.After(delay):
			w.requeue(ctx, job)
		}
		return
	}
	w.metrics.RecordNotification("email", "failed")
	w.logger.Error("send email failed permanently",
		zap.String("to", job.To),
		zap.String("notification_id", job.NotificationID),
		zap.Int("retries", job.Retries),
		zap.Error(err))
}

// retryDelay doubles per attempt: retryBackoff, 2x, 4x, ... up to maxRetryBackoff.
func (w *EmailWorker) retryDelay(retries int) time.Duration {
	delay := w.retryBackoff
	for i := 1; i < retries && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxRetryBackoff)
}

func (w *EmailWorker) requeue(ctx context.Context, job notify.EmailJob) {
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Error("requeue email job", zap.String("to", job.To), zap.Error(err))
	}
}
