package queue

import (
	"context"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/limiter"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}

// Runner consumes the queue and retries failed attempts with exponential
// backoff. Every attempt re-runs the whole scan.
type Runner struct {
	Logger      log.Logger
	Queue       Queue
	Handler     Handler
	Guard       Guard
	Attempts    int
	Backoff     time.Duration
	Sleep       limiter.SleepFunc
	OnCompleted func(ctx context.Context, msg Message)
	OnFailed    func(ctx context.Context, msg Message, err error)
}

func NewRunner(logger log.Logger, config *cfg.Config, queue Queue, handler Handler, guard Guard) *Runner {
	r := &Runner{
		Logger:   logger,
		Queue:    queue,
		Handler:  handler,
		Guard:    guard,
		Attempts: config.Queue.Attempts,
		Backoff:  config.Queue.Backoff(),
		Sleep:    limiter.Sleep,
	}
	r.OnCompleted = func(ctx context.Context, msg Message) {
		r.Logger.Info(log.WithScanID(ctx, msg.ScanID), "Job completed for %s", msg.Username)
	}
	r.OnFailed = func(ctx context.Context, msg Message, err error) {
		r.Logger.Error(log.WithScanID(ctx, msg.ScanID), "Job failed for %s: %v", msg.Username, err)
	}
	return r
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.Logger.Info(ctx, "Scan worker started (attempts %d, backoff %v)", r.Attempts, r.Backoff)
	return r.Queue.Consume(ctx, r.Process)
}

// Process handles msg until it succeeds, fails permanently or runs out of
// attempts.
func (r *Runner) Process(ctx context.Context, msg Message) error {
	if r.Guard != nil {
		defer func() {
			if err := r.Guard.Release(context.WithoutCancel(ctx), msg.ScanID); err != nil {
				r.Logger.Warn(ctx, "Failed to release guard for scan %s: %v", msg.ScanID, err)
			}
		}()
	}

	attempt := max(msg.Attempt, 1)
	maxAttempts := max(r.Attempts, 1)
	for {
		err := r.Handler.Handle(ctx, Delivery{Message: msg, Attempt: attempt, MaxAttempts: maxAttempts})
		if err == nil {
			if r.OnCompleted != nil {
				r.OnCompleted(ctx, msg)
			}
			return nil
		}
		if !Retryable(err) || attempt >= maxAttempts {
			if r.OnFailed != nil {
				r.OnFailed(ctx, msg, err)
			}
			return err
		}

		delay := r.Backoff << (attempt - 1)
		r.Logger.Warn(log.WithScanID(ctx, msg.ScanID), "Retrying scan in %v (attempt %d/%d)", delay, attempt+1, maxAttempts)
		if err := r.Sleep(ctx, delay); err != nil {
			return err
		}
		attempt++
	}
}
