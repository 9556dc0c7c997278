package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/crawler"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/internal/reconcile"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// Delivery is one attempt at a message.
type Delivery struct {
	Message     Message
	Attempt     int
	MaxAttempts int
}

func (d Delivery) final() bool {
	return d.Attempt >= d.MaxAttempts
}

// Retryable reports whether running the scan again could succeed.
// Configuration and credential errors cannot.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, cfg.ErrMissingToken),
		errors.Is(err, githubapi.ErrUnauthorized),
		errors.Is(err, crawler.ErrEmptyUsername),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrScanFinished),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Worker runs one scan attempt and owns every write to its github_scans row
// after creation.
type Worker struct {
	Logger     log.Logger
	Scans      ScanStore
	Scanner    Scanner
	Reconciler Reconciler

	// unfinished holds reconciled results whose completion write failed, by
	// scan id. The next attempt writes them instead of scanning again.
	mu         sync.Mutex
	unfinished map[string]*reconcile.Result
}

func NewWorker(logger log.Logger, scans ScanStore, scanner Scanner, reconciler Reconciler) *Worker {
	return &Worker{
		Logger:     logger,
		Scans:      scans,
		Scanner:    scanner,
		Reconciler: reconciler,
		unfinished: make(map[string]*reconcile.Result),
	}
}

// Handle runs the scan and reconciliation for d. On error the scan is failed
// when the error is permanent or this was the last attempt; otherwise the
// error is recorded and the scan stays processing for the next attempt.
func (w *Worker) Handle(ctx context.Context, d Delivery) (err error) {
	msg := d.Message
	ctx = log.WithScanID(ctx, msg.ScanID)

	if err := w.Scans.MarkProcessing(ctx, msg.ScanID, d.Attempt); err != nil {
		return fmt.Errorf("mark scan processing: %w", err)
	}
	w.Logger.Info(ctx, "Processing scan for %s (attempt %d/%d)", msg.Username, d.Attempt, d.MaxAttempts)

	defer func() {
		if r := recover(); r != nil {
			w.Logger.Error(ctx, "Recovered from panic in scan worker: %v", r)
			err = w.fail(ctx, d, fmt.Errorf("scan worker panic: %v", r))
		}
	}()

	rec, ok := w.takeUnfinished(msg.ScanID)
	if ok {
		w.Logger.Info(ctx, "Resuming completion of scan for %s", msg.Username)
	} else {
		result, err := w.Scanner.Scan(ctx, crawler.ScanRequest{Username: msg.Username}, func(ctx context.Context, progress int) error {
			return w.Scans.UpdateProgress(ctx, msg.ScanID, progress)
		})
		if err != nil {
			return w.fail(ctx, d, err)
		}

		rec, err = w.Reconciler.Reconcile(ctx, msg.UserID, result.Contributions)
		if err != nil {
			return w.fail(ctx, d, err)
		}
	}

	if err := w.Scans.Complete(context.WithoutCancel(ctx), msg.ScanID, rec.Count, rec.TotalPoints, rec.BreakdownByName()); err != nil {
		err = fmt.Errorf("complete scan: %w", err)
		if Retryable(err) && !d.final() {
			w.keepUnfinished(msg.ScanID, rec)
		}
		return w.fail(ctx, d, err)
	}
	w.Logger.Info(ctx, "Scan for %s completed: %d new contributions, %d points", msg.Username, rec.Count, rec.TotalPoints)
	return nil
}

func (w *Worker) keepUnfinished(scanID string, rec *reconcile.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unfinished[scanID] = rec
}

func (w *Worker) takeUnfinished(scanID string) (*reconcile.Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.unfinished[scanID]
	delete(w.unfinished, scanID)
	return rec, ok
}

func (w *Worker) fail(ctx context.Context, d Delivery, cause error) error {
	writeCtx := context.WithoutCancel(ctx)
	if !Retryable(cause) || d.final() {
		if err := w.Scans.Fail(writeCtx, d.Message.ScanID, cause.Error()); err != nil {
			w.Logger.Error(ctx, "Failed to mark scan as failed: %v", err)
		}
		w.Logger.Error(ctx, "Scan for %s failed: %v", d.Message.Username, cause)
		return cause
	}

	if err := w.Scans.RecordAttemptError(writeCtx, d.Message.ScanID, cause.Error()); err != nil {
		w.Logger.Error(ctx, "Failed to record attempt error: %v", err)
	}
	w.Logger.Warn(ctx, "Scan attempt %d/%d for %s failed: %v", d.Attempt, d.MaxAttempts, d.Message.Username, cause)
	return cause
}
