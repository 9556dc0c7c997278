package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

var (
	ErrInvalidRequest = errors.New("username and user id are required")
	ErrAlreadyQueued  = errors.New("scan is already queued")
)

type Enqueuer struct {
	Logger      log.Logger
	Users       UserStore
	Scans       ScanStore
	Queue       Queue
	Guard       Guard
	InflightTTL time.Duration
}

func NewEnqueuer(logger log.Logger, config *cfg.Config, users UserStore, scans ScanStore, queue Queue, guard Guard) *Enqueuer {
	return &Enqueuer{
		Logger:      logger,
		Users:       users,
		Scans:       scans,
		Queue:       queue,
		Guard:       guard,
		InflightTTL: time.Duration(config.Queue.InflightTTL) * time.Second,
	}
}

// Enqueue records a pending scan and submits it. The returned id is what
// pollers pass to Status.
func (e *Enqueuer) Enqueue(ctx context.Context, username, userID string) (string, error) {
	username = strings.TrimSpace(username)
	userID = strings.TrimSpace(userID)
	if username == "" || userID == "" {
		return "", ErrInvalidRequest
	}

	if err := e.Users.Ensure(ctx, userID, username); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	scan, err := e.Scans.Create(ctx, userID, username)
	if err != nil {
		return "", err
	}
	ctx = log.WithScanID(ctx, scan.ID)

	ok, err := e.Guard.Acquire(ctx, scan.ID, e.InflightTTL)
	if err != nil {
		e.abandon(ctx, scan.ID, err)
		return "", fmt.Errorf("acquire scan guard: %w", err)
	}
	if !ok {
		e.abandon(ctx, scan.ID, ErrAlreadyQueued)
		return "", fmt.Errorf("scan %s: %w", scan.ID, ErrAlreadyQueued)
	}

	msg := Message{
		ScanID:     scan.ID,
		UserID:     userID,
		Username:   username,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := e.Queue.Submit(ctx, msg); err != nil {
		_ = e.Guard.Release(ctx, scan.ID)
		e.abandon(ctx, scan.ID, err)
		return "", fmt.Errorf("submit scan: %w", err)
	}

	e.Logger.Info(ctx, "Queued scan for %s (user %s)", username, userID)
	return scan.ID, nil
}

// Status returns the current snapshot of a scan.
func (e *Enqueuer) Status(ctx context.Context, scanID string) (*model.ScanJob, error) {
	return e.Scans.Find(ctx, scanID)
}

// abandon closes a scan that never reached the queue so pollers do not wait
// on it.
func (e *Enqueuer) abandon(ctx context.Context, scanID string, cause error) {
	if err := e.Scans.Fail(ctx, scanID, "failed to queue scan: "+cause.Error()); err != nil {
		e.Logger.Error(ctx, "Failed to mark scan %s as failed: %v", scanID, err)
	}
}
