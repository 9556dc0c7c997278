package queue

import (
	"context"

	"github.com/thep200/github-contrib-scanner/internal/contribution"
	"github.com/thep200/github-contrib-scanner/internal/crawler"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/internal/reconcile"
)

// ScanStore is the github_scans table as the queue uses it.
type ScanStore interface {
	Create(ctx context.Context, userID, githubUsername string) (*model.ScanJob, error)
	Find(ctx context.Context, id string) (*model.ScanJob, error)
	MarkProcessing(ctx context.Context, id string, attempt int) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	Complete(ctx context.Context, id string, contributions, points int, breakdown map[string]int) error
	Fail(ctx context.Context, id, message string) error
	RecordAttemptError(ctx context.Context, id, message string) error
}

type UserStore interface {
	Ensure(ctx context.Context, id, githubUsername string) error
}

type Scanner interface {
	Scan(ctx context.Context, req crawler.ScanRequest, progress crawler.ProgressFunc) (*crawler.ScanResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, userID string, found []contribution.Contribution) (*reconcile.Result, error)
}
