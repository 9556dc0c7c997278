// Package api is the service layer behind the HTTP server and the CLI. It
// queues scans, reports their status, runs ad-hoc synchronous scans and serves
// the read-only points queries.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/contribution"
	"github.com/thep200/github-contrib-scanner/internal/crawler"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/internal/queue"
	"github.com/thep200/github-contrib-scanner/internal/reconcile"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

const (
	defaultSyncRepoLimit = 5
	defaultRecentLimit   = 10
	defaultBoardLimit    = 50
)

var ErrUsernameRequired = errors.New("username is required")

// TokenChecker resolves the login owning the configured GitHub token.
type TokenChecker interface {
	Authenticated(ctx context.Context) (string, error)
}

type ScanAPI struct {
	Logger        log.Logger
	Config        *cfg.Config
	Database      *db.Database
	Token         TokenChecker
	Scanner       queue.Scanner
	Enqueuer      *queue.Enqueuer
	Queue         queue.Queue
	Guard         queue.Guard
	Users         *model.User
	Scans         *model.ScanJob
	Contributions *model.GithubContribution
	Activities    *model.Activity
}

// NewScanAPI wires the models, the GitHub caller and the enqueuer around q.
func NewScanAPI(logger log.Logger, config *cfg.Config, database *db.Database, q queue.Queue, guard queue.Guard) (*ScanAPI, error) {
	caller, err := githubapi.NewCaller(logger, config)
	if err != nil {
		return nil, err
	}
	scanner, err := crawler.NewScanner(logger, config, caller)
	if err != nil {
		return nil, err
	}

	users, _ := model.NewUser(config, logger, database)
	scans, _ := model.NewScanJob(config, logger, database)
	contributions, _ := model.NewGithubContribution(config, logger, database)
	activities, _ := model.NewActivity(config, logger, database)

	return &ScanAPI{
		Logger:        logger,
		Config:        config,
		Database:      database,
		Token:         caller,
		Scanner:       scanner,
		Enqueuer:      queue.NewEnqueuer(logger, config, users, scans, q, guard),
		Queue:         q,
		Guard:         guard,
		Users:         users,
		Scans:         scans,
		Contributions: contributions,
		Activities:    activities,
	}, nil
}

// Migrate creates or updates every table.
func (a *ScanAPI) Migrate() error {
	if a.Database == nil {
		return errors.New("database connection not initialized")
	}
	return a.Database.Migrate(model.Tables()...)
}

// NewRunner builds the background worker consuming this API's queue.
func (a *ScanAPI) NewRunner() (*queue.Runner, error) {
	reconciler, err := reconcile.NewReconciler(a.Logger, a.Config, a.Contributions, a.Activities)
	if err != nil {
		return nil, err
	}
	worker := queue.NewWorker(a.Logger, a.Scans, a.Scanner, reconciler)
	return queue.NewRunner(a.Logger, a.Config, a.Queue, worker, a.Guard), nil
}

func (a *ScanAPI) Enqueue(ctx context.Context, username, userID string) (string, error) {
	return a.Enqueuer.Enqueue(ctx, username, userID)
}

func (a *ScanAPI) Status(ctx context.Context, scanID string) (*model.ScanJob, error) {
	return a.Enqueuer.Status(ctx, scanID)
}

type TokenStatus struct {
	Valid bool   `json:"valid"`
	Login string `json:"login,omitempty"`
	Error string `json:"error,omitempty"`
}

// CheckToken verifies the configured token. A rejected token is reported in
// the status, not as an error.
func (a *ScanAPI) CheckToken(ctx context.Context) (*TokenStatus, error) {
	login, err := a.Token.Authenticated(ctx)
	if err != nil {
		if errors.Is(err, githubapi.ErrUnauthorized) {
			return &TokenStatus{Valid: false, Error: err.Error()}, nil
		}
		return nil, err
	}
	return &TokenStatus{Valid: true, Login: login}, nil
}

type ContributionView struct {
	Type       contribution.Kind `json:"type"`
	Label      string            `json:"label"`
	Title      string            `json:"title"`
	URL        string            `json:"url"`
	Repository string            `json:"repo"`
	Points     int               `json:"points"`
	CreatedAt  time.Time         `json:"created_at"`
}

type SyncScanMeta struct {
	TotalRepos         int    `json:"totalRepos"`
	ScannedRepos       int    `json:"scannedRepos"`
	FailedRepos        int    `json:"failedRepos"`
	TotalContributions int    `json:"totalContributions"`
	TotalPoints        int    `json:"totalPoints"`
	Duration           string `json:"duration"`
}

type SyncScanResult struct {
	Username      string             `json:"username"`
	Contributions []ContributionView `json:"contributions"`
	Meta          SyncScanMeta       `json:"meta"`
}

// ScanNow scans synchronously without persisting anything. The token is
// checked first and the whole scan is bounded by the configured timeout.
func (a *ScanAPI) ScanNow(ctx context.Context, username string, repoLimit int) (*SyncScanResult, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if repoLimit <= 0 {
		repoLimit = defaultSyncRepoLimit
	}

	ctx, cancel := context.WithTimeout(ctx, a.Config.Http.ScanTimeout())
	defer cancel()

	if _, err := a.Token.Authenticated(ctx); err != nil {
		return nil, fmt.Errorf("check github token: %w", err)
	}

	result, err := a.Scanner.Scan(ctx, crawler.ScanRequest{Username: username, RepoLimit: repoLimit}, nil)
	if err != nil {
		return nil, err
	}

	views := make([]ContributionView, 0, len(result.Contributions))
	for _, c := range result.Contributions {
		views = append(views, ContributionView{
			Type:       c.Kind,
			Label:      c.Label(),
			Title:      c.Title,
			URL:        c.URL,
			Repository: c.Repository,
			Points:     c.Points,
			CreatedAt:  c.CreatedAt,
		})
	}

	return &SyncScanResult{
		Username:      username,
		Contributions: views,
		Meta: SyncScanMeta{
			TotalRepos:         result.Listed,
			ScannedRepos:       len(result.Repositories),
			FailedRepos:        result.Failed(),
			TotalContributions: len(views),
			TotalPoints:        contribution.TotalPoints(result.Contributions),
			Duration:           result.Duration.String(),
		},
	}, nil
}

func (a *ScanAPI) Leaderboard(ctx context.Context, activityType string, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultBoardLimit
	}
	return a.Activities.Leaderboard(ctx, activityType, limit)
}

func (a *ScanAPI) UserPoints(ctx context.Context, userID string) (*model.PointsSummary, error) {
	return a.Activities.UserPoints(ctx, userID)
}

func (a *ScanAPI) RecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return a.Activities.Recent(ctx, userID, limit)
}

func (a *ScanAPI) ContributionHistory(ctx context.Context, userID string, limit int) ([]model.GithubContribution, error) {
	return a.Contributions.History(ctx, userID, limit)
}

// DatabaseStatus pings the store.
func (a *ScanAPI) DatabaseStatus(ctx context.Context) error {
	if a.Database == nil {
		return errors.New("database not initialized")
	}
	return a.Database.Ping()
}

func (a *ScanAPI) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Database != nil {
		errs = append(errs, a.Database.Close())
	}
	return errors.Join(errs...)
}
