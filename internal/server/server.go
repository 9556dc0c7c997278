package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thep200/github-contrib-scanner/api"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// Service is what the HTTP layer needs from the scan API.
type Service interface {
	Enqueue(ctx context.Context, username, userID string) (string, error)
	Status(ctx context.Context, scanID string) (*model.ScanJob, error)
	ScanNow(ctx context.Context, username string, repoLimit int) (*api.SyncScanResult, error)
	CheckToken(ctx context.Context) (*api.TokenStatus, error)
	Leaderboard(ctx context.Context, activityType string, limit int) ([]model.LeaderboardEntry, error)
	UserPoints(ctx context.Context, userID string) (*model.PointsSummary, error)
	RecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error)
	ContributionHistory(ctx context.Context, userID string, limit int) ([]model.GithubContribution, error)
	DatabaseStatus(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	Logger  log.Logger
	Config  *cfg.Config
	Service Service
	server  *http.Server
}

func NewServer(logger log.Logger, config *cfg.Config, service Service) (*Server, error) {
	if service == nil {
		return nil, errors.New("server requires a service")
	}
	return &Server{
		Logger:  logger,
		Config:  config,
		Service: service,
	}, nil
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.Config.Http.Port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// The synchronous scan may hold the connection for the whole scan timeout.
		WriteTimeout: s.Config.Http.ScanTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.Logger.Info(context.Background(), "Starting API server on port %d", s.Config.Http.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.Logger.Info(ctx, "Shutting down API server")
		return s.server.Shutdown(ctx)
	}
	return nil
}
