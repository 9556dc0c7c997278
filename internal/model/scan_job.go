package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ScanStatus string

const (
	ScanPending    ScanStatus = "pending"
	ScanProcessing ScanStatus = "processing"
	ScanCompleted  ScanStatus = "completed"
	ScanFailed     ScanStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// ErrScanFinished is returned when a transition targets a scan that already
// reached completed or failed.
var ErrScanFinished = errors.New("scan already finished")

const maxErrorLength = 2000

// ScanJob is one row of github_scans. Only the worker that owns the scan moves
// it past pending.
type ScanJob struct {
	Model
	ID                 string            `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	UserID             string            `json:"user_id" gorm:"column:user_id;type:varchar(64);index;not null"`
	GithubUsername     string            `json:"github_username" gorm:"column:github_username;type:varchar(255);not null"`
	Status             ScanStatus        `json:"status" gorm:"column:status;type:varchar(16);index;not null"`
	Progress           int               `json:"progress" gorm:"column:progress;not null;default:0"`
	ContributionsCount int               `json:"contributions_count" gorm:"column:contributions_count;not null;default:0"`
	TotalPoints        int               `json:"total_points" gorm:"column:total_points;not null;default:0"`
	Breakdown          datatypes.JSONMap `json:"breakdown,omitempty" gorm:"column:breakdown"`
	Error              string            `json:"error,omitempty" gorm:"column:error;type:text"`
	Attempts           int               `json:"attempts" gorm:"column:attempts;not null;default:0"`
	StartedAt          time.Time         `json:"started_at" gorm:"column:started_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty" gorm:"column:completed_at"`
	CreatedAt          time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt          time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func NewScanJob(config *cfg.Config, logger log.Logger, database *db.Database) (*ScanJob, error) {
	return &ScanJob{
		Model: Model{
			Config:   config,
			Logger:   logger,
			Database: database,
		},
	}, nil
}

func (s *ScanJob) TableName() string {
	return "github_scans"
}

// BreakdownPoints reads the stored breakdown back as points per kind. Values
// come back from the JSON column as json.Number.
func (s *ScanJob) BreakdownPoints() map[string]int {
	out := make(map[string]int, len(s.Breakdown))
	for kind, v := range s.Breakdown {
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				out[kind] = int(i)
			}
		case float64:
			out[kind] = int(n)
		case int:
			out[kind] = n
		case int64:
			out[kind] = int(n)
		}
	}
	return out
}

// Create inserts a pending scan for the user and returns it.
func (s *ScanJob) Create(ctx context.Context, userID, githubUsername string) (*ScanJob, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	now := time.Now().UTC()
	row := &ScanJob{
		ID:             uuid.NewString(),
		UserID:         userID,
		GithubUsername: githubUsername,
		Status:         ScanPending,
		Progress:       0,
		StartedAt:      now,
	}
	if err := conn.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create scan for %s: %w", githubUsername, err)
	}
	return row, nil
}

func (s *ScanJob) Find(ctx context.Context, id string) (*ScanJob, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var row ScanJob
	if err := conn.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

// MarkProcessing moves a pending or retried scan to processing and counts the
// attempt.
func (s *ScanJob) MarkProcessing(ctx context.Context, id string, attempt int) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":     ScanProcessing,
		"attempts":   attempt,
		"updated_at": time.Now().UTC(),
	})
}

// UpdateProgress stores progress only when it moves forward.
func (s *ScanJob) UpdateProgress(ctx context.Context, id string, progress int) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	err = conn.Model(&ScanJob{}).
		Where("id = ? AND status = ? AND progress < ?", id, ScanProcessing, progress).
		Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update progress of scan %s: %w", id, err)
	}
	return nil
}

// Complete records the final totals. The breakdown maps kind to points.
func (s *ScanJob) Complete(ctx context.Context, id string, contributions, points int, breakdown map[string]int) error {
	now := time.Now().UTC()
	jsonBreakdown := datatypes.JSONMap{}
	for k, v := range breakdown {
		jsonBreakdown[k] = v
	}
	return s.transition(ctx, id, map[string]interface{}{
		"status":              ScanCompleted,
		"progress":            100,
		"contributions_count": contributions,
		"total_points":        points,
		"breakdown":           jsonBreakdown,
		"error":               "",
		"completed_at":        now,
		"updated_at":          now,
	})
}

// Fail records the error and closes the scan. Progress keeps its last value.
func (s *ScanJob) Fail(ctx context.Context, id, message string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, map[string]interface{}{
		"status":       ScanFailed,
		"error":        TruncateString(message, maxErrorLength),
		"completed_at": now,
		"updated_at":   now,
	})
}

// RecordAttemptError keeps the scan open while a retry is pending.
func (s *ScanJob) RecordAttemptError(ctx context.Context, id, message string) error {
	return s.transition(ctx, id, map[string]interface{}{
		"error":      TruncateString(message, maxErrorLength),
		"updated_at": time.Now().UTC(),
	})
}

// transition applies updates to a scan that has not reached a terminal state.
func (s *ScanJob) transition(ctx context.Context, id string, updates map[string]interface{}) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	result := conn.Model(&ScanJob{}).
		Where("id = ? AND status IN ?", id, []ScanStatus{ScanPending, ScanProcessing}).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update scan %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := s.Find(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("scan %s: %w", id, ErrScanFinished)
}

// Latest returns the most recent scans of a user, newest first.
func (s *ScanJob) Latest(ctx context.Context, userID string, limit int) ([]ScanJob, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var rows []ScanJob
	if err := conn.Where("user_id = ?", userID).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list scans of %s: %w", userID, err)
	}
	return rows, nil
}
