package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"gorm.io/gorm"
)

const ActivityTypeGithub = "github"

// Activity is the user-facing feed entry derived from a contribution.
type Activity struct {
	Model
	ID          string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	UserID      string    `json:"user_id" gorm:"column:user_id;type:varchar(64);index;not null"`
	Type        string    `json:"type" gorm:"column:type;type:varchar(32);index;not null"`
	Title       string    `json:"title" gorm:"column:title;type:varchar(255);not null"`
	Description string    `json:"description" gorm:"column:description;type:text"`
	Points      int       `json:"points" gorm:"column:points;not null"`
	Timestamp   time.Time `json:"timestamp" gorm:"column:timestamp;index"`
}

type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	GithubUsername string `json:"github_username"`
	AvatarURL      string `json:"avatar_url"`
	Points         int    `json:"points"`
}

type PointsSummary struct {
	UserID string         `json:"user_id"`
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

func NewActivity(config *cfg.Config, logger log.Logger, database *db.Database) (*Activity, error) {
	return &Activity{
		Model: Model{
			Config:   config,
			Logger:   logger,
			Database: database,
		},
	}, nil
}

func (a *Activity) TableName() string {
	return "activities"
}

func (a *Activity) CreateBatch(ctx context.Context, rows []Activity) error {
	if len(rows) == 0 {
		return nil
	}
	conn, err := a.conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		rows[i].Title = TruncateString(rows[i].Title, 255)
	}

	return conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, len(rows)).Error; err != nil {
			return fmt.Errorf("failed to batch create activities: %w", err)
		}
		return nil
	})
}

// Recent returns the user's latest activities.
func (a *Activity) Recent(ctx context.Context, userID string, limit int) ([]Activity, error) {
	conn, err := a.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var rows []Activity
	if err := conn.Where("user_id = ?", userID).Order("timestamp DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list activities of %s: %w", userID, err)
	}
	return rows, nil
}

// Leaderboard ranks users by summed activity points. An empty activityType
// ranks over every type.
func (a *Activity) Leaderboard(ctx context.Context, activityType string, limit int) ([]LeaderboardEntry, error) {
	conn, err := a.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	query := conn.Table("activities").
		Select("activities.user_id AS user_id, users.name AS name, users.github_username AS github_username, users.avatar_url AS avatar_url, SUM(activities.points) AS points").
		Joins("LEFT JOIN users ON users.id = activities.user_id")
	if activityType != "" {
		query = query.Where("activities.type = ?", activityType)
	}
	query = query.
		Group("activities.user_id, users.name, users.github_username, users.avatar_url").
		Order("points DESC").
		Order("activities.user_id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []LeaderboardEntry
	if err := query.Scan(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to build leaderboard: %w", err)
	}

	// Ties share a rank.
	for i := range entries {
		if i > 0 && entries[i].Points == entries[i-1].Points {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries, nil
}

// UserPoints sums the user's activity points overall and per type.
func (a *Activity) UserPoints(ctx context.Context, userID string) (*PointsSummary, error) {
	conn, err := a.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var rows []struct {
		Type   string
		Points int
	}
	err = conn.Table("activities").
		Select("type, SUM(points) AS points").
		Where("user_id = ?", userID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum points of %s: %w", userID, err)
	}

	summary := &PointsSummary{UserID: userID, ByType: make(map[string]int, len(rows))}
	for _, r := range rows {
		summary.ByType[r.Type] = r.Points
		summary.Total += r.Points
	}
	return summary, nil
}
