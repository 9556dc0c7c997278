package model

import (
	"context"
	"fmt"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GithubContribution is a scored contribution. (user_id, url) is unique, so a
// contribution is recorded at most once per user.
type GithubContribution struct {
	Model
	ID            uint      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID        string    `json:"user_id" gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uniq_contribution_user_url,priority:1"`
	Kind          string    `json:"type" gorm:"column:type;type:varchar(32);not null"`
	Title         string    `json:"title" gorm:"column:title;type:varchar(512);not null"`
	URL           string    `json:"url" gorm:"column:url;type:varchar(512);not null;uniqueIndex:uniq_contribution_user_url,priority:2"`
	Repository    string    `json:"repository" gorm:"column:repository;type:varchar(255);not null"`
	Points        int       `json:"points" gorm:"column:points;not null"`
	ContributedAt time.Time `json:"contributed_at" gorm:"column:contributed_at"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at"`
}

func NewGithubContribution(config *cfg.Config, logger log.Logger, database *db.Database) (*GithubContribution, error) {
	return &GithubContribution{
		Model: Model{
			Config:   config,
			Logger:   logger,
			Database: database,
		},
	}, nil
}

func (c *GithubContribution) TableName() string {
	return "github_contributions"
}

// ExistingURLs loads every url already recorded for the user.
func (c *GithubContribution) ExistingURLs(ctx context.Context, userID string) (map[string]struct{}, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var urls []string
	if err := conn.Model(&GithubContribution{}).Where("user_id = ?", userID).Pluck("url", &urls).Error; err != nil {
		return nil, fmt.Errorf("failed to load contributions of %s: %w", userID, err)
	}

	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		seen[u] = struct{}{}
	}
	return seen, nil
}

// CreateBatch inserts rows in one transaction and returns the rows actually
// written. Rows colliding with an existing (user_id, url) pair are skipped and
// left out of the result.
func (c *GithubContribution) CreateBatch(ctx context.Context, rows []GithubContribution) ([]GithubContribution, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	now := time.Now().UTC()
	for i := range rows {
		rows[i].Title = TruncateString(rows[i].Title, 500)
		rows[i].CreatedAt = now
	}

	inserted := make([]GithubContribution, 0, len(rows))
	err = conn.Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "url"}},
				DoNothing: true,
			}).Create(&rows[i])
			if result.Error != nil {
				return fmt.Errorf("failed to create contribution %s: %w", rows[i].URL, result.Error)
			}
			if result.RowsAffected > 0 {
				inserted = append(inserted, rows[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to batch create contributions: %w", err)
	}
	return inserted, nil
}

// History lists a user's contributions, newest record first.
func (c *GithubContribution) History(ctx context.Context, userID string, limit int) ([]GithubContribution, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	query := conn.Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []GithubContribution
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list contributions of %s: %w", userID, err)
	}
	return rows, nil
}
