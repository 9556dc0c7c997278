package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"gorm.io/gorm"
)

type User struct {
	Model
	ID             string    `json:"id" gorm:"column:id;type:varchar(64);primaryKey"`
	Name           string    `json:"name" gorm:"column:name;type:varchar(255)"`
	Email          string    `json:"email" gorm:"column:email;type:varchar(255)"`
	AvatarURL      string    `json:"avatar_url" gorm:"column:avatar_url;type:varchar(512)"`
	GithubUsername string    `json:"github_username" gorm:"column:github_username;type:varchar(255);index"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func NewUser(config *cfg.Config, logger log.Logger, database *db.Database) (*User, error) {
	return &User{
		Model: Model{
			Config:   config,
			Logger:   logger,
			Database: database,
		},
	}, nil
}

func (u *User) TableName() string {
	return "users"
}

// Ensure makes sure a users row exists for id and records its GitHub login.
func (u *User) Ensure(ctx context.Context, id, githubUsername string) error {
	conn, err := u.conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	var existing User
	err = conn.Where("id = ?", id).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := &User{
			ID:             id,
			Name:           githubUsername,
			GithubUsername: githubUsername,
		}
		if err := conn.Create(row).Error; err != nil {
			return fmt.Errorf("failed to create user %s: %w", id, err)
		}
		u.Logger.Info(ctx, "Created user %s for %s", id, githubUsername)
		return nil
	case err != nil:
		return fmt.Errorf("failed to load user %s: %w", id, err)
	}

	if existing.GithubUsername == githubUsername {
		return nil
	}
	if err := conn.Model(&User{}).Where("id = ?", id).Update("github_username", githubUsername).Error; err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	return nil
}

func (u *User) Find(ctx context.Context, id string) (*User, error) {
	conn, err := u.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var row User
	if err := conn.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}
