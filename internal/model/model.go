package model

import (
	"context"
	"errors"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// Model carries the dependencies every table handle needs. None of its fields
// are persisted.
type Model struct {
	Config   *cfg.Config  `gorm:"-" json:"-"`
	Logger   log.Logger   `gorm:"-" json:"-"`
	Database *db.Database `gorm:"-" json:"-"`
}

func (m *Model) conn(ctx context.Context) (*gorm.DB, error) {
	if m.Database == nil {
		return nil, errors.New("model has no database")
	}
	gdb, err := m.Database.Db()
	if err != nil {
		return nil, err
	}
	return gdb.WithContext(ctx), nil
}

// Tables lists every persisted row type, in migration order.
func Tables() []interface{} {
	return []interface{}{
		&User{},
		&ScanJob{},
		&GithubContribution{},
		&Activity{},
	}
}
