// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/db"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// Config returns a validated configuration backed by in-memory SQLite.
func Config() *cfg.Config {
	config := &cfg.Config{
		Database:  cfg.Database{Driver: "sqlite", Database: ":memory:"},
		GithubApi: cfg.GithubApi{AccessToken: "test-token", Organization: "devsnorte"},
	}
	config.ApplyDefaults()
	return config
}

// OpenDatabase opens a private in-memory SQLite database and migrates tables.
func OpenDatabase(t *testing.T, config *cfg.Config, tables ...interface{}) *db.Database {
	t.Helper()

	database, err := db.NewDatabase(config)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(tables...); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func Logger() log.Logger {
	logger, _ := log.NewCslLogger()
	return logger
}
