// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/dopomoha/aid-backend/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database, applies PRAGMAs suitable
// for a concurrent single-process service, and installs query tracing.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early when the parent directory is missing instead of surfacing
	// sqlite's opaque "out of memory (14)".
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// WAL keeps readers unblocked during the approval/take transactions;
	// busy_timeout turns writer contention into short waits, not errors.
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all engine tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.HelpRequest{},
		&domain.FulfillmentProposal{},
		&domain.Delivery{},
		&domain.Idempotency{},
	)
}
