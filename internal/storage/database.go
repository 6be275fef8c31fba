package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM connection and exposes the persistence
// operations for batches, jobs, queue messages, and dead letters.
type Database struct {
	db  *gorm.DB
	cfg config.DatabaseConfig
}

func NewDatabase(cfg config.DatabaseConfig) (*Database, error) {
	// Ensure data directory exists for SQLite
	if cfg.Type == "sqlite" && cfg.DSN != ":memory:" && !strings.HasPrefix(cfg.DSN, "file::memory:") {
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dialer, err := NewDialectDialer(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialer.Dialect(), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dialer.ConfigureConnection(db); err != nil {
		return nil, fmt.Errorf("failed to configure connection: %w", err)
	}

	return &Database{
		db:  db,
		cfg: cfg,
	}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the underlying GORM handle
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Migrate creates or updates the schema for all domain tables
func (d *Database) Migrate() error {
	return d.db.AutoMigrate(
		&models.Batch{},
		&models.Job{},
		&models.QueueMessage{},
		&models.DeadLetterEntry{},
		&models.DocumentOutcome{},
	)
}
