package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scarvalhojr/dlunch/internal/decisions"
	"github.com/scarvalhojr/dlunch/internal/eaters"
	"github.com/scarvalhojr/dlunch/internal/eateries"
	"github.com/scarvalhojr/dlunch/internal/events"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The pool is capped at a single connection so mutations serialize at the
// database as well as in the engine.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates or updates the schema and applies the named one-off
// migrations. Split out of OpenSQLite so tests can run it against their own
// in-memory handles.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&eaters.Eater{},
		&eateries.Eatery{},
		&decisions.Proposal{},
		&decisions.Vote{},
		&decisions.FirstSupport{},
		&decisions.DayCounter{},
		&decisions.RewardEntry{},
		&events.Event{},
		&migrationRecord{},
	); err != nil {
		return err
	}

	return applyMigrations(db, logger)
}
