package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillFirstSupports = "2026-08-10_backfill_first_supports"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillFirstSupports, apply: backfillFirstSupports},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillFirstSupports seeds first-support rows for votes written before
// first-voter tracking existed. Backfilled rows use sequence 0, which keeps
// them ahead of any later vote, matching how those early proposals behaved.
func backfillFirstSupports(db *gorm.DB) error {
	return db.Exec(`
		INSERT INTO proposal_first_supports (decision_time_s, eatery_id, eater_address, seq)
		SELECT v.decision_time_s, v.eatery_id, v.eater_address, 0
		FROM proposal_votes v
		WHERE NOT EXISTS (
			SELECT 1 FROM proposal_first_supports f
			WHERE f.decision_time_s = v.decision_time_s
			  AND f.eatery_id = v.eatery_id
			  AND f.eater_address = v.eater_address
		);`).Error
}
