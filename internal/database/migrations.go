package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/creators"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const migrationBackfillCreatorRegistry = "2026-10-19_backfill_creator_registry"

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
		{name: migrationBackfillCreatorRegistry, apply: backfillCreatorRegistry},
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

type creatorActivity struct {
	CreatorID      string
	FirstCreatedMs int64
	LastCreatedMs  int64
}

// backfillCreatorRegistry registers every creator that already owns links, first seen at its oldest link.
func backfillCreatorRegistry(db *gorm.DB) error {
	var activity []creatorActivity
	err := db.Model(&links.LinkRecord{}).
		Select("creator_id, MIN(created_at_ms) AS first_created_ms, MAX(created_at_ms) AS last_created_ms").
		Group("creator_id").
		Scan(&activity).Error
	if err != nil {
		return err
	}
	if len(activity) == 0 {
		return nil
	}
	records := make([]creators.Creator, 0, len(activity))
	for _, entry := range activity {
		records = append(records, creators.Creator{
			CreatorID:         entry.CreatorID,
			CreatedAtSeconds:  entry.FirstCreatedMs / 1000,
			LastSeenAtSeconds: entry.LastCreatedMs / 1000,
		})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error
}
