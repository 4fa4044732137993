package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cliptally/backend/internal/ledger"
)

const migrationTrimUploaderDisplay = "2026-05-12_trim_uploader_display"

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
		{name: migrationTrimUploaderDisplay, apply: trimUploaderDisplay},
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

// Early relay builds forwarded display names without trimming; stored labels
// from that era carry stray whitespace.
func trimUploaderDisplay(db *gorm.DB) error {
	return db.Model(&ledger.Entry{}).
		Where("first_uploader_display <> trim(first_uploader_display)").
		Update("first_uploader_display", gorm.Expr("trim(first_uploader_display)")).Error
}
