package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/cliptally/backend/internal/ledger"
)

func TestApplyMigrationsTrimsUploaderDisplay(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&ledger.Entry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seed := ledger.Entry{
		RoomID:               100,
		ContentID:            "clip-1",
		FirstUploaderID:      1,
		FirstUploaderDisplay: "  ami  ",
		FirstUploadedAtS:     1700000000,
	}
	if err := database.Create(&seed).Error; err != nil {
		testContext.Fatalf("failed to seed entry: %v", err)
	}

	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored ledger.Entry
	if err := database.Take(&stored, "content_id = ?", "clip-1").Error; err != nil {
		testContext.Fatalf("failed to load entry: %v", err)
	}
	if stored.FirstUploaderDisplay != "ami" {
		testContext.Fatalf("expected trimmed display, got %q", stored.FirstUploaderDisplay)
	}

	var record migrationRecord
	if err := database.Take(&record, "name = ?", migrationTrimUploaderDisplay).Error; err != nil {
		testContext.Fatalf("expected migration record: %v", err)
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&ledger.Entry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("first apply failed: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}

	var total int64
	if err := database.Model(&migrationRecord{}).Count(&total).Error; err != nil {
		testContext.Fatalf("failed to count records: %v", err)
	}
	if total != 1 {
		testContext.Fatalf("expected a single migration record, got %d", total)
	}
}
