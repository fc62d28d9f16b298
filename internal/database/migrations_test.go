package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/creators"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsCreatorRegistry(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&links.LinkRecord{}, &creators.Creator{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seed := []links.LinkRecord{
		{Code: "1000", Content: "a", CreatedAtMillis: 5_000, ExpiresAtMillis: 605_000, CreatorID: "creator-1"},
		{Code: "2000", Content: "b", CreatedAtMillis: 9_000, ExpiresAtMillis: 609_000, CreatorID: "creator-1"},
		{Code: "3000", Content: "c", CreatedAtMillis: 7_000, ExpiresAtMillis: 607_000, CreatorID: "creator-2"},
	}
	if err := database.Create(&seed).Error; err != nil {
		testContext.Fatalf("failed to insert links: %v", err)
	}
	existing := creators.Creator{CreatorID: "creator-2", CreatedAtSeconds: 1, LastSeenAtSeconds: 100}
	if err := database.Create(&existing).Error; err != nil {
		testContext.Fatalf("failed to insert creator: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var first creators.Creator
	if err := database.Where("creator_id = ?", "creator-1").Take(&first).Error; err != nil {
		testContext.Fatalf("expected backfilled creator: %v", err)
	}
	if first.CreatedAtSeconds != 5 || first.LastSeenAtSeconds != 9 {
		testContext.Fatalf("unexpected backfilled timestamps %#v", first)
	}
	var second creators.Creator
	if err := database.Where("creator_id = ?", "creator-2").Take(&second).Error; err != nil {
		testContext.Fatalf("failed to reload creator: %v", err)
	}
	if second.LastSeenAtSeconds != 100 {
		testContext.Fatalf("expected existing creator to be left untouched, got %#v", second)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillCreatorRegistry).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-running migrations to be a no-op: %v", err)
	}
}

func TestOpenMigratesSQLiteSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")
	database, err := Open(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	for _, table := range []string{"links", "creators", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
	if _, err := Open("mysql", databasePath, nil); err == nil {
		testContext.Fatalf("expected unsupported driver to be rejected")
	}
	if _, err := Open(DriverSQLite, " ", nil); err == nil {
		testContext.Fatalf("expected empty dsn to be rejected")
	}
}
