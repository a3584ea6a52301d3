package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/config"
	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/pkg/utils"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := addGrantGranteeCheck(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates the schema plus the indexes AutoMigrate cannot express.
// It is shared with the test suites, so only dialect-portable SQL goes here.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Folder{},
		&models.File{},
		&models.Grant{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
		&models.Activity{},
	); err != nil {
		return err
	}

	// The composite unique index on (parent_id, name) does not constrain
	// rows with a NULL parent, so top-level names get their own partial
	// unique index. This is what makes the synthetic-root get-or-create
	// race-safe.
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_folders_root_name ON folders (name) WHERE parent_id IS NULL`,
	).Error
}

// addGrantGranteeCheck enforces the user-XOR-everybody invariant at the
// database level. Postgres only; Grant.Validate covers the application side.
func addGrantGranteeCheck(db *gorm.DB) error {
	constraint := `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1
    FROM pg_constraint
    WHERE conname = 'grant_grantee_check'
  ) THEN
    ALTER TABLE grants
    ADD CONSTRAINT grant_grantee_check
    CHECK (
      (user_id IS NOT NULL AND everybody = false)
      OR
      (user_id IS NULL AND everybody = true)
    );
  END IF;
END $$;`

	return db.Exec(constraint).Error
}

func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@drivebox.local",
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Admin",
		Role:         models.UserRoleAdmin,
	}

	return db.Create(&admin).Error
}
