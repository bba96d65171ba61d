package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yoockh/meetbot/internal/models"
)

var PostgresDB *gorm.DB

// InitPostgres opens the transcript database. POSTGRES_URI may also be
// "sqlite:<path>" for single-node deployments.
func InitPostgres() error {
	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		return fmt.Errorf("%w: POSTGRES_URI is not set", ErrNotConfigured)
	}

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	if path, ok := strings.CutPrefix(uri, "sqlite:"); ok {
		db, err := gorm.Open(sqlite.Open(path), gcfg)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
		PostgresDB = db
		return nil
	}

	db, err := gorm.Open(postgres.Open(uri), gcfg)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	PostgresDB = db
	return nil
}

func MigratePostgres() error {
	if PostgresDB == nil {
		return fmt.Errorf("PostgresDB is nil; call InitPostgres() first")
	}
	return PostgresDB.AutoMigrate(&models.TranscriptRecord{})
}
