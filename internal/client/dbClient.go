package client

import (
	"fmt"

	"donation-platform/internal/config"
	"donation-platform/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the record store and migrates the billing tables.
func InitDB(dbCfg *config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(dbCfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool (important for webhooks)
	sqlDB.SetMaxIdleConns(dbCfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dbCfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)
	if dbCfg.Driver != "mysql" {
		// sqlite allows one writer
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Account{},
		&model.SubscriptionRecord{},
		&model.WebhookEvent{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
