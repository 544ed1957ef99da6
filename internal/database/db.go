package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePrefix selects the sqlite driver in DATABASE_URL, e.g. "sqlite:data/tickets.db".
const sqlitePrefix = "sqlite:"

// Open returns a gorm dialector for dsn: sqlite for "sqlite:<path>", postgres otherwise.
func Open(dsn string) gorm.Dialector {
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		return sqlite.Open(path)
	}
	return postgres.Open(dsn)
}

// Connect opens the database and sizes its connection pool. A sqlite file
// is limited to one writer connection.
func Connect(dsn string, logLevel logger.LogLevel, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	log.Info("database connection established", zap.String("driver", db.Dialector.Name()))
	return db, nil
}

// Migrate creates or updates the ticket tables on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Ticket{},
		&Escalation{},
		&Query{},
	)
}

// AutoMigrate runs Migrate with progress logging
func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	if err := Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")
	return nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
