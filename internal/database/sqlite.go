package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Can be provided to SQLite to create a temporary, in-memory DB.
const temporaryDBPath = "file:%s?mode=memory&cache=shared"

// OpenSQLite opens the single-node store at path, or a private in-memory
// database when path is empty. SQLite allows one writer at a time, so the pool
// holds a single connection and callers queue on it.
func OpenSQLite(path string) (*gorm.DB, error) {
	memory := path == ""
	if memory {
		path = fmt.Sprintf(temporaryDBPath, uuid.NewString())
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	// Foreign keys are disabled in SQLite by default.
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	if !memory {
		if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
			return nil, err
		}
	}

	return db, nil
}
