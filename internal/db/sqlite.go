package db

import (
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLite opens a single-node store. Migrations are run by the
// repositories that own the tables.
func NewSQLite(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite handle")
	}
	// SQLite serializes writers anyway; one connection also keeps an
	// in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}
