package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database variables
var (
	Db   *gorm.DB                                                  // GORM database instance
	Path = filepath.Join(os.Getenv("HOME"), ".sessync/session.db") // Default database path
)

// InitDB initializes the database and creates the tables if they don't exist.
// It returns an error if any step in the initialization process fails.
func InitDB() error {
	if err := createDBDirectory(); err != nil {
		return err
	}

	conn, err := Open(Path)
	if err != nil {
		return err
	}
	Db = conn

	log.Info().Str("path", Path).Msg("Database initialized successfully")
	return nil
}

// Open opens the SQLite database at path and migrates the session tables.
// Use ":memory:" for a throwaway database in tests.
func Open(path string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open database")
		return nil, err
	}
	if err := migrateTables(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// GetDB returns the database opened by InitDB.
func GetDB() *gorm.DB { return Db }

// createDBDirectory checks if the database path exists and creates it if it doesn't.
func createDBDirectory() error {
	if _, err := os.Stat(filepath.Dir(Path)); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(Path), 0o750); err != nil {
			log.Error().Err(err).Msg("Failed to create database directory")
			return err
		}
	}
	return nil
}

// migrateTables creates the tables if they don't exist.
func migrateTables(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&Token{}, &Profile{}); err != nil {
		log.Error().Err(err).Msg("Failed to auto-migrate database")
		return err
	}
	return nil
}

// gormLogger keeps GORM quiet unless debug logging is enabled.
func gormLogger() logger.Interface {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Silent)
}

// CloseDB closes the database connection.
// It returns an error if the database connection fails to close.
func CloseDB() error {
	if Db == nil {
		return nil
	}
	sqlDB, err := Db.DB()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get raw database connection")
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	Db = nil
	return nil
}
