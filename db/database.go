package db

import (
	"database/sql"
	"fmt"
	"log"

	"TuneSweep/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// CloseDB closes the raw connection pool.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	return DB.Close()
}

// InitDB initializes the database schema, creating tables if they don't exist.
// The analysis tables are migrated separately through GORM.
func InitDB() error {
	if err := createTracksTable(); err != nil {
		return err
	}
	if err := createAuditLogTable(); err != nil {
		return err
	}
	log.Println("Database initialization completed.")
	return nil
}

func createTracksTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS tracks (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		song VARCHAR(255) NOT NULL,
		artist VARCHAR(255),
		album VARCHAR(255),
		play_count INT NOT NULL DEFAULT 0,
		last_played TIMESTAMP NULL,
		date_added TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		category VARCHAR(100),
		INDEX idx_tracks_artist (artist),
		INDEX idx_tracks_song (song)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}
	log.Println("Tracks table initialized successfully (or already exists).")
	return nil
}

func createAuditLogTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		action_type VARCHAR(40) NOT NULL,
		actor VARCHAR(100),
		target_ids TEXT,
		success BOOLEAN NOT NULL DEFAULT TRUE,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_audit_action (action_type)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create audit_log table: %w", err)
	}
	log.Println("Audit log table initialized successfully (or already exists).")
	return nil
}
