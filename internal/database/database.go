package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"staybook/internal/config"
	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite store. Every transaction starts with BEGIN IMMEDIATE so
// the overlap re-check and the insert it guards see a single writer.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return Open(config.DatabaseConfig{Path: path}, logger)
}

func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=%d&_foreign_keys=1", cfg.Path, busy.Milliseconds())
	if cfg.Path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// each connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: cfg.Path, logger: logger}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", cfg.Path).Msg("Database initialized")
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			agent_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			price_type TEXT NOT NULL DEFAULT 'NIGHTLY',
			price INTEGER NOT NULL DEFAULT 0,
			cleaning_fee INTEGER NOT NULL DEFAULT 0,
			service_fee INTEGER NOT NULL DEFAULT 0,
			security_deposit INTEGER NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			min_stay INTEGER NOT NULL DEFAULT 0,
			max_stay INTEGER NOT NULL DEFAULT 0,
			available_from TEXT,
			instant_book BOOLEAN NOT NULL DEFAULT 0,
			cancellation_policy TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS availability_overrides (
			property_id INTEGER NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			source TEXT NOT NULL,
			available BOOLEAN NOT NULL,
			price INTEGER,
			blocked_by TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (property_id, date, source)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_number TEXT NOT NULL UNIQUE,
			property_id INTEGER NOT NULL REFERENCES properties(id),
			guest_id INTEGER NOT NULL,
			guest_name TEXT NOT NULL DEFAULT '',
			guest_email TEXT NOT NULL DEFAULT '',
			guest_phone TEXT NOT NULL DEFAULT '',
			guest_count INTEGER NOT NULL DEFAULT 1,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			total_days INTEGER NOT NULL,
			nightly_price INTEGER NOT NULL,
			total_amount INTEGER NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			cancellation_reason TEXT NOT NULL DEFAULT '',
			confirmed_at DATETIME,
			cancelled_at DATETIME,
			check_in_at DATETIME,
			check_out_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			CHECK (start_date < end_date)
		)`,
		`CREATE TABLE IF NOT EXISTS booking_nights (
			property_id INTEGER NOT NULL,
			night TEXT NOT NULL,
			booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
			PRIMARY KEY (property_id, night)
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT '',
			gateway_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS booking_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
			actor_id INTEGER NOT NULL DEFAULT 0,
			actor_role TEXT NOT NULL DEFAULT '',
			from_status TEXT NOT NULL DEFAULT '',
			to_status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_type TEXT NOT NULL,
			booking_id INTEGER NOT NULL,
			payload TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at DATETIME NOT NULL,
			processed_at DATETIME,
			next_retry_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_property_range ON bookings(property_id, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_created ON bookings(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_guest ON bookings(guest_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_nights_booking ON booking_nights(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_booking ON payments(booking_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_events_booking ON booking_events(booking_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", strings.SplitN(query, "(", 2)[0], err)
		}
	}
	return nil
}

// isConstraintViolation reports a UNIQUE or PRIMARY KEY violation.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func formatDate(t time.Time) string {
	return models.DateOnly(t).Format(models.DateLayout)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}
