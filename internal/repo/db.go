// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and Postgres, plus schema migrations.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrDuplicate reports a unique constraint violation.
var ErrDuplicate = errors.New("duplicate")

// sqlitePragmas are applied through the DSN so that every pooled connection
// gets them, not just the first one.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// Open connects to the configured driver. dsn is a file path (or sqlite URI)
// for sqlite and a libpq connection string for postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB driver %q", driver)
	}
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
//
// SQLite allows a single writer, so the pool is pinned to one connection;
// concurrent transactions queue on the pool instead of failing with
// SQLITE_BUSY. Correctness under concurrency comes from conditional updates.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// OpenPostgres opens a Postgres connection pool.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres DSN is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// EnableTracing registers the GORM OpenTelemetry plugin so every query
// becomes a child span of the request span.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// partialIndexes keep codes unique among live rows only, so a code can be
// reissued once its predecessor is finished.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_active_code ON orders (code) WHERE status IN ('pending','approved','preparing','completed')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_redemptions_pending_code ON redemptions (code) WHERE status = 'pending'`,
}

// AutoMigrate creates or updates every table and the partial unique indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.CatalogItem{},
		&domain.Order{},
		&domain.OrderLineItem{},
		&domain.Reward{},
		&domain.Redemption{},
		&domain.StaffMember{},
		&domain.StaffSession{},
		&domain.NotificationMessage{},
		&domain.Setting{},
		&domain.Idempotency{},
	); err != nil {
		return err
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// IsDuplicate reports whether err is a unique constraint violation.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
