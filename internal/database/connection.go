package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors shared by all repositories
var (
	ErrNotFound = errors.New("database: record not found")
	ErrConflict = errors.New("database: concurrent modification")
)

// Supported database types
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// dialect holds the column definitions that differ between SQLite and PostgreSQL
type dialect struct {
	autoID    string
	timestamp string
	float     string
}

var dialects = map[string]dialect{
	"sqlite3": {
		autoID:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp: "TIMESTAMP",
		float:     "REAL",
	},
	"postgres": {
		autoID:    "BIGSERIAL PRIMARY KEY",
		timestamp: "TIMESTAMPTZ",
		float:     "DOUBLE PRECISION",
	},
}

// Connect establishes a connection to the database and initializes the schema.
// dbType is "sqlite" or "postgres". For SQLite an empty dsn means <dataDir>/hanzibot.db.
func Connect(dbType, dsn, dataDir string) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error

	switch dbType {
	case TypeSQLite, "":
		if dsn == "" {
			// Create data directory if it doesn't exist
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			dsn = filepath.Join(dataDir, "hanzibot.db")
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_foreign_keys=on"
		}
		db, err = sqlx.Connect("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case TypePostgres:
		if dsn == "" {
			return nil, errors.New("DB_DSN must be set for postgres")
		}
		db, err = sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	if err := InitializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitializeSchema creates necessary tables if they don't exist
func InitializeSchema(db *sqlx.DB) error {
	d, ok := dialects[db.DriverName()]
	if !ok {
		return fmt.Errorf("unsupported driver %q", db.DriverName())
	}

	stmts := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id ` + d.autoID + `,
				telegram_id BIGINT UNIQUE,
				username TEXT NOT NULL DEFAULT '',
				notification_enabled BOOLEAN NOT NULL DEFAULT TRUE,
				notification_hour INTEGER NOT NULL DEFAULT 9,
				daily_limit INTEGER NOT NULL DEFAULT 20,
				created_at ` + d.timestamp + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`},
		{"characters", `
			CREATE TABLE IF NOT EXISTS characters (
				id ` + d.autoID + `,
				hanzi TEXT NOT NULL UNIQUE,
				pinyin TEXT NOT NULL DEFAULT '',
				meaning TEXT NOT NULL DEFAULT '',
				hsk_level INTEGER NOT NULL DEFAULT 0,
				created_at ` + d.timestamp + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`},
		{"sentences", `
			CREATE TABLE IF NOT EXISTS sentences (
				id ` + d.autoID + `,
				chinese TEXT NOT NULL UNIQUE,
				pinyin TEXT NOT NULL DEFAULT '',
				english TEXT NOT NULL DEFAULT '',
				created_at ` + d.timestamp + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`},
		{"review_items", `
			CREATE TABLE IF NOT EXISTS review_items (
				id ` + d.autoID + `,
				user_id BIGINT NOT NULL REFERENCES users(id),
				item_kind TEXT NOT NULL,
				item_id BIGINT NOT NULL,
				easiness_factor ` + d.float + ` NOT NULL DEFAULT 0,
				repetitions INTEGER NOT NULL DEFAULT 0,
				interval_days INTEGER NOT NULL DEFAULT 0,
				learning BOOLEAN NOT NULL DEFAULT FALSE,
				first_seen_date ` + d.timestamp + `,
				last_review_date ` + d.timestamp + `,
				next_review_date ` + d.timestamp + `,
				seen_context TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 1,
				created_at ` + d.timestamp + ` NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at ` + d.timestamp + ` NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(user_id, item_kind, item_id)
			)`},
		{"review_items due index", `
			CREATE INDEX IF NOT EXISTS idx_review_items_due
			ON review_items (user_id, item_kind, next_review_date)`},
		{"review_logs", `
			CREATE TABLE IF NOT EXISTS review_logs (
				seq ` + d.autoID + `,
				id TEXT NOT NULL UNIQUE,
				event TEXT NOT NULL DEFAULT 'review',
				user_id BIGINT NOT NULL REFERENCES users(id),
				item_kind TEXT NOT NULL,
				item_id BIGINT NOT NULL,
				quality INTEGER NOT NULL DEFAULT 0,
				easiness_before ` + d.float + ` NOT NULL DEFAULT 0,
				easiness_after ` + d.float + ` NOT NULL DEFAULT 0,
				repetitions_after INTEGER NOT NULL DEFAULT 0,
				interval_after INTEGER NOT NULL DEFAULT 0,
				reviewed_at ` + d.timestamp + ` NOT NULL
			)`},
		{"review_logs item index", `
			CREATE INDEX IF NOT EXISTS idx_review_logs_item
			ON review_logs (user_id, item_kind, item_id, seq)`},
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}
