// Package database is the persistent store for accounts, moderation
// state, and the chat audit log, backed by SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates no account exists for the username.
	ErrUserNotFound = errors.New("user not found")
)

// Account roles. Role is an int column so future tiers can slot in
// without a schema change.
const (
	RoleMember = 0
	RoleAdmin  = 1
)

// Account is one row of the users table.
type Account struct {
	ID          int64
	Username    string
	DisplayName string
	Role        int
	IsBanned    bool
	IsMuted     bool
	CreatedAt   string
}

// DB wraps the SQLite connection. Reads go through the pool; writes
// serialize on mu because SQLite allows a single writer even in WAL
// mode.
type DB struct {
	conn   *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens the SQLite database at path, initializes the schema if
// needed, and seeds the default admin account on first startup.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// WAL allows concurrent readers while a write is in flight.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := db.seedAdmin(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		display_name TEXT NOT NULL,
		role INTEGER NOT NULL DEFAULT 0,
		is_banned INTEGER NOT NULL DEFAULT 0,
		is_muted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		receiver TEXT,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL,
		timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// seedAdmin creates the default admin/admin account the first time the
// database is initialized. The password should be changed immediately;
// a warning is logged on every startup while it exists.
func (db *DB) seedAdmin() error {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM users WHERE username = ?", "admin",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check for admin account: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := hashPassword("admin")
	if err != nil {
		return fmt.Errorf("failed to hash default admin password: %w", err)
	}

	_, err = db.conn.Exec(
		"INSERT INTO users (username, password_hash, display_name, role) VALUES (?, ?, ?, ?)",
		"admin", hash, "Administrator", RoleAdmin,
	)
	if err != nil {
		return fmt.Errorf("failed to seed admin account: %w", err)
	}

	db.logger.Warn("seeded default admin account, change its password",
		"username", "admin")
	return nil
}
