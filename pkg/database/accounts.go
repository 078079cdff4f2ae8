package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Register creates a new account. Returns false if the username is
// already taken. Validation of username/password shape happens at the
// dispatcher; the store only enforces uniqueness.
func (db *DB) Register(username, password, displayName string) (bool, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return false, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.Exec(
		"INSERT INTO users (username, password_hash, display_name) VALUES (?, ?, ?)",
		username, hash, displayName,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to register %q: %w", username, err)
	}
	return true, nil
}

// Authenticate verifies username/password. Returns false for unknown
// users and wrong passwords alike. Legacy digests that verify are
// transparently rehashed to the current scheme.
func (db *DB) Authenticate(username, password string) (bool, error) {
	var stored string
	err := db.conn.QueryRow(
		"SELECT password_hash FROM users WHERE username = ?", username,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %q: %w", username, err)
	}

	ok, needsRehash := verifyPassword(stored, password)
	if !ok {
		return false, nil
	}

	if needsRehash {
		if err := db.updatePasswordHash(username, password); err != nil {
			db.logger.Warn("failed to upgrade legacy password hash",
				"username", username, "error", err)
		}
	}
	return true, nil
}

// ChangePassword verifies oldPassword and replaces the stored hash.
// Returns false when the old password does not match.
func (db *DB) ChangePassword(username, oldPassword, newPassword string) (bool, error) {
	ok, err := db.Authenticate(username, oldPassword)
	if err != nil || !ok {
		return false, err
	}
	if err := db.updatePasswordHash(username, newPassword); err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) updatePasswordHash(username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.Exec(
		"UPDATE users SET password_hash = ? WHERE username = ?", hash, username,
	)
	if err != nil {
		return fmt.Errorf("failed to update password for %q: %w", username, err)
	}
	return nil
}

// GetUser fetches one account, or ErrUserNotFound.
func (db *DB) GetUser(username string) (*Account, error) {
	row := db.conn.QueryRow(
		`SELECT id, username, display_name, role, is_banned, is_muted, created_at
		 FROM users WHERE username = ?`, username,
	)
	return scanAccount(row)
}

// UserExists reports whether an account exists for username.
func (db *DB) UserExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM users WHERE username = ?", username,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check %q: %w", username, err)
	}
	return count > 0, nil
}

// SetBanned flips the ban flag. Returns false for unknown users.
func (db *DB) SetBanned(username string, banned bool) (bool, error) {
	return db.setFlag("is_banned", username, banned)
}

// SetMuted flips the mute flag. Returns false for unknown users.
func (db *DB) SetMuted(username string, muted bool) (bool, error) {
	return db.setFlag("is_muted", username, muted)
}

// SetRole updates the account role. Returns false for unknown users.
func (db *DB) SetRole(username string, role int) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(
		"UPDATE users SET role = ? WHERE username = ?", role, username,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set role for %q: %w", username, err)
	}
	return rowsAffected(res), nil
}

func (db *DB) setFlag(column, username string, value bool) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(
		// column is one of two compile-time constants, never user input.
		fmt.Sprintf("UPDATE users SET %s = ? WHERE username = ?", column),
		boolToInt(value), username,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set %s for %q: %w", column, username, err)
	}
	return rowsAffected(res), nil
}

// IsAdmin reports whether username holds the admin role. Unknown users
// are not admins.
func (db *DB) IsAdmin(username string) (bool, error) {
	acct, err := db.GetUser(username)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acct.Role == RoleAdmin, nil
}

// IsBanned reports whether username is banned. Unknown users are not
// banned.
func (db *DB) IsBanned(username string) (bool, error) {
	acct, err := db.GetUser(username)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acct.IsBanned, nil
}

// IsMuted reports whether username is muted. Unknown users are not
// muted.
func (db *DB) IsMuted(username string) (bool, error) {
	acct, err := db.GetUser(username)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acct.IsMuted, nil
}

// AllUsers returns every account, newest first.
func (db *DB) AllUsers() ([]*Account, error) {
	rows, err := db.conn.Query(
		`SELECT id, username, display_name, role, is_banned, is_muted, created_at
		 FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// BannedUsernames returns the usernames of all banned accounts.
func (db *DB) BannedUsernames() ([]string, error) {
	return db.usernamesWhere("is_banned = 1")
}

// MutedUsernames returns the usernames of all muted accounts.
func (db *DB) MutedUsernames() ([]string, error) {
	return db.usernamesWhere("is_muted = 1")
}

func (db *DB) usernamesWhere(cond string) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT username FROM users WHERE " + cond + " ORDER BY username",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UserCount returns the total number of accounts.
func (db *DB) UserCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var acct Account
	var banned, muted int
	err := row.Scan(&acct.ID, &acct.Username, &acct.DisplayName, &acct.Role,
		&banned, &muted, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	acct.IsBanned = banned != 0
	acct.IsMuted = muted != 0
	return &acct, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error
	// text; there is no exported sentinel to match against.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rowsAffected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
