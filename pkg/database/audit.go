package database

import (
	"fmt"
	"time"
)

// Message kinds recorded in the audit log.
const (
	MessageKindGlobal  = "global"
	MessageKindPrivate = "private"
)

// LoggedMessage is one row of the messages audit table.
type LoggedMessage struct {
	ID        int64
	Sender    string
	Receiver  string
	Content   string
	Kind      string
	Timestamp string
}

// LogMessage records a delivered chat message. receiver is empty for
// global messages.
func (db *DB) LogMessage(sender, receiver, content, kind string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var recv any
	if receiver != "" {
		recv = receiver
	}

	_, err := db.conn.Exec(
		"INSERT INTO messages (sender, receiver, content, message_type, timestamp) VALUES (?, ?, ?, ?, ?)",
		sender, recv, content, kind, time.Now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func (db *DB) RecentMessages(limit int) ([]*LoggedMessage, error) {
	rows, err := db.conn.Query(
		`SELECT id, sender, COALESCE(receiver, ''), content, message_type, timestamp
		 FROM messages ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*LoggedMessage
	for rows.Next() {
		var m LoggedMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &m.Kind, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of logged messages.
func (db *DB) MessageCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
