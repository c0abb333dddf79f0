// sqlite.go mirrors session history to a SQLite database so conversations
// survive restarts. Persistence is best-effort: failures are logged by the
// store and never surfaced to the message path.
package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists session messages in a "messages" table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the session database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// AppendMessage persists one turn.
func (s *SQLiteStore) AppendMessage(key string, role Role, content string) error {
	_, err := s.db.Exec(
		"INSERT INTO messages (session_key, role, content, created_at) VALUES (?, ?, ?, ?)",
		key, string(role), content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append message for %q: %w", key, err)
	}
	return nil
}

// LoadMessages reads the persisted history for a session key in insert order.
func (s *SQLiteStore) LoadMessages(key string) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT role, content, created_at FROM messages WHERE session_key = ? ORDER BY id",
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages for %q: %w", key, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var role, content, createdAt string
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, createdAt)
		msgs = append(msgs, Message{Role: Role(role), Content: content, Timestamp: ts})
	}
	return msgs, rows.Err()
}

// DeleteMessages removes all persisted history for a session key.
func (s *SQLiteStore) DeleteMessages(key string) error {
	if _, err := s.db.Exec("DELETE FROM messages WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("delete messages for %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
