package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PromptChat/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists conversations to a SQLite database so history survives restarts.
type SQLiteStore struct {
	db     *sql.DB
	policy Policy
}

// OpenSQLite opens (or creates) the database at path and ensures the schema exists.
func OpenSQLite(path string, policy Policy) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	createConversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		start_time DATETIME
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT,
		role TEXT,
		content TEXT,
		timestamp DATETIME,
		FOREIGN KEY(conversation_id) REFERENCES conversations(id)
	);`

	createMessagesIndex := `
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);`

	for _, stmt := range []string{createConversationsTable, createMessagesTable, createMessagesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, policy: policy}, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var msg session.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	return messages, nil
}

func (s *SQLiteStore) Append(ctx context.Context, conversationID string, msgs ...session.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO conversations (id, start_time) VALUES (?, ?)",
		conversationID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	for _, msg := range msgs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
			conversationID, msg.Role, msg.Content, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if s.policy.MaxMessages > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE conversation_id = ? AND id NOT IN (
				SELECT id FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
			)`,
			conversationID, conversationID, s.policy.MaxMessages,
		)
		if err != nil {
			return fmt.Errorf("failed to trim messages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
