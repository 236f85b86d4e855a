package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/tabletalk/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryDSN keeps transcripts for the lifetime of the process only.
const MemoryDSN = "file:tabletalk?mode=memory&cache=shared"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS messages_session ON messages(session_id, id);`

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrEmptySessionID = errors.New("session id is empty")
)

type Database struct {
	db *sql.DB
}

func New(dsn string) (*Database, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// Transcript returns the session's messages in insertion order, creating and
// seeding the session on first access.
func (db *Database) Transcript(ctx context.Context, sessionID string) ([]models.Message, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := ensureSession(ctx, tx, sessionID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
        SELECT id, session_id, role, content, created_at
        FROM messages
        WHERE session_id = ?
        ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, 8)
	for rows.Next() {
		var (
			msg  models.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if msg.Role, err = models.ParseRole(role); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	return messages, tx.Commit()
}

// Append records one completed interaction cycle: the user message, then the
// assistant reply.
func (db *Database) Append(ctx context.Context, sessionID, user, assistant string) error {
	if strings.TrimSpace(user) == "" {
		return ErrEmptyContent
	}
	return db.write(ctx, sessionID, []models.Message{
		{Role: models.RoleUser, Content: user},
		{Role: models.RoleAssistant, Content: assistant},
	})
}

// AppendUnanswered records the user message of a cycle that ended before a
// reply was produced.
func (db *Database) AppendUnanswered(ctx context.Context, sessionID, user string) error {
	if strings.TrimSpace(user) == "" {
		return ErrEmptyContent
	}
	return db.write(ctx, sessionID, []models.Message{{Role: models.RoleUser, Content: user}})
}

func (db *Database) write(ctx context.Context, sessionID string, messages []models.Message) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureSession(ctx, tx, sessionID); err != nil {
		return err
	}
	for _, msg := range messages {
		if err := insertMessage(ctx, tx, sessionID, msg.Role, msg.Content); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *Database) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, CURRENT_TIMESTAMP)", sessionID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if created == 0 {
		return nil
	}
	return insertMessage(ctx, tx, sessionID, models.RoleAssistant, models.SeedGreeting)
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, role models.Role, content string) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO messages (session_id, role, content, created_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)`, sessionID, role.String(), content)
	if err != nil {
		return fmt.Errorf("save %s message: %w", role, err)
	}
	return nil
}
