package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_role  TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	emotion    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS relationships (
	user_id           TEXT PRIMARY KEY,
	user_role         TEXT NOT NULL DEFAULT '',
	sulking_level     INTEGER NOT NULL DEFAULT 0,
	interaction_count INTEGER NOT NULL DEFAULT 0,
	version           INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
`

// SQLiteJournal stores records in a single SQLite file.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// One connection serializes writers instead of racing for the file lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Ping verifies database connectivity.
func (j *SQLiteJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *SQLiteJournal) EnsureSession(ctx context.Context, userID, userRole string) (Session, error) {
	if userID == "" {
		return Session{}, ErrUserRequired
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_role, started_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_role = CASE WHEN excluded.user_role = '' THEN sessions.user_role ELSE excluded.user_role END`,
		userID, userRole, time.Now().UnixMilli())
	if err != nil {
		return Session{}, fmt.Errorf("upsert session: %w", err)
	}

	var (
		session   Session
		startedAt int64
	)
	err = j.db.QueryRowContext(ctx, `SELECT id, user_role, started_at FROM sessions WHERE id = ?`, userID).
		Scan(&session.ID, &session.UserRole, &startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.StartedAt = time.UnixMilli(startedAt).UTC()
	return session, nil
}

func (j *SQLiteJournal) AppendMessage(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	result, err := j.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, emotion, created_at)
		SELECT ?, id, ?, ?, ?, ? FROM sessions WHERE id = ?`,
		uuid.NewString(), string(msg.Role), msg.Content, msg.Emotion, msg.CreatedAt.UnixMilli(), msg.SessionID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	} else if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (j *SQLiteJournal) requireSession(ctx context.Context, sessionID string) error {
	var one int
	err := j.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	return nil
}

// Transcript returns the newest limit messages oldest first. limit <= 0 means all.
func (j *SQLiteJournal) Transcript(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if err := j.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, emotion, created_at FROM (
			SELECT rowid AS seq, * FROM messages WHERE session_id = ?
			ORDER BY created_at DESC, seq DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg       Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Emotion, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Speaker(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (j *SQLiteJournal) LoadRelationship(ctx context.Context, userID string) (Relationship, error) {
	if userID == "" {
		return Relationship{}, ErrUserRequired
	}

	rel := Relationship{UserID: userID}
	var updatedAt int64
	err := j.db.QueryRowContext(ctx, `
		SELECT user_role, sulking_level, interaction_count, version, updated_at
		FROM relationships WHERE user_id = ?`, userID).
		Scan(&rel.UserRole, &rel.MoodLevel, &rel.InteractionCount, &rel.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rel, nil
	}
	if err != nil {
		return Relationship{}, fmt.Errorf("scan relationship: %w", err)
	}
	rel.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rel, nil
}

func (j *SQLiteJournal) SaveRelationship(ctx context.Context, rel Relationship) (Relationship, error) {
	if rel.UserID == "" {
		return Relationship{}, ErrUserRequired
	}

	now := time.Now().UTC()
	var (
		result sql.Result
		err    error
	)
	if rel.Version == 0 {
		result, err = j.db.ExecContext(ctx, `
			INSERT INTO relationships (user_id, user_role, sulking_level, interaction_count, version, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			rel.UserID, rel.UserRole, rel.MoodLevel, rel.InteractionCount, now.UnixMilli())
	} else {
		result, err = j.db.ExecContext(ctx, `
			UPDATE relationships
			SET user_role = ?, sulking_level = ?, interaction_count = ?, version = version + 1, updated_at = ?
			WHERE user_id = ? AND version = ?`,
			rel.UserRole, rel.MoodLevel, rel.InteractionCount, now.UnixMilli(), rel.UserID, rel.Version)
	}
	if err != nil {
		return Relationship{}, fmt.Errorf("save relationship: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return Relationship{}, fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return Relationship{}, ErrVersionConflict
	}

	rel.Version++
	rel.UpdatedAt = now
	return rel, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

var _ Journal = (*SQLiteJournal)(nil)
