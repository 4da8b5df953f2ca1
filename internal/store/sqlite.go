package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/triage-console/internal/domain"
	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the database for the lifetime of the process only.
const MemoryDSN = ":memory:"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository. dbPath may be MemoryDSN.
func NewSQLite(dbPath string) (Repository, error) {
	memory := dbPath == "" || dbPath == MemoryDSN
	dsn := MemoryDSN
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// Open database with WAL mode for better concurrency.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if memory {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_conversation ON chat_turns(conversation_id, seq);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_created ON chat_turns(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendTurn stores a completed chat message.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	if strings.TrimSpace(turn.ConversationID) == "" {
		return fmt.Errorf("append turn: conversation id is required")
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	payload := turn.PayloadJSON
	if payload == "" {
		payload = "{}"
	}

	query := `
	INSERT INTO chat_turns (conversation_id, message_id, role, content, payload_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return s.withRetry(ctx, "append turn", func() error {
		_, err := s.db.ExecContext(ctx, query,
			turn.ConversationID, turn.MessageID, turn.Role,
			turn.Content, payload, createdAt.UnixNano(),
		)
		return err
	})
}

// ListTurns returns the turns of a conversation in insertion order.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]*domain.Turn, error) {
	query := `
		SELECT conversation_id, message_id, role, content, payload_json, created_at
		FROM (
			SELECT * FROM chat_turns WHERE conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []*domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var createdAt int64
		if err := rows.Scan(
			&turn.ConversationID, &turn.MessageID, &turn.Role,
			&turn.Content, &turn.PayloadJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.CreatedAt = time.Unix(0, createdAt)
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// DeleteConversation removes every turn of a conversation.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	var affected int64
	err := s.withRetry(ctx, "delete conversation", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_turns WHERE conversation_id = ?`, conversationID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

// CleanupExpiredTurns removes turns older than ttl.
func (s *SQLiteStore) CleanupExpiredTurns(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixNano()
	var affected int64
	err := s.withRetry(ctx, "cleanup expired turns", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_turns WHERE created_at < ?`, threshold)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

// withRetry runs a write with exponential backoff on SQLITE_BUSY errors.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
		slog.Debug("SQLite write failed with SQLITE_BUSY, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isBusy matches the SQLite concurrency errors worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
