package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverCgo    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// SQLiteStore is a SQLite-backed Store. Each turn is written in a single
// transaction.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	logger     *slog.Logger
	now        func() time.Time
}

// Open opens (creating if needed) the database at path with the named
// driver and runs migrations.
func Open(driver, path string, maxHistory int, logger *slog.Logger) (*SQLiteStore, error) {
	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if IsMemoryPath(path) {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLiteStore(db, maxHistory, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func buildDSN(driver, path string) (string, error) {
	var params string
	switch driver {
	case DriverCgo:
		params = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	case DriverPureGo:
		params = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (want %s or %s)", driver, DriverCgo, DriverPureGo)
	}
	if IsMemoryPath(path) {
		return path, nil
	}
	return path + params, nil
}

// NewSQLiteStore wraps an open database and ensures the schema exists.
func NewSQLiteStore(db *sql.DB, maxHistory int, logger *slog.Logger) (*SQLiteStore, error) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{
		db:         db,
		maxHistory: maxHistory,
		logger:     logger.With("component", "memory"),
		now:        time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		turn_id TEXT NOT NULL REFERENCES turns(id),
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_call TEXT,
		tool_call_id TEXT,
		timestamp TEXT NOT NULL,
		UNIQUE (thread_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_call, tool_call_id, timestamp
		FROM messages
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, threadID, s.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m          Message
			toolCall   sql.NullString
			toolCallID sql.NullString
			ts         string
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &toolCall, &toolCallID, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCall.Valid && toolCall.String != "" {
			m.ToolCall = &ToolCall{}
			if err := json.Unmarshal([]byte(toolCall.String), m.ToolCall); err != nil {
				return nil, fmt.Errorf("decode tool call of message %s: %w", m.ID, err)
			}
		}
		m.ToolCallID = toolCallID.String
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	slices.Reverse(msgs)
	return trimHistory(msgs, 0), nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, threadID, turnID string, msgs []Message) error {
	now := s.now().UTC()
	nowText := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, threadID, nowText, nowText); err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO turns (id, thread_id, created_at) VALUES (?, ?, ?)
	`, turnID, threadID, nowText)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("turn already persisted", "thread_id", threadID, "turn_id", turnID)
		return nil
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, threadID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, thread_id, turn_id, seq, role, content, tool_call, tool_call_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range stamp(msgs, now) {
		seq++
		var toolCall, toolCallID any
		if m.ToolCall != nil {
			b, err := json.Marshal(m.ToolCall)
			if err != nil {
				return fmt.Errorf("encode tool call: %w", err)
			}
			toolCall = string(b)
		}
		if m.ToolCallID != "" {
			toolCallID = m.ToolCallID
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, threadID, turnID, seq, m.Role, m.Content, toolCall, toolCallID,
			m.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	s.logger.Debug("turn persisted", "thread_id", threadID, "turn_id", turnID, "messages", len(msgs))
	return nil
}

// Stats reports thread and message counts.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]any, error) {
	var threads, messages int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`).Scan(&threads); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&messages); err != nil {
		return nil, err
	}
	return map[string]any{
		"threads":     threads,
		"messages":    messages,
		"max_history": s.maxHistory,
		"storage":     "sqlite",
	}, nil
}

// IsMemoryPath reports whether path names an in-memory database.
func IsMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
