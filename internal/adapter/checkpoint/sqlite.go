// Package checkpoint persists pre-edit snapshots of files and conversation
// history so an edit can be rolled back later.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"termagent/internal/domain"
)

var _ domain.Checkpointer = (*SQLiteStore)(nil)

// SQLiteStore implements domain.Checkpointer on a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Summary is a checkpoint without its history and file content.
type Summary struct {
	ID        string
	SessionID string
	ToolName  string
	FilePath  string
	CreatedAt time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration. Parent directories are created as needed.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	// One writer; the scheduler may save from several goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL DEFAULT '',
			tool_call   TEXT NOT NULL,
			file_path   TEXT NOT NULL DEFAULT '',
			content     BLOB,
			history     TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS checkpoints_created ON checkpoints(created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save stores cp. When cp.Content is nil the current content of cp.FilePath
// is read; a file that does not exist yet is stored as NULL content.
func (s *SQLiteStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = ulid.Make().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.Content == nil && cp.FilePath != "" {
		data, err := os.ReadFile(cp.FilePath)
		switch {
		case err == nil:
			cp.Content = data
		case errors.Is(err, fs.ErrNotExist):
		default:
			return domain.NewDomainError("SQLiteStore.Save", domain.ErrCheckpointSave, err.Error())
		}
	}

	callJSON, err := json.Marshal(cp.Call)
	if err != nil {
		return fmt.Errorf("marshal tool call: %w", err)
	}
	histJSON, err := json.Marshal(cp.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	var content any
	if cp.Content != nil {
		content = cp.Content
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO checkpoints (id, session_id, tool_call, file_path, content, history, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		cp.ID, domain.SessionIDFromContext(ctx), string(callJSON), cp.FilePath, content,
		string(histJSON), cp.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("SQLiteStore.Save", domain.ErrCheckpointSave, err.Error())
	}
	s.logger.Debug("checkpoint saved", "id", cp.ID, "tool", cp.Call.Name, "file", cp.FilePath)
	return nil
}

// Get returns the full checkpoint with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, tool_call, file_path, content, history, created_at FROM checkpoints WHERE id = ?", id)

	var (
		cp                 domain.Checkpoint
		callJSON, histJSON string
		created            string
	)
	err := row.Scan(&cp.ID, &callJSON, &cp.FilePath, &cp.Content, &histJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(callJSON), &cp.Call); err != nil {
		return nil, fmt.Errorf("unmarshal tool call: %w", err)
	}
	if err := json.Unmarshal([]byte(histJSON), &cp.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &cp, nil
}

// List returns up to limit checkpoints, newest first. limit <= 0 means all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	q := "SELECT id, session_id, tool_call, file_path, created_at FROM checkpoints ORDER BY created_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum      Summary
			callJSON string
			created  string
			call     domain.ToolCallRequest
		)
		if err := rows.Scan(&sum.ID, &sum.SessionID, &callJSON, &sum.FilePath, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(callJSON), &call); err == nil {
			sum.ToolName = call.Name
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Restore writes the checkpointed content back to its file. A checkpoint
// taken before the file existed removes the file.
func (s *SQLiteStore) Restore(ctx context.Context, id string) (*domain.Checkpoint, error) {
	cp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.FilePath == "" {
		return cp, nil
	}
	if cp.Content == nil {
		if err := os.Remove(cp.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove %s: %w", cp.FilePath, err)
		}
		return cp, nil
	}
	if err := os.WriteFile(cp.FilePath, cp.Content, 0o644); err != nil {
		return nil, fmt.Errorf("restore %s: %w", cp.FilePath, err)
	}
	s.logger.Info("checkpoint restored", "id", id, "file", cp.FilePath)
	return cp, nil
}
