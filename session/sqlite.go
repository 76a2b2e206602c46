// SQLite-backed checkpoint storage.
//
// Information Hiding:
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"steward/model"
)

// SqliteStore implements Store on a SQLite database file. Turns are stored
// as a JSON document per checkpoint: checkpoints are immutable once written,
// so there is nothing to query inside them.
type SqliteStore struct {
	db *sql.DB
}

var _ Store = (*SqliteStore)(nil)

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			goal TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			state TEXT NOT NULL,
			next_seq INTEGER NOT NULL,
			turns TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_session
		ON checkpoints(session_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveCheckpoint persists one checkpoint inside a transaction.
func (s *SqliteStore) SaveCheckpoint(ctx context.Context, ckpt Checkpoint) error {
	turns, err := json.Marshal(ckpt.Turns)
	if err != nil {
		return fmt.Errorf("failed to encode turns: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id, goal) VALUES (?, ?)",
		ckpt.SessionID, goal(ckpt.Turns))
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, created_at, iteration, state, next_seq, turns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ckpt.ID,
		ckpt.SessionID,
		ckpt.CreatedAt.Unix(),
		ckpt.Iteration,
		ckpt.State,
		int64(ckpt.NextSeq),
		string(turns),
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?",
		ckpt.SessionID)
	if err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent checkpoint of a session.
func (s *SqliteStore) LoadLatest(ctx context.Context, sessionID string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, created_at, iteration, state, next_seq, turns
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		sessionID)
	return scanCheckpoint(row)
}

// LoadCheckpoint returns a specific checkpoint by id.
func (s *SqliteStore) LoadCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, created_at, iteration, state, next_seq, turns
		FROM checkpoints
		WHERE id = ?`,
		id)
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (Checkpoint, error) {
	var ckpt Checkpoint
	var createdAt int64
	var nextSeq int64
	var turnsJSON string

	err := row.Scan(&ckpt.ID, &ckpt.SessionID, &createdAt, &ckpt.Iteration, &ckpt.State, &nextSeq, &turnsJSON)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	ckpt.CreatedAt = time.Unix(createdAt, 0)
	ckpt.NextSeq = uint64(nextSeq)

	var turns []model.Turn
	if err := json.Unmarshal([]byte(turnsJSON), &turns); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to decode turns: %w", err)
	}
	ckpt.Turns = turns

	return ckpt, nil
}

// ListSessions lists stored sessions, most recently updated first.
func (s *SqliteStore) ListSessions(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.goal, s.created_at, s.updated_at,
		       COUNT(c.id),
		       COALESCE((SELECT state FROM checkpoints
		                 WHERE session_id = s.session_id
		                 ORDER BY created_at DESC, rowid DESC LIMIT 1), '')
		FROM sessions s
		LEFT JOIN checkpoints c ON c.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{} // Start with empty slice, not nil
	for rows.Next() {
		var sum Summary
		var created, updated string
		if err := rows.Scan(&sum.SessionID, &sum.Goal, &created, &updated, &sum.Checkpoints, &sum.LastState); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
		sum.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated)
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return summaries, nil
}

// PruneCheckpoints keeps only the newest keep checkpoints of a session.
// Old checkpoints accumulate one per iteration; retention bounds the table.
func (s *SqliteStore) PruneCheckpoints(ctx context.Context, sessionID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE session_id = ?
		AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE session_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)`,
		sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	return nil
}

// Delete removes a session and all its checkpoints.
func (s *SqliteStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
