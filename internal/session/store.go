// Package session persists mission state, plans, and artifacts in
// SQLite so paused missions survive process restarts.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rudi77/taskforce/internal/engine"
	"github.com/rudi77/taskforce/internal/plan"
)

// Store implements the engine's StateStore, PlanStore, and
// ArtifactStore on one SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database and initializes the schema.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode allows a reader alongside the single writer; the busy
	// timeout covers checkpointing stalls.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		mission    TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plans (
		plan_id    TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		handle     TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// LoadState retrieves a session's state by id.
func (s *Store) LoadState(ctx context.Context, sessionID string) (*engine.SessionState, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE session_id = ?`, sessionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var st engine.SessionState
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &st, nil
}

// SaveState upserts a session's state.
func (s *Store) SaveState(ctx context.Context, st *engine.SessionState) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	now := time.Now().UTC()
	created := st.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, mission, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			mission    = excluded.mission,
			status     = excluded.status,
			state      = excluded.state,
			updated_at = excluded.updated_at`,
		st.SessionID, st.Mission, st.Status, string(blob), created.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", st.SessionID, err)
	}
	return nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]engine.SessionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []engine.SessionState
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var st engine.SessionState
		if err := json.Unmarshal([]byte(blob), &st); err != nil {
			continue // skip unreadable rows
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its artifacts.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete artifacts for %s: %w", sessionID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// LoadPlan retrieves a plan by id.
func (s *Store) LoadPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM plans WHERE plan_id = ?`, planID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}

	var p plan.Plan
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", planID, err)
	}
	return &p, nil
}

// SavePlan upserts a plan.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (plan_id, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			body       = excluded.body,
			updated_at = excluded.updated_at`,
		p.ID, string(blob), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", p.ID, err)
	}
	return nil
}

// PutArtifact stores oversized tool output and returns its handle.
func (s *Store) PutArtifact(ctx context.Context, sessionID, content string) (string, error) {
	handle := "art_" + uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (handle, session_id, content, created_at)
		VALUES (?, ?, ?, ?)`,
		handle, sessionID, content, time.Now().UTC().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return handle, nil
}

// GetArtifact retrieves stored content by handle.
func (s *Store) GetArtifact(ctx context.Context, handle string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM artifacts WHERE handle = ?`, handle).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("artifact %s not found", handle)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load artifact %s: %w", handle, err)
	}
	return content, nil
}
