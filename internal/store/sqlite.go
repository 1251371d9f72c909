// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists credential slots and transcript turns with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS zoho_credentials (
			tenant_id TEXT PRIMARY KEY,
			refresh_token TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transcript_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			backend TEXT,
			body TEXT NOT NULL,
			message_id TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transcript_conversation
			ON transcript_turns(tenant_id, user_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetRefreshToken returns the stored refresh token for a tenant.
func (s *SQLiteStore) GetRefreshToken(ctx context.Context, tenantID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		"SELECT refresh_token FROM zoho_credentials WHERE tenant_id = ?",
		tenantID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("refresh token for tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("querying refresh token: %w", err)
	}
	return token, nil
}

// PutRefreshToken writes a tenant's refresh-token slot, replacing any prior value.
func (s *SQLiteStore) PutRefreshToken(ctx context.Context, tenantID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zoho_credentials (tenant_id, refresh_token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at
	`, tenantID, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing refresh token: %w", err)
	}

	s.logger.Info("refresh token slot updated", "tenant_id", tenantID)
	return nil
}

// DeleteRefreshToken clears a tenant's refresh-token slot.
func (s *SQLiteStore) DeleteRefreshToken(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM zoho_credentials WHERE tenant_id = ?", tenantID)
	if err != nil {
		return fmt.Errorf("deleting refresh token: %w", err)
	}
	return nil
}

// AppendTurn persists one transcript turn and fills in the assigned ID.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_turns (tenant_id, user_id, direction, backend, body, message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, turn.TenantID, turn.UserID, string(turn.Direction), turn.Backend, turn.Body, turn.MessageID, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting transcript turn: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading turn id: %w", err)
	}
	turn.ID = id

	return nil
}

// ListTurns returns up to limit most recent turns for a conversation, oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, tenantID, userID string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, direction, backend, body, message_id, created_at
		FROM transcript_turns
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, tenantID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var direction string
		var backend, messageID sql.NullString
		if err := rows.Scan(&t.ID, &t.TenantID, &t.UserID, &direction, &backend, &t.Body, &messageID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transcript turn: %w", err)
		}
		t.Direction = Direction(direction)
		t.Backend = backend.String
		t.MessageID = messageID.String
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript: %w", err)
	}

	// Reverse into oldest-first order for display.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
