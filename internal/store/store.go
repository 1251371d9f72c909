// ABOUTME: Store interface and domain types for durable gateway persistence
// ABOUTME: Holds per-tenant refresh-credential slots and the conversation transcript

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Direction marks which way a transcript turn travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Turn is one recorded message in a conversation transcript.
type Turn struct {
	ID        int64
	TenantID  string
	UserID    string
	Direction Direction
	// Backend is the generation backend that produced an outbound turn,
	// empty for inbound turns and non-generated replies.
	Backend   string
	Body      string
	MessageID string
	CreatedAt time.Time
}

// CredentialStore is the durable slot for each tenant's long-lived refresh
// credential. Written only by the one-time authorization exchange; the
// steady-state refresh loop only reads it.
type CredentialStore interface {
	// GetRefreshToken returns the tenant's stored refresh token.
	// Returns ErrNotFound when no slot exists for the tenant.
	GetRefreshToken(ctx context.Context, tenantID string) (string, error)

	// PutRefreshToken writes the tenant's slot, replacing any prior value.
	PutRefreshToken(ctx context.Context, tenantID, token string) error

	// DeleteRefreshToken clears the tenant's slot. Deleting a missing slot
	// is not an error.
	DeleteRefreshToken(ctx context.Context, tenantID string) error
}

// TranscriptStore records handled turns for operator inspection.
type TranscriptStore interface {
	// AppendTurn persists one turn and fills in its assigned ID.
	AppendTurn(ctx context.Context, turn *Turn) error

	// ListTurns returns up to limit most recent turns for a conversation,
	// oldest first.
	ListTurns(ctx context.Context, tenantID, userID string, limit int) ([]*Turn, error)
}

// Store is the combined persistence interface consumed by the gateway.
type Store interface {
	CredentialStore
	TranscriptStore

	// Ping verifies the underlying database is reachable.
	Ping(ctx context.Context) error

	// Close releases database resources.
	Close() error
}
