// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers credential slots, transcript turns, and reopen behavior

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// newTestStore creates a SQLite store in a temporary directory.
func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestRefreshTokenSlot_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRefreshToken(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRefreshToken() on empty store error = %v, want ErrNotFound", err)
	}

	if err := s.PutRefreshToken(ctx, "t1", "refresh-1"); err != nil {
		t.Fatalf("PutRefreshToken() error = %v", err)
	}

	token, err := s.GetRefreshToken(ctx, "t1")
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if token != "refresh-1" {
		t.Errorf("GetRefreshToken() = %q, want %q", token, "refresh-1")
	}
}

func TestRefreshTokenSlot_OverwriteReplacesValue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutRefreshToken(ctx, "t1", "old"); err != nil {
		t.Fatalf("PutRefreshToken() error = %v", err)
	}
	if err := s.PutRefreshToken(ctx, "t1", "new"); err != nil {
		t.Fatalf("PutRefreshToken() overwrite error = %v", err)
	}

	token, err := s.GetRefreshToken(ctx, "t1")
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if token != "new" {
		t.Errorf("GetRefreshToken() = %q, want %q", token, "new")
	}
}

func TestRefreshTokenSlot_PerTenantIsolation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutRefreshToken(ctx, "t1", "token-t1"); err != nil {
		t.Fatalf("PutRefreshToken(t1) error = %v", err)
	}
	if err := s.PutRefreshToken(ctx, "t2", "token-t2"); err != nil {
		t.Fatalf("PutRefreshToken(t2) error = %v", err)
	}

	t1, err := s.GetRefreshToken(ctx, "t1")
	if err != nil {
		t.Fatalf("GetRefreshToken(t1) error = %v", err)
	}
	t2, err := s.GetRefreshToken(ctx, "t2")
	if err != nil {
		t.Fatalf("GetRefreshToken(t2) error = %v", err)
	}
	if t1 != "token-t1" || t2 != "token-t2" {
		t.Errorf("slots collided: t1=%q t2=%q", t1, t2)
	}
}

func TestDeleteRefreshToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutRefreshToken(ctx, "t1", "token"); err != nil {
		t.Fatalf("PutRefreshToken() error = %v", err)
	}
	if err := s.DeleteRefreshToken(ctx, "t1"); err != nil {
		t.Fatalf("DeleteRefreshToken() error = %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRefreshToken() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting a missing slot is not an error.
	if err := s.DeleteRefreshToken(ctx, "missing"); err != nil {
		t.Errorf("DeleteRefreshToken() on missing slot error = %v", err)
	}
}

func TestAppendTurn_AssignsIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := &Turn{TenantID: "t1", UserID: "u1", Direction: DirectionInbound, Body: "hi", MessageID: "m1"}
	if err := s.AppendTurn(ctx, first); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if first.ID == 0 {
		t.Error("AppendTurn() did not assign an ID")
	}

	second := &Turn{TenantID: "t1", UserID: "u1", Direction: DirectionOutbound, Backend: "gemini", Body: "hello"}
	if err := s.AppendTurn(ctx, second); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("turn IDs not monotonic: first=%d second=%d", first.ID, second.ID)
	}
}

func TestListTurns_OldestFirstAndScoped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, turn := range []*Turn{
		{TenantID: "t1", UserID: "u1", Direction: DirectionInbound, Body: "one"},
		{TenantID: "t1", UserID: "u1", Direction: DirectionOutbound, Body: "two"},
		{TenantID: "t1", UserID: "u2", Direction: DirectionInbound, Body: "other user"},
		{TenantID: "t2", UserID: "u1", Direction: DirectionInbound, Body: "other tenant"},
		{TenantID: "t1", UserID: "u1", Direction: DirectionInbound, Body: "three"},
	} {
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	turns, err := s.ListTurns(ctx, "t1", "u1", 10)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("ListTurns() returned %d turns, want 3", len(turns))
	}
	for i, want := range []string{"one", "two", "three"} {
		if turns[i].Body != want {
			t.Errorf("turns[%d].Body = %q, want %q", i, turns[i].Body, want)
		}
	}
}

func TestListTurns_LimitKeepsMostRecent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c", "d"} {
		if err := s.AppendTurn(ctx, &Turn{TenantID: "t1", UserID: "u1", Direction: DirectionInbound, Body: body}); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	turns, err := s.ListTurns(ctx, "t1", "u1", 2)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("ListTurns() returned %d turns, want 2", len(turns))
	}
	if turns[0].Body != "c" || turns[1].Body != "d" {
		t.Errorf("ListTurns() = [%q, %q], want [c, d]", turns[0].Body, turns[1].Body)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.PutRefreshToken(ctx, "t1", "durable"); err != nil {
		t.Fatalf("PutRefreshToken() error = %v", err)
	}
	if err := s.AppendTurn(ctx, &Turn{TenantID: "t1", UserID: "u1", Direction: DirectionInbound, Body: "kept"}); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()

	token, err := reopened.GetRefreshToken(ctx, "t1")
	if err != nil {
		t.Fatalf("GetRefreshToken() after reopen error = %v", err)
	}
	if token != "durable" {
		t.Errorf("GetRefreshToken() = %q, want %q", token, "durable")
	}

	turns, err := reopened.ListTurns(ctx, "t1", "u1", 10)
	if err != nil {
		t.Fatalf("ListTurns() after reopen error = %v", err)
	}
	if len(turns) != 1 || turns[0].Body != "kept" {
		t.Errorf("transcript not preserved across reopen: %+v", turns)
	}
}
