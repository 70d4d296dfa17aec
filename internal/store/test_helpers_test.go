package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/timelock/internal/ir"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createInitializedStore creates a store with settings already written.
func createInitializedStore(t *testing.T, delay time.Duration) *Store {
	t.Helper()
	s := createTestStore(t)
	withTx(t, s, func(tx *Tx) {
		if err := tx.InitSettings(context.Background(), delay); err != nil {
			t.Fatalf("InitSettings() failed: %v", err)
		}
	})
	return s
}

// withTx runs fn in a transaction and commits it.
func withTx(t *testing.T, s *Store, fn func(tx *Tx)) {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

// insertTestRequest allocates an id and stores a request with the given actions.
func insertTestRequest(t *testing.T, tx *Tx, actions []ir.Action, mask ir.Bitmap) uint64 {
	t.Helper()
	ctx := context.Background()
	id, err := tx.AllocateRequestID(ctx)
	if err != nil {
		t.Fatalf("AllocateRequestID() failed: %v", err)
	}
	req := ir.Request{
		ID:              id,
		Actions:         actions,
		AllowFailureMap: mask,
		CreatedAt:       testEpoch,
	}
	if err := tx.InsertRequest(ctx, req); err != nil {
		t.Fatalf("InsertRequest() failed: %v", err)
	}
	return id
}

func testActions() []ir.Action {
	return []ir.Action{
		{Target: "treasury", Value: 100, Data: []byte{0x01}},
		{Target: "registry", Data: []byte("upgrade")},
	}
}
