package storage

import (
	"context"
	"os"
	"testing"

	"github.com/vote-bft/vote-node/internal/config"
)

// openTestStore connects to a real Postgres instance configured via the
// usual DB_* environment variables, gated on RUN_STORAGE_TESTS so these
// integration tests are skipped in environments without a database, the
// same way the teacher's repository tests guard on a live connection
// before exercising SQL.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("RUN_STORAGE_TESTS") == "" {
		t.Skip("RUN_STORAGE_TESTS not set, skipping storage integration test")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestStoreElectionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id := "deadbeef"
	if err := s.StoreElection(ctx, id, []byte(`{"name":"test"}`)); err != nil {
		t.Fatalf("store election: %v", err)
	}

	row, err := s.GetElection(ctx, id)
	if err != nil {
		t.Fatalf("get election: %v", err)
	}
	if row.Closed {
		t.Errorf("newly stored election should be open")
	}

	if _, err := s.GetElection(ctx, "does-not-exist"); err != ErrElectionNotFound {
		t.Errorf("expected ErrElectionNotFound, got %v", err)
	}
}

func TestNullifierDoubleSpendRejected(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tx, err := s.BeginFinalize(ctx)
	if err != nil {
		t.Fatalf("begin finalize: %v", err)
	}
	defer tx.Rollback()

	if err := tx.StoreNullifier(ctx, "election-a", "nf-1"); err != nil {
		t.Fatalf("first nullifier insert: %v", err)
	}
	if err := tx.StoreNullifier(ctx, "election-a", "nf-1"); err != ErrDuplicateNullifier {
		t.Errorf("expected ErrDuplicateNullifier, got %v", err)
	}
}
