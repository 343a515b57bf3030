package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for table := range tableCounts(t, s) {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	seedInstance(t, s, "dep-1")
	if got := tableCounts(t, s)["executions"]; got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	if err == nil {
		t.Error("expected error for path in non-existent directory")
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db returned %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestDeleteDeployment_Cascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedInstance(t, s, "dep-1")
	seedInstance(t, s, "dep-2")

	var deleted bool
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		deleted, err = tx.DeleteDeployment(ctx, "dep-1")
		return err
	})
	if err != nil {
		t.Fatalf("DeleteDeployment() failed: %v", err)
	}
	if !deleted {
		t.Fatal("DeleteDeployment() reported nothing deleted")
	}

	// Everything belonging to dep-2 survives; dep-1 is gone everywhere.
	counts := tableCounts(t, s)
	for table, n := range counts {
		if table == "users" {
			continue
		}
		if n != 1 {
			t.Errorf("%s has %d rows after cascade, want 1", table, n)
		}
	}

	err = s.View(ctx, func(tx *Tx) error {
		_, err := tx.Execution(ctx, "dep-1-pi")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Execution(dep-1-pi) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteDeployment_Unknown(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		deleted, err := tx.DeleteDeployment(ctx, "nope")
		if deleted {
			t.Error("deleted = true for unknown deployment")
		}
		return err
	})
	if err != nil {
		t.Fatalf("DeleteDeployment() failed: %v", err)
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertDeployment(ctx, Deployment{ID: "d", Name: "d", DeployedAt: testTime}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}
	if n := tableCounts(t, s)["deployments"]; n != 0 {
		t.Errorf("deployments = %d after rollback, want 0", n)
	}
}

func TestForeignKeys_RejectOrphans(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertExecution(ctx, Execution{ID: "pi", DefinitionID: "missing", NodeID: "n", StartedAt: testTime})
	})
	if err == nil {
		t.Error("expected foreign key violation for execution without definition")
	}
}

func TestOpen_MigratesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec(`DROP INDEX idx_jobs_due; PRAGMA user_version = 0`); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
	var name string
	err = s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_jobs_due'`).Scan(&name)
	if err != nil {
		t.Errorf("idx_jobs_due missing after migration: %v", err)
	}
}
