package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	store, err := NewRecordStore(t.TempDir(), NewLogger(nil))
	if err != nil {
		t.Fatalf("record store: %v", err)
	}
	return store
}

func TestRecordStoreSchemaEnsureIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first, err := NewRecordStore(root, NewLogger(nil))
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Put(ctx, CollectionProtocols, "p1", Protocol{ID: "p1", Title: "one"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A second store over the same database re-runs the schema-ensure step.
	second, err := NewRecordStore(root, NewLogger(nil))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	records, err := second.GetAll(ctx, CollectionProtocols)
	if err != nil {
		t.Fatalf("getAll after reopen: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after reopen, got %d", len(records))
	}
}

func TestRecordStorePutGetRoundTripAndReplace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	original := Protocol{ID: "ev-1", Title: "Rust Expert", SystemInstruction: "be strict", IsEvolved: true}
	if err := store.Put(ctx, CollectionProtocols, original.ID, original); err != nil {
		t.Fatalf("put: %v", err)
	}

	records, err := store.GetAll(ctx, CollectionProtocols)
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	var got Protocol
	if err := json.Unmarshal(records[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != original {
		t.Fatalf("round trip mismatch:\n got: %#v\nwant: %#v", got, original)
	}

	// Same id replaces; collection size unchanged.
	replacement := original
	replacement.Title = "Zig Expert"
	if err := store.Put(ctx, CollectionProtocols, replacement.ID, replacement); err != nil {
		t.Fatalf("replace put: %v", err)
	}
	records, err = store.GetAll(ctx, CollectionProtocols)
	if err != nil {
		t.Fatalf("getAll after replace: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after replace, got %d", len(records))
	}
	if err := json.Unmarshal(records[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Title != "Zig Expert" {
		t.Fatalf("expected replaced title, got %q", got.Title)
	}
}

func TestRecordStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Put(ctx, CollectionRegistry, "u1", User{ID: "u1", Name: "Ada"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, CollectionRegistry, "nonexistent"); err != nil {
		t.Fatalf("delete absent id should be a no-op, got %v", err)
	}
	records, err := store.GetAll(ctx, CollectionRegistry)
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("collection changed by absent delete: %d records", len(records))
	}

	if err := store.Delete(ctx, CollectionRegistry, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, CollectionRegistry, "u1"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestRecordStorePurgeClearsAuxiliaryStateWhenDeletionBlocked(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewRecordStore(root, NewLogger(nil))
	if err != nil {
		t.Fatalf("record store: %v", err)
	}

	if err := store.Put(ctx, CollectionSessions, "s1", Session{ID: "s1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.SaveCurrentUser(User{ID: "u1", Name: "Ada", Role: RoleAdmin}); err != nil {
		t.Fatalf("save current user: %v", err)
	}

	// Make the database file undeletable: swap it for a non-empty directory
	// so os.Remove reports the deletion as blocked.
	dbPath := filepath.Join(root, dbFileName)
	store.mu.Lock()
	if store.db != nil {
		_ = store.db.Close()
		store.db = nil
	}
	store.mu.Unlock()
	if err := os.RemoveAll(dbPath); err != nil {
		t.Fatalf("remove db: %v", err)
	}
	if err := os.Mkdir(dbPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dbPath, "pin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("pin file: %v", err)
	}

	if err := store.PurgeAll(ctx); err != nil {
		t.Fatalf("purge must report success despite blocked deletion, got %v", err)
	}
	if user, err := store.LoadCurrentUser(); err != nil || user != nil {
		t.Fatalf("auxiliary current-user state survived purge: user=%v err=%v", user, err)
	}
}

func TestRecordStoreRejectsUnknownCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Put(ctx, "bogus", "id", struct{}{}); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
	if _, err := store.GetAll(ctx, "bogus"); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
}
