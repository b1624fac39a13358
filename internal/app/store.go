package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// The store is one named, versioned database holding three keyed collections.
// Records are stored as JSON payloads keyed by their own id field.
const (
	CollectionSessions  = "sessions"
	CollectionProtocols = "protocols"
	CollectionRegistry  = "registry"

	dbFileName      = "neural-lab.db"
	schemaVersion   = 1
	currentUserFile = "current_user.json"
)

var collectionTables = map[string]string{
	CollectionSessions:  "cloud_sessions",
	CollectionProtocols: "cloud_protocols",
	CollectionRegistry:  "cloud_registry",
}

// RecordStore is the durable collection-based key-value layer local to the
// device. The connection is established lazily and the schema-ensure step is
// idempotent, so opening an already-initialized database is a no-op.
type RecordStore struct {
	Root   string
	dbPath string

	// HandshakeDelay simulates the remote sync acknowledgment awaited on every
	// write. In-memory state is updated optimistically before this returns.
	HandshakeDelay time.Duration

	Logger *Logger

	mu sync.Mutex
	db *sql.DB
}

func DefaultDataRoot() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "neural-lab")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "neural-lab")
	}
	return filepath.Join(os.TempDir(), "neural-lab")
}

func NewRecordStore(root string, logger *Logger) (*RecordStore, error) {
	if strings.TrimSpace(root) == "" {
		root = DefaultDataRoot()
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &StoreUnavailableError{Op: "open", Err: err}
	}
	return &RecordStore{
		Root:   root,
		dbPath: filepath.Join(root, dbFileName),
		Logger: logger,
	}, nil
}

// open establishes the connection on first use and ensures each collection
// table exists. Safe to call after PurgeAll; the database is recreated.
func (s *RecordStore) open() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "open", Err: err}
	}
	// Keep sqlite responsive under contention.
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	_, _ = db.Exec("PRAGMA journal_mode = WAL;")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

	for _, table := range collectionTables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		);`, table)
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, &StoreUnavailableError{Op: "open", Err: err}
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
		_ = db.Close()
		return nil, &StoreUnavailableError{Op: "open", Err: err}
	}

	s.db = db
	return db, nil
}

func tableFor(collection string) (string, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return "", fmt.Errorf("unknown collection %q", collection)
	}
	return table, nil
}

// Put upserts record keyed by id, then awaits the simulated remote
// acknowledgment. Callers must not treat the write as durable before Put
// returns.
func (s *RecordStore) Put(ctx context.Context, collection, id string, record interface{}) error {
	table, err := tableFor(collection)
	if err != nil {
		return &StoreUnavailableError{Op: "put", Err: err}
	}
	if strings.TrimSpace(id) == "" {
		return &StoreUnavailableError{Op: "put", Err: errors.New("missing record id")}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return &StoreUnavailableError{Op: "put", Err: err}
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO `+table+`(id, payload) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		id, string(payload),
	)
	if err != nil {
		return &StoreUnavailableError{Op: "put", Err: err}
	}
	return s.handshake(ctx)
}

// GetAll returns every record payload in the collection, unordered. Callers
// impose their own ordering.
func (s *RecordStore) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "getAll", Err: err}
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT payload FROM `+table)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "getAll", Err: err}
	}
	defer rows.Close()

	out := make([][]byte, 0, 16)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		out = append(out, []byte(payload))
	}
	return out, rows.Err()
}

// Delete removes the record if present. Deleting an absent id is a no-op.
func (s *RecordStore) Delete(ctx context.Context, collection, id string) error {
	table, err := tableFor(collection)
	if err != nil {
		return &StoreUnavailableError{Op: "delete", Err: err}
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return &StoreUnavailableError{Op: "delete", Err: err}
	}
	return nil
}

// PurgeAll destroys the database and clears auxiliary local state. When the
// database deletion is blocked (another open handle, stray directory), the
// auxiliary clear still runs and the call still reports success; the auxiliary
// clear is what makes the next start appear logged-out and empty.
func (s *RecordStore) PurgeAll(ctx context.Context) error {
	s.mu.Lock()
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	s.mu.Unlock()

	for _, path := range []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.Logger.Warn("database deletion blocked", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	if err := s.ClearCurrentUser(); err != nil {
		return &StoreUnavailableError{Op: "purge", Err: err}
	}
	return nil
}

// handshake is the bounded simulated round-trip acknowledging a write.
func (s *RecordStore) handshake(ctx context.Context) error {
	if s.HandshakeDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.HandshakeDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *RecordStore) currentUserPath() string {
	return filepath.Join(s.Root, currentUserFile)
}

// SaveCurrentUser persists the logged-in identity under the fixed auxiliary
// key read at startup.
func (s *RecordStore) SaveCurrentUser(u User) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return os.WriteFile(s.currentUserPath(), payload, 0o600)
}

// LoadCurrentUser returns nil with no error when nobody is logged in.
func (s *RecordStore) LoadCurrentUser() (*User, error) {
	payload, err := os.ReadFile(s.currentUserPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var u User
	if err := json.Unmarshal(payload, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *RecordStore) ClearCurrentUser() error {
	if err := os.Remove(s.currentUserPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// loadAll decodes every record of a collection. Records that fail to decode
// are skipped rather than failing the whole read.
func loadAll[T any](ctx context.Context, s *RecordStore, collection string) ([]T, error) {
	payloads, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(payloads))
	for _, payload := range payloads {
		var record T
		if err := json.Unmarshal(payload, &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}
