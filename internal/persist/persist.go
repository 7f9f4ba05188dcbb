// Package persist stores the engine snapshot across restarts in a small
// sqlite keyed blob store.
package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/foshk/gateway/internal/state"
)

const snapshotKey = "engine_snapshot"

// Store is the sqlite-backed keyed blob store.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Open creates or opens the snapshot database.
func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store %s: %w", path, err)
	}
	// one writer at shutdown, one reader at startup
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, blob []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, blob, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) get(key string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return blob, err
}

// SaveSnapshot writes the engine snapshot.  Called once at graceful
// shutdown.
func (s *Store) SaveSnapshot(snap *state.Snapshot) error {
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.put(snapshotKey, blob); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	s.logger.Infof("persist: snapshot saved, %d bytes", len(blob))
	return nil
}

// LoadSnapshot reads the stored snapshot; (nil, nil) when none exists.
func (s *Store) LoadSnapshot() (*state.Snapshot, error) {
	blob, err := s.get(snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if blob == nil {
		return nil, nil
	}
	var snap state.Snapshot
	if err := msgpack.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// Restore loads the stored snapshot into the engine, subject to the
// engine's age and interval checks.  Refusals are downgraded to log
// lines: a stale snapshot means a cold start, not a startup failure.
func Restore(store *Store, engine *state.Engine, maxAge time.Duration, logger *zap.SugaredLogger) {
	snap, err := store.LoadSnapshot()
	if err != nil {
		logger.Errorf("persist: %v", err)
		return
	}
	if snap == nil {
		logger.Info("persist: no previous snapshot, starting cold")
		return
	}
	if err := engine.RestoreSnapshot(snap, maxAge); err != nil {
		logger.Warnf("persist: discarding snapshot: %v", err)
		return
	}
	logger.Infof("persist: state restored from %s", snap.StopTime.Format("2006-01-02 15:04:05"))
}
