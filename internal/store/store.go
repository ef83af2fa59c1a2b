// Package store provides the embedded local database backing the offline
// cache and the operation queue. The working set lives in an in-memory
// SQLite instance; durability comes from debounced snapshot exports to the
// data directory, restored on the next initialization.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kmborden/plantsync/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SnapshotFile is the well-known snapshot name inside the data directory.
const SnapshotFile = "plantsync.snapshot.json"

// cacheTables are the tables carried across snapshots.
var cacheTables = []string{
	"equipment_cache",
	"plant_cache",
	"inspection_cache",
	"op_queue",
	"dead_letter",
}

// Options configures a Store.
type Options struct {
	// DataDir holds the persisted snapshot. Required unless Disabled.
	DataDir string

	// Debounce is the window within which persistence requests coalesce
	// into one snapshot write. Zero persists immediately on request.
	Debounce time.Duration

	// Disabled forces the store into pass-through mode: reads return
	// empty results and writes are no-ops. Used when the process has no
	// local storage to work with.
	Disabled bool
}

// Store is the embedded local database. A single instance is shared by the
// cache accessors, the operation queue and the sync engine; construct one
// and inject it rather than reaching for a global.
type Store struct {
	opts Options

	initOnce sync.Once
	initErr  error

	mu       sync.Mutex
	db       *sql.DB
	disabled bool
	closed   bool
	timer    *time.Timer

	// persistMu serializes snapshot writes: they share staging files in
	// the data directory and must never interleave.
	persistMu sync.Mutex

	persistsScheduled int64
	persistsWritten   int64
}

// New creates a Store. No disk or database access happens until Initialize.
func New(opts Options) *Store {
	return &Store{opts: opts, disabled: opts.Disabled}
}

// Initialize opens the in-memory database, applies schema migrations and
// restores the persisted snapshot if one exists. It is idempotent and safe
// to call concurrently: every caller observes the outcome of the single
// underlying initialization.
//
// A missing or unusable data directory disables the store instead of
// failing; a corrupt snapshot is discarded and the store starts empty.
func (s *Store) Initialize() error {
	s.initOnce.Do(func() {
		s.initErr = s.initialize()
	})
	return s.initErr
}

func (s *Store) initialize() error {
	if s.opts.Disabled {
		logging.Info().Msg("local store disabled by configuration")
		return nil
	}

	if err := os.MkdirAll(s.opts.DataDir, 0755); err != nil {
		logging.Warn().Err(err).Str("data_dir", s.opts.DataDir).
			Msg("data directory unavailable, running with store disabled")
		s.mu.Lock()
		s.disabled = true
		s.mu.Unlock()
		return nil
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// The in-memory instance must not be shared across pool connections:
	// each connection would see its own empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	migrator := NewMigrator(db, migrations)
	if err := migrator.Initialize(); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	if err := s.restoreSnapshot(version); err != nil {
		// Snapshot problems never fail initialization: losing cached
		// data beats a client that cannot start.
		logging.Warn().Err(err).Msg("snapshot restore failed, starting empty")
		if resetErr := s.reset(migrations); resetErr != nil {
			return resetErr
		}
	}

	return nil
}

// reset discards the current in-memory database and rebuilds an empty one.
func (s *Store) reset(migrations fs.FS) error {
	s.mu.Lock()
	old := s.db
	s.db = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	migrator := NewMigrator(db, migrations)
	if err := migrator.Initialize(); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	return nil
}

// Ready reports whether the store is initialized and usable. Callers of
// the accessor packages never need this themselves: accessors short-circuit
// to empty results on a store that is disabled or not yet initialized.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil && !s.disabled && !s.closed
}

// DB exposes the underlying handle for the accessor packages. Returns nil
// when the store is disabled or not initialized.
func (s *Store) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled || s.closed {
		return nil
	}
	return s.db
}

// SchedulePersist requests a snapshot write. Requests within the debounce
// window coalesce so a burst of mutations produces one physical write.
func (s *Store) SchedulePersist() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || s.disabled || s.closed {
		return
	}
	s.persistsScheduled++

	if s.opts.Debounce <= 0 {
		go s.persistLogged()
		return
	}

	if s.timer != nil {
		s.timer.Reset(s.opts.Debounce)
		return
	}
	s.timer = time.AfterFunc(s.opts.Debounce, s.persistLogged)
}

func (s *Store) persistLogged() {
	if err := s.Persist(); err != nil {
		logging.Error().Err(err).Msg("snapshot persist failed")
	}
}

// Persist writes the snapshot now, cancelling any pending debounced write.
func (s *Store) Persist() error {
	s.mu.Lock()

	if s.db == nil || s.disabled || s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	db := s.db
	s.mu.Unlock()

	s.persistMu.Lock()
	err := s.writeSnapshot(db)
	s.persistMu.Unlock()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.persistsWritten++
	s.mu.Unlock()
	return nil
}

// Flush is an alias for Persist used at shutdown and in tests.
func (s *Store) Flush() error {
	return s.Persist()
}

// Close flushes any pending snapshot and releases the database.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		logging.Warn().Err(err).Msg("flush on close failed")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	db := s.db
	s.db = nil
	s.mu.Unlock()

	if db == nil {
		return nil
	}

	// Wait out any in-flight snapshot write before closing the handle.
	s.persistMu.Lock()
	err := db.Close()
	s.persistMu.Unlock()
	return err
}

// Stats returns row counts and persistence counters, mainly for the agent
// status endpoint and tests.
func (s *Store) Stats() map[string]int64 {
	stats := map[string]int64{
		"equipment":          0,
		"plant":              0,
		"inspections":        0,
		"pending_ops":        0,
		"dead_letters":       0,
		"persists_scheduled": 0,
		"persists_written":   0,
	}

	s.mu.Lock()
	stats["persists_scheduled"] = s.persistsScheduled
	stats["persists_written"] = s.persistsWritten
	db := s.db
	disabled := s.disabled || s.closed
	s.mu.Unlock()

	if db == nil || disabled {
		return stats
	}

	counts := map[string]string{
		"equipment":    "equipment_cache",
		"plant":        "plant_cache",
		"inspections":  "inspection_cache",
		"pending_ops":  "op_queue",
		"dead_letters": "dead_letter",
	}
	for key, table := range counts {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err == nil {
			stats[key] = n
		}
	}
	return stats
}

// SnapshotPath returns the full path of the snapshot file.
func (s *Store) SnapshotPath() string {
	return filepath.Join(s.opts.DataDir, SnapshotFile)
}
