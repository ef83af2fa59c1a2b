package store

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/logging"
)

// snapshotEnvelope is the on-disk snapshot format: a schema-version marker
// plus the base64-encoded SQLite image. The version marker guards against
// loading a snapshot written by an incompatible schema.
type snapshotEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	SavedAt       int64  `json:"saved_at"`
	Data          string `json:"data"`
}

// writeSnapshot exports the database image and atomically replaces the
// snapshot file.
func (s *Store) writeSnapshot(db *sql.DB) error {
	tmpDB := filepath.Join(s.opts.DataDir, ".snapshot.tmp.db")
	os.Remove(tmpDB) // VACUUM INTO refuses to overwrite
	defer os.Remove(tmpDB)

	if _, err := db.Exec("VACUUM INTO ?", tmpDB); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistFailed, "failed to export database image", err)
	}

	raw, err := os.ReadFile(tmpDB)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistFailed, "failed to read exported image", err)
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistFailed, "failed to read schema version", err)
	}

	env := snapshotEnvelope{
		SchemaVersion: version,
		SavedAt:       time.Now().Unix(),
		Data:          base64.StdEncoding.EncodeToString(raw),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistFailed, "failed to marshal snapshot envelope", err)
	}

	path := s.SnapshotPath()
	tmpJSON := path + ".tmp"
	if err := os.WriteFile(tmpJSON, data, 0644); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistFailed, "failed to write snapshot", err)
	}
	if err := os.Rename(tmpJSON, path); err != nil {
		os.Remove(tmpJSON)
		return apperrors.Wrap(apperrors.ErrPersistFailed, "failed to replace snapshot", err)
	}

	logging.Debug().Int("schema_version", version).Int("bytes", len(raw)).Msg("snapshot written")
	return nil
}

// restoreSnapshot loads the persisted snapshot into the fresh in-memory
// database. Missing snapshot is not an error; a corrupt or incompatible one
// is, and the caller resets to an empty store.
func (s *Store) restoreSnapshot(currentVersion int) error {
	path := s.SnapshotPath()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "failed to read snapshot", err)
	}

	var env snapshotEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "failed to parse snapshot envelope", err)
	}
	if env.SchemaVersion <= 0 || env.SchemaVersion > currentVersion {
		return apperrors.New(apperrors.ErrSnapshotCorrupt,
			fmt.Sprintf("snapshot schema version %d not usable with current version %d", env.SchemaVersion, currentVersion))
	}

	blob, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "failed to decode snapshot image", err)
	}

	tmp := filepath.Join(s.opts.DataDir, ".restore.tmp.db")
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "failed to stage snapshot image", err)
	}
	defer os.Remove(tmp)

	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if _, err := db.Exec("ATTACH DATABASE ? AS snap", tmp); err != nil {
		return apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "failed to attach snapshot image", err)
	}
	defer db.Exec("DETACH DATABASE snap")

	restored := 0
	for _, table := range cacheTables {
		var exists int
		if err := db.QueryRow(
			"SELECT COUNT(*) FROM snap.sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&exists); err != nil {
			return apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "failed to inspect snapshot image", err)
		}
		if exists == 0 {
			continue
		}

		res, err := db.Exec("INSERT OR REPLACE INTO main." + table + " SELECT * FROM snap." + table)
		if err != nil {
			// An older snapshot may carry an incompatible column set for
			// this table; that table starts empty rather than failing
			// the whole restore.
			logging.Warn().Err(err).Str("table", table).Msg("skipping incompatible snapshot table")
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			restored += int(n)
		}
	}

	logging.Info().Int("rows", restored).Int("schema_version", env.SchemaVersion).Msg("snapshot restored")
	return nil
}
