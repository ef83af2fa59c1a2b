package models

import "encoding/json"

// Sync flag values for cached records.
const (
	// SyncedLocal marks a record created or modified locally and not yet
	// confirmed persisted remotely.
	SyncedLocal = 0
	// SyncedRemote marks a record confirmed by a remote read.
	SyncedRemote = 1
)

// CachedRecord is one row of a per-entity cache table. The domain object
// is kept as an opaque JSON blob so the cache stays schema-flexible at the
// row level; shape validation belongs to callers.
type CachedRecord struct {
	ID        ID              `db:"id" json:"id"`
	Data      json.RawMessage `db:"data" json:"data"`
	Synced    int             `db:"synced" json:"synced"`
	CreatedAt int64           `db:"created_at" json:"created_at"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
}

// IsSynced reports whether the record has been confirmed by a remote read.
func (r *CachedRecord) IsSynced() bool {
	return r.Synced == SyncedRemote
}
