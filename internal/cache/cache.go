// Package cache provides typed read/write accessors over the local store
// for each cached entity kind. Reads and writes are optimistic: rows
// written here are visible immediately, with synced = 0 until a remote
// read confirms them. Every write schedules a debounced snapshot persist.
//
// All accessors short-circuit when the store is disabled or uninitialized:
// reads return empty results and writes are no-ops, so callers need no
// environment checks of their own.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/logging"
	"github.com/kmborden/plantsync/internal/models"
	"github.com/kmborden/plantsync/internal/store"
)

// DefaultInspectionLimit caps how many cached inspections a read returns.
const DefaultInspectionLimit = 500

// Cache provides per-entity accessors over a Store.
type Cache struct {
	store           *store.Store
	inspectionLimit int
}

// New creates a Cache. inspectionLimit <= 0 selects the default cap.
func New(s *store.Store, inspectionLimit int) *Cache {
	if inspectionLimit <= 0 {
		inspectionLimit = DefaultInspectionLimit
	}
	return &Cache{store: s, inspectionLimit: inspectionLimit}
}

// =====================================================
// Equipment
// =====================================================

// Equipment returns all cached equipment records.
func (c *Cache) Equipment(ctx context.Context) ([]models.Equipment, error) {
	rows, err := c.readAll(ctx, models.EntityEquipment, 0)
	if err != nil {
		return nil, err
	}

	var out []models.Equipment
	for _, row := range rows {
		var rec models.Equipment
		if err := json.Unmarshal(row.Data, &rec); err != nil {
			logging.Warn().Err(err).Str("entity", "equipment").Str("id", row.ID.String()).
				Msg("skipping undecodable cached row")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpsertEquipment inserts or replaces a cached equipment record.
func (c *Cache) UpsertEquipment(ctx context.Context, rec *models.Equipment, synced bool) error {
	return c.upsert(ctx, models.EntityEquipment, rec.ID, rec, synced)
}

// ReplaceEquipment replaces the whole equipment cache with authoritative
// remote records (synced = 1).
func (c *Cache) ReplaceEquipment(ctx context.Context, recs []models.Equipment) error {
	rows := make([]replaceRow, 0, len(recs))
	for i := range recs {
		rows = append(rows, replaceRow{id: recs[i].ID, rec: &recs[i]})
	}
	return c.replaceAll(ctx, models.EntityEquipment, rows)
}

// =====================================================
// Plant
// =====================================================

// Plant returns all cached plant records.
func (c *Cache) Plant(ctx context.Context) ([]models.Plant, error) {
	rows, err := c.readAll(ctx, models.EntityPlant, 0)
	if err != nil {
		return nil, err
	}

	var out []models.Plant
	for _, row := range rows {
		var rec models.Plant
		if err := json.Unmarshal(row.Data, &rec); err != nil {
			logging.Warn().Err(err).Str("entity", "plant").Str("id", row.ID.String()).
				Msg("skipping undecodable cached row")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpsertPlant inserts or replaces a cached plant record.
func (c *Cache) UpsertPlant(ctx context.Context, rec *models.Plant, synced bool) error {
	return c.upsert(ctx, models.EntityPlant, rec.ID, rec, synced)
}

// ReplacePlant replaces the whole plant cache with authoritative remote
// records (synced = 1).
func (c *Cache) ReplacePlant(ctx context.Context, recs []models.Plant) error {
	rows := make([]replaceRow, 0, len(recs))
	for i := range recs {
		rows = append(rows, replaceRow{id: recs[i].ID, rec: &recs[i]})
	}
	return c.replaceAll(ctx, models.EntityPlant, rows)
}

// =====================================================
// Inspections
// =====================================================

// Inspections returns cached inspections newest-first, capped to the
// configured limit to bound memory and UI size.
func (c *Cache) Inspections(ctx context.Context) ([]models.Inspection, error) {
	rows, err := c.readAll(ctx, models.EntityInspection, c.inspectionLimit)
	if err != nil {
		return nil, err
	}

	var out []models.Inspection
	for _, row := range rows {
		var rec models.Inspection
		if err := json.Unmarshal(row.Data, &rec); err != nil {
			logging.Warn().Err(err).Str("entity", "inspection").Str("id", row.ID.String()).
				Msg("skipping undecodable cached row")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpsertInspection inserts or replaces a cached inspection record.
func (c *Cache) UpsertInspection(ctx context.Context, rec *models.Inspection, synced bool) error {
	return c.upsert(ctx, models.EntityInspection, rec.ID, rec, synced)
}

// ReplaceInspections replaces the whole inspection cache with
// authoritative remote records (synced = 1).
func (c *Cache) ReplaceInspections(ctx context.Context, recs []models.Inspection) error {
	rows := make([]replaceRow, 0, len(recs))
	for i := range recs {
		rows = append(rows, replaceRow{id: recs[i].ID, rec: &recs[i]})
	}
	return c.replaceAll(ctx, models.EntityInspection, rows)
}

// =====================================================
// Shared internals
// =====================================================

// ReplaceID rewrites a temporary record id to its server-assigned id after
// a successful create sync. The rewritten row is marked synced. Rewriting
// a missing row is a no-op: the record may already have been superseded by
// a full reload.
func (c *Cache) ReplaceID(ctx context.Context, entity models.Entity, oldID, newID models.ID) error {
	db := c.store.DB()
	if db == nil {
		return nil
	}
	if !entity.Valid() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown entity kind %q", entity))
	}
	table := entity.CacheTable()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, "SELECT data FROM "+table+" WHERE id = ?", oldID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		// Nothing to rewrite: the record may already have been superseded.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cached record %s: %w", oldID, err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return fmt.Errorf("failed to rewrite cached record %s: %w", oldID, err)
	}
	obj["id"] = string(newID)
	rewritten, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to rewrite cached record %s: %w", oldID, err)
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", oldID); err != nil {
		return fmt.Errorf("failed to remove temporary record: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+table+" (id, data, synced, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		newID, string(rewritten), models.SyncedRemote, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert rewritten record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.store.SchedulePersist()
	return nil
}

// Unsynced counts cached rows across all entity kinds that have not been
// confirmed by a remote read, which is how many optimistic records a
// reload has yet to reconcile.
func (c *Cache) Unsynced(ctx context.Context) (int, error) {
	total := 0
	for _, entity := range models.Entities() {
		rows, err := c.readAll(ctx, entity, 0)
		if err != nil {
			return 0, err
		}
		for i := range rows {
			if !rows[i].IsSynced() {
				total++
			}
		}
	}
	return total, nil
}

type replaceRow struct {
	id  models.ID
	rec interface{}
}

func (c *Cache) readAll(ctx context.Context, entity models.Entity, limit int) ([]models.CachedRecord, error) {
	db := c.store.DB()
	if db == nil {
		return nil, nil
	}

	query := "SELECT id, data, synced, created_at, updated_at FROM " + entity.CacheTable()
	args := []interface{}{}
	if limit > 0 {
		// created_at has second resolution, so same-second writes tie;
		// rowid breaks the tie in insertion order to keep newest-first
		// exact.
		query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.CachedRecord
	for rows.Next() {
		var rec models.CachedRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &data, &rec.Synced, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Data = json.RawMessage(data)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (c *Cache) upsert(ctx context.Context, entity models.Entity, id models.ID, rec interface{}, synced bool) error {
	db := c.store.DB()
	if db == nil {
		return nil
	}
	if id == "" {
		return apperrors.New(apperrors.ErrInvalid, "record id must not be empty")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record %s: %w", id, err)
	}

	now := time.Now().Unix()
	flag := models.SyncedLocal
	if synced {
		flag = models.SyncedRemote
	}

	query := `
	INSERT INTO ` + entity.CacheTable() + ` (id, data, synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data, synced = excluded.synced, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, id, string(data), flag, now, now); err != nil {
		return err
	}

	c.store.SchedulePersist()
	return nil
}

func (c *Cache) replaceAll(ctx context.Context, entity models.Entity, recs []replaceRow) error {
	db := c.store.DB()
	if db == nil {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+entity.CacheTable()); err != nil {
		return err
	}

	now := time.Now().Unix()
	// Descending timestamps keep existing list order for capped
	// newest-first reads: the server returns newest records first.
	ts := now
	for _, row := range recs {
		if row.id == "" {
			continue
		}
		data, err := json.Marshal(row.rec)
		if err != nil {
			return fmt.Errorf("failed to serialize record %s: %w", row.id, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO "+entity.CacheTable()+" (id, data, synced, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			row.id, string(data), models.SyncedRemote, ts, now)
		if err != nil {
			return err
		}
		ts--
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	c.store.SchedulePersist()
	return nil
}
