package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/kmborden/plantsync/internal/models"
	"github.com/kmborden/plantsync/internal/store"
	"github.com/kmborden/plantsync/internal/uuid"
)

func newTestCache(t *testing.T, inspectionLimit int) *Cache {
	t.Helper()

	s := store.New(store.Options{DataDir: t.TempDir()})
	if err := s.Initialize(); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return New(s, inspectionLimit)
}

func TestUpsertAndReadEquipment(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	rec := &models.Equipment{
		ID:           models.ID(uuid.NewTemp()),
		Name:         "Compressor A",
		SerialNumber: "CMP-001",
		Status:       "in_service",
	}
	if err := c.UpsertEquipment(ctx, rec, false); err != nil {
		t.Fatalf("failed to upsert equipment: %v", err)
	}

	got, err := c.Equipment(ctx)
	if err != nil {
		t.Fatalf("failed to read equipment: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != rec.ID || got[0].Name != "Compressor A" {
		t.Errorf("unexpected record: %+v", got[0])
	}
}

func TestUpsertIsIdempotentPerID(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	rec := &models.Plant{ID: "plant-1", Name: "North Site"}
	for i := 0; i < 3; i++ {
		rec.Name = fmt.Sprintf("North Site v%d", i)
		if err := c.UpsertPlant(ctx, rec, false); err != nil {
			t.Fatalf("failed to upsert plant: %v", err)
		}
	}

	got, err := c.Plant(ctx)
	if err != nil {
		t.Fatalf("failed to read plants: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record after repeated upserts, got %d", len(got))
	}
	if got[0].Name != "North Site v2" {
		t.Errorf("expected latest payload to win, got %q", got[0].Name)
	}
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	c := newTestCache(t, 0)

	err := c.UpsertEquipment(context.Background(), &models.Equipment{Name: "no id"}, false)
	if err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestInspectionsNewestFirstCapped(t *testing.T) {
	c := newTestCache(t, 5)
	ctx := context.Background()

	// All 10 writes land within the same second; the cap must still keep
	// the 5 most recently written rows, newest first.
	for i := 0; i < 10; i++ {
		rec := &models.Inspection{
			ID:          models.ID(fmt.Sprintf("insp-%02d", i)),
			SubjectType: models.EntityEquipment,
			SubjectID:   "eq-1",
			Result:      "pass",
		}
		if err := c.UpsertInspection(ctx, rec, true); err != nil {
			t.Fatalf("failed to upsert inspection: %v", err)
		}
	}

	got, err := c.Inspections(ctx)
	if err != nil {
		t.Fatalf("failed to read inspections: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected cap of 5 inspections, got %d", len(got))
	}
	want := []models.ID{"insp-09", "insp-08", "insp-07", "insp-06", "insp-05"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestReplaceDropsStaleRows(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	stale := &models.Equipment{ID: "eq-old", Name: "Decommissioned"}
	if err := c.UpsertEquipment(ctx, stale, false); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	fresh := []models.Equipment{
		{ID: "eq-1", Name: "Pump"},
		{ID: "eq-2", Name: "Valve"},
	}
	if err := c.ReplaceEquipment(ctx, fresh); err != nil {
		t.Fatalf("failed to replace equipment: %v", err)
	}

	got, err := c.Equipment(ctx)
	if err != nil {
		t.Fatalf("failed to read equipment: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records after replace, got %d", len(got))
	}
	for _, rec := range got {
		if rec.ID == "eq-old" {
			t.Error("stale record survived replace")
		}
	}
}

func TestReplaceInspectionsPreservesServerOrder(t *testing.T) {
	c := newTestCache(t, 3)
	ctx := context.Background()

	fresh := []models.Inspection{
		{ID: "insp-newest", SubjectID: "eq-1"},
		{ID: "insp-middle", SubjectID: "eq-1"},
		{ID: "insp-oldest", SubjectID: "eq-1"},
		{ID: "insp-overflow", SubjectID: "eq-1"},
	}
	if err := c.ReplaceInspections(ctx, fresh); err != nil {
		t.Fatalf("failed to replace inspections: %v", err)
	}

	got, err := c.Inspections(ctx)
	if err != nil {
		t.Fatalf("failed to read inspections: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 capped inspections, got %d", len(got))
	}
	if got[0].ID != "insp-newest" {
		t.Errorf("expected newest record first, got %s", got[0].ID)
	}
	for _, rec := range got {
		if rec.ID == "insp-overflow" {
			t.Error("record past the cap leaked into reads")
		}
	}
}

func TestReplaceID(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	tempID := models.ID(uuid.NewTemp())
	rec := &models.Equipment{ID: tempID, Name: "Boiler"}
	if err := c.UpsertEquipment(ctx, rec, false); err != nil {
		t.Fatalf("failed to upsert equipment: %v", err)
	}

	serverID := models.ID(uuid.New())
	if err := c.ReplaceID(ctx, models.EntityEquipment, tempID, serverID); err != nil {
		t.Fatalf("failed to rewrite id: %v", err)
	}

	got, err := c.Equipment(ctx)
	if err != nil {
		t.Fatalf("failed to read equipment: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != serverID {
		t.Errorf("expected rewritten id %s, got %s", serverID, got[0].ID)
	}
	if got[0].Name != "Boiler" {
		t.Errorf("rewrite lost record fields: %+v", got[0])
	}
}

func TestReplaceIDMissingRowIsNoOp(t *testing.T) {
	c := newTestCache(t, 0)

	err := c.ReplaceID(context.Background(), models.EntityPlant, "temp_missing", "server-id")
	if err != nil {
		t.Fatalf("expected no error for missing row, got %v", err)
	}
}

func TestReplaceIDPropagatesQueryErrors(t *testing.T) {
	s := store.New(store.Options{DataDir: t.TempDir()})
	if err := s.Initialize(); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer s.Close()
	c := New(s, 0)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, "DROP TABLE plant_cache"); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	err := c.ReplaceID(ctx, models.EntityPlant, "temp_x", "server-id")
	if err == nil {
		t.Fatal("expected database error to surface, got nil")
	}
}

func TestUnsyncedCountsOptimisticRows(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	if err := c.UpsertEquipment(ctx, &models.Equipment{ID: "eq-1"}, false); err != nil {
		t.Fatalf("failed to upsert equipment: %v", err)
	}
	if err := c.UpsertPlant(ctx, &models.Plant{ID: "plant-1"}, false); err != nil {
		t.Fatalf("failed to upsert plant: %v", err)
	}
	if err := c.UpsertInspection(ctx, &models.Inspection{ID: "insp-1"}, true); err != nil {
		t.Fatalf("failed to upsert inspection: %v", err)
	}

	n, err := c.Unsynced(ctx)
	if err != nil {
		t.Fatalf("failed to count unsynced rows: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 unsynced rows, got %d", n)
	}

	if err := c.ReplaceEquipment(ctx, []models.Equipment{{ID: "eq-1"}}); err != nil {
		t.Fatalf("failed to replace equipment: %v", err)
	}
	n, err = c.Unsynced(ctx)
	if err != nil {
		t.Fatalf("failed to count unsynced rows: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 unsynced row after replace, got %d", n)
	}
}

func TestDisabledStoreShortCircuits(t *testing.T) {
	s := store.New(store.Options{Disabled: true})
	if err := s.Initialize(); err != nil {
		t.Fatalf("failed to initialize disabled store: %v", err)
	}
	defer s.Close()
	c := New(s, 0)
	ctx := context.Background()

	if err := c.UpsertEquipment(ctx, &models.Equipment{ID: "eq-1"}, false); err != nil {
		t.Fatalf("expected no-op write, got %v", err)
	}
	got, err := c.Equipment(ctx)
	if err != nil {
		t.Fatalf("expected empty read, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records from disabled store, got %d", len(got))
	}
}
