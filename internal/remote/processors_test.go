package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kmborden/plantsync/internal/cache"
	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/models"
	"github.com/kmborden/plantsync/internal/queue"
	"github.com/kmborden/plantsync/internal/store"
	"github.com/kmborden/plantsync/internal/uuid"
)

func newTestCache(t *testing.T) (*cache.Cache, *queue.Queue) {
	t.Helper()

	s := store.New(store.Options{DataDir: t.TempDir()})
	if err := s.Initialize(); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return cache.New(s, 0), queue.New(s, 0)
}

func TestCreateProcessorRewritesTempID(t *testing.T) {
	c, q := newTestCache(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "srv-1"})
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "")

	tempID := models.ID(uuid.NewTemp())
	rec := &models.Equipment{ID: tempID, Name: "Hoist"}
	if err := c.UpsertEquipment(ctx, rec, false); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}
	op, err := q.EnqueueCreate(ctx, models.EntityEquipment, rec)
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	procs := Processors(client, c)
	done, err := procs[models.EntityEquipment](ctx, op)
	if err != nil || !done {
		t.Fatalf("expected create applied, got done=%v err=%v", done, err)
	}

	got, err := c.Equipment(ctx)
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != "srv-1" {
		t.Errorf("expected server id in cache, got %s", got[0].ID)
	}
}

func TestCreateProcessorKeepsServerAssignedIDs(t *testing.T) {
	c, q := newTestCache(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "srv-2"})
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "")

	// Non-temporary id: no rewrite should happen.
	rec := &models.Plant{ID: "plant-existing", Name: "Crane"}
	if err := c.UpsertPlant(ctx, rec, false); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}
	op, err := q.EnqueueCreate(ctx, models.EntityPlant, rec)
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	procs := Processors(client, c)
	if done, err := procs[models.EntityPlant](ctx, op); err != nil || !done {
		t.Fatalf("expected create applied, got done=%v err=%v", done, err)
	}

	got, err := c.Plant(ctx)
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}
	if len(got) != 1 || got[0].ID != "plant-existing" {
		t.Errorf("expected untouched cache row, got %+v", got)
	}
}

func TestProcessorRetryVersusDrop(t *testing.T) {
	c, q := newTestCache(t)
	ctx := context.Background()

	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "")
	procs := Processors(client, c)

	op, err := q.EnqueueDelete(ctx, models.EntityEquipment, "eq-1")
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	// 5xx: transient, keep the operation.
	done, err := procs[models.EntityEquipment](ctx, op)
	if done || err == nil {
		t.Errorf("expected retryable failure for 5xx, got done=%v err=%v", done, err)
	}

	// 4xx: terminal, drop the operation.
	status = http.StatusNotFound
	done, err = procs[models.EntityEquipment](ctx, op)
	if !done || err != nil {
		t.Errorf("expected rejected delete treated as applied, got done=%v err=%v", done, err)
	}
}

func TestProcessorFlagsUndecodablePayloads(t *testing.T) {
	c, q := newTestCache(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("remote must not be called for an undecodable payload")
	}))
	defer srv.Close()
	procs := Processors(NewClient(srv.URL, ""), c)

	// An update payload without a target id can never be applied.
	op, err := q.Enqueue(ctx, models.EntityPlant, models.OpUpdate, []byte(`{"input":{"name":"Crusher"}}`))
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	done, err := procs[models.EntityPlant](ctx, op)
	if done {
		t.Error("expected operation left for the engine to dead-letter")
	}
	if !apperrors.Is(err, apperrors.ErrQueuePayload) {
		t.Errorf("expected payload error, got %v", err)
	}
}

func TestUpdateProcessorSendsTargetID(t *testing.T) {
	c, q := newTestCache(t)
	ctx := context.Background()

	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "")

	op, err := q.EnqueueUpdate(ctx, models.EntityInspection, "insp-9", map[string]string{"result": "fail"})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	procs := Processors(client, c)
	if done, err := procs[models.EntityInspection](ctx, op); err != nil || !done {
		t.Fatalf("expected update applied, got done=%v err=%v", done, err)
	}
	if gotMethod != "PUT" || !strings.HasSuffix(gotPath, "/api/inspection/insp-9") {
		t.Errorf("unexpected request: %s %s", gotMethod, gotPath)
	}
}

func TestReloaderReplacesAllCaches(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/equipment":
			json.NewEncoder(w).Encode(map[string]interface{}{"data": []models.Equipment{{ID: "eq-1"}}})
		case "/api/plant":
			json.NewEncoder(w).Encode(map[string]interface{}{"data": []models.Plant{{ID: "plant-1"}}})
		case "/api/inspection":
			json.NewEncoder(w).Encode(map[string]interface{}{"data": []models.Inspection{{ID: "insp-1"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "")

	// Stale optimistic row that the reload must replace.
	if err := c.UpsertEquipment(ctx, &models.Equipment{ID: models.ID(uuid.NewTemp())}, false); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	if err := Reloader(client, c)(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	equipment, err := c.Equipment(ctx)
	if err != nil {
		t.Fatalf("failed to read equipment: %v", err)
	}
	if len(equipment) != 1 || equipment[0].ID != "eq-1" {
		t.Errorf("unexpected equipment after reload: %+v", equipment)
	}

	plant, err := c.Plant(ctx)
	if err != nil {
		t.Fatalf("failed to read plant: %v", err)
	}
	if len(plant) != 1 || plant[0].ID != "plant-1" {
		t.Errorf("unexpected plant after reload: %+v", plant)
	}

	inspections, err := c.Inspections(ctx)
	if err != nil {
		t.Fatalf("failed to read inspections: %v", err)
	}
	if len(inspections) != 1 || inspections[0].ID != "insp-1" {
		t.Errorf("unexpected inspections after reload: %+v", inspections)
	}
}
