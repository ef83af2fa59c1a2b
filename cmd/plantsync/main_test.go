package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kmborden/plantsync/internal/cache"
	"github.com/kmborden/plantsync/internal/models"
	"github.com/kmborden/plantsync/internal/store"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()

	s := store.New(store.Options{DataDir: t.TempDir()})
	if err := s.Initialize(); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return cache.New(s, 0)
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected ok status, got %q", body["status"])
	}

	rec = httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestHandleRecordsServesCachedRows(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	eq := &models.Equipment{ID: "eq-1", Name: "Angle Grinder", Status: "in_service"}
	if err := c.UpsertEquipment(ctx, eq, true); err != nil {
		t.Fatalf("failed to upsert: %v", err)
	}

	rec := httptest.NewRecorder()
	handleRecords(c)(rec, httptest.NewRequest(http.MethodGet, "/api/records/equipment", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data []models.Equipment `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != "eq-1" {
		t.Errorf("unexpected records: %+v", body.Data)
	}
}

func TestHandleRecordsRejectsUnknownEntity(t *testing.T) {
	c := newTestCache(t)

	rec := httptest.NewRecorder()
	handleRecords(c)(rec, httptest.NewRequest(http.MethodGet, "/api/records/widgets", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown entity, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handleRecords(c)(rec, httptest.NewRequest(http.MethodPost, "/api/records/equipment", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}
