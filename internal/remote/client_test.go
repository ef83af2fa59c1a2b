package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/models"
)

func TestCreateReturnsServerID(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body["name"] != "Pump" {
			t.Errorf("unexpected body: %v", body)
		}

		json.NewEncoder(w).Encode(map[string]string{"id": "srv-123"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-1")
	id, err := client.Create(context.Background(), models.EntityEquipment, json.RawMessage(`{"name":"Pump"}`))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != "srv-123" {
		t.Errorf("expected id srv-123, got %s", id)
	}
	if gotAuth != "Bearer token-1" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if gotPath != "/api/equipment" {
		t.Errorf("unexpected path: %q", gotPath)
	}
}

func TestCreateWithoutIDFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if _, err := client.Create(context.Background(), models.EntityPlant, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for response without id")
	}
}

func TestRejectionVersusUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode apperrors.ErrorCode
		rejected bool
	}{
		{"bad request", http.StatusBadRequest, apperrors.ErrRemoteRejected, true},
		{"conflict", http.StatusConflict, apperrors.ErrRemoteRejected, true},
		{"server error", http.StatusInternalServerError, apperrors.ErrRemoteUnavailable, false},
		{"bad gateway", http.StatusBadGateway, apperrors.ErrRemoteUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "")
			err := client.Delete(context.Background(), models.EntityEquipment, "eq-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if !apperrors.Is(err, tt.wantCode) {
				t.Errorf("expected code %s, got %v", tt.wantCode, err)
			}
			if IsRejection(err) != tt.rejected {
				t.Errorf("IsRejection = %v, want %v", IsRejection(err), tt.rejected)
			}
		})
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(srv.URL, "")
	err := client.Update(context.Background(), models.EntityPlant, "plant-1", json.RawMessage(`{}`))
	if !apperrors.Is(err, apperrors.ErrRemoteUnavailable) {
		t.Errorf("expected ErrRemoteUnavailable, got %v", err)
	}
}

func TestListForceFresh(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []models.Inspection{{ID: "insp-1", Result: "pass"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	got, err := client.ListInspections(context.Background(), true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "insp-1" {
		t.Errorf("unexpected list result: %+v", got)
	}
	if gotQuery != "fresh=1" {
		t.Errorf("expected fresh=1 query, got %q", gotQuery)
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if !client.Health(context.Background()) {
		t.Error("expected healthy")
	}
	healthy = false
	if client.Health(context.Background()) {
		t.Error("expected unhealthy")
	}
}
