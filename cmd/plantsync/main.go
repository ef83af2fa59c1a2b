// Package main runs the plantsync agent: a localhost process that owns
// the offline cache and operation queue, drains them against the remote
// compliance API, and serves status to local UI clients over HTTP and
// WebSocket on the loopback interface.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kmborden/plantsync/internal/cache"
	"github.com/kmborden/plantsync/internal/config"
	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/logging"
	"github.com/kmborden/plantsync/internal/models"
	"github.com/kmborden/plantsync/internal/queue"
	"github.com/kmborden/plantsync/internal/remote"
	"github.com/kmborden/plantsync/internal/status"
	"github.com/kmborden/plantsync/internal/store"
	syncpkg "github.com/kmborden/plantsync/internal/sync"
	"github.com/kmborden/plantsync/internal/sync/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		logging.Init("info", os.Stderr)
		logging.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel, os.Stderr)

	s := store.New(store.Options{
		DataDir:  cfg.DataDir,
		Debounce: cfg.PersistDebounce,
	})
	if err := s.Initialize(); err != nil {
		logging.Error().Err(err).Msg("failed to initialize local store")
		os.Exit(1)
	}
	defer s.Close()

	c := cache.New(s, cfg.InspectionCacheLimit)
	q := queue.New(s, cfg.BatchSize)
	client := remote.NewClient(cfg.RemoteURL, cfg.APIToken)

	engine := syncpkg.New(q, syncpkg.Options{
		Processors:  remote.Processors(client, c),
		Reload:      remote.Reloader(client, c),
		MaxAttempts: cfg.MaxAttempts,
	})

	sched := scheduler.New(engine, scheduler.Options{
		Interval:      cfg.SyncInterval,
		Jitter:        cfg.SyncJitter,
		Probe:         client,
		ProbeInterval: cfg.ProbeInterval,
	})

	hub := status.NewHub()
	engine.SetEventHandler(func(ev syncpkg.Event) {
		switch ev.Type {
		case syncpkg.EventStarted:
			hub.PublishSyncStarted(ev.Pending)
		case syncpkg.EventCompleted:
			hub.PublishSyncCompleted(ev.Pending)
		case syncpkg.EventFailed:
			msg := ""
			if ev.Error != nil {
				msg = ev.Error.Error()
			}
			hub.PublishSyncFailed(ev.Pending, msg)
			// An unreachable remote flips us offline; the health probe
			// brings us back and retriggers the sync.
			if apperrors.Is(ev.Error, apperrors.ErrRemoteUnavailable) {
				sched.SetOnline(false)
			}
		}
		publishState(ctx, hub, sched, q)
	})

	sched.Start(ctx)
	defer sched.Stop()

	// Come online as soon as the remote answers; the probe keeps trying
	// in the background otherwise.
	if client.Health(ctx) {
		sched.SetOnline(true)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/status", handleStatus(sched, engine, q, c, s))
	mux.HandleFunc("/api/records/", handleRecords(c))
	mux.HandleFunc("/api/sync", handleSyncNow(sched))
	mux.HandleFunc("/ws", status.Handler(hub))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		logging.Info().Str("addr", cfg.ListenAddr).Msg("agent listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown incomplete")
	}
}

func publishState(ctx context.Context, hub *status.Hub, sched *scheduler.Scheduler, q *queue.Queue) {
	pending, err := q.Len(ctx)
	if err != nil {
		pending = -1
	}
	hub.PublishState(status.State{
		Online:  sched.Online(),
		Syncing: sched.State() == scheduler.StateOnlineSyncing,
		Pending: pending,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"plantsync-agent"}`))
}

func handleStatus(sched *scheduler.Scheduler, engine *syncpkg.Engine, q *queue.Queue, c *cache.Cache, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		pending, err := q.Len(r.Context())
		if err != nil {
			http.Error(w, "failed to read queue", http.StatusInternalServerError)
			return
		}
		unsynced, err := c.Unsynced(r.Context())
		if err != nil {
			http.Error(w, "failed to read cache", http.StatusInternalServerError)
			return
		}

		resp := map[string]interface{}{
			"state":    sched.State(),
			"online":   sched.Online(),
			"syncing":  engine.Syncing(),
			"pending":  pending,
			"unsynced": unsynced,
			"store":    s.Stats(),
		}
		if last := engine.LastSync(); !last.IsZero() {
			resp["last_sync"] = last.UTC().Format(time.RFC3339)
		}
		if err := engine.LastError(); err != nil {
			resp["last_error"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// handleRecords serves the cached record lists to local UI clients, so
// reads work identically online and offline.
func handleRecords(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		entity, err := models.ParseEntity(strings.TrimPrefix(r.URL.Path, "/api/records/"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		var data interface{}
		switch entity {
		case models.EntityEquipment:
			data, err = c.Equipment(r.Context())
		case models.EntityPlant:
			data, err = c.Plant(r.Context())
		case models.EntityInspection:
			data, err = c.Inspections(r.Context())
		}
		if err != nil {
			http.Error(w, "failed to read cache", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}
}

func handleSyncNow(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sched.Wake()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"requested"}`))
	}
}
