package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/cleanops/fieldsync/internal/config"
	"github.com/cleanops/fieldsync/internal/coordinator"
	"github.com/cleanops/fieldsync/internal/database"
	"github.com/cleanops/fieldsync/internal/governor"
	"github.com/cleanops/fieldsync/internal/handlers"
	"github.com/cleanops/fieldsync/internal/netmon"
	"github.com/cleanops/fieldsync/internal/offline"
	"github.com/cleanops/fieldsync/internal/photos"
	"github.com/cleanops/fieldsync/internal/sync"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Open the local datastore (runs migrations and reconciles any
	// operations left in flight by a previous crash)
	db, err := database.New(database.Config{Path: cfg.DatabasePath, Debug: cfg.Debug})
	if err != nil {
		log.Fatalf("Failed to open local datastore: %v", err)
	}
	log.Printf("✅ Local datastore ready at %s", db.Path())

	// 3. Network monitor over the connectivity probe
	prober := netmon.NewHTTPProber(cfg.ProbeURL)
	monitor := netmon.NewMonitor(prober)
	monitor.SetDebounceWindow(cfg.DebounceWindow)
	monitor.SetProbeInterval(cfg.ProbeInterval)
	state, err := monitor.Initialize(context.Background())
	if err != nil {
		log.Printf("⚠️ Initial connectivity probe failed: %v", err)
	}
	log.Printf("📶 Network: online=%v type=%s", state.Online, state.ConnectionType)

	// 4. Services
	client := sync.NewClient(cfg.ServerURL, cfg.AuthToken, cfg.DeviceID)
	engine := sync.NewEngine(db, client, monitor)
	gov := governor.New()
	manager := offline.NewManager(db, client, monitor)
	photoStore, err := photos.NewStore(db, cfg.PhotoDir, cfg.DeviceID)
	if err != nil {
		log.Fatalf("Failed to initialize photo store: %v", err)
	}
	coord := coordinator.New(db, monitor, engine, gov)
	coord.SetAutoSyncOnReconnect(cfg.AutoSyncOnReconnect)
	coord.SetRetention(time.Duration(cfg.RetentionDays) * 24 * time.Hour)
	coord.Start()

	if err := coord.RunCleanup(); err != nil {
		log.Printf("⚠️ Startup cleanup failed: %v", err)
	}

	// 5. Local status API for the UI layer
	router := mux.NewRouter()
	handlers.NewStatusHandler(coord, engine).RegisterRoutes(router)
	handlers.NewJobsHandler(manager, photoStore).RegisterRoutes(router)
	handlers.NewSnapshotStream(coord).RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Agent listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 6. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown error: %v", err)
	}

	engine.Cancel()
	coord.Stop()
	monitor.Destroy()
	if err := db.Close(); err != nil {
		log.Printf("⚠️ Datastore close error: %v", err)
	}
	log.Println("✅ Shutdown complete")
}
