package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldline/dispatchd/internal/api"
	"github.com/fieldline/dispatchd/internal/config"
	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/db"
	"github.com/fieldline/dispatchd/internal/dispatch"
	"github.com/fieldline/dispatchd/internal/escalate"
	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/job"
	"github.com/fieldline/dispatchd/internal/matching"
	"github.com/fieldline/dispatchd/internal/metrics"
	"github.com/fieldline/dispatchd/internal/policy"
	"github.com/fieldline/dispatchd/internal/ws"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting dispatch node: %s", cfg.NodeID)
	log.Printf("HTTP port: %d", cfg.HTTPPort)

	tiers := policy.Default()
	if cfg.TierPolicyPath != "" {
		t, err := policy.Load(cfg.TierPolicyPath)
		if err != nil {
			log.Fatalf("Load tier policy: %v", err)
		}
		tiers = t
		log.Printf("Tier policy loaded from %s", cfg.TierPolicyPath)
	}

	var store job.Store = job.NewMemoryStore()
	if cfg.DataDir != "" {
		dbStore, err := db.NewStore(cfg.DataDir)
		if err != nil {
			log.Fatalf("Open job database: %v", err)
		}
		defer dbStore.Close()
		store = job.NewPersistentStore(dbStore)
		log.Printf("Durable job store at %s", cfg.DataDir)
	}

	est := geo.NewHaversineEstimator(cfg.TravelSpeedKmh)
	registry := contractor.NewRegistry(est)
	matcher := matching.New(est, cfg.JitterSeed)
	met := metrics.NewCollector()

	wsServer := ws.NewServer(registry)
	engine := dispatch.NewEngine(tiers, registry, matcher, store, wsServer, escalate.LogEscalator{}, met)
	wsServer.SetJobSource(engine)

	if resumed, err := engine.Recover(); err != nil {
		log.Fatalf("Recover in-flight jobs: %v", err)
	} else if resumed > 0 {
		log.Printf("Resumed %d in-flight job(s)", resumed)
	}
	engine.Start()

	router := api.NewRouter(cfg, engine, registry, wsServer, met)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server listening on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	engine.Stop()

	log.Println("Server stopped")
}
