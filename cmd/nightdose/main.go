package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/nightdose/nightdose/internal/api"
	"github.com/nightdose/nightdose/internal/biz"
	"github.com/nightdose/nightdose/internal/conf"
	"github.com/nightdose/nightdose/internal/data"
	"github.com/nightdose/nightdose/internal/service"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := conf.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	night, err := cfg.ToSessionConfig()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	cooldowns, err := cfg.ToCooldowns()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize repository layer
	policy := data.DefaultStoragePolicy()
	policy.Attempts = cfg.Storage.Retries
	repos, err := data.NewRepositories(cfg.Storage.DBPath, cfg.Sync.Endpoint, policy)
	if err != nil {
		log.Fatalf("Failed to create repositories: %v", err)
	}
	defer repos.Close()

	// Initialize usecase layer
	uc := biz.NewUsecases(biz.Repos{
		Session:    repos.Session,
		Diagnostic: repos.Diagnostic,
		Adjunct:    repos.Adjunct,
		Outbox:     repos.Outbox,
		Remote:     repos.Remote,
	}, biz.Options{
		Window:    cfg.ToWindowConfig(),
		Night:     night,
		Backoff:   cfg.ToBackoffConfig(),
		Cooldowns: cooldowns,
	})

	ctx := context.Background()
	if err := uc.Orchestrator.Load(ctx); err != nil {
		log.Fatalf("Failed to load active session: %v", err)
	}
	if cfg.Debug {
		fmt.Printf("[Nightdose] Window: %+v\n", cfg.ToWindowConfig())
		fmt.Printf("[Nightdose] Night: rollover %02d:00, wake %s, grace %dh, zone %s\n",
			night.RolloverHour, cfg.Night.WakeTime, night.CutoffGraceHours, night.Location)
	}

	// Initialize service layer
	boundary := service.NewBoundaryRunner(uc.Orchestrator, time.Duration(cfg.Boundary.TickSeconds)*time.Second)
	boundary.Start()

	var scheduler *service.SyncScheduler
	if uc.Sync != nil {
		scheduler = service.NewSyncScheduler(uc.Sync, time.Duration(cfg.Sync.PollSeconds)*time.Second)
		scheduler.Start()
		fmt.Printf("[Nightdose] Remote sync enabled: %s\n", cfg.Sync.Endpoint)
	}

	// Initialize HTTP API server
	apiServer := api.NewServer(uc.Orchestrator, uc.Exporter, uc.Sync, boundary, cfg.API.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Starting nightdose (db=%s)...\n", cfg.Storage.DBPath)
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Printf("[Nightdose] API server error: %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		fmt.Printf("[Nightdose] API shutdown error: %v\n", err)
	}
	boundary.Stop()
	if scheduler != nil {
		scheduler.Stop()
	}
}
