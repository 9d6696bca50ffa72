package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/pflag"

	"bay-allocation-backend/config"
	"bay-allocation-backend/internal/allocation"
	"bay-allocation-backend/internal/api"
	"bay-allocation-backend/internal/db"
	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/hub"
	"bay-allocation-backend/internal/journal"
	"bay-allocation-backend/internal/notification"
	"bay-allocation-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "baysd ", log.LstdFlags)

	configPath := pflag.StringP("config", "c", "", "path to the YAML config file (default $CONFIG_PATH or ./config/config.yaml)")
	pflag.Parse()
	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_PATH")
	}
	if *configPath == "" {
		*configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", *configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", *configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	if err := store.SeedBays(ctx, appStore, cfg.Bays.Count); err != nil {
		logger.Fatalf("failed to seed bays: %v", err)
	}

	bus := events.NewBus()
	coord, err := allocation.New(ctx, appStore, bus)
	if err != nil {
		logger.Fatalf("failed to load allocation state: %v", err)
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		workerPool.Start(ctx)
		bus.Subscribe("notifications", workerPool)
		logger.Printf("push notifications enabled with %d workers", cfg.WorkerPool.Size)
	} else {
		logger.Println("VAPID keys not configured, push notifications disabled")
	}

	journalDone := make(chan struct{})
	if cfg.Journal.Enabled {
		j := journal.New(journal.NewWriter(cfg.Journal), cfg.Journal.Buffer)
		bus.Subscribe("journal", j)
		go func() {
			j.Run(ctx)
			close(journalDone)
		}()
		logger.Printf("event journal writing to topic %q on %v", cfg.Journal.Topic, cfg.Journal.Brokers)
	} else {
		close(journalDone)
	}

	registry := hub.NewRegistry(coord, hub.Options{
		ProbeInterval:  cfg.Realtime.ProbeInterval,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	})
	go registry.Run(ctx)

	handler := api.NewHandler(coord, registry, gormDB, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server),
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}
	registry.Close()
	cancel()
	<-journalDone

	logger.Println("Server gracefully stopped")
}
