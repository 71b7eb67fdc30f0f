// Package server provides the main server initialization and run logic.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/api"
	"github.com/sitesafe/ptwcore/internal/auth"
	"github.com/sitesafe/ptwcore/internal/config"
	"github.com/sitesafe/ptwcore/internal/crypto"
	"github.com/sitesafe/ptwcore/internal/db"
	"github.com/sitesafe/ptwcore/internal/logger"
	"github.com/sitesafe/ptwcore/internal/offline"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/queue"
	"github.com/sitesafe/ptwcore/internal/rbac"
	"github.com/sitesafe/ptwcore/internal/registry"
	"github.com/sitesafe/ptwcore/internal/scope"
	"github.com/sitesafe/ptwcore/internal/service"
	"github.com/sitesafe/ptwcore/internal/worker"
)

// Config holds the server configuration options.
type Config struct {
	Port    int    // Port to run the server on (0 = use config default)
	Mode    string // Run mode: server, worker, or both
	Version string // Version string to report
}

// Run starts the server with the given configuration and blocks until the
// context is canceled.
func Run(ctx context.Context, cfg Config) error {
	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Port != 0 {
		appCfg.Server.Port = cfg.Port
	}

	logger.Init(appCfg.Log.Format, appCfg.Log.Level)
	slog.Info("Starting PTW core", "version", cfg.Version, "mode", appCfg.Server.Mode)

	if appCfg.Database.LogLevel == "" {
		appCfg.Database.LogLevel = appCfg.Log.Level
	}

	database, err := db.New(appCfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("Database initialized", "driver", appCfg.Database.Driver)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database migrations completed")

	serverID, err := db.GetOrCreateServerID(database)
	if err != nil {
		return fmt.Errorf("failed to initialize server ID: %w", err)
	}
	slog.Info("Server ID initialized", "server_id", serverID)

	if err := rbac.InitEnforcer(database, logger.Component("rbac")); err != nil {
		return fmt.Errorf("failed to initialize rbac enforcer: %w", err)
	}

	if appCfg.Seed.Demo {
		if err := db.SeedDemo(database, appCfg.Seed.FixturesPath, appCfg.Auth.DefaultAdminPwd); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
		slog.Info("Demo data seeded", "fixtures", appCfg.Seed.FixturesPath)
	}

	encKey, err := crypto.DeriveKey(appCfg.Auth.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}

	notifier, err := createNotifier(appCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize outbox notifier: %w", err)
	}
	defer notifier.Close()
	slog.Info("Outbox notifier initialized", "type", appCfg.Queue.Type)

	reg := registry.New(database)
	svc := service.New(database, reg)
	resolver := scope.NewResolver(database)
	authenticator := auth.New(database, appCfg.Auth.JWTSecret)

	serverUUID, err := uuid.Parse(serverID)
	if err != nil {
		serverUUID = uuid.New()
	}
	reconciler := offline.New(database, svc, serverUUID, logger.Component("sync"))

	mode := cfg.Mode
	if mode == "" {
		mode = "both"
	}
	runServer := mode == "server" || mode == "both"
	runWorker := mode == "worker" || mode == "both"
	if !runServer && !runWorker {
		return fmt.Errorf("invalid mode %q: valid modes are server, worker, both", mode)
	}

	var srv *http.Server
	var workerCancel context.CancelFunc

	if runWorker {
		deliverer := outbox.NewDeliverer(database, appCfg.Webhook, encKey, serverID)
		w := worker.New(database, deliverer, notifier, appCfg.Webhook, logger.Component("outbox"))
		scheduler := worker.NewScheduler(database, appCfg.Scheduler, serverUUID, logger.Component("scheduler"))

		workerCtx, cancel := context.WithCancel(ctx)
		workerCancel = cancel

		go func() {
			if err := w.Start(workerCtx); err != nil && err != context.Canceled {
				slog.Error("Outbox worker failed", "error", err)
			}
		}()
		go func() {
			if err := scheduler.Start(workerCtx); err != nil && err != context.Canceled {
				slog.Error("Scheduler failed", "error", err)
			}
		}()
		slog.Info("Background workers started")
	}

	if runServer {
		router := api.NewRouter(appCfg, api.Deps{
			DB:            database,
			Authenticator: authenticator,
			Resolver:      resolver,
			Service:       svc,
			Reconciler:    reconciler,
			Notifier:      notifier,
			EncKey:        encKey,
		})

		addr := fmt.Sprintf(":%d", appCfg.Server.Port)
		srv = &http.Server{
			Addr:    addr,
			Handler: router,
		}

		go func() {
			slog.Info("Server listening", "address", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Shutting down...")

	if workerCancel != nil {
		workerCancel()
		slog.Info("Background workers stopped")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
	}

	slog.Info("PTW core exited")
	return nil
}

// RunWithSignalHandling starts the server and handles OS signals for graceful shutdown.
func RunWithSignalHandling(cfg Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg)
	}()

	select {
	case sig := <-quit:
		slog.Info("Received signal", "signal", sig)
		cancel()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// createNotifier creates the outbox notifier based on configuration.
func createNotifier(cfg *config.Config) (queue.Notifier, error) {
	switch cfg.Queue.Type {
	case "valkey":
		return queue.NewValkeyNotifier(cfg.Queue.ValkeyAddr)
	case "", "memory":
		return queue.NewMemoryNotifier(), nil
	default:
		return nil, fmt.Errorf("unknown queue type %q: valid types are memory, valkey", cfg.Queue.Type)
	}
}
