// gazecal - gaze calibration recorder server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/gazecal/internal/api"
	"github.com/ashureev/gazecal/internal/config"
	"github.com/ashureev/gazecal/internal/display"
	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/middleware"
	"github.com/ashureev/gazecal/internal/presentation"
	"github.com/ashureev/gazecal/internal/rpc"
	"github.com/ashureev/gazecal/internal/session"
	"github.com/ashureev/gazecal/internal/store"
	"github.com/ashureev/gazecal/internal/tracker"
	"github.com/ashureev/gazecal/web"
)

// countdownRefresh is how often the running trial's countdown is pushed to displays.
const countdownRefresh = 100 * time.Millisecond

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	samples := tracker.NewBuffer(cfg.Tracker.BufferSize, logger)
	hub := presentation.NewHub(logger)
	ctrl := session.NewController(session.Options{
		CatalogPath:     cfg.Calibration.CatalogPath,
		OutputDir:       cfg.Calibration.OutputDir,
		OutputFile:      cfg.Calibration.OutputFile,
		CountdownOffset: cfg.Calibration.CountdownOffset,
	}, hub, samples, repo, logger)

	var grpcServer *rpc.Server
	if cfg.GRPCEnabled() {
		grpcServer, err = rpc.New(net.JoinHostPort("", cfg.GRPCPort), logger)
		if err != nil {
			slog.Error("Failed to start gRPC server", "error", err)
			os.Exit(1)
		}
	}

	// Forward every transition to the displays and the session health status.
	states, unsubscribe := ctrl.Subscribe(64)
	defer unsubscribe()
	go func() {
		for snap := range states {
			hub.PublishState(api.NewSnapshotView(snap))
			if grpcServer != nil {
				grpcServer.SetSessionActive(snap.State == domain.StateAwaitingStart || snap.State == domain.StateRunning)
			}
		}
	}()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, ctrl)
	healthHandler := api.NewHealthHandler(repo, samples.Stats)
	sessionHandler := api.NewSessionHandler(baseHandler)
	wsHandler := display.NewHandler(hub, func() bool {
		_, started := ctrl.StartSignal()
		return started
	}, samples, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoints.
	r.Get("/ws/display", wsHandler.ServeDisplay)
	r.Get("/ws/tracker", wsHandler.ServeTracker)

	// Serve embedded display page.
	r.Handle("/*", web.DisplayHandler())

	// WriteTimeout stays 0 so websocket connections are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the tick driver and the countdown refresher.
	driverDone := session.StartDriver(ctx, ctrl, cfg.Calibration.TickInterval, logger)
	refreshDone := session.StartDriver(ctx, session.TickFunc(func(time.Duration) error {
		if snap := ctrl.Snapshot(); snap.State == domain.StateRunning {
			hub.PublishState(api.NewSnapshotView(snap))
		}
		return nil
	}), countdownRefresh, logger.With("component", "countdown"))

	// Begin a session at startup when a start row or resume is configured.
	if cfg.Calibration.Resume || cfg.Calibration.StartIndex > 0 {
		snap, err := ctrl.BeginSession(ctx, session.BeginRequest{
			StartIndex: cfg.Calibration.StartIndex,
			Resume:     cfg.Calibration.Resume,
		})
		if err != nil {
			slog.Error("Failed to begin session at startup", "error", err)
		} else {
			slog.Info("Session ready", "session_id", snap.SessionID, "catalog_index", snap.CatalogIndex)
		}
	}

	// Start servers.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	grpcDone := make(chan struct{})
	if grpcServer != nil {
		go func() {
			defer close(grpcDone)
			if err := grpcServer.Serve(ctx); err != nil {
				slog.Error("gRPC server failed", "error", err)
			}
		}()
	} else {
		close(grpcDone)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	<-driverDone
	<-refreshDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting requests first so no session can begin after Close.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Flush whatever the running trial has captured before releasing the output.
	if err := ctrl.Close(); err != nil {
		slog.Error("Failed to close session", "error", err)
	}
	<-grpcDone

	slog.Info("Server stopped successfully")
}
