package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/iudanet/collabdocs/internal/collab"
	"github.com/iudanet/collabdocs/internal/docstore"
	"github.com/iudanet/collabdocs/internal/server/auth"
	"github.com/iudanet/collabdocs/internal/server/handlers"
	"github.com/iudanet/collabdocs/internal/server/middleware"
	"github.com/iudanet/collabdocs/internal/server/ws"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Флаги конфигурации
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	docServiceURL := flag.String("doc-service", "", "Base URL of the document service (e.g. http://localhost:9000/api/v1)")
	dbPath := flag.String("db", "", "Path to local BoltDB document store (standalone mode, used when -doc-service is empty)")
	idleTimeout := flag.Duration("idle-timeout", 10*time.Minute, "Idle timeout before empty rooms are evicted")
	sweepInterval := flag.Duration("sweep-interval", 1*time.Minute, "Interval between idle room sweeps")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)

	if err := run(logger, *addr, *docServiceURL, *dbPath, *idleTimeout, *sweepInterval); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, docServiceURL, dbPath string, idleTimeout, sweepInterval time.Duration) error {
	// Секрет для проверки handshake-токенов приходит только из окружения
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}

	// Хранилище документов: внешний document service или локальный BoltDB
	var store ws.DocumentStore
	switch {
	case docServiceURL != "":
		store = docstore.NewHTTPStore(docServiceURL)
		logger.Info("using document service", "url", docServiceURL)
	case dbPath != "":
		boltStore, err := docstore.NewBoltStore(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open document database: %w", err)
		}
		defer func() {
			if err := boltStore.Close(); err != nil {
				logger.Error("failed to close document database", "error", err)
			}
		}()
		store = boltStore
		logger.Info("using standalone document store", "path", dbPath)
	default:
		return errors.New("either -doc-service or -db must be set")
	}

	registry := collab.NewRegistry(logger)
	identity := auth.NewService(jwtSecret)
	wsHandler := ws.NewHandler(logger, registry, store, identity, ws.Config{})

	healthHandler := handlers.NewHealthHandler(logger, Version)
	statsHandler := handlers.NewStatsHandler(logger, registry)

	// Роутер: протокольный endpoint плюс диагностика
	router := mux.NewRouter()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingWithSkip(logger, []string{"/api/v1/health"}))

	// Handshake дорогой (bootstrap из хранилища), поэтому ограничиваем
	// частоту подключений per-IP
	wsRoute := router.PathPrefix("/ws").Subrouter()
	wsRoute.Use(middleware.RateLimitMiddleware(30, 1*time.Minute, logger))
	wsRoute.HandleFunc("/{documentID}", wsHandler.HandleWS).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/health", healthHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/stats", statsHandler.Stats).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Периодическое вытеснение простаивающих комнат. Перед вытеснением
	// грязной комнаты делается финальная попытка сохранения.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := registry.CleanupIdle(idleTimeout, func(room *collab.Room) error {
					return wsHandler.PersistRoom(sweepCtx, room)
				})
				if removed > 0 {
					logger.Info("idle room sweep finished", "removed", removed)
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	// Graceful shutdown по SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", addr,
			"version", Version,
			"idle_timeout", idleTimeout.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	// Финальное сохранение всех грязных комнат перед выходом
	wsHandler.PersistDirtyRooms(shutdownCtx)

	logger.Info("server stopped")
	return nil
}

// newLogger создает структурированный logger с заданным уровнем.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}

func printVersion() {
	fmt.Printf("CollabDocs Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
