package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tchttp "github.com/opencampus/tenantcore/internal/adapter/http"
	tcnats "github.com/opencampus/tenantcore/internal/adapter/nats"
	"github.com/opencampus/tenantcore/internal/adapter/otel"
	"github.com/opencampus/tenantcore/internal/adapter/postgres"
	"github.com/opencampus/tenantcore/internal/adapter/ristretto"
	"github.com/opencampus/tenantcore/internal/adapter/ws"
	"github.com/opencampus/tenantcore/internal/config"
	"github.com/opencampus/tenantcore/internal/logger"
	"github.com/opencampus/tenantcore/internal/middleware"
	"github.com/opencampus/tenantcore/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	otelShutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Otel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shCtx)
	}()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := tcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	memberCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer memberCache.Close()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Storage ---

	store := postgres.NewStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	gate := postgres.NewGate(pool)
	tenantStore := postgres.NewTenantStore(gate)

	// --- Services ---

	hub := ws.NewHub()
	recorder := service.NewAuditRecorder(auditStore, metrics, hub)
	gate.SetAuditHook(recorder.GateEvent)

	tenantSvc := service.NewTenantService(store, gate, recorder)
	syncSvc := service.NewSyncService(store, queue, recorder, hub, cfg.Sync)
	userSvc := service.NewUserService(store, recorder, syncSvc, cfg.Auth.BcryptCost)
	courseSvc := service.NewCourseService(store, tenantStore, recorder, syncSvc)
	memberSvc := service.NewMembershipService(store, memberCache, recorder, cfg.Cache.MembershipTTL)

	worker := service.NewSyncWorker(syncSvc, store, tenantStore, recorder, metrics, cfg.Sync)
	stopWorker, err := worker.Start(ctx)
	if err != nil {
		return fmt.Errorf("sync worker: %w", err)
	}
	defer stopWorker()

	// Retention loops
	retentionCtx, stopRetention := context.WithCancel(ctx)
	defer stopRetention()
	go retentionLoop(retentionCtx, cfg.Audit.CleanupInterval, func(ctx context.Context) {
		if _, err := recorder.Cleanup(ctx, cfg.Audit.RetentionDays); err != nil {
			slog.Error("audit cleanup failed", "error", err)
		}
	})
	go retentionLoop(retentionCtx, cfg.Audit.CleanupInterval, func(ctx context.Context) {
		if _, err := syncSvc.Cleanup(ctx, cfg.Sync.LogRetentionDays); err != nil {
			slog.Error("sync log cleanup failed", "error", err)
		}
	})

	// --- HTTP ---

	handlers := &tchttp.Handlers{
		Tenants:     tenantSvc,
		Users:       userSvc,
		Memberships: memberSvc,
		Courses:     courseSvc,
		Sync:        syncSvc,
		Audit:       recorder,
		Feed:        hub,
		Queue:       queue,
		DB:          pool,
	}
	resolver := middleware.NewTenantResolver(store)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Actor)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(tchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tchttp.SecurityHeaders)
	r.Use(tchttp.Logger)

	tchttp.MountRoutes(r, handlers, memberSvc, resolver)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// retentionLoop runs fn once at startup and then on every tick until ctx is
// cancelled.
func retentionLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	fn(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
