// Package main is the entry point for the evetabi dealdesk trading server.
// It wires together the deal lifecycle services and starts the HTTP server
// alongside the WebSocket hub, live price feed, and background scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/dealdesk/internal/api"
	"github.com/evetabi/dealdesk/internal/config"
	"github.com/evetabi/dealdesk/internal/feed"
	"github.com/evetabi/dealdesk/internal/hooks"
	"github.com/evetabi/dealdesk/internal/repository"
	"github.com/evetabi/dealdesk/internal/scheduler"
	"github.com/evetabi/dealdesk/internal/service"
	"github.com/evetabi/dealdesk/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting evetabi dealdesk server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	dealRepo := repository.NewDealRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)

	// ── 5. Price feed ─────────────────────────────────────────────────────────
	priceSvc := service.NewPriceService(cfg)
	stream := feed.NewStream(cfg.Price.StreamURL, logger)

	// ── 6. WebSocket Hub ──────────────────────────────────────────────────────
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(allowedOrigins)

	// ── 7. Services (order matters for injection) ─────────────────────────────
	collab := &hooks.LogCollaborators{Logger: logger}
	dispatcher := hooks.NewDispatcher(collab, collab, hub, collab, logger)

	monitor := service.NewMonitor(logger)

	dealSvc := service.NewDealService(db, dealRepo, balanceRepo, priceSvc, stream, monitor, dispatcher, cfg, logger)

	// Wire the circular dependency via the closer interface
	monitor.SetCloser(dealSvc)

	// ── 8. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 9. Live feed listeners + startup restore ──────────────────────────────
	stream.AddListener(func(t feed.Tick) {
		priceSvc.Observe(t.Symbol, t.Price, t.At)
		monitor.OnTick(t.Symbol, t.Price)
	})
	go stream.Run(ctx)

	restoreCtx, cancelRestore := context.WithTimeout(ctx, 30*time.Second)
	if err = dealSvc.Restore(restoreCtx); err != nil {
		logger.Error("state restore failed", "err", err)
		cancelRestore()
		os.Exit(1)
	}
	cancelRestore()

	// ── 10. Start WS Hub ──────────────────────────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")

	// ── 11. Scheduler ─────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(dealSvc, dealRepo, priceSvc, hub, cfg, logger)
	sched.Start(ctx)

	// ── 12. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		DealSvc:  dealSvc,
		PriceSvc: priceSvc,
		Hub:      hub,
		Cfg:      cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 13. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 14. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
