package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hearthhub.org/internal/auth"
	"hearthhub.org/internal/config"
	"hearthhub.org/internal/httpapi"
	"hearthhub.org/internal/mail"
	"hearthhub.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()

	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.DatabaseDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Printf("no HEARTH_PG_DSN set, using in-memory store")
		store = devMemStore()
	}

	svc, err := auth.NewService(store,
		auth.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutWindow),
		auth.WithSessionTTLs(cfg.SessionTTL, cfg.KioskSessionTTL),
		auth.WithOnboardingSecret(cfg.OnboardingSecret),
		auth.WithMailer(mail.LogSender{}),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load permission rules before serving; defaults cover a failed first load.
	if err := svc.Permissions().Refresh(ctx); err != nil {
		obs.Warn("initial permission refresh failed, serving defaults", map[string]any{"error": err.Error()})
	}
	go maintenance(ctx, svc)

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, cfg, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting hearth-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// maintenance runs the periodic jobs: permission refresh keeps the rule cache
// warm, the other two are storage hygiene (lazy expiry and the lockout window
// do the correctness work on the request path).
func maintenance(ctx context.Context, svc *auth.Service) {
	refresh := time.NewTicker(5 * time.Minute)
	sweep := time.NewTicker(1 * time.Hour)
	defer refresh.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := svc.Permissions().Refresh(ctx); err != nil {
				obs.Warn("permission refresh failed, keeping previous rules", map[string]any{"error": err.Error()})
			}
		case <-sweep.C:
			if n, err := svc.Lockout().Cleanup(ctx); err != nil {
				obs.Warn("attempt cleanup failed", map[string]any{"error": err.Error()})
			} else if n > 0 {
				obs.Info("stale login attempts purged", map[string]any{"rows": n})
			}
			if n, err := svc.Sessions().Sweep(ctx); err != nil {
				obs.Warn("session sweep failed", map[string]any{"error": err.Error()})
			} else if n > 0 {
				obs.Info("expired sessions swept", map[string]any{"rows": n})
			}
		}
	}
}

// devMemStore seeds the in-memory backend with a bootstrap admin so the API
// is usable without a database.
func devMemStore() auth.Store {
	store := auth.NewMemStore()
	svc, err := auth.NewService(store)
	if err != nil {
		log.Fatalf("seed service: %v", err)
	}
	password := os.Getenv("HEARTH_DEV_ADMIN_PASSWORD")
	if password == "" {
		password = "change-me"
	}
	admin, err := svc.Register(context.Background(), "admin@hearth.local", "Admin", auth.RoleAdmin, password, false)
	if err != nil {
		log.Fatalf("seed admin: %v", err)
	}
	log.Printf("dev admin seeded: %s (id %s)", admin.Email, admin.ID)
	return store
}
