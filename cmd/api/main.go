package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"tenbase.org/internal/auth"
	"tenbase.org/internal/config"
	"tenbase.org/internal/httpapi"
	"tenbase.org/internal/notify"
	"tenbase.org/internal/obs"
	"tenbase.org/internal/ratelimit"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := auth.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	window := ratelimit.New(rdb)

	svc, err := auth.NewService(store,
		auth.WithAttemptWindow(window),
		auth.WithNotifier(notify.NewLogNotifier()),
		auth.WithTenantSeeder(auth.NewGrantSeeder(store)),
		auth.WithParams(auth.Params{
			MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
			LockDuration:     cfg.Auth.LockDuration,
			IPWindow:         cfg.Auth.IPWindow,
			IPMaxFailures:    cfg.Auth.IPMaxFailures,
			SessionTTL:       cfg.Auth.SessionTTL,
			RememberTTL:      cfg.Auth.RememberTTL,
			RestrictedTTL:    cfg.Auth.RestrictedTTL,
			ResetTTL:         cfg.Auth.ResetTTL,
			AdminResetTTL:    cfg.Auth.AdminResetTTL,
			VerificationTTL:  cfg.Auth.VerificationTTL,
			ResendWindow:     cfg.Auth.ResendWindow,
			ResendMax:        cfg.Auth.ResendMax,
			BcryptCost:       cfg.Auth.BcryptCost,
			MinPasswordLen:   cfg.Auth.MinPasswordLen,
		}),
	)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	// Built-in roles and the permission catalog must exist before the first
	// registration lands.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("seed builtins: %v", err)
	}

	api := httpapi.New(svc,
		httpapi.ReadyProbe{DB: store.DB(), Window: window},
		version,
		httpapi.WithEdgeRateLimit(cfg.Server.EdgeRatePerSec, cfg.Server.EdgeRateBurst),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting tenbase-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
