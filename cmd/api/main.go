package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akorchagin/eventdesk/internal/audit"
	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/db"
	httpx "github.com/akorchagin/eventdesk/internal/http"
	"github.com/akorchagin/eventdesk/internal/observability"
	"github.com/akorchagin/eventdesk/internal/redisclient"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)

	if cfg.OTELEnabled {
		ctx, cancel := config.WithTimeout(5 * time.Second)

		shutdownTracer, err := observability.InitTracer(ctx, "eventdesk", cfg.OTLPEndpoint)
		cancel()

		if err != nil {
			log.Warn("tracing disabled", "err", err)
		} else {
			defer func() {
				ctx, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdownTracer(ctx)
			}()
		}
	}

	// database
	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("database connection failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	startupCtx, startupCancel := config.WithTimeout(30 * time.Second)

	if err := db.Migrate(startupCtx, pool); err != nil {
		startupCancel()
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	if err := db.EnsureAdminUser(startupCtx, pool, cfg); err != nil {
		startupCancel()
		log.Error("admin seed failed", "err", err)
		os.Exit(1)
	}

	if err := db.EnsureDefaultSettings(startupCtx, pool, cfg); err != nil {
		startupCancel()
		log.Error("settings seed failed", "err", err)
		os.Exit(1)
	}

	startupCancel()

	// redis backs the availability cache; the API works without it
	rdb := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	pingCtx, pingCancel := config.WithTimeout(2 * time.Second)

	if err := rdb.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable, availability cache disabled", "err", err)
		rdb = nil
	}

	pingCancel()

	defer func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}()

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prom := observability.NewProm(registry)

	// audit trail
	auditSink := audit.NewSlogSink(log)
	auditWriter := audit.NewWriter(audit.WriterConfig{}, auditSink, log, prom.AuditDroppedTotal)

	auditCtx, auditCancel := context.WithCancel(context.Background())
	auditDone := make(chan struct{})

	go func() {
		defer close(auditDone)

		if err := auditWriter.Run(auditCtx); err != nil {
			log.Warn("audit writer stopped with error", "err", err)
		}
	}()

	router := httpx.NewRouter(httpx.Deps{
		Log:      log,
		Pool:     pool,
		Redis:    rdb,
		Registry: registry,
		Prom:     prom,
		Audit:    auditWriter,
	}, cfg)

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		err := srv.Shutdown(ctx)

		if err != nil {
			log.Error("graceful shutdown failed", "err", err)

			return
		}

		// no new requests now; let the audit buffer drain
		auditCancel()
		<-auditDone
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
