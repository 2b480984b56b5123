// Command worker is the lead auction engine's process entry point: it
// wires Redis, the optional ClickHouse audit sink, every core component,
// and the HTTP surface an external queue consumer calls once per lead
// (POST /v1/auction), plus health check and optional Prometheus
// exposition. Grounded on the auction service's cmd/main.go (env-driven
// client construction, gorilla/mux router with a CORS middleware,
// graceful shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/api"
	"github.com/rivalapex/leadauction/internal/auction"
	"github.com/rivalapex/leadauction/internal/auditlog"
	"github.com/rivalapex/leadauction/internal/config"
	"github.com/rivalapex/leadauction/internal/contractor"
	"github.com/rivalapex/leadauction/internal/eligibility"
	"github.com/rivalapex/leadauction/internal/httpclient"
	"github.com/rivalapex/leadauction/internal/metrics"
	"github.com/rivalapex/leadauction/internal/notify"
	"github.com/rivalapex/leadauction/internal/orchestrator"
	"github.com/rivalapex/leadauction/internal/store"
	"github.com/rivalapex/leadauction/internal/tracing"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	if tracing.InstallOTelTracer() {
		log.Info("worker: OpenTelemetry tracing installed")
	}

	cfg := config.Load()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	redisStore := store.NewRedisStore(redisClient)

	var sink *auditlog.Sink
	if cfg.ClickHouseEnabled {
		var err error
		sink, err = auditlog.NewSink(cfg.ClickHouseAddr, cfg.ClickHouseDatabase, cfg.ClickHouseUsername, cfg.ClickHousePassword)
		if err != nil {
			log.WithError(err).Warn("worker: ClickHouse audit sink unavailable, continuing with Redis-only audit trail")
			sink = nil
		} else {
			defer sink.Close()
		}
	}
	primaryStore := auditlog.NewTeeStore(redisStore, sink)

	m := metrics.New("leadauction")

	resolver := eligibility.New(primaryStore, eligibility.NewFallbackRegistry())

	mailer := &notify.SMTPMailer{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	notifier := notify.New(primaryStore, mailer)
	notifier.SetMetrics(m)

	dispatcher := contractor.New(primaryStore, notifier)
	dispatcher.SetMetrics(m)

	client := httpclient.NewHTTPClient()

	engine := auction.New(primaryStore, resolver, client, dispatcher)
	engine.SetMetrics(m)

	orch := orchestrator.New(primaryStore, engine, auction.DefaultConfig())
	handlers := api.NewHandlers(orch)

	router := mux.NewRouter()
	router.Use(corsMiddleware(cfg.CORSOrigin))
	router.HandleFunc("/health", healthCheck(redisClient)).Methods("GET")
	router.HandleFunc("/v1/auction", handlers.RunAuction).Methods("POST")
	if cfg.PromExporterEnabled {
		router.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("worker: admin surface listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker: admin server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("worker: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("worker: admin server forced to shutdown: %v", err)
	}
	log.Info("worker: exited")
}

func healthCheck(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func corsMiddleware(origin string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
