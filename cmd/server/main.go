package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	certhandler "vericrop/internal/certificate/handler"
	claimshandler "vericrop/internal/claims/handler"
	"vericrop/internal/engine"
	"vericrop/internal/engine/worker"
	jwttoken "vericrop/internal/jwt_token"
	loanhandler "vericrop/internal/loan/handler"
	"vericrop/internal/platform/config"
	"vericrop/internal/platform/httpserver"
	"vericrop/internal/platform/logger"
	"vericrop/internal/platform/metrics"
	"vericrop/internal/platform/middleware"
	reviewrabbit "vericrop/internal/review/adapters/rabbitmq"
	"vericrop/pkg/platform/httputil"
	"vericrop/pkg/platform/middleware/metadata"
	"vericrop/pkg/platform/middleware/requesttime"
)

const (
	jwtIssuer   = "vericrop"
	jwtAudience = "vericrop-operators"
)

// main wires dependencies, starts the worker pool and HTTP server, and
// drains both on SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := connect(ctx, cfg, log)
	defer in.close(log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	auditor := newAuditPublisher(in, cfg.Kafka.AuditTopic, log)
	defer auditor.Close()

	// Jobs outlive the signal context so shutdown can drain the queue.
	pool := worker.NewPool(cfg.Engine.Workers, cfg.Engine.QueueSize, worker.WithLogger(log))
	pool.Start(context.WithoutCancel(ctx))

	svc, err := newEngine(cfg, in, pool, auditor, reg, log)
	if err != nil {
		return err
	}
	if _, err := svc.Recover(ctx); err != nil {
		log.ErrorContext(ctx, "claim recovery failed", "error", err)
	}

	if in.rabbit != nil {
		consumer := reviewrabbit.NewDecisionConsumer(in.rabbit.Channel, cfg.RabbitMQ.ReviewDecisionQueue, svc, log)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start review decision consumer: %w", err)
		}
	}

	srv := httpserver.New(cfg.Server.Addr, newRouter(cfg, svc, in, metrics.New(reg), reg, log))
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting vericrop", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error("worker pool did not drain", "error", err)
	}
	return nil
}

func newRouter(cfg config.Config, svc *engine.Service, in *infra, m *metrics.Metrics, reg *prometheus.Registry, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(metadata.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Instrument(m))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]string{"status": "ok"}
		if in.db != nil {
			if err := in.db.PingContext(req.Context()); err != nil {
				status["status"], status["postgres"] = "degraded", err.Error()
			}
		}
		if in.redis != nil {
			if err := in.redis.Health(req.Context()); err != nil {
				status["status"], status["redis"] = "degraded", err.Error()
			}
		}
		code := http.StatusOK
		if status["status"] != "ok" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	claimsH := claimshandler.New(svc, log)
	certH := certhandler.New(svc, log)
	loanH := loanhandler.New(svc, log)
	claimsH.Register(r, newSubmissionLimit(cfg.RateLimit, in, reg, log).Limit("claims"))
	certH.Register(r)

	if cfg.Server.ReviewerJWTKey == "" {
		log.Warn("REVIEWER_JWT_KEY not set, reviewer and operator endpoints are disabled")
		return r
	}
	tokens := jwttoken.NewJWTService(cfg.Server.ReviewerJWTKey, jwtIssuer, jwtAudience)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(tokens, jwttoken.RoleReviewer, log))
		claimsH.RegisterReviewer(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(tokens, jwttoken.RoleOperator, log))
		claimsH.RegisterOperator(r)
		certH.RegisterOperator(r)
		loanH.RegisterOperator(r)
	})
	return r
}
