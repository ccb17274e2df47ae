// Command forecaster serves time series forecasts over HTTP.
//
// Each POST /predict request carries a columnar table. The service validates
// it, aligns the rows on their timestamps, keeps the trailing context window,
// hands the window to a forecasting oracle, and returns the horizon as JSON
// with non-finite values written as null.
//
// Endpoints:
//   - POST /predict - Run a forecast
//   - GET /healthz - Liveness check
//   - GET /readyz - Readiness check (all workers loaded)
//   - GET /metrics - Prometheus metrics endpoint
//   - gRPC grpc.health.v1.Health on -grpc-listen
//
// Usage:
//
//	forecaster \
//	  -oracle=http \
//	  -oracle-url=http://model:8000/predict \
//	  -workers=2 -worker-concurrency=4
//
// Environment variables:
//
//	LISTEN              - HTTP listen address (default: :8081)
//	GRPC_LISTEN         - gRPC health listen address (default: :9091)
//	ORACLE              - Oracle: http, baseline or ar (default: http)
//	ORACLE_URL          - Remote oracle forecast endpoint
//	ORACLE_TIMEOUT      - Remote oracle request timeout (default: 60s)
//	WORKERS             - Number of workers (default: 1)
//	WORKER_CONCURRENCY  - Concurrent oracle calls per worker (default: 4)
//	FILL_POLICY         - Missing value policy: none, ffill (default: none)
//	DUPLICATE_POLICY    - Duplicate timestamps: keep, last, reject (default: keep)
//	DEFAULT_FREQ        - Fallback sampling frequency (default: 1h)
//	LOG_LEVEL           - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT          - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/foresight/cmd/forecaster/config"
	"github.com/HatiCode/foresight/cmd/forecaster/logger"
	"github.com/HatiCode/foresight/cmd/forecaster/metrics"
	"github.com/HatiCode/foresight/cmd/forecaster/oracles"
	"github.com/HatiCode/foresight/cmd/forecaster/router"
	"github.com/HatiCode/foresight/pkg/httpx"
	"github.com/HatiCode/foresight/pkg/pipeline"
)

// version is set via ldflags at build time
var version = "dev"

// loadTimeout bounds how long all workers may take to load their oracle.
const loadTimeout = 2 * time.Minute

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting foresight forecaster",
		"version", version,
		"listen", cfg.Listen,
		"grpc_listen", cfg.GRPCListen,
		"oracle", cfg.Oracle,
		"workers", cfg.Workers,
		"worker_concurrency", cfg.WorkerConcurrency,
		"tls_enabled", cfg.TLS.Enabled,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	factory, err := oracles.New(cfg, log)
	if err != nil {
		log.Error("failed to configure oracle", "error", err)
		os.Exit(1)
	}

	pool := newPool(cfg, factory, log, m)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), loadTimeout)
	err = pool.Start(loadCtx)
	cancelLoad()
	if err != nil {
		log.Error("worker failed to load oracle", "error", err)
		os.Exit(1)
	}
	if err := pool.Serve(); err != nil {
		log.Error("failed to start serving", "error", err)
		os.Exit(1)
	}

	handler := router.SetupRoutes(pool, router.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Metrics:      m,
		Gatherer:     reg,
	}, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, cfg.WriteTimeout, log)

	tlsConfig, err := cfg.TLS.Server()
	if err != nil {
		log.Error("failed to create TLS config", "error", err)
		os.Exit(1)
	}
	if tlsConfig != nil {
		httpServer.SetTLSConfig(tlsConfig)
	}

	var grpcServer *grpc.Server
	healthServer := health.NewServer()
	if cfg.GRPCListen != "" {
		grpcServer = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		reflection.Register(grpcServer)

		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}

		go func() {
			log.Info("grpc health server listening", "address", cfg.GRPCListen)
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("grpc server failed", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErr <- httpServer.Start()
	}()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
			exitCode = 1
		}
	}

	log.Info("shutting down")
	healthServer.Shutdown()
	pool.Drain()

	if err := httpServer.Stop(30 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		exitCode = 1
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	log.Info("shutdown complete")
	os.Exit(exitCode)
}

func newPool(cfg *config.Config, factory oracles.Factory, log *slog.Logger, m *metrics.Metrics) *Pool {
	opts := pipeline.Options{
		Align:       cfg.AlignOptions(),
		DefaultFreq: cfg.Freq(),

		MaxPredictionLength: cfg.MaxPredictionLength,
	}
	workers := make([]*Worker, cfg.Workers)
	for i := range workers {
		workers[i] = NewWorker(i, factory, opts, cfg.WorkerConcurrency, log, m)
	}
	return NewPool(workers, log, m)
}
