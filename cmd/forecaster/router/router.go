// Package router configures HTTP routes for the forecast service.
//
// Routes configured:
//   - POST /predict - Run one forecast request through the pipeline
//   - GET /healthz - Liveness check (always 200 OK)
//   - GET /readyz - Readiness check (503 until every worker is serving)
//   - GET /metrics - Prometheus metrics endpoint
//
// Failed predictions answer {"error": "<reason>", "kind": "<kind>"} with the
// status of the failure kind.
package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/foresight/cmd/forecaster/metrics"
	"github.com/HatiCode/foresight/pkg/encode"
	"github.com/HatiCode/foresight/pkg/forecast"
	"github.com/HatiCode/foresight/pkg/httpx"
	"github.com/HatiCode/foresight/pkg/pipeline"
)

// Predictor runs forecast requests.
type Predictor interface {
	Predict(ctx context.Context, req *forecast.Request) (encode.Prediction, pipeline.Summary, error)
	// Ready returns nil when requests can be served.
	Ready() error
}

// Options configure the routes.
type Options struct {
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
	// Gatherer backs /metrics. Defaults to the Prometheus default gatherer.
	Gatherer prometheus.Gatherer
}

// SetupRoutes configures HTTP endpoints and wraps them with request id,
// logging and recovery middleware.
func SetupRoutes(p Predictor, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.Handle("/readyz", httpx.HealthHandlerWithCheck(p.Ready))
	mux.HandleFunc("/predict", handlePredict(p, opts))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return httpx.Chain(mux,
		httpx.RequestIDMiddleware(logger),
		httpx.LoggingMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
	)
}

// handlePredict returns a handler for POST /predict.
func handlePredict(p Predictor, opts Options) http.HandlerFunc {
	m := opts.Metrics

	return func(w http.ResponseWriter, r *http.Request) {
		log := httpx.Logger(r.Context())

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := p.Ready(); err != nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, err)
			return
		}

		if m != nil {
			defer m.InFlight()()
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				record(m, string(forecast.KindValidation))
				httpx.WriteErrorKind(w, http.StatusRequestEntityTooLarge, string(forecast.KindValidation), "request body too large")
				return
			}
			fail(w, log, m, forecast.Errorf(forecast.KindValidation, "read request: %w", err))
			return
		}

		req, err := forecast.Decode(bytes.NewReader(raw))
		if err != nil {
			fail(w, log, m, err)
			return
		}

		pred, sum, err := p.Predict(r.Context(), req)
		if err != nil {
			fail(w, log, m, err)
			return
		}

		body, err := encode.Encode(pred)
		if err != nil {
			fail(w, log, m, err)
			return
		}

		if m != nil {
			m.AddMissing(sum.Missing)
		}
		record(m, metrics.OutcomeOK)
		log.Info("prediction served",
			"rows", sum.Rows,
			"window", sum.Window,
			"freq", sum.Freq.String(),
			"horizon", sum.Horizon,
			"missing", sum.Missing,
		)
		httpx.WriteRaw(w, http.StatusOK, body)
	}
}

func fail(w http.ResponseWriter, log *slog.Logger, m *metrics.Metrics, err error) {
	kind, ok := forecast.KindOf(err)
	if !ok {
		record(m, "InternalError")
		log.Error("prediction failed", "error", err)
		httpx.WriteErrorKind(w, http.StatusInternalServerError, "InternalError", "internal server error")
		return
	}

	record(m, string(kind))
	if kind.ClientFault() {
		log.Info("prediction rejected", "kind", kind, "reason", forecast.Reason(err))
	} else {
		log.Error("prediction failed", "kind", kind, "reason", forecast.Reason(err))
	}
	httpx.WriteErrorKind(w, kind.Status(), string(kind), forecast.Reason(err))
}

func record(m *metrics.Metrics, outcome string) {
	if m != nil {
		m.RecordRequest(outcome)
	}
}
