// Package oracles builds forecasting oracles from configuration.
package oracles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/foresight/cmd/forecaster/config"
	"github.com/HatiCode/foresight/pkg/httpx"
	"github.com/HatiCode/foresight/pkg/oracle"
)

// Factory creates a fresh, unloaded oracle. Each worker calls it once so no
// oracle instance is shared between workers.
type Factory func() (oracle.Oracle, error)

// Recorder receives the duration and outcome of every oracle call.
type Recorder interface {
	RecordOracle(oracle string, seconds float64, err error)
}

// New returns a Factory for the oracle selected in cfg.
func New(cfg *config.Config, logger *slog.Logger) (Factory, error) {
	switch cfg.Oracle {
	case config.OracleHTTP:
		logger.Info("using remote oracle",
			"url", cfg.OracleURL,
			"timeout", cfg.OracleTimeout,
			"records_path", cfg.OracleRecordsPath,
			"tls_enabled", cfg.OracleTLS.Enabled,
		)
		return func() (oracle.Oracle, error) {
			client, err := httpx.NewClient(cfg.OracleTLS, cfg.OracleTimeout)
			if err != nil {
				return nil, fmt.Errorf("oracle client: %w", err)
			}
			return oracle.NewHTTPOracle(cfg.OracleURL, oracle.HTTPOptions{
				HealthURL:   cfg.OracleHealthURL,
				RecordsPath: cfg.OracleRecordsPath,
				Client:      client,
			})
		}, nil

	case config.OracleBaseline:
		logger.Info("using baseline oracle", "season", cfg.BaselineSeason)
		return func() (oracle.Oracle, error) {
			return oracle.NewBaselineOracle(cfg.BaselineSeason), nil
		}, nil

	case config.OracleAR:
		if _, err := oracle.NewAROracle(cfg.AROrder, cfg.ARDiff); err != nil {
			return nil, err
		}
		logger.Info("using autoregressive oracle", "order", cfg.AROrder, "diff", cfg.ARDiff)
		return func() (oracle.Oracle, error) {
			o, err := oracle.NewAROracle(cfg.AROrder, cfg.ARDiff)
			if err != nil {
				return nil, err
			}
			return o, nil
		}, nil

	default:
		return nil, fmt.Errorf("invalid oracle type %q", cfg.Oracle)
	}
}

// Instrument wraps o so every Forecast call is reported to rec. Load is
// passed through when o implements oracle.Loader.
func Instrument(o oracle.Oracle, rec Recorder) oracle.Oracle {
	if rec == nil {
		return o
	}
	return &instrumented{Oracle: o, rec: rec}
}

type instrumented struct {
	oracle.Oracle
	rec Recorder
}

func (i *instrumented) Forecast(ctx context.Context, in oracle.Input) ([]oracle.Output, error) {
	start := time.Now()
	out, err := i.Oracle.Forecast(ctx, in)
	i.rec.RecordOracle(i.Name(), time.Since(start).Seconds(), err)
	return out, err
}

func (i *instrumented) Load(ctx context.Context) error {
	if l, ok := i.Oracle.(oracle.Loader); ok {
		return l.Load(ctx)
	}
	return nil
}
