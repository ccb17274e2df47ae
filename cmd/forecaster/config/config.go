// Package config provides configuration parsing for the forecast service.
//
// Every setting can be given as a command-line flag or an environment
// variable; flags take precedence, then environment, then defaults. The
// resulting Config covers:
//   - Listeners (HTTP, gRPC health) and server TLS
//   - Logging (level, format)
//   - Oracle selection and its client settings (URL, timeout, TLS)
//   - Worker pool sizing
//   - Request preparation policies (fill, duplicates, default frequency)
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	// cfg has been validated; invalid settings exit the process
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/HatiCode/foresight/pkg/pipeline"
	"github.com/HatiCode/foresight/pkg/timeseries"
	"github.com/HatiCode/foresight/pkg/tls"
)

// Oracle kinds.
const (
	OracleHTTP     = "http"
	OracleBaseline = "baseline"
	OracleAR       = "ar"
)

// Config holds all forecast service configuration.
type Config struct {
	Listen       string
	GRPCListen   string
	LogFormat    string
	LogLevel     string
	MaxBodyBytes int64
	WriteTimeout time.Duration
	TLS          tls.Config

	Oracle            string
	OracleURL         string
	OracleHealthURL   string
	OracleTimeout     time.Duration
	OracleRecordsPath string
	OracleTLS         tls.Config
	BaselineSeason    int
	AROrder           int
	ARDiff            int

	Workers           int
	WorkerConcurrency int

	FillPolicy          string
	DuplicatePolicy     string
	DefaultFreq         string
	MaxPredictionLength int
}

// ParseFlags parses os.Args and the environment into a validated Config.
// Invalid configuration is fatal.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	return cfg
}

// Parse parses args with environment fallbacks and validates the result.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("forecaster", flag.ContinueOnError)

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":9091"), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", getEnvInt64("MAX_BODY_BYTES", 32<<20), "Maximum /predict request body size")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", getEnvDuration("WRITE_TIMEOUT", 2*time.Minute), "HTTP server write timeout")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mTLS for the HTTP server")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	fs.StringVar(&cfg.Oracle, "oracle", getEnv("ORACLE", OracleHTTP), "Oracle: http, baseline or ar")
	fs.StringVar(&cfg.OracleURL, "oracle-url", getEnv("ORACLE_URL", ""), "Forecast endpoint of the remote oracle (required when oracle=http)")
	fs.StringVar(&cfg.OracleHealthURL, "oracle-health-url", getEnv("ORACLE_HEALTH_URL", ""), "Readiness endpoint of the remote oracle (default <oracle-url host>/health)")
	fs.DurationVar(&cfg.OracleTimeout, "oracle-timeout", getEnvDuration("ORACLE_TIMEOUT", 60*time.Second), "Remote oracle request timeout")
	fs.StringVar(&cfg.OracleRecordsPath, "oracle-records-path", getEnv("ORACLE_RECORDS_PATH", "forecast"), "gjson path to the forecast records in the oracle response")
	fs.BoolVar(&cfg.OracleTLS.Enabled, "oracle-tls-enabled", getEnvBool("ORACLE_TLS_ENABLED", false), "Enable mTLS towards the oracle")
	fs.StringVar(&cfg.OracleTLS.CertFile, "oracle-tls-cert-file", getEnv("ORACLE_TLS_CERT_FILE", ""), "Oracle client certificate file")
	fs.StringVar(&cfg.OracleTLS.KeyFile, "oracle-tls-key-file", getEnv("ORACLE_TLS_KEY_FILE", ""), "Oracle client private key file")
	fs.StringVar(&cfg.OracleTLS.CAFile, "oracle-tls-ca-file", getEnv("ORACLE_TLS_CA_FILE", ""), "CA certificate file for verifying the oracle")
	fs.IntVar(&cfg.BaselineSeason, "baseline-season", getEnvInt("BASELINE_SEASON", 24), "Season length of the baseline oracle in steps")
	fs.IntVar(&cfg.AROrder, "ar-order", getEnvInt("AR_ORDER", 2), "Autoregressive order of the ar oracle")
	fs.IntVar(&cfg.ARDiff, "ar-diff", getEnvInt("AR_DIFF", 1), "Differencing order of the ar oracle (0-2)")

	fs.IntVar(&cfg.Workers, "workers", getEnvInt("WORKERS", 1), "Number of workers, each with its own oracle")
	fs.IntVar(&cfg.WorkerConcurrency, "worker-concurrency", getEnvInt("WORKER_CONCURRENCY", 4), "Concurrent oracle invocations per worker")

	fs.StringVar(&cfg.FillPolicy, "fill-policy", getEnv("FILL_POLICY", string(timeseries.FillNone)), "Missing value policy: none or ffill")
	fs.StringVar(&cfg.DuplicatePolicy, "duplicate-policy", getEnv("DUPLICATE_POLICY", string(timeseries.DuplicateKeep)), "Duplicate timestamp policy: keep, last or reject")
	fs.StringVar(&cfg.DefaultFreq, "default-freq", getEnv("DEFAULT_FREQ", "1h"), "Frequency used when a request has none and none can be inferred")
	fs.IntVar(&cfg.MaxPredictionLength, "max-prediction-length", getEnvInt("MAX_PREDICTION_LENGTH", pipeline.DefaultMaxPredictionLength), "Largest prediction_length a request may ask for")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max-body-bytes must be > 0, got %d", c.MaxBodyBytes)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker-concurrency must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.MaxPredictionLength < 1 {
		return fmt.Errorf("max-prediction-length must be >= 1, got %d", c.MaxPredictionLength)
	}

	switch c.Oracle {
	case OracleHTTP:
		if c.OracleURL == "" {
			return errors.New("oracle-url is required when oracle=http")
		}
		u, err := url.Parse(c.OracleURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid oracle-url %q", c.OracleURL)
		}
		if c.OracleTimeout <= 0 {
			return errors.New("oracle-timeout must be > 0")
		}
	case OracleBaseline:
		if c.BaselineSeason < 1 {
			return fmt.Errorf("baseline-season must be >= 1, got %d", c.BaselineSeason)
		}
	case OracleAR:
		if c.AROrder < 1 {
			return fmt.Errorf("ar-order must be >= 1, got %d", c.AROrder)
		}
		if c.ARDiff < 0 || c.ARDiff > 2 {
			return fmt.Errorf("ar-diff must be in [0, 2], got %d", c.ARDiff)
		}
	default:
		return fmt.Errorf("invalid oracle %q (must be http, baseline or ar)", c.Oracle)
	}

	if _, err := timeseries.ParseFillPolicy(c.FillPolicy); err != nil {
		return err
	}
	if _, err := timeseries.ParseDuplicatePolicy(c.DuplicatePolicy); err != nil {
		return err
	}
	if _, err := timeseries.ParseFreq(c.DefaultFreq); err != nil {
		return fmt.Errorf("default-freq: %w", err)
	}

	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("server tls: %w", err)
	}
	if err := c.OracleTLS.Validate(); err != nil {
		return fmt.Errorf("oracle tls: %w", err)
	}
	return nil
}

// AlignOptions returns the preparation policies. Call only on a validated Config.
func (c *Config) AlignOptions() timeseries.Options {
	fill, _ := timeseries.ParseFillPolicy(c.FillPolicy)
	dup, _ := timeseries.ParseDuplicatePolicy(c.DuplicatePolicy)
	return timeseries.Options{Fill: fill, Duplicates: dup}
}

// Freq returns the parsed default frequency. Call only on a validated Config.
func (c *Config) Freq() timeseries.Freq {
	f, _ := timeseries.ParseFreq(c.DefaultFreq)
	return f
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
