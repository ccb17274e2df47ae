// Package pipeline runs one forecast request through its stages:
//
//	validate → align → window → invoke → encode
//
// Every stage but invoke is a synchronous in-memory transformation; invoke is
// the only step that may block. A Pipeline holds no per-request state, so one
// instance serves any number of concurrent requests.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HatiCode/foresight/pkg/encode"
	"github.com/HatiCode/foresight/pkg/forecast"
	"github.com/HatiCode/foresight/pkg/oracle"
	"github.com/HatiCode/foresight/pkg/timeseries"
)

// Stage names, used for logs, metrics and spans.
const (
	StageValidate = "validate"
	StageAlign    = "align"
	StageWindow   = "window"
	StageInvoke   = "invoke"
	StageEncode   = "encode"
)

var tracer = otel.Tracer("github.com/HatiCode/foresight/pkg/pipeline")

// Recorder receives stage timings. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordStage(stage string, seconds float64)
}

// Options configure how requests are prepared for the oracle.
type Options struct {
	Align timeseries.Options
	// DefaultFreq is used when a request has no freq and none can be inferred.
	DefaultFreq timeseries.Freq
	// MaxPredictionLength caps the requested horizon.
	MaxPredictionLength int
}

// DefaultMaxPredictionLength applies when Options leave the cap unset.
const DefaultMaxPredictionLength = 10000

// Pipeline binds the request stages to one loaded oracle.
type Pipeline struct {
	oracle   oracle.Oracle
	opts     Options
	logger   *slog.Logger
	recorder Recorder
}

// Summary describes a completed request for logging and metrics.
type Summary struct {
	Rows      int
	Window    int
	Freq      timeseries.Freq
	Horizon   int
	Missing   int
	LastInput time.Time
}

// New creates a pipeline around o. recorder may be nil.
func New(o oracle.Oracle, opts Options, logger *slog.Logger, recorder Recorder) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultFreq.Interval <= 0 {
		opts.DefaultFreq = timeseries.FreqOf(time.Hour)
	}
	if opts.MaxPredictionLength <= 0 {
		opts.MaxPredictionLength = DefaultMaxPredictionLength
	}
	return &Pipeline{
		oracle:   o,
		opts:     opts,
		logger:   logger,
		recorder: recorder,
	}
}

// Oracle returns the oracle the pipeline invokes.
func (p *Pipeline) Oracle() oracle.Oracle { return p.oracle }

// Run executes the stages in order for req. Failures carry a forecast.Kind;
// the oracle is invoked at most once and never when an earlier stage fails.
func (p *Pipeline) Run(ctx context.Context, req *forecast.Request) (encode.Prediction, Summary, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	var (
		sum    Summary
		series *timeseries.Series
		window timeseries.Window
		result oracle.Result
		pred   encode.Prediction
	)

	err := p.stage(ctx, StageValidate, func(context.Context) error {
		if err := forecast.Validate(req); err != nil {
			return err
		}
		if req.PredictionLength > p.opts.MaxPredictionLength {
			return forecast.Errorf(forecast.KindValidation,
				"prediction_length %d exceeds the maximum of %d", req.PredictionLength, p.opts.MaxPredictionLength)
		}
		return nil
	})
	if err != nil {
		return encode.Prediction{}, sum, p.fail(span, err)
	}
	sum.Rows = req.Len()
	sum.Horizon = req.PredictionLength

	err = p.stage(ctx, StageAlign, func(context.Context) error {
		var err error
		series, err = timeseries.Align(req, p.opts.Align)
		return err
	})
	if err != nil {
		return encode.Prediction{}, sum, p.fail(span, err)
	}

	var freq timeseries.Freq
	err = p.stage(ctx, StageWindow, func(context.Context) error {
		var err error
		window, err = timeseries.Select(series, req.ContextLength)
		if err != nil {
			return err
		}
		freq, err = p.resolveFreq(req.Freq, window)
		return err
	})
	if err != nil {
		return encode.Prediction{}, sum, p.fail(span, err)
	}
	sum.Window = window.Len()
	sum.Freq = freq
	sum.LastInput = window.Last().Time

	err = p.stage(ctx, StageInvoke, func(ctx context.Context) error {
		var err error
		result, err = oracle.Invoke(ctx, p.oracle, oracle.Input{
			Window:           window,
			PredictionLength: req.PredictionLength,
			Freq:             freq,
		})
		return err
	})
	if err != nil {
		return encode.Prediction{}, sum, p.fail(span, err)
	}

	_ = p.stage(ctx, StageEncode, func(context.Context) error {
		pred = encode.Sanitize(result)
		return nil
	})
	sum.Missing = pred.Missing()

	span.SetAttributes(
		attribute.Int("forecast.rows", sum.Rows),
		attribute.Int("forecast.window", sum.Window),
		attribute.Int("forecast.horizon", sum.Horizon),
	)
	return pred, sum, nil
}

// resolveFreq prefers the request hint, then the window's dominant spacing,
// then the configured default.
func (p *Pipeline) resolveFreq(hint string, w timeseries.Window) (timeseries.Freq, error) {
	if hint != "" {
		f, err := timeseries.ParseFreq(hint)
		if err != nil {
			return timeseries.Freq{}, forecast.Errorf(forecast.KindValidation, "freq: %w", err)
		}
		return f, nil
	}
	if f, ok := timeseries.InferFreq(w.Records); ok {
		return f, nil
	}
	return p.opts.DefaultFreq, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if p.recorder != nil {
		p.recorder.RecordStage(name, elapsed.Seconds())
	}

	p.logger.Debug("pipeline stage complete",
		"stage", name,
		"duration_ms", elapsed.Milliseconds(),
		"ok", err == nil,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.SetStatus(codes.Error, forecast.Reason(err))
	return err
}
