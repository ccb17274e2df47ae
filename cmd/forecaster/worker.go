package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/HatiCode/foresight/cmd/forecaster/oracles"
	"github.com/HatiCode/foresight/pkg/encode"
	"github.com/HatiCode/foresight/pkg/forecast"
	"github.com/HatiCode/foresight/pkg/oracle"
	"github.com/HatiCode/foresight/pkg/pipeline"
)

// State is the lifecycle position of a Worker.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateServing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotServing is returned by Predict before the worker has been promoted to
// StateServing.
var ErrNotServing = errors.New("worker is not serving")

// Recorder collects worker and pipeline instrumentation.
type Recorder interface {
	pipeline.Recorder
	oracles.Recorder
}

// Worker owns one loaded oracle and the pipeline bound to it. Requests on the
// same worker run concurrently; sem bounds how many of them may be inside the
// oracle at once.
type Worker struct {
	id       int
	factory  oracles.Factory
	opts     pipeline.Options
	sem      *semaphore.Weighted
	logger   *slog.Logger
	recorder Recorder

	state    atomic.Int32
	pipeline *pipeline.Pipeline
}

// NewWorker creates an uninitialized worker. concurrency must be >= 1.
func NewWorker(id int, factory oracles.Factory, opts pipeline.Options, concurrency int, logger *slog.Logger, recorder Recorder) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		id:       id,
		factory:  factory,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		logger:   logger.With("worker", id),
		recorder: recorder,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Start builds and loads the worker's own oracle. On failure the worker stays
// uninitialized.
func (w *Worker) Start(ctx context.Context) error {
	if w.State() != StateUninitialized {
		return fmt.Errorf("worker %d: start in state %s", w.id, w.State())
	}

	o, err := w.factory()
	if err != nil {
		return fmt.Errorf("worker %d: create oracle: %w", w.id, err)
	}
	if w.recorder != nil {
		o = oracles.Instrument(o, w.recorder)
	}
	if l, ok := o.(oracle.Loader); ok {
		if err := l.Load(ctx); err != nil {
			return fmt.Errorf("worker %d: load %s oracle: %w", w.id, o.Name(), err)
		}
	}

	var rec pipeline.Recorder
	if w.recorder != nil {
		rec = w.recorder
	}
	w.pipeline = pipeline.New(&gated{Oracle: o, sem: w.sem}, w.opts, w.logger, rec)
	w.state.Store(int32(StateReady))
	w.logger.Info("worker ready", "oracle", o.Name())
	return nil
}

// Serve promotes a ready worker to serving.
func (w *Worker) Serve() error {
	if !w.state.CompareAndSwap(int32(StateReady), int32(StateServing)) {
		return fmt.Errorf("worker %d: serve in state %s", w.id, w.State())
	}
	return nil
}

// Predict runs req through the worker's pipeline.
func (w *Worker) Predict(ctx context.Context, req *forecast.Request) (encode.Prediction, pipeline.Summary, error) {
	if w.State() != StateServing {
		return encode.Prediction{}, pipeline.Summary{}, ErrNotServing
	}
	return w.pipeline.Run(ctx, req)
}

// gated limits concurrent Forecast calls on one oracle.
type gated struct {
	oracle.Oracle
	sem *semaphore.Weighted
}

func (g *gated) Forecast(ctx context.Context, in oracle.Input) ([]oracle.Output, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for oracle slot: %w", err)
	}
	defer g.sem.Release(1)
	return g.Oracle.Forecast(ctx, in)
}

// Pool dispatches requests round-robin over its workers.
type Pool struct {
	workers []*Worker
	next    atomic.Uint64
	serving atomic.Bool
	logger  *slog.Logger
	gauge   ReadyGauge
}

// ReadyGauge is told how many workers can take requests.
type ReadyGauge interface {
	SetReadyWorkers(n int)
}

// NewPool creates a pool over workers. It panics on an empty slice. gauge may
// be nil.
func NewPool(workers []*Worker, logger *slog.Logger, gauge ReadyGauge) *Pool {
	if len(workers) == 0 {
		panic("forecaster: pool needs at least one worker")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{workers: workers, logger: logger, gauge: gauge}
}

// Start loads every worker concurrently and returns the first failure.
func (p *Pool) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Start(ctx) })
	}
	err := g.Wait()
	p.setReady(p.ReadyCount())
	if err != nil {
		return err
	}
	p.logger.Info("all workers ready", "workers", len(p.workers))
	return nil
}

// Serve promotes every worker to serving. Call after Start succeeded.
func (p *Pool) Serve() error {
	for _, w := range p.workers {
		if err := w.Serve(); err != nil {
			return err
		}
	}
	p.serving.Store(true)
	return nil
}

// Drain marks the pool as no longer serving; in-flight requests finish.
func (p *Pool) Drain() {
	p.serving.Store(false)
	p.setReady(0)
}

func (p *Pool) setReady(n int) {
	if p.gauge != nil {
		p.gauge.SetReadyWorkers(n)
	}
}

// ReadyCount returns how many workers have loaded their oracle.
func (p *Pool) ReadyCount() int {
	n := 0
	for _, w := range p.workers {
		if w.State() != StateUninitialized {
			n++
		}
	}
	return n
}

// Ready returns nil while the pool accepts requests.
func (p *Pool) Ready() error {
	if !p.serving.Load() {
		return fmt.Errorf("%d/%d workers ready, pool not serving", p.ReadyCount(), len(p.workers))
	}
	return nil
}

// Predict hands req to the next worker in turn.
func (p *Pool) Predict(ctx context.Context, req *forecast.Request) (encode.Prediction, pipeline.Summary, error) {
	i := p.next.Add(1) - 1
	w := p.workers[i%uint64(len(p.workers))]
	return w.Predict(ctx, req)
}
