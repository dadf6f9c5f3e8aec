// Package daemon runs scan and reap on a schedule and serves metrics.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/ttlkeeper/internal/fault"
	"github.com/yairfalse/ttlkeeper/internal/reaper"
	"github.com/yairfalse/ttlkeeper/internal/scanner"
)

// Scanner flags expired instances.
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Result, error)
}

// Reaper terminates flagged instances.
type Reaper interface {
	Reap(ctx context.Context) (*reaper.Result, error)
}

// Config holds daemon configuration
type Config struct {
	Interval    time.Duration
	MetricsAddr string // empty disables the metrics server
	Region      string
}

// CycleResult is the outcome of one scan-then-reap cycle.
type CycleResult struct {
	Scan     *scanner.Result
	Reap     *reaper.Result
	Duration time.Duration
	Errors   []error
}

// OK reports whether both stages succeeded.
func (c CycleResult) OK() bool {
	return len(c.Errors) == 0
}

// Daemon manages the scan/reap loop
type Daemon struct {
	cfg       Config
	scanner   Scanner
	reaper    Reaper
	metrics   *Metrics
	tracer    trace.Tracer
	clock     clock.Clock
	logger    zerolog.Logger
	startTime time.Time
	cycles    atomic.Int64
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(d *Daemon) {
		d.clock = c
	}
}

// WithTracer records a span per cycle and per stage.
func WithTracer(t trace.Tracer) Option {
	return func(d *Daemon) {
		d.tracer = t
	}
}

// New creates a daemon. metrics may be nil.
func New(cfg Config, s Scanner, r Reaper, metrics *Metrics, logger zerolog.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		scanner: s,
		reaper:  r,
		metrics: metrics,
		tracer:  noop.NewTracerProvider().Tracer(""),
		clock:   clock.New(),
		logger:  logger.With().Str("component", "daemon").Str("region", cfg.Region).Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.startTime = d.clock.Now()
	return d
}

// Run executes cycles until ctx is cancelled or an actor fails.
// The first cycle runs immediately.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			d.loop(ctx)
			return nil
		}, func(error) {
			cancel()
		})
	}

	if d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			return err
		}
		srv := d.metricsServer()
		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			<-ctx.Done()
			d.logger.Info().Msg("shutting down")
			return nil
		}, func(error) {
			cancel()
		})
	}

	d.logger.Info().Dur("interval", d.cfg.Interval).Msg("daemon starting")
	return g.Run()
}

func (d *Daemon) loop(ctx context.Context) {
	d.RunCycle(ctx)

	ticker := d.clock.Ticker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle scans then reaps once. A failed scan does not skip the reap:
// the delete list may still hold IDs from earlier cycles.
func (d *Daemon) RunCycle(ctx context.Context) CycleResult {
	start := d.clock.Now()
	d.cycles.Add(1)

	ctx, span := d.tracer.Start(ctx, "ttlkeeper.cycle",
		trace.WithAttributes(attribute.String("cloud.region", d.cfg.Region)))
	defer span.End()

	var result CycleResult

	scanResult, err := d.scan(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("scan failed")
		result.Errors = append(result.Errors, err)
		d.recordError(ctx, "scan", err)
	}
	result.Scan = scanResult

	reapResult, err := d.reap(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("reap failed")
		result.Errors = append(result.Errors, err)
		d.recordError(ctx, "reap", err)
	}
	result.Reap = reapResult

	if !result.OK() {
		span.SetStatus(codes.Error, "cycle failed")
	}
	result.Duration = d.clock.Since(start)
	if d.metrics != nil {
		if scanResult != nil {
			d.metrics.RecordFlagged(ctx, int64(scanResult.NewlyFlagged.Len()))
		}
		if reapResult != nil && reapResult.Terminated != nil {
			d.metrics.RecordTerminated(ctx, int64(reapResult.Terminated.Len()))
		}
		d.metrics.RecordCycleDuration(ctx, result.Duration.Seconds(), result.OK())
	}

	d.logger.Info().
		Bool("success", result.OK()).
		Dur("duration", result.Duration).
		Msg("cycle complete")

	return result
}

func (d *Daemon) scan(ctx context.Context) (*scanner.Result, error) {
	ctx, span := d.tracer.Start(ctx, "ttlkeeper.scan")
	defer span.End()

	result, err := d.scanner.Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("ttlkeeper.scanned", result.Scanned),
		attribute.Int("ttlkeeper.flagged", result.NewlyFlagged.Len()),
	)
	return result, nil
}

func (d *Daemon) reap(ctx context.Context) (*reaper.Result, error) {
	ctx, span := d.tracer.Start(ctx, "ttlkeeper.reap")
	defer span.End()

	result, err := d.reaper.Reap(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if result != nil && result.Terminated != nil {
		span.SetAttributes(attribute.Int("ttlkeeper.terminated", result.Terminated.Len()))
	}
	return result, err
}

func (d *Daemon) recordError(ctx context.Context, stage string, err error) {
	if d.metrics == nil {
		return
	}
	kind, _ := fault.KindOf(err)
	d.metrics.RecordCycleError(ctx, stage, string(kind))
}

func (d *Daemon) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(d.clock.Since(d.startTime).Seconds()),
		Cycles: d.cycles.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string
	Uptime int64
	Cycles int64
}

// CycleCount returns total cycles run
func (d *Daemon) CycleCount() int64 {
	return d.cycles.Load()
}
