// Package processor wires the aggregator, anomaly detector, deduper,
// dispatcher, and event bus into the Processor orchestrator: the component
// that owns the hot log path and the periodic metric-finalization and
// liveness-watchdog tickers.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/sentinel/pkg/aggregator"
	"github.com/grafana/sentinel/pkg/alert"
	"github.com/grafana/sentinel/pkg/anomaly"
	"github.com/grafana/sentinel/pkg/changefeed"
	"github.com/grafana/sentinel/pkg/clock"
	"github.com/grafana/sentinel/pkg/eventbus"
	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// Config controls the orchestrator's ticker intervals and shutdown drain
// timeout; everything else is configured on the components it wires.
type Config struct {
	// MetricFinalizeInterval defaults to the aggregator's window size (W).
	MetricFinalizeInterval time.Duration
	// WatchdogInterval defaults to 60s.
	WatchdogInterval time.Duration
	// ShutdownDrain bounds how long Stop waits for in-flight work.
	ShutdownDrain time.Duration
}

// DefaultConfig returns the standard 60s finalize/watchdog intervals and a
// 10s shutdown drain.
func DefaultConfig() Config {
	return Config{
		MetricFinalizeInterval: 60 * time.Second,
		WatchdogInterval:       60 * time.Second,
		ShutdownDrain:          10 * time.Second,
	}
}

// ProjectResolver resolves the projectID an alert's service should dispatch
// under. The core only needs id resolution (spec.md section 9's "resolve by
// id only"); a thin lookup over the most-recently-used API key mapping is a
// collaborator concern fed in here.
type ProjectResolver func(ctx context.Context, service string) (string, error)

// Processor is the orchestrator component: it owns the periodic tickers and
// the per-log hot path shared by ChangeListener delivery and direct
// in-process ingest.
type Processor struct {
	cfg Config

	clock       clock.Clock
	aggregator  *aggregator.Aggregator
	detector    *anomaly.Detector
	deduper     *alert.Deduper
	dispatcher  *alert.Dispatcher
	metrics     store.MetricRepository
	bus         *eventbus.Bus
	resolveProj ProjectResolver

	log log.Logger

	// stop and done decouple Stop from whatever goroutine happens to be
	// running Run: closing stop (idempotently, via stopOnce) always
	// requests shutdown, even if called before Run's goroutine has
	// scheduled, and done is closed once Run has actually returned.
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	runErr   error
}

// New constructs a Processor. All dependencies are passed explicitly; the
// Processor never reaches for a package-level global.
func New(
	cfg Config,
	clk clock.Clock,
	agg *aggregator.Aggregator,
	detector *anomaly.Detector,
	deduper *alert.Deduper,
	dispatcher *alert.Dispatcher,
	metrics store.MetricRepository,
	bus *eventbus.Bus,
	resolveProj ProjectResolver,
	logger log.Logger,
) *Processor {
	return &Processor{
		cfg: cfg, clock: clk, aggregator: agg, detector: detector,
		deduper: deduper, dispatcher: dispatcher, metrics: metrics,
		bus: bus, resolveProj: resolveProj, log: logger,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// OnLog is the per-log hot path, invoked by ChangeListener on every
// notification and by the in-process ingest path directly: update the
// aggregator, publish partial samples, run the anomaly detector, and dedupe
// plus dispatch any alerts it raises.
func (p *Processor) OnLog(ctx context.Context, rec model.LogRecord) {
	p.bus.Publish(eventbus.Event{Topic: eventbus.TopicLogReceived, Payload: rec})

	partials := p.aggregator.OnLog(rec)
	for _, s := range partials {
		p.bus.Publish(eventbus.Event{Topic: eventbus.TopicMetricAggregated, Payload: s})
		if err := p.metrics.Upsert(ctx, s); err != nil {
			level.Warn(p.log).Log("msg", "failed to upsert partial metric sample", "service", s.Service, "metricType", s.MetricType, "err", err)
		}
	}

	alerts := p.detector.ObserveLog(rec)
	for _, a := range alerts {
		p.handleAlert(ctx, a)
	}
}

// finalizeMetrics drains completed windows, upserts and publishes each
// finalized sample, and feeds them through the latency-threshold rule.
func (p *Processor) finalizeMetrics(ctx context.Context) {
	now := p.clock.Now()
	finals := p.aggregator.DrainCompleted(now)
	for _, s := range finals {
		p.bus.Publish(eventbus.Event{Topic: eventbus.TopicMetricAggregated, Payload: s})
		if err := p.metrics.Upsert(ctx, s); err != nil {
			level.Warn(p.log).Log("msg", "failed to upsert finalized metric sample", "service", s.Service, "metricType", s.MetricType, "err", err)
		}
	}

	for _, a := range p.detector.EvaluateMetrics(finals) {
		p.handleAlert(ctx, a)
	}
}

// watchdog runs the liveness check and routes any SERVICE_DOWN alerts
// through the same dedupe/dispatch path as the hot path.
func (p *Processor) watchdog(ctx context.Context) {
	for _, a := range p.detector.CheckLiveness(p.clock.Now()) {
		p.handleAlert(ctx, a)
	}
}

func (p *Processor) handleAlert(ctx context.Context, a model.Alert) {
	projectID, err := p.resolveProj(ctx, a.Service)
	if err != nil {
		level.Warn(p.log).Log("msg", "failed to resolve project for alert, dropping", "service", a.Service, "err", err)
		return
	}
	a.ProjectID = projectID
	a.CreatedAt = p.clock.Now()

	outcome, stored, err := p.deduper.InsertDeduped(ctx, a)
	if err != nil {
		level.Error(p.log).Log("msg", "failed to dedupe alert", "service", a.Service, "alertType", a.Type, "err", err)
		return
	}
	if outcome == store.DedupeSkipped {
		return
	}

	p.bus.Publish(eventbus.Event{Topic: eventbus.TopicAlertTriggered, Payload: stored})
	if err := p.dispatcher.Dispatch(ctx, projectID, stored); err != nil {
		level.Warn(p.log).Log("msg", "failed to dispatch alert", "service", a.Service, "alertType", a.Type, "err", err)
	}
}

// Run starts the metric-finalization and watchdog tickers and the
// change-listener receive loop, blocking until ctx is canceled or Stop is
// called. The initialization order matches spec.md section 4.9: tickers
// start, then the listener begins its catch-up pass.
func (p *Processor) Run(ctx context.Context, listener *changefeed.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()
	defer close(p.done)

	g, gctx := errgroup.WithContext(runCtx)

	finalizeTicker := p.clock.NewTicker(p.cfg.MetricFinalizeInterval)
	watchdogTicker := p.clock.NewTicker(p.cfg.WatchdogInterval)

	g.Go(func() error {
		defer finalizeTicker.Stop()
		for {
			select {
			case <-gctx.Done():
				p.finalizeMetrics(context.Background())
				return nil
			case <-finalizeTicker.C():
				p.finalizeMetrics(gctx)
			}
		}
	})

	g.Go(func() error {
		defer watchdogTicker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-watchdogTicker.C():
				p.watchdog(gctx)
			}
		}
	})

	listener.OnLog(func(hctx context.Context, rec model.LogRecord) {
		p.OnLog(hctx, rec)
	})

	g.Go(func() error {
		if err := listener.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("change listener stopped: %w", err)
		}
		return nil
	})

	p.runErr = g.Wait()
	return p.runErr
}

// Stop requests shutdown and waits up to ShutdownDrain for Run to return.
// Idempotent and safe to call before, during, or after Run: requesting stop
// is decoupled from Run's goroutine scheduling, so a Stop issued the instant
// after launching Run in a goroutine is never lost.
func (p *Processor) Stop() error {
	p.stopOnce.Do(func() { close(p.stop) })

	select {
	case <-p.done:
		return p.runErr
	case <-time.After(p.cfg.ShutdownDrain):
		return fmt.Errorf("processor shutdown exceeded %s drain timeout", p.cfg.ShutdownDrain)
	}
}
