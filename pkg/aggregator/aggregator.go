// Package aggregator implements per-service tumbling-window metric
// aggregation: log counts, error counts, throughput, and a bounded-sample
// p95 latency estimate, emitted as partial samples while a window is open
// and as finalized samples once it closes.
package aggregator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/sentinel/pkg/clock"
	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/ringstats"
)

// Config controls window sizing.
type Config struct {
	// WindowSeconds is W, the tumbling window duration. Default 60s.
	WindowSeconds int
	// GraceSeconds is how long past windowEnd a window is kept open for
	// late-arriving logs before drainCompleted finalizes it. Default 1s.
	GraceSeconds int
	// MaxLatencySamples bounds the per-window latency vector. Default 10000.
	MaxLatencySamples int
}

// DefaultConfig returns the standard 60s window / 1s grace / 10k-sample
// defaults.
func DefaultConfig() Config {
	return Config{WindowSeconds: 60, GraceSeconds: 1, MaxLatencySamples: 10000}
}

func (c Config) window() time.Duration { return time.Duration(c.WindowSeconds) * time.Second }
func (c Config) grace() time.Duration  { return time.Duration(c.GraceSeconds) * time.Second }

// windowState is the transient per-(service, windowStart) accumulator;
// Aggregator exclusively owns it.
type windowState struct {
	service     string
	windowStart time.Time
	windowEnd   time.Time
	logCount    int64
	errorCount  int64
	latencies   *ringstats.LatencyVec
}

// shard partitions state for one service so operations on a given service
// are serialized without a global lock.
type shard struct {
	mu      sync.Mutex
	windows map[time.Time]*windowState
}

// Aggregator is the MetricAggregator component.
type Aggregator struct {
	cfg   Config
	clock clock.Clock

	mu     sync.RWMutex
	shards map[string]*shard

	metricLogCount  prometheus.Counter
	metricWindows   prometheus.Gauge
	metricFinalized *prometheus.CounterVec
}

// New constructs an Aggregator. reg may be nil to skip metric registration
// (used in tests).
func New(cfg Config, clk clock.Clock, reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		cfg:    cfg,
		clock:  clk,
		shards: make(map[string]*shard),
		metricLogCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "aggregator",
			Name:      "logs_observed_total",
			Help:      "Total log records observed by the metric aggregator.",
		}),
		metricWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "aggregator",
			Name:      "open_windows",
			Help:      "Number of currently open (service, windowStart) windows.",
		}),
		metricFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "aggregator",
			Name:      "finalized_samples_total",
			Help:      "Finalized metric samples emitted, by metric type.",
		}, []string{"metric_type"}),
	}
	if reg != nil {
		reg.MustRegister(a.metricLogCount, a.metricWindows, a.metricFinalized)
	}
	return a
}

func (a *Aggregator) alignedStart(ts time.Time) time.Time {
	w := a.cfg.window()
	return time.Unix(ts.Unix()/int64(w.Seconds())*int64(w.Seconds()), 0).UTC()
}

func (a *Aggregator) shardFor(service string) *shard {
	a.mu.RLock()
	s, ok := a.shards[service]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.shards[service]; ok {
		return s
	}
	s = &shard{windows: make(map[time.Time]*windowState)}
	a.shards[service] = s
	return s
}

// OnLog updates the current window for log.Service and returns a snapshot of
// that window's current samples (partial).
func (a *Aggregator) OnLog(log model.LogRecord) []model.MetricSample {
	a.metricLogCount.Inc()

	windowStart := a.alignedStart(log.Timestamp)
	windowEnd := windowStart.Add(a.cfg.window())

	s := a.shardFor(log.Service)
	s.mu.Lock()
	ws, ok := s.windows[windowStart]
	if !ok {
		ws = &windowState{
			service:     log.Service,
			windowStart: windowStart,
			windowEnd:   windowEnd,
			latencies:   ringstats.NewLatencyVec(a.cfg.MaxLatencySamples),
		}
		s.windows[windowStart] = ws
		a.metricWindows.Inc()
	}
	ws.logCount++
	if log.Level.IsError() {
		ws.errorCount++
	}
	if lat, ok := log.Latency(); ok {
		ws.latencies.Add(lat)
	}
	samples := snapshot(ws, a.clock.Now(), false)
	s.mu.Unlock()

	return samples
}

// DrainCompleted finalizes and drops all windows across all services whose
// windowEnd has passed now-grace. Each (service, windowStart) emits at most
// one finalized sample per metric type.
func (a *Aggregator) DrainCompleted(now time.Time) []model.MetricSample {
	a.mu.RLock()
	shards := make([]*shard, 0, len(a.shards))
	for _, s := range a.shards {
		shards = append(shards, s)
	}
	a.mu.RUnlock()

	cutoff := now.Add(-a.cfg.grace())

	var out []model.MetricSample
	for _, s := range shards {
		s.mu.Lock()
		for start, ws := range s.windows {
			if ws.windowEnd.After(cutoff) {
				continue
			}
			finalized := snapshot(ws, ws.windowEnd, true)
			out = append(out, finalized...)
			for _, fs := range finalized {
				a.metricFinalized.WithLabelValues(string(fs.MetricType)).Inc()
			}
			delete(s.windows, start)
			a.metricWindows.Dec()
		}
		s.mu.Unlock()
	}
	return out
}

// snapshot computes the current sample set for a window: LOG_COUNT always,
// ERROR_COUNT if >0, LATENCY_P95/THROUGHPUT if latencies are non-empty.
func snapshot(ws *windowState, asOf time.Time, final bool) []model.MetricSample {
	windowEnd := ws.windowEnd
	if !final && asOf.Before(windowEnd) {
		windowEnd = asOf
	}

	base := model.MetricSample{
		Service:     ws.service,
		WindowStart: ws.windowStart,
		WindowEnd:   windowEnd,
		Final:       final,
	}

	out := make([]model.MetricSample, 0, 4)

	logSample := base
	logSample.MetricType = model.MetricLogCount
	logSample.Value = float64(ws.logCount)
	out = append(out, logSample)

	if ws.errorCount > 0 {
		errSample := base
		errSample.MetricType = model.MetricErrorCount
		errSample.Value = float64(ws.errorCount)
		out = append(out, errSample)
	}

	if ws.latencies.Len() > 0 {
		p95Sample := base
		p95Sample.MetricType = model.MetricLatencyP95
		p95Sample.Value = ws.latencies.P95()
		out = append(out, p95Sample)
	}

	// THROUGHPUT is emitted whenever the window has observed any logs: it is
	// logCount/elapsed, independent of whether any log carried latency
	// metadata, so the gate tracks logCount rather than the latency vector.
	if ws.logCount > 0 {
		elapsed := windowEnd.Sub(ws.windowStart).Seconds()
		if elapsed <= 0 {
			elapsed = 1
		}
		throughputSample := base
		throughputSample.MetricType = model.MetricThroughput
		throughputSample.Value = float64(ws.logCount) / elapsed
		out = append(out, throughputSample)
	}

	return out
}
