package anomaly

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/sentinel/pkg/model"
)

// DetectorConfig bundles the ErrorRateModel config with the latency and
// liveness thresholds.
type DetectorConfig struct {
	ErrorRate ErrorRateConfig
	// LatencyThresholdMS is T_lat, default 1000ms.
	LatencyThresholdMS float64
	// ServiceDowntime is T_down, default 5 minutes.
	ServiceDowntime time.Duration
}

// DefaultDetectorConfig returns the standard latency threshold and downtime window.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ErrorRate:          DefaultErrorRateConfig(),
		LatencyThresholdMS: 1000,
		ServiceDowntime:    5 * time.Minute,
	}
}

// Detector wraps one ErrorRateModel per service plus a lastSeen map for
// the liveness watchdog.
type Detector struct {
	cfg DetectorConfig

	mu       sync.Mutex
	models   map[string]*ErrorRateModel
	lastSeen map[string]time.Time

	metricAlerts *prometheus.CounterVec
}

// New constructs a Detector. reg may be nil to skip metric registration.
func New(cfg DetectorConfig, reg prometheus.Registerer) *Detector {
	d := &Detector{
		cfg:      cfg,
		models:   make(map[string]*ErrorRateModel),
		lastSeen: make(map[string]time.Time),
		metricAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "anomaly",
			Name:      "alerts_raised_total",
			Help:      "Alerts raised by the anomaly detector, by alert type.",
		}, []string{"alert_type"}),
	}
	if reg != nil {
		reg.MustRegister(d.metricAlerts)
	}
	return d
}

func (d *Detector) modelFor(service string) *ErrorRateModel {
	m, ok := d.models[service]
	if !ok {
		m = NewErrorRateModel(service, d.cfg.ErrorRate)
		d.models[service] = m
	}
	return m
}

// ObserveLog updates liveness for log.Service and runs the error-rate model,
// converting any fired signal into an ERROR_SPIKE alert.
func (d *Detector) ObserveLog(log model.LogRecord) []model.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastSeen[log.Service] = log.Timestamp
	m := d.modelFor(log.Service)
	signals := m.Observe(log.Timestamp, log.Level.IsError())

	alerts := make([]model.Alert, 0, len(signals))
	for _, sig := range signals {
		d.metricAlerts.WithLabelValues(string(model.AlertErrorSpike)).Inc()
		alerts = append(alerts, model.Alert{
			Type:      model.AlertErrorSpike,
			Severity:  sig.Severity,
			Message:   sig.Message,
			Service:   sig.Service,
			CreatedAt: sig.At,
		})
	}
	return alerts
}

// EvaluateMetrics checks finalized LATENCY_P95 samples against the latency
// threshold.
func (d *Detector) EvaluateMetrics(samples []model.MetricSample) []model.Alert {
	var alerts []model.Alert
	for _, s := range samples {
		if s.MetricType != model.MetricLatencyP95 {
			continue
		}
		if s.Value <= d.cfg.LatencyThresholdMS {
			continue
		}
		var sev model.Severity
		switch {
		case s.Value > 3*d.cfg.LatencyThresholdMS:
			sev = model.SeverityCritical
		case s.Value > 2*d.cfg.LatencyThresholdMS:
			sev = model.SeverityHigh
		default:
			sev = model.SeverityMedium
		}
		d.metricAlerts.WithLabelValues(string(model.AlertHighLatency)).Inc()
		alerts = append(alerts, model.Alert{
			Type:      model.AlertHighLatency,
			Severity:  sev,
			Service:   s.Service,
			Message:   fmt.Sprintf("p95 latency %.0fms exceeds threshold %.0fms", s.Value, d.cfg.LatencyThresholdMS),
			CreatedAt: s.WindowEnd,
		})
	}
	return alerts
}

// CheckLiveness emits SERVICE_DOWN for every service not seen within
// ServiceDowntime of now.
func (d *Detector) CheckLiveness(now time.Time) []model.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	var alerts []model.Alert
	for service, seen := range d.lastSeen {
		if now.Sub(seen) <= d.cfg.ServiceDowntime {
			continue
		}
		d.metricAlerts.WithLabelValues(string(model.AlertServiceDown)).Inc()
		alerts = append(alerts, model.Alert{
			Type:      model.AlertServiceDown,
			Severity:  model.SeverityHigh,
			Service:   service,
			Message:   fmt.Sprintf("service %s has not reported logs in over %s", service, d.cfg.ServiceDowntime),
			CreatedAt: now,
		})
	}
	return alerts
}
