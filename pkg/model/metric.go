package model

import "time"

// MetricType enumerates the metric kinds MetricAggregator emits.
type MetricType string

const (
	MetricLogCount   MetricType = "LOG_COUNT"
	MetricErrorCount MetricType = "ERROR_COUNT"
	MetricLatencyP95 MetricType = "LATENCY_P95"
	MetricThroughput MetricType = "THROUGHPUT"
)

// MetricSample is one windowed measurement for a service.
type MetricSample struct {
	Service     string     `json:"service"`
	MetricType  MetricType `json:"metricType"`
	Value       float64    `json:"value"`
	WindowStart time.Time  `json:"windowStart"`
	WindowEnd   time.Time  `json:"windowEnd"`
	// Final is false for a partial (still-open-window) sample and true once
	// drainCompleted has emitted it; a finalized sample is immutable and
	// replaces any partial with the same (Service, MetricType, WindowStart).
	Final bool `json:"final"`
}

// Key identifies the primary-key tuple (service, metricType, windowStart)
// samples are upserted against.
type MetricKey struct {
	Service     string
	MetricType  MetricType
	WindowStart time.Time
}

func (s MetricSample) Key() MetricKey {
	return MetricKey{Service: s.Service, MetricType: s.MetricType, WindowStart: s.WindowStart}
}
