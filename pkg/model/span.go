package model

import (
	"fmt"
	"regexp"
	"time"
)

// SpanKind is the OpenTelemetry-style span kind.
type SpanKind string

const (
	SpanKindServer   SpanKind = "SERVER"
	SpanKindClient   SpanKind = "CLIENT"
	SpanKindProducer SpanKind = "PRODUCER"
	SpanKindConsumer SpanKind = "CONSUMER"
	SpanKindInternal SpanKind = "INTERNAL"
)

// SpanStatus is a span's terminal status.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "OK"
	SpanStatusError SpanStatus = "ERROR"
	SpanStatusUnset SpanStatus = "UNSET"
)

var (
	traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
	spanIDPattern  = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

// SpanEvent is a single timestamped event attached to a span.
type SpanEvent struct {
	Name       string    `json:"name"`
	Time       time.Time `json:"time"`
	Attributes Metadata  `json:"attributes,omitempty"`
}

// SpanLink references another span, e.g. across a fan-in boundary.
type SpanLink struct {
	TraceID string `json:"traceId"`
	SpanID  string `json:"spanId"`
}

// Span is one entry in a distributed trace.
type Span struct {
	TraceID      string      `json:"traceId"`
	SpanID       string      `json:"spanId"`
	ParentSpanID string      `json:"parentSpanId,omitempty"`
	Name         string      `json:"name"`
	Kind         SpanKind    `json:"kind"`
	Service      string      `json:"service"`
	StartTime    time.Time   `json:"startTime"`
	EndTime      time.Time   `json:"endTime,omitempty"`
	Status       SpanStatus  `json:"status"`
	Attributes   Metadata    `json:"attributes,omitempty"`
	Events       []SpanEvent `json:"events,omitempty"`
	Links        []SpanLink  `json:"links,omitempty"`
}

// IsRoot reports whether the span has no parent.
func (s Span) IsRoot() bool { return s.ParentSpanID == "" }

// DurationMS returns the span duration in milliseconds, or 0 if EndTime is
// unset.
func (s Span) DurationMS() float64 {
	if s.EndTime.IsZero() {
		return 0
	}
	return float64(s.EndTime.Sub(s.StartTime).Microseconds()) / 1000.0
}

// Validate checks the constraints IngestionBridge.ingestSpans applies.
func (s Span) Validate() error {
	if !traceIDPattern.MatchString(s.TraceID) {
		return fmt.Errorf("%w: traceId must be 32 hex chars", ErrValidation)
	}
	if !spanIDPattern.MatchString(s.SpanID) {
		return fmt.Errorf("%w: spanId must be 16 hex chars", ErrValidation)
	}
	if s.ParentSpanID != "" && !spanIDPattern.MatchString(s.ParentSpanID) {
		return fmt.Errorf("%w: parentSpanId must be 16 hex chars", ErrValidation)
	}
	if s.Service == "" {
		return fmt.Errorf("%w: service must not be empty", ErrValidation)
	}
	if s.StartTime.IsZero() {
		return fmt.Errorf("%w: startTime is required", ErrValidation)
	}
	switch s.Kind {
	case SpanKindServer, SpanKindClient, SpanKindProducer, SpanKindConsumer, SpanKindInternal:
	default:
		return fmt.Errorf("%w: invalid span kind %q", ErrValidation, s.Kind)
	}
	return nil
}

// Trace is the read-model aggregate over a set of spans sharing a traceId.
// It is assembled on read, never persisted as its own row, matching the
// guidance against in-memory object graphs: Trace carries ids, not pointers
// to its spans' owning service/project.
type Trace struct {
	TraceID    string    `json:"traceId"`
	RootSpanID string    `json:"rootSpanId,omitempty"`
	Spans      []Span    `json:"spans"`
	SpanCount  int       `json:"spanCount"`
	ErrorCount int       `json:"errorCount"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	DurationMS float64   `json:"durationMs"`
}

// NewTrace assembles a Trace aggregate from its spans. It is the
// SPEC_FULL-supplemented read model backing GET /traces/:id.
func NewTrace(traceID string, spans []Span) Trace {
	t := Trace{TraceID: traceID, Spans: spans, SpanCount: len(spans)}
	for i, s := range spans {
		if s.IsRoot() {
			t.RootSpanID = s.SpanID
		}
		if s.Status == SpanStatusError {
			t.ErrorCount++
		}
		if i == 0 || s.StartTime.Before(t.StartTime) {
			t.StartTime = s.StartTime
		}
		if s.EndTime.After(t.EndTime) {
			t.EndTime = s.EndTime
		}
	}
	if !t.EndTime.IsZero() && !t.StartTime.IsZero() {
		t.DurationMS = float64(t.EndTime.Sub(t.StartTime).Microseconds()) / 1000.0
	}
	return t
}
