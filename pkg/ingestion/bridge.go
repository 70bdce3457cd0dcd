// Package ingestion implements IngestionBridge: validates and persists
// incoming log/span batches from the HTTP surface, all-or-nothing at the
// storage layer, with per-record rejection reporting.
package ingestion

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// MaxBatchSize rejects oversize requests fast, before any validation work.
const MaxBatchSize = 1000

// LogBatchResult is ingestLogs's response.
type LogBatchResult struct {
	Accepted int
	IDs      []int64
	Rejected []store.RejectedRecord
}

// SpanBatchResult is ingestSpans's response.
type SpanBatchResult struct {
	Accepted int
	Rejected []store.RejectedRecord
}

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize, ahead of
// any per-record validation.
var ErrBatchTooLarge = fmt.Errorf("%w: batch exceeds %d records", model.ErrValidation, MaxBatchSize)

// Bridge is the IngestionBridge component.
type Bridge struct {
	logs  store.LogRepository
	spans store.SpanRepository
	log   log.Logger

	metricAccepted prometheus.Counter
	metricRejected prometheus.Counter
}

// New constructs a Bridge. reg may be nil to skip metric registration.
func New(logs store.LogRepository, spans store.SpanRepository, logger log.Logger, reg prometheus.Registerer) *Bridge {
	b := &Bridge{
		logs: logs, spans: spans, log: logger,
		metricAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel", Subsystem: "ingestion", Name: "records_accepted_total",
			Help: "Log/span records accepted by the ingestion bridge.",
		}),
		metricRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel", Subsystem: "ingestion", Name: "records_rejected_total",
			Help: "Log/span records rejected by the ingestion bridge.",
		}),
	}
	if reg != nil {
		reg.MustRegister(b.metricAccepted, b.metricRejected)
	}
	return b
}

// IngestLogs validates batch, applies defaultService to records with an
// empty Service, and persists the accepted subset atomically. Validation
// failures are reported per-index; they never reach LogRepository.
func (b *Bridge) IngestLogs(ctx context.Context, batch []model.LogRecord, defaultService string) (LogBatchResult, error) {
	if len(batch) > MaxBatchSize {
		return LogBatchResult{}, ErrBatchTooLarge
	}

	accepted := make([]model.LogRecord, 0, len(batch))
	var rejected []store.RejectedRecord

	for i, rec := range batch {
		if rec.Service == "" {
			rec.Service = defaultService
		}
		if err := rec.Validate(); err != nil {
			rejected = append(rejected, store.RejectedRecord{Index: i, Err: err})
			continue
		}
		accepted = append(accepted, rec)
	}

	b.metricRejected.Add(float64(len(rejected)))

	result := LogBatchResult{Rejected: rejected}
	if len(accepted) == 0 {
		return result, nil
	}

	ids, err := b.logs.InsertBatch(ctx, accepted)
	if err != nil {
		return LogBatchResult{}, fmt.Errorf("inserting log batch: %w", err)
	}

	result.Accepted = len(accepted)
	result.IDs = ids
	b.metricAccepted.Add(float64(len(accepted)))
	level.Debug(b.log).Log("msg", "ingested log batch", "accepted", len(accepted), "rejected", len(rejected))
	return result, nil
}

// IngestSpans validates and persists batch atomically; per-trace rollups
// are recomputed downstream by the repository's upsert.
func (b *Bridge) IngestSpans(ctx context.Context, batch []model.Span, defaultService string) (SpanBatchResult, error) {
	if len(batch) > MaxBatchSize {
		return SpanBatchResult{}, ErrBatchTooLarge
	}

	accepted := make([]model.Span, 0, len(batch))
	var rejected []store.RejectedRecord

	for i, sp := range batch {
		if sp.Service == "" {
			sp.Service = defaultService
		}
		if err := sp.Validate(); err != nil {
			rejected = append(rejected, store.RejectedRecord{Index: i, Err: err})
			continue
		}
		accepted = append(accepted, sp)
	}

	b.metricRejected.Add(float64(len(rejected)))

	result := SpanBatchResult{Rejected: rejected}
	if len(accepted) == 0 {
		return result, nil
	}

	if err := b.spans.InsertBatch(ctx, accepted); err != nil {
		return SpanBatchResult{}, fmt.Errorf("inserting span batch: %w", err)
	}

	result.Accepted = len(accepted)
	b.metricAccepted.Add(float64(len(accepted)))
	level.Debug(b.log).Log("msg", "ingested span batch", "accepted", len(accepted), "rejected", len(rejected))
	return result, nil
}

// ResolveDefaultService looks up the API key's bound project/default
// service for the defaultService argument to IngestLogs/IngestSpans.
func ResolveDefaultService(ctx context.Context, projects store.ProjectRepository, apiKey string) (model.APIKey, error) {
	key, err := projects.ProjectByAPIKey(ctx, apiKey)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("resolving api key: %w", err)
	}
	return key, nil
}
