// Package store declares the repository capabilities the pipeline depends
// on. Every component takes its repository as a constructor argument,
// never reaching for a package-level global.
package store

import (
	"context"
	"time"

	"github.com/grafana/sentinel/pkg/model"
)

// BatchResult is the outcome of a batch insert: accepted records commit
// atomically; rejected ones carry a validation error and their index in the
// submitted batch.
type BatchResult struct {
	Accepted int
	Rejected []RejectedRecord
}

// RejectedRecord names one input record that failed validation.
type RejectedRecord struct {
	Index int
	Err   error
}

// LogRepository persists LogRecords and is the source the ChangeListener
// re-fetches a record from after a notification.
type LogRepository interface {
	InsertBatch(ctx context.Context, records []model.LogRecord) (ids []int64, err error)
	GetByID(ctx context.Context, id int64) (model.LogRecord, error)
	Query(ctx context.Context, q LogQuery) ([]model.LogRecord, error)
	RecentIDs(ctx context.Context, limit int) ([]int64, error)
}

// LogQuery is the read-path filter for GET /logs.
type LogQuery struct {
	Service string
	Start   time.Time
	End     time.Time
	Limit   int
}

// SpanRepository persists spans and the per-trace rollups assembled from
// them.
type SpanRepository interface {
	InsertBatch(ctx context.Context, spans []model.Span) error
	GetTrace(ctx context.Context, traceID string) (model.Trace, error)
	ServiceMap(ctx context.Context, since time.Time) ([]ServiceMapEdge, error)
}

// ServiceMapEdge is one caller->callee edge in the supplemented service map.
type ServiceMapEdge struct {
	Caller     string
	Callee     string
	Count      int64
	ErrorCount int64
}

// MetricRepository upserts metric samples. A partial sample for an open
// window may be overwritten; a finalized sample for a closed window is
// immutable.
type MetricRepository interface {
	Upsert(ctx context.Context, sample model.MetricSample) error
	Query(ctx context.Context, service string, start, end time.Time) ([]model.MetricSample, error)
}

// AlertRepository is the arbitrator AlertDeduper uses: the unique index on
// (service, alertType, timeBucket) WHERE NOT resolved lives here.
type AlertRepository interface {
	// UpsertDeduped performs the atomic dedupe upsert: insert on no
	// conflict, or compare-and-raise severity on conflict. It returns
	// ErrUniqueConstraint-wrapped races the caller should retry.
	UpsertDeduped(ctx context.Context, alert model.Alert) (outcome DedupeOutcome, stored model.Alert, err error)
	// FindByBucket looks up an existing unresolved alert in the current or
	// previous dedupe bucket, for the cross-bucket fallback lookup.
	FindByBucket(ctx context.Context, key model.DedupeKey, previousBucket int64) (model.Alert, bool, error)
	MarkSent(ctx context.Context, ids []string, sentAt time.Time) error
	Resolve(ctx context.Context, id string, resolvedAt time.Time) error
	UnsentSince(ctx context.Context, service string, alertType model.AlertType, projectID string, since time.Time) ([]model.Alert, error)
	LastSentAt(ctx context.Context, service string, alertType model.AlertType, projectID string) (time.Time, bool, error)
	Query(ctx context.Context, service string, start, end time.Time, limit int) ([]model.Alert, error)
}

// DedupeOutcome is one of {created, updated, skipped}.
type DedupeOutcome string

const (
	DedupeCreated DedupeOutcome = "created"
	DedupeUpdated DedupeOutcome = "updated"
	DedupeSkipped DedupeOutcome = "skipped"
)

// ChannelRepository resolves the AlertChannels a dispatched alert should
// fan out to. Writes (CRUD) are an HTTP-surface concern, out of core scope.
type ChannelRepository interface {
	ListActiveForService(ctx context.Context, projectID, service string) ([]model.AlertChannel, error)
}

// ProjectRepository resolves project/API-key identity by id only, never by
// an embedded object graph.
type ProjectRepository interface {
	ProjectByAPIKey(ctx context.Context, key string) (model.APIKey, error)
	Project(ctx context.Context, id string) (model.Project, error)
}
