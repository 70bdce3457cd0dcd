// Package storagesql implements the pkg/store repository interfaces on top
// of Postgres via pgx, plus the change-notification Dialer ChangeListener
// uses and a Redis-backed read-through cache for metric reads.
package storagesql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// LogChannel is the Postgres NOTIFY channel the init migration's trigger
// publishes new log ids on.
const LogChannel = "log_inserted"

// LogRepo is the Postgres-backed store.LogRepository.
type LogRepo struct {
	pool *pgxpool.Pool
}

// NewLogRepo wraps an existing pool; callers own the pool's lifecycle.
func NewLogRepo(pool *pgxpool.Pool) *LogRepo { return &LogRepo{pool: pool} }

func (r *LogRepo) InsertBatch(ctx context.Context, records []model.LogRecord) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning log insert tx: %v", model.ErrTransientStorage, err)
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		meta, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		var id int64
		err = tx.QueryRow(ctx,
			`INSERT INTO logs (timestamp, level, service, message, metadata, trace_id, span_id)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, '')) RETURNING id`,
			rec.Timestamp, string(rec.Level), rec.Service, rec.Message, meta, rec.TraceID, rec.SpanID,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("%w: inserting log: %v", model.ErrTransientStorage, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: committing log batch: %v", model.ErrTransientStorage, err)
	}
	return ids, nil
}

func (r *LogRepo) GetByID(ctx context.Context, id int64) (model.LogRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, timestamp, level, service, message, metadata, COALESCE(trace_id, ''), COALESCE(span_id, '')
		 FROM logs WHERE id = $1`, id)
	return scanLogRow(row)
}

func (r *LogRepo) Query(ctx context.Context, q store.LogQuery) ([]model.LogRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, timestamp, level, service, message, metadata, COALESCE(trace_id, ''), COALESCE(span_id, '')
		 FROM logs WHERE service = $1 AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY timestamp DESC LIMIT $4`, q.Service, q.Start, q.End, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying logs: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var out []model.LogRecord
	for rows.Next() {
		rec, err := scanLogRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *LogRepo) RecentIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM logs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying recent ids: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLogRow(row rowScanner) (model.LogRecord, error) {
	var rec model.LogRecord
	var level string
	var meta []byte
	if err := row.Scan(&rec.ID, &rec.Timestamp, &level, &rec.Service, &rec.Message, &meta, &rec.TraceID, &rec.SpanID); err != nil {
		return model.LogRecord{}, fmt.Errorf("%w: scanning log row: %v", model.ErrTransientStorage, err)
	}
	rec.Level = model.Level(level)
	metadata, err := decodeMetadata(meta)
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("decoding metadata: %w", err)
	}
	rec.Metadata = metadata
	return rec, nil
}

// SpanRepo is the Postgres-backed store.SpanRepository.
type SpanRepo struct {
	pool *pgxpool.Pool
}

func NewSpanRepo(pool *pgxpool.Pool) *SpanRepo { return &SpanRepo{pool: pool} }

func (r *SpanRepo) InsertBatch(ctx context.Context, spans []model.Span) error {
	if len(spans) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning span insert tx: %v", model.ErrTransientStorage, err)
	}
	defer tx.Rollback(ctx)

	for _, sp := range spans {
		attrs, _ := json.Marshal(sp.Attributes)
		events, _ := json.Marshal(sp.Events)
		links, _ := json.Marshal(sp.Links)
		var endTime any
		if !sp.EndTime.IsZero() {
			endTime = sp.EndTime
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO spans (trace_id, span_id, parent_span_id, name, kind, service, start_time, end_time, status, attributes, events, links)
			 VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12)
			 ON CONFLICT (trace_id, span_id) DO UPDATE SET end_time = EXCLUDED.end_time, status = EXCLUDED.status`,
			sp.TraceID, sp.SpanID, sp.ParentSpanID, sp.Name, string(sp.Kind), sp.Service,
			sp.StartTime, endTime, string(sp.Status), attrs, events, links)
		if err != nil {
			return fmt.Errorf("%w: inserting span: %v", model.ErrTransientStorage, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *SpanRepo) GetTrace(ctx context.Context, traceID string) (model.Trace, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT trace_id, span_id, COALESCE(parent_span_id,''), name, kind, service, start_time, end_time, status, attributes, events, links
		 FROM spans WHERE trace_id = $1`, traceID)
	if err != nil {
		return model.Trace{}, fmt.Errorf("%w: querying trace: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var spans []model.Span
	for rows.Next() {
		var sp model.Span
		var kind, status string
		var attrs, events, links []byte
		var endTime *time.Time
		if err := rows.Scan(&sp.TraceID, &sp.SpanID, &sp.ParentSpanID, &sp.Name, &kind, &sp.Service,
			&sp.StartTime, &endTime, &status, &attrs, &events, &links); err != nil {
			return model.Trace{}, err
		}
		sp.Kind = model.SpanKind(kind)
		sp.Status = model.SpanStatus(status)
		if endTime != nil {
			sp.EndTime = *endTime
		}
		_ = json.Unmarshal(attrs, &sp.Attributes)
		_ = json.Unmarshal(events, &sp.Events)
		_ = json.Unmarshal(links, &sp.Links)
		spans = append(spans, sp)
	}
	if err := rows.Err(); err != nil {
		return model.Trace{}, err
	}
	return model.NewTrace(traceID, spans), nil
}

func (r *SpanRepo) ServiceMap(ctx context.Context, since time.Time) ([]store.ServiceMapEdge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT parent.service AS caller, child.service AS callee,
		       count(*) AS count,
		       count(*) FILTER (WHERE child.status = 'ERROR') AS error_count
		FROM spans child
		JOIN spans parent ON parent.span_id = child.parent_span_id AND parent.trace_id = child.trace_id
		WHERE child.start_time >= $1
		GROUP BY parent.service, child.service`, since)
	if err != nil {
		return nil, fmt.Errorf("%w: querying service map: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var out []store.ServiceMapEdge
	for rows.Next() {
		var e store.ServiceMapEdge
		if err := rows.Scan(&e.Caller, &e.Callee, &e.Count, &e.ErrorCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MetricRepo is the Postgres-backed store.MetricRepository.
type MetricRepo struct {
	pool *pgxpool.Pool
}

func NewMetricRepo(pool *pgxpool.Pool) *MetricRepo { return &MetricRepo{pool: pool} }

func (r *MetricRepo) Upsert(ctx context.Context, s model.MetricSample) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO metric_samples (service, metric_type, window_start, window_end, value, final)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (service, metric_type, window_start) DO UPDATE
		 SET window_end = EXCLUDED.window_end, value = EXCLUDED.value, final = EXCLUDED.final
		 WHERE NOT metric_samples.final`,
		s.Service, string(s.MetricType), s.WindowStart, s.WindowEnd, s.Value, s.Final)
	if err != nil {
		return fmt.Errorf("%w: upserting metric sample: %v", model.ErrTransientStorage, err)
	}
	return nil
}

func (r *MetricRepo) Query(ctx context.Context, service string, start, end time.Time) ([]model.MetricSample, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT service, metric_type, value, window_start, window_end, final FROM metric_samples
		 WHERE service = $1 AND window_start >= $2 AND window_end <= $3 ORDER BY window_start`,
		service, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: querying metrics: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var s model.MetricSample
		var metricType string
		if err := rows.Scan(&s.Service, &metricType, &s.Value, &s.WindowStart, &s.WindowEnd, &s.Final); err != nil {
			return nil, err
		}
		s.MetricType = model.MetricType(metricType)
		out = append(out, s)
	}
	return out, rows.Err()
}

// encodeMetadata and decodeMetadata are factored out so AlertRepo and
// LogRepo share the same zstd-compressed JSON encoding (see compress.go).
func encodeMetadata(m model.Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return compressBytes(raw)
}

func decodeMetadata(compressed []byte) (model.Metadata, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	raw, err := decompressBytes(compressed)
	if err != nil {
		return nil, err
	}
	var m model.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
