package storagesql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// uniqueViolation is Postgres's SQLSTATE for a unique-index conflict; used
// to distinguish a genuine dedupe race (expected, retried by the Deduper)
// from any other storage error.
const uniqueViolation = "23505"

// AlertRepo is the Postgres-backed store.AlertRepository; the dedupe upsert
// is the single SQL statement spec.md section 4.6 describes, run against
// the partial unique index declared in the init migration.
type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo { return &AlertRepo{pool: pool} }

// UpsertDeduped runs the conflict-aware dedupe upsert as a single
// statement. The update is conditional on the incoming severity being
// strictly higher than the stored one, so a conflict with equal-or-lower
// severity updates nothing and returns no row; that case is distinguished
// from a genuine insert/update by a second lookup.
func (r *AlertRepo) UpsertDeduped(ctx context.Context, a model.Alert) (store.DedupeOutcome, model.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO alerts (id, project_id, alert_type, severity, message, service, created_at, time_bucket)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (service, alert_type, time_bucket) WHERE NOT resolved DO UPDATE
		SET severity = EXCLUDED.severity, message = EXCLUDED.message
		WHERE alerts.severity < EXCLUDED.severity
		RETURNING id, project_id, alert_type, severity, message, service, resolved, created_at, resolved_at, sent, last_sent_at, time_bucket,
		          (xmax = 0) AS inserted`,
		a.ID, a.ProjectID, string(a.Type), int(a.Severity), a.Message, a.Service, a.CreatedAt, a.TimeBucket,
	)

	stored, inserted, err := scanAlertRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict occurred but the incoming severity wasn't strictly
		// higher: the row exists unchanged. Look it up to report it.
		existing, ok, lookupErr := r.FindByBucket(ctx, a.DedupeKey(), a.TimeBucket)
		if lookupErr != nil {
			return "", model.Alert{}, lookupErr
		}
		if !ok {
			return "", model.Alert{}, fmt.Errorf("%w: dedupe conflict with no matching row", model.ErrInvariant)
		}
		return store.DedupeSkipped, existing, nil
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", model.Alert{}, fmt.Errorf("%w: %v", model.ErrUniqueConstraint, err)
		}
		return "", model.Alert{}, fmt.Errorf("%w: dedupe upsert: %v", model.ErrTransientStorage, err)
	}

	if inserted {
		return store.DedupeCreated, stored, nil
	}
	return store.DedupeUpdated, stored, nil
}

func (r *AlertRepo) FindByBucket(ctx context.Context, key model.DedupeKey, previousBucket int64) (model.Alert, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, project_id, alert_type, severity, message, service, resolved, created_at, resolved_at, sent, last_sent_at, time_bucket, true
		FROM alerts
		WHERE service = $1 AND alert_type = $2 AND time_bucket IN ($3, $4) AND NOT resolved
		ORDER BY time_bucket DESC LIMIT 1`,
		key.Service, string(key.Type), key.TimeBucket, previousBucket)

	a, _, err := scanAlertRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Alert{}, false, nil
	}
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("%w: bucket lookup: %v", model.ErrTransientStorage, err)
	}
	return a, true, nil
}

func (r *AlertRepo) MarkSent(ctx context.Context, ids []string, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE alerts SET sent = true, last_sent_at = $2 WHERE id = ANY($1)`, ids, sentAt)
	if err != nil {
		return fmt.Errorf("%w: marking alerts sent: %v", model.ErrTransientStorage, err)
	}
	return nil
}

func (r *AlertRepo) Resolve(ctx context.Context, id string, resolvedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE alerts SET resolved = true, resolved_at = $2 WHERE id = $1`, id, resolvedAt)
	if err != nil {
		return fmt.Errorf("%w: resolving alert: %v", model.ErrTransientStorage, err)
	}
	return nil
}

func (r *AlertRepo) UnsentSince(ctx context.Context, service string, alertType model.AlertType, projectID string, since time.Time) ([]model.Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, alert_type, severity, message, service, resolved, created_at, resolved_at, sent, last_sent_at, time_bucket, true
		FROM alerts
		WHERE service = $1 AND alert_type = $2 AND project_id = $3 AND NOT sent AND created_at >= $4
		ORDER BY created_at`, service, string(alertType), projectID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: querying unsent alerts: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, _, err := scanAlertRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AlertRepo) LastSentAt(ctx context.Context, service string, alertType model.AlertType, projectID string) (time.Time, bool, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT last_sent_at FROM alerts
		WHERE service = $1 AND alert_type = $2 AND project_id = $3 AND last_sent_at IS NOT NULL
		ORDER BY last_sent_at DESC LIMIT 1`, service, string(alertType), projectID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: querying last sent time: %v", model.ErrTransientStorage, err)
	}
	return t, true, nil
}

func (r *AlertRepo) Query(ctx context.Context, service string, start, end time.Time, limit int) ([]model.Alert, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, alert_type, severity, message, service, resolved, created_at, resolved_at, sent, last_sent_at, time_bucket, true
		FROM alerts WHERE service = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC LIMIT $4`, service, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying alerts: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, _, err := scanAlertRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlertRow(row rowScanner) (model.Alert, bool, error) {
	var a model.Alert
	var alertType string
	var severity int
	var resolvedAt, lastSentAt *time.Time
	var inserted bool
	if err := row.Scan(&a.ID, &a.ProjectID, &alertType, &severity, &a.Message, &a.Service,
		&a.Resolved, &a.CreatedAt, &resolvedAt, &a.Sent, &lastSentAt, &a.TimeBucket, &inserted); err != nil {
		return model.Alert{}, false, err
	}
	a.Type = model.AlertType(alertType)
	a.Severity = model.Severity(severity)
	if resolvedAt != nil {
		a.ResolvedAt = *resolvedAt
	}
	if lastSentAt != nil {
		a.LastSentAt = *lastSentAt
	}
	return a, inserted, nil
}
