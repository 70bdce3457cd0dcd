package storagesql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grafana/sentinel/pkg/model"
)

// ChannelRepo is the Postgres-backed store.ChannelRepository. CRUD for
// AlertChannel is an HTTP-surface concern (spec.md section 3); the core only
// needs the read path AlertDispatcher drives.
type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo { return &ChannelRepo{pool: pool} }

func (r *ChannelRepo) ListActiveForService(ctx context.Context, projectID, service string) ([]model.AlertChannel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, kind, COALESCE(name, ''), service_filter, active, COALESCE(webhook_url, ''), COALESCE(email_to, '')
		FROM alert_channels
		WHERE project_id = $1 AND active AND (service_filter = '' OR service_filter = $2)`,
		projectID, service)
	if err != nil {
		return nil, fmt.Errorf("%w: listing alert channels: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var out []model.AlertChannel
	for rows.Next() {
		var c model.AlertChannel
		var kind string
		if err := rows.Scan(&c.ID, &c.ProjectID, &kind, &c.Name, &c.ServiceFilter, &c.Active,
			&c.Config.WebhookURL, &c.Config.EmailTo); err != nil {
			return nil, err
		}
		c.Kind = model.ChannelKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// List returns every AlertChannel configured for a project, regardless of
// active state, for the channel-management HTTP surface.
func (r *ChannelRepo) List(ctx context.Context, projectID string) ([]model.AlertChannel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, kind, COALESCE(name, ''), service_filter, active, COALESCE(webhook_url, ''), COALESCE(email_to, '')
		FROM alert_channels WHERE project_id = $1 ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing alert channels: %v", model.ErrTransientStorage, err)
	}
	defer rows.Close()

	var out []model.AlertChannel
	for rows.Next() {
		var c model.AlertChannel
		var kind string
		if err := rows.Scan(&c.ID, &c.ProjectID, &kind, &c.Name, &c.ServiceFilter, &c.Active,
			&c.Config.WebhookURL, &c.Config.EmailTo); err != nil {
			return nil, err
		}
		c.Kind = model.ChannelKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a new AlertChannel, assigning it a fresh id.
func (r *ChannelRepo) Create(ctx context.Context, c model.AlertChannel) (model.AlertChannel, error) {
	c.ID = uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO alert_channels (id, project_id, kind, name, service_filter, active, webhook_url, email_to)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))`,
		c.ID, c.ProjectID, string(c.Kind), c.Name, c.ServiceFilter, c.Active, c.Config.WebhookURL, c.Config.EmailTo)
	if err != nil {
		return model.AlertChannel{}, fmt.Errorf("%w: creating alert channel: %v", model.ErrTransientStorage, err)
	}
	return c, nil
}

// Update overwrites an existing AlertChannel's mutable fields.
func (r *ChannelRepo) Update(ctx context.Context, c model.AlertChannel) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alert_channels
		SET name = $2, service_filter = $3, active = $4, webhook_url = NULLIF($5, ''), email_to = NULLIF($6, '')
		WHERE id = $1`,
		c.ID, c.Name, c.ServiceFilter, c.Active, c.Config.WebhookURL, c.Config.EmailTo)
	if err != nil {
		return fmt.Errorf("%w: updating alert channel: %v", model.ErrTransientStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: alert channel %s not found", model.ErrValidation, c.ID)
	}
	return nil
}

// Delete removes an AlertChannel by id.
func (r *ChannelRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM alert_channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting alert channel: %v", model.ErrTransientStorage, err)
	}
	return nil
}
