package storagesql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grafana/sentinel/pkg/model"
)

// ProjectRepo is the Postgres-backed store.ProjectRepository: identity
// resolved by id only, never an in-memory object graph (spec.md section 9).
type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo { return &ProjectRepo{pool: pool} }

func (r *ProjectRepo) ProjectByAPIKey(ctx context.Context, key string) (model.APIKey, error) {
	var k model.APIKey
	err := r.pool.QueryRow(ctx,
		`SELECT key, project_id, default_service FROM api_keys WHERE key = $1`, key,
	).Scan(&k.Key, &k.ProjectID, &k.DefaultService)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("%w: resolving api key: %v", model.ErrTransientStorage, err)
	}
	return k, nil
}

func (r *ProjectRepo) Project(ctx context.Context, id string) (model.Project, error) {
	var p model.Project
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_email FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.OwnerEmail)
	if err != nil {
		return model.Project{}, fmt.Errorf("%w: resolving project: %v", model.ErrTransientStorage, err)
	}
	return p, nil
}
