package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.ClipStore = (*PostgresClipStore)(nil)

// PostgresClipStore reads clip metadata and appends generation results.
// clip_results carries a unique index on job_id, so a duplicate record of
// the same job is a no-op at the database level.
type PostgresClipStore struct {
	pool *pgxpool.Pool
}

func NewPostgresClipStore(pool *pgxpool.Pool) *PostgresClipStore {
	return &PostgresClipStore{pool: pool}
}

func (r *PostgresClipStore) Get(ctx context.Context, id string) (*model.Clip, error) {
	const sql = `SELECT id, scene_id, name FROM clips WHERE id = $1;`
	var c model.Clip
	if err := r.pool.QueryRow(ctx, sql, id).Scan(&c.ID, &c.SceneID, &c.Name); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get clip: %w", err)
	}
	return &c, nil
}

func (r *PostgresClipStore) AppendResult(ctx context.Context, clipID string, res *model.GenerationResult) (bool, error) {
	prov, err := json.Marshal(res.Provenance)
	if err != nil {
		return false, fmt.Errorf("marshal provenance: %w", err)
	}
	const sql = `
INSERT INTO clip_results (id, job_id, clip_id, kind, url, provenance, duration_seconds, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (job_id) DO NOTHING;
`
	tag, err := r.pool.Exec(ctx, sql,
		res.ID, res.JobID, clipID, string(res.Kind), res.URL, prov, res.DurationSeconds, res.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign key: clip gone
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("append result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresClipStore) Results(ctx context.Context, clipID string) ([]*model.GenerationResult, error) {
	const sql = `
SELECT id, job_id, clip_id, kind, url, provenance, duration_seconds, created_at
FROM clip_results WHERE clip_id = $1 ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, sql, clipID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	var out []*model.GenerationResult
	for rows.Next() {
		var (
			res  model.GenerationResult
			kind string
			prov []byte
		)
		if err := rows.Scan(&res.ID, &res.JobID, &res.ClipID, &kind, &res.URL, &prov, &res.DurationSeconds, &res.CreatedAt); err != nil {
			return nil, err
		}
		res.Kind = model.GenerationKind(kind)
		if len(prov) > 0 {
			if err := json.Unmarshal(prov, &res.Provenance); err != nil {
				return nil, fmt.Errorf("unmarshal provenance: %w", err)
			}
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}
