package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.JobStore = (*PostgresJobStore)(nil)

// PostgresJobStore persists jobs in the generation_jobs table. Transitions
// are conditional UPDATEs (status must match the expected prior value), so
// concurrent workers resolve races the same way the in-memory store does:
// first writer wins, the loser gets ErrStatusConflict.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(pool *pgxpool.Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

const jobColumns = `id, clip_id, kind, model_name, prompt, negative_prompt, params,
priority, max_attempts, status, backend_id, attempt, error_kind, error_message,
created_at, started_at, finished_at`

func (r *PostgresJobStore) Create(ctx context.Context, job *model.Job) error {
	params, err := json.Marshal(job.Request.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	const sql = `
INSERT INTO generation_jobs
  (id, clip_id, kind, model_name, prompt, negative_prompt, params,
   priority, max_attempts, status, backend_id, attempt, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`
	_, err = r.pool.Exec(ctx, sql,
		job.ID, job.Request.ClipID, string(job.Request.Kind), job.Request.ModelName,
		job.Request.Prompt, job.Request.NegativePrompt, params,
		job.Request.Priority, job.Request.MaxAttempts,
		string(job.Status), nullable(job.BackendID), job.Attempt, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *PostgresJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	sql := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	row := r.pool.QueryRow(ctx, sql, id)
	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (r *PostgresJobStore) List(ctx context.Context, f repository.JobFilter) ([]*model.Job, error) {
	sql := `SELECT ` + jobColumns + ` FROM generation_jobs`
	var conds []string
	var args []any
	if f.ClipID != "" {
		args = append(args, f.ClipID)
		conds = append(conds, fmt.Sprintf("clip_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY created_at ASC, id ASC;"
	return r.queryJobs(ctx, sql, args...)
}

func (r *PostgresJobStore) Pending(ctx context.Context) ([]*model.Job, error) {
	sql := `SELECT ` + jobColumns + `
FROM generation_jobs
WHERE status = 'pending'
ORDER BY priority DESC, created_at ASC, id ASC;`
	return r.queryJobs(ctx, sql)
}

func (r *PostgresJobStore) queryJobs(ctx context.Context, sql string, args ...any) ([]*model.Job, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// transition runs one conditional UPDATE and maps "zero rows" onto the CAS
// error taxonomy by re-reading the current status.
func (r *PostgresJobStore) transition(ctx context.Context, id, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("job transition: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	return domain.ErrStatusConflict
}

func (r *PostgresJobStore) MarkAssigned(ctx context.Context, id, backendID string) error {
	const sql = `
UPDATE generation_jobs SET status = 'assigned', backend_id = $2
WHERE id = $1 AND status = 'pending';`
	return r.transition(ctx, id, sql, id, backendID)
}

func (r *PostgresJobStore) Unassign(ctx context.Context, id string) error {
	const sql = `
UPDATE generation_jobs SET status = 'pending', backend_id = NULL
WHERE id = $1 AND status = 'assigned';`
	return r.transition(ctx, id, sql, id)
}

func (r *PostgresJobStore) MarkExecuting(ctx context.Context, id string) (*model.Job, error) {
	const sql = `
UPDATE generation_jobs SET status = 'executing', started_at = $2
WHERE id = $1 AND status = 'assigned';`
	if err := r.transition(ctx, id, sql, id, time.Now()); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *PostgresJobStore) MarkCompleted(ctx context.Context, id string) error {
	const sql = `
UPDATE generation_jobs SET status = 'completed', finished_at = $2
WHERE id = $1 AND status = 'executing';`
	return r.transition(ctx, id, sql, id, time.Now())
}

func (r *PostgresJobStore) MarkFailed(ctx context.Context, id string, jobErr model.JobError) error {
	const sql = `
UPDATE generation_jobs
SET status = 'failed', finished_at = $2, error_kind = $3, error_message = $4
WHERE id = $1 AND status = 'executing';`
	return r.transition(ctx, id, sql, id, time.Now(), jobErr.Kind, jobErr.Message)
}

func (r *PostgresJobStore) Requeue(ctx context.Context, id string, jobErr model.JobError) error {
	const sql = `
UPDATE generation_jobs
SET status = 'pending', backend_id = NULL, started_at = NULL,
    attempt = attempt + 1, error_kind = $2, error_message = $3
WHERE id = $1 AND status = 'executing';`
	return r.transition(ctx, id, sql, id, jobErr.Kind, jobErr.Message)
}

func (r *PostgresJobStore) MarkCancelled(ctx context.Context, id string) (*model.Job, error) {
	const sql = `
UPDATE generation_jobs SET status = 'cancelled', finished_at = $2
WHERE id = $1 AND status IN ('pending', 'assigned', 'executing');`
	if err := r.transition(ctx, id, sql, id, time.Now()); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *PostgresJobStore) ResetForRetry(ctx context.Context, id string) error {
	const sql = `
UPDATE generation_jobs
SET status = 'pending', backend_id = NULL, attempt = 1,
    started_at = NULL, finished_at = NULL
WHERE id = $1 AND status = 'failed';`
	return r.transition(ctx, id, sql, id)
}

func (r *PostgresJobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM generation_jobs GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	out := make(map[model.JobStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[model.JobStatus(st)] = n
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j          model.Job
		kind       string
		status     string
		params     []byte
		backendID  *string
		errKind    *string
		errMessage *string
	)
	err := row.Scan(
		&j.ID, &j.Request.ClipID, &kind, &j.Request.ModelName,
		&j.Request.Prompt, &j.Request.NegativePrompt, &params,
		&j.Request.Priority, &j.Request.MaxAttempts,
		&status, &backendID, &j.Attempt, &errKind, &errMessage,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Request.Kind = model.GenerationKind(kind)
	j.Status = model.JobStatus(status)
	if backendID != nil {
		j.BackendID = *backendID
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Request.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if errKind != nil {
		j.Error = &model.JobError{Kind: *errKind}
		if errMessage != nil {
			j.Error.Message = *errMessage
		}
	}
	return &j, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
