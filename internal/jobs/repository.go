package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ktqueue/ktqueue/internal/contracts"
)

type Repository interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, name string) (Job, error)
	List(ctx context.Context, offset, limit int, includeHidden bool) ([]Job, int, error)
	SetStatus(ctx context.Context, name, status string) error
	// MarkFailed records a submission failure unless the job was stopped
	// by hand in the meantime.
	MarkFailed(ctx context.Context, name, status string) error
	MarkSubmitted(ctx context.Context, name, commit string, at time.Time) error
	// UpdateFromPod records pod-derived state unless the job was stopped by
	// hand. It reports whether a row changed.
	UpdateFromPod(ctx context.Context, name, status string, runningNode *string) (bool, error)
	Patch(ctx context.Context, name string, p Patch) (Job, error)
	SetTensorBoard(ctx context.Context, name string, on bool) error
}

const uniqueViolation = "23505"

const jobColumns = `name, node, gpu_num, command, image, repo, branch, commit_id, comments,
	volume_mounts, cpu_limit, memory_limit, auto_restart, tags, status, running_node,
	hide, fav, tensorboard, username, created_at, submitted_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, job Job) error {
	mounts, err := json.Marshal(job.VolumeMounts)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(job.Tags)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO jobs (name, kube_name, node, gpu_num, command, image, repo, branch, commit_id, comments,
			volume_mounts, cpu_limit, memory_limit, auto_restart, tags, status, username, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14, $15::jsonb, $16, $17, $18)`
	_, err = r.db.ExecContext(ctx, q,
		job.Name, KubeName(job.Name), job.Node, job.GPUNum, job.Command, job.Image, job.Repo, job.Branch, job.Commit, job.Comments,
		string(mounts), job.CPULimit, job.MemoryLimit, job.AutoRestart, string(tags), job.Status, job.User, job.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrJobExists
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, name string) (Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = $1`, name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

func (r *PostgresRepository) List(ctx context.Context, offset, limit int, includeHidden bool) ([]Job, int, error) {
	where := ` WHERE NOT hide`
	if includeHidden {
		where = ``
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+where+` ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, job)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepository) SetStatus(ctx context.Context, name, status string) error {
	return r.execOne(ctx, `UPDATE jobs SET status = $2 WHERE name = $1`, name, status)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, name, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = $2 WHERE name = $1 AND status <> $3`, name, status, StatusManualStop)
	return err
}

func (r *PostgresRepository) SetTensorBoard(ctx context.Context, name string, on bool) error {
	return r.execOne(ctx, `UPDATE jobs SET tensorboard = $2 WHERE name = $1`, name, on)
}

func (r *PostgresRepository) MarkSubmitted(ctx context.Context, name, commit string, at time.Time) error {
	const q = `
		UPDATE jobs SET status = $2, commit_id = COALESCE(NULLIF($3, ''), commit_id), submitted_at = $4
		WHERE name = $1 AND status = $5`
	_, err := r.db.ExecContext(ctx, q, name, StatusPending, commit, at, StatusFetching)
	return err
}

func (r *PostgresRepository) UpdateFromPod(ctx context.Context, name, status string, runningNode *string) (bool, error) {
	const q = `UPDATE jobs SET status = $2, running_node = $3 WHERE name = $1 AND status <> $4`
	res, err := r.db.ExecContext(ctx, q, name, status, runningNode, StatusManualStop)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) Patch(ctx context.Context, name string, p Patch) (Job, error) {
	var (
		sets []string
		args = []any{name}
	)
	if p.Hide != nil {
		args = append(args, *p.Hide)
		sets = append(sets, fmt.Sprintf("hide = $%d", len(args)))
	}
	if p.Fav != nil {
		args = append(args, *p.Fav)
		sets = append(sets, fmt.Sprintf("fav = $%d", len(args)))
	}
	if p.Comments != nil {
		args = append(args, *p.Comments)
		sets = append(sets, fmt.Sprintf("comments = $%d", len(args)))
	}
	if len(sets) == 0 {
		return r.Get(ctx, name)
	}

	q := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE name = $1 RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

func (r *PostgresRepository) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var (
		job         Job
		node        sql.NullString
		runningNode sql.NullString
		submittedAt sql.NullTime
		mounts      []byte
		tags        []byte
	)
	err := s.Scan(&job.Name, &node, &job.GPUNum, &job.Command, &job.Image, &job.Repo, &job.Branch,
		&job.Commit, &job.Comments, &mounts, &job.CPULimit, &job.MemoryLimit, &job.AutoRestart, &tags,
		&job.Status, &runningNode, &job.Hide, &job.Fav, &job.TensorBoard, &job.User, &job.CreatedAt, &submittedAt)
	if err != nil {
		return Job{}, err
	}
	if node.Valid {
		job.Node = &node.String
	}
	if runningNode.Valid {
		job.RunningNode = &runningNode.String
	}
	if submittedAt.Valid {
		job.SubmittedAt = &submittedAt.Time
	}
	job.VolumeMounts = []contracts.VolumeMount{}
	if len(mounts) > 0 {
		if err := json.Unmarshal(mounts, &job.VolumeMounts); err != nil {
			return Job{}, fmt.Errorf("decode volume_mounts: %w", err)
		}
	}
	job.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &job.Tags); err != nil {
			return Job{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return job, nil
}
