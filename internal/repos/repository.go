package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

type Repository interface {
	Upsert(ctx context.Context, cred Credential) (Summary, error)
	List(ctx context.Context, offset, limit int) ([]Summary, int, error)
	Delete(ctx context.Context, id string) error
	GetByRepo(ctx context.Context, repo string) (Credential, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert stores the credential keyed by repo URL, replacing any previous one.
func (r *PostgresRepository) Upsert(ctx context.Context, cred Credential) (Summary, error) {
	const q = `
		INSERT INTO repos (id, repo, ssh_key, username, password)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (repo) DO UPDATE
		SET ssh_key = EXCLUDED.ssh_key, username = EXCLUDED.username, password = EXCLUDED.password
		RETURNING id::text, repo`
	var s Summary
	err := r.db.QueryRowContext(ctx, q, uuid.NewString(), cred.Repo, cred.SSHKey, cred.Username, cred.Password).
		Scan(&s.ID, &s.Repo)
	return s, err
}

func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]Summary, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM repos`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id::text, repo FROM repos ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Summary, 0, limit)
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Repo); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrRepoNotFound
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM repos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRepoNotFound
	}
	return nil
}

func (r *PostgresRepository) GetByRepo(ctx context.Context, repo string) (Credential, error) {
	const q = `SELECT id::text, repo, ssh_key, username, password, created_at FROM repos WHERE repo = $1`
	var c Credential
	err := r.db.QueryRowContext(ctx, q, repo).
		Scan(&c.ID, &c.Repo, &c.SSHKey, &c.Username, &c.Password, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrRepoNotFound
	}
	return c, err
}
