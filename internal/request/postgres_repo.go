package request

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresRepo(db *pgxpool.Pool, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func validID(id string) bool {
	return uuid.Validate(id) == nil
}

const requestColumns = `id, user_id, ebook_id, status, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	if err := row.Scan(&req.ID, &req.UserID, &req.EbookID, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	return req, nil
}

func (r *PostgresRepo) Create(ctx context.Context, req *Request) error {
	const query = `
	INSERT INTO requests (id, user_id, ebook_id, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Exec(timeoutCtx, query, req.ID, req.UserID, req.EbookID, req.Status, req.CreatedAt, req.UpdatedAt)
	return err
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Request, error) {
	if !validID(id) {
		return Request{}, ErrNotFound
	}
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanRequest(r.db.QueryRow(timeoutCtx, query, id))
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !validID(id) {
		return ErrNotFound
	}
	const query = `UPDATE requests SET status = $2, updated_at = now() WHERE id = $1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, status Status) ([]Request, error) {
	if !validID(userID) {
		return []Request{}, nil
	}
	query := `SELECT ` + requestColumns + ` FROM requests WHERE user_id = $1 AND ($2 = '' OR status = $2) ORDER BY created_at DESC`
	return r.list(ctx, query, userID, string(status))
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE status = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, string(status))
}

func (r *PostgresRepo) list(ctx context.Context, query string, args ...any) ([]Request, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}
