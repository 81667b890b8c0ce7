package fine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

const fineColumns = `id, user_id, ebook_id, fine_amount, paid, payment_date, payment_ref, created_at`

func scanFine(row pgx.Row) (Fine, error) {
	var f Fine
	err := row.Scan(&f.ID, &f.UserID, &f.EbookID, &f.FineAmount, &f.Paid, &f.PaymentDate, &f.PaymentRef, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fine{}, ErrNotFound
		}
		return Fine{}, err
	}
	return f, nil
}

func (r *PostgresRepo) Create(ctx context.Context, f *Fine) error {
	const query = `
	INSERT INTO fines (id, user_id, ebook_id, fine_amount, paid, created_at)
	VALUES ($1, $2, $3, $4, false, $5)
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Exec(timeoutCtx, query, f.ID, f.UserID, f.EbookID, f.FineAmount, f.CreatedAt)
	return err
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Fine, error) {
	if !validID(id) {
		return Fine{}, ErrNotFound
	}
	query := `SELECT ` + fineColumns + ` FROM fines WHERE id = $1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanFine(r.db.QueryRow(timeoutCtx, query, id))
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, paidOnly bool) ([]Fine, error) {
	if !validID(userID) {
		return []Fine{}, nil
	}
	query := `SELECT ` + fineColumns + ` FROM fines WHERE user_id = $1 AND ($2 = false OR paid = true) ORDER BY created_at DESC`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, userID, paidOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fines := []Fine{}
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		fines = append(fines, f)
	}
	return fines, rows.Err()
}

func (r *PostgresRepo) FindOutstanding(ctx context.Context, userID, ebookID string) (Fine, error) {
	if !validID(userID) || !validID(ebookID) {
		return Fine{}, ErrNotFound
	}
	query := `SELECT ` + fineColumns + ` FROM fines WHERE user_id = $1 AND ebook_id = $2 AND paid = false ORDER BY created_at DESC LIMIT 1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanFine(r.db.QueryRow(timeoutCtx, query, userID, ebookID))
}

func (r *PostgresRepo) UpdateAmount(ctx context.Context, id string, amount int64) error {
	if !validID(id) {
		return ErrNotFound
	}
	const query = `UPDATE fines SET fine_amount = $2 WHERE id = $1 AND paid = false`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) MarkPaid(ctx context.Context, id string, at time.Time, ref string) (Fine, error) {
	if !validID(id) {
		return Fine{}, ErrNotFound
	}
	query := `
	UPDATE fines
	SET paid = true,
	    payment_date = COALESCE(payment_date, $2),
	    payment_ref = CASE WHEN payment_ref = '' THEN $3 ELSE payment_ref END
	WHERE id = $1
	RETURNING ` + fineColumns
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanFine(r.db.QueryRow(timeoutCtx, query, id, at, ref))
}
