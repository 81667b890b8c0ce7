package ebook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dialectPostgres = "postgres"

var ebookColumns = []any{
	"id", "title", "content", "authors", "section_id", "status", "issued_to",
	"date_issued", "return_date", "actual_return_date", "fine_amount", "version",
	"created_at", "updated_at",
}

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

// validID reports whether id can address a row. Ids are UUID columns, so
// anything else would fail the cast instead of matching nothing.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func scanEbook(row pgx.Row) (Ebook, error) {
	var b Ebook
	err := row.Scan(
		&b.ID, &b.Title, &b.Content, &b.Authors, &b.SectionID, &b.Status, &b.IssuedTo,
		&b.DateIssued, &b.ReturnDate, &b.ActualReturnDate, &b.FineAmount, &b.Version,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ebook{}, ErrNotFound
		}
		return Ebook{}, err
	}
	return b, nil
}

func (r *PostgresRepo) Create(ctx context.Context, b *Ebook) error {
	const query = `
	INSERT INTO ebooks (id, title, content, authors, section_id, status, fine_amount, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8)
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Exec(timeoutCtx, query, b.ID, b.Title, b.Content, b.Authors, b.SectionID, string(b.Status), b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Ebook, error) {
	if !validID(id) {
		return Ebook{}, ErrNotFound
	}
	query, args, err := goqu.Dialect(dialectPostgres).
		From("ebooks").
		Select(ebookColumns...).
		Where(goqu.Ex{"id": id, "deleted_at": nil}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return Ebook{}, fmt.Errorf("build ebook query: %w", err)
	}
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanEbook(r.db.QueryRow(timeoutCtx, query, args...))
}

func (r *PostgresRepo) List(ctx context.Context, filter ListFilter) ([]Ebook, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("ebooks").
		Select(ebookColumns...).
		Where(goqu.Ex{"deleted_at": nil}).
		Order(goqu.I("created_at").Desc(), goqu.I("id").Asc()).
		Prepared(true)
	if filter.IssuedTo != "" {
		if !validID(filter.IssuedTo) {
			return []Ebook{}, nil
		}
		ds = ds.Where(goqu.Ex{"issued_to": filter.IssuedTo})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		ds = ds.Where(goqu.C("status").In(statuses))
	}
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit)).Offset(uint(filter.Offset))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build ebook list: %w", err)
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []Ebook{}
	for rows.Next() {
		b, err := scanEbook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func (r *PostgresRepo) UpdateState(ctx context.Context, b Ebook) (Ebook, error) {
	if !validID(b.ID) {
		return Ebook{}, ErrNotFound
	}
	query, args, err := goqu.Dialect(dialectPostgres).
		Update("ebooks").
		Set(goqu.Record{
			"status":             string(b.Status),
			"issued_to":          nullable(b.IssuedTo),
			"date_issued":        nullable(b.DateIssued),
			"return_date":        nullable(b.ReturnDate),
			"actual_return_date": nullable(b.ActualReturnDate),
			"fine_amount":        b.FineAmount,
			"updated_at":         b.UpdatedAt,
			"version":            goqu.L("version + 1"),
		}).
		Where(goqu.Ex{"id": b.ID, "version": b.Version, "deleted_at": nil}).
		Returning(ebookColumns...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return Ebook{}, fmt.Errorf("build ebook update: %w", err)
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	saved, err := scanEbook(r.db.QueryRow(timeoutCtx, query, args...))
	if errors.Is(err, ErrNotFound) {
		// Either the row is gone or its version moved on.
		if _, getErr := r.GetByID(ctx, b.ID); getErr != nil {
			return Ebook{}, getErr
		}
		return Ebook{}, ErrVersionConflict
	}
	return saved, err
}

func (r *PostgresRepo) Update(ctx context.Context, b Ebook) (Ebook, error) {
	if !validID(b.ID) {
		return Ebook{}, ErrNotFound
	}
	const query = `
	UPDATE ebooks
	SET title = $3, content = $4, authors = $5, section_id = $6, updated_at = $7, version = version + 1
	WHERE id = $1 AND version = $2 AND deleted_at IS NULL
	RETURNING id, title, content, authors, section_id, status, issued_to,
	          date_issued, return_date, actual_return_date, fine_amount, version,
	          created_at, updated_at
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	saved, err := scanEbook(r.db.QueryRow(timeoutCtx, query,
		b.ID, b.Version, b.Title, b.Content, b.Authors, b.SectionID, b.UpdatedAt))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, b.ID); getErr != nil {
			return Ebook{}, getErr
		}
		return Ebook{}, ErrVersionConflict
	}
	return saved, err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return ErrNotFound
	}
	const query = `
	UPDATE ebooks
	SET deleted_at = $2, updated_at = $2, version = version + 1
	WHERE id = $1 AND deleted_at IS NULL AND status NOT IN ('issued', 'pendingReturn')
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrOnLoan
	}
	return nil
}
