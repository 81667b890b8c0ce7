package fine

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=fine

var ErrNotFound = errors.New("fine not found")

type Repository interface {
	Create(ctx context.Context, f *Fine) error
	GetByID(ctx context.Context, id string) (Fine, error)
	ListByUser(ctx context.Context, userID string, paidOnly bool) ([]Fine, error)
	// FindOutstanding returns the unpaid fine for userID on ebookID, ErrNotFound if none.
	FindOutstanding(ctx context.Context, userID, ebookID string) (Fine, error)
	UpdateAmount(ctx context.Context, id string, amount int64) error
	// MarkPaid is idempotent: a second call keeps the first payment date and reference.
	MarkPaid(ctx context.Context, id string, at time.Time, ref string) (Fine, error)
}
