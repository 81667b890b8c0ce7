package request

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("request not found")

type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id string) (Request, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	ListByUser(ctx context.Context, userID string, status Status) ([]Request, error)
	ListByStatus(ctx context.Context, status Status) ([]Request, error)
}
