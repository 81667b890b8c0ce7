package ebook

import (
	"context"
	"errors"
	"time"

	"elibrary/internal/fine"
	"elibrary/internal/request"
)

var (
	ErrNotFound = errors.New("ebook not found")
	// ErrVersionConflict means the ebook changed since it was read.
	ErrVersionConflict = errors.New("ebook was modified concurrently")
	// ErrOnLoan means the ebook is issued or awaiting return and cannot be deleted.
	ErrOnLoan = errors.New("ebook is on loan")
)

type Repository interface {
	Create(ctx context.Context, e *Ebook) error
	GetByID(ctx context.Context, id string) (Ebook, error)
	List(ctx context.Context, filter ListFilter) ([]Ebook, error)
	// UpdateState writes the lending fields of e if the stored version still
	// equals e.Version, and returns the stored ebook with the bumped version.
	UpdateState(ctx context.Context, e Ebook) (Ebook, error)
	// Update writes the catalogue fields (title, content, authors, section)
	// under the same version check. Lending fields are left alone.
	Update(ctx context.Context, e Ebook) (Ebook, error)
	// Delete hides an ebook that is not on loan. Fines and requests that
	// reference it are kept.
	Delete(ctx context.Context, id string, at time.Time) error
}

// FineLedger is the part of the fine ledger the lifecycle engine drives.
type FineLedger interface {
	ApplyFineIfOverdue(ctx context.Context, ebookID, userID string) (int64, bool, error)
	Get(ctx context.Context, fineID string) (fine.Fine, error)
	PayFine(ctx context.Context, fineID, paymentRef string) (fine.Fine, error)
	OutstandingTotal(ctx context.Context, userID string) (int64, error)
}

// RequestQueue is the part of the request queue the lifecycle engine drives.
type RequestQueue interface {
	AddOrReplaceRequest(ctx context.Context, userID, ebookID string) (request.Request, error)
	Get(ctx context.Context, id string) (request.Request, error)
	SetStatus(ctx context.Context, id string, status request.Status) error
	HasPending(ctx context.Context, userID, ebookID string) (bool, error)
}
