package fine

import (
	"context"
	"time"
)

// Fine is one overdue charge. Rows are append-only; payment flips Paid and
// stamps PaymentDate once.
type Fine struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	EbookID     string     `json:"ebookId"`
	FineAmount  int64      `json:"fineAmount"`
	Paid        bool       `json:"paid"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
	PaymentRef  string     `json:"paymentRef,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// LoanSource resolves the due date of the current loan of an ebook.
// found is false when the ebook does not exist.
type LoanSource interface {
	LoanDueDate(ctx context.Context, ebookID string) (due *time.Time, found bool, err error)
}

// LoanSourceFunc adapts a function to LoanSource.
type LoanSourceFunc func(ctx context.Context, ebookID string) (*time.Time, bool, error)

func (f LoanSourceFunc) LoanDueDate(ctx context.Context, ebookID string) (*time.Time, bool, error) {
	return f(ctx, ebookID)
}
