package fine

import (
	"context"
	"errors"
	"time"

	"elibrary/internal/apperr"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the fine ledger.
type Service struct {
	repo   Repository
	loans  LoanSource
	now    func() time.Time
	dedupe bool
	logger *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOutstandingDedupe makes repeated charges for the same user and ebook
// update the open row instead of appending a new one.
func WithOutstandingDedupe(on bool) Option {
	return func(s *Service) { s.dedupe = on }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(repo Repository, loans LoanSource, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		loans:  loans,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyFineIfOverdue charges userID for the current loan of ebookID when it is
// overdue. found is false, with no error, when the ebook does not exist.
func (s *Service) ApplyFineIfOverdue(ctx context.Context, ebookID, userID string) (int64, bool, error) {
	due, found, err := s.loans.LoanDueDate(ctx, ebookID)
	if err != nil {
		return 0, false, apperr.Infra("load loan", err)
	}
	if !found {
		return 0, false, nil
	}

	amount := ComputeFine(due, s.now())
	if amount == 0 {
		return 0, true, nil
	}

	if s.dedupe {
		existing, err := s.repo.FindOutstanding(ctx, userID, ebookID)
		switch {
		case err == nil:
			if existing.FineAmount != amount {
				if err := s.repo.UpdateAmount(ctx, existing.ID, amount); err != nil {
					return 0, true, apperr.Infra("update fine", err)
				}
			}
			return amount, true, nil
		case !errors.Is(err, ErrNotFound):
			return 0, true, apperr.Infra("find outstanding fine", err)
		}
	}

	f := &Fine{
		ID:         uuid.NewString(),
		UserID:     userID,
		EbookID:    ebookID,
		FineAmount: amount,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return 0, true, apperr.Infra("record fine", err)
	}
	s.logger.Info("fine recorded",
		zap.String("fine_id", f.ID),
		zap.String("user_id", userID),
		zap.String("ebook_id", ebookID),
		zap.Int64("amount", amount),
	)
	return amount, true, nil
}

func (s *Service) Get(ctx context.Context, fineID string) (Fine, error) {
	f, err := s.repo.GetByID(ctx, fineID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Fine{}, apperr.NotFound("fine not found")
		}
		return Fine{}, apperr.Infra("load fine", err)
	}
	return f, nil
}

// PayFine marks the fine paid. Paying twice keeps the first payment date.
func (s *Service) PayFine(ctx context.Context, fineID, paymentRef string) (Fine, error) {
	f, err := s.repo.MarkPaid(ctx, fineID, s.now(), paymentRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Fine{}, apperr.NotFound("fine not found")
		}
		return Fine{}, apperr.Infra("pay fine", err)
	}
	return f, nil
}

func (s *Service) ListFines(ctx context.Context, userID string) ([]Fine, error) {
	fines, err := s.repo.ListByUser(ctx, userID, false)
	if err != nil {
		return nil, apperr.Infra("list fines", err)
	}
	return fines, nil
}

func (s *Service) ListPaidFines(ctx context.Context, userID string) ([]Fine, error) {
	fines, err := s.repo.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, apperr.Infra("list paid fines", err)
	}
	return fines, nil
}

// OutstandingTotal sums the unpaid fines of userID.
func (s *Service) OutstandingTotal(ctx context.Context, userID string) (int64, error) {
	fines, err := s.ListFines(ctx, userID)
	if err != nil {
		return 0, err
	}
	return outstanding(fines), nil
}

func outstanding(fines []Fine) int64 {
	var total int64
	for _, f := range fines {
		if !f.Paid {
			total += f.FineAmount
		}
	}
	return total
}
