package ebook

import (
	"context"
	"errors"
	"time"

	"elibrary/internal/access"
	"elibrary/internal/apperr"
	"elibrary/internal/fine"
	"elibrary/internal/request"

	"go.uber.org/zap"
)

// Engine drives the ebook lending state machine. Every mutating transition
// holds the per-ebook lock and writes through a version compare-and-swap.
type Engine struct {
	ebooks   Repository
	requests RequestQueue
	fines    FineLedger
	locks    *KeyedLocker
	now      func() time.Time
	logger   *zap.Logger
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(ebooks Repository, requests RequestQueue, fines FineLedger, opts ...EngineOption) *Engine {
	e := &Engine{
		ebooks:   ebooks,
		requests: requests,
		fines:    fines,
		locks:    NewKeyedLocker(),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) load(ctx context.Context, ebookID string) (Ebook, error) {
	b, err := e.ebooks.GetByID(ctx, ebookID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ebook{}, apperr.NotFound("ebook not found")
		}
		return Ebook{}, apperr.Infra("load ebook", err)
	}
	return b, nil
}

func (e *Engine) save(ctx context.Context, next Ebook) (Ebook, error) {
	if err := next.CheckInvariants(); err != nil {
		return Ebook{}, apperr.Infra("invalid transition", err)
	}
	saved, err := e.ebooks.UpdateState(ctx, next)
	if err != nil {
		switch {
		case errors.Is(err, ErrVersionConflict):
			return Ebook{}, apperr.Conflict("ebook was changed by another operation, reload and retry")
		case errors.Is(err, ErrNotFound):
			return Ebook{}, apperr.NotFound("ebook not found")
		}
		return Ebook{}, apperr.Infra("update ebook", err)
	}
	return saved, nil
}

// RequestBook queues a borrow request. The ebook itself is not touched.
func (e *Engine) RequestBook(ctx context.Context, actor access.Actor, ebookID string) (request.Request, error) {
	if err := actor.Require(access.RoleUser); err != nil {
		return request.Request{}, err
	}
	unlock := e.locks.Lock(ebookID)
	defer unlock()

	b, err := e.load(ctx, ebookID)
	if err != nil {
		return request.Request{}, err
	}
	if b.HeldBy(actor.UserID) {
		return request.Request{}, apperr.Conflict("you already hold this ebook")
	}
	pending, err := e.requests.HasPending(ctx, actor.UserID, ebookID)
	if err != nil {
		return request.Request{}, err
	}
	if pending {
		return request.Request{}, apperr.Conflict("a request for this ebook is already pending")
	}
	return e.requests.AddOrReplaceRequest(ctx, actor.UserID, ebookID)
}

// Decision is the outcome of DecideRequest. Ebook is set only on grant.
type Decision struct {
	Request request.Request `json:"request"`
	Ebook   *Ebook          `json:"ebook,omitempty"`
}

// DecideRequest grants or rejects a pending request. A grant issues the ebook
// to the requester for LoanPeriod.
func (e *Engine) DecideRequest(ctx context.Context, actor access.Actor, requestID string, verdict request.Status) (Decision, error) {
	if err := actor.Require(access.RoleLibrarian); err != nil {
		return Decision{}, err
	}
	if !verdict.Decision() {
		return Decision{}, apperr.Validation("status", "status must be granted or rejected")
	}

	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return Decision{}, err
	}
	unlock := e.locks.Lock(req.EbookID)
	defer unlock()

	// Re-read under the lock; a concurrent decision may have landed.
	if req, err = e.requests.Get(ctx, requestID); err != nil {
		return Decision{}, err
	}
	if req.Status != request.StatusPending {
		return Decision{}, apperr.Conflict("request is already " + string(req.Status))
	}

	if verdict == request.StatusRejected {
		// A grant whose request update failed leaves the book issued to the
		// requester; rejecting that request would orphan the loan.
		b, err := e.ebooks.GetByID(ctx, req.EbookID)
		switch {
		case err == nil && b.HeldBy(req.UserID):
			return Decision{}, apperr.Conflict("ebook is already issued to the requester, grant the request instead")
		case err != nil && !errors.Is(err, ErrNotFound):
			return Decision{}, apperr.Infra("load ebook", err)
		}
		if err := e.requests.SetStatus(ctx, req.ID, request.StatusRejected); err != nil {
			return Decision{}, err
		}
		req.Status = request.StatusRejected
		return Decision{Request: req}, nil
	}

	b, err := e.load(ctx, req.EbookID)
	if err != nil {
		return Decision{}, err
	}
	if b.HeldBy(req.UserID) && b.Status == StatusIssued {
		// Finish a grant that issued the ebook but failed to record it.
		if err := e.requests.SetStatus(ctx, req.ID, request.StatusGranted); err != nil {
			return Decision{}, err
		}
		req.Status = request.StatusGranted
		e.logger.Warn("completed interrupted grant",
			zap.String("request_id", req.ID),
			zap.String("ebook_id", b.ID),
			zap.Int64("version", b.Version),
		)
		return Decision{Request: req, Ebook: &b}, nil
	}
	if !b.Status.Lendable() {
		return Decision{}, apperr.Conflict("ebook is not available for issue")
	}

	now := e.now()
	issued, err := e.save(ctx, b.issuedTo(req.UserID, now, fine.DueDate(now)))
	if err != nil {
		return Decision{}, err
	}
	if err := e.requests.SetStatus(ctx, req.ID, request.StatusGranted); err != nil {
		e.logger.Error("ebook issued but request status not updated",
			zap.String("request_id", req.ID),
			zap.String("ebook_id", issued.ID),
			zap.String("user_id", req.UserID),
			zap.Int64("version", issued.Version),
			zap.Error(err),
		)
		return Decision{}, err
	}
	req.Status = request.StatusGranted

	e.logger.Info("ebook issued",
		zap.String("ebook_id", issued.ID),
		zap.String("user_id", req.UserID),
		zap.Time("return_date", *issued.ReturnDate),
	)
	return Decision{Request: req, Ebook: &issued}, nil
}

// ReturnBook returns an issued ebook. An overdue loan is refused with Blocked
// and the charge is recorded in the ledger; the ebook is left as it was.
func (e *Engine) ReturnBook(ctx context.Context, actor access.Actor, ebookID string) (Ebook, error) {
	if err := actor.Require(access.RoleUser); err != nil {
		return Ebook{}, err
	}
	unlock := e.locks.Lock(ebookID)
	defer unlock()

	b, err := e.load(ctx, ebookID)
	if err != nil {
		return Ebook{}, err
	}
	if b.Status != StatusIssued {
		return Ebook{}, apperr.Conflict("ebook is not currently issued")
	}
	if !b.HeldBy(actor.UserID) {
		return Ebook{}, apperr.Forbidden("only the current holder can return this ebook")
	}

	now := e.now()
	if amount := fine.ComputeFine(b.ReturnDate, now); amount > 0 {
		if _, _, err := e.fines.ApplyFineIfOverdue(ctx, ebookID, actor.UserID); err != nil {
			return Ebook{}, err
		}
		e.logger.Info("return blocked by fine",
			zap.String("ebook_id", ebookID),
			zap.String("user_id", actor.UserID),
			zap.Int64("amount", amount),
		)
		return Ebook{}, apperr.Blocked(amount)
	}

	return e.save(ctx, b.released(now, true))
}

// NotifyReturn lets the holder hand the ebook back for librarian approval.
// No fine gate applies.
func (e *Engine) NotifyReturn(ctx context.Context, actor access.Actor, ebookID string) (Ebook, error) {
	if err := actor.Require(access.RoleUser); err != nil {
		return Ebook{}, err
	}
	unlock := e.locks.Lock(ebookID)
	defer unlock()

	b, err := e.load(ctx, ebookID)
	if err != nil {
		return Ebook{}, err
	}
	if b.Status != StatusIssued || !b.HeldBy(actor.UserID) {
		return Ebook{}, apperr.Forbidden("you have not borrowed this ebook")
	}
	return e.save(ctx, b.pendingReturn(e.now()))
}

// ApproveReturn completes a return the holder announced.
func (e *Engine) ApproveReturn(ctx context.Context, actor access.Actor, ebookID string) (Ebook, error) {
	if err := actor.Require(access.RoleLibrarian); err != nil {
		return Ebook{}, err
	}
	unlock := e.locks.Lock(ebookID)
	defer unlock()

	b, err := e.load(ctx, ebookID)
	if err != nil {
		return Ebook{}, err
	}
	if b.Status != StatusPendingReturn {
		return Ebook{}, apperr.Conflict("ebook has no pending return")
	}
	return e.save(ctx, b.released(e.now(), true))
}

// Revoke takes a held ebook back regardless of fines. The ledger is untouched.
func (e *Engine) Revoke(ctx context.Context, actor access.Actor, ebookID string) (Ebook, error) {
	if err := actor.Require(access.RoleLibrarian); err != nil {
		return Ebook{}, err
	}
	unlock := e.locks.Lock(ebookID)
	defer unlock()

	b, err := e.load(ctx, ebookID)
	if err != nil {
		return Ebook{}, err
	}
	if !b.Status.Held() {
		return Ebook{}, apperr.Conflict("ebook is not issued")
	}

	saved, err := e.save(ctx, b.released(e.now(), false))
	if err != nil {
		return Ebook{}, err
	}
	e.logger.Info("ebook revoked",
		zap.String("ebook_id", ebookID),
		zap.String("user_id", *b.IssuedTo),
		zap.String("librarian_id", actor.UserID),
	)
	return saved, nil
}

// PaymentConfirmation is the payment gateway's report that a fine was paid.
type PaymentConfirmation struct {
	FineID    string `json:"fineId"`
	Amount    int64  `json:"fineAmount"`
	PaymentID string `json:"paymentId"`
}

// ConfirmFinePayment marks a fine paid once the gateway confirmed it.
func (e *Engine) ConfirmFinePayment(ctx context.Context, actor access.Actor, pc PaymentConfirmation) (fine.Fine, error) {
	switch {
	case pc.FineID == "":
		return fine.Fine{}, apperr.Validation("fineId", "fine id is required")
	case pc.PaymentID == "":
		return fine.Fine{}, apperr.Validation("paymentId", "payment id is required")
	case pc.Amount <= 0:
		return fine.Fine{}, apperr.Validation("fineAmount", "fine amount must be positive")
	}

	f, err := e.ownedFine(ctx, actor, pc.FineID)
	if err != nil {
		return fine.Fine{}, err
	}
	if !f.Paid && pc.Amount < f.FineAmount {
		return fine.Fine{}, apperr.Validation("fineAmount", "payment does not cover the fine")
	}
	return e.fines.PayFine(ctx, f.ID, pc.PaymentID)
}

// PayFine marks a fine paid without a gateway reference.
func (e *Engine) PayFine(ctx context.Context, actor access.Actor, fineID string) (fine.Fine, error) {
	f, err := e.ownedFine(ctx, actor, fineID)
	if err != nil {
		return fine.Fine{}, err
	}
	return e.fines.PayFine(ctx, f.ID, "")
}

func (e *Engine) ownedFine(ctx context.Context, actor access.Actor, fineID string) (fine.Fine, error) {
	if actor.UserID == "" {
		return fine.Fine{}, apperr.Forbidden("authentication required")
	}
	f, err := e.fines.Get(ctx, fineID)
	if err != nil {
		return fine.Fine{}, err
	}
	if !actor.CanAccessUser(f.UserID) {
		return fine.Fine{}, apperr.Forbidden("this fine belongs to another user")
	}
	return f, nil
}

// RefreshFine recomputes the cached fine of a held ebook. Other ebooks are
// returned unchanged.
func (e *Engine) RefreshFine(ctx context.Context, ebookID string) (Ebook, error) {
	unlock := e.locks.Lock(ebookID)
	defer unlock()

	b, err := e.load(ctx, ebookID)
	if err != nil {
		return Ebook{}, err
	}
	if !b.Status.Held() {
		return b, nil
	}
	now := e.now()
	amount := fine.ComputeFine(b.ReturnDate, now)
	if amount == b.FineAmount {
		return b, nil
	}
	b.FineAmount = amount
	b.UpdatedAt = now
	return e.save(ctx, b)
}

// HeldEbooks lists every ebook currently out with a reader.
func (e *Engine) HeldEbooks(ctx context.Context) ([]Ebook, error) {
	books, err := e.ebooks.List(ctx, ListFilter{Statuses: []Status{StatusIssued, StatusPendingReturn}})
	if err != nil {
		return nil, apperr.Infra("list held ebooks", err)
	}
	return books, nil
}

// IssuedBook is a held ebook with the fine owed if it were returned now.
type IssuedBook struct {
	Ebook
	CurrentFine int64 `json:"currentFine"`
}

// IssuedTo returns the caller's held ebooks and the unpaid ledger total.
func (e *Engine) IssuedTo(ctx context.Context, actor access.Actor) ([]IssuedBook, int64, error) {
	if actor.UserID == "" {
		return nil, 0, apperr.Forbidden("authentication required")
	}
	books, err := e.ebooks.List(ctx, ListFilter{
		IssuedTo: actor.UserID,
		Statuses: []Status{StatusIssued, StatusPendingReturn},
	})
	if err != nil {
		return nil, 0, apperr.Infra("list issued ebooks", err)
	}
	outstanding, err := e.fines.OutstandingTotal(ctx, actor.UserID)
	if err != nil {
		return nil, 0, err
	}

	now := e.now()
	out := make([]IssuedBook, 0, len(books))
	for _, b := range books {
		b.Content = ""
		out = append(out, IssuedBook{Ebook: b, CurrentFine: fine.ComputeFine(b.ReturnDate, now)})
	}
	return out, outstanding, nil
}

// LoanSource exposes the due date of ebooks to the fine ledger.
func LoanSource(repo Repository) fine.LoanSource {
	return fine.LoanSourceFunc(func(ctx context.Context, ebookID string) (*time.Time, bool, error) {
		b, err := repo.GetByID(ctx, ebookID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return b.ReturnDate, true, nil
	})
}
