// Package memory holds in-process repositories for STORE_DRIVER=memory and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"elibrary/internal/ebook"
	"elibrary/internal/fine"
	"elibrary/internal/request"
	"elibrary/internal/user"
)

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneEbook(b ebook.Ebook) ebook.Ebook {
	b.Authors = append([]string(nil), b.Authors...)
	b.IssuedTo = clonePtr(b.IssuedTo)
	b.DateIssued = clonePtr(b.DateIssued)
	b.ReturnDate = clonePtr(b.ReturnDate)
	b.ActualReturnDate = clonePtr(b.ActualReturnDate)
	return b
}

// EbookRepo is an in-memory ebook.Repository with version checks.
type EbookRepo struct {
	mu    sync.RWMutex
	books map[string]ebook.Ebook
	// FailNext, when set, is returned once by the next call.
	FailNext error
}

func NewEbookRepo() *EbookRepo {
	return &EbookRepo{books: make(map[string]ebook.Ebook)}
}

func (r *EbookRepo) takeFailure() error {
	err := r.FailNext
	r.FailNext = nil
	return err
}

func (r *EbookRepo) Create(_ context.Context, b *ebook.Ebook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	r.books[b.ID] = cloneEbook(*b)
	return nil
}

func (r *EbookRepo) GetByID(_ context.Context, id string) (ebook.Ebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return ebook.Ebook{}, err
	}
	b, ok := r.books[id]
	if !ok {
		return ebook.Ebook{}, ebook.ErrNotFound
	}
	return cloneEbook(b), nil
}

func (r *EbookRepo) List(_ context.Context, filter ebook.ListFilter) ([]ebook.Ebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}

	statuses := make(map[ebook.Status]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}
	books := []ebook.Ebook{}
	for _, b := range r.books {
		if filter.IssuedTo != "" && (b.IssuedTo == nil || *b.IssuedTo != filter.IssuedTo) {
			continue
		}
		if len(statuses) > 0 && !statuses[b.Status] {
			continue
		}
		books = append(books, cloneEbook(b))
	}
	sort.Slice(books, func(i, j int) bool {
		if !books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].CreatedAt.After(books[j].CreatedAt)
		}
		return books[i].ID < books[j].ID
	})

	if filter.Limit > 0 {
		if filter.Offset >= len(books) {
			return []ebook.Ebook{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(books) {
			end = len(books)
		}
		books = books[filter.Offset:end]
	}
	return books, nil
}

func (r *EbookRepo) UpdateState(_ context.Context, b ebook.Ebook) (ebook.Ebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return ebook.Ebook{}, err
	}
	stored, ok := r.books[b.ID]
	if !ok {
		return ebook.Ebook{}, ebook.ErrNotFound
	}
	if stored.Version != b.Version {
		return ebook.Ebook{}, ebook.ErrVersionConflict
	}
	stored.Status = b.Status
	stored.IssuedTo = clonePtr(b.IssuedTo)
	stored.DateIssued = clonePtr(b.DateIssued)
	stored.ReturnDate = clonePtr(b.ReturnDate)
	stored.ActualReturnDate = clonePtr(b.ActualReturnDate)
	stored.FineAmount = b.FineAmount
	stored.UpdatedAt = b.UpdatedAt
	stored.Version++
	r.books[b.ID] = stored
	return cloneEbook(stored), nil
}

func (r *EbookRepo) Update(_ context.Context, b ebook.Ebook) (ebook.Ebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return ebook.Ebook{}, err
	}
	stored, ok := r.books[b.ID]
	if !ok {
		return ebook.Ebook{}, ebook.ErrNotFound
	}
	if stored.Version != b.Version {
		return ebook.Ebook{}, ebook.ErrVersionConflict
	}
	stored.Title = b.Title
	stored.Content = b.Content
	stored.Authors = append([]string(nil), b.Authors...)
	stored.SectionID = b.SectionID
	stored.UpdatedAt = b.UpdatedAt
	stored.Version++
	r.books[b.ID] = stored
	return cloneEbook(stored), nil
}

func (r *EbookRepo) Delete(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	stored, ok := r.books[id]
	if !ok {
		return ebook.ErrNotFound
	}
	if stored.Status.Held() {
		return ebook.ErrOnLoan
	}
	delete(r.books, id)
	return nil
}

// FineRepo is an in-memory fine.Repository.
type FineRepo struct {
	mu    sync.RWMutex
	fines map[string]fine.Fine
	order []string
}

func NewFineRepo() *FineRepo {
	return &FineRepo{fines: make(map[string]fine.Fine)}
}

func (r *FineRepo) Create(_ context.Context, f *fine.Fine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fines[f.ID] = *f
	r.order = append(r.order, f.ID)
	return nil
}

func (r *FineRepo) GetByID(_ context.Context, id string) (fine.Fine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fines[id]
	if !ok {
		return fine.Fine{}, fine.ErrNotFound
	}
	return f, nil
}

// ListByUser returns newest first.
func (r *FineRepo) ListByUser(_ context.Context, userID string, paidOnly bool) ([]fine.Fine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []fine.Fine{}
	for i := len(r.order) - 1; i >= 0; i-- {
		f := r.fines[r.order[i]]
		if f.UserID != userID || (paidOnly && !f.Paid) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *FineRepo) FindOutstanding(_ context.Context, userID, ebookID string) (fine.Fine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		f := r.fines[r.order[i]]
		if f.UserID == userID && f.EbookID == ebookID && !f.Paid {
			return f, nil
		}
	}
	return fine.Fine{}, fine.ErrNotFound
}

func (r *FineRepo) UpdateAmount(_ context.Context, id string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fines[id]
	if !ok || f.Paid {
		return fine.ErrNotFound
	}
	f.FineAmount = amount
	r.fines[id] = f
	return nil
}

func (r *FineRepo) MarkPaid(_ context.Context, id string, at time.Time, ref string) (fine.Fine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fines[id]
	if !ok {
		return fine.Fine{}, fine.ErrNotFound
	}
	f.Paid = true
	if f.PaymentDate == nil {
		f.PaymentDate = &at
	}
	if f.PaymentRef == "" {
		f.PaymentRef = ref
	}
	r.fines[id] = f
	return f, nil
}

// RequestRepo is an in-memory request.Repository.
type RequestRepo struct {
	mu    sync.RWMutex
	reqs  map[string]request.Request
	order []string
	now   func() time.Time
}

func NewRequestRepo() *RequestRepo {
	return &RequestRepo{reqs: make(map[string]request.Request), now: time.Now}
}

func (r *RequestRepo) Create(_ context.Context, req *request.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs[req.ID] = *req
	r.order = append(r.order, req.ID)
	return nil
}

func (r *RequestRepo) GetByID(_ context.Context, id string) (request.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.reqs[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return req, nil
}

func (r *RequestRepo) UpdateStatus(_ context.Context, id string, status request.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return request.ErrNotFound
	}
	req.Status = status
	req.UpdatedAt = r.now()
	r.reqs[id] = req
	return nil
}

func (r *RequestRepo) ListByUser(_ context.Context, userID string, status request.Status) ([]request.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []request.Request{}
	for i := len(r.order) - 1; i >= 0; i-- {
		req := r.reqs[r.order[i]]
		if req.UserID == userID && (status == "" || req.Status == status) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *RequestRepo) ListByStatus(_ context.Context, status request.Status) ([]request.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []request.Request{}
	for _, id := range r.order {
		if req := r.reqs[id]; req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

// UserRepo is an in-memory user.Repository.
type UserRepo struct {
	mu    sync.RWMutex
	users map[string]user.User
}

func NewUserRepo() *UserRepo {
	return &UserRepo{users: make(map[string]user.User)}
}

func (r *UserRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return user.ErrAlreadyExists
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UserRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

// BlacklistRepo is an in-memory auth.BlacklistRepository.
type BlacklistRepo struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewBlacklistRepo() *BlacklistRepo {
	return &BlacklistRepo{tokens: make(map[string]time.Time)}
}

func (r *BlacklistRepo) AddToken(_ context.Context, jti string, _ string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[jti]; !ok {
		r.tokens[jti] = expiresAt
	}
	return nil
}

func (r *BlacklistRepo) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.tokens[jti]
	return ok && exp.After(time.Now()), nil
}

func (r *BlacklistRepo) CleanupExpired(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for jti, exp := range r.tokens {
		if exp.Before(now) {
			delete(r.tokens, jti)
		}
	}
	return nil
}
