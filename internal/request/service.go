package request

import (
	"context"
	"errors"
	"time"

	"elibrary/internal/apperr"

	"github.com/google/uuid"
)

// Service is the per-user request queue.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

// AddOrReplaceRequest appends a pending request for userID on ebookID.
func (s *Service) AddOrReplaceRequest(ctx context.Context, userID, ebookID string) (Request, error) {
	ts := s.now()
	req := Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		EbookID:   ebookID,
		Status:    StatusPending,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := s.repo.Create(ctx, &req); err != nil {
		return Request{}, apperr.Infra("create request", err)
	}
	return req, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Request{}, apperr.NotFound("request not found")
		}
		return Request{}, apperr.Infra("load request", err)
	}
	return req, nil
}

func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("request not found")
		}
		return apperr.Infra("update request", err)
	}
	return nil
}

func (s *Service) FindPendingForUser(ctx context.Context, userID string) ([]Request, error) {
	reqs, err := s.repo.ListByUser(ctx, userID, StatusPending)
	if err != nil {
		return nil, apperr.Infra("list pending requests", err)
	}
	return reqs, nil
}

// HasPending reports whether userID already waits on ebookID.
func (s *Service) HasPending(ctx context.Context, userID, ebookID string) (bool, error) {
	reqs, err := s.FindPendingForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range reqs {
		if r.EbookID == ebookID {
			return true, nil
		}
	}
	return false, nil
}

// ListPending returns every pending request, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]Request, error) {
	reqs, err := s.repo.ListByStatus(ctx, StatusPending)
	if err != nil {
		return nil, apperr.Infra("list pending requests", err)
	}
	return reqs, nil
}

// ListForUser returns all requests of userID in any status.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Request, error) {
	reqs, err := s.repo.ListByUser(ctx, userID, "")
	if err != nil {
		return nil, apperr.Infra("list requests", err)
	}
	return reqs, nil
}
