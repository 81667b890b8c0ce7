package ebook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"elibrary/internal/access"
	"elibrary/internal/apperr"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service manages the catalogue side of ebooks. Lending fields are only ever
// changed by the Engine.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func cleanCatalogue(title string, authors []string) (string, []string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil, apperr.Validation("title", "title is required")
	}
	cleaned := make([]string, 0, len(authors))
	for _, a := range authors {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	if len(cleaned) == 0 {
		return "", nil, apperr.Validation("authors", "at least one author is required")
	}
	return title, cleaned, nil
}

func (s *Service) Create(ctx context.Context, actor access.Actor, in NewEbook) (Ebook, error) {
	if err := actor.Require(access.RoleLibrarian); err != nil {
		return Ebook{}, err
	}
	title, authors, err := cleanCatalogue(in.Title, in.Authors)
	if err != nil {
		return Ebook{}, err
	}

	now := s.now()
	b := Ebook{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   in.Content,
		Authors:   authors,
		SectionID: in.SectionID,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, &b); err != nil {
		return Ebook{}, apperr.Infra("create ebook", err)
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (Ebook, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Ebook{}, apperr.NotFound("ebook not found")
		}
		return Ebook{}, apperr.Infra("load ebook", err)
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Ebook, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultPageSize
	case filter.Limit > maxPageSize:
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	books, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperr.Infra("list ebooks", err)
	}
	for i := range books {
		books[i].Content = ""
	}
	return books, nil
}

// Update edits the catalogue fields of an ebook. The write is version checked,
// so an edit racing a lending transition fails with Conflict.
func (s *Service) Update(ctx context.Context, actor access.Actor, id string, in EbookEdit) (Ebook, error) {
	if err := actor.Require(access.RoleLibrarian); err != nil {
		return Ebook{}, err
	}
	title, authors, err := cleanCatalogue(in.Title, in.Authors)
	if err != nil {
		return Ebook{}, err
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return Ebook{}, err
	}
	if in.Version != nil && *in.Version != b.Version {
		return Ebook{}, apperr.Conflict(fmt.Sprintf("ebook is at version %d, not %d", b.Version, *in.Version))
	}

	b.Title = title
	b.Authors = authors
	if in.Content != nil {
		b.Content = *in.Content
	}
	if in.SectionID != nil {
		b.SectionID = *in.SectionID
	}
	b.UpdatedAt = s.now()

	saved, err := s.repo.Update(ctx, b)
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

// Delete removes an ebook from the catalogue. Ebooks on loan are refused;
// the fine ledger and request history are never touched.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id string) error {
	if err := actor.Require(access.RoleLibrarian); err != nil {
		return err
	}
	err := s.repo.Delete(ctx, id, s.now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("ebook not found")
	case errors.Is(err, ErrOnLoan):
		return apperr.Conflict("ebook is on loan, revoke it or approve its return first")
	}
	return apperr.Infra("delete ebook", err)
}
