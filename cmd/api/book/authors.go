package book

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Author struct {
	ID        uuid.UUID
	FullName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateAuthorRequest struct {
	FullName string
}

type UpdateAuthorRequest struct {
	ID       uuid.UUID
	FullName string
}

func (s *Service) CreateAuthor(ctx context.Context, req CreateAuthorRequest) (Author, error) {
	if req.FullName == "" {
		return Author{}, ErrResponseAuthorEntryBlankFields
	}

	createdAt := time.Now().UTC().Round(time.Millisecond)
	a, err := s.repo.CreateAuthor(ctx, Author{
		ID:        uuid.New(),
		FullName:  req.FullName,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	if err != nil {
		return Author{}, repoError("CreateAuthor", err)
	}
	return a, nil
}

func (s *Service) GetAuthor(ctx context.Context, id uuid.UUID) (Author, error) {
	a, err := s.repo.GetAuthorByID(ctx, id)
	if err != nil {
		return Author{}, repoError("GetAuthor", err)
	}
	return a, nil
}

func (s *Service) UpdateAuthor(ctx context.Context, req UpdateAuthorRequest) (Author, error) {
	if req.FullName == "" {
		return Author{}, ErrResponseAuthorEntryBlankFields
	}

	a, err := s.repo.UpdateAuthor(ctx, Author{
		ID:        req.ID,
		FullName:  req.FullName,
		UpdatedAt: time.Now().UTC().Round(time.Millisecond),
	})
	if err != nil {
		return Author{}, repoError("UpdateAuthor", err)
	}
	return a, nil
}

/* Deletes the author. Books written by the author are kept, with no author set. */
func (s *Service) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAuthor(ctx, id); err != nil {
		return repoError("DeleteAuthor", err)
	}
	return nil
}

func (s *Service) ListAuthors(ctx context.Context) ([]Author, error) {
	authors, err := s.repo.ListAuthors(ctx)
	if err != nil {
		return nil, repoError("ListAuthors", err)
	}
	return authors, nil
}
