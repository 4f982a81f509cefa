package book

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

const PageSizeMax = 30

type Book struct {
	ID              uuid.UUID
	Title           string
	Category        string
	ISBN            string
	AuthorID        *uuid.UUID
	CopiesAvailable int
	Archived        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateBookRequest struct {
	Title           string
	Category        string
	ISBN            string
	AuthorID        *uuid.UUID
	CopiesAvailable *int
}

/* Verifies if the required fields of a new book are filled. */
func (req CreateBookRequest) validate() error {
	if req.Title == "" || req.CopiesAvailable == nil {
		return ErrResponseBookEntryBlankFields
	}
	if *req.CopiesAvailable < 0 {
		return ErrResponseCopiesNegative
	}
	return nil
}

func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (Book, error) {
	if err := req.validate(); err != nil {
		return Book{}, err
	}

	createdAt := time.Now().UTC().Round(time.Millisecond)
	newBook := Book{
		ID:              uuid.New(),
		Title:           req.Title,
		Category:        req.Category,
		ISBN:            req.ISBN,
		AuthorID:        req.AuthorID,
		CopiesAvailable: *req.CopiesAvailable,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}

	storedBook, err := s.repo.CreateBook(ctx, newBook)
	if err != nil {
		return Book{}, repoError("CreateBook", err)
	}

	go s.notifyBookCreated(storedBook)

	return storedBook, nil
}

type UpdateBookRequest struct {
	ID              uuid.UUID
	Title           string
	Category        string
	ISBN            string
	AuthorID        *uuid.UUID
	CopiesAvailable *int
}

/*
Replaces the catalog data of a book. Setting CopiesAvailable here is a direct stock
correction made by a librarian; it does not go through the loan ledger.
*/
func (s *Service) UpdateBook(ctx context.Context, req UpdateBookRequest) (Book, error) {
	err := CreateBookRequest{Title: req.Title, CopiesAvailable: req.CopiesAvailable}.validate()
	if err != nil {
		return Book{}, err
	}

	bookEntry := Book{
		ID:              req.ID,
		Title:           req.Title,
		Category:        req.Category,
		ISBN:            req.ISBN,
		AuthorID:        req.AuthorID,
		CopiesAvailable: *req.CopiesAvailable,
		UpdatedAt:       time.Now().UTC().Round(time.Millisecond),
	}

	updatedBook, err := s.repo.UpdateBook(ctx, bookEntry)
	if err != nil {
		return Book{}, repoError("UpdateBook", err)
	}
	return updatedBook, nil
}

/* Archived books stay in the catalog (loans keep referencing them) but can no longer be borrowed. */
func (s *Service) ArchiveBook(ctx context.Context, id uuid.UUID) (Book, error) {
	archivedBook, err := s.repo.SetBookArchiveStatus(ctx, id, true)
	if err != nil {
		return Book{}, repoError("ArchiveBook", err)
	}
	return archivedBook, nil
}

func (s *Service) GetBook(ctx context.Context, id uuid.UUID) (Book, error) {
	b, err := s.repo.GetBookByID(ctx, id)
	if err != nil {
		return Book{}, repoError("GetBook", err)
	}
	return b, nil
}

type ListBooksRequest struct {
	Title         string
	Category      string
	SortBy        string
	SortDirection string
	Archived      bool
	Page          int
	PageSize      int
}

type PagedBooks struct {
	PageCurrent int
	PageTotal   int
	PageSize    int
	ItemsTotal  int
	Results     []Book
}

/* Returns one page of the books matching the request filters. */
func (s *Service) ListBooks(ctx context.Context, req ListBooksRequest) (PagedBooks, error) {
	if req.Page < 1 || req.PageSize < 1 || req.PageSize > PageSizeMax {
		return PagedBooks{}, ErrResponseQueryPageInvalid
	}

	itemsTotal, err := s.repo.ListBooksTotals(ctx, req)
	if err != nil {
		return PagedBooks{}, repoError("ListBooksTotals", err)
	}
	if itemsTotal == 0 {
		return PagedBooks{Results: []Book{}}, nil
	}

	pageTotal := int(math.Ceil(float64(itemsTotal) / float64(req.PageSize)))
	if req.Page > pageTotal {
		return PagedBooks{}, ErrResponseQueryPageOutOfRange
	}

	results, err := s.repo.ListBooks(ctx, req)
	if err != nil {
		return PagedBooks{}, repoError("ListBooks", err)
	}

	return PagedBooks{
		PageCurrent: req.Page,
		PageTotal:   pageTotal,
		PageSize:    req.PageSize,
		ItemsTotal:  itemsTotal,
		Results:     results,
	}, nil
}
