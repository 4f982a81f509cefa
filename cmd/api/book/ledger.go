package book

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MaxActiveLoans = 3
	LoanPeriod     = 7 * 24 * time.Hour
)

// A Loan is open while Returned is false. Returning it is its only, final transition.
type Loan struct {
	ID         uuid.UUID
	BookID     uuid.UUID
	MemberID   uuid.UUID
	BorrowedAt time.Time
	DueAt      time.Time
	Returned   bool
	ReturnedAt *time.Time
}

func (l Loan) IsOverdue(now time.Time) bool {
	return !l.Returned && l.DueAt.Before(now)
}

type BorrowRequest struct {
	MemberID uuid.UUID
	BookID   uuid.UUID
}

/*
Lends one copy of a book to a member. The eligibility checks, the loan insertion and the
inventory decrement run in a single transaction: either all of them apply or none does.
*/
func (s *Service) BorrowBook(ctx context.Context, req BorrowRequest) (Loan, error) {
	if req.MemberID == uuid.Nil || req.BookID == uuid.Nil {
		return Loan{}, ErrResponseBorrowEntryBlankFields
	}

	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return Loan{}, repoError("BorrowBook", err)
	}
	defer tx.Rollback()

	member, err := txRepo.GetMemberForUpdate(ctx, req.MemberID)
	if err != nil {
		return Loan{}, repoError("BorrowBook", err)
	}

	activeLoans, err := txRepo.CountActiveLoans(ctx, member.ID)
	if err != nil {
		return Loan{}, repoError("BorrowBook", err)
	}
	if activeLoans >= MaxActiveLoans {
		return Loan{}, fmt.Errorf("borrowing book %s: %w", req.BookID, ErrResponseLoanLimitExceeded)
	}

	b, err := txRepo.GetBookForUpdate(ctx, req.BookID)
	if err != nil {
		return Loan{}, repoError("BorrowBook", err)
	}
	if b.Archived {
		return Loan{}, fmt.Errorf("borrowing book %s: %w", b.ID, ErrResponseBookIsArchived)
	}
	if b.CopiesAvailable <= 0 {
		return Loan{}, fmt.Errorf("borrowing book %s: %w", b.ID, ErrResponseBookUnavailable)
	}

	borrowedAt := time.Now().UTC().Round(time.Millisecond)
	newLoan, err := txRepo.CreateLoan(ctx, Loan{
		ID:         uuid.New(),
		BookID:     b.ID,
		MemberID:   member.ID,
		BorrowedAt: borrowedAt,
		DueAt:      borrowedAt.Add(LoanPeriod),
	})
	if err != nil {
		return Loan{}, repoError("BorrowBook", err)
	}

	_, err = txRepo.AdjustBookCopies(ctx, b.ID, -1)
	if err != nil {
		return Loan{}, repoError("BorrowBook", err)
	}

	if err = tx.Commit(); err != nil {
		return Loan{}, repoError("BorrowBook", err)
	}
	return newLoan, nil
}

/*
Closes an open loan and puts the copy back into the inventory, atomically.
A loan that does not exist or was already returned is rejected with ErrResponseLoanNotFound.
*/
func (s *Service) ReturnLoan(ctx context.Context, loanID uuid.UUID) (Loan, error) {
	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return Loan{}, repoError("ReturnLoan", err)
	}
	defer tx.Rollback()

	returnedAt := time.Now().UTC().Round(time.Millisecond)
	returnedLoan, err := txRepo.MarkLoanReturned(ctx, loanID, returnedAt)
	if err != nil {
		return Loan{}, repoError("ReturnLoan", err)
	}

	_, err = txRepo.AdjustBookCopies(ctx, returnedLoan.BookID, 1)
	if err != nil {
		return Loan{}, repoError("ReturnLoan", err)
	}

	if err = tx.Commit(); err != nil {
		return Loan{}, repoError("ReturnLoan", err)
	}
	return returnedLoan, nil
}

func (s *Service) GetLoan(ctx context.Context, id uuid.UUID) (Loan, error) {
	l, err := s.repo.GetLoanByID(ctx, id)
	if err != nil {
		return Loan{}, repoError("GetLoan", err)
	}
	return l, nil
}

func (s *Service) ListActiveLoans(ctx context.Context, memberID uuid.UUID) ([]Loan, error) {
	if _, err := s.repo.GetMemberByID(ctx, memberID); err != nil {
		return nil, repoError("ListActiveLoans", err)
	}
	loans, err := s.repo.ListActiveLoansByMember(ctx, memberID)
	if err != nil {
		return nil, repoError("ListActiveLoans", err)
	}
	return loans, nil
}

func (s *Service) ListOverdueLoans(ctx context.Context) ([]Loan, error) {
	loans, err := s.repo.ListOverdueLoans(ctx, time.Now().UTC())
	if err != nil {
		return nil, repoError("ListOverdueLoans", err)
	}
	return loans, nil
}
