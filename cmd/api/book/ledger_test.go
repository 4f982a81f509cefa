package book_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
	bookmock "github.com/library-service/cmd/api/book/mocks"
	"github.com/matryer/is"
	gomock "go.uber.org/mock/gomock"
)

type ledgerMocks struct {
	repo   *bookmock.MockRepository
	txRepo *bookmock.MockRepository
	tx     *bookmock.MockTx
	ntfy   *bookmock.MockNotifier
	svc    *book.Service
}

// newLedgerMocks wires a service whose BeginTx hands out txRepo and tx.
func newLedgerMocks(t *testing.T) ledgerMocks {
	ctrl := gomock.NewController(t)
	m := ledgerMocks{
		repo:   bookmock.NewMockRepository(ctrl),
		txRepo: bookmock.NewMockRepository(ctrl),
		tx:     bookmock.NewMockTx(ctrl),
		ntfy:   bookmock.NewMockNotifier(ctrl),
	}
	m.svc = book.NewService(m.repo, m.ntfy, notificationsTimeout)
	return m
}

func (m ledgerMocks) expectTx() {
	m.repo.EXPECT().BeginTx(gomock.Any(), gomock.Nil()).Return(m.txRepo, m.tx, nil)
	// Rollback always runs, after a commit it is a no-op.
	m.tx.EXPECT().Rollback().Return(nil)
}

func TestBorrowBook(t *testing.T) {
	memberID, bookID := uuid.New(), uuid.New()
	req := book.BorrowRequest{MemberID: memberID, BookID: bookID}

	t.Run("lends a copy inside one transaction", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		gomock.InOrder(
			m.txRepo.EXPECT().GetMemberForUpdate(gomock.Any(), memberID).Return(book.Member{ID: memberID}, nil),
			m.txRepo.EXPECT().CountActiveLoans(gomock.Any(), memberID).Return(book.MaxActiveLoans-1, nil),
			m.txRepo.EXPECT().GetBookForUpdate(gomock.Any(), bookID).Return(book.Book{ID: bookID, CopiesAvailable: 1}, nil),
			m.txRepo.EXPECT().CreateLoan(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, l book.Loan) (book.Loan, error) {
				is.True(l.ID != uuid.Nil)
				is.Equal(l.MemberID, memberID)
				is.Equal(l.BookID, bookID)
				is.Equal(l.DueAt.Sub(l.BorrowedAt), 7*24*time.Hour)
				is.True(!l.Returned)
				is.True(l.ReturnedAt == nil)
				return l, nil
			}),
			m.txRepo.EXPECT().AdjustBookCopies(gomock.Any(), bookID, -1).Return(book.Book{ID: bookID}, nil),
			m.tx.EXPECT().Commit().Return(nil),
		)

		loan, err := m.svc.BorrowBook(ctx, req)
		is.NoErr(err)
		is.Equal(loan.BookID, bookID)
	})

	t.Run("the fourth open loan is refused before the book is read", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		m.txRepo.EXPECT().GetMemberForUpdate(gomock.Any(), memberID).Return(book.Member{ID: memberID}, nil)
		m.txRepo.EXPECT().CountActiveLoans(gomock.Any(), memberID).Return(book.MaxActiveLoans, nil)

		_, err := m.svc.BorrowBook(ctx, req)
		is.True(errors.Is(err, book.ErrResponseLoanLimitExceeded))
		is.True(!book.IsRetryable(err))
	})

	t.Run("a book with no copies is unavailable and nothing is written", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		m.txRepo.EXPECT().GetMemberForUpdate(gomock.Any(), memberID).Return(book.Member{ID: memberID}, nil)
		m.txRepo.EXPECT().CountActiveLoans(gomock.Any(), memberID).Return(0, nil)
		m.txRepo.EXPECT().GetBookForUpdate(gomock.Any(), bookID).Return(book.Book{ID: bookID, CopiesAvailable: 0}, nil)

		_, err := m.svc.BorrowBook(ctx, req)
		is.True(errors.Is(err, book.ErrResponseBookUnavailable))
	})

	t.Run("an archived book cannot be borrowed", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		m.txRepo.EXPECT().GetMemberForUpdate(gomock.Any(), memberID).Return(book.Member{ID: memberID}, nil)
		m.txRepo.EXPECT().CountActiveLoans(gomock.Any(), memberID).Return(0, nil)
		m.txRepo.EXPECT().GetBookForUpdate(gomock.Any(), bookID).Return(book.Book{ID: bookID, CopiesAvailable: 3, Archived: true}, nil)

		_, err := m.svc.BorrowBook(ctx, req)
		is.True(errors.Is(err, book.ErrResponseBookIsArchived))
	})

	t.Run("an unknown member or book keeps its not found error", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		m.txRepo.EXPECT().GetMemberForUpdate(gomock.Any(), memberID).Return(book.Member{}, book.ErrResponseMemberNotFound)

		_, err := m.svc.BorrowBook(ctx, req)
		is.True(errors.Is(err, book.ErrResponseMemberNotFound))

		m = newLedgerMocks(t)
		m.expectTx()
		m.txRepo.EXPECT().GetMemberForUpdate(gomock.Any(), memberID).Return(book.Member{ID: memberID}, nil)
		m.txRepo.EXPECT().CountActiveLoans(gomock.Any(), memberID).Return(0, nil)
		m.txRepo.EXPECT().GetBookForUpdate(gomock.Any(), bookID).Return(book.Book{}, book.ErrResponseBookNotFound)

		_, err = m.svc.BorrowBook(ctx, req)
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})

	t.Run("a failing decrement leaves the transaction uncommitted", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		dbErr := errors.New("could not serialize access due to concurrent update")
		m.txRepo.EXPECT().GetMemberForUpdate(gomock.Any(), memberID).Return(book.Member{ID: memberID}, nil)
		m.txRepo.EXPECT().CountActiveLoans(gomock.Any(), memberID).Return(0, nil)
		m.txRepo.EXPECT().GetBookForUpdate(gomock.Any(), bookID).Return(book.Book{ID: bookID, CopiesAvailable: 1}, nil)
		m.txRepo.EXPECT().CreateLoan(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, l book.Loan) (book.Loan, error) {
			return l, nil
		})
		m.txRepo.EXPECT().AdjustBookCopies(gomock.Any(), bookID, -1).Return(book.Book{}, dbErr)

		_, err := m.svc.BorrowBook(ctx, req)
		is.True(errors.Is(err, book.ErrResponseStorageFailure))
		is.True(errors.Is(err, dbErr))
		is.True(book.IsRetryable(err))
	})

	t.Run("blank ids are rejected without a transaction", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)

		_, err := m.svc.BorrowBook(ctx, book.BorrowRequest{MemberID: memberID})
		is.True(errors.Is(err, book.ErrResponseBorrowEntryBlankFields))
	})

	t.Run("a transaction that cannot start is a storage failure", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)

		m.repo.EXPECT().BeginTx(gomock.Any(), gomock.Nil()).Return(nil, nil, errors.New("connection refused"))

		_, err := m.svc.BorrowBook(ctx, req)
		is.True(errors.Is(err, book.ErrResponseStorageFailure))
	})
}

func TestReturnLoan(t *testing.T) {
	loanID, bookID := uuid.New(), uuid.New()

	t.Run("closes the loan and restores the copy", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		gomock.InOrder(
			m.txRepo.EXPECT().MarkLoanReturned(gomock.Any(), loanID, gomock.Any()).DoAndReturn(
				func(ctx context.Context, id uuid.UUID, returnedAt time.Time) (book.Loan, error) {
					return book.Loan{ID: id, BookID: bookID, Returned: true, ReturnedAt: &returnedAt}, nil
				}),
			m.txRepo.EXPECT().AdjustBookCopies(gomock.Any(), bookID, 1).Return(book.Book{ID: bookID, CopiesAvailable: 1}, nil),
			m.tx.EXPECT().Commit().Return(nil),
		)

		loan, err := m.svc.ReturnLoan(ctx, loanID)
		is.NoErr(err)
		is.True(loan.Returned)
		is.True(loan.ReturnedAt != nil)
	})

	t.Run("an already returned loan is rejected and no copy is added", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		m.txRepo.EXPECT().MarkLoanReturned(gomock.Any(), loanID, gomock.Any()).Return(book.Loan{}, book.ErrResponseLoanNotFound)

		_, err := m.svc.ReturnLoan(ctx, loanID)
		is.True(errors.Is(err, book.ErrResponseLoanNotFound))
	})

	t.Run("a failed commit is a storage failure", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		m.expectTx()

		m.txRepo.EXPECT().MarkLoanReturned(gomock.Any(), loanID, gomock.Any()).Return(book.Loan{ID: loanID, BookID: bookID, Returned: true}, nil)
		m.txRepo.EXPECT().AdjustBookCopies(gomock.Any(), bookID, 1).Return(book.Book{}, nil)
		m.tx.EXPECT().Commit().Return(errors.New("connection lost"))

		_, err := m.svc.ReturnLoan(ctx, loanID)
		is.True(errors.Is(err, book.ErrResponseStorageFailure))
	})
}

func TestListActiveLoans(t *testing.T) {
	t.Run("an unknown member should return a not found error", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)

		m.repo.EXPECT().GetMemberByID(gomock.Any(), gomock.Any()).Return(book.Member{}, book.ErrResponseMemberNotFound)

		_, err := m.svc.ListActiveLoans(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseMemberNotFound))
	})

	t.Run("lists the open loans of a member", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		memberID := uuid.New()
		loans := []book.Loan{{ID: uuid.New(), MemberID: memberID}}

		m.repo.EXPECT().GetMemberByID(gomock.Any(), memberID).Return(book.Member{ID: memberID}, nil)
		m.repo.EXPECT().ListActiveLoansByMember(gomock.Any(), memberID).Return(loans, nil)

		got, err := m.svc.ListActiveLoans(ctx, memberID)
		is.NoErr(err)
		is.Equal(got, loans)
	})
}

func TestNotifyOverdueLoans(t *testing.T) {
	t.Run("notifies every overdue loan and counts the deliveries", func(t *testing.T) {
		is := is.New(t)
		m := newLedgerMocks(t)
		now := time.Now().UTC()
		overdue := []book.Loan{{ID: uuid.New()}, {ID: uuid.New()}}

		m.repo.EXPECT().ListOverdueLoans(gomock.Any(), now).Return(overdue, nil)
		m.ntfy.EXPECT().LoanOverdue(gomock.Any(), overdue[0]).Return(nil)
		m.ntfy.EXPECT().LoanOverdue(gomock.Any(), overdue[1]).Return(book.NewErrNotificationFailed(500))

		delivered, err := m.svc.NotifyOverdueLoans(ctx, now)
		is.NoErr(err)
		is.Equal(delivered, 1)
	})
}

func TestLoanIsOverdue(t *testing.T) {
	is := is.New(t)
	now := time.Now()

	is.True(book.Loan{DueAt: now.Add(-time.Minute)}.IsOverdue(now))
	is.True(!book.Loan{DueAt: now.Add(time.Minute)}.IsOverdue(now))
	is.True(!book.Loan{DueAt: now.Add(-time.Minute), Returned: true}.IsOverdue(now))
}
