package database_test

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/library-service/cmd/api/book"
	"github.com/library-service/cmd/api/database"
	"github.com/library-service/cmd/api/notifications"
	"github.com/matryer/is"
)

var ctx context.Context = context.Background()

var bookCols = []string{"id", "title", "category", "isbn", "author_id", "copies_available", "archived", "created_at", "updated_at"}
var loanCols = []string{"id", "book_id", "member_id", "borrowed_at", "due_at", "returned", "returned_at"}
var memberCols = []string{"id", "full_name", "created_at"}

func newMockStore(t *testing.T) (*database.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return database.NewStore(db), mock
}

func TestGetBookForUpdate(t *testing.T) {
	t.Run("locks and reads the book", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		id, authorID := uuid.New(), uuid.New()
		now := time.Now().UTC().Round(time.Millisecond)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM books WHERE id = $1 FOR UPDATE`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(bookCols).AddRow(id.String(), "Dune", "Fiction", "978-0441013593", authorID.String(), 2, false, now, now))

		b, err := store.GetBookForUpdate(ctx, id)
		is.NoErr(err)
		is.Equal(b.ID, id)
		is.Equal(*b.AuthorID, authorID)
		is.Equal(b.CopiesAvailable, 2)
		is.NoErr(mock.ExpectationsWereMet())
	})

	t.Run("a missing book should return a not found error", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM books WHERE id = $1 FOR UPDATE`)).
			WillReturnRows(sqlmock.NewRows(bookCols))

		_, err := store.GetBookForUpdate(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func TestAdjustBookCopies(t *testing.T) {
	t.Run("the check constraint is reported as book unavailable", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		id := uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta(`SET copies_available = copies_available + $2`)).
			WithArgs(id, -1).
			WillReturnError(&pq.Error{Code: "23514", Constraint: "books_copies_available_check"})

		_, err := store.AdjustBookCopies(ctx, id, -1)
		is.True(errors.Is(err, book.ErrResponseBookUnavailable))
		is.NoErr(mock.ExpectationsWereMet())
	})

	t.Run("other failures are passed through", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`SET copies_available = copies_available + $2`)).
			WillReturnError(&pq.Error{Code: "40P01"})

		_, err := store.AdjustBookCopies(ctx, uuid.New(), 1)
		var pqErr *pq.Error
		is.True(errors.As(err, &pqErr))
		is.Equal(string(pqErr.Code), "40P01")
	})
}

func TestListBooks(t *testing.T) {
	t.Run("filters, sorts and paginates in the query", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		now := time.Now().UTC().Round(time.Millisecond)
		mock.ExpectQuery(`"title" ILIKE .*ORDER BY "copies_available" DESC, "id" ASC LIMIT`).
			WillReturnRows(sqlmock.NewRows(bookCols).
				AddRow(uuid.New().String(), "Dune", "Fiction", "", nil, 5, false, now, now).
				AddRow(uuid.New().String(), "Dune Messiah", "Fiction", "", nil, 1, false, now, now))

		books, err := store.ListBooks(ctx, book.ListBooksRequest{
			Title:         "dune",
			SortBy:        "copies_available",
			SortDirection: "desc",
			Page:          1,
			PageSize:      10,
		})
		is.NoErr(err)
		is.Equal(len(books), 2)
		is.True(books[0].AuthorID == nil)
		is.NoErr(mock.ExpectationsWereMet())
	})

	t.Run("counts the filtered books", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "books"`)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(13))

		total, err := store.ListBooksTotals(ctx, book.ListBooksRequest{Category: "fiction"})
		is.NoErr(err)
		is.Equal(total, 13)
		is.NoErr(mock.ExpectationsWereMet())
	})
}

func TestCreateLoan(t *testing.T) {
	t.Run("an unknown member is reported as member not found", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO loans`)).
			WillReturnError(&pq.Error{Code: "23503", Constraint: "loans_member_id_fkey"})

		_, err := store.CreateLoan(ctx, book.Loan{ID: uuid.New(), BookID: uuid.New(), MemberID: uuid.New()})
		is.True(errors.Is(err, book.ErrResponseMemberNotFound))
	})
}

func TestMarkLoanReturned(t *testing.T) {
	t.Run("returns an open loan", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		id := uuid.New()
		returnedAt := time.Now().UTC().Round(time.Millisecond)
		borrowedAt := returnedAt.Add(-time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND returned = FALSE`)).
			WithArgs(id, returnedAt).
			WillReturnRows(sqlmock.NewRows(loanCols).
				AddRow(id.String(), uuid.New().String(), uuid.New().String(), borrowedAt, borrowedAt.Add(book.LoanPeriod), true, returnedAt))

		l, err := store.MarkLoanReturned(ctx, id, returnedAt)
		is.NoErr(err)
		is.True(l.Returned)
		is.True(l.ReturnedAt.Equal(returnedAt))
		is.NoErr(mock.ExpectationsWereMet())
	})

	t.Run("an already returned loan should return loan not found", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND returned = FALSE`)).
			WillReturnRows(sqlmock.NewRows(loanCols))

		_, err := store.MarkLoanReturned(ctx, uuid.New(), time.Now())
		is.True(errors.Is(err, book.ErrResponseLoanNotFound))
	})
}

func TestDeleteAuthor(t *testing.T) {
	t.Run("deleting an unknown author should return author not found", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM authors WHERE id = $1`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.DeleteAuthor(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseAuthorNotFound))
		is.NoErr(mock.ExpectationsWereMet())
	})
}

func TestBorrowBookTransaction(t *testing.T) {
	newLedger := func(store *database.Store) *book.Service {
		return book.NewService(store, notifications.NewNtfy(false, "", &http.Client{}), time.Second)
	}
	memberID, bookID := uuid.New(), uuid.New()
	now := time.Now().UTC().Round(time.Millisecond)

	t.Run("commits the loan and the decrement together", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`FROM members WHERE id = $1 FOR UPDATE`)).WithArgs(memberID).
			WillReturnRows(sqlmock.NewRows(memberCols).AddRow(memberID.String(), "Ada", now))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM loans`)).WithArgs(memberID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM books WHERE id = $1 FOR UPDATE`)).WithArgs(bookID).
			WillReturnRows(sqlmock.NewRows(bookCols).AddRow(bookID.String(), "Dune", "", "", nil, 1, false, now, now))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO loans`)).
			WillReturnRows(sqlmock.NewRows(loanCols).
				AddRow(uuid.New().String(), bookID.String(), memberID.String(), now, now.Add(book.LoanPeriod), false, nil))
		mock.ExpectQuery(regexp.QuoteMeta(`SET copies_available = copies_available + $2`)).WithArgs(bookID, -1).
			WillReturnRows(sqlmock.NewRows(bookCols).AddRow(bookID.String(), "Dune", "", "", nil, 0, false, now, now))
		mock.ExpectCommit()

		loan, err := newLedger(store).BorrowBook(ctx, book.BorrowRequest{MemberID: memberID, BookID: bookID})
		is.NoErr(err)
		is.Equal(loan.BookID, bookID)
		is.True(!loan.Returned)
		is.NoErr(mock.ExpectationsWereMet())
	})

	t.Run("rolls back when the book has no copies", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`FROM members WHERE id = $1 FOR UPDATE`)).
			WillReturnRows(sqlmock.NewRows(memberCols).AddRow(memberID.String(), "Ada", now))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM loans`)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM books WHERE id = $1 FOR UPDATE`)).
			WillReturnRows(sqlmock.NewRows(bookCols).AddRow(bookID.String(), "Dune", "", "", nil, 0, false, now, now))
		mock.ExpectRollback()

		_, err := newLedger(store).BorrowBook(ctx, book.BorrowRequest{MemberID: memberID, BookID: bookID})
		is.True(errors.Is(err, book.ErrResponseBookUnavailable))
		is.NoErr(mock.ExpectationsWereMet())
	})

	t.Run("a serialization failure is a retryable storage failure", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`FROM members WHERE id = $1 FOR UPDATE`)).
			WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()

		_, err := newLedger(store).BorrowBook(ctx, book.BorrowRequest{MemberID: memberID, BookID: bookID})
		is.True(book.IsRetryable(err))
		is.NoErr(mock.ExpectationsWereMet())
	})

	t.Run("a failed begin applies nothing", func(t *testing.T) {
		is := is.New(t)
		store, mock := newMockStore(t)

		mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

		_, err := newLedger(store).BorrowBook(ctx, book.BorrowRequest{MemberID: memberID, BookID: bookID})
		is.True(errors.Is(err, book.ErrResponseStorageFailure))
		is.True(errors.Is(err, sql.ErrConnDone))
	})
}
