package book_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
	bookmock "github.com/library-service/cmd/api/book/mocks"
	"github.com/library-service/cmd/api/notifications"
	"github.com/matryer/is"
	gomock "go.uber.org/mock/gomock"
)

var ctx context.Context = context.Background()

var ntfy *notifications.Ntfy
var notificationsTimeout = 1 * time.Second

func TestMain(m *testing.M) {
	// CreateBook notifies from a goroutine, so the service tests run with notifications off.
	ntfy = notifications.NewNtfy(false, "", &http.Client{})

	os.Exit(m.Run())
}

func TestCreateBook(t *testing.T) {
	t.Run("creates a book without errors", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		authorID := uuid.New()
		reqBook := book.CreateBookRequest{
			Title:           "Service tester book",
			Category:        "Testing",
			ISBN:            "978-0000000001",
			AuthorID:        &authorID,
			CopiesAvailable: toPointer(99),
		}

		mockRepo.EXPECT().CreateBook(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, b book.Book) (book.Book, error) {
			is.True(b.ID != uuid.Nil)
			is.Equal(b.Title, reqBook.Title)
			is.Equal(b.AuthorID, reqBook.AuthorID)
			is.Equal(b.CopiesAvailable, 99)
			is.True(!b.Archived)
			is.True(b.CreatedAt.Equal(b.UpdatedAt))
			return b, nil
		})

		createdBook, err := mS.CreateBook(ctx, reqBook)
		is.NoErr(err)
		is.True(createdBook.ID != uuid.Nil)
		is.Equal(createdBook.Title, reqBook.Title)
		is.Equal(createdBook.CopiesAvailable, 99)
	})

	t.Run("rejects blank and negative fields without touching the repository", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		_, err := mS.CreateBook(ctx, book.CreateBookRequest{Title: "", CopiesAvailable: toPointer(1)})
		is.True(errors.Is(err, book.ErrResponseBookEntryBlankFields))

		_, err = mS.CreateBook(ctx, book.CreateBookRequest{Title: "No copies field"})
		is.True(errors.Is(err, book.ErrResponseBookEntryBlankFields))

		_, err = mS.CreateBook(ctx, book.CreateBookRequest{Title: "Negative", CopiesAvailable: toPointer(-1)})
		is.True(errors.Is(err, book.ErrResponseCopiesNegative))
	})

	t.Run("an unknown author keeps its error identity", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().CreateBook(gomock.Any(), gomock.Any()).Return(book.Book{}, book.ErrResponseAuthorNotFound)

		_, err := mS.CreateBook(ctx, book.CreateBookRequest{Title: "Orphan", AuthorID: toPointer(uuid.New()), CopiesAvailable: toPointer(1)})
		is.True(errors.Is(err, book.ErrResponseAuthorNotFound))
		is.True(!book.IsRetryable(err))
	})
}

func TestUpdateBook(t *testing.T) {
	t.Run("updates a book without errors", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		reqBook := book.UpdateBookRequest{
			ID:              uuid.New(),
			Title:           "Updated service tester book",
			Category:        "Testing",
			CopiesAvailable: toPointer(7),
		}

		mockRepo.EXPECT().UpdateBook(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, b book.Book) (book.Book, error) {
			is.Equal(b.ID, reqBook.ID)
			is.Equal(b.Title, reqBook.Title)
			is.Equal(b.CopiesAvailable, 7)
			is.True(b.UpdatedAt.Compare(time.Now().Round(time.Millisecond)) <= 0)
			return b, nil
		})

		updatedBook, err := mS.UpdateBook(ctx, reqBook)
		is.NoErr(err)
		is.Equal(updatedBook.ID, reqBook.ID)
		is.Equal(updatedBook.Title, reqBook.Title)
	})

	t.Run("updating a missing book should return a not found error", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().UpdateBook(gomock.Any(), gomock.Any()).Return(book.Book{}, book.ErrResponseBookNotFound)

		_, err := mS.UpdateBook(ctx, book.UpdateBookRequest{ID: uuid.New(), Title: "x", CopiesAvailable: toPointer(1)})
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func TestArchiveBook(t *testing.T) {
	t.Run("archives a book without errors", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		id := uuid.New()

		mockRepo.EXPECT().SetBookArchiveStatus(gomock.Any(), id, true).Return(book.Book{ID: id, Archived: true}, nil)

		archived, err := mS.ArchiveBook(ctx, id)
		is.NoErr(err)
		is.True(archived.Archived)
	})
}

func TestGetBook(t *testing.T) {
	t.Run("gets a book by ID without errors", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		id := uuid.New()

		mockRepo.EXPECT().GetBookByID(gomock.Any(), id)

		_, err := mS.GetBook(ctx, id)
		is.NoErr(err)
	})

	t.Run("a timeout is reported as a storage failure", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().GetBookByID(gomock.Any(), gomock.Any()).Return(book.Book{}, context.DeadlineExceeded)

		_, err := mS.GetBook(ctx, uuid.New())
		is.True(errors.Is(err, context.DeadlineExceeded))
		is.True(errors.Is(err, book.ErrResponseStorageFailure))
	})
}

func TestListBooks(t *testing.T) {
	t.Run("lists a page of books with exact division", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		reqBooks := book.ListBooksRequest{SortBy: "title", SortDirection: "asc", Page: 2, PageSize: 10}
		results := make([]book.Book, 10)

		mockRepo.EXPECT().ListBooksTotals(gomock.Any(), reqBooks).Return(30, nil)
		mockRepo.EXPECT().ListBooks(gomock.Any(), reqBooks).Return(results, nil)

		paged, err := mS.ListBooks(ctx, reqBooks)
		is.NoErr(err)
		is.Equal(paged.PageCurrent, 2)
		is.Equal(paged.PageTotal, 3)
		is.Equal(paged.ItemsTotal, 30)
		is.Equal(len(paged.Results), 10)
	})

	t.Run("rounds the page total up", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		reqBooks := book.ListBooksRequest{Page: 4, PageSize: 10}

		mockRepo.EXPECT().ListBooksTotals(gomock.Any(), reqBooks).Return(31, nil)
		mockRepo.EXPECT().ListBooks(gomock.Any(), reqBooks).Return(make([]book.Book, 1), nil)

		paged, err := mS.ListBooks(ctx, reqBooks)
		is.NoErr(err)
		is.Equal(paged.PageTotal, 4)
	})

	t.Run("an empty catalog is an empty page", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().ListBooksTotals(gomock.Any(), gomock.Any()).Return(0, nil)

		paged, err := mS.ListBooks(ctx, book.ListBooksRequest{Page: 3, PageSize: 10})
		is.NoErr(err)
		is.Equal(paged.Results, []book.Book{})
	})

	t.Run("a page past the end is out of range", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().ListBooksTotals(gomock.Any(), gomock.Any()).Return(30, nil)

		_, err := mS.ListBooks(ctx, book.ListBooksRequest{Page: 4, PageSize: 10})
		is.True(errors.Is(err, book.ErrResponseQueryPageOutOfRange))
	})

	t.Run("invalid page parameters are rejected", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		_, err := mS.ListBooks(ctx, book.ListBooksRequest{Page: 0, PageSize: 10})
		is.True(errors.Is(err, book.ErrResponseQueryPageInvalid))

		_, err = mS.ListBooks(ctx, book.ListBooksRequest{Page: 1, PageSize: book.PageSizeMax + 1})
		is.True(errors.Is(err, book.ErrResponseQueryPageInvalid))
	})

	t.Run("a repository error is a storage failure", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		dbErr := errors.New("connection reset by peer")
		mockRepo.EXPECT().ListBooksTotals(gomock.Any(), gomock.Any()).Return(10, nil)
		mockRepo.EXPECT().ListBooks(gomock.Any(), gomock.Any()).Return(nil, dbErr)

		_, err := mS.ListBooks(ctx, book.ListBooksRequest{Page: 1, PageSize: 10})
		is.True(errors.Is(err, dbErr))
		is.True(book.IsRetryable(err))
	})
}

func TestAuthors(t *testing.T) {
	t.Run("creates an author", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().CreateAuthor(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, a book.Author) (book.Author, error) {
			is.True(a.ID != uuid.Nil)
			is.Equal(a.FullName, "Octavia E. Butler")
			return a, nil
		})

		a, err := mS.CreateAuthor(ctx, book.CreateAuthorRequest{FullName: "Octavia E. Butler"})
		is.NoErr(err)
		is.Equal(a.FullName, "Octavia E. Butler")
	})

	t.Run("a blank name is rejected", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mS := book.NewService(bookmock.NewMockRepository(ctrl), ntfy, notificationsTimeout)

		_, err := mS.CreateAuthor(ctx, book.CreateAuthorRequest{})
		is.True(errors.Is(err, book.ErrResponseAuthorEntryBlankFields))

		_, err = mS.UpdateAuthor(ctx, book.UpdateAuthorRequest{ID: uuid.New()})
		is.True(errors.Is(err, book.ErrResponseAuthorEntryBlankFields))
	})

	t.Run("deleting a missing author should return a not found error", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().DeleteAuthor(gomock.Any(), gomock.Any()).Return(book.ErrResponseAuthorNotFound)

		err := mS.DeleteAuthor(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseAuthorNotFound))
	})
}

func TestMembers(t *testing.T) {
	t.Run("registers a member", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, ntfy, notificationsTimeout)

		mockRepo.EXPECT().CreateMember(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, m book.Member) (book.Member, error) {
			return m, nil
		})

		m, err := mS.CreateMember(ctx, book.CreateMemberRequest{FullName: "Grace"})
		is.NoErr(err)
		is.True(m.ID != uuid.Nil)
		is.Equal(m.FullName, "Grace")
	})

	t.Run("a blank name is rejected", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mS := book.NewService(bookmock.NewMockRepository(ctrl), ntfy, notificationsTimeout)

		_, err := mS.CreateMember(ctx, book.CreateMemberRequest{})
		is.True(errors.Is(err, book.ErrResponseMemberEntryBlankFields))
	})
}

func toPointer[T any](v T) *T {
	return &v
}
