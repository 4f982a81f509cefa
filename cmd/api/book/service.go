package book

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . Repository,Notifier
//go:generate mockgen -destination=mocks/mock_tx.go -package=mocks database/sql/driver Tx

type Repository interface {
	// BeginTx returns a Repository whose calls all run inside the returned transaction.
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Repository, driver.Tx, error)

	BookRepository
	AuthorRepository
	MemberRepository
	LoanRepository
}

type BookRepository interface {
	CreateBook(ctx context.Context, bookEntry Book) (Book, error)
	GetBookByID(ctx context.Context, id uuid.UUID) (Book, error)
	// GetBookForUpdate reads the book and locks it until the end of the transaction.
	GetBookForUpdate(ctx context.Context, id uuid.UUID) (Book, error)
	UpdateBook(ctx context.Context, bookEntry Book) (Book, error)
	SetBookArchiveStatus(ctx context.Context, id uuid.UUID, archived bool) (Book, error)
	// AdjustBookCopies adds delta to copies_available. It fails with ErrResponseBookUnavailable
	// instead of letting the counter go negative.
	AdjustBookCopies(ctx context.Context, id uuid.UUID, delta int) (Book, error)
	ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error)
	ListBooksTotals(ctx context.Context, req ListBooksRequest) (int, error)
}

type AuthorRepository interface {
	CreateAuthor(ctx context.Context, a Author) (Author, error)
	GetAuthorByID(ctx context.Context, id uuid.UUID) (Author, error)
	UpdateAuthor(ctx context.Context, a Author) (Author, error)
	DeleteAuthor(ctx context.Context, id uuid.UUID) error
	ListAuthors(ctx context.Context) ([]Author, error)
}

type MemberRepository interface {
	CreateMember(ctx context.Context, m Member) (Member, error)
	GetMemberByID(ctx context.Context, id uuid.UUID) (Member, error)
	// GetMemberForUpdate reads the member and locks it until the end of the transaction.
	GetMemberForUpdate(ctx context.Context, id uuid.UUID) (Member, error)
	ListMembers(ctx context.Context) ([]Member, error)
}

type LoanRepository interface {
	CreateLoan(ctx context.Context, l Loan) (Loan, error)
	GetLoanByID(ctx context.Context, id uuid.UUID) (Loan, error)
	CountActiveLoans(ctx context.Context, memberID uuid.UUID) (int, error)
	// MarkLoanReturned flips an open loan to returned. A missing or already returned
	// loan yields ErrResponseLoanNotFound.
	MarkLoanReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (Loan, error)
	ListActiveLoansByMember(ctx context.Context, memberID uuid.UUID) ([]Loan, error)
	ListOverdueLoans(ctx context.Context, now time.Time) ([]Loan, error)
}

type Notifier interface {
	BookCreated(ctx context.Context, b Book) error
	LoanOverdue(ctx context.Context, l Loan) error
}

type Service struct {
	repo                 Repository
	ntfy                 Notifier
	notificationsTimeout time.Duration
}

func NewService(repo Repository, ntfy Notifier, notificationsTimeout time.Duration) *Service {
	return &Service{
		repo:                 repo,
		ntfy:                 ntfy,
		notificationsTimeout: notificationsTimeout,
	}
}

func (s *Service) notifyBookCreated(b Book) {
	ctx, cancel := context.WithTimeout(context.Background(), s.notificationsTimeout)
	defer cancel()

	if err := s.ntfy.BookCreated(ctx, b); err != nil {
		slog.Warn("book created notification failed", "book_id", b.ID, "error", err)
	}
}

/*
Sends one notification per open loan whose due date is before now.
Returns how many notifications were delivered.
*/
func (s *Service) NotifyOverdueLoans(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.repo.ListOverdueLoans(ctx, now)
	if err != nil {
		return 0, repoError("ListOverdueLoans", err)
	}

	delivered := 0
	for _, l := range overdue {
		ntfyCtx, cancel := context.WithTimeout(ctx, s.notificationsTimeout)
		err := s.ntfy.LoanOverdue(ntfyCtx, l)
		cancel()
		if err != nil {
			slog.Warn("overdue loan notification failed", "loan_id", l.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}
