package menu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
)

// Library is the part of book.Service the menu drives.
type Library interface {
	CreateBook(ctx context.Context, req book.CreateBookRequest) (book.Book, error)
	ListBooks(ctx context.Context, req book.ListBooksRequest) (book.PagedBooks, error)
	CreateMember(ctx context.Context, req book.CreateMemberRequest) (book.Member, error)
	BorrowBook(ctx context.Context, req book.BorrowRequest) (book.Loan, error)
	ReturnLoan(ctx context.Context, loanID uuid.UUID) (book.Loan, error)
	ListActiveLoans(ctx context.Context, memberID uuid.UUID) ([]book.Loan, error)
}

const dateLayout = "2006-01-02"

var options = []string{
	"1. List books",
	"2. Search books",
	"3. Borrow a book",
	"4. Return a loan",
	"5. My active loans",
	"6. Add member",
	"7. Add book",
	"0. Quit",
}

type Menu struct {
	lib           Library
	sc            *bufio.Scanner
	out           io.Writer
	retryAttempts int
}

func New(lib Library, in io.Reader, out io.Writer, retryAttempts int) *Menu {
	return &Menu{
		lib:           lib,
		sc:            bufio.NewScanner(in),
		out:           out,
		retryAttempts: retryAttempts,
	}
}

/*
Runs the interactive loop until the user quits or the input ends. Failed operations
are reported to the user and the loop goes on; only a read error ends it with an error.
*/
func (m *Menu) Run(ctx context.Context) error {
	fmt.Fprintln(m.out, "Welcome to the library!")
	for {
		fmt.Fprintln(m.out)
		for _, o := range options {
			fmt.Fprintln(m.out, o)
		}

		choice, ok := m.prompt("> ")
		if !ok {
			return m.sc.Err()
		}

		var err error
		switch choice {
		case "1":
			err = m.ListBooks(ctx, "", "")
		case "2":
			err = m.searchBooks(ctx)
		case "3":
			err = m.borrow(ctx)
		case "4":
			err = m.returnLoan(ctx)
		case "5":
			err = m.activeLoans(ctx)
		case "6":
			err = m.addMember(ctx)
		case "7":
			err = m.addBook(ctx)
		case "0", "q", "quit":
			fmt.Fprintln(m.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(m.out, "Unknown option. Choose one of the numbers listed above.")
			continue
		}
		if err != nil {
			fmt.Fprintf(m.out, "Error: %s\n", describe(err))
		}
	}
}

/* Writes the label and reads one trimmed line. ok is false once the input ends. */
func (m *Menu) prompt(label string) (line string, ok bool) {
	fmt.Fprint(m.out, label)
	if !m.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(m.sc.Text()), true
}

var errInputClosed = errors.New("input closed")

func (m *Menu) promptID(label string) (uuid.UUID, error) {
	line, ok := m.prompt(label)
	if !ok {
		return uuid.Nil, errInputClosed
	}
	id, err := uuid.Parse(line)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a valid id", line)
	}
	return id, nil
}

// ListBooks prints every book matching the title and category filters, page by page.
func (m *Menu) ListBooks(ctx context.Context, title, category string) error {
	req := book.ListBooksRequest{
		Title:         title,
		Category:      category,
		SortBy:        "title",
		SortDirection: "asc",
		Page:          1,
		PageSize:      book.PageSizeMax,
	}

	printed := 0
	for {
		page, err := m.lib.ListBooks(ctx, req)
		if err != nil {
			return err
		}
		for _, b := range page.Results {
			fmt.Fprintf(m.out, "%s  %-40s %-15s copies: %d\n", b.ID, b.Title, b.Category, b.CopiesAvailable)
			printed++
		}
		if page.PageCurrent >= page.PageTotal {
			break
		}
		req.Page++
	}

	if printed == 0 {
		fmt.Fprintln(m.out, "No books found.")
	}
	return nil
}

func (m *Menu) searchBooks(ctx context.Context) error {
	title, ok := m.prompt("Title contains: ")
	if !ok {
		return errInputClosed
	}
	category, ok := m.prompt("Category (empty for any): ")
	if !ok {
		return errInputClosed
	}
	return m.ListBooks(ctx, title, category)
}

// Borrow lends the book to the member and prints the new loan.
func (m *Menu) Borrow(ctx context.Context, memberID, bookID uuid.UUID) error {
	var loan book.Loan
	err := book.RetryOnStorageFailure(ctx, m.retryAttempts, func(ctx context.Context) (err error) {
		loan, err = m.lib.BorrowBook(ctx, book.BorrowRequest{MemberID: memberID, BookID: bookID})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Borrowed. Loan %s is due on %s.\n", loan.ID, loan.DueAt.Format(dateLayout))
	return nil
}

func (m *Menu) borrow(ctx context.Context) error {
	memberID, err := m.promptID("Member ID: ")
	if err != nil {
		return err
	}
	bookID, err := m.promptID("Book ID: ")
	if err != nil {
		return err
	}
	return m.Borrow(ctx, memberID, bookID)
}

// Return closes the loan and prints when it was returned.
func (m *Menu) Return(ctx context.Context, loanID uuid.UUID) error {
	var loan book.Loan
	err := book.RetryOnStorageFailure(ctx, m.retryAttempts, func(ctx context.Context) (err error) {
		loan, err = m.lib.ReturnLoan(ctx, loanID)
		return err
	})
	if err != nil {
		return err
	}

	late := ""
	if loan.ReturnedAt != nil && loan.ReturnedAt.After(loan.DueAt) {
		late = " (late)"
	}
	fmt.Fprintf(m.out, "Returned loan %s%s.\n", loan.ID, late)
	return nil
}

func (m *Menu) returnLoan(ctx context.Context) error {
	loanID, err := m.promptID("Loan ID: ")
	if err != nil {
		return err
	}
	return m.Return(ctx, loanID)
}

func (m *Menu) activeLoans(ctx context.Context) error {
	memberID, err := m.promptID("Member ID: ")
	if err != nil {
		return err
	}

	loans, err := m.lib.ListActiveLoans(ctx, memberID)
	if err != nil {
		return err
	}
	if len(loans) == 0 {
		fmt.Fprintln(m.out, "No active loans.")
		return nil
	}
	for _, l := range loans {
		fmt.Fprintf(m.out, "%s  book %s  due %s\n", l.ID, l.BookID, l.DueAt.Format(dateLayout))
	}
	return nil
}

func (m *Menu) addMember(ctx context.Context) error {
	name, ok := m.prompt("Full name: ")
	if !ok {
		return errInputClosed
	}

	member, err := m.lib.CreateMember(ctx, book.CreateMemberRequest{FullName: name})
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Added member '%s' with ID %s\n", member.FullName, member.ID)
	return nil
}

func (m *Menu) addBook(ctx context.Context) error {
	title, ok := m.prompt("Title: ")
	if !ok {
		return errInputClosed
	}
	category, ok := m.prompt("Category: ")
	if !ok {
		return errInputClosed
	}
	isbn, ok := m.prompt("ISBN: ")
	if !ok {
		return errInputClosed
	}
	copiesStr, ok := m.prompt("Copies: ")
	if !ok {
		return errInputClosed
	}
	copies, err := strconv.Atoi(copiesStr)
	if err != nil {
		return fmt.Errorf("%q is not a number of copies", copiesStr)
	}

	b, err := m.lib.CreateBook(ctx, book.CreateBookRequest{
		Title:           title,
		Category:        category,
		ISBN:            isbn,
		CopiesAvailable: &copies,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Added book '%s' with ID %s\n", b.Title, b.ID)
	return nil
}

/* Keeps the user-facing message of business errors and drops the wrapping. */
func describe(err error) string {
	var errR book.ErrResponse
	if errors.As(err, &errR) {
		return errR.Message
	}
	return err.Error()
}
